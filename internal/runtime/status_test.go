package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/datumflow/internal/runtime/datum"
	"github.com/drblury/datumflow/internal/runtime/jsoncodec"
	"github.com/drblury/datumflow/internal/runtime/stats"
)

func TestFormatHoursMinutesSeconds(t *testing.T) {
	assert.Equal(t, "0:00:00", formatHoursMinutesSeconds(0))
	assert.Equal(t, "0:00:01", formatHoursMinutesSeconds(1_500))
	assert.Equal(t, "1:01:01", formatHoursMinutesSeconds(3_661_000))
	assert.Equal(t, "27:00:00", formatHoursMinutesSeconds(27*3_600_000))
}

func TestFormatStatusMessage(t *testing.T) {
	empty := formatStatusMessage(stats.Snapshot{Added: 2, Captured: 1})
	assert.Equal(t, "Added 2, captured 1; processed 0 (0:00:00 total, - avg), duplicates 0, filtered 0; persisted 0 (0:00:00 total, - avg); errors 0", empty)

	busy := formatStatusMessage(stats.Snapshot{
		Processed:           4,
		ProcessingTimeTotal: 8_000,
		Persisted:           2,
		PersistingTimeTotal: 61_000,
		Errors:              1,
	})
	assert.Contains(t, busy, "processed 4 (0:00:08 total, 2000ms avg)")
	assert.Contains(t, busy, "persisted 2 (0:01:01 total, 30500ms avg)")
	assert.Contains(t, busy, "errors 1")
}

func TestDatumQueue_Status(t *testing.T) {
	q, _ := newTestQueue(t, QueueOptions{Name: "main"}, QueueDependencies{
		Stores: StaticStores{datum.KindNode: &recordingStore{}},
	})
	q.AddConsumer(newRecordingConsumer())

	status := q.Status()
	assert.Equal(t, "main", status.Name)
	assert.Equal(t, "stopped", status.State)
	assert.Nil(t, status.AvgProcessingMs)
	assert.Nil(t, status.AvgPersistingMs)

	q.Offer(nodeDatum("a", baseTime, 1))
	q.Offer(nodeDatum("b", baseTime.Add(-2*time.Second), 1))
	assert.Equal(t, 2, q.Status().QueueLength)

	require.NoError(t, cycle(t, q))
	status = q.Status()
	assert.Equal(t, 1, status.QueueLength)
	assert.Equal(t, 1, status.Consumers)
	assert.Equal(t, int64(1), status.Stats.Processed)
	assert.NotNil(t, status.AvgProcessingMs)
	assert.NotNil(t, status.AvgPersistingMs)
	assert.Contains(t, q.StatusMessage(), "processed 1")
}

func TestStatusHandler(t *testing.T) {
	q, _ := newTestQueue(t, QueueOptions{Name: "main"}, QueueDependencies{})
	handler := NewStatusHandler(q, []string{"https://ui.example.com"}, newTestLogger())

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Origin", "https://ui.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

		var body map[string]any
		require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "main", body["name"])
		assert.Equal(t, "stopped", body["state"])
		assert.Contains(t, body["message"], "Added 0")
		assert.Nil(t, body["avg_processing_ms"])
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Origin", "https://elsewhere.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/status", nil)
		req.Header.Set("Origin", "https://ui.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("post", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, "GET, HEAD, OPTIONS", rec.Header().Get("Allow"))
	})
}

func TestAllowedCORSOrigin(t *testing.T) {
	assert.Equal(t, "*", allowedCORSOrigin([]string{"*"}, ""))
	assert.Equal(t, "https://A.example", allowedCORSOrigin([]string{"https://a.example"}, "https://A.example"))
	assert.Empty(t, allowedCORSOrigin([]string{"https://a.example"}, ""))
	assert.Empty(t, allowedCORSOrigin(nil, "https://a.example"))
}
