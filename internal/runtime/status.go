package runtime

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/drblury/datumflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
	"github.com/drblury/datumflow/internal/runtime/stats"
)

// Status is a point-in-time view of a DatumQueue.
type Status struct {
	Name              string         `json:"name,omitempty"`
	State             string         `json:"state"`
	WorkerID          string         `json:"worker_id,omitempty"`
	Restarts          int64          `json:"restarts"`
	QueueLength       int            `json:"queue_length"`
	Consumers         int            `json:"consumers"`
	PendingDeliveries int            `json:"pending_deliveries"`
	Stats             stats.Snapshot `json:"stats"`
	// Averages are nil until something was processed or persisted.
	AvgProcessingMs *int64        `json:"avg_processing_ms"`
	AvgPersistingMs *int64        `json:"avg_persisting_ms"`
	Resources       ResourceUsage `json:"resources"`
}

// Status collects the current status of the queue.
func (q *DatumQueue) Status() Status {
	snap := q.stats.Snapshot()
	status := Status{
		Name:              q.opts.Name,
		State:             q.State().String(),
		WorkerID:          q.WorkerID(),
		Restarts:          q.Restarts(),
		QueueLength:       q.queue.Len(),
		Consumers:         len(q.consumers.snapshot()),
		PendingDeliveries: q.consumers.pending(),
		Stats:             snap,
		Resources:         q.resources.Sample(),
	}
	if avg, ok := snap.AvgProcessingMs(); ok {
		status.AvgProcessingMs = &avg
	}
	if avg, ok := snap.AvgPersistingMs(); ok {
		status.AvgPersistingMs = &avg
	}
	return status
}

// StatusMessage summarises the counters in one human readable line.
func (q *DatumQueue) StatusMessage() string {
	return formatStatusMessage(q.stats.Snapshot())
}

func formatStatusMessage(s stats.Snapshot) string {
	avgProcessing, avgPersisting := "-", "-"
	if avg, ok := s.AvgProcessingMs(); ok {
		avgProcessing = fmt.Sprintf("%dms", avg)
	}
	if avg, ok := s.AvgPersistingMs(); ok {
		avgPersisting = fmt.Sprintf("%dms", avg)
	}
	return fmt.Sprintf(
		"Added %d, captured %d; processed %d (%s total, %s avg), duplicates %d, filtered %d; persisted %d (%s total, %s avg); errors %d",
		s.Added, s.Captured,
		s.Processed, formatHoursMinutesSeconds(s.ProcessingTimeTotal), avgProcessing,
		s.Duplicates, s.Filtered,
		s.Persisted, formatHoursMinutesSeconds(s.PersistingTimeTotal), avgPersisting,
		s.Errors,
	)
}

func formatHoursMinutesSeconds(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int64(d / time.Hour)
	m := int64(d % time.Hour / time.Minute)
	sec := int64(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
}

// NewStatusHandler serves the queue status as JSON. Origins listed in
// allowedOrigins ("*" for any) may read it cross-origin.
func NewStatusHandler(q *DatumQueue, allowedOrigins []string, log loggingpkg.ServiceLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if origin := allowedCORSOrigin(allowedOrigins, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet, http.MethodHead:
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		body := struct {
			Status
			Message string `json:"message"`
		}{Status: q.Status(), Message: q.StatusMessage()}

		if err := jsoncodec.Encode(w, body); err != nil {
			log.Error("Failed to encode queue status", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

func allowedCORSOrigin(allowed []string, requestOrigin string) string {
	for _, origin := range allowed {
		if origin == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(origin, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
