package runtime

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/datumflow/internal/runtime/datum"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
)

func TestProcessHooks_Merge(t *testing.T) {
	var order []string
	first := ProcessHooks{
		OnPreFilter:   func(datum.Datum, bool) { order = append(order, "first.pre") },
		OnPostFilter:  func(datum.Datum, bool) { order = append(order, "first.post") },
		OnWorkerStart: func(string) { order = append(order, "first.start") },
		OnWorkerExit:  func(string, error) { order = append(order, "first.exit") },
	}
	second := ProcessHooks{
		OnPreFilter:   func(datum.Datum, bool) { order = append(order, "second.pre") },
		OnPostFilter:  func(datum.Datum, bool) { order = append(order, "second.post") },
		OnWorkerStart: func(string) { order = append(order, "second.start") },
		OnWorkerExit:  func(string, error) { order = append(order, "second.exit") },
	}

	merged := first.Merge(second)
	d := nodeDatum("a", baseTime, 1)
	merged.OnPreFilter(d, true)
	merged.OnPostFilter(d, true)
	merged.OnWorkerStart("w")
	merged.OnWorkerExit("w", nil)

	assert.Equal(t, []string{
		"first.pre", "second.pre",
		"first.post", "second.post",
		"first.start", "second.start",
		"first.exit", "second.exit",
	}, order)
}

func TestProcessHooks_MergePartial(t *testing.T) {
	var calls int
	only := ProcessHooks{OnPreFilter: func(datum.Datum, bool) { calls++ }}

	merged := ProcessHooks{}.Merge(only)
	assert.Nil(t, merged.OnPostFilter)
	assert.Nil(t, merged.OnWorkerStart)
	assert.Nil(t, merged.OnWorkerExit)

	merged.OnPreFilter(nodeDatum("a", baseTime, 1), false)
	only.Merge(ProcessHooks{}).OnPreFilter(nodeDatum("a", baseTime, 1), false)
	assert.Equal(t, 2, calls)
}

type hooksTestLogger struct {
	loggingpkg.ServiceLogger

	mu     sync.Mutex
	traces []string
	infos  []string
	errors []string
}

func newHooksTestLogger() *hooksTestLogger {
	return &hooksTestLogger{ServiceLogger: loggingpkg.NewNopServiceLogger()}
}

func (l *hooksTestLogger) Trace(msg string, _ loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.traces = append(l.traces, msg)
}

func (l *hooksTestLogger) Info(msg string, _ loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *hooksTestLogger) Error(msg string, _ error, _ loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func TestLoggingHooks(t *testing.T) {
	logger := newHooksTestLogger()
	hooks := LoggingHooks(logger)

	d := nodeDatum("a", baseTime, 1)
	hooks.OnPreFilter(d, true)
	hooks.OnPostFilter(d, true)
	hooks.OnWorkerStart("w1")
	hooks.OnWorkerExit("w1", nil)
	hooks.OnWorkerExit("w2", errors.New("crashed"))

	assert.Equal(t, []string{"Datum queued for processing", "Datum accepted"}, logger.traces)
	assert.Equal(t, []string{"Datum queue worker started", "Datum queue worker finished"}, logger.infos)
	assert.Equal(t, []string{"Datum queue worker failed"}, logger.errors)
}

func TestCountingHooks(t *testing.T) {
	counts := map[string]int{}
	hooks := CountingHooks(
		func(kind datum.Kind, persist bool) {
			if persist {
				counts["pre."+kind.String()]++
			}
		},
		func(kind datum.Kind, _ bool) { counts["post."+kind.String()]++ },
	)

	hooks.OnPreFilter(nodeDatum("a", baseTime, 1), true)
	hooks.OnPreFilter(nodeDatum("a", baseTime, 1), false)
	hooks.OnPostFilter(datum.NewLocationDatum("site", "a", baseTime, nil), false)

	assert.Equal(t, 1, counts["pre."+datum.KindNode.String()])
	assert.Equal(t, 1, counts["post."+datum.KindLocation.String()])

	empty := CountingHooks(nil, nil)
	assert.Nil(t, empty.OnPreFilter)
	assert.Nil(t, empty.OnPostFilter)
}

func TestAlertingHooks(t *testing.T) {
	var alerted []string
	hooks := AlertingHooks(func(workerID string, err error) {
		alerted = append(alerted, workerID+": "+err.Error())
	})

	hooks.OnWorkerExit("w1", nil)
	hooks.OnWorkerExit("w2", errBoom)

	assert.Equal(t, []string{"w2: boom"}, alerted)
	assert.Nil(t, hooks.OnPreFilter)
}

func TestHooksWiredIntoQueue(t *testing.T) {
	var pre, post []bool
	q, _ := newTestQueue(t, QueueOptions{}, QueueDependencies{
		Hooks: CountingHooks(
			func(_ datum.Kind, persist bool) { pre = append(pre, persist) },
			func(_ datum.Kind, persist bool) { post = append(post, persist) },
		),
	})

	q.Offer(nodeDatum("a", baseTime, 1))
	q.OfferWith(nodeDatum("b", baseTime, 1), false)
	assert.NoError(t, cycle(t, q))

	assert.Equal(t, []bool{true, false}, pre)
	assert.Equal(t, []bool{true, false}, post)
}
