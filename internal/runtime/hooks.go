package runtime

import (
	"github.com/drblury/datumflow/internal/runtime/datum"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
)

// ProcessStage names the point in the pipeline a datum hook observes.
type ProcessStage string

const (
	// StagePreFilter runs before the transform, for every non-duplicate datum.
	StagePreFilter ProcessStage = "pre_filter"
	// StagePostFilter runs after the transform, only for datum that were not filtered.
	StagePostFilter ProcessStage = "post_filter"
)

// ProcessHooks observe the datum queue. All hooks are optional. Hooks run on
// the worker goroutine; a panicking hook is counted as an error and ignored.
type ProcessHooks struct {
	// OnPreFilter receives each datum that survived duplicate detection.
	OnPreFilter func(d datum.Datum, persist bool)

	// OnPostFilter receives each datum accepted by the transform, with its
	// possibly replaced samples.
	OnPostFilter func(d datum.Datum, persist bool)

	// OnWorkerStart is called when a worker enters its processing loop.
	OnWorkerStart func(workerID string)

	// OnWorkerExit is called when a worker leaves its loop. err is nil on a
	// clean shutdown. It must not call Shutdown or Startup.
	OnWorkerExit func(workerID string, err error)
}

// Merge combines two ProcessHooks. The hooks from other are called after
// the hooks from h.
func (h ProcessHooks) Merge(other ProcessHooks) ProcessHooks {
	return ProcessHooks{
		OnPreFilter:   chainDatumHooks(h.OnPreFilter, other.OnPreFilter),
		OnPostFilter:  chainDatumHooks(h.OnPostFilter, other.OnPostFilter),
		OnWorkerStart: chainStartHooks(h.OnWorkerStart, other.OnWorkerStart),
		OnWorkerExit:  chainExitHooks(h.OnWorkerExit, other.OnWorkerExit),
	}
}

func chainDatumHooks(a, b func(datum.Datum, bool)) func(datum.Datum, bool) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(d datum.Datum, persist bool) {
		a(d, persist)
		b(d, persist)
	}
}

func chainStartHooks(a, b func(string)) func(string) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(id string) {
		a(id)
		b(id)
	}
}

func chainExitHooks(a, b func(string, error)) func(string, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(id string, err error) {
		a(id, err)
		b(id, err)
	}
}

// LoggingHooks returns hooks that trace each datum and log worker lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) ProcessHooks {
	datumFields := func(stage ProcessStage, d datum.Datum, persist bool) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"stage":     stage,
			"source_id": d.SourceID(),
			"kind":      d.Kind().String(),
			"persist":   persist,
		}
	}
	return ProcessHooks{
		OnPreFilter: func(d datum.Datum, persist bool) {
			logger.Trace("Datum queued for processing", datumFields(StagePreFilter, d, persist))
		},
		OnPostFilter: func(d datum.Datum, persist bool) {
			logger.Trace("Datum accepted", datumFields(StagePostFilter, d, persist))
		},
		OnWorkerStart: func(workerID string) {
			logger.Info("Datum queue worker started", loggingpkg.LogFields{"worker_id": workerID})
		},
		OnWorkerExit: func(workerID string, err error) {
			if err != nil {
				logger.Error("Datum queue worker failed", err, loggingpkg.LogFields{"worker_id": workerID})
				return
			}
			logger.Info("Datum queue worker finished", loggingpkg.LogFields{"worker_id": workerID})
		},
	}
}

// CountingHooks reports every observed datum to the given callbacks, e.g. to
// feed an external metrics system.
func CountingHooks(onPreFilter, onPostFilter func(kind datum.Kind, persist bool)) ProcessHooks {
	hooks := ProcessHooks{}
	if onPreFilter != nil {
		hooks.OnPreFilter = func(d datum.Datum, persist bool) { onPreFilter(d.Kind(), persist) }
	}
	if onPostFilter != nil {
		hooks.OnPostFilter = func(d datum.Datum, persist bool) { onPostFilter(d.Kind(), persist) }
	}
	return hooks
}

// AlertingHooks returns hooks that call alertFunc whenever a worker fails.
func AlertingHooks(alertFunc func(workerID string, err error)) ProcessHooks {
	return ProcessHooks{
		OnWorkerExit: func(workerID string, err error) {
			if err != nil {
				alertFunc(workerID, err)
			}
		},
	}
}
