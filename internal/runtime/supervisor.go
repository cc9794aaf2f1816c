package runtime

import (
	"context"
	"time"

	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	"github.com/drblury/datumflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
	"github.com/drblury/datumflow/internal/runtime/stats"
)

// WorkerState is the lifecycle state of the queue worker.
type WorkerState int32

const (
	StateStopped WorkerState = iota
	StateStarting
	StateRunning
	StateCrashed
)

func (s WorkerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// State returns the current worker state.
func (q *DatumQueue) State() WorkerState {
	return WorkerState(q.state.Load())
}

// WorkerID returns the id of the current or last worker, "" before the first start.
func (q *DatumQueue) WorkerID() string {
	if id := q.workerID.Load(); id != nil {
		return *id
	}
	return ""
}

// Restarts counts workers replaced after a failure.
func (q *DatumQueue) Restarts() int64 {
	return q.restarts.Load()
}

func (q *DatumQueue) setState(s WorkerState) {
	q.state.Store(int32(s))
}

// Startup starts processing, stopping a running worker first. The configured
// startup delay is only waited on the very first call.
func (q *DatumQueue) Startup() {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	q.stopLocked()

	var delay time.Duration
	if q.started.CompareAndSwap(false, true) {
		delay = q.opts.StartupDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	q.cancel = cancel
	q.done = done
	q.setState(StateStarting)

	go q.supervise(ctx, done, delay)
}

// Shutdown stops the worker and waits for it to exit. Undrained datum stay
// queued and are processed only if Startup is called again.
func (q *DatumQueue) Shutdown() {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()
	q.stopLocked()
}

func (q *DatumQueue) stopLocked() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	<-q.done
	q.cancel = nil
	q.done = nil
}

// supervise runs one worker at a time until ctx ends, replacing workers that
// fail. Workers run on this goroutine, so at most one is ever active.
func (q *DatumQueue) supervise(ctx context.Context, done chan struct{}, delay time.Duration) {
	defer close(done)
	defer q.setState(StateStopped)

	if delay > 0 {
		q.log.Info("Waiting before starting datum queue worker", loggingpkg.LogFields{"delay": delay.String()})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	for {
		workerID := ids.CreateULID()
		q.workerID.Store(&workerID)
		q.setState(StateRunning)
		q.log.Info("Starting datum queue worker", loggingpkg.LogFields{"worker_id": workerID})
		if q.hooks.OnWorkerStart != nil {
			q.callWorkerHook("start", func() { q.hooks.OnWorkerStart(workerID) })
		}

		err := q.runWorker(ctx, workerID)
		if ctx.Err() != nil {
			q.log.Info("Finished datum queue worker", loggingpkg.LogFields{"worker_id": workerID})
			if q.hooks.OnWorkerExit != nil {
				q.callWorkerHook("exit", func() { q.hooks.OnWorkerExit(workerID, nil) })
			}
			return
		}

		q.setState(StateCrashed)
		q.restarts.Add(1)
		q.log.Error("Datum queue worker crashed; starting a new one", err, loggingpkg.LogFields{"worker_id": workerID})
		if q.hooks.OnWorkerExit != nil {
			q.callWorkerHook("exit", func() { q.hooks.OnWorkerExit(workerID, err) })
		}
		if q.onError != nil {
			go q.onError(workerID, err)
		}
	}
}

// runWorker loops reconcile and pipeline cycles until ctx ends or a cycle fails.
func (q *DatumQueue) runWorker(ctx context.Context, workerID string) error {
	return errspkg.Recover(func() error {
		for {
			batch, err := q.takeBatch(ctx)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				continue
			}
			if err := q.processBatch(ctx, workerID, batch); err != nil {
				return err
			}
		}
	})
}

func (q *DatumQueue) callWorkerHook(name string, fn func()) {
	err := errspkg.Recover(func() error {
		fn()
		return nil
	})
	if err != nil {
		q.stats.Increment(stats.Errors)
		q.log.Error("Worker hook failed; ignoring", err, loggingpkg.LogFields{"hook": name})
	}
}
