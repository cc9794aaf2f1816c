package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drblury/datumflow/internal/runtime/datum"
	"github.com/drblury/datumflow/internal/runtime/delayqueue"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
)

var errBoom = errors.New("boom")

// baseTime is millisecond aligned so effective times compare exactly.
var baseTime = time.UnixMilli(1_700_000_000_000)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// inlineRunner runs consumer deliveries on the calling goroutine.
var inlineRunner = TaskRunnerFunc(func(task func()) { task() })

// newTestQueue builds a queue on a manual clock with inline deliveries.
func newTestQueue(t *testing.T, opts QueueOptions, deps QueueDependencies) (*DatumQueue, *delayqueue.ManualClock) {
	t.Helper()
	clock := delayqueue.NewManualClock(baseTime)
	if deps.Clock == nil {
		deps.Clock = clock
	}
	if deps.TaskRunner == nil {
		deps.TaskRunner = inlineRunner
	}
	if opts.TakeTimeout == 0 {
		opts.TakeTimeout = 20 * time.Millisecond
	}
	q, err := NewDatumQueue(opts, newTestLogger(), deps)
	require.NoError(t, err)
	return q, clock
}

// cycle runs one reconcile and pipeline cycle like the worker does.
func cycle(t *testing.T, q *DatumQueue) error {
	t.Helper()
	batch, err := q.takeBatch(context.Background())
	require.NoError(t, err)
	if len(batch) == 0 {
		return nil
	}
	return q.processBatch(context.Background(), "test-worker", batch)
}

func nodeDatum(source string, ts time.Time, watts float64) *datum.SimpleDatum {
	return datum.NewNodeDatum(source, ts, datum.NewSamples().PutInstantaneous("watts", watts))
}

type recordingStore struct {
	mu     sync.Mutex
	stored []datum.Datum
	err    error
	panic  bool
}

func (s *recordingStore) StoreDatum(_ context.Context, d datum.Datum) error {
	if s.panic {
		panic("store exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, d)
	return nil
}

func (s *recordingStore) Stored() []datum.Datum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]datum.Datum(nil), s.stored...)
}

type recordingConsumer struct {
	mu       sync.Mutex
	accepted []datum.Datum
	err      error
	panic    bool
	block    chan struct{}
	received chan datum.Datum
}

func newRecordingConsumer() *recordingConsumer {
	return &recordingConsumer{received: make(chan datum.Datum, 64)}
}

func (c *recordingConsumer) AcceptDatum(_ context.Context, d datum.Datum) error {
	if c.block != nil {
		<-c.block
	}
	if c.panic {
		panic("consumer exploded")
	}
	c.mu.Lock()
	c.accepted = append(c.accepted, d)
	c.mu.Unlock()
	if c.received != nil {
		c.received <- d
	}
	return c.err
}

func (c *recordingConsumer) Accepted() []datum.Datum {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]datum.Datum(nil), c.accepted...)
}

func (c *recordingConsumer) waitFor(t *testing.T, n int) []datum.Datum {
	t.Helper()
	var got []datum.Datum
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case d := <-c.received:
			got = append(got, d)
		case <-deadline:
			t.Fatalf("received %d of %d datum", len(got), n)
		}
	}
	return got
}
