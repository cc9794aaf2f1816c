package runtime

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	"github.com/drblury/datumflow/internal/runtime/datum"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
	"github.com/drblury/datumflow/internal/runtime/stats"
)

// Consumer receives every datum that made it through the pipeline.
type Consumer interface {
	AcceptDatum(ctx context.Context, d datum.Datum) error
}

type consumerFunc struct {
	fn func(ctx context.Context, d datum.Datum) error
}

func (c *consumerFunc) AcceptDatum(ctx context.Context, d datum.Datum) error {
	return c.fn(ctx, d)
}

// ConsumerFunc adapts a function to Consumer. Each call returns a distinct
// handle, so keep it around to remove the consumer later.
func ConsumerFunc(fn func(ctx context.Context, d datum.Datum) error) Consumer {
	return &consumerFunc{fn: fn}
}

// mailbox buffers deliveries for one consumer so it sees datum in queue
// order while consumers run independently of each other.
type mailbox struct {
	consumer Consumer

	mu       sync.Mutex
	pending  *queue.Queue
	draining bool
	closed   bool
}

type delivery struct {
	ctx context.Context
	d   datum.Datum
}

type consumerRegistry struct {
	mu        sync.RWMutex
	mailboxes []*mailbox
	// retired holds removed mailboxes whose drain is still running. Re-adding
	// the consumer reuses it so the consumer is never drained twice at once.
	retired map[Consumer]*mailbox

	runner TaskRunner
	stats  *stats.Counters
	log    loggingpkg.ServiceLogger
}

func newConsumerRegistry(runner TaskRunner, counters *stats.Counters, log loggingpkg.ServiceLogger) *consumerRegistry {
	return &consumerRegistry{runner: runner, stats: counters, log: log, retired: make(map[Consumer]*mailbox)}
}

func (r *consumerRegistry) add(c Consumer) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, mb := range r.mailboxes {
		if mb.consumer == c {
			return false
		}
	}
	if mb, ok := r.retired[c]; ok {
		delete(r.retired, c)
		mb.mu.Lock()
		mb.closed = false
		mb.mu.Unlock()
		r.mailboxes = append(r.mailboxes, mb)
		return true
	}
	r.mailboxes = append(r.mailboxes, &mailbox{consumer: c, pending: queue.New()})
	return true
}

// remove drops c and any deliveries still pending for it.
func (r *consumerRegistry) remove(c Consumer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, mb := range r.mailboxes {
		if mb.consumer != c {
			continue
		}
		mb.mu.Lock()
		mb.closed = true
		mb.pending = queue.New()
		if mb.draining {
			r.retired[c] = mb
		}
		mb.mu.Unlock()
		r.mailboxes = append(r.mailboxes[:i:i], r.mailboxes[i+1:]...)
		return true
	}
	return false
}

func (r *consumerRegistry) snapshot() []Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Consumer, len(r.mailboxes))
	for i, mb := range r.mailboxes {
		out[i] = mb.consumer
	}
	return out
}

func (r *consumerRegistry) pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, mb := range r.mailboxes {
		mb.mu.Lock()
		total += mb.pending.Length()
		mb.mu.Unlock()
	}
	return total
}

// deliver hands d to every registered consumer without waiting for them.
func (r *consumerRegistry) deliver(ctx context.Context, d datum.Datum) {
	r.mu.RLock()
	targets := make([]*mailbox, len(r.mailboxes))
	copy(targets, r.mailboxes)
	r.mu.RUnlock()

	for _, mb := range targets {
		mb.mu.Lock()
		if mb.closed {
			mb.mu.Unlock()
			continue
		}
		mb.pending.Add(delivery{ctx: ctx, d: d})
		start := !mb.draining
		mb.draining = true
		mb.mu.Unlock()

		if start {
			r.runner.Go(func() { r.drain(mb) })
		}
	}
}

func (r *consumerRegistry) drain(mb *mailbox) {
	for {
		mb.mu.Lock()
		if mb.closed || mb.pending.Length() == 0 {
			mb.draining = false
			closed := mb.closed
			mb.mu.Unlock()
			if closed {
				r.forgetRetired(mb)
			}
			return
		}
		next := mb.pending.Remove().(delivery)
		mb.mu.Unlock()

		err := errspkg.Recover(func() error {
			return mb.consumer.AcceptDatum(next.ctx, next.d)
		})
		if err != nil {
			r.stats.Increment(stats.Errors)
			r.log.Error("Consumer error on datum; discarding", err, loggingpkg.LogFields{
				"source_id": next.d.SourceID(),
				"timestamp": next.d.Timestamp(),
			})
		}
	}
}

// forgetRetired drops mb from retired once its drain ended while removed.
func (r *consumerRegistry) forgetRetired(mb *mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired[mb.consumer] != mb {
		return
	}
	mb.mu.Lock()
	idle := mb.closed && !mb.draining
	mb.mu.Unlock()
	if idle {
		delete(r.retired, mb.consumer)
	}
}
