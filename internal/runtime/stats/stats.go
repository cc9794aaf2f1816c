// Package stats holds the per-queue counters and their Prometheus mirror.
package stats

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stat names one counter.
type Stat int

const (
	Added Stat = iota
	Captured
	Processed
	Duplicates
	Filtered
	Persisted
	Errors
	// ProcessingTimeTotal accumulates milliseconds spent processing batches.
	ProcessingTimeTotal
	// PersistingTimeTotal accumulates milliseconds spent persisting datum.
	PersistingTimeTotal

	statCount
)

var statNames = [statCount]string{
	"added",
	"captured",
	"processed",
	"duplicates",
	"filtered",
	"persisted",
	"errors",
	"processing_ms",
	"persisting_ms",
}

var statDescriptions = [statCount]string{
	"added datum",
	"captured datum",
	"processed",
	"duplicates",
	"filtered",
	"persisted",
	"errors",
	"processing ms",
	"persisting ms",
}

func (s Stat) String() string {
	if s < 0 || s >= statCount {
		return "unknown"
	}
	return statNames[s]
}

// Description is the human readable label used in log lines.
func (s Stat) Description() string {
	if s < 0 || s >= statCount {
		return "unknown"
	}
	return statDescriptions[s]
}

// All returns every stat in declaration order.
func All() []Stat {
	out := make([]Stat, statCount)
	for i := range out {
		out[i] = Stat(i)
	}
	return out
}

// Counters is a fixed set of atomic counters owned by one queue. Updates
// never take a lock; the Prometheus mirror is updated alongside.
type Counters struct {
	values [statCount]atomic.Int64

	events atomic.Pointer[prometheus.CounterVec]

	mu         sync.Mutex
	registered bool
}

// New creates counters. name becomes the "queue" const label of the
// Prometheus mirror so several queues can share a registry.
func New(name string) *Counters {
	if name == "" {
		name = "default"
	}
	c := &Counters{}
	c.events.Store(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "datumflow",
			Subsystem:   "queue",
			Name:        "events_total",
			Help:        "Datum queue counters by stat; time stats are in milliseconds",
			ConstLabels: prometheus.Labels{"queue": name},
		},
		[]string{"stat"},
	))
	return c
}

// Register registers the Prometheus mirror. Safe to call multiple times; an
// equal collector already present in the registry is adopted.
func (c *Counters) Register(registerer prometheus.Registerer) error {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}
	if err := registerer.Register(c.events.Load()); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
			c.events.Store(existing)
		}
	}
	c.registered = true
	return nil
}

// Collector exposes the Prometheus mirror, e.g. for custom registries.
func (c *Counters) Collector() prometheus.Collector {
	return c.events.Load()
}

// Increment adds one to s and returns the new value.
func (c *Counters) Increment(s Stat) int64 {
	return c.Add(s, 1)
}

// Add adds n to s and returns the new value.
func (c *Counters) Add(s Stat, n int64) int64 {
	v := c.values[s].Add(n)
	if n > 0 {
		c.events.Load().WithLabelValues(statNames[s]).Add(float64(n))
	}
	return v
}

func (c *Counters) Get(s Stat) int64 {
	return c.values[s].Load()
}

// Reset zeroes every counter. The Prometheus mirror is monotonic and is left alone.
func (c *Counters) Reset() {
	for i := range c.values {
		c.values[i].Store(0)
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Added               int64     `json:"added"`
	Captured            int64     `json:"captured"`
	Processed           int64     `json:"processed"`
	Duplicates          int64     `json:"duplicates"`
	Filtered            int64     `json:"filtered"`
	Persisted           int64     `json:"persisted"`
	Errors              int64     `json:"errors"`
	ProcessingTimeTotal int64     `json:"processing_ms"`
	PersistingTimeTotal int64     `json:"persisting_ms"`
	CollectedAt         time.Time `json:"collected_at"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Added:               c.Get(Added),
		Captured:            c.Get(Captured),
		Processed:           c.Get(Processed),
		Duplicates:          c.Get(Duplicates),
		Filtered:            c.Get(Filtered),
		Persisted:           c.Get(Persisted),
		Errors:              c.Get(Errors),
		ProcessingTimeTotal: c.Get(ProcessingTimeTotal),
		PersistingTimeTotal: c.Get(PersistingTimeTotal),
		CollectedAt:         time.Now(),
	}
}

// AvgProcessingMs is ProcessingTimeTotal divided by Processed, or false when
// nothing was processed.
func (s Snapshot) AvgProcessingMs() (int64, bool) {
	if s.Processed <= 0 {
		return 0, false
	}
	return s.ProcessingTimeTotal / s.Processed, true
}

// AvgPersistingMs is PersistingTimeTotal divided by Persisted, or false when
// nothing was persisted.
func (s Snapshot) AvgPersistingMs() (int64, bool) {
	if s.Persisted <= 0 {
		return 0, false
	}
	return s.PersistingTimeTotal / s.Persisted, true
}

// Fields flattens the snapshot for structured log lines.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		Added.String():               s.Added,
		Captured.String():            s.Captured,
		Processed.String():           s.Processed,
		Duplicates.String():          s.Duplicates,
		Filtered.String():            s.Filtered,
		Persisted.String():           s.Persisted,
		Errors.String():              s.Errors,
		ProcessingTimeTotal.String(): s.ProcessingTimeTotal,
		PersistingTimeTotal.String(): s.PersistingTimeTotal,
	}
}

// ShouldLog reports whether count hits the reporting cadence.
func ShouldLog(count int64, frequency int) bool {
	return frequency > 0 && count > 0 && count%int64(frequency) == 0
}
