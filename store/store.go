// Package store holds the datum stores the queue persists to and the
// registry that resolves them by datum kind.
package store

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/drblury/datumflow/internal/runtime"
	"github.com/drblury/datumflow/internal/runtime/datum"
	"github.com/drblury/datumflow/internal/runtime/jsoncodec"
)

// Registry maps datum kinds to stores. Changes apply to the next datum the
// queue resolves, so stores can be swapped while the queue runs.
type Registry struct {
	mu     sync.RWMutex
	stores map[datum.Kind]runtime.Store
}

var _ runtime.StoreResolver = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{stores: make(map[datum.Kind]runtime.Store)}
}

// Register makes s responsible for kind. A nil store removes the kind.
func (r *Registry) Register(kind datum.Kind, s runtime.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		delete(r.stores, kind)
		return
	}
	r.stores[kind] = s
}

// Unregister removes the store for kind and reports whether there was one.
func (r *Registry) Unregister(kind datum.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stores[kind]
	delete(r.stores, kind)
	return ok
}

func (r *Registry) Resolve(kind datum.Kind) (runtime.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[kind]
	return s, ok
}

// Kinds returns the registered kinds in ascending order.
func (r *Registry) Kinds() []datum.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]datum.Kind, 0, len(r.stores))
	for k := range r.stores {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Record is one persisted datum row.
type Record struct {
	ID         int64
	Kind       datum.Kind
	LocationID string
	SourceID   string
	Created    time.Time
	Samples    *datum.Samples
	StoredAt   time.Time
}

// Datum rebuilds the stored datum. It is a new instance, unrelated to the one
// that was persisted.
func (r Record) Datum() *datum.SimpleDatum {
	if r.Kind == datum.KindLocation {
		return datum.NewLocationDatum(r.LocationID, r.SourceID, r.Created, r.Samples)
	}
	return datum.NewNodeDatum(r.SourceID, r.Created, r.Samples)
}

// Query filters stored datum. Zero fields match everything.
type Query struct {
	Kind       datum.Kind
	SourceID   string
	LocationID string
	// From is inclusive, To exclusive.
	From  time.Time
	To    time.Time
	Limit int
}

// Dialect adapts Query rendering to a SQL driver.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Time converts a timestamp to the bound column value.
	Time func(t time.Time) any
}

// Where renders the filter of q as a WHERE clause (empty when q matches
// everything) and its arguments.
func (q Query) Where(d Dialect) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, op string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf("%s %s %s", column, op, d.Placeholder(len(args))))
	}
	if q.Kind != datum.KindUnknown {
		add("kind", "=", q.Kind.String())
	}
	if q.SourceID != "" {
		add("source_id", "=", q.SourceID)
	}
	if q.LocationID != "" {
		add("location_id", "=", q.LocationID)
	}
	if !q.From.IsZero() {
		add("created_at", ">=", d.Time(q.From))
	}
	if !q.To.IsZero() {
		add("created_at", "<", d.Time(q.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// EncodeSamples serialises a sample set for a text or JSON column.
func EncodeSamples(s *datum.Samples) (string, error) {
	if s == nil {
		s = datum.NewSamples()
	}
	return jsoncodec.MarshalToString(s)
}

// DecodeSamples is the inverse of EncodeSamples.
func DecodeSamples(raw string) (*datum.Samples, error) {
	s := datum.NewSamples()
	if raw == "" {
		return s, nil
	}
	if err := jsoncodec.UnmarshalFromString(raw, s); err != nil {
		return nil, fmt.Errorf("decode samples: %w", err)
	}
	return s, nil
}
