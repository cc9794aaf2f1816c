package runtime

import (
	"context"

	"github.com/drblury/datumflow/internal/runtime/datum"
)

// Transformer may filter or rewrite the samples of a datum before it is
// persisted and delivered. Returning nil filters the datum out. Returning
// the samples pointer it was given leaves the datum untouched.
type Transformer interface {
	Transform(ctx context.Context, d datum.Datum, samples *datum.Samples, params map[string]any) (*datum.Samples, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, d datum.Datum, samples *datum.Samples, params map[string]any) (*datum.Samples, error)

func (f TransformerFunc) Transform(ctx context.Context, d datum.Datum, samples *datum.Samples, params map[string]any) (*datum.Samples, error) {
	return f(ctx, d, samples, params)
}

// Store durably persists accepted datum.
type Store interface {
	StoreDatum(ctx context.Context, d datum.Datum) error
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, d datum.Datum) error

func (f StoreFunc) StoreDatum(ctx context.Context, d datum.Datum) error { return f(ctx, d) }

// StoreResolver finds the store responsible for a datum kind. Resolution
// happens per datum, so stores can come and go at runtime.
type StoreResolver interface {
	Resolve(kind datum.Kind) (Store, bool)
}

// StaticStores is a fixed kind to store mapping.
type StaticStores map[datum.Kind]Store

func (s StaticStores) Resolve(kind datum.Kind) (Store, bool) {
	store, ok := s[kind]
	return store, ok && store != nil
}

// TaskRunner runs consumer deliveries asynchronously.
type TaskRunner interface {
	Go(task func())
}

// TaskRunnerFunc adapts a function to TaskRunner.
type TaskRunnerFunc func(task func())

func (f TaskRunnerFunc) Go(task func()) { f(task) }

// GoroutineRunner runs every task on its own goroutine.
func GoroutineRunner() TaskRunner {
	return TaskRunnerFunc(func(task func()) { go task() })
}
