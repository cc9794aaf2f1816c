package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/datumflow/internal/runtime/datum"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
	"github.com/drblury/datumflow/internal/runtime/stats"
)

// processBatch runs every non-duplicate entry of batch through the pipeline.
// A transform or persistence failure aborts the batch and is returned, which
// ends the current worker.
func (q *DatumQueue) processBatch(ctx context.Context, workerID string, batch []entry) error {
	ctx, span := q.tracer.Start(ctx, "datumflow.ProcessBatch", trace.WithAttributes(
		attribute.String("datumflow.worker_id", workerID),
		attribute.Int("datumflow.batch_size", len(batch)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		q.stats.Add(stats.ProcessingTimeTotal, time.Since(start).Milliseconds())
	}()

	for i := range batch {
		if isDuplicate(batch, i) {
			q.stats.Increment(stats.Duplicates)
			continue
		}
		if err := q.processEntry(ctx, batch[i]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

func (q *DatumQueue) processEntry(ctx context.Context, e entry) error {
	processed := q.stats.Increment(stats.Processed)
	if stats.ShouldLog(processed, q.opts.StatLogFrequency) {
		q.log.Info("Datum queue stats", loggingpkg.LogFields(q.stats.Snapshot().Fields()))
	}

	q.runHook(StagePreFilter, q.hooks.OnPreFilter, e.d, e.persist)

	result, err := q.applyTransform(ctx, e)
	if err != nil {
		return q.processingFailed(ctx, errspkg.StageTransform, e.d, err)
	}
	if result == nil {
		return nil
	}

	q.runHook(StagePostFilter, q.hooks.OnPostFilter, result, e.persist)
	q.publishAcquired(ctx, result)

	if e.persist {
		if err := q.persist(ctx, result); err != nil {
			return q.processingFailed(ctx, errspkg.StagePersist, result, err)
		}
	}

	q.consumers.deliver(context.WithoutCancel(ctx), result)
	return nil
}

// processingFailed accounts a failed stage. A failure caused by Shutdown
// cancelling ctx is not an error; the batch is dropped and ctx.Err returned.
func (q *DatumQueue) processingFailed(ctx context.Context, stage errspkg.Stage, d datum.Datum, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		q.log.Debug("Datum queue stopping; dropping batch", loggingpkg.LogFields{
			"stage":     string(stage),
			"source_id": d.SourceID(),
		})
		return ctxErr
	}
	q.stats.Increment(stats.Errors)
	q.log.Error("Error processing datum; discarding", err, loggingpkg.LogFields{
		"stage":     string(stage),
		"source_id": d.SourceID(),
		"timestamp": d.Timestamp(),
	})
	return &errspkg.ProcessingError{Stage: stage, SourceID: d.SourceID(), Err: err}
}

// applyTransform returns the datum to continue with, or nil when filtered.
func (q *DatumQueue) applyTransform(ctx context.Context, e entry) (datum.Datum, error) {
	if q.transformer == nil {
		return e.d, nil
	}
	carrier, ok := e.d.(datum.SampleCarrier)
	if !ok {
		return e.d, nil
	}

	in := carrier.Samples()
	var out *datum.Samples
	err := errspkg.Recover(func() error {
		var err error
		out, err = q.transformer.Transform(ctx, e.d, in, make(map[string]any, 4))
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		q.stats.Increment(stats.Filtered)
		return nil, nil
	}
	if out == in {
		return e.d, nil
	}
	return carrier.CopyWithSamples(out), nil
}

// persist stores d with the store resolved for its kind. Kinds without a
// store are skipped.
func (q *DatumQueue) persist(ctx context.Context, d datum.Datum) error {
	if q.stores == nil {
		return nil
	}
	store, ok := q.stores.Resolve(d.Kind())
	if !ok {
		q.log.Debug("No store for datum kind; not persisting", loggingpkg.LogFields{
			"kind":      d.Kind().String(),
			"source_id": d.SourceID(),
		})
		return nil
	}

	ctx, span := q.tracer.Start(ctx, "datumflow.PersistDatum", trace.WithAttributes(
		attribute.String("datumflow.source_id", d.SourceID()),
		attribute.String("datumflow.kind", d.Kind().String()),
	))
	defer span.End()

	start := time.Now()
	err := errspkg.Recover(func() error {
		return store.StoreDatum(ctx, d)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	q.stats.Increment(stats.Persisted)
	q.stats.Add(stats.PersistingTimeTotal, time.Since(start).Milliseconds())
	return nil
}

// publishAcquired broadcasts an accepted datum. Failures are logged only.
func (q *DatumQueue) publishAcquired(ctx context.Context, d datum.Datum) {
	if q.acquired == nil {
		return
	}
	msg, err := q.acquiredMessage(context.WithoutCancel(ctx), d)
	if err != nil {
		q.log.Error("Failed to encode acquired datum", err, loggingpkg.LogFields{"source_id": d.SourceID()})
		return
	}
	if err := q.acquired.Publish(q.opts.AcquiredTopic, msg); err != nil {
		q.log.Error("Failed to publish acquired datum", err, loggingpkg.LogFields{
			"source_id": d.SourceID(),
			"topic":     q.opts.AcquiredTopic,
		})
	}
}

// runHook invokes a datum hook, isolating panics.
func (q *DatumQueue) runHook(stage ProcessStage, hook func(datum.Datum, bool), d datum.Datum, persist bool) {
	if hook == nil {
		return
	}
	err := errspkg.Recover(func() error {
		hook(d, persist)
		return nil
	})
	if err != nil {
		q.stats.Increment(stats.Errors)
		q.log.Error("Process hook failed; ignoring", err, loggingpkg.LogFields{
			"stage":     string(stage),
			"source_id": d.SourceID(),
		})
	}
}
