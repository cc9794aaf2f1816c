/*
Package runtime implements the datumflow queue and the service around it.

# Architecture Overview

Datum arrive on two paths: Offer, for datum that must be persisted, and
Notify, for datum captured and broadcast elsewhere. Both land in one delay
queue ordered by effective time (timestamp plus the queue delay), source id,
and persist-first. A single worker takes every entry sharing an effective
time as one batch, drops captured twins of persisted entries, and runs the
rest through the pipeline.

# Package Structure

## Queue (queue.go, reconcile.go, pipeline.go)

  - queue.go: DatumQueue, its options and both ingress paths
  - reconcile.go: batching and duplicate detection
  - pipeline.go: hooks, transform, acquired broadcast, persistence, delivery

## Consumers (consumers.go)

Every accepted datum is handed to each registered Consumer through a
per-consumer mailbox, so a slow or failing consumer never blocks the worker
or its peers, and each consumer sees datum in queue order.

## Supervisor (supervisor.go)

Startup runs the worker under a supervisor that replaces it after a failure.
At most one worker is ever active.

## Service (service.go, middleware.go, publisher.go, status.go)

The Service binds the captured topic of a broadcast transport to Notify via a
Watermill router, serves /api/status and /metrics, and publishes captured or
acquired datum.

# Sub-packages

  - config/: Service configuration with validation
  - datum/: Datum types, samples, identity and codecs
  - delayqueue/: Generic blocking delay queue with an injectable clock
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Broadcast message headers
  - stats/: Queue counters and their Prometheus mirror
  - transport/: Builds the configured broadcast transport

# Usage Example

	conf := config.Default()
	svc, err := runtime.NewService(&conf, logger, ctx, runtime.ServiceDependencies{
		Stores: runtime.StaticStores{datum.KindNode: store},
	})
	if err != nil {
		return err
	}
	svc.Queue().Offer(datum.NewNodeDatum("meter-1", time.Now(), samples))
	return svc.Start(ctx)
*/
package runtime
