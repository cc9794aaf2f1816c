package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/datumflow/internal/runtime/config"
	"github.com/drblury/datumflow/internal/runtime/datum"
	"github.com/drblury/datumflow/internal/runtime/delayqueue"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/datumflow/internal/runtime/metadata"
	"github.com/drblury/datumflow/internal/runtime/stats"
)

const (
	// MetadataEvent names the datum event a broadcast message carries.
	MetadataEvent = metadatapkg.KeyEvent
	// MetadataCodec names the payload encoding; "json" when absent.
	MetadataCodec = metadatapkg.KeyCodec

	EventCaptured = "captured"
	EventAcquired = "acquired"

	CodecJSON  = configpkg.CodecJSON
	CodecProto = configpkg.CodecProto

	tracerName = "github.com/drblury/datumflow"
)

// WorkerErrorHandler is told about every worker that terminated with an error.
// It runs on its own goroutine.
type WorkerErrorHandler func(workerID string, err error)

// QueueOptions tunes a DatumQueue. Zero values are used as given, so start
// from QueueOptionsFromConfig(config.Default()) for the stock behaviour.
type QueueOptions struct {
	// Name labels the queue's metrics.
	Name string
	// Delay is the reordering window added to each datum timestamp.
	Delay time.Duration
	// StartupDelay is waited before the first worker starts.
	StartupDelay time.Duration
	// TakeTimeout bounds each idle wait of the worker. Defaults to 60s.
	TakeTimeout time.Duration
	// StatLogFrequency logs the counters every N processed datum. Zero disables it.
	StatLogFrequency int
	// AcquiredTopic receives accepted datum when an acquired publisher is set.
	AcquiredTopic string
	// AcquiredCodec encodes acquired broadcasts. Defaults to JSON.
	AcquiredCodec string
}

// QueueOptionsFromConfig extracts queue tuning from conf.
func QueueOptionsFromConfig(conf *configpkg.Config) QueueOptions {
	return QueueOptions{
		Delay:            conf.QueueDelay,
		StartupDelay:     conf.StartupDelay,
		TakeTimeout:      conf.TakeTimeout,
		StatLogFrequency: conf.StatLogFrequency,
		AcquiredTopic:    conf.AcquiredTopic,
		AcquiredCodec:    conf.BroadcastCodec,
	}
}

// QueueDependencies holds the optional collaborators of a DatumQueue.
type QueueDependencies struct {
	// Stores resolves the store per datum kind. Nil disables persistence.
	Stores StoreResolver
	// Transformer filters or rewrites samples. Nil passes datum through.
	Transformer Transformer
	// TaskRunner runs consumer deliveries. Defaults to one goroutine per drain.
	TaskRunner TaskRunner
	// Hooks observe the pipeline and worker lifecycle.
	Hooks ProcessHooks
	// OnWorkerError is called after a worker crashed.
	OnWorkerError WorkerErrorHandler
	// AcquiredPublisher broadcasts accepted datum on QueueOptions.AcquiredTopic.
	AcquiredPublisher message.Publisher
	// Clock drives effective times and eligibility. Defaults to the wall clock.
	Clock delayqueue.Clock
	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider
	// Registerer receives the Prometheus mirror of the counters when set.
	Registerer prometheus.Registerer
}

// entry is one queued datum. Entries are never modified after creation.
type entry struct {
	d       datum.Datum
	at      time.Time
	persist bool
}

func compareEntries(a, b entry) int {
	if c := a.at.Compare(b.at); c != 0 {
		return c
	}
	if c := strings.Compare(a.d.SourceID(), b.d.SourceID()); c != 0 {
		return c
	}
	switch {
	case a.persist == b.persist:
		return 0
	case a.persist:
		return -1
	default:
		return 1
	}
}

// DatumQueue merges directly offered datum with broadcast captured datum into
// one ordered, deduplicated stream, persists what needs persisting and fans
// every accepted datum out to the registered consumers.
type DatumQueue struct {
	opts   QueueOptions
	log    loggingpkg.ServiceLogger
	clock  delayqueue.Clock
	tracer trace.Tracer

	stores      StoreResolver
	transformer Transformer
	hooks       ProcessHooks
	onError     WorkerErrorHandler
	acquired    message.Publisher

	queue     *delayqueue.Queue[entry]
	stats     *stats.Counters
	consumers *consumerRegistry
	resources *resourceSampler

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	started     atomic.Bool
	state       atomic.Int32
	restarts    atomic.Int64
	workerID    atomic.Pointer[string]
}

// NewDatumQueue creates a stopped queue. Call Startup to begin processing.
func NewDatumQueue(opts QueueOptions, log loggingpkg.ServiceLogger, deps QueueDependencies) (*DatumQueue, error) {
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if opts.Delay < 0 || opts.StartupDelay < 0 {
		return nil, errspkg.NewConfigValidationError(fmt.Errorf("queue: negative delay (delay %s, startup %s)", opts.Delay, opts.StartupDelay))
	}
	if opts.TakeTimeout <= 0 {
		opts.TakeTimeout = configpkg.DefaultTakeTimeout
	}
	if deps.AcquiredPublisher != nil && opts.AcquiredTopic == "" {
		return nil, errspkg.ErrTopicRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = delayqueue.SystemClock()
	}
	runner := deps.TaskRunner
	if runner == nil {
		runner = GoroutineRunner()
	}
	provider := deps.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	counters := stats.New(opts.Name)
	if deps.Registerer != nil {
		if err := counters.Register(deps.Registerer); err != nil {
			return nil, err
		}
	}

	log = log.With(loggingpkg.LogFields{"component": "datum_queue"})
	q := &DatumQueue{
		opts:        opts,
		log:         log,
		clock:       clock,
		tracer:      provider.Tracer(tracerName),
		stores:      deps.Stores,
		transformer: deps.Transformer,
		hooks:       deps.Hooks,
		onError:     deps.OnWorkerError,
		acquired:    deps.AcquiredPublisher,
		stats:       counters,
		consumers:   newConsumerRegistry(runner, counters, log),
		resources:   newResourceSampler(),
	}
	q.queue = delayqueue.New(func(a, b entry) bool {
		return compareEntries(a, b) < 0
	}, func(e entry) time.Time {
		return e.at
	}, clock)
	return q, nil
}

// Offer queues d for persistence and delivery. It returns false when d is
// nil or has no source id. Never blocks.
func (q *DatumQueue) Offer(d datum.Datum) bool {
	return q.OfferWith(d, true)
}

// OfferWith queues d, persisting it only when persist is true.
func (q *DatumQueue) OfferWith(d datum.Datum, persist bool) bool {
	if d == nil || d.SourceID() == "" {
		return false
	}
	if persist {
		q.stats.Increment(stats.Added)
	} else {
		q.stats.Increment(stats.Captured)
	}
	q.queue.Offer(entry{d: d, at: q.effectiveTime(d), persist: persist})
	return true
}

// effectiveTime is the datum timestamp plus the queue delay, at millisecond
// precision. Future timestamps are clamped to now so they are not delayed further.
func (q *DatumQueue) effectiveTime(d datum.Datum) time.Time {
	now := q.clock.Now()
	ts := d.Timestamp()
	if ts.IsZero() || ts.After(now) {
		ts = now
	}
	return time.UnixMilli(ts.UnixMilli() + q.opts.Delay.Milliseconds())
}

// Notify handles a captured-datum broadcast message. The datum is taken from
// the message context when the transport preserved it, otherwise it is
// decoded from the payload. Messages for other events, or without a datum,
// are ignored.
func (q *DatumQueue) Notify(msg *message.Message) {
	if msg == nil {
		return
	}
	if event := msg.Metadata.Get(MetadataEvent); event != "" && event != EventCaptured {
		return
	}
	d, err := DatumFromMessage(msg)
	if err != nil {
		q.log.Debug("Ignoring captured message without a datum", loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"headers":      metadatapkg.Routing(msg.Metadata),
			"error":        err.Error(),
		})
		return
	}
	q.OfferWith(d, false)
}

// NotifyHandler adapts Notify to a watermill no-publisher handler. It never
// fails, so broadcast messages are always acked.
func (q *DatumQueue) NotifyHandler(msg *message.Message) error {
	q.Notify(msg)
	return nil
}

// DatumFromMessage returns the datum carried by msg: the same instance when
// the message context holds one, else a detached copy decoded from the payload.
func DatumFromMessage(msg *message.Message) (datum.Datum, error) {
	if d, ok := datum.FromContext(msg.Context()); ok {
		return d, nil
	}
	if len(msg.Payload) == 0 {
		return nil, errspkg.ErrDatumRequired
	}
	if msg.Metadata.Get(MetadataCodec) == CodecProto {
		return datum.UnmarshalProto(msg.Payload)
	}
	return datum.Unmarshal(msg.Payload)
}

// AddConsumer registers c. It returns false when c is nil or already registered.
func (q *DatumQueue) AddConsumer(c Consumer) bool {
	return q.consumers.add(c)
}

// RemoveConsumer unregisters c and drops its undelivered datum.
func (q *DatumQueue) RemoveConsumer(c Consumer) bool {
	return q.consumers.remove(c)
}

// Consumers returns the registered consumers.
func (q *DatumQueue) Consumers() []Consumer {
	return q.consumers.snapshot()
}

// Stats exposes the queue counters.
func (q *DatumQueue) Stats() *stats.Counters {
	return q.stats
}

// Len is the number of datum waiting in the queue.
func (q *DatumQueue) Len() int {
	return q.queue.Len()
}
