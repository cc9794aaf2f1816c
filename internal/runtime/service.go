package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/datumflow/internal/runtime/config"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
	transportpkg "github.com/drblury/datumflow/internal/runtime/transport"
	"github.com/drblury/datumflow/transport"
	httptransport "github.com/drblury/datumflow/transport/http"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const capturedHandlerName = "datumflow_captured"

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	// Stores resolves the datum store per kind. Nil disables persistence.
	Stores StoreResolver
	// Transformer filters or rewrites samples before persistence.
	Transformer Transformer
	// TaskRunner runs consumer deliveries.
	TaskRunner TaskRunner
	// Consumers are registered before the queue starts.
	Consumers []Consumer
	Hooks     ProcessHooks
	// OnWorkerError is told about crashed workers.
	OnWorkerError WorkerErrorHandler

	TransportFactory          transportpkg.Factory
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.

	// Registerer receives all Prometheus collectors. Defaults to the global
	// registry. A *prometheus.Registry is also used to serve /metrics.
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	// Closers are closed after the service stops, e.g. stores opened for it.
	Closers []io.Closer
}

// Service wires a broadcast transport and a Watermill router to a DatumQueue:
// captured datum published on the broadcast topic are fed to Notify.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	queue        *DatumQueue
	capabilities transport.Capabilities

	registerer     prometheus.Registerer
	gatherer       prometheus.Gatherer
	tracerProvider trace.TracerProvider
	closers        []io.Closer
	wmLogger       watermill.LoggerAdapter

	httpServers   map[int]*http.ServeMux
	running       []*http.Server
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration. Call Start
// to run it. Queue tuning is taken from conf as is, so start from
// config.Default() for the stock delays.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	applyServiceDefaults(conf)
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating datum service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf,
	})

	s := &Service{
		Conf:           conf,
		Logger:         log,
		registerer:     deps.Registerer,
		tracerProvider: deps.TracerProvider,
		closers:        deps.Closers,
		wmLogger:       wmLogger,
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
		s.gatherer = prometheus.DefaultGatherer
	} else if g, ok := s.registerer.(prometheus.Gatherer); ok {
		s.gatherer = g
	} else {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	t, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %w", conf.PubSubSystem, err)
	}
	s.publisher = t.Publisher
	s.subscriber = t.Subscriber
	s.capabilities = t.Capabilities
	if s.capabilities.Name == "" {
		s.capabilities = transport.GetCapabilities(conf.PubSubSystem)
	}

	if !s.capabilities.PreservesIdentity {
		log.Info("Broadcast transport copies datum; captured duplicates are matched by fingerprint", loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
		})
	}

	queueDeps := QueueDependencies{
		Stores:         deps.Stores,
		Transformer:    deps.Transformer,
		TaskRunner:     deps.TaskRunner,
		Hooks:          deps.Hooks,
		OnWorkerError:  deps.OnWorkerError,
		TracerProvider: s.tracerProvider,
	}
	if conf.PublishAcquired {
		queueDeps.AcquiredPublisher = s.publisher
	}
	if conf.MetricsEnabled {
		queueDeps.Registerer = s.registerer
	}
	opts := QueueOptionsFromConfig(conf)
	opts.Name = "datumflow"
	queue, err := NewDatumQueue(opts, log, queueDeps)
	if err != nil {
		return nil, err
	}
	s.queue = queue
	for _, c := range deps.Consumers {
		queue.AddConsumer(c)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	s.router.AddNoPublisherHandler(
		capturedHandlerName,
		conf.CapturedTopic,
		s.subscriber,
		queue.NotifyHandler,
	)

	return s, nil
}

func applyServiceDefaults(conf *configpkg.Config) {
	if conf.PubSubSystem == "" {
		conf.PubSubSystem = configpkg.DefaultPubSubSystem
	}
	if conf.CapturedTopic == "" {
		conf.CapturedTopic = configpkg.DefaultCapturedTopic
	}
	if conf.AcquiredTopic == "" {
		conf.AcquiredTopic = configpkg.DefaultAcquiredTopic
	}
	if conf.TakeTimeout == 0 {
		conf.TakeTimeout = configpkg.DefaultTakeTimeout
	}
	if conf.StatusPort == 0 {
		conf.StatusPort = configpkg.DefaultStatusPort
	}
	if conf.BroadcastCodec == "" {
		conf.BroadcastCodec = configpkg.CodecJSON
	}
}

// Start starts the datum queue worker and runs the router until ctx is
// cancelled, then shuts everything down.
func (s *Service) Start(ctx context.Context) error {
	s.registerStatusHandler()
	s.startHTTPServers()
	s.queue.Startup()
	defer s.stop()
	go s.startTransportServer(ctx)
	return routerRun(s.router, ctx)
}

// startTransportServer starts webhook subscribers once their routes exist.
func (s *Service) startTransportServer(ctx context.Context) {
	select {
	case <-s.router.Running():
		httptransport.StartServer(s.subscriber, s.wmLogger)
	case <-ctx.Done():
	}
}

// Running is closed once the router subscribed to the captured topic.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Queue returns the datum queue fed by the service.
func (s *Service) Queue() *DatumQueue {
	return s.queue
}

// Publisher returns the broadcast publisher.
func (s *Service) Publisher() message.Publisher {
	return s.publisher
}

// Capabilities describes the configured broadcast transport.
func (s *Service) Capabilities() transport.Capabilities {
	return s.capabilities
}

func (s *Service) stop() {
	s.queue.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServersMu.Lock()
	for _, srv := range s.running {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
	s.running = nil
	s.httpServersMu.Unlock()

	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.subscriber != nil && any(s.subscriber) != any(s.publisher) {
		errs = append(errs, s.subscriber.Close())
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	if err := errors.Join(errs...); err != nil {
		s.Logger.Error("Failed to close service resources", err, nil)
	}
	s.Logger.Info("Datum service stopped", loggingpkg.LogFields{"status": s.queue.StatusMessage()})
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) registerStatusHandler() {
	if !s.Conf.StatusEnabled {
		return
	}
	s.RegisterHTTPHandler(s.Conf.StatusPort, "/api/status", NewStatusHandler(s.queue, s.Conf.StatusCORSAllowedOrigins, s.Logger))
}

// RegisterHTTPHandler mounts handler on the server listening on port. Servers
// are started by Start.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.running = append(s.running, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}
