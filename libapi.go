package datumflow

import (
	"context"
	"fmt"
	"io"
	"strings"

	runtimepkg "github.com/drblury/datumflow/internal/runtime"
	configpkg "github.com/drblury/datumflow/internal/runtime/config"
	"github.com/drblury/datumflow/internal/runtime/datum"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	idspkg "github.com/drblury/datumflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/datumflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/datumflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/datumflow/internal/runtime/metadata"
	"github.com/drblury/datumflow/internal/runtime/stats"
	transportpkg "github.com/drblury/datumflow/internal/runtime/transport"
	"github.com/drblury/datumflow/store"
	"github.com/drblury/datumflow/store/postgres"
	"github.com/drblury/datumflow/store/sqlite"
	newtransport "github.com/drblury/datumflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	Datum       = datum.Datum
	SimpleDatum = datum.SimpleDatum
	Samples     = datum.Samples
	Kind        = datum.Kind
	Fingerprint = datum.Fingerprint

	DatumQueue         = runtimepkg.DatumQueue
	QueueOptions       = runtimepkg.QueueOptions
	QueueDependencies  = runtimepkg.QueueDependencies
	Consumer           = runtimepkg.Consumer
	Store              = runtimepkg.Store
	StoreFunc          = runtimepkg.StoreFunc
	StoreResolver      = runtimepkg.StoreResolver
	StaticStores       = runtimepkg.StaticStores
	Transformer        = runtimepkg.Transformer
	TransformerFunc    = runtimepkg.TransformerFunc
	TaskRunner         = runtimepkg.TaskRunner
	TaskRunnerFunc     = runtimepkg.TaskRunnerFunc
	WorkerErrorHandler = runtimepkg.WorkerErrorHandler
	WorkerState        = runtimepkg.WorkerState
	Status             = runtimepkg.Status
	ResourceUsage      = runtimepkg.ResourceUsage
	StatsSnapshot      = stats.Snapshot

	// Pipeline hooks
	ProcessHooks = runtimepkg.ProcessHooks
	ProcessStage = runtimepkg.ProcessStage

	StoreRegistry = store.Registry
	StoreRecord   = store.Record
	StoreQuery    = store.Query

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Producer = runtimepkg.Producer
	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	ProcessingError       = errspkg.ProcessingError
	PanicError            = errspkg.PanicError

	// Transport registry
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig

	NewNodeDatum     = datum.NewNodeDatum
	NewLocationDatum = datum.NewLocationDatum
	NewSamples       = datum.NewSamples
	ParseKind        = datum.ParseKind
	Same             = datum.Same
	FingerprintOf    = datum.FingerprintOf
	MarshalDatum     = datum.Marshal
	UnmarshalDatum   = datum.Unmarshal

	NewDatumQueue          = runtimepkg.NewDatumQueue
	QueueOptionsFromConfig = runtimepkg.QueueOptionsFromConfig
	ConsumerFunc           = runtimepkg.ConsumerFunc
	GoroutineRunner        = runtimepkg.GoroutineRunner
	NewStatusHandler       = runtimepkg.NewStatusHandler
	NewStoreRegistry       = store.NewRegistry

	NewDatumMessage          = runtimepkg.NewDatumMessage
	NewDatumMessageWithCodec = runtimepkg.NewDatumMessageWithCodec
	PublishDatum             = runtimepkg.PublishDatum
	DatumFromMessage         = runtimepkg.DatumFromMessage

	LoggingHooks  = runtimepkg.LoggingHooks
	CountingHooks = runtimepkg.CountingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Use RegisterTransport to plug in a custom broadcast transport.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrStoreRequired     = errspkg.ErrStoreRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrDatumRequired     = errspkg.ErrDatumRequired

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

const (
	KindNode     = datum.KindNode
	KindLocation = datum.KindLocation

	EventCaptured = runtimepkg.EventCaptured
	EventAcquired = runtimepkg.EventAcquired
	CodecJSON     = runtimepkg.CodecJSON
	CodecProto    = runtimepkg.CodecProto

	StateStopped  = runtimepkg.StateStopped
	StateStarting = runtimepkg.StateStarting
	StateRunning  = runtimepkg.StateRunning
	StateCrashed  = runtimepkg.StateCrashed
)

// Metadata keys set on every broadcast message.
const (
	MetadataKeyEvent         = metadatapkg.KeyEvent
	MetadataKeyCodec         = metadatapkg.KeyCodec
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeySourceID      = metadatapkg.KeySourceID
	MetadataKeyKind          = metadatapkg.KeyKind
	MetadataKeyCreated       = metadatapkg.KeyCreated
)

// storeCloser closes the store opened by OpenStores.
type storeCloser interface {
	Store
	io.Closer
}

// OpenStores opens the store selected by conf.StoreSystem and registers it
// for every datum kind. It returns a nil registry and closer when no store is
// configured.
func OpenStores(ctx context.Context, conf *Config) (*StoreRegistry, io.Closer, error) {
	if conf == nil {
		return nil, nil, ErrConfigRequired
	}

	var (
		s   storeCloser
		err error
	)
	switch strings.ToLower(conf.StoreSystem) {
	case "":
		return nil, nil, nil
	case sqlite.StoreName:
		s, err = sqlite.New(ctx, sqlite.Config{FilePath: conf.SQLiteFile})
	case postgres.StoreName, "postgresql":
		s, err = postgres.New(ctx, postgres.Config{ConnectionString: conf.PostgresURL})
	default:
		return nil, nil, fmt.Errorf("unsupported store system %q", conf.StoreSystem)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", conf.StoreSystem, err)
	}

	registry := store.NewRegistry()
	registry.Register(KindNode, s)
	registry.Register(KindLocation, s)
	return registry, s, nil
}

// Open is NewService with the configured store opened for it. The store is
// closed when the service stops. Stores already set in deps take precedence.
func Open(ctx context.Context, conf *Config, log ServiceLogger, deps ServiceDependencies) (*Service, error) {
	var opened io.Closer
	if deps.Stores == nil {
		registry, closer, err := OpenStores(ctx, conf)
		if err != nil {
			return nil, err
		}
		if registry != nil {
			deps.Stores = registry
			deps.Closers = append(deps.Closers, closer)
			opened = closer
		}
	}

	svc, err := NewService(conf, log, ctx, deps)
	if err != nil {
		if opened != nil {
			_ = opened.Close()
		}
		return nil, err
	}
	return svc, nil
}
