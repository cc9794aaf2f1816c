package transport

// Capabilities describes how a broadcast transport treats captured datum.
type Capabilities struct {
	// Name is the registry name of the transport.
	Name string

	// PreservesIdentity reports that subscribers receive the message context
	// of the publisher, and with it the very datum instance that was
	// published. Transports that serialize messages deliver detached copies
	// which the queue matches by fingerprint instead.
	PreservesIdentity bool

	// SupportsOrdering reports that messages on a topic arrive in publish order.
	SupportsOrdering bool

	// SupportsAck reports explicit acknowledgement; unacked messages are redelivered.
	SupportsAck bool

	// FanOut reports that every subscribing process receives every message.
	FanOut bool

	// MaxMessageSize is the largest payload in bytes; 0 means unlimited or unknown.
	MaxMessageSize int64
}

// MatchesByFingerprint reports whether captured duplicates must be detected
// by fingerprint rather than instance identity.
func (c Capabilities) MatchesByFingerprint() bool {
	return !c.PreservesIdentity
}

// Fits reports whether a payload of size bytes can be carried.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:              "channel",
		PreservesIdentity: true,
		SupportsOrdering:  true,
		SupportsAck:       true,
		FanOut:            true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		MaxMessageSize:   1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		FanOut:           true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		FanOut:         true,
		MaxMessageSize: 1048576,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		SupportsAck:    true,
		FanOut:         true,
		MaxMessageSize: 262144,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Unknown transports report zero capabilities.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
