package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_MatchesByFingerprint(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{name: "channel keeps instances", caps: ChannelCapabilities, want: false},
		{name: "kafka serializes", caps: KafkaCapabilities, want: true},
		{name: "rabbitmq serializes", caps: RabbitMQCapabilities, want: true},
		{name: "nats serializes", caps: NATSCapabilities, want: true},
		{name: "aws serializes", caps: AWSCapabilities, want: true},
		{name: "http serializes", caps: HTTPCapabilities, want: true},
		{name: "unknown", caps: Capabilities{}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.MatchesByFingerprint())
		})
	}
}

func TestCapabilities_Fits(t *testing.T) {
	assert.True(t, Capabilities{}.Fits(10<<20))
	assert.True(t, AWSCapabilities.Fits(262144))
	assert.False(t, AWSCapabilities.Fits(262145))
}

func TestGetCapabilities_Unregistered(t *testing.T) {
	caps := GetCapabilities("definitely-not-registered")
	assert.Equal(t, "definitely-not-registered", caps.Name)
	assert.True(t, caps.MatchesByFingerprint())
}
