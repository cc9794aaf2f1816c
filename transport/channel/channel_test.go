package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/datumflow/transport"
	"github.com/drblury/datumflow/transport/transporttest"
)

type ctxKey struct{}

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.True(t, caps.PreservesIdentity)
	assert.True(t, caps.FanOut)
	assert.False(t, caps.MatchesByFingerprint())
}

func TestConfig(t *testing.T) {
	cfg := Config()
	assert.True(t, cfg.PreserveContext)
	assert.Equal(t, int64(OutputBuffer), cfg.OutputChannelBuffer)
}

func TestBuild_UsesFactory(t *testing.T) {
	originalFactory := Factory
	defer func() { Factory = originalFactory }()

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	var got gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		got = cfg
		return pub, sub
	}

	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
	assert.True(t, got.PreserveContext)
}

func TestBuild_PreservesContext(t *testing.T) {
	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := tr.Subscriber.Subscribe(ctx, "datum/captured")
	require.NoError(t, err)

	value := &struct{ name string }{name: "sensor-1"}
	msg := message.NewMessage(watermill.NewUUID(), []byte("{}"))
	msg.SetContext(context.WithValue(context.Background(), ctxKey{}, value))
	require.NoError(t, tr.Publisher.Publish("datum/captured", msg))

	select {
	case received := <-messages:
		assert.Same(t, value, received.Context().Value(ctxKey{}))
		received.Ack()
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}
