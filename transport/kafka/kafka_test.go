package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metadatapkg "github.com/drblury/datumflow/internal/runtime/metadata"
	"github.com/drblury/datumflow/transport"
	"github.com/drblury/datumflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.SupportsOrdering)
	assert.True(t, caps.MatchesByFingerprint())
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("1", []byte("{}"))
	key, err := PartitionKey("datum/captured", msg)
	require.NoError(t, err)
	assert.Empty(t, key)

	msg.Metadata.Set(metadatapkg.KeySourceID, "meter-1")
	key, err = PartitionKey("datum/captured", msg)
	require.NoError(t, err)
	assert.Equal(t, "meter-1", key)
}

func TestMarshalerKeysBySource(t *testing.T) {
	msg := message.NewMessage("1", []byte(`{"a":1}`))
	msg.Metadata.Set(metadatapkg.KeySourceID, "meter-1")

	produced, err := Marshaler().Marshal("datum/captured", msg)
	require.NoError(t, err)
	require.NotNil(t, produced.Key)
	key, err := produced.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "meter-1", string(key))
}

func overrideFactories(t *testing.T) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
}

func TestBuild(t *testing.T) {
	cfg := &transporttest.Config{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaConsumerGroup: "datumflow-node-1",
	}

	t.Run("creates transport", func(t *testing.T) {
		overrideFactories(t)
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		var subCfg kafka.SubscriberConfig
		PublisherFactory = func(c kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, c.Brokers)
			assert.NotNil(t, c.Marshaler)
			return pub, nil
		}
		SubscriberFactory = func(c kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
			subCfg = c
			return sub, nil
		}

		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
		assert.Equal(t, "datumflow-node-1", subCfg.ConsumerGroup)
	})

	t.Run("requires brokers", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "brokers are required")
	})

	t.Run("publisher failure", func(t *testing.T) {
		overrideFactories(t)
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber failure closes publisher", func(t *testing.T) {
		overrideFactories(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}
