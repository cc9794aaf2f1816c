package aws

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/datumflow/transport"
	"github.com/drblury/datumflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.FanOut)
	assert.True(t, caps.MatchesByFingerprint())
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

func overrideFactories(t *testing.T) {
	t.Helper()
	loader, resolver := DefaultConfigLoader, TopicResolverFactory
	pub, sub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader, TopicResolverFactory = loader, resolver
		PublisherFactory, SubscriberFactory = pub, sub
	})

	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return sns.NewGenerateArnTopicResolver(accountID, region)
	}
}

func TestBuild(t *testing.T) {
	cfg := &transporttest.Config{AWSRegion: "eu-west-1", AWSAccountID: "123456789012"}

	t.Run("creates transport", func(t *testing.T) {
		overrideFactories(t)
		pub := &transporttest.Publisher{}
		sub := &transporttest.Subscriber{}
		var pubCfg sns.PublisherConfig
		var subCfg sns.SubscriberConfig
		PublisherFactory = func(c sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
			pubCfg = c
			return pub, nil
		}
		SubscriberFactory = func(c sns.SubscriberConfig, _ sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
			subCfg = c
			return sub, nil
		}

		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Same(t, pub, tr.Publisher)
		assert.Same(t, sub, tr.Subscriber)
		assert.Equal(t, "eu-west-1", pubCfg.AWSConfig.Region)
		assert.Empty(t, pubCfg.OptFns)

		arn, err := subCfg.TopicResolver.ResolveTopic(context.Background(), "datum/captured")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(string(arn), ":datum-captured"), string(arn))
		assert.Contains(t, string(arn), "123456789012")

		queue, err := subCfg.GenerateSqsQueueName(context.Background(), arn)
		require.NoError(t, err)
		assert.Regexp(t, `^datum-captured-.+$`, queue)
	})

	t.Run("custom endpoint installs resolvers", func(t *testing.T) {
		overrideFactories(t)
		var pubCfg sns.PublisherConfig
		var sqsCfg sqs.SubscriberConfig
		PublisherFactory = func(c sns.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
			pubCfg = c
			return &transporttest.Publisher{}, nil
		}
		SubscriberFactory = func(_ sns.SubscriberConfig, c sqs.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
			sqsCfg = c
			return &transporttest.Subscriber{}, nil
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSEndpoint: "http://localhost:4566"}, watermill.NopLogger{})
		require.NoError(t, err)
		assert.Len(t, pubCfg.OptFns, 1)
		assert.Len(t, sqsCfg.OptFns, 1)
	})

	t.Run("config loader failure", func(t *testing.T) {
		overrideFactories(t)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.ErrorContains(t, err, "config error")
	})

	t.Run("subscriber failure closes publisher", func(t *testing.T) {
		overrideFactories(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed)
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	tests := []struct {
		name        string
		cfg         transport.Config
		wantAccount string
		wantRegion  string
	}{
		{
			name:        "config values",
			cfg:         &transporttest.Config{AWSAccountID: "123456789012", AWSRegion: "us-west-2"},
			wantAccount: "123456789012",
			wantRegion:  "us-west-2",
		},
		{
			name:        "fallback region",
			cfg:         &transporttest.Config{AWSAccountID: "'123456789012'"},
			wantAccount: "123456789012",
			wantRegion:  "us-east-1",
		},
		{
			name:        "localstack default account",
			cfg:         &transporttest.Config{AWSEndpoint: "http://localhost:4566"},
			wantAccount: localstackAccountID,
			wantRegion:  "us-east-1",
		},
		{
			name:        "nil config",
			cfg:         nil,
			wantAccount: "",
			wantRegion:  "us-east-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, region := resolveAccountAndRegion(tt.cfg, watermill.NopLogger{}, "us-east-1")
			assert.Equal(t, tt.wantAccount, account)
			assert.Equal(t, tt.wantRegion, region)
		})
	}
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "datum-captured", SanitizeName("datum/captured"))
	assert.Equal(t, "datum-acquired-v1", SanitizeName("datum.acquired:v1"))
}
