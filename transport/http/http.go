// Package http provides an HTTP webhook transport. Each process posts
// captured datum to a peer URL and serves its own topic routes.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/datumflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register adds the HTTP transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates a new HTTP transport. The subscriber's server is not started
// here: routes exist only once topics are subscribed, so callers start it
// through StartServer after the router is running.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if serverAddr == "" || publisherURL == "" {
		return transport.Transport{}, errors.New("http: server address and publisher url are required")
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &Subscriber{next: subscriber},
	}, nil
}

// TopicURL joins the peer base URL and a topic.
func TopicURL(base, topic string) string {
	return strings.TrimSuffix(base, "/") + TopicPath(topic)
}

// TopicPath is the route a topic is served on.
func TopicPath(topic string) string {
	return "/" + strings.TrimPrefix(topic, "/")
}

// Subscriber maps topics to routes on the wrapped webhook subscriber.
type Subscriber struct {
	next message.Subscriber
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.next.Subscribe(ctx, TopicPath(topic))
}

func (s *Subscriber) Close() error {
	return s.next.Close()
}

// StartHTTPServer serves the subscribed routes and blocks until the server stops.
func (s *Subscriber) StartHTTPServer() error {
	starter, ok := s.next.(interface{ StartHTTPServer() error })
	if !ok {
		return nil
	}
	return starter.StartHTTPServer()
}

// StartServer runs sub's HTTP server in the background when sub is an HTTP
// transport subscriber. It reports whether a server was started.
func StartServer(sub message.Subscriber, logger watermill.LoggerAdapter) bool {
	s, ok := sub.(*Subscriber)
	if !ok {
		return false
	}
	go func() {
		if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) && logger != nil {
			logger.Error("HTTP subscriber server stopped", err, nil)
		}
	}()
	return true
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
