package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/datumflow/internal/runtime/datum"
	errspkg "github.com/drblury/datumflow/internal/runtime/errors"
	idspkg "github.com/drblury/datumflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/datumflow/internal/runtime/metadata"
)

// Producer announces datum on a broadcast topic.
type Producer interface {
	PublishDatum(ctx context.Context, topic string, d datum.Datum, event string, md metadatapkg.Metadata) error
}

// NewDatumMessage builds a JSON broadcast message for d.
func NewDatumMessage(ctx context.Context, d datum.Datum, event string) (*message.Message, error) {
	return NewDatumMessageWithCodec(ctx, d, event, CodecJSON, nil)
}

// NewDatumMessageWithCodec builds a broadcast message for d. The datum also
// travels in the message context, so in-process transports deliver the very
// same instance; everything else decodes the payload. Headers in md are
// added, but never override the reserved datum headers.
func NewDatumMessageWithCodec(ctx context.Context, d datum.Datum, event, codec string, md metadatapkg.Metadata) (*message.Message, error) {
	if d == nil {
		return nil, errspkg.ErrDatumRequired
	}
	if codec == "" {
		codec = CodecJSON
	}

	var (
		payload []byte
		err     error
	)
	switch codec {
	case CodecJSON:
		payload, err = datum.Marshal(d)
	case CodecProto:
		payload, err = datum.MarshalProto(d)
	default:
		return nil, fmt.Errorf("unknown datum codec %q", codec)
	}
	if err != nil {
		return nil, fmt.Errorf("encode datum: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md.WithAll(metadatapkg.ForDatum(d, event, codec)))
	if ctx == nil {
		ctx = context.Background()
	}
	msg.SetContext(datum.NewContext(ctx, d))
	return msg, nil
}

// PublishDatum encodes d and publishes it to topic.
func PublishDatum(ctx context.Context, publisher message.Publisher, topic string, d datum.Datum, event, codec string, md metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	msg, err := NewDatumMessageWithCodec(ctx, d, event, codec, md)
	if err != nil {
		return err
	}
	return publisher.Publish(topic, msg)
}

// PublishDatum emits d through the service's broadcast publisher using the
// configured codec.
func (s *Service) PublishDatum(ctx context.Context, topic string, d datum.Datum, event string, md metadatapkg.Metadata) error {
	return PublishDatum(ctx, s.publisher, topic, d, event, s.Conf.BroadcastCodec, md)
}

// PublishCaptured broadcasts d on the captured topic, the way a datum source
// announces a fresh reading to live observers.
func (s *Service) PublishCaptured(ctx context.Context, d datum.Datum) error {
	return s.PublishDatum(ctx, s.Conf.CapturedTopic, d, EventCaptured, nil)
}

func (q *DatumQueue) acquiredMessage(ctx context.Context, d datum.Datum) (*message.Message, error) {
	return NewDatumMessageWithCodec(ctx, d, EventAcquired, q.opts.AcquiredCodec, nil)
}
