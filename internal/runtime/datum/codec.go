package datum

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/datumflow/internal/runtime/jsoncodec"
)

// ErrInvalidPayload is returned when a payload cannot be decoded into a datum.
var ErrInvalidPayload = errors.New("datum: invalid payload")

type wireDatum struct {
	Kind       string    `json:"kind"`
	LocationID string    `json:"locationId,omitempty"`
	SourceID   string    `json:"sourceId"`
	Created    time.Time `json:"created"`
	Samples    *Samples  `json:"samples,omitempty"`
}

func toWire(d Datum) wireDatum {
	return wireDatum{
		Kind:       d.Kind().String(),
		LocationID: LocationOf(d),
		SourceID:   d.SourceID(),
		Created:    d.Timestamp(),
		Samples:    SamplesOf(d),
	}
}

func (w wireDatum) toDatum() (*SimpleDatum, error) {
	if w.SourceID == "" {
		return nil, fmt.Errorf("%w: missing sourceId", ErrInvalidPayload)
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &SimpleDatum{
		kind:       kind,
		locationID: w.LocationID,
		sourceID:   w.SourceID,
		timestamp:  w.Created,
		samples:    w.Samples,
		detached:   true,
	}, nil
}

// Marshal encodes d as JSON.
func Marshal(d Datum) ([]byte, error) {
	if d == nil {
		return nil, errors.New("datum: nil datum")
	}
	return jsoncodec.Marshal(toWire(d))
}

// Unmarshal decodes a JSON payload produced by Marshal. The result is detached.
func Unmarshal(data []byte) (*SimpleDatum, error) {
	var w wireDatum
	if err := jsoncodec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return w.toDatum()
}

// MarshalProto encodes d as a protobuf Struct for binary brokers.
func MarshalProto(d Datum) ([]byte, error) {
	if d == nil {
		return nil, errors.New("datum: nil datum")
	}
	fields := map[string]any{
		"kind":     d.Kind().String(),
		"sourceId": d.SourceID(),
		"created":  strconv.FormatInt(d.Timestamp().UnixNano(), 10),
	}
	if loc := LocationOf(d); loc != "" {
		fields["locationId"] = loc
	}
	if samples := SamplesOf(d); samples != nil {
		m, err := samplesToMap(samples)
		if err != nil {
			return nil, err
		}
		fields["samples"] = m
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("datum: encode struct: %w", err)
	}
	return proto.Marshal(st)
}

// UnmarshalProto decodes a payload produced by MarshalProto. The result is detached.
func UnmarshalProto(data []byte) (*SimpleDatum, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	fields := st.AsMap()

	w := wireDatum{}
	w.Kind, _ = fields["kind"].(string)
	w.SourceID, _ = fields["sourceId"].(string)
	w.LocationID, _ = fields["locationId"].(string)
	created, _ := fields["created"].(string)
	nanos, err := strconv.ParseInt(created, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: created: %v", ErrInvalidPayload, err)
	}
	w.Created = time.Unix(0, nanos).UTC()
	if raw, ok := fields["samples"].(map[string]any); ok {
		w.Samples = samplesFromMap(raw)
	}
	return w.toDatum()
}

func samplesToMap(s *Samples) (map[string]any, error) {
	out := make(map[string]any, 4)
	if len(s.Instantaneous) > 0 {
		out["i"] = floatsToAny(s.Instantaneous)
	}
	if len(s.Accumulating) > 0 {
		out["a"] = floatsToAny(s.Accumulating)
	}
	if len(s.Status) > 0 {
		status, err := canonicalStatus(s.Status)
		if err != nil {
			return nil, err
		}
		out["s"] = status
	}
	if len(s.Tags) > 0 {
		tags := make([]any, len(s.Tags))
		for i, t := range s.Tags {
			tags[i] = t
		}
		out["t"] = tags
	}
	return out, nil
}

// canonicalStatus converts status values to the plain JSON values both codecs
// decode them as: objects become map[string]any, arrays []any and numbers
// float64. Decoded status maps are already canonical.
func canonicalStatus(status map[string]any) (map[string]any, error) {
	if len(status) == 0 {
		return nil, nil
	}
	raw, err := jsoncodec.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("datum: encode status: %w", err)
	}
	var out map[string]any
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("datum: decode status: %w", err)
	}
	return out, nil
}

func samplesFromMap(m map[string]any) *Samples {
	s := NewSamples()
	if raw, ok := m["i"].(map[string]any); ok {
		s.Instantaneous = anyToFloats(raw)
	}
	if raw, ok := m["a"].(map[string]any); ok {
		s.Accumulating = anyToFloats(raw)
	}
	if raw, ok := m["s"].(map[string]any); ok {
		s.Status = raw
	}
	if raw, ok := m["t"].([]any); ok {
		for _, t := range raw {
			if tag, ok := t.(string); ok {
				s.Tags = append(s.Tags, tag)
			}
		}
	}
	return s
}

func floatsToAny(in map[string]float64) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func anyToFloats(in map[string]any) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
