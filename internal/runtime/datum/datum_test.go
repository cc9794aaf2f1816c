package datum

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 10, 15, 0, 123000000, time.UTC)

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindNode, KindLocation} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("weather")
	assert.Error(t, err)
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestCopyWithSamplesLeavesOriginal(t *testing.T) {
	original := NewNodeDatum("S1", testTime, NewSamples().PutInstantaneous("watts", 1))
	replacement := NewSamples().PutInstantaneous("watts", 2)

	copied := original.CopyWithSamples(replacement)

	require.IsType(t, &SimpleDatum{}, copied)
	assert.NotSame(t, original, copied)
	assert.Same(t, replacement, copied.(*SimpleDatum).Samples())
	v, _ := original.Samples().InstantaneousValue("watts")
	assert.Equal(t, 1.0, v)
	assert.Equal(t, original.SourceID(), copied.SourceID())
	assert.Equal(t, original.Timestamp(), copied.Timestamp())
}

func TestLocationDatum(t *testing.T) {
	d := NewLocationDatum("L7", "weather", testTime, nil)

	assert.Equal(t, KindLocation, d.Kind())
	assert.Equal(t, "L7", LocationOf(d))
	assert.Contains(t, d.String(), "loc=L7")
	assert.Nil(t, SamplesOf(d))
}

func TestSamplesHelpers(t *testing.T) {
	s := NewSamples().
		PutInstantaneous("watts", 12.5).
		PutAccumulating("wattHours", 1000).
		PutStatus("phase", "A").
		AddTag("solar").
		AddTag("solar")

	assert.False(t, s.IsEmpty())
	assert.Equal(t, []string{"solar"}, s.Tags)
	assert.True(t, s.HasTag("solar"))
	v, ok := s.AccumulatingValue("wattHours")
	assert.True(t, ok)
	assert.Equal(t, 1000.0, v)
	status, ok := s.StatusValue("phase")
	assert.True(t, ok)
	assert.Equal(t, "A", status)

	var nilSamples *Samples
	assert.True(t, nilSamples.IsEmpty())
	_, ok = nilSamples.InstantaneousValue("watts")
	assert.False(t, ok)
}

func TestSamplesCloneAndEqual(t *testing.T) {
	s := NewSamples().PutInstantaneous("watts", 1).AddTag("a")
	clone := s.Clone()

	assert.True(t, s.Equal(clone))
	clone.PutInstantaneous("watts", 2)
	assert.False(t, s.Equal(clone))
	assert.True(t, NewSamples().Equal(nil))
	assert.False(t, s.Equal(nil))
}

func TestSameInstanceIdentity(t *testing.T) {
	a := NewNodeDatum("S1", testTime, NewSamples().PutInstantaneous("w", 1))
	twin := NewNodeDatum("S1", testTime, NewSamples().PutInstantaneous("w", 1))

	assert.True(t, Same(a, a))
	assert.False(t, Same(a, twin), "equal but distinct in-process instances are different events")
	assert.False(t, Same(a, nil))
}

func TestSameDetachedUsesFingerprint(t *testing.T) {
	a := NewNodeDatum("S1", testTime, NewSamples().PutInstantaneous("w", 1).PutStatus("mode", "on"))

	raw, err := Marshal(a)
	require.NoError(t, err)
	decoded, err := Unmarshal(raw)
	require.NoError(t, err)

	assert.True(t, decoded.Detached())
	assert.True(t, Same(a, decoded))
	assert.Equal(t, FingerprintOf(a), FingerprintOf(decoded))

	other := NewNodeDatum("S1", testTime, NewSamples().PutInstantaneous("w", 2))
	assert.False(t, Same(other, decoded))
}

type panelState struct {
	Mode    string `json:"mode"`
	Alarm   bool   `json:"alarm"`
	Battery int    `json:"battery"`
}

func TestDecodedTwinMatchesForNonScalarStatus(t *testing.T) {
	codecs := map[string]struct {
		encode func(Datum) ([]byte, error)
		decode func([]byte) (*SimpleDatum, error)
	}{
		"json":  {Marshal, Unmarshal},
		"proto": {MarshalProto, UnmarshalProto},
	}
	statuses := map[string]any{
		"large int64":  int64(1<<60 + 1),
		"uint64":       uint64(1<<63 + 7),
		"struct":       panelState{Mode: "grid", Alarm: true, Battery: 80},
		"struct ptr":   &panelState{Mode: "island"},
		"string slice": []string{"b", "a"},
		"typed map":    map[string]int{"z": 1, "a": 2},
		"nested":       map[string]any{"inner": []int{3, 1}},
	}

	for codecName, codec := range codecs {
		for statusName, value := range statuses {
			t.Run(codecName+"/"+statusName, func(t *testing.T) {
				a := NewNodeDatum("S1", testTime, NewSamples().
					PutInstantaneous("w", 1).
					PutStatus("x", value))

				raw, err := codec.encode(a)
				require.NoError(t, err)
				decoded, err := codec.decode(raw)
				require.NoError(t, err)

				assert.Equal(t, FingerprintOf(a), FingerprintOf(decoded))
				assert.True(t, Same(a, decoded))
			})
		}
	}
}

func TestProtoCodecEncodesTypedStatusValues(t *testing.T) {
	a := NewNodeDatum("S1", testTime, NewSamples().
		PutStatus("phases", []string{"L1", "L2"}).
		PutStatus("limits", map[string]int{"max": 10}))

	raw, err := MarshalProto(a)
	require.NoError(t, err)
	decoded, err := UnmarshalProto(raw)
	require.NoError(t, err)

	phases, ok := decoded.Samples().StatusValue("phases")
	require.True(t, ok)
	assert.Equal(t, []any{"L1", "L2"}, phases)
	limits, ok := decoded.Samples().StatusValue("limits")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"max": float64(10)}, limits)
}

func TestProtoCodecRejectsUnencodableStatus(t *testing.T) {
	a := NewNodeDatum("S1", testTime, NewSamples().PutStatus("ch", make(chan int)))
	_, err := MarshalProto(a)
	assert.ErrorContains(t, err, "encode status")
}

func TestUnmarshalRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "{"},
		{"missing source", `{"kind":"node","created":"2024-03-01T10:15:00Z"}`},
		{"unknown kind", `{"kind":"x","sourceId":"S1","created":"2024-03-01T10:15:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestProtoCodec(t *testing.T) {
	a := NewLocationDatum("L1", "S9", testTime, NewSamples().
		PutInstantaneous("temp", 21.5).
		PutAccumulating("rain", 3).
		PutStatus("sky", "clear").
		AddTag("weather"))

	raw, err := MarshalProto(a)
	require.NoError(t, err)
	decoded, err := UnmarshalProto(raw)
	require.NoError(t, err)

	assert.Equal(t, KindLocation, decoded.Kind())
	assert.Equal(t, "L1", decoded.LocationID())
	assert.True(t, decoded.Timestamp().Equal(testTime))
	assert.True(t, a.Samples().Equal(decoded.Samples()))
	assert.True(t, Same(a, decoded))
}

func TestProtoCodecRejectsGarbage(t *testing.T) {
	_, err := UnmarshalProto([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestContextCarriesSameInstance(t *testing.T) {
	a := NewNodeDatum("S1", testTime, nil)
	ctx := NewContext(context.Background(), a)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
