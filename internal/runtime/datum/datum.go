// Package datum defines the domain event that flows through the datum queue:
// a timestamped, source-identified bundle of sampled values.
package datum

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the record category of a datum. Persistence is resolved per kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindNode
	KindLocation
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindLocation:
		return "location"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "node":
		return KindNode, nil
	case "location":
		return KindLocation, nil
	default:
		return KindUnknown, fmt.Errorf("datum: unknown kind %q", s)
	}
}

// Datum is the minimal view the queue needs of a domain event. Implementations
// must be comparable (pointer types) because duplicate detection relies on
// instance identity.
type Datum interface {
	SourceID() string
	Timestamp() time.Time
	Kind() Kind
}

// SampleCarrier is implemented by datum whose sample set can be replaced by a
// transform.
type SampleCarrier interface {
	Datum
	Samples() *Samples
	CopyWithSamples(samples *Samples) Datum
}

// Located is implemented by datum tied to a location rather than the local node.
type Located interface {
	LocationID() string
}

// SimpleDatum is the stock Datum implementation.
type SimpleDatum struct {
	kind       Kind
	locationID string
	sourceID   string
	timestamp  time.Time
	samples    *Samples
	detached   bool
}

var (
	_ SampleCarrier = (*SimpleDatum)(nil)
	_ Located       = (*SimpleDatum)(nil)
)

// NewNodeDatum creates a datum captured by the local node.
func NewNodeDatum(sourceID string, ts time.Time, samples *Samples) *SimpleDatum {
	return &SimpleDatum{
		kind:      KindNode,
		sourceID:  sourceID,
		timestamp: ts,
		samples:   samples,
	}
}

// NewLocationDatum creates a datum that belongs to locationID.
func NewLocationDatum(locationID, sourceID string, ts time.Time, samples *Samples) *SimpleDatum {
	return &SimpleDatum{
		kind:       KindLocation,
		locationID: locationID,
		sourceID:   sourceID,
		timestamp:  ts,
		samples:    samples,
	}
}

func (d *SimpleDatum) SourceID() string     { return d.sourceID }
func (d *SimpleDatum) Timestamp() time.Time { return d.timestamp }
func (d *SimpleDatum) Kind() Kind           { return d.kind }
func (d *SimpleDatum) LocationID() string   { return d.locationID }
func (d *SimpleDatum) Samples() *Samples    { return d.samples }

// Detached reports whether d was decoded from a wire payload rather than
// handed over in-process. Detached datum are compared by Fingerprint.
func (d *SimpleDatum) Detached() bool { return d.detached }

// CopyWithSamples returns a new datum with the same identity fields and the
// given sample set. The receiver is left untouched.
func (d *SimpleDatum) CopyWithSamples(samples *Samples) Datum {
	clone := *d
	clone.samples = samples
	return &clone
}

func (d *SimpleDatum) String() string {
	if d == nil {
		return "<nil>"
	}
	if d.kind == KindLocation {
		return fmt.Sprintf("Datum{kind=%s,loc=%s,sourceId=%s,ts=%s}", d.kind, d.locationID, d.sourceID, d.timestamp.Format(time.RFC3339Nano))
	}
	return fmt.Sprintf("Datum{kind=%s,sourceId=%s,ts=%s}", d.kind, d.sourceID, d.timestamp.Format(time.RFC3339Nano))
}

// SamplesOf returns the sample set of d, or nil when d does not carry samples.
func SamplesOf(d Datum) *Samples {
	if sc, ok := d.(SampleCarrier); ok {
		return sc.Samples()
	}
	return nil
}

// LocationOf returns the location id of d, or "" for node datum.
func LocationOf(d Datum) string {
	if l, ok := d.(Located); ok {
		return l.LocationID()
	}
	return ""
}
