// Package metadata defines the headers carried by datum broadcast messages.
package metadata

import (
	"time"

	"github.com/drblury/datumflow/internal/runtime/datum"
)

// Reserved header keys.
const (
	// KeyEvent names the datum event ("captured" or "acquired").
	KeyEvent = "datumflow_event"
	// KeyCodec names the payload encoding; "json" when absent.
	KeyCodec = "datumflow_codec"
	// KeyCorrelationID tracks related messages across processes.
	KeyCorrelationID = "correlation_id"
	// KeySourceID and KeyKind let subscribers route without decoding the payload.
	KeySourceID = "datumflow_source_id"
	KeyKind     = "datumflow_kind"
	// KeyCreated is the datum timestamp in RFC 3339 with nanoseconds.
	KeyCreated = "datumflow_created"
)

// Metadata represents the headers carried alongside a datum.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ForDatum returns the routing headers for d.
func ForDatum(d datum.Datum, event, codec string) Metadata {
	return Metadata{
		KeyEvent:    event,
		KeyCodec:    codec,
		KeySourceID: d.SourceID(),
		KeyKind:     d.Kind().String(),
		KeyCreated:  d.Timestamp().UTC().Format(time.RFC3339Nano),
	}
}
