package datum

import (
	"github.com/cespare/xxhash/v2"

	"github.com/drblury/datumflow/internal/runtime/jsoncodec"
)

// Fingerprint identifies the logical event behind a datum when instance
// identity is not available, e.g. after a broker round trip.
type Fingerprint struct {
	SourceID  string
	Timestamp int64
	Samples   uint64
}

// FingerprintOf computes the fingerprint of d. Sample sets are hashed through
// their JSON encoding with map keys sorted and status values in the form a
// wire round trip yields, so a decoded copy hashes like its sender.
func FingerprintOf(d Datum) Fingerprint {
	fp := Fingerprint{
		SourceID:  d.SourceID(),
		Timestamp: d.Timestamp().UnixNano(),
	}
	if samples := SamplesOf(d); !samples.IsEmpty() {
		if raw, err := canonicalSamples(samples); err == nil {
			fp.Samples = xxhash.Sum64(raw)
		}
	}
	return fp
}

func canonicalSamples(s *Samples) ([]byte, error) {
	canonical := *s
	status, err := canonicalStatus(s.Status)
	if err != nil {
		return nil, err
	}
	canonical.Status = status
	return jsoncodec.Marshal(&canonical)
}

type detachable interface {
	Detached() bool
}

// IsDetached reports whether d was decoded from a wire payload.
func IsDetached(d Datum) bool {
	if dd, ok := d.(detachable); ok {
		return dd.Detached()
	}
	return false
}

// Same reports whether a and b refer to the same logical event. In-process
// datum compare by instance. When either side is detached the comparison
// falls back to Fingerprint equality.
func Same(a, b Datum) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return true
	}
	if !IsDetached(a) && !IsDetached(b) {
		return false
	}
	return a.Kind() == b.Kind() && FingerprintOf(a) == FingerprintOf(b)
}
