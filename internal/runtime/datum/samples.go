package datum

import (
	"maps"
	"reflect"
	"slices"
)

// Samples is the set of values sampled for one datum.
type Samples struct {
	Instantaneous map[string]float64 `json:"i,omitempty"`
	Accumulating  map[string]float64 `json:"a,omitempty"`
	Status        map[string]any     `json:"s,omitempty"`
	Tags          []string           `json:"t,omitempty"`
}

func NewSamples() *Samples {
	return &Samples{}
}

func (s *Samples) PutInstantaneous(key string, value float64) *Samples {
	if s.Instantaneous == nil {
		s.Instantaneous = make(map[string]float64)
	}
	s.Instantaneous[key] = value
	return s
}

func (s *Samples) PutAccumulating(key string, value float64) *Samples {
	if s.Accumulating == nil {
		s.Accumulating = make(map[string]float64)
	}
	s.Accumulating[key] = value
	return s
}

func (s *Samples) PutStatus(key string, value any) *Samples {
	if s.Status == nil {
		s.Status = make(map[string]any)
	}
	s.Status[key] = value
	return s
}

// AddTag appends tag unless already present.
func (s *Samples) AddTag(tag string) *Samples {
	if !slices.Contains(s.Tags, tag) {
		s.Tags = append(s.Tags, tag)
	}
	return s
}

func (s *Samples) InstantaneousValue(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.Instantaneous[key]
	return v, ok
}

func (s *Samples) AccumulatingValue(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.Accumulating[key]
	return v, ok
}

func (s *Samples) StatusValue(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Status[key]
	return v, ok
}

func (s *Samples) HasTag(tag string) bool {
	return s != nil && slices.Contains(s.Tags, tag)
}

// IsEmpty reports whether no values are present. A nil set is empty.
func (s *Samples) IsEmpty() bool {
	return s == nil || (len(s.Instantaneous) == 0 && len(s.Accumulating) == 0 && len(s.Status) == 0 && len(s.Tags) == 0)
}

// Clone copies the maps and tags. Status values are copied shallowly.
func (s *Samples) Clone() *Samples {
	if s == nil {
		return nil
	}
	return &Samples{
		Instantaneous: maps.Clone(s.Instantaneous),
		Accumulating:  maps.Clone(s.Accumulating),
		Status:        maps.Clone(s.Status),
		Tags:          slices.Clone(s.Tags),
	}
}

// Equal compares two sample sets structurally. Empty and nil collections are equal.
func (s *Samples) Equal(other *Samples) bool {
	if s.IsEmpty() || other.IsEmpty() {
		return s.IsEmpty() && other.IsEmpty()
	}
	if !maps.Equal(s.Instantaneous, other.Instantaneous) || !maps.Equal(s.Accumulating, other.Accumulating) {
		return false
	}
	if len(s.Status) != len(other.Status) || (len(s.Status) > 0 && !reflect.DeepEqual(s.Status, other.Status)) {
		return false
	}
	return slices.Equal(s.Tags, other.Tags)
}
