// Package ordered provides the order-preserving set and map types used
// by [descriptor.ArchiveDescriptor]: compilerPluginIds, moduleDependencies
// and the various path-prefix filters must round-trip in declaration
// order (spec §3, §4.3), which a bare map or a sorted slice cannot do.
package ordered

import (
	"encoding/json"
	"fmt"
)

// Set is an insertion-ordered set of strings. The zero value is an
// empty set ready to use.
type Set struct {
	items []string
	index map[string]int
}

// NewSet builds a Set containing items, in order, de-duplicated by
// first occurrence.
func NewSet(items ...string) *Set {
	s := &Set{}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add appends v to the set if not already present. Reports whether it
// was added.
func (s *Set) Add(v string) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = len(s.items)
	s.items = append(s.items, v)
	return true
}

// Contains reports whether v is a member.
func (s *Set) Contains(v string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[v]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns the members in insertion order. The caller must not
// modify the returned slice.
func (s *Set) Items() []string {
	if s == nil {
		return nil
	}
	return s.items
}

// HasPrefixMatch reports whether candidate starts with any member of
// s, implementing the filter semantics of spec §4.5: an empty filter
// (nil or zero members) is unrestricted and always matches.
func (s *Set) HasPrefixMatch(candidate string) bool {
	if s.Len() == 0 {
		return true
	}
	for _, prefix := range s.items {
		if len(candidate) >= len(prefix) && candidate[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (s *Set) MarshalJSON() ([]byte, error) {
	if s == nil || len(s.items) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(s.items)
}

func (s *Set) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("ordered set: %w", err)
	}
	*s = Set{}
	for _, it := range items {
		s.Add(it)
	}
	return nil
}

// Equal reports whether s and other contain the same members in the
// same order.
func (s *Set) Equal(other *Set) bool {
	a, b := s.Items(), other.Items()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
