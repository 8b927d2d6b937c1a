package mapping

import (
	"sort"
	"strings"
)

// Entry is one curated lookup row.
type Entry struct {
	ID        string
	NameParts []string
	Category  string
}

func (e Entry) Name() string {
	return strings.Join(e.NameParts, ", ")
}

// Resolution is the outcome of looking up one raw value. The zero value is the unmapped marker.
type Resolution struct {
	Entry
	Raw    string
	Mapped bool
}

// Unmapped reports a raw value that has no entry.
func Unmapped(raw string) Resolution {
	return Resolution{Raw: raw}
}

// SetResolution is the outcome of resolving a multi-valued attribute.
type SetResolution struct {
	IDs        []string
	Categories string
	Misses     []string
}

// Set is an immutable lookup set for one mapping kind.
type Set struct {
	kind    Kind
	entries map[string]Entry
	size    int
}

// NewSet indexes entries by their normalized name. When two entries normalize to the same name the first
// one wins, so callers pass entries ordered by id.
func NewSet(kind Kind, entries []Entry) *Set {
	s := &Set{kind: kind, entries: make(map[string]Entry, len(entries)), size: len(entries)}
	for _, e := range entries {
		key := Key(e.NameParts...)
		if key == "" {
			continue
		}
		if _, exists := s.entries[key]; exists {
			continue
		}
		s.entries[key] = e
	}
	return s
}

func (s *Set) Kind() Kind {
	return s.kind
}

// Len is the number of distinct normalized names in the set.
func (s *Set) Len() int {
	return len(s.entries)
}

// Shadowed is the number of entries hidden because another entry normalizes to the same name.
func (s *Set) Shadowed() int {
	return s.size - len(s.entries)
}

// Resolve looks up a raw value. Composite kinds such as location take one part per name column.
func (s *Set) Resolve(parts ...string) Resolution {
	raw := strings.Join(parts, keySeparator)
	key := Key(parts...)
	if key == "" {
		return Unmapped(raw)
	}

	e, ok := s.entries[key]
	if !ok {
		return Unmapped(raw)
	}

	return Resolution{Entry: e, Raw: raw, Mapped: true}
}

// ResolveAll maps each element of a multi-valued attribute independently and aggregates the categories
// of the mapped elements. Blank elements are ignored, unmatched ones are reported as misses.
func (s *Set) ResolveAll(raws []string) SetResolution {
	var (
		ids        []string
		categories []string
		misses     []string
		seenIDs    = map[string]bool{}
	)

	for _, raw := range raws {
		if strings.TrimSpace(raw) == "" {
			continue
		}

		r := s.Resolve(raw)
		if !r.Mapped {
			misses = append(misses, raw)
			continue
		}

		if !seenIDs[r.ID] {
			seenIDs[r.ID] = true
			ids = append(ids, r.ID)
		}

		category := r.Category
		if category == "" {
			category = r.Name()
		}
		categories = append(categories, category)
	}

	sort.Strings(ids)

	return SetResolution{
		IDs:        ids,
		Categories: Aggregate(categories),
		Misses:     misses,
	}
}
