// Package ruleid parses and classifies rule identifiers.
//
// A rule id is a dot-separated sequence of segments matching [A-Za-z0-9_-]+,
// optionally followed by a version suffix "+N" with N >= 1. An id without a
// suffix is version 1.
package ruleid

import (
	"strconv"
	"strings"
)

// ID is a parsed rule identifier.
type ID struct {
	Base    string
	Version int

	// explicit records whether the source text carried a "+N" suffix, so
	// String round-trips "a.b+1" as written.
	explicit bool
}

// Parse parses s into an ID. It returns false when s does not satisfy the
// segment grammar or carries a malformed version suffix.
func Parse(s string) (ID, bool) {
	if s == "" {
		return ID{}, false
	}
	base, suffix, hasSuffix := strings.Cut(s, "+")
	if !hasSuffix {
		if !validBase(s) {
			return ID{}, false
		}
		return ID{Base: s, Version: 1}, true
	}
	if base == "" || suffix == "" || strings.Contains(suffix, "+") {
		return ID{}, false
	}
	for i := 0; i < len(suffix); i++ {
		if suffix[i] < '0' || suffix[i] > '9' {
			return ID{}, false
		}
	}
	v, err := strconv.Atoi(suffix)
	if err != nil || v == 0 {
		return ID{}, false
	}
	if !validBase(base) {
		return ID{}, false
	}
	return ID{Base: base, Version: v, explicit: true}, true
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and static tables.
func MustParse(s string) ID {
	id, ok := Parse(s)
	if !ok {
		panic("ruleid: malformed id " + strconv.Quote(s))
	}
	return id
}

// ValidToken reports whether s is a syntactically valid rule id.
func ValidToken(s string) bool {
	_, ok := Parse(s)
	return ok
}

// String renders the id in its canonical textual form.
func (id ID) String() string {
	if id.Version <= 1 && !id.explicit {
		return id.Base
	}
	return id.Base + "+" + strconv.Itoa(id.Version)
}

// Segments returns the dot-separated segments of the base id.
func (id ID) Segments() []string {
	return strings.Split(id.Base, ".")
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.Base == ""
}

// Compare orders ids by base, then by version.
func Compare(a, b ID) int {
	if c := strings.Compare(a.Base, b.Base); c != 0 {
		return c
	}
	switch {
	case a.Version < b.Version:
		return -1
	case a.Version > b.Version:
		return 1
	}
	return 0
}

// Match is the relationship between a reference and a rule definition.
type Match int

const (
	NoMatch Match = iota
	Exact
	Stale
)

func (m Match) String() string {
	switch m {
	case Exact:
		return "exact"
	case Stale:
		return "stale"
	default:
		return "no-match"
	}
}

// Classify compares a reference against the definition it may point to.
// A reference to an older version of the same base is stale; a reference to
// a newer version than the one defined does not match.
func Classify(definition, reference ID) Match {
	if definition.Base != reference.Base {
		return NoMatch
	}
	switch {
	case definition.Version == reference.Version:
		return Exact
	case reference.Version < definition.Version:
		return Stale
	default:
		return NoMatch
	}
}

// Conventional reports whether s follows the naming convention: dot-separated
// segments of lowercase letters, digits or '-', each starting with a letter.
// A version suffix is ignored.
func Conventional(s string) bool {
	id, ok := Parse(s)
	if !ok {
		return false
	}
	for _, seg := range id.Segments() {
		if seg == "" || seg[0] < 'a' || seg[0] > 'z' {
			return false
		}
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}

func validBase(s string) bool {
	if s == "" {
		return false
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return false
		}
		for i := 0; i < len(seg); i++ {
			if !isSegmentByte(seg[i]) {
				return false
			}
		}
	}
	return true
}

// IsSegmentByte reports whether c may appear inside a segment.
func IsSegmentByte(c byte) bool {
	return isSegmentByte(c)
}

func isSegmentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}
