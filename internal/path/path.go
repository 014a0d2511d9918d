// Package path implements the broadcast path type used throughout the
// subscriber: an ordered sequence of string segments, composed by
// concatenation and compared by segment rather than by raw string.
package path

import "strings"

// Path is an ordered sequence of segments relative to a session root.
// The zero value is Empty.
type Path struct {
	segments []string
}

// Empty is the zero-length path.
var Empty = Path{}

// New builds a Path from individual segments.
func New(segments ...string) Path {
	if len(segments) == 0 {
		return Empty
	}
	cp := make([]string, len(segments))
	copy(cp, segments)
	return Path{segments: cp}
}

// Parse splits a "/"-delimited string into a Path, discarding empty
// segments produced by leading/trailing/doubled slashes.
func Parse(s string) Path {
	parts := strings.Split(s, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return New(segments...)
}

// Join concatenates p with more, returning a new Path.
func (p Path) Join(more Path) Path {
	out := make([]string, 0, len(p.segments)+len(more.segments))
	out = append(out, p.segments...)
	out = append(out, more.segments...)
	return Path{segments: out}
}

// HasPrefix reports whether prefix's segments are a prefix of p's segments.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segments) > len(p.segments) {
		return false
	}
	for i, s := range prefix.segments {
		if p.segments[i] != s {
			return false
		}
	}
	return true
}

// Equal reports whether p and other have identical segments.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}

// IsEmpty reports whether p has zero segments.
func (p Path) IsEmpty() bool {
	return len(p.segments) == 0
}

// Segments returns the underlying segment slice. Callers must not mutate it.
func (p Path) Segments() []string {
	return p.segments
}

// String renders p as a "/"-joined string.
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}
