// Package path provides the immutable path value type used by the adapter.
// A Path is an ordered list of segments plus a rooted flag; operations
// return new values and never mutate the receiver.
package path

import "strings"

// Path is an immutable virtual filesystem path.
type Path struct {
	segments []string
	rooted   bool
}

// New parses a slash-separated string into a Path. Empty segments are
// dropped, so "/a//b/" and "/a/b" parse identically. "." and ".." are kept
// verbatim; the backing store decides what they mean.
func New(s string) Path {
	p := Path{rooted: strings.HasPrefix(s, "/")}
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			p.segments = append(p.segments, seg)
		}
	}
	return p
}

// Root is the rooted empty path.
func Root() Path { return Path{rooted: true} }

// Prepend returns prefix ++ p: a new Path whose segments are the prefix's
// segments followed by p's, rooted like the prefix. The receiver is left
// untouched. Prepending an empty prefix yields a rooted copy of p.
func (p Path) Prepend(prefix string) Path {
	pre := New(prefix)
	out := Path{rooted: true}
	out.segments = make([]string, 0, len(pre.segments)+len(p.segments))
	out.segments = append(out.segments, pre.segments...)
	out.segments = append(out.segments, p.segments...)
	return out
}

// IsRoot reports whether p is the rooted path with no segments.
func (p Path) IsRoot() bool { return p.rooted && len(p.segments) == 0 }

// Segments returns a copy of the path's segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Join renders the path as a slash-separated string. Rooted paths carry a
// leading slash; the rooted empty path renders as "/".
func (p Path) Join() string {
	joined := strings.Join(p.segments, "/")
	if p.rooted {
		return "/" + joined
	}
	return joined
}

func (p Path) String() string { return p.Join() }
