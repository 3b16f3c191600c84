package path

import (
	"errors"
	"strings"
)

// ErrMalformedPath is returned when a segment contains a dangling escape
// character, i.e. a "-" not followed by "X", "Y", or "-".
var ErrMalformedPath = errors.New("path: malformed escape sequence")

// Path is an ordered sequence of non-empty, unescaped segments. The zero
// value is the root.
type Path struct {
	segments []string
}

// Root is the empty path, canonically rendered as "/".
var Root = Path{}

// FromEscaped parses the canonical escaped string form of a path. Parsing
// never panics and always returns a usable Path; on a malformed escape
// sequence it returns the root alongside ErrMalformedPath, per §4.1.
// Whitespace-only segments are silently dropped, so "///" and "/ /"
// both parse to the root.
func FromEscaped(s string) (Path, error) {
	raw := strings.Split(s, "/")
	segments := make([]string, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		seg, err := unescape(r)
		if err != nil {
			return Root, err
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return Root, nil
	}
	return Path{segments: segments}, nil
}

func unescape(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '-' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", ErrMalformedPath
		}
		switch s[i+1] {
		case 'X':
			b.WriteByte('/')
		case 'Y':
			b.WriteByte('\\')
		case '-':
			b.WriteByte('-')
		default:
			return "", ErrMalformedPath
		}
		i++
	}
	return b.String(), nil
}

func escapeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '/':
			b.WriteString("-X")
		case '\\':
			b.WriteString("-Y")
		case '-':
			b.WriteString("--")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Escaped renders the path in canonical escaped string form. Escaped is the
// inverse of FromEscaped for every well-formed path (law L1 in spec.md §8).
func (p Path) Escaped() string {
	if p.IsRoot() {
		return "/"
	}
	escaped := make([]string, len(p.segments))
	for i, s := range p.segments {
		escaped[i] = escapeSegment(s)
	}
	return "/" + strings.Join(escaped, "/")
}

// String satisfies fmt.Stringer with the escaped canonical form.
func (p Path) String() string {
	return p.Escaped()
}

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Segments returns a copy of the path's unescaped segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Name returns the path's last segment, or "" for the root.
func (p Path) Name() string {
	if p.IsRoot() {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path's immediate parent. Calling Parent on the root
// returns (Root, false): the root has no parent.
func (p Path) Parent() (Path, bool) {
	if p.IsRoot() {
		return Root, false
	}
	if len(p.segments) == 1 {
		return Root, true
	}
	return Path{segments: append([]string(nil), p.segments[:len(p.segments)-1]...)}, true
}

// Ancestors enumerates root through the immediate parent, inclusive of
// root, for any non-root path (§4.1). Calling Ancestors on the root
// returns an empty slice.
func (p Path) Ancestors() []Path {
	if p.IsRoot() {
		return nil
	}
	out := make([]Path, 0, len(p.segments))
	cur := Root
	out = append(out, cur)
	for i := 0; i < len(p.segments)-1; i++ {
		cur = cur.Child(p.segments[i])
		out = append(out, cur)
	}
	return out
}

// Child returns a new path with a single segment appended. The receiver
// is never mutated.
func (p Path) Child(segment string) Path {
	segs := make([]string, len(p.segments)+1)
	copy(segs, p.segments)
	segs[len(p.segments)] = segment
	return Path{segments: segs}
}

// ChildPath returns a new path with all of the given segments appended in
// order. The receiver is never mutated.
func (p Path) ChildPath(segments ...string) Path {
	segs := make([]string, len(p.segments)+len(segments))
	copy(segs, p.segments)
	copy(segs[len(p.segments):], segments)
	return Path{segments: segs}
}

// Equal reports structural equality over unescaped segments.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}
