// Package rangeexpr parses textual range expressions into finite,
// restartable value generators.
//
// The grammar, applied per field:
//
//	literal:      7
//	range:        (10-12)        inclusive bounds
//	alternation:  1,5,9          discrete set, items may themselves be ranges
//
// Expressions compose per-octet inside a dotted quad (10.(3-5).0.1), inside
// a CIDR descriptor with a separate mask-length expression
// (10.(3-5).0.0/(16-20)), and inside AS-path notation where "/" separates
// segments and a leading "set," marks an AS_SET segment.
//
// Draws are sequential with wraparound: a generator enumerates its values
// in textual order and starts over when exhausted, so repeated draws are
// deterministic and test-reproducible. Composite expressions advance like
// an odometer with the rightmost field fastest.
package rangeexpr

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ErrInvalidSyntax indicates a range expression that cannot be parsed:
// non-numeric bounds, inverted bounds (lo > hi), an empty alternation
// item, or a value outside the field's permitted range.
var ErrInvalidSyntax = errors.New("invalid range syntax")

// -------------------------------------------------------------------------
// Integer Specs
// -------------------------------------------------------------------------

// atom is one inclusive [lo, hi] interval; a literal has lo == hi.
type atom struct {
	lo, hi uint64
}

// IntSpec generates integers from a parsed expression. Values come out in
// textual order — each alternation item fully enumerated before the next —
// and wrap around after the last.
type IntSpec struct {
	text  string
	atoms []atom

	cur    int    // index into atoms
	offset uint64 // offset within atoms[cur]
}

// ParseInt parses an integer expression whose every value must lie within
// [min, max].
func ParseInt(text string, min, max uint64) (*IntSpec, error) {
	items := strings.Split(text, ",")
	atoms := make([]atom, 0, len(items))
	for _, item := range items {
		a, err := parseAtom(item, min, max)
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, a)
	}
	return &IntSpec{text: text, atoms: atoms}, nil
}

// parseAtom parses one alternation item: a bare literal or "(lo-hi)".
func parseAtom(item string, min, max uint64) (atom, error) {
	if item == "" {
		return atom{}, fmt.Errorf("empty alternation item: %w", ErrInvalidSyntax)
	}

	if strings.HasPrefix(item, "(") {
		if !strings.HasSuffix(item, ")") {
			return atom{}, fmt.Errorf("unterminated range %q: %w", item, ErrInvalidSyntax)
		}
		lo, hi, ok := strings.Cut(item[1:len(item)-1], "-")
		if !ok {
			return atom{}, fmt.Errorf("range %q missing '-': %w", item, ErrInvalidSyntax)
		}
		a, err := parseBound(lo, min, max)
		if err != nil {
			return atom{}, err
		}
		b, err := parseBound(hi, min, max)
		if err != nil {
			return atom{}, err
		}
		if a > b {
			return atom{}, fmt.Errorf("range %q has lo > hi: %w", item, ErrInvalidSyntax)
		}
		return atom{lo: a, hi: b}, nil
	}

	v, err := parseBound(item, min, max)
	if err != nil {
		return atom{}, err
	}
	return atom{lo: v, hi: v}, nil
}

// parseBound parses a single decimal bound and checks it against [min, max].
func parseBound(s string, min, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bound %q is not a number: %w", s, ErrInvalidSyntax)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value %d outside [%d, %d]: %w", v, min, max, ErrInvalidSyntax)
	}
	return v, nil
}

// current returns the value at the cursor without advancing.
func (s *IntSpec) current() uint64 {
	return s.atoms[s.cur].lo + s.offset
}

// advance moves the cursor one step and reports whether it wrapped back to
// the first value.
func (s *IntSpec) advance() bool {
	a := s.atoms[s.cur]
	if s.offset < a.hi-a.lo {
		s.offset++
		return false
	}
	s.offset = 0
	s.cur++
	if s.cur == len(s.atoms) {
		s.cur = 0
		return true
	}
	return false
}

// Next draws the next value.
func (s *IntSpec) Next() uint64 {
	v := s.current()
	s.advance()
	return v
}

// Reset rewinds the generator to its first value.
func (s *IntSpec) Reset() {
	s.cur, s.offset = 0, 0
}

// Count reports how many values one full cycle produces.
func (s *IntSpec) Count() uint64 {
	var n uint64
	for _, a := range s.atoms {
		n += a.hi - a.lo + 1
	}
	return n
}

// String returns the original expression text.
func (s *IntSpec) String() string { return s.text }

// -------------------------------------------------------------------------
// Dotted-Quad Specs
// -------------------------------------------------------------------------

// QuadSpec generates IPv4 addresses from a dotted quad whose octets are
// each an integer expression. Octets advance odometer-style, rightmost
// fastest.
type QuadSpec struct {
	text   string
	octets [4]*IntSpec
}

// ParseQuad parses a dotted-quad expression such as "10.(3-5).0.1".
func ParseQuad(text string) (*QuadSpec, error) {
	parts := strings.Split(text, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%q has %d octets, want 4: %w", text, len(parts), ErrInvalidSyntax)
	}
	spec := &QuadSpec{text: text}
	for i, part := range parts {
		s, err := ParseInt(part, 0, 255)
		if err != nil {
			return nil, fmt.Errorf("octet %d of %q: %w", i+1, text, err)
		}
		spec.octets[i] = s
	}
	return spec, nil
}

// Next draws the next address.
func (s *QuadSpec) Next() netip.Addr {
	var quad [4]byte
	for i, o := range s.octets {
		quad[i] = byte(o.current())
	}
	for i := 3; i >= 0; i-- {
		if !s.octets[i].advance() {
			break
		}
	}
	return netip.AddrFrom4(quad)
}

// Reset rewinds all four octet generators.
func (s *QuadSpec) Reset() {
	for _, o := range s.octets {
		o.Reset()
	}
}

// String returns the original expression text.
func (s *QuadSpec) String() string { return s.text }

// -------------------------------------------------------------------------
// CIDR Specs
// -------------------------------------------------------------------------

// CIDRSpec generates IPv4 prefixes from an address expression and a mask
// length expression, written "quad/mask". The mask advances fastest; a
// full mask cycle carries into the address.
type CIDRSpec struct {
	text string
	addr *QuadSpec
	mask *IntSpec
}

// ParseCIDR parses a prefix expression such as "10.(3-5).0.0/(16-20)".
func ParseCIDR(text string) (*CIDRSpec, error) {
	quad, mask, ok := strings.Cut(text, "/")
	if !ok {
		return nil, fmt.Errorf("%q missing '/': %w", text, ErrInvalidSyntax)
	}
	a, err := ParseQuad(quad)
	if err != nil {
		return nil, err
	}
	m, err := ParseInt(mask, 0, 32)
	if err != nil {
		return nil, fmt.Errorf("mask of %q: %w", text, err)
	}
	return &CIDRSpec{text: text, addr: a, mask: m}, nil
}

// Next draws the next prefix, masked to its length.
func (s *CIDRSpec) Next() netip.Prefix {
	var quad [4]byte
	for i, o := range s.addr.octets {
		quad[i] = byte(o.current())
	}
	bits := int(s.mask.current())

	if s.mask.advance() {
		for i := 3; i >= 0; i-- {
			if !s.addr.octets[i].advance() {
				break
			}
		}
	}

	return netip.PrefixFrom(netip.AddrFrom4(quad), bits).Masked()
}

// Reset rewinds the address and mask generators.
func (s *CIDRSpec) Reset() {
	s.addr.Reset()
	s.mask.Reset()
}

// String returns the original expression text.
func (s *CIDRSpec) String() string { return s.text }

// -------------------------------------------------------------------------
// AS-Path Specs
// -------------------------------------------------------------------------

// Segment is one drawn AS-path segment.
type Segment struct {
	// Set marks an AS_SET segment; otherwise AS_SEQUENCE.
	Set bool

	// ASNs are the drawn autonomous system numbers, in order.
	ASNs []uint16
}

// segmentSpec is one parsed AS-path segment template.
type segmentSpec struct {
	set   bool
	elems []*IntSpec
}

// ASPathSpec generates AS paths from path notation: AS numbers separated
// by commas form an AS_SEQUENCE segment, a leading "set," makes the
// segment an AS_SET, and "/" separates multiple segments. Each element may
// be a range expression. An empty expression is a valid empty path.
type ASPathSpec struct {
	text     string
	segments []segmentSpec
}

// ParseASPath parses path notation such as "1,2,(3-5)/set,7,8".
func ParseASPath(text string) (*ASPathSpec, error) {
	spec := &ASPathSpec{text: text}
	if text == "" {
		return spec, nil
	}

	for _, segText := range strings.Split(text, "/") {
		var seg segmentSpec
		rest, ok := strings.CutPrefix(segText, "set,")
		if ok {
			seg.set = true
		} else {
			rest = segText
		}
		if rest == "" {
			return nil, fmt.Errorf("empty segment in %q: %w", text, ErrInvalidSyntax)
		}
		for _, item := range strings.Split(rest, ",") {
			e, err := ParseInt(item, 0, 0xffff)
			if err != nil {
				return nil, fmt.Errorf("segment %q of %q: %w", segText, text, err)
			}
			seg.elems = append(seg.elems, e)
		}
		spec.segments = append(spec.segments, seg)
	}

	return spec, nil
}

// Next draws one concrete AS path, drawing each element independently.
func (s *ASPathSpec) Next() []Segment {
	if len(s.segments) == 0 {
		return nil
	}
	out := make([]Segment, len(s.segments))
	for i, seg := range s.segments {
		drawn := Segment{Set: seg.set, ASNs: make([]uint16, len(seg.elems))}
		for j, e := range seg.elems {
			drawn.ASNs[j] = uint16(e.Next())
		}
		out[i] = drawn
	}
	return out
}

// Reset rewinds every element generator in every segment.
func (s *ASPathSpec) Reset() {
	for _, seg := range s.segments {
		for _, e := range seg.elems {
			e.Reset()
		}
	}
}

// String returns the original expression text.
func (s *ASPathSpec) String() string { return s.text }
