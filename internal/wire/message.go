// Package wire implements the BGP-4 message codec (RFC 4271).
//
// This covers message framing, the 19-octet header, and the four message
// types OPEN, UPDATE, NOTIFICATION and KEEPALIVE, limited to 2-octet AS
// numbers and IPv4 prefixes. The codec is a pure transformation between
// Message values and wire bytes; stream reassembly and tracing live in
// the session layer.
package wire

import (
	"errors"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// Protocol Constants — RFC 4271 Section 4.1
// -------------------------------------------------------------------------

// PortBGP is the well-known TCP port assigned to BGP.
const PortBGP = 179

// Version is the BGP protocol version (RFC 4271). This codec speaks
// version 4 only.
const Version uint8 = 4

const (
	// MarkerLen is the length of the fixed message marker
	// (RFC 4271 Section 4.1: 16 octets, all ones without authentication).
	MarkerLen = 16

	// HeaderLen is the fixed BGP message header size:
	// marker(16) + length(2) + type(1).
	HeaderLen = 19

	// MaxLen is the maximum BGP message size
	// (RFC 4271 Section 4.1: 4096 octets including the header).
	MaxLen = 4096
)

// unknownFmt is the format string for unrecognized enum values.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Message Types — RFC 4271 Section 4.1
// -------------------------------------------------------------------------

// MsgType is the one-octet message type discriminant.
type MsgType uint8

const (
	// MsgOpen is the OPEN message type (RFC 4271 Section 4.2).
	MsgOpen MsgType = 1

	// MsgUpdate is the UPDATE message type (RFC 4271 Section 4.3).
	MsgUpdate MsgType = 2

	// MsgNotification is the NOTIFICATION message type (RFC 4271 Section 4.5).
	MsgNotification MsgType = 3

	// MsgKeepalive is the KEEPALIVE message type (RFC 4271 Section 4.4).
	MsgKeepalive MsgType = 4
)

// msgTypeNames maps message types to human-readable strings.
var msgTypeNames = map[MsgType]string{
	MsgOpen:         "OPEN",
	MsgUpdate:       "UPDATE",
	MsgNotification: "NOTIFICATION",
	MsgKeepalive:    "KEEPALIVE",
}

// String returns the human-readable name for the message type.
func (t MsgType) String() string {
	if n, ok := msgTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf(unknownFmt, uint8(t))
}

// -------------------------------------------------------------------------
// Path Attributes — RFC 4271 Section 4.3, Section 5
// -------------------------------------------------------------------------

// AttrCode is the one-octet path attribute type code.
type AttrCode uint8

const (
	// AttrOrigin is the ORIGIN attribute (RFC 4271 Section 5.1.1).
	AttrOrigin AttrCode = 1

	// AttrASPath is the AS_PATH attribute (RFC 4271 Section 5.1.2).
	AttrASPath AttrCode = 2

	// AttrNextHop is the NEXT_HOP attribute (RFC 4271 Section 5.1.3).
	AttrNextHop AttrCode = 3

	// AttrMultiExitDisc is the MULTI_EXIT_DISC attribute
	// (RFC 4271 Section 5.1.4).
	AttrMultiExitDisc AttrCode = 4

	// AttrLocalPref is the LOCAL_PREF attribute (RFC 4271 Section 5.1.5).
	AttrLocalPref AttrCode = 5

	// AttrAtomicAggregate is the ATOMIC_AGGREGATE attribute
	// (RFC 4271 Section 5.1.6).
	AttrAtomicAggregate AttrCode = 6

	// AttrAggregator is the AGGREGATOR attribute (RFC 4271 Section 5.1.7).
	AttrAggregator AttrCode = 7
)

// attrCodeNames maps attribute codes to human-readable strings.
var attrCodeNames = map[AttrCode]string{
	AttrOrigin:          "ORIGIN",
	AttrASPath:          "AS_PATH",
	AttrNextHop:         "NEXT_HOP",
	AttrMultiExitDisc:   "MULTI_EXIT_DISC",
	AttrLocalPref:       "LOCAL_PREF",
	AttrAtomicAggregate: "ATOMIC_AGGREGATE",
	AttrAggregator:      "AGGREGATOR",
}

// String returns the human-readable name for the attribute code.
func (c AttrCode) String() string {
	if n, ok := attrCodeNames[c]; ok {
		return n
	}
	return fmt.Sprintf(unknownFmt, uint8(c))
}

// Attribute flag bits (RFC 4271 Section 4.3: attribute flags octet).
const (
	// FlagOptional marks the attribute as optional (bit 0).
	FlagOptional uint8 = 0x80

	// FlagTransitive marks the attribute as transitive (bit 1).
	FlagTransitive uint8 = 0x40

	// FlagPartial marks the attribute as partial (bit 2).
	FlagPartial uint8 = 0x20

	// FlagExtendedLength marks a 2-octet attribute length field (bit 3).
	FlagExtendedLength uint8 = 0x10
)

// Origin is the value of the ORIGIN attribute (RFC 4271 Section 5.1.1).
type Origin uint8

const (
	// OriginIGP indicates the NLRI is interior to the originating AS.
	OriginIGP Origin = 0

	// OriginEGP indicates the NLRI was learned via the EGP protocol.
	OriginEGP Origin = 1

	// OriginIncomplete indicates the NLRI was learned by some other means.
	OriginIncomplete Origin = 2
)

// originNames maps ORIGIN values to human-readable strings.
var originNames = [3]string{"IGP", "EGP", "INCOMPLETE"}

// String returns the human-readable name for the ORIGIN value.
func (o Origin) String() string {
	if int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf(unknownFmt, uint8(o))
}

// SegmentKind is the AS_PATH segment type (RFC 4271 Section 4.3).
type SegmentKind uint8

const (
	// SegmentSet is an unordered set of AS numbers (AS_SET).
	SegmentSet SegmentKind = 1

	// SegmentSequence is an ordered sequence of AS numbers (AS_SEQUENCE).
	SegmentSequence SegmentKind = 2
)

// String returns the human-readable name for the segment kind.
func (k SegmentKind) String() string {
	switch k {
	case SegmentSet:
		return "AS_SET"
	case SegmentSequence:
		return "AS_SEQUENCE"
	default:
		return fmt.Sprintf(unknownFmt, uint8(k))
	}
}

// ASSegment is one segment of an AS_PATH: a kind and an ordered list of
// 2-octet AS numbers. 4-octet AS numbers (RFC 6793) are out of scope.
type ASSegment struct {
	Kind SegmentKind
	ASNs []uint16
}

// AttrValue is the decoded value of a path attribute. The concrete type
// depends on the attribute code; unrecognized codes decode to OpaqueValue.
type AttrValue interface {
	attrValue()
}

// OriginValue holds an ORIGIN attribute value.
type OriginValue struct{ Origin Origin }

// ASPathValue holds an AS_PATH attribute value as an ordered list of
// segments. An empty list encodes a zero-length AS_PATH.
type ASPathValue struct{ Segments []ASSegment }

// NextHopValue holds a NEXT_HOP attribute value (IPv4 address).
type NextHopValue struct{ Addr netip.Addr }

// MultiExitDiscValue holds a MULTI_EXIT_DISC attribute value.
type MultiExitDiscValue struct{ MED uint32 }

// LocalPrefValue holds a LOCAL_PREF attribute value.
type LocalPrefValue struct{ Pref uint32 }

// AtomicAggregateValue holds the zero-length ATOMIC_AGGREGATE attribute.
type AtomicAggregateValue struct{}

// AggregatorValue holds an AGGREGATOR attribute value: the AS and router
// address of the aggregating speaker.
type AggregatorValue struct {
	AS   uint16
	Addr netip.Addr
}

// OpaqueValue holds the raw bytes of an attribute this codec does not
// interpret. The bytes round-trip unchanged.
type OpaqueValue struct{ Data []byte }

func (OriginValue) attrValue()          {}
func (ASPathValue) attrValue()          {}
func (NextHopValue) attrValue()         {}
func (MultiExitDiscValue) attrValue()   {}
func (LocalPrefValue) attrValue()       {}
func (AtomicAggregateValue) attrValue() {}
func (AggregatorValue) attrValue()      {}
func (OpaqueValue) attrValue()          {}

// PathAttr is one path attribute: flags, type code and typed value.
// Length is derived at encode time; FlagExtendedLength is set automatically
// when the encoded value exceeds 255 octets.
type PathAttr struct {
	Flags uint8
	Code  AttrCode
	Value AttrValue
}

// Optional reports whether the FlagOptional bit is set.
func (a PathAttr) Optional() bool { return a.Flags&FlagOptional != 0 }

// Transitive reports whether the FlagTransitive bit is set.
func (a PathAttr) Transitive() bool { return a.Flags&FlagTransitive != 0 }

// NewOrigin builds an ORIGIN attribute with canonical well-known flags.
func NewOrigin(o Origin) PathAttr {
	return PathAttr{Flags: FlagTransitive, Code: AttrOrigin, Value: OriginValue{Origin: o}}
}

// NewASPath builds an AS_PATH attribute with canonical well-known flags.
func NewASPath(segments []ASSegment) PathAttr {
	return PathAttr{Flags: FlagTransitive, Code: AttrASPath, Value: ASPathValue{Segments: segments}}
}

// NewNextHop builds a NEXT_HOP attribute with canonical well-known flags.
func NewNextHop(addr netip.Addr) PathAttr {
	return PathAttr{Flags: FlagTransitive, Code: AttrNextHop, Value: NextHopValue{Addr: addr}}
}

// NewMultiExitDisc builds a MULTI_EXIT_DISC attribute (optional
// non-transitive per RFC 4271 Section 5.1.4).
func NewMultiExitDisc(med uint32) PathAttr {
	return PathAttr{Flags: FlagOptional, Code: AttrMultiExitDisc, Value: MultiExitDiscValue{MED: med}}
}

// NewLocalPref builds a LOCAL_PREF attribute with well-known flags.
func NewLocalPref(pref uint32) PathAttr {
	return PathAttr{Flags: FlagTransitive, Code: AttrLocalPref, Value: LocalPrefValue{Pref: pref}}
}

// -------------------------------------------------------------------------
// Messages
// -------------------------------------------------------------------------

// Message is a decoded BGP message. The concrete type is one of *Open,
// *Update, *Notification or *Keepalive.
type Message interface {
	// Type returns the one-octet message type discriminant.
	Type() MsgType
}

// OptParam is an OPEN optional parameter TLV (RFC 4271 Section 4.2).
// The value is kept opaque; capability negotiation (RFC 5492) is out of
// scope for this tester.
type OptParam struct {
	ParamType uint8
	Value     []byte
}

// Open is a BGP OPEN message (RFC 4271 Section 4.2).
type Open struct {
	// Version is the BGP protocol version. MUST be 4.
	Version uint8

	// AS is the sender's 2-octet autonomous system number.
	AS uint16

	// HoldTime is the proposed hold time in seconds: zero, or 3-65535.
	HoldTime uint16

	// Identifier is the sender's BGP identifier (router ID), an IPv4
	// address in dotted-quad form.
	Identifier netip.Addr

	// OptParams is the list of optional parameter TLVs, possibly empty.
	OptParams []OptParam
}

// Type returns MsgOpen.
func (*Open) Type() MsgType { return MsgOpen }

// Update is a BGP UPDATE message (RFC 4271 Section 4.3). All prefixes are
// IPv4.
type Update struct {
	// Withdrawn lists the routes being removed from service.
	Withdrawn []netip.Prefix

	// Attrs is the path attribute list applying to all NLRI prefixes.
	Attrs []PathAttr

	// NLRI lists the routes being announced with Attrs.
	NLRI []netip.Prefix
}

// Type returns MsgUpdate.
func (*Update) Type() MsgType { return MsgUpdate }

// Notification is a BGP NOTIFICATION message (RFC 4271 Section 4.5).
// Sending or receiving one ends the session.
type Notification struct {
	Code    ErrorCode
	Subcode uint8

	// Data is the variable-length diagnostic payload, opaque to the codec.
	Data []byte
}

// Type returns MsgNotification.
func (*Notification) Type() MsgType { return MsgNotification }

// Keepalive is a BGP KEEPALIVE message (RFC 4271 Section 4.4): header only.
type Keepalive struct{}

// Type returns MsgKeepalive.
func (*Keepalive) Type() MsgType { return MsgKeepalive }

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for decode failures. The session layer treats both as
// fatal to the connection since BGP offers no stream resynchronization.
var (
	// ErrMalformedHeader indicates the fixed header is invalid: bad
	// marker, length outside [19, 4096], or an unrecognized type octet.
	ErrMalformedHeader = errors.New("malformed BGP message header")

	// ErrMalformedBody indicates the body contradicts the header: declared
	// sub-lengths do not sum to the outer length, a prefix length exceeds
	// its field width, or a field is truncated.
	ErrMalformedBody = errors.New("malformed BGP message body")

	// ErrTooLong indicates an encoded message would exceed MaxLen.
	ErrTooLong = errors.New("BGP message exceeds maximum length")
)
