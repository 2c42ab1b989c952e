package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// Decode — RFC 4271 Sections 4, 6.1-6.3
// -------------------------------------------------------------------------

// Decode parses the first complete message from buf.
//
// It returns the parsed message and the number of octets it occupied. When
// buf does not yet hold a complete message it returns (nil, 0, nil) so the
// caller can read more and retry with a longer buffer.
//
// Header errors (bad marker, length outside [19, 4096], unknown type)
// return ErrMalformedHeader; body errors return ErrMalformedBody. In both
// cases zero octets are consumed — a framing error leaves the byte stream
// unusable, and the caller is expected to tear the session down.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < HeaderLen {
		return nil, 0, nil
	}

	for i := 0; i < MarkerLen; i++ {
		if buf[i] != 0xff {
			return nil, 0, fmt.Errorf("marker octet %d is %#02x: %w", i, buf[i], ErrMalformedHeader)
		}
	}

	length := int(binary.BigEndian.Uint16(buf[MarkerLen:]))
	if length < HeaderLen || length > MaxLen {
		return nil, 0, fmt.Errorf("length %d outside [%d, %d]: %w",
			length, HeaderLen, MaxLen, ErrMalformedHeader)
	}

	typ := MsgType(buf[MarkerLen+2])
	if typ < MsgOpen || typ > MsgKeepalive {
		return nil, 0, fmt.Errorf("message type %d: %w", uint8(typ), ErrMalformedHeader)
	}

	if len(buf) < length {
		return nil, 0, nil
	}
	body := buf[HeaderLen:length]

	var (
		msg Message
		err error
	)
	switch typ {
	case MsgOpen:
		msg, err = decodeOpen(body)
	case MsgUpdate:
		msg, err = decodeUpdate(body)
	case MsgNotification:
		msg, err = decodeNotification(body)
	case MsgKeepalive:
		if len(body) != 0 {
			err = fmt.Errorf("KEEPALIVE with %d body octets: %w", len(body), ErrMalformedBody)
		} else {
			msg = &Keepalive{}
		}
	}
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", typ, err)
	}

	return msg, length, nil
}

// decodeOpen parses an OPEN body (RFC 4271 Section 4.2). Optional
// parameters are retained as raw TLVs; no capability negotiation is
// attempted.
func decodeOpen(body []byte) (*Open, error) {
	if len(body) < 10 {
		return nil, fmt.Errorf("OPEN body %d octets, want at least 10: %w", len(body), ErrMalformedBody)
	}

	msg := &Open{
		Version:    body[0],
		AS:         binary.BigEndian.Uint16(body[1:]),
		HoldTime:   binary.BigEndian.Uint16(body[3:]),
		Identifier: netip.AddrFrom4([4]byte(body[5:9])),
	}

	optLen := int(body[9])
	params := body[10:]
	if optLen != len(params) {
		return nil, fmt.Errorf("optional parameters length %d, %d octets present: %w",
			optLen, len(params), ErrMalformedBody)
	}
	for len(params) > 0 {
		if len(params) < 2 {
			return nil, fmt.Errorf("truncated optional parameter header: %w", ErrMalformedBody)
		}
		plen := int(params[1])
		if len(params) < 2+plen {
			return nil, fmt.Errorf("optional parameter %d declares %d octets, %d present: %w",
				params[0], plen, len(params)-2, ErrMalformedBody)
		}
		msg.OptParams = append(msg.OptParams, OptParam{
			ParamType: params[0],
			Value:     append([]byte(nil), params[2:2+plen]...),
		})
		params = params[2+plen:]
	}

	return msg, nil
}

// decodeUpdate parses an UPDATE body (RFC 4271 Section 4.3). The two
// declared sub-lengths plus the fixed fields must account for the body
// exactly; the remainder is NLRI.
func decodeUpdate(body []byte) (*Update, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("UPDATE body %d octets: %w", len(body), ErrMalformedBody)
	}
	withdrawnLen := int(binary.BigEndian.Uint16(body))
	if len(body) < 2+withdrawnLen+2 {
		return nil, fmt.Errorf("withdrawn routes length %d exceeds body: %w",
			withdrawnLen, ErrMalformedBody)
	}

	withdrawn, err := decodePrefixes(body[2 : 2+withdrawnLen])
	if err != nil {
		return nil, fmt.Errorf("withdrawn routes: %w", err)
	}

	rest := body[2+withdrawnLen:]
	attrLen := int(binary.BigEndian.Uint16(rest))
	if len(rest) < 2+attrLen {
		return nil, fmt.Errorf("path attributes length %d exceeds body: %w", attrLen, ErrMalformedBody)
	}

	attrs, err := decodePathAttrs(rest[2 : 2+attrLen])
	if err != nil {
		return nil, err
	}

	nlri, err := decodePrefixes(rest[2+attrLen:])
	if err != nil {
		return nil, fmt.Errorf("NLRI: %w", err)
	}

	return &Update{Withdrawn: withdrawn, Attrs: attrs, NLRI: nlri}, nil
}

// decodeNotification parses a NOTIFICATION body (RFC 4271 Section 4.5).
func decodeNotification(body []byte) (*Notification, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("NOTIFICATION body %d octets, want at least 2: %w",
			len(body), ErrMalformedBody)
	}
	return &Notification{
		Code:    ErrorCode(body[0]),
		Subcode: body[1],
		Data:    append([]byte(nil), body[2:]...),
	}, nil
}

// decodePrefixes parses {length, prefix} pairs until buf is exhausted.
func decodePrefixes(buf []byte) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for len(buf) > 0 {
		bits := buf[0]
		if bits > 32 {
			return nil, fmt.Errorf("prefix length %d out of range [0, 32]: %w", bits, ErrMalformedBody)
		}
		n := prefixOctets(bits)
		if len(buf) < 1+n {
			return nil, fmt.Errorf("prefix /%d needs %d octets, %d present: %w",
				bits, n, len(buf)-1, ErrMalformedBody)
		}
		var addr [4]byte
		copy(addr[:], buf[1:1+n])
		out = append(out, netip.PrefixFrom(netip.AddrFrom4(addr), int(bits)))
		buf = buf[1+n:]
	}
	return out, nil
}

// decodePathAttrs parses the path attributes field of an UPDATE. Attribute
// codes this package does not model are retained as OpaqueValue so they
// survive a decode/encode round trip.
func decodePathAttrs(buf []byte) ([]PathAttr, error) {
	var out []PathAttr
	for len(buf) > 0 {
		if len(buf) < 3 {
			return nil, fmt.Errorf("truncated attribute header: %w", ErrMalformedBody)
		}
		flags := buf[0]
		code := AttrCode(buf[1])

		var vlen, hlen int
		if flags&FlagExtendedLength != 0 {
			if len(buf) < 4 {
				return nil, fmt.Errorf("truncated extended attribute header: %w", ErrMalformedBody)
			}
			vlen = int(binary.BigEndian.Uint16(buf[2:]))
			hlen = 4
		} else {
			vlen = int(buf[2])
			hlen = 3
		}
		if len(buf) < hlen+vlen {
			return nil, fmt.Errorf("attribute %s declares %d octets, %d present: %w",
				code, vlen, len(buf)-hlen, ErrMalformedBody)
		}

		value, err := decodeAttrValue(code, buf[hlen:hlen+vlen])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", code, err)
		}
		out = append(out, PathAttr{Flags: flags, Code: code, Value: value})
		buf = buf[hlen+vlen:]
	}
	return out, nil
}

// decodeAttrValue parses the value of a single path attribute.
func decodeAttrValue(code AttrCode, val []byte) (AttrValue, error) {
	switch code {
	case AttrOrigin:
		if len(val) != 1 {
			return nil, fmt.Errorf("ORIGIN value %d octets, want 1: %w", len(val), ErrMalformedBody)
		}
		return OriginValue{Origin: Origin(val[0])}, nil

	case AttrASPath:
		segments, err := decodeASPath(val)
		if err != nil {
			return nil, err
		}
		return ASPathValue{Segments: segments}, nil

	case AttrNextHop:
		if len(val) != 4 {
			return nil, fmt.Errorf("NEXT_HOP value %d octets, want 4: %w", len(val), ErrMalformedBody)
		}
		return NextHopValue{Addr: netip.AddrFrom4([4]byte(val))}, nil

	case AttrMultiExitDisc:
		if len(val) != 4 {
			return nil, fmt.Errorf("MULTI_EXIT_DISC value %d octets, want 4: %w", len(val), ErrMalformedBody)
		}
		return MultiExitDiscValue{MED: binary.BigEndian.Uint32(val)}, nil

	case AttrLocalPref:
		if len(val) != 4 {
			return nil, fmt.Errorf("LOCAL_PREF value %d octets, want 4: %w", len(val), ErrMalformedBody)
		}
		return LocalPrefValue{Pref: binary.BigEndian.Uint32(val)}, nil

	case AttrAtomicAggregate:
		if len(val) != 0 {
			return nil, fmt.Errorf("ATOMIC_AGGREGATE value %d octets, want 0: %w", len(val), ErrMalformedBody)
		}
		return AtomicAggregateValue{}, nil

	case AttrAggregator:
		if len(val) != 6 {
			return nil, fmt.Errorf("AGGREGATOR value %d octets, want 6: %w", len(val), ErrMalformedBody)
		}
		return AggregatorValue{
			AS:   binary.BigEndian.Uint16(val),
			Addr: netip.AddrFrom4([4]byte(val[2:6])),
		}, nil

	default:
		return OpaqueValue{Data: append([]byte(nil), val...)}, nil
	}
}

// decodeASPath parses AS_PATH segments: {type(1), count(1), ASNs(2 each)}.
func decodeASPath(buf []byte) ([]ASSegment, error) {
	var out []ASSegment
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("truncated AS path segment header: %w", ErrMalformedBody)
		}
		kind := SegmentKind(buf[0])
		if kind != SegmentSet && kind != SegmentSequence {
			return nil, fmt.Errorf("AS path segment kind %d: %w", buf[0], ErrMalformedBody)
		}
		count := int(buf[1])
		if len(buf) < 2+2*count {
			return nil, fmt.Errorf("AS path segment declares %d ASNs, %d octets present: %w",
				count, len(buf)-2, ErrMalformedBody)
		}
		seg := ASSegment{Kind: kind, ASNs: make([]uint16, count)}
		for i := 0; i < count; i++ {
			seg.ASNs[i] = binary.BigEndian.Uint16(buf[2+2*i:])
		}
		out = append(out, seg)
		buf = buf[2+2*count:]
	}
	return out, nil
}
