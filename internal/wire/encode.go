package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// Marshal — RFC 4271 Section 4
// -------------------------------------------------------------------------

// Marshal serializes a Message into its wire form: a 19-octet header
// (all-ones marker, 2-octet length, 1-octet type) followed by the
// type-specific body.
//
// Wire format (RFC 4271 Section 4.1):
//
//	Bytes 0-15:  Marker (all ones; authentication markers are out of scope)
//	Bytes 16-17: Length (big-endian uint16, total octets including header)
//	Byte 18:     Type
//	Bytes 19+:   Body
func Marshal(m Message) ([]byte, error) {
	body, err := marshalBody(m)
	if err != nil {
		return nil, err
	}

	total := HeaderLen + len(body)
	if total > MaxLen {
		return nil, fmt.Errorf("marshal %s: %d octets: %w", m.Type(), total, ErrTooLong)
	}

	buf := make([]byte, total)
	for i := 0; i < MarkerLen; i++ {
		buf[i] = 0xff
	}
	binary.BigEndian.PutUint16(buf[MarkerLen:], uint16(total))
	buf[MarkerLen+2] = uint8(m.Type())
	copy(buf[HeaderLen:], body)

	return buf, nil
}

// marshalBody dispatches on the concrete message type.
func marshalBody(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case *Open:
		return marshalOpen(msg)
	case *Update:
		return marshalUpdate(msg)
	case *Notification:
		return marshalNotification(msg), nil
	case *Keepalive:
		// RFC 4271 Section 4.4: header only.
		return nil, nil
	default:
		return nil, fmt.Errorf("marshal: unsupported message type %T", m)
	}
}

// marshalOpen encodes an OPEN body (RFC 4271 Section 4.2):
// version(1) + AS(2) + hold time(2) + identifier(4) + opt param len(1) +
// optional parameters.
func marshalOpen(msg *Open) ([]byte, error) {
	if !msg.Identifier.Is4() {
		return nil, fmt.Errorf("marshal OPEN: identifier %s is not IPv4: %w",
			msg.Identifier, ErrMalformedBody)
	}

	var params []byte
	for _, p := range msg.OptParams {
		if len(p.Value) > 0xff {
			return nil, fmt.Errorf("marshal OPEN: optional parameter %d is %d octets: %w",
				p.ParamType, len(p.Value), ErrMalformedBody)
		}
		params = append(params, p.ParamType, uint8(len(p.Value)))
		params = append(params, p.Value...)
	}
	if len(params) > 0xff {
		return nil, fmt.Errorf("marshal OPEN: optional parameters total %d octets: %w",
			len(params), ErrMalformedBody)
	}

	body := make([]byte, 0, 10+len(params))
	body = append(body, msg.Version)
	body = binary.BigEndian.AppendUint16(body, msg.AS)
	body = binary.BigEndian.AppendUint16(body, msg.HoldTime)
	id := msg.Identifier.As4()
	body = append(body, id[:]...)
	body = append(body, uint8(len(params)))
	body = append(body, params...)

	return body, nil
}

// marshalUpdate encodes an UPDATE body (RFC 4271 Section 4.3):
// withdrawn len(2) + withdrawn routes + total path attr len(2) +
// path attributes + NLRI.
func marshalUpdate(msg *Update) ([]byte, error) {
	withdrawn, err := marshalPrefixes(msg.Withdrawn)
	if err != nil {
		return nil, fmt.Errorf("marshal UPDATE withdrawn routes: %w", err)
	}

	var attrs []byte
	for _, a := range msg.Attrs {
		encoded, err := marshalPathAttr(a)
		if err != nil {
			return nil, fmt.Errorf("marshal UPDATE attribute %s: %w", a.Code, err)
		}
		attrs = append(attrs, encoded...)
	}
	if len(attrs) > 0xffff {
		return nil, fmt.Errorf("marshal UPDATE: %d attribute octets: %w", len(attrs), ErrTooLong)
	}

	nlri, err := marshalPrefixes(msg.NLRI)
	if err != nil {
		return nil, fmt.Errorf("marshal UPDATE NLRI: %w", err)
	}

	body := make([]byte, 0, 4+len(withdrawn)+len(attrs)+len(nlri))
	body = binary.BigEndian.AppendUint16(body, uint16(len(withdrawn)))
	body = append(body, withdrawn...)
	body = binary.BigEndian.AppendUint16(body, uint16(len(attrs)))
	body = append(body, attrs...)
	body = append(body, nlri...)

	return body, nil
}

// marshalNotification encodes a NOTIFICATION body (RFC 4271 Section 4.5):
// error code(1) + error subcode(1) + data.
func marshalNotification(msg *Notification) []byte {
	body := make([]byte, 0, 2+len(msg.Data))
	body = append(body, uint8(msg.Code), msg.Subcode)
	body = append(body, msg.Data...)
	return body
}

// marshalPrefixes encodes a list of IPv4 prefixes as {length, prefix}
// pairs, each prefix truncated to ceil(bits/8) octets
// (RFC 4271 Section 4.3).
func marshalPrefixes(prefixes []netip.Prefix) ([]byte, error) {
	var out []byte
	for _, p := range prefixes {
		if !p.Addr().Is4() {
			return nil, fmt.Errorf("prefix %s is not IPv4: %w", p, ErrMalformedBody)
		}
		bits := p.Bits()
		if bits < 0 || bits > 32 {
			return nil, fmt.Errorf("prefix length %d out of range [0, 32]: %w", bits, ErrMalformedBody)
		}
		addr := p.Masked().Addr().As4()
		out = append(out, uint8(bits))
		out = append(out, addr[:prefixOctets(uint8(bits))]...)
	}
	return out, nil
}

// prefixOctets returns ceil(bits/8), the number of octets a prefix of the
// given bit length occupies on the wire.
func prefixOctets(bits uint8) int {
	return (int(bits) + 7) / 8
}

// marshalPathAttr encodes one path attribute: flags(1) + type(1) +
// length(1 or 2) + value. FlagExtendedLength is forced on when the value
// exceeds 255 octets and cleared otherwise, so the flag octet always
// matches the length field width.
func marshalPathAttr(a PathAttr) ([]byte, error) {
	value, err := marshalAttrValue(a)
	if err != nil {
		return nil, err
	}
	if len(value) > 0xffff {
		return nil, fmt.Errorf("attribute value %d octets: %w", len(value), ErrTooLong)
	}

	flags := a.Flags &^ FlagExtendedLength
	extended := len(value) > 0xff
	if extended {
		flags |= FlagExtendedLength
	}

	out := make([]byte, 0, 4+len(value))
	out = append(out, flags, uint8(a.Code))
	if extended {
		out = binary.BigEndian.AppendUint16(out, uint16(len(value)))
	} else {
		out = append(out, uint8(len(value)))
	}
	out = append(out, value...)

	return out, nil
}

// marshalAttrValue encodes the attribute value for the attribute's code.
func marshalAttrValue(a PathAttr) ([]byte, error) {
	switch v := a.Value.(type) {
	case OriginValue:
		return []byte{uint8(v.Origin)}, nil

	case ASPathValue:
		return marshalASPath(v.Segments)

	case NextHopValue:
		if !v.Addr.Is4() {
			return nil, fmt.Errorf("next hop %s is not IPv4: %w", v.Addr, ErrMalformedBody)
		}
		addr := v.Addr.As4()
		return addr[:], nil

	case MultiExitDiscValue:
		return binary.BigEndian.AppendUint32(nil, v.MED), nil

	case LocalPrefValue:
		return binary.BigEndian.AppendUint32(nil, v.Pref), nil

	case AtomicAggregateValue:
		// RFC 4271 Section 5.1.6: zero length.
		return nil, nil

	case AggregatorValue:
		if !v.Addr.Is4() {
			return nil, fmt.Errorf("aggregator %s is not IPv4: %w", v.Addr, ErrMalformedBody)
		}
		out := binary.BigEndian.AppendUint16(nil, v.AS)
		addr := v.Addr.As4()
		return append(out, addr[:]...), nil

	case OpaqueValue:
		return v.Data, nil

	default:
		return nil, fmt.Errorf("unsupported attribute value %T", a.Value)
	}
}

// marshalASPath encodes an AS_PATH value as a sequence of
// {segment type(1), AS count(1), AS numbers(2 each)} segments
// (RFC 4271 Section 4.3).
func marshalASPath(segments []ASSegment) ([]byte, error) {
	var out []byte
	for _, seg := range segments {
		if seg.Kind != SegmentSet && seg.Kind != SegmentSequence {
			return nil, fmt.Errorf("AS path segment kind %d: %w", seg.Kind, ErrMalformedBody)
		}
		if len(seg.ASNs) == 0 || len(seg.ASNs) > 0xff {
			return nil, fmt.Errorf("AS path segment with %d ASNs: %w", len(seg.ASNs), ErrMalformedBody)
		}
		out = append(out, uint8(seg.Kind), uint8(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			out = binary.BigEndian.AppendUint16(out, asn)
		}
	}
	return out, nil
}
