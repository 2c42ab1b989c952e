package wire_test

import (
	"bytes"
	"errors"
	"net/netip"
	"reflect"
	"testing"

	"github.com/Jaxartes/bgpy/internal/wire"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("ParsePrefix(%q): %v", s, err)
	}
	return p
}

// frame prepends a valid header (all-ones marker, length, type) to body.
func frame(typ wire.MsgType, body []byte) []byte {
	total := wire.HeaderLen + len(body)
	buf := make([]byte, 0, total)
	buf = append(buf, bytes.Repeat([]byte{0xff}, wire.MarkerLen)...)
	buf = append(buf, byte(total>>8), byte(total), byte(typ))
	return append(buf, body...)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  wire.Message
	}{
		{
			name: "keepalive",
			msg:  &wire.Keepalive{},
		},
		{
			name: "open",
			msg: &wire.Open{
				Version:    wire.Version,
				AS:         64512,
				HoldTime:   180,
				Identifier: netip.AddrFrom4([4]byte{10, 0, 0, 1}),
			},
		},
		{
			name: "open with optional parameter",
			msg: &wire.Open{
				Version:    wire.Version,
				AS:         1,
				HoldTime:   0,
				Identifier: netip.AddrFrom4([4]byte{0, 0, 0, 1}),
				OptParams: []wire.OptParam{
					{ParamType: 2, Value: []byte{0x01, 0x04, 0x00, 0x01, 0x00, 0x01}},
				},
			},
		},
		{
			name: "notification",
			msg: &wire.Notification{
				Code:    wire.ErrCodeCease,
				Subcode: wire.SubcodeAdminShutdown,
				Data:    []byte("bye"),
			},
		},
		{
			name: "notification without data",
			msg: &wire.Notification{
				Code:    wire.ErrCodeHoldTimerExpired,
				Subcode: 0,
			},
		},
		{
			name: "update announce",
			msg: &wire.Update{
				Attrs: []wire.PathAttr{
					wire.NewOrigin(wire.OriginIGP),
					wire.NewASPath([]wire.ASSegment{
						{Kind: wire.SegmentSequence, ASNs: []uint16{64512, 64513}},
						{Kind: wire.SegmentSet, ASNs: []uint16{100}},
					}),
					wire.NewNextHop(netip.AddrFrom4([4]byte{192, 0, 2, 1})),
					wire.NewMultiExitDisc(50),
					wire.NewLocalPref(200),
				},
				NLRI: []netip.Prefix{
					mustPrefix(t, "10.1.0.0/16"),
					mustPrefix(t, "10.2.3.0/24"),
					mustPrefix(t, "203.0.113.7/32"),
				},
			},
		},
		{
			name: "update withdraw",
			msg: &wire.Update{
				Withdrawn: []netip.Prefix{
					mustPrefix(t, "10.1.0.0/16"),
					mustPrefix(t, "0.0.0.0/0"),
				},
			},
		},
		{
			name: "update with opaque attribute",
			msg: &wire.Update{
				Attrs: []wire.PathAttr{
					wire.NewOrigin(wire.OriginIncomplete),
					wire.NewASPath([]wire.ASSegment{
						{Kind: wire.SegmentSequence, ASNs: []uint16{1}},
					}),
					wire.NewNextHop(netip.AddrFrom4([4]byte{10, 0, 0, 9})),
					{
						Flags: wire.FlagOptional | wire.FlagTransitive,
						Code:  wire.AttrCode(8), // COMMUNITIES
						Value: wire.OpaqueValue{Data: []byte{0xff, 0xff, 0xff, 0x01}},
					},
				},
				NLRI: []netip.Prefix{mustPrefix(t, "198.51.100.0/25")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw, err := wire.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}

			got, n, err := wire.Decode(raw)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if n != len(raw) {
				t.Errorf("Decode() consumed %d octets, want %d", n, len(raw))
			}
			if !messagesEqual(got, tt.msg) {
				t.Errorf("Decode() = %#v, want %#v", got, tt.msg)
			}
		})
	}
}

// messagesEqual compares messages structurally, treating nil and empty
// slices as equal since decode never distinguishes them.
func messagesEqual(a, b wire.Message) bool {
	normalize := func(m wire.Message) wire.Message {
		u, ok := m.(*wire.Update)
		if !ok {
			return m
		}
		out := *u
		if len(out.Withdrawn) == 0 {
			out.Withdrawn = nil
		}
		if len(out.Attrs) == 0 {
			out.Attrs = nil
		}
		if len(out.NLRI) == 0 {
			out.NLRI = nil
		}
		return &out
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func TestMarshalExtendedLength(t *testing.T) {
	t.Parallel()

	// 128 two-ASN segments is 512 value octets, forcing the 2-octet
	// length field.
	segments := make([]wire.ASSegment, 128)
	for i := range segments {
		segments[i] = wire.ASSegment{
			Kind: wire.SegmentSequence,
			ASNs: []uint16{uint16(i), uint16(i + 1)},
		}
	}
	msg := &wire.Update{
		Attrs: []wire.PathAttr{
			wire.NewOrigin(wire.OriginIGP),
			wire.NewASPath(segments),
			wire.NewNextHop(netip.AddrFrom4([4]byte{10, 0, 0, 1})),
		},
		NLRI: []netip.Prefix{mustPrefix(t, "10.0.0.0/8")},
	}

	raw, err := wire.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	got, _, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	upd, ok := got.(*wire.Update)
	if !ok {
		t.Fatalf("Decode() = %T, want *wire.Update", got)
	}

	var asPath wire.PathAttr
	for _, a := range upd.Attrs {
		if a.Code == wire.AttrASPath {
			asPath = a
		}
	}
	if asPath.Flags&wire.FlagExtendedLength == 0 {
		t.Error("AS_PATH attribute missing extended-length flag")
	}
	v, ok := asPath.Value.(wire.ASPathValue)
	if !ok {
		t.Fatalf("AS_PATH value = %T, want wire.ASPathValue", asPath.Value)
	}
	if !reflect.DeepEqual(v.Segments, segments) {
		t.Error("AS_PATH segments changed across round trip")
	}
}

func TestMarshalTooLong(t *testing.T) {
	t.Parallel()

	msg := &wire.Notification{
		Code:    wire.ErrCodeCease,
		Subcode: 0,
		Data:    make([]byte, wire.MaxLen),
	}
	if _, err := wire.Marshal(msg); !errors.Is(err, wire.ErrTooLong) {
		t.Errorf("Marshal() error = %v, want ErrTooLong", err)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	t.Parallel()

	full, err := wire.Marshal(&wire.Open{
		Version:    wire.Version,
		AS:         64512,
		HoldTime:   180,
		Identifier: netip.AddrFrom4([4]byte{10, 0, 0, 1}),
	})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	// Every proper prefix of a valid message must report "need more".
	for i := 0; i < len(full); i++ {
		msg, n, err := wire.Decode(full[:i])
		if msg != nil || n != 0 || err != nil {
			t.Fatalf("Decode(%d octets) = (%v, %d, %v), want (nil, 0, nil)", i, msg, n, err)
		}
	}
}

func TestDecodeMalformedHeader(t *testing.T) {
	t.Parallel()

	badMarker := frame(wire.MsgKeepalive, nil)
	badMarker[3] = 0x00

	badLengthLow := frame(wire.MsgKeepalive, nil)
	badLengthLow[16], badLengthLow[17] = 0, 18

	badLengthHigh := frame(wire.MsgKeepalive, nil)
	badLengthHigh[16], badLengthHigh[17] = 0x10, 0x01 // 4097

	badType := frame(wire.MsgType(9), nil)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"marker octet not all ones", badMarker},
		{"length below header size", badLengthLow},
		{"length above maximum", badLengthHigh},
		{"unknown message type", badType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, n, err := wire.Decode(tt.raw)
			if !errors.Is(err, wire.ErrMalformedHeader) {
				t.Errorf("Decode() error = %v, want ErrMalformedHeader", err)
			}
			if msg != nil || n != 0 {
				t.Errorf("Decode() = (%v, %d), want (nil, 0)", msg, n)
			}
		})
	}
}

func TestDecodeMalformedBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  []byte
	}{
		{
			name: "keepalive with body",
			raw:  frame(wire.MsgKeepalive, []byte{0x00}),
		},
		{
			name: "open too short",
			raw:  frame(wire.MsgOpen, []byte{4, 0, 1, 0, 180}),
		},
		{
			name: "open optional parameter length overruns",
			raw: frame(wire.MsgOpen, []byte{
				4, 0, 1, 0, 180, 10, 0, 0, 1,
				6,       // declares 6 octets of parameters
				2, 8, 0, // parameter claims 8 value octets, 1 present
			}),
		},
		{
			name: "notification too short",
			raw:  frame(wire.MsgNotification, []byte{6}),
		},
		{
			name: "update withdrawn length overruns",
			raw:  frame(wire.MsgUpdate, []byte{0x00, 0x09, 0x00, 0x00}),
		},
		{
			name: "update attribute length overruns",
			raw:  frame(wire.MsgUpdate, []byte{0x00, 0x00, 0x00, 0x08, 0x40, 0x01, 0x01}),
		},
		{
			name: "update prefix length above 32",
			raw:  frame(wire.MsgUpdate, []byte{0x00, 0x00, 0x00, 0x00, 33, 10, 0, 0, 0, 0}),
		},
		{
			name: "update truncated prefix",
			raw:  frame(wire.MsgUpdate, []byte{0x00, 0x00, 0x00, 0x00, 24, 10, 0}),
		},
		{
			name: "update bad origin length",
			raw: frame(wire.MsgUpdate, []byte{
				0x00, 0x00, // no withdrawn routes
				0x00, 0x05, // 5 attribute octets
				0x40, 0x01, 0x02, 0x00, 0x00, // ORIGIN with 2-octet value
			}),
		},
		{
			name: "update bad AS path segment kind",
			raw: frame(wire.MsgUpdate, []byte{
				0x00, 0x00,
				0x00, 0x07,
				0x40, 0x02, 0x04, 0x05, 0x01, 0xfc, 0x00, // segment type 5
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, n, err := wire.Decode(tt.raw)
			if !errors.Is(err, wire.ErrMalformedBody) {
				t.Errorf("Decode() error = %v, want ErrMalformedBody", err)
			}
			if msg != nil || n != 0 {
				t.Errorf("Decode() = (%v, %d), want (nil, 0)", msg, n)
			}
		})
	}
}

func TestDecodeConsumesOneMessage(t *testing.T) {
	t.Parallel()

	first, err := wire.Marshal(&wire.Keepalive{})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	second, err := wire.Marshal(&wire.Notification{Code: wire.ErrCodeCease, Subcode: 0})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	buf := append(append([]byte(nil), first...), second...)

	msg, n, err := wire.Decode(buf)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if _, ok := msg.(*wire.Keepalive); !ok {
		t.Errorf("Decode() = %T, want *wire.Keepalive", msg)
	}
	if n != len(first) {
		t.Errorf("Decode() consumed %d octets, want %d", n, len(first))
	}

	msg, n, err = wire.Decode(buf[n:])
	if err != nil {
		t.Fatalf("Decode() second message error: %v", err)
	}
	if _, ok := msg.(*wire.Notification); !ok {
		t.Errorf("Decode() = %T, want *wire.Notification", msg)
	}
	if n != len(second) {
		t.Errorf("Decode() consumed %d octets, want %d", n, len(second))
	}
}

func TestSubcodeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code    wire.ErrorCode
		subcode uint8
		want    string
	}{
		{wire.ErrCodeOpenMessage, 2, "Bad Peer AS"},
		{wire.ErrCodeCease, wire.SubcodeAdminShutdown, "Administrative Shutdown"},
		{wire.ErrCodeHoldTimerExpired, 0, "Unknown(0)"},
		{wire.ErrCodeFSM, 99, "Unknown(99)"},
	}

	for _, tt := range tests {
		got := wire.SubcodeString(tt.code, tt.subcode)
		if got != tt.want {
			t.Errorf("SubcodeString(%d, %d) = %q, want %q", tt.code, tt.subcode, got, tt.want)
		}
	}
}
