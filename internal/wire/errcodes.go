package wire

import "fmt"

// -------------------------------------------------------------------------
// NOTIFICATION Error Codes — RFC 4271 Section 4.5
// -------------------------------------------------------------------------

// ErrorCode is the one-octet NOTIFICATION error code.
type ErrorCode uint8

const (
	// ErrCodeMessageHeader is "Message Header Error" (RFC 4271).
	ErrCodeMessageHeader ErrorCode = 1

	// ErrCodeOpenMessage is "OPEN Message Error" (RFC 4271).
	ErrCodeOpenMessage ErrorCode = 2

	// ErrCodeUpdateMessage is "UPDATE Message Error" (RFC 4271).
	ErrCodeUpdateMessage ErrorCode = 3

	// ErrCodeHoldTimerExpired is "Hold Timer Expired" (RFC 4271).
	ErrCodeHoldTimerExpired ErrorCode = 4

	// ErrCodeFSM is "Finite State Machine Error" (RFC 4271).
	ErrCodeFSM ErrorCode = 5

	// ErrCodeCease is "Cease" (RFC 4271).
	ErrCodeCease ErrorCode = 6
)

// errorCodeNames maps error codes to human-readable strings.
var errorCodeNames = map[ErrorCode]string{
	ErrCodeMessageHeader:    "Message Header Error",
	ErrCodeOpenMessage:      "OPEN Message Error",
	ErrCodeUpdateMessage:    "UPDATE Message Error",
	ErrCodeHoldTimerExpired: "Hold Timer Expired",
	ErrCodeFSM:              "Finite State Machine Error",
	ErrCodeCease:            "Cease",
}

// String returns the human-readable name for the error code.
func (c ErrorCode) String() string {
	if n, ok := errorCodeNames[c]; ok {
		return n
	}
	return fmt.Sprintf(unknownFmt, uint8(c))
}

// Message Header Error subcodes (RFC 4271 Section 6.1).
const (
	SubcodeConnNotSynchronized uint8 = 1
	SubcodeBadMessageLength    uint8 = 2
	SubcodeBadMessageType      uint8 = 3
)

// OPEN Message Error subcodes (RFC 4271 Section 6.2).
const (
	SubcodeUnsupportedVersion   uint8 = 1
	SubcodeBadPeerAS            uint8 = 2
	SubcodeBadBGPIdentifier     uint8 = 3
	SubcodeUnsupportedOptParam  uint8 = 4
	SubcodeUnacceptableHoldTime uint8 = 6
)

// UPDATE Message Error subcodes (RFC 4271 Section 6.3).
const (
	SubcodeMalformedAttrList     uint8 = 1
	SubcodeUnrecognizedWellKnown uint8 = 2
	SubcodeMissingWellKnown      uint8 = 3
	SubcodeAttrFlagsError        uint8 = 4
	SubcodeAttrLengthError       uint8 = 5
	SubcodeInvalidOrigin         uint8 = 6
	SubcodeInvalidNextHop        uint8 = 8
	SubcodeOptionalAttrError     uint8 = 9
	SubcodeInvalidNetworkField   uint8 = 10
	SubcodeMalformedASPath       uint8 = 11
)

// Cease subcodes (RFC 4486).
const (
	SubcodeMaxPrefixesReached uint8 = 1
	SubcodeAdminShutdown      uint8 = 2
	SubcodePeerDeconfigured   uint8 = 3
	SubcodeAdminReset         uint8 = 4
	SubcodeConnectionRejected uint8 = 5
)

// subcodeNames maps (code, subcode) pairs to human-readable strings.
var subcodeNames = map[ErrorCode]map[uint8]string{
	ErrCodeMessageHeader: {
		0: "Unspecific",
		1: "Connection Not Synchronized",
		2: "Bad Message Length",
		3: "Bad Message Type",
	},
	ErrCodeOpenMessage: {
		0: "Unspecific",
		1: "Unsupported Version Number",
		2: "Bad Peer AS",
		3: "Bad BGP Identifier",
		4: "Unsupported Optional Parameter",
		6: "Unacceptable Hold Time",
	},
	ErrCodeUpdateMessage: {
		0:  "Unspecific",
		1:  "Malformed Attribute List",
		2:  "Unrecognized Well-known Attribute",
		3:  "Missing Well-known Attribute",
		4:  "Attribute Flags Error",
		5:  "Attribute Length Error",
		6:  "Invalid ORIGIN Attribute",
		8:  "Invalid NEXT_HOP Attribute",
		9:  "Optional Attribute Error",
		10: "Invalid Network Field",
		11: "Malformed AS_PATH",
	},
	ErrCodeCease: {
		1: "Maximum Number of Prefixes Reached",
		2: "Administrative Shutdown",
		3: "Peer De-configured",
		4: "Administrative Reset",
		5: "Connection Rejected",
		6: "Other Configuration Change",
		7: "Connection Collision Resolution",
		8: "Out of Resources",
	},
}

// SubcodeString returns the human-readable name for an error subcode
// within its error code's namespace.
func SubcodeString(code ErrorCode, subcode uint8) string {
	if subs, ok := subcodeNames[code]; ok {
		if n, ok := subs[subcode]; ok {
			return n
		}
	}
	return fmt.Sprintf(unknownFmt, subcode)
}
