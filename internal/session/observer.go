package session

import "github.com/Jaxartes/bgpy/internal/wire"

// Direction distinguishes peer-bound from locally-received traffic in
// observer callbacks.
type Direction int

const (
	// DirReceive marks traffic read from the peer.
	DirReceive Direction = iota

	// DirSend marks traffic written to the peer.
	DirSend
)

// String returns the short label used in trace output.
func (d Direction) String() string {
	if d == DirSend {
		return "snd"
	}
	return "rcv"
}

// Observer receives a copy of everything that crosses the session: every
// decoded message and every raw byte sequence, in both directions.
//
// Callbacks run on the session's reactor goroutine and must not block;
// they happen in socket order. OnBytes for a send is invoked before the
// write is attempted, so traces show what was put on the wire even when
// the write fails.
type Observer interface {
	// OnMessage observes one decoded (DirReceive) or about-to-be-encoded
	// (DirSend) message.
	OnMessage(dir Direction, msg wire.Message)

	// OnBytes observes one raw frame.
	OnBytes(dir Direction, data []byte)
}
