// Package trace prints hex dumps of the raw TCP exchange with the peer.
//
// The dump keeps a running byte offset per direction, so a message split
// across several reads still lines up: each line starts at a 16-byte
// boundary of the stream, with blank columns padding a partial first line.
package trace

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Jaxartes/bgpy/internal/session"
	"github.com/Jaxartes/bgpy/internal/wire"
)

// bytesPerLine is the number of octets shown on one dump line.
const bytesPerLine = 16

// dirLabels maps transfer directions to the dump line prefix.
var dirLabels = map[session.Direction]string{
	session.DirReceive: "tcp-rcv",
	session.DirSend:    "tcp-snd",
}

// -------------------------------------------------------------------------
// Tracer — Hex Dump Observer
// -------------------------------------------------------------------------

// Tracer is a session.Observer that writes every raw frame as a hex dump.
// It is driven from the session goroutine and must not be shared with a
// second session.
type Tracer struct {
	w io.Writer

	// now stamps the dump headers; replaced in tests.
	now func() time.Time

	// rxPos and txPos are the running stream offsets per direction.
	rxPos uint64
	txPos uint64
}

// New creates a Tracer dumping to w.
func New(w io.Writer) *Tracer {
	return &Tracer{w: w, now: time.Now}
}

// OnMessage is a no-op; the Tracer works on raw bytes.
func (t *Tracer) OnMessage(session.Direction, wire.Message) {}

// OnBytes dumps one raw frame. The first line carries a timestamp, the
// direction and the frame length; the following lines show the octets,
// sixteen per line, prefixed with the stream offset.
func (t *Tracer) OnBytes(dir session.Direction, data []byte) {
	if len(data) == 0 {
		return
	}

	label := dirLabels[dir]

	pos := &t.rxPos
	if dir == session.DirSend {
		pos = &t.txPos
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s, %d bytes:\n",
		t.now().UTC().Format("2006-01-02T15:04:05.000Z"), label, len(data))

	// Pad a partial first line so columns align with the stream offset.
	lead := int(*pos % bytesPerLine)
	cells := make([]string, lead, lead+len(data))
	for i := range cells {
		cells[i] = "  "
	}
	for _, octet := range data {
		cells = append(cells, fmt.Sprintf("%02x", octet))
	}

	base := *pos - uint64(lead)
	for i := 0; i < len(cells); i += bytesPerLine {
		end := min(i+bytesPerLine, len(cells))
		fmt.Fprintf(&b, "%s.%010x: %s\n",
			label, base+uint64(i), strings.Join(cells[i:end], " "))
	}

	*pos += uint64(len(data))
	io.WriteString(t.w, b.String())
}
