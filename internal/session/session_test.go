package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Jaxartes/bgpy/internal/session"
	"github.com/Jaxartes/bgpy/internal/wire"
)

// recorder is an Observer that keeps everything it sees.
type recorder struct {
	mu    sync.Mutex
	msgs  []recordedMsg
	bytes []recordedBytes
}

type recordedMsg struct {
	dir session.Direction
	msg wire.Message
}

type recordedBytes struct {
	dir  session.Direction
	data []byte
}

func (r *recorder) OnMessage(dir session.Direction, msg wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, recordedMsg{dir: dir, msg: msg})
}

func (r *recorder) OnBytes(dir session.Direction, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes = append(r.bytes, recordedBytes{dir: dir, data: append([]byte(nil), data...)})
}

func (r *recorder) received() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []wire.Message
	for _, m := range r.msgs {
		if m.dir == session.DirReceive {
			out = append(out, m.msg)
		}
	}
	return out
}

// result carries Run's return values across the test goroutine boundary.
type result struct {
	status session.Status
	err    error
}

func testConfig() session.Config {
	return session.Config{
		LocalAS:  64512,
		RouterID: netip.AddrFrom4([4]byte{10, 0, 0, 1}),
		HoldTime: 60,
		Console:  io.Discard,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// startSession runs a session against one end of a pipe and returns the
// peer end, the command channel and the result channel.
func startSession(t *testing.T, cfg session.Config, obs ...session.Observer) (net.Conn, chan string, <-chan result) {
	t.Helper()

	local, peer := net.Pipe()
	commands := make(chan string)
	results := make(chan result, 1)

	s := session.New(local, cfg, obs...)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		status, err := s.Run(context.Background(), commands)
		results <- result{status: status, err: err}
	}()

	t.Cleanup(func() {
		peer.Close()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Error("session did not terminate")
		}
	})

	return peer, commands, results
}

// mustWrite marshals and writes a message on the peer side.
func mustWrite(t *testing.T, conn net.Conn, msg wire.Message) {
	t.Helper()
	raw, err := wire.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}
}

// mustRead reads exactly one message on the peer side.
func mustRead(t *testing.T, conn net.Conn) wire.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		msg, n, err := wire.Decode(buf)
		if err != nil {
			t.Fatalf("peer decode failed: %v", err)
		}
		if msg != nil {
			if n != len(buf) {
				t.Fatalf("peer read %d trailing octets", len(buf)-n)
			}
			return msg
		}
		k, err := conn.Read(chunk)
		if err != nil {
			t.Fatalf("peer read failed: %v", err)
		}
		buf = append(buf, chunk[:k]...)
	}
}

// await asserts Run's terminal status.
func await(t *testing.T, results <-chan result, want session.Status) result {
	t.Helper()
	select {
	case r := <-results:
		if r.status != want {
			t.Fatalf("Run() status = %s (err %v), want %s", r.status, r.err, want)
		}
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
		return result{}
	}
}

func TestPeerNotification(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	peer, _, results := startSession(t, testConfig(), rec)

	mustWrite(t, peer, &wire.Open{
		Version:    wire.Version,
		AS:         64513,
		HoldTime:   90,
		Identifier: netip.AddrFrom4([4]byte{10, 0, 0, 2}),
	})
	mustWrite(t, peer, &wire.Notification{Code: wire.ErrCodeCease, Subcode: 2})

	r := await(t, results, session.StatusPeerNotified)
	if r.err != nil {
		t.Errorf("Run() error = %v, want nil", r.err)
	}

	// The OPEN must have reached the observer before the NOTIFICATION
	// ended the session, and nothing may have been sent afterward.
	msgs := rec.received()
	if len(msgs) != 2 {
		t.Fatalf("observer saw %d inbound messages, want 2", len(msgs))
	}
	if _, ok := msgs[0].(*wire.Open); !ok {
		t.Errorf("first inbound = %T, want *wire.Open", msgs[0])
	}
	if _, ok := msgs[1].(*wire.Notification); !ok {
		t.Errorf("second inbound = %T, want *wire.Notification", msgs[1])
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, b := range rec.bytes {
		if b.dir == session.DirSend {
			t.Errorf("session sent %d octets, want none", len(b.data))
		}
	}
}

func TestClosedByPeer(t *testing.T) {
	t.Parallel()

	peer, _, results := startSession(t, testConfig())
	peer.Close()

	r := await(t, results, session.StatusClosedByPeer)
	if r.err != nil {
		t.Errorf("Run() error = %v, want nil", r.err)
	}
}

func TestCommandExit(t *testing.T) {
	t.Parallel()

	_, commands, results := startSession(t, testConfig())
	commands <- "exit"
	await(t, results, session.StatusCommandExit)
}

func TestUnknownCommandContinues(t *testing.T) {
	t.Parallel()

	_, commands, results := startSession(t, testConfig())

	commands <- "frobnicate all the things"
	commands <- `echo "still alive"`
	commands <- "exit"

	await(t, results, session.StatusCommandExit)
}

func TestRunNotifier(t *testing.T) {
	t.Parallel()

	peer, commands, results := startSession(t, testConfig())

	commands <- "run notifier 6 2 text:foo"

	msg := mustRead(t, peer)
	notif, ok := msg.(*wire.Notification)
	if !ok {
		t.Fatalf("peer read %T, want *wire.Notification", msg)
	}
	if notif.Code != wire.ErrCodeCease || notif.Subcode != 2 || string(notif.Data) != "foo" {
		t.Errorf("notification = %d/%d/%q, want 6/2/foo", notif.Code, notif.Subcode, notif.Data)
	}

	commands <- "exit"
	await(t, results, session.StatusCommandExit)
}

// failConn fails every write while leaving reads blocked, standing in for
// a peer that has torn down its receive path.
type failConn struct {
	net.Conn
}

func (c *failConn) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func TestSendOnClosedConnection(t *testing.T) {
	t.Parallel()

	local, peer := net.Pipe()
	defer peer.Close()

	commands := make(chan string)
	results := make(chan result, 1)
	s := session.New(&failConn{Conn: local}, testConfig())
	go func() {
		status, err := s.Run(context.Background(), commands)
		results <- result{status: status, err: err}
	}()

	commands <- "run notifier 6 0"

	// The send is attempted, fails, and is reported as a connection
	// error rather than a panic.
	r := await(t, results, session.StatusConnectionError)
	if !errors.Is(r.err, session.ErrConnectionClosed) {
		t.Errorf("Run() error = %v, want ErrConnectionClosed", r.err)
	}
}

func TestDecodeErrorFatal(t *testing.T) {
	t.Parallel()

	peer, _, results := startSession(t, testConfig())

	// A frame with a corrupt marker cannot be resynchronized.
	garbage := make([]byte, wire.HeaderLen)
	garbage[wire.MarkerLen+1] = wire.HeaderLen
	garbage[wire.MarkerLen+2] = byte(wire.MsgKeepalive)
	if _, err := peer.Write(garbage); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}

	// The session notifies the peer best-effort before closing.
	msg := mustRead(t, peer)
	notif, ok := msg.(*wire.Notification)
	if !ok {
		t.Fatalf("peer read %T, want *wire.Notification", msg)
	}
	if notif.Code != wire.ErrCodeMessageHeader {
		t.Errorf("notification code = %s, want Message Header Error", notif.Code)
	}

	r := await(t, results, session.StatusProtocolError)
	if !errors.Is(r.err, wire.ErrMalformedHeader) {
		t.Errorf("Run() error = %v, want ErrMalformedHeader", r.err)
	}
}

func TestHoldTimerExpiry(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HoldTime = 1

	peer, _, results := startSession(t, cfg)

	// Drain the best-effort NOTIFICATION so the pipe write never blocks;
	// the peer itself stays silent for the full hold time.
	go io.Copy(io.Discard, peer)

	r := await(t, results, session.StatusHoldTimerExpired)
	if !errors.Is(r.err, session.ErrHoldTimerExpired) {
		t.Errorf("Run() error = %v, want ErrHoldTimerExpired", r.err)
	}
}

func TestIdlerSession(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	peer, commands, results := startSession(t, testConfig(), rec)

	commands <- "run idler 30 k3"

	msg := mustRead(t, peer)
	open, ok := msg.(*wire.Open)
	if !ok {
		t.Fatalf("peer read %T, want *wire.Open", msg)
	}
	if open.AS != 64512 || open.HoldTime != 30 || open.Version != wire.Version {
		t.Errorf("OPEN = AS %d hold %d version %d, want 64512/30/4",
			open.AS, open.HoldTime, open.Version)
	}

	mustWrite(t, peer, &wire.Open{
		Version:    wire.Version,
		AS:         64513,
		HoldTime:   90,
		Identifier: netip.AddrFrom4([4]byte{10, 0, 0, 2}),
	})

	// The idler's first KEEPALIVE follows immediately after the OPEN
	// exchange settles.
	msg = mustRead(t, peer)
	if _, ok := msg.(*wire.Keepalive); !ok {
		t.Fatalf("peer read %T, want *wire.Keepalive", msg)
	}

	commands <- "exit"
	await(t, results, session.StatusCommandExit)
}

func TestScheduledRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Startup = []string{"@after 0.05 run notifier 6 4 hex:0a0b"}

	peer, _, results := startSession(t, cfg)

	start := time.Now()
	msg := mustRead(t, peer)
	notif, ok := msg.(*wire.Notification)
	if !ok {
		t.Fatalf("peer read %T, want *wire.Notification", msg)
	}
	if notif.Subcode != 4 || string(notif.Data) != "\x0a\x0b" {
		t.Errorf("notification = subcode %d data %x, want 4/0a0b", notif.Subcode, notif.Data)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("notification arrived after %v, want a ~50ms delay", elapsed)
	}

	peer.Close()
	await(t, results, session.StatusClosedByPeer)
}

func TestStartupRunDirective(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Startup = []string{"@run idler 30"}

	peer, _, results := startSession(t, cfg)

	msg := mustRead(t, peer)
	if _, ok := msg.(*wire.Open); !ok {
		t.Fatalf("peer read %T, want *wire.Open", msg)
	}

	peer.Close()
	await(t, results, session.StatusClosedByPeer)
}

func TestPauseResumeStop(t *testing.T) {
	t.Parallel()

	peer, commands, results := startSession(t, testConfig())

	commands <- "run idler 30"
	msg := mustRead(t, peer)
	if _, ok := msg.(*wire.Open); !ok {
		t.Fatalf("peer read %T, want *wire.Open", msg)
	}

	// Duplicate run is rejected; the session keeps going.
	commands <- "run idler 30"
	// Paused, the idler never reacts to the peer's OPEN with a KEEPALIVE
	// tick; after resume it does.
	commands <- "pause idler"
	mustWrite(t, peer, &wire.Open{
		Version:    wire.Version,
		AS:         64513,
		HoldTime:   90,
		Identifier: netip.AddrFrom4([4]byte{10, 0, 0, 2}),
	})
	commands <- "resume idler"

	msg = mustRead(t, peer)
	if _, ok := msg.(*wire.Keepalive); !ok {
		t.Fatalf("peer read %T, want *wire.Keepalive", msg)
	}

	commands <- "stop idler"
	commands <- "exit"
	await(t, results, session.StatusCommandExit)
}

func TestEchoOutput(t *testing.T) {
	t.Parallel()

	var console strings.Builder
	var mu sync.Mutex
	cfg := testConfig()
	cfg.Console = &lockedWriter{mu: &mu, w: &console}

	_, commands, results := startSession(t, cfg)
	commands <- `echo hello "quoted words" end`
	commands <- "exit"
	await(t, results, session.StatusCommandExit)

	mu.Lock()
	defer mu.Unlock()
	if got := console.String(); got != "hello quoted words end\n" {
		t.Errorf("echo output = %q, want %q", got, "hello quoted words end\n")
	}
}

// lockedWriter guards a writer shared between the reactor and the test.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
