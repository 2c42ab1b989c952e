// Package session drives the single BGP peering connection: it owns the
// socket, multiplexes it against the operator command stream and against
// programme timers, and feeds every decoded message to observers and to
// running programmes.
//
// The driver is a merged-channel reactor. Two pump goroutines move socket
// bytes and command lines into channels; all protocol and programme state
// lives in the one goroutine running Run, so nothing in this package needs
// a lock. Within one reactor iteration inbound messages, commands and
// timer-driven sends each complete fully before the next wait.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Jaxartes/bgpy/internal/programme"
	"github.com/Jaxartes/bgpy/internal/wire"
)

// Session errors.
var (
	// ErrHoldTimerExpired indicates the peer sent nothing for the entire
	// negotiated hold time.
	ErrHoldTimerExpired = errors.New("hold timer expired")

	// ErrConnectionClosed indicates a write to an already-closed socket.
	ErrConnectionClosed = errors.New("connection closed")
)

// Status is the terminal state Run finished in.
type Status int

const (
	// StatusClosedByPeer: the peer closed the connection.
	StatusClosedByPeer Status = iota

	// StatusPeerNotified: the peer sent a NOTIFICATION.
	StatusPeerNotified

	// StatusHoldTimerExpired: no inbound traffic for the hold time.
	StatusHoldTimerExpired

	// StatusCommandExit: the operator exited, or the context was
	// cancelled.
	StatusCommandExit

	// StatusProtocolError: an inbound frame failed to decode; the byte
	// stream cannot be resynchronized.
	StatusProtocolError

	// StatusConnectionError: a socket read or write failed.
	StatusConnectionError
)

var statusNames = map[Status]string{
	StatusClosedByPeer:     "ClosedByPeer",
	StatusPeerNotified:     "PeerNotified",
	StatusHoldTimerExpired: "HoldTimerExpired",
	StatusCommandExit:      "CommandExit",
	StatusProtocolError:    "ProtocolError",
	StatusConnectionError:  "ConnectionError",
}

// String returns the status name.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", int(s))
}

// Config carries the resolved startup values the session needs.
type Config struct {
	// LocalAS is the local autonomous system number.
	LocalAS uint16

	// RouterID is the local BGP identifier.
	RouterID netip.Addr

	// HoldTime is the hold time, in seconds, assumed until an OPEN
	// exchange settles the negotiated value. 0 disables keepalives and
	// hold-timer expiry.
	HoldTime uint16

	// Startup holds command lines executed before the reactor starts
	// waiting: "@run ..." and "@after N run ..." directives.
	Startup []string

	// Console receives echo and help output. Defaults to os.Stdout.
	Console io.Writer

	// Rand seeds programme randomness. Defaults to a fixed-seed source.
	Rand *rand.Rand

	// Logger receives session diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// runningProg is one registry entry: a live programme plus its console
// state. A paused programme still sees inbound messages but is neither
// ticked nor counted toward the timer deadline.
type runningProg struct {
	name   string
	prog   programme.Programme
	paused bool
}

// schedule is one pending "@after N ..." command.
type schedule struct {
	at    time.Time
	words []string
}

// Session owns one peer connection for its whole life: no reconnection,
// no listen side. Create with New, drive with Run.
type Session struct {
	conn      net.Conn
	cfg       Config
	logger    *slog.Logger
	console   io.Writer
	observers []Observer

	// Reactor-owned state. Touched only from Run's goroutine.
	progs     []*runningProg
	schedules []schedule
	rxbuf     []byte
	openSent  *wire.Open
	openRecv  *wire.Open
	lastRecv  time.Time
	lastSend  time.Time
}

// New wraps an established connection. Observers receive every message
// and raw frame in both directions.
func New(conn net.Conn, cfg Config, observers ...Observer) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(1, 1))
	}
	return &Session{
		conn:      conn,
		cfg:       cfg,
		logger:    cfg.Logger,
		console:   cfg.Console,
		observers: observers,
	}
}

// readResult is one reader-goroutine delivery: a chunk of socket bytes or
// the error that ended reading.
type readResult struct {
	data []byte
	err  error
}

// outcome is a terminal state reached while handling an event. nil means
// the session keeps running.
type outcome struct {
	status Status
	err    error
}

// Run drives the session until a terminal condition: peer closure or
// NOTIFICATION, hold-timer expiry, a fatal decode or socket error, an
// operator exit, or context cancellation. It returns the terminal status
// and the underlying error, if any.
//
// commands supplies operator lines; it may be nil for a purely scripted
// session. Run closes the connection before returning.
func (s *Session) Run(ctx context.Context, commands <-chan string) (Status, error) {
	defer s.conn.Close()

	now := time.Now()
	s.lastRecv = now
	s.lastSend = now

	for _, line := range s.cfg.Startup {
		if out := s.handleLine(line, time.Now()); out != nil {
			return out.status, out.err
		}
	}

	done := make(chan struct{})
	defer close(done)
	readCh := make(chan readResult)
	go s.readLoop(readCh, done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now = time.Now()

		if out := s.work(now); out != nil {
			return out.status, out.err
		}

		s.armTimer(timer, now)

		select {
		case <-ctx.Done():
			s.logger.Info("session cancelled")
			return StatusCommandExit, ctx.Err()

		case r := <-readCh:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					s.logger.Info("connection closed by peer")
					return StatusClosedByPeer, nil
				}
				s.logger.Error("socket read failed", slog.Any("error", r.err))
				return StatusConnectionError, r.err
			}
			if out := s.handleBytes(r.data, time.Now()); out != nil {
				return out.status, out.err
			}

		case line, ok := <-commands:
			if !ok {
				// Command stream ended (stdin EOF); keep the session
				// running on programmes alone.
				commands = nil
				continue
			}
			if out := s.handleLine(line, time.Now()); out != nil {
				return out.status, out.err
			}

		case <-timer.C:
			// Deadline work happens at the top of the loop.
		}
	}
}

// readLoop pumps socket bytes into readCh. It exits on the first read
// error, which includes the Close that Run performs on teardown, or when
// Run has already returned and closed done.
func (s *Session) readLoop(readCh chan<- readResult, done <-chan struct{}) {
	for {
		buf := make([]byte, 4096)
		n, err := s.conn.Read(buf)
		if n > 0 {
			select {
			case readCh <- readResult{data: buf[:n]}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case readCh <- readResult{err: err}:
			case <-done:
			}
			return
		}
	}
}

// -------------------------------------------------------------------------
// Deadline Work
// -------------------------------------------------------------------------

// work performs everything due at now: scheduled commands, programme
// ticks and their sends, the local keepalive, and the hold-timer check.
// It returns a non-nil outcome when the session must end.
func (s *Session) work(now time.Time) *outcome {
	if out := s.runSchedules(now); out != nil {
		return out
	}

	// Tick programmes and serialize their sends in production order.
	for _, rp := range s.progs {
		if rp.paused {
			continue
		}
		for _, action := range rp.prog.Tick(now) {
			if err := s.send(action.Msg, now); err != nil {
				s.logger.Error("programme send failed",
					slog.String("programme", rp.name),
					slog.Any("error", err))
				return &outcome{status: StatusConnectionError, err: err}
			}
		}
	}
	s.reapDone()

	// Local keepalive at a third of the hold time, the usual convention.
	// Nothing is sent before an OPEN has gone out.
	if hold := s.effectiveHold(); hold > 0 {
		if s.openSent != nil && !now.Before(s.lastSend.Add(hold/3)) {
			if err := s.send(&wire.Keepalive{}, now); err != nil {
				return &outcome{status: StatusConnectionError, err: err}
			}
		}
		if !now.Before(s.lastRecv.Add(hold)) {
			s.logger.Error("hold timer expired",
				slog.Duration("hold_time", hold))
			// Best effort; the peer is probably gone.
			_ = s.send(&wire.Notification{Code: wire.ErrCodeHoldTimerExpired}, now)
			return &outcome{status: StatusHoldTimerExpired, err: ErrHoldTimerExpired}
		}
	}

	return nil
}

// runSchedules executes every "@after" command whose time has come. Due
// entries are split off before dispatch, since a dispatched command may
// itself schedule.
func (s *Session) runSchedules(now time.Time) *outcome {
	var due []schedule
	remaining := make([]schedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		if now.Before(sch.at) {
			remaining = append(remaining, sch)
			continue
		}
		due = append(due, sch)
	}
	s.schedules = remaining

	for _, sch := range due {
		if out := s.dispatch(sch.words, now); out != nil {
			return out
		}
	}
	return nil
}

// reapDone drops finished programmes from the registry.
func (s *Session) reapDone() {
	kept := s.progs[:0]
	for _, rp := range s.progs {
		if rp.prog.Done() {
			s.logger.Info("programme finished", slog.String("programme", rp.name))
			continue
		}
		kept = append(kept, rp)
	}
	s.progs = kept
}

// effectiveHold returns the hold time currently in force: the lesser of
// the two advertised values once both OPENs are seen, otherwise whatever
// this side proposed or was configured with.
func (s *Session) effectiveHold() time.Duration {
	hold := s.cfg.HoldTime
	if s.openSent != nil {
		hold = s.openSent.HoldTime
		if s.openRecv != nil {
			hold = min(hold, s.openRecv.HoldTime)
		}
	}
	return time.Duration(hold) * time.Second
}

// armTimer points timer at the nearest pending deadline, or far out when
// nothing is pending.
func (s *Session) armTimer(timer *time.Timer, now time.Time) {
	deadline, ok := s.nextDeadline()
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if !ok {
		timer.Reset(time.Hour)
		return
	}
	d := deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// nextDeadline computes the minimum over programme deadlines, scheduled
// commands, the keepalive due time and hold-timer expiry.
func (s *Session) nextDeadline() (time.Time, bool) {
	var (
		deadline time.Time
		ok       bool
	)
	consider := func(t time.Time) {
		if !ok || t.Before(deadline) {
			deadline, ok = t, true
		}
	}

	for _, rp := range s.progs {
		if rp.paused {
			continue
		}
		if t, armed := rp.prog.Deadline(); armed {
			consider(t)
		}
	}
	for _, sch := range s.schedules {
		consider(sch.at)
	}
	if hold := s.effectiveHold(); hold > 0 {
		if s.openSent != nil {
			consider(s.lastSend.Add(hold / 3))
		}
		consider(s.lastRecv.Add(hold))
	}

	return deadline, ok
}

// -------------------------------------------------------------------------
// Inbound Traffic
// -------------------------------------------------------------------------

// handleBytes appends a socket chunk to the receive buffer and decodes as
// many complete frames as it holds. A partial frame stays buffered for the
// next chunk; a decode failure is fatal to the session.
func (s *Session) handleBytes(data []byte, now time.Time) *outcome {
	s.notifyBytes(DirReceive, data)
	s.rxbuf = append(s.rxbuf, data...)

	for {
		msg, n, err := wire.Decode(s.rxbuf)
		if err != nil {
			s.logger.Error("inbound frame failed to decode", slog.Any("error", err))
			_ = s.send(&wire.Notification{
				Code:    wire.ErrCodeMessageHeader,
				Subcode: wire.SubcodeConnNotSynchronized,
			}, now)
			return &outcome{status: StatusProtocolError, err: err}
		}
		if msg == nil {
			return nil
		}
		s.rxbuf = s.rxbuf[n:]

		if out := s.handleMessage(msg, now); out != nil {
			return out
		}
	}
}

// handleMessage processes one decoded inbound message: observers first,
// then protocol bookkeeping, then programme hooks.
func (s *Session) handleMessage(msg wire.Message, now time.Time) *outcome {
	s.lastRecv = now
	for _, o := range s.observers {
		o.OnMessage(DirReceive, msg)
	}

	switch m := msg.(type) {
	case *wire.Open:
		s.openRecv = m
		s.logger.Info("received OPEN",
			slog.Int("peer_as", int(m.AS)),
			slog.String("peer_id", m.Identifier.String()),
			slog.Int("hold_time", int(m.HoldTime)),
			slog.Duration("effective_hold", s.effectiveHold()))

	case *wire.Notification:
		s.logger.Info("received NOTIFICATION",
			slog.String("code", m.Code.String()),
			slog.String("subcode", wire.SubcodeString(m.Code, m.Subcode)),
			slog.Int("data_len", len(m.Data)))
		return &outcome{status: StatusPeerNotified}
	}

	for _, rp := range s.progs {
		rp.prog.OnReceived(msg)
	}
	return nil
}

// -------------------------------------------------------------------------
// Outbound Traffic
// -------------------------------------------------------------------------

// send encodes and writes one message, reporting it to observers whether
// or not the write succeeds.
func (s *Session) send(msg wire.Message, now time.Time) error {
	raw, err := wire.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	for _, o := range s.observers {
		o.OnMessage(DirSend, msg)
	}
	s.notifyBytes(DirSend, raw)

	if _, err := s.conn.Write(raw); err != nil {
		return fmt.Errorf("send %s: %w: %w", msg.Type(), ErrConnectionClosed, err)
	}
	s.lastSend = now

	if open, ok := msg.(*wire.Open); ok && s.openSent == nil {
		s.openSent = open
	}
	return nil
}

func (s *Session) notifyBytes(dir Direction, data []byte) {
	for _, o := range s.observers {
		o.OnBytes(dir, data)
	}
}

// -------------------------------------------------------------------------
// Console Commands
// -------------------------------------------------------------------------

const helpText = `# Commands:
#   echo ... -- write arbitrary text to output
#   exit -- close the session and quit
#   help -- this text
#   pause <programme> -- pause a running programme
#   resume <programme> -- resume a paused programme
#   run <programme> [args] -- start a canned programme
#   @run <programme> [args] -- same as run
#   @after <seconds> run ... -- run a programme later
#   stop <programme> -- stop a running programme
`

// handleLine tokenizes and dispatches one command line. Parse and
// dispatch errors are reported and the session continues; only "exit"
// (or a fatal condition) ends it.
func (s *Session) handleLine(line string, now time.Time) *outcome {
	words, err := splitWords(line)
	if err != nil {
		s.logger.Error("cannot parse command line",
			slog.String("line", line), slog.Any("error", err))
		return nil
	}
	if len(words) == 0 {
		return nil
	}
	return s.dispatch(words, now)
}

// dispatch executes one tokenized command.
func (s *Session) dispatch(words []string, now time.Time) *outcome {
	switch words[0] {
	case "help":
		fmt.Fprint(s.console, helpText)

	case "echo":
		fmt.Fprintln(s.console, strings.Join(words[1:], " "))

	case "exit":
		s.logger.Info("exit requested")
		return &outcome{status: StatusCommandExit}

	case "run", "@run":
		s.cmdRun(words[1:])

	case "@after":
		s.cmdAfter(words[1:], now)

	case "pause", "resume":
		if len(words) != 2 {
			s.logger.Error("syntax error", slog.String("command", words[0]))
			return nil
		}
		rp := s.findProg(words[1])
		if rp == nil {
			s.logger.Error("programme not running", slog.String("programme", words[1]))
			return nil
		}
		rp.paused = words[0] == "pause"
		s.logger.Info("programme "+words[0]+"d", slog.String("programme", words[1]))

	case "stop":
		if len(words) != 2 {
			s.logger.Error("syntax error", slog.String("command", "stop"))
			return nil
		}
		s.cmdStop(words[1])

	default:
		s.logger.Error("unknown command", slog.String("command", words[0]))
	}
	return nil
}

// cmdRun instantiates a programme. One instance per name at a time.
func (s *Session) cmdRun(words []string) {
	if len(words) == 0 {
		s.logger.Error("missing programme name in run")
		return
	}
	name := words[0]
	if s.findProg(name) != nil {
		s.logger.Error("programme already running", slog.String("programme", name))
		return
	}

	p, err := programme.New(name, words[1:], programme.Env{
		LocalAS:  s.cfg.LocalAS,
		RouterID: s.cfg.RouterID,
		Rand:     s.cfg.Rand,
		Logger:   s.logger,
	})
	if err != nil {
		s.logger.Error("cannot start programme",
			slog.String("programme", name), slog.Any("error", err))
		return
	}
	s.progs = append(s.progs, &runningProg{name: name, prog: p})
	s.logger.Info("programme started", slog.String("programme", name))
}

// cmdAfter schedules the rest of the line to run after a delay.
func (s *Session) cmdAfter(words []string, now time.Time) {
	if len(words) < 2 {
		s.logger.Error("syntax error", slog.String("command", "@after"))
		return
	}
	secs, err := strconv.ParseFloat(words[0], 64)
	if err != nil || secs < 0 {
		s.logger.Error("bad delay in @after", slog.String("delay", words[0]))
		return
	}
	s.schedules = append(s.schedules, schedule{
		at:    now.Add(time.Duration(secs * float64(time.Second))),
		words: words[1:],
	})
}

// cmdStop removes a programme from the registry.
func (s *Session) cmdStop(name string) {
	for i, rp := range s.progs {
		if rp.name == name {
			s.progs = append(s.progs[:i], s.progs[i+1:]...)
			s.logger.Info("programme stopped", slog.String("programme", name))
			return
		}
	}
	s.logger.Error("programme not running", slog.String("programme", name))
}

// findProg returns the registry entry for name, or nil.
func (s *Session) findProg(name string) *runningProg {
	for _, rp := range s.progs {
		if rp.name == name {
			return rp
		}
	}
	return nil
}
