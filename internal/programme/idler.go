package programme

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Jaxartes/bgpy/internal/wire"
)

// idler states.
const (
	idlerSendOpen = iota // OPEN not yet emitted
	idlerAwaitOpen       // OPEN sent, waiting on the peer's
	idlerKeepalive       // exchanging KEEPALIVEs
	idlerSilent          // hold time 0 negotiated, nothing left to send
)

// idler sends an OPEN, waits for the peer's OPEN, then emits KEEPALIVEs at
// the negotiated hold time divided by the keepalive ratio, never less than
// one second apart (RFC 4271 Section 4.4). It is never done; it exists to
// hold the session up while other programmes or console commands run.
//
// Arguments, both optional and positional in any order:
//
//	<hold-time>   advertised hold time in seconds, 0 or 3-65535 (default 180)
//	k<ratio>      hold-time / keepalive-interval ratio, >= 1 (default 3)
type idler struct {
	env   Env
	state int

	holdTime uint16
	ratio    float64

	peerHold uint16
	interval time.Duration
	next     time.Time
}

func newIdler(args []string, env Env) (Programme, error) {
	p := &idler{env: env, holdTime: 180, ratio: 3.0}

	for _, arg := range args {
		if n, err := strconv.ParseUint(arg, 10, 16); err == nil {
			if n != 0 && (n < 3 || n > 65535) {
				return nil, fmt.Errorf("hold time must be 0 or 3-65535, got %d: %w",
					n, ErrBadParameter)
			}
			p.holdTime = uint16(n)
			continue
		}
		if rest, ok := strings.CutPrefix(arg, "k"); ok {
			r, err := strconv.ParseFloat(rest, 64)
			if err == nil && r >= 1.0 {
				p.ratio = r
				continue
			}
			return nil, fmt.Errorf("keepalive ratio must be a number >= 1, got %q: %w",
				rest, ErrBadParameter)
		}
		return nil, fmt.Errorf("unrecognized argument %q: %w", arg, ErrBadParameter)
	}

	return p, nil
}

func (p *idler) Name() string { return "idler" }

func (p *idler) Tick(now time.Time) []Action {
	switch p.state {
	case idlerSendOpen:
		p.state = idlerAwaitOpen
		return []Action{{Msg: &wire.Open{
			Version:    wire.Version,
			AS:         p.env.LocalAS,
			HoldTime:   p.holdTime,
			Identifier: p.env.RouterID,
		}}}

	case idlerKeepalive:
		if now.Before(p.next) {
			return nil
		}
		p.next = now.Add(p.interval)
		return []Action{{Msg: &wire.Keepalive{}}}
	}
	return nil
}

// OnReceived watches for the peer's OPEN to settle the keepalive interval:
// the lesser of the two advertised hold times divided by the ratio, floored
// at one second. A negotiated hold time of 0 disables keepalives entirely.
func (p *idler) OnReceived(msg wire.Message) {
	open, ok := msg.(*wire.Open)
	if !ok || p.state != idlerAwaitOpen {
		return
	}
	p.peerHold = open.HoldTime

	hold := min(p.holdTime, open.HoldTime)
	if hold == 0 {
		p.state = idlerSilent
		p.env.Logger.Info("idler: hold time 0 negotiated, no keepalives")
		return
	}

	p.interval = time.Duration(float64(hold) / p.ratio * float64(time.Second))
	if p.interval < time.Second {
		p.interval = time.Second
	}
	p.state = idlerKeepalive
	p.next = time.Time{} // first keepalive goes out immediately
	p.env.Logger.Info("idler: keepalives scheduled",
		slog.Int("hold_time", int(hold)),
		slog.Duration("interval", p.interval))
}

func (p *idler) Done() bool { return false }

func (p *idler) Deadline() (time.Time, bool) {
	switch p.state {
	case idlerSendOpen:
		return time.Time{}, true
	case idlerKeepalive:
		return p.next, true
	}
	// Waiting on the peer's OPEN, or silent for good.
	return time.Time{}, false
}
