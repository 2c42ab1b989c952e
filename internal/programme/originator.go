package programme

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/Jaxartes/bgpy/internal/rangeexpr"
	"github.com/Jaxartes/bgpy/internal/wire"
)

// originator (registry names "basic_orig" and "originator") announces
// IPv4 routes drawn from range expressions: an initial burst, then periodic
// background bursts. A fixed pool of slots tracks the currently-announced
// prefixes; when a background update lands on an occupied slot it either
// refreshes the route or, with configurable probability, withdraws it and
// announces a freshly drawn destination.
//
// Parameters are key=value pairs:
//
//	nh=10.0.0.1            next-hop expression (default 10.0.0.1)
//	dest=10.(3-5).0.0/16   destination prefix expression; at least one
//	                       required, repeatable
//	iupd=20                updates in the initial burst (default 20)
//	bupd=1                 updates per background burst (default 1)
//	bint=10                seconds between bursts, fractional ok (default 10)
//	slots=100              announced-route slots (default 100)
//	newdest=25             percent chance a background update replaces the
//	                       slot's destination (default 25)
//	as_path=1,2,(3-5)      AS-path expression, repeatable; defaults to a
//	                       one-hop sequence of the local AS
//	count=0                background bursts before finishing; 0 means run
//	                       forever (default 0)
type originator struct {
	env Env

	nh      *rangeexpr.QuadSpec
	dests   []*rangeexpr.CIDRSpec
	asPaths []*rangeexpr.ASPathSpec
	iupd    int
	bupd    int
	bint    time.Duration
	newdest float64
	count   int

	slots    []netip.Prefix
	cursor   int
	destIdx  int
	pathIdx  int
	started  bool
	bursts   int
	done     bool
	nextTime time.Time
}

func newOriginator(args []string, env Env) (Programme, error) {
	p := &originator{
		env:     env,
		iupd:    20,
		bupd:    1,
		bint:    10 * time.Second,
		newdest: 25,
	}
	slots := 100

	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("want key=value, got %q: %w", arg, ErrBadParameter)
		}

		var err error
		switch key {
		case "nh":
			p.nh, err = rangeexpr.ParseQuad(value)
		case "dest":
			var d *rangeexpr.CIDRSpec
			if d, err = rangeexpr.ParseCIDR(value); err == nil {
				p.dests = append(p.dests, d)
			}
		case "as_path":
			var a *rangeexpr.ASPathSpec
			if a, err = rangeexpr.ParseASPath(value); err == nil {
				p.asPaths = append(p.asPaths, a)
			}
		case "iupd":
			p.iupd, err = parseCount(value)
		case "bupd":
			p.bupd, err = parseCount(value)
		case "slots":
			if slots, err = parseCount(value); err == nil && slots < 1 {
				err = fmt.Errorf("slots must be at least 1: %w", ErrBadParameter)
			}
		case "count":
			p.count, err = parseCount(value)
		case "bint":
			var secs float64
			secs, err = strconv.ParseFloat(value, 64)
			if err != nil || secs <= 0 {
				err = fmt.Errorf("bint must be a positive number of seconds: %w", ErrBadParameter)
			} else {
				p.bint = time.Duration(secs * float64(time.Second))
			}
		case "newdest":
			p.newdest, err = strconv.ParseFloat(value, 64)
			if err != nil || p.newdest < 0 || p.newdest > 100 {
				err = fmt.Errorf("newdest must be a percentage 0-100: %w", ErrBadParameter)
			}
		default:
			err = fmt.Errorf("unrecognized key %q: %w", key, ErrBadParameter)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	if len(p.dests) == 0 {
		return nil, fmt.Errorf("at least one dest= is required: %w", ErrBadParameter)
	}
	if p.nh == nil {
		var err error
		if p.nh, err = rangeexpr.ParseQuad("10.0.0.1"); err != nil {
			return nil, err
		}
	}
	p.slots = make([]netip.Prefix, slots)

	return p, nil
}

// parseCount parses a non-negative decimal integer parameter.
func parseCount(value string) (int, error) {
	n, err := strconv.ParseUint(value, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("want a non-negative integer, got %q: %w", value, ErrBadParameter)
	}
	return int(n), nil
}

func (p *originator) Name() string { return "basic_orig" }

func (p *originator) Tick(now time.Time) []Action {
	if p.done {
		return nil
	}

	if !p.started {
		p.started = true
		p.nextTime = now.Add(p.bint)
		actions := p.burst(p.iupd)
		if p.count == 0 && p.bupd == 0 {
			p.done = true
		}
		p.env.Logger.Info("basic_orig: initial burst sent",
			slog.Int("updates", len(actions)))
		return actions
	}

	if now.Before(p.nextTime) {
		return nil
	}

	actions := p.burst(p.bupd)
	p.bursts++
	if p.count > 0 && p.bursts >= p.count {
		p.done = true
		p.env.Logger.Info("basic_orig: burst count reached",
			slog.Int("bursts", p.bursts))
	} else {
		p.nextTime = now.Add(p.bint)
	}
	return actions
}

// burst produces n single-route UPDATEs against the slot pool.
func (p *originator) burst(n int) []Action {
	actions := make([]Action, 0, n)
	for i := 0; i < n; i++ {
		actions = append(actions, Action{Msg: p.nextUpdate()})
	}
	return actions
}

// nextUpdate advances the slot cursor and builds one UPDATE: a fresh
// announcement for an empty slot, otherwise either a re-announcement of
// the slot's route or (with newdest% probability) a withdraw-and-replace.
func (p *originator) nextUpdate() *wire.Update {
	slot := p.cursor % len(p.slots)
	p.cursor++

	upd := &wire.Update{
		Attrs: []wire.PathAttr{
			wire.NewOrigin(wire.OriginIGP),
			wire.NewASPath(p.drawASPath()),
			wire.NewNextHop(p.nh.Next()),
		},
	}

	old := p.slots[slot]
	switch {
	case !old.IsValid():
		p.slots[slot] = p.drawDest()
	case p.env.Rand.Float64()*100 < p.newdest:
		upd.Withdrawn = []netip.Prefix{old}
		p.slots[slot] = p.drawDest()
	}
	upd.NLRI = []netip.Prefix{p.slots[slot]}

	return upd
}

// drawDest draws the next destination, cycling across the dest= specs.
func (p *originator) drawDest() netip.Prefix {
	spec := p.dests[p.destIdx%len(p.dests)]
	p.destIdx++
	return spec.Next()
}

// drawASPath draws the next AS path, cycling across the as_path= specs.
// Without any, the path is a one-hop sequence of the local AS.
func (p *originator) drawASPath() []wire.ASSegment {
	if len(p.asPaths) == 0 {
		return []wire.ASSegment{{Kind: wire.SegmentSequence, ASNs: []uint16{p.env.LocalAS}}}
	}
	spec := p.asPaths[p.pathIdx%len(p.asPaths)]
	p.pathIdx++

	drawn := spec.Next()
	segments := make([]wire.ASSegment, len(drawn))
	for i, seg := range drawn {
		kind := wire.SegmentSequence
		if seg.Set {
			kind = wire.SegmentSet
		}
		segments[i] = wire.ASSegment{Kind: kind, ASNs: seg.ASNs}
	}
	return segments
}

func (p *originator) OnReceived(wire.Message) {}

func (p *originator) Done() bool { return p.done }

func (p *originator) Deadline() (time.Time, bool) {
	switch {
	case p.done:
		return time.Time{}, false
	case !p.started:
		return time.Time{}, true
	}
	return p.nextTime, true
}
