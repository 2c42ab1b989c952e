// Package programme implements the canned peer behaviors that drive a
// session: idler (OPEN plus periodic KEEPALIVEs), basic_orig (pseudorandom
// route origination) and notifier (a single NOTIFICATION).
//
// Programmes form a closed set selected by name from a static registry.
// Each instance moves Pending -> Running -> Done: the session driver calls
// Tick on every reactor wakeup and sends whatever Actions come back, calls
// OnReceived for every decoded inbound message, and uses Deadline to arm
// its timer. Parameter errors are reported at instantiation, never at
// first tick.
package programme

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/Jaxartes/bgpy/internal/wire"
)

// Instantiation errors.
var (
	// ErrUnknownProgramme indicates a name not present in the registry.
	ErrUnknownProgramme = errors.New("unknown programme")

	// ErrBadParameter indicates an argument that parsed but is not
	// acceptable: out-of-range hold time, malformed key=value pair,
	// unrecognized key.
	ErrBadParameter = errors.New("bad programme parameter")
)

// Action is one instruction to the session driver: send Msg now.
type Action struct {
	Msg wire.Message
}

// Env carries the session-level values a programme may need.
type Env struct {
	// LocalAS is the autonomous system number advertised in OPENs and
	// used as the default AS path.
	LocalAS uint16

	// RouterID is the local BGP identifier.
	RouterID netip.Addr

	// Rand drives probabilistic choices (basic_orig's newdest). Tests
	// pin it to a fixed seed.
	Rand *rand.Rand

	// Logger receives per-programme diagnostics. Must not be nil.
	Logger *slog.Logger
}

// Programme is one running behavior instance.
//
// All methods are called solely from the session driver's reactor
// goroutine; implementations need no locking.
type Programme interface {
	// Name returns the registry name the instance was created under.
	Name() string

	// Tick emits the Actions due at now, if any. The driver calls it
	// on every reactor wakeup, so implementations must be idempotent
	// between their own deadlines.
	Tick(now time.Time) []Action

	// OnReceived observes a decoded inbound message. Most programmes
	// ignore it; the idler waits on the peer's OPEN.
	OnReceived(msg wire.Message)

	// Done reports whether the programme has emitted everything it
	// ever will.
	Done() bool

	// Deadline returns the next time Tick has work, or ok=false when
	// the programme is waiting on an event (or is done) and needs no
	// timer. A zero deadline with ok=true means "due immediately".
	Deadline() (time.Time, bool)
}

// builder constructs a programme from its textual arguments.
type builder func(args []string, env Env) (Programme, error)

// registry is the closed set of programme names. "originator" aliases
// "basic_orig".
var registry = map[string]builder{
	"idler":      newIdler,
	"basic_orig": newOriginator,
	"originator": newOriginator,
	"notifier":   newNotifier,
}

// New instantiates the named programme. Argument errors are returned here;
// a returned Programme is ready to tick.
func New(name string, args []string, env Env) (Programme, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownProgramme)
	}
	if env.Rand == nil {
		env.Rand = rand.New(rand.NewPCG(1, 1))
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	p, err := build(args, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

// Names returns the registry names in no particular order, for help text.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
