package programme

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Jaxartes/bgpy/internal/wire"
)

// notifier sends a single NOTIFICATION and finishes. Combined with
// "@after N run ..." it reproduces a delayed peer-error injection.
//
// Arguments, positional:
//
//	<code>      error code, 0-255
//	<subcode>   error subcode, 0-255
//	[payload]   optional data: "text:<string>" or "hex:<octets>"
type notifier struct {
	env  Env
	msg  *wire.Notification
	sent bool
}

func newNotifier(args []string, env Env) (Programme, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("want <code> <subcode> [payload], got %d arguments: %w",
			len(args), ErrBadParameter)
	}

	code, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("error code %q: %w", args[0], ErrBadParameter)
	}
	subcode, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("error subcode %q: %w", args[1], ErrBadParameter)
	}

	var data []byte
	if len(args) == 3 {
		switch {
		case strings.HasPrefix(args[2], "text:"):
			data = []byte(strings.TrimPrefix(args[2], "text:"))
		case strings.HasPrefix(args[2], "hex:"):
			data, err = hex.DecodeString(strings.TrimPrefix(args[2], "hex:"))
			if err != nil {
				return nil, fmt.Errorf("payload %q: %w", args[2], ErrBadParameter)
			}
		default:
			return nil, fmt.Errorf("payload %q: want text: or hex: prefix: %w",
				args[2], ErrBadParameter)
		}
	}

	return &notifier{
		env: env,
		msg: &wire.Notification{
			Code:    wire.ErrorCode(code),
			Subcode: uint8(subcode),
			Data:    data,
		},
	}, nil
}

func (p *notifier) Name() string { return "notifier" }

func (p *notifier) Tick(time.Time) []Action {
	if p.sent {
		return nil
	}
	p.sent = true
	p.env.Logger.Info("notifier: sending notification",
		slog.String("code", p.msg.Code.String()),
		slog.String("subcode", wire.SubcodeString(p.msg.Code, p.msg.Subcode)))
	return []Action{{Msg: p.msg}}
}

func (p *notifier) OnReceived(wire.Message) {}

func (p *notifier) Done() bool { return p.sent }

func (p *notifier) Deadline() (time.Time, bool) {
	if p.sent {
		return time.Time{}, false
	}
	return time.Time{}, true
}
