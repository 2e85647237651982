package relay

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Failure messages of locally synthesized results.
const (
	MsgNoPeer          = "No WebSocket client connected - is Draw.io open?"
	MsgTimeout         = "Command timeout"
	MsgSendFailed      = "Failed to send command"
	MsgCancelled       = "Command cancelled"
	MsgShuttingDown    = "Relay shutting down"
	MsgMalformedResult = "Malformed result from agent"
)

const (
	DefaultCommandTimeout = 30 * time.Second
	LegacyCommandTimeout  = 10 * time.Second
)

// Command outcomes reported to an Observer.
const (
	OutcomeOK         = "ok"
	OutcomeAgentError = "agent_error"
	OutcomeNoPeer     = "no_peer"
	OutcomeSendFailed = "send_failed"
	OutcomeTimeout    = "timeout"
	OutcomeCancelled  = "cancelled"
	OutcomeShutdown   = "shutdown"
	OutcomeMalformed  = "malformed"
)

// CommandReport describes one finished command.
type CommandReport struct {
	CommandID string        `json:"commandId,omitempty"`
	Action    string        `json:"action"`
	Outcome   string        `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Observer is told about every terminal command outcome. It runs on the
// goroutine that resolved the command and must not block.
type Observer interface {
	CommandFinished(CommandReport)
}

type ObserverFunc func(CommandReport)

func (f ObserverFunc) CommandFinished(r CommandReport) {
	f(r)
}

// Dispatcher sends commands to the registered peer and waits for the
// correlated result.
type Dispatcher struct {
	ledger   *Ledger
	registry *Registry
	timeout  time.Duration
	newID    func() string

	mu       sync.RWMutex
	observer Observer
}

func NewDispatcher(ledger *Ledger, registry *Registry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Dispatcher{
		ledger:   ledger,
		registry: registry,
		timeout:  timeout,
		newID:    uuid.NewString,
	}
}

func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

func (d *Dispatcher) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
}

// SendCommand dispatches one command and blocks until it resolves or ctx
// is done. A cancelled command is removed from the ledger; a later reply
// for it is ignored.
func (d *Dispatcher) SendCommand(ctx context.Context, action string, params map[string]any) protocol.Result {
	started := time.Now()
	id, ch := d.dispatch(action, params, started)
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		if id != "" && d.ledger.Remove(id) {
			res := protocol.Failure(MsgCancelled)
			d.report(id, action, res, started)
			return res
		}
		return <-ch
	}
}

// Dispatch is the non-blocking form of SendCommand. The channel receives
// exactly one result.
func (d *Dispatcher) Dispatch(action string, params map[string]any) <-chan protocol.Result {
	_, ch := d.dispatch(action, params, time.Now())
	return ch
}

func (d *Dispatcher) dispatch(action string, params map[string]any, started time.Time) (string, <-chan protocol.Result) {
	out := make(chan protocol.Result, 1)
	if !d.registry.IsConnected() {
		res := protocol.Failure(MsgNoPeer)
		d.report("", action, res, started)
		out <- res
		return "", out
	}

	id := d.newID()
	payload, err := protocol.EncodeCommand(protocol.NewCommand(id, action, params))
	if err != nil {
		log.Warn().Err(err).Str("action", action).Msg("relay.command_encode_failed")
		res := protocol.Failure(MsgSendFailed)
		d.report(id, action, res, started)
		out <- res
		return "", out
	}

	finish := func(res protocol.Result) {
		out <- res
		d.report(id, action, res, started)
	}
	dl := &deadline{}
	if err := d.ledger.Add(id, finish, dl); err != nil {
		log.Error().Err(err).Str("command_id", id).Msg("relay.ledger_add_failed")
		res := protocol.Failure(MsgSendFailed)
		d.report(id, action, res, started)
		out <- res
		return "", out
	}
	dl.arm(d.timeout, func() {
		if d.ledger.Resolve(id, protocol.Failure(MsgTimeout)) {
			log.Warn().Str("command_id", id).Str("action", action).Dur("timeout", d.timeout).Msg("relay.command_timeout")
		}
	})

	if !d.registry.Send(payload) {
		if d.ledger.Remove(id) {
			finish(protocol.Failure(MsgSendFailed))
		}
		return id, out
	}
	log.Debug().Str("command_id", id).Str("action", action).Msg("relay.command_sent")
	return id, out
}

func (d *Dispatcher) report(id, action string, res protocol.Result, started time.Time) {
	d.mu.RLock()
	o := d.observer
	d.mu.RUnlock()
	if o == nil {
		return
	}
	o.CommandFinished(CommandReport{
		CommandID: id,
		Action:    action,
		Outcome:   Classify(res),
		Error:     res.Error,
		StartedAt: started,
		Duration:  time.Since(started),
	})
}

// Classify maps a terminal result to its outcome label.
func Classify(res protocol.Result) string {
	if !res.Local() {
		if res.Success {
			return OutcomeOK
		}
		return OutcomeAgentError
	}
	switch res.Error {
	case MsgNoPeer:
		return OutcomeNoPeer
	case MsgSendFailed:
		return OutcomeSendFailed
	case MsgTimeout:
		return OutcomeTimeout
	case MsgCancelled:
		return OutcomeCancelled
	case MsgShuttingDown:
		return OutcomeShutdown
	case MsgMalformedResult:
		return OutcomeMalformed
	}
	if res.Success {
		return OutcomeOK
	}
	return OutcomeAgentError
}

// deadline is armed after its ledger entry exists so a fast timer can
// never fire against a missing entry. Stop before arm disarms it.
type deadline struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (d *deadline) arm(after time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.timer = time.AfterFunc(after, fn)
}

func (d *deadline) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer == nil {
		return false
	}
	return d.timer.Stop()
}
