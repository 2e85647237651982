package agent

import (
	"context"

	"github.com/danmuck/drawctl/internal/protocol"
)

const MsgMissingScript = "Missing script parameter"

// Executor runs one command against the editor.
type Executor interface {
	Execute(ctx context.Context, cmd protocol.Command) protocol.Result
}

type ExecutorFunc func(ctx context.Context, cmd protocol.Command) protocol.Result

func (f ExecutorFunc) Execute(ctx context.Context, cmd protocol.Command) protocol.Result {
	return f(ctx, cmd)
}

// EchoExecutor answers every command with its own action and params. It
// checks end-to-end wiring without an editor.
type EchoExecutor struct{}

func (EchoExecutor) Execute(_ context.Context, cmd protocol.Command) protocol.Result {
	if cmd.Action == protocol.ActionExecuteScript {
		if _, ok := cmd.StringParam("script"); !ok {
			return protocol.Failure(MsgMissingScript)
		}
	}
	res, err := protocol.Success(map[string]any{
		"action": cmd.Action,
		"params": cmd.Params,
	})
	if err != nil {
		return protocol.Failure(err.Error())
	}
	return res
}
