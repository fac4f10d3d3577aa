package dispatch

import (
	"context"
	"fmt"

	"github.com/statechannels/wallet/agent"
)

type Operation string

const (
	OpCreateChannel  = Operation("CreateChannel")
	OpJoinChannel    = Operation("JoinChannel")
	OpUpdateChannel  = Operation("UpdateChannel")
	OpCloseChannel   = Operation("CloseChannel")
	OpPushMessage    = Operation("PushMessage")
	OpPushUpdate     = Operation("PushUpdate")
	OpHoldingUpdated = Operation("HoldingUpdated")
	OpGetChannel     = Operation("GetChannel")
)

type handler func(ctx context.Context, a *agent.Agent, args interface{}) (interface{}, error)

func handle[A, R any](f func(a *agent.Agent, ctx context.Context, args A) (R, error)) handler {
	return func(ctx context.Context, a *agent.Agent, args interface{}) (interface{}, error) {
		typed, ok := args.(A)
		if !ok {
			var want A
			return nil, fmt.Errorf("%w: got %T, want %T", ErrInvalidArgs, args, want)
		}
		return f(a, ctx, typed)
	}
}

var handlers = map[Operation]handler{
	OpCreateChannel:  handle((*agent.Agent).CreateChannel),
	OpJoinChannel:    handle((*agent.Agent).JoinChannel),
	OpUpdateChannel:  handle((*agent.Agent).UpdateChannel),
	OpCloseChannel:   handle((*agent.Agent).CloseChannel),
	OpPushMessage:    handle((*agent.Agent).PushMessage),
	OpPushUpdate:     handle((*agent.Agent).PushUpdate),
	OpHoldingUpdated: handle((*agent.Agent).HoldingUpdated),
	OpGetChannel:     handle((*agent.Agent).GetChannel),
}
