package agent

import (
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/objective"
)

// Event is an event that occurs during an operation of the agent.
type Event interface{}

// ErrorEvent occurs when an error has occurred that did not fail the
// operation, and contains the error occurred.
type ErrorEvent struct {
	Err error
}

// ChannelUpdatedEvent occurs when an operation committed a change to a
// channel, and contains the channel after the change.
type ChannelUpdatedEvent struct {
	ChannelResult channel.Result
}

// ObjectiveSucceededEvent occurs when an objective has been achieved.
type ObjectiveSucceededEvent struct {
	Objective objective.Objective
}
