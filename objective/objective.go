// Package objective tracks what the wallet has been asked to achieve for a
// channel, such as opening or closing it, and how far it has got.
package objective

import (
	"errors"
	"fmt"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/state"
)

var ErrInvalidTransition = errors.New("invalid objective status transition")

type Type string

const (
	TypeOpenChannel  = Type("OpenChannel")
	TypeCloseChannel = Type("CloseChannel")
)

type Status string

const (
	StatusPending   = Status("pending")
	StatusApproved  = Status("approved")
	StatusRejected  = Status("rejected")
	StatusSucceeded = Status("succeeded")
	StatusFailed    = Status("failed")
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusSucceeded, StatusFailed},
}

// CanTransition reports whether an objective may move from s to to.
// Rejected, succeeded and failed objectives never move again.
func (s Status) CanTransition(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type Data struct {
	TargetChannelID state.Bytes32
	FundingStrategy channel.FundingStrategy
}

type Objective struct {
	ID     string
	Type   Type
	Status Status
	Data   Data
}

// ID returns the identifier of the objective of the type for the channel.
// There is at most one objective of each type per channel.
func ID(t Type, channelID state.Bytes32) string {
	return fmt.Sprintf("%s-%s", t, channelID)
}

// New returns a pending objective of the type for the channel.
func New(t Type, channelID state.Bytes32, strategy channel.FundingStrategy) Objective {
	return Objective{
		ID:     ID(t, channelID),
		Type:   t,
		Status: StatusPending,
		Data: Data{
			TargetChannelID: channelID,
			FundingStrategy: strategy,
		},
	}
}

// ChannelIDs lists the channels the objective refers to.
func (o Objective) ChannelIDs() []state.Bytes32 {
	return []state.Bytes32{o.Data.TargetChannelID}
}

// Transition moves the objective to the status.
func (o *Objective) Transition(to Status) error {
	if !o.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s from %s to %s", ErrInvalidTransition, o.ID, o.Status, to)
	}
	o.Status = to
	return nil
}
