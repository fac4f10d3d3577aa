// Package channel contains the channel aggregate: the constants of a channel,
// every signed state known for it, and its funding, together with views
// derived from them.
//
// Views are recomputed from the stored states each time they are asked for.
// A Channel is not threadsafe; callers serialize access per channel.
package channel

import (
	"fmt"

	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/support"
)

type FundingStrategy string

const (
	FundingStrategyDirect  = FundingStrategy("Direct")
	FundingStrategyFake    = FundingStrategy("Fake")
	FundingStrategyUnknown = FundingStrategy("Unknown")
)

type Channel struct {
	state.Constants

	ID              state.Bytes32
	Vars            []state.SignedVariables
	SigningAddress  string
	FundingStrategy FundingStrategy
	Funding         []Funding

	// Revision is incremented by the store on each write and guards against
	// concurrent writers that did not share a lock.
	Revision uint64

	validator support.Validator
}

// New creates a channel with no states for the participant with the signing
// address.
func New(c state.Constants, signingAddress string, strategy FundingStrategy) (*Channel, error) {
	if c.IndexOf(signingAddress) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, signingAddress)
	}
	id, err := c.ChannelID()
	if err != nil {
		return nil, err
	}
	return &Channel{
		Constants:       c,
		ID:              id,
		SigningAddress:  signingAddress,
		FundingStrategy: strategy,
	}, nil
}

// SetValidator attaches the application validator used to compute support.
func (c *Channel) SetValidator(v support.Validator) {
	c.validator = v
}

// Clone returns a deep enough copy that mutating the copy's states or
// funding does not affect c.
func (c *Channel) Clone() *Channel {
	cc := *c
	cc.Participants = append([]state.Participant(nil), c.Participants...)
	cc.Vars = append([]state.SignedVariables(nil), c.Vars...)
	cc.Funding = append([]Funding(nil), c.Funding...)
	return &cc
}

// Validate checks the channel identifier and the hash of every state. It
// never corrects them.
func (c *Channel) Validate() error {
	id, err := c.ChannelID()
	if err != nil {
		return err
	}
	if id != c.ID {
		return fmt.Errorf("%w: %s expected %s", ErrInvalidChannelID, c.ID, id)
	}
	for _, sv := range c.Vars {
		err = sv.CheckHash(c.Constants)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) resolve() (support.Support, bool) {
	v := c.validator
	if v == nil {
		if c.AppDefinition != state.NullApp {
			return support.Support{}, false
		}
		v = support.NullApp
	}
	return support.Compute(c.Constants, c.Vars, v)
}

// Support returns the states supporting the supported state.
func (c *Channel) Support() (support.Support, bool) {
	return c.resolve()
}

// Supported returns the state every participant is committed to.
func (c *Channel) Supported() (state.SignedVariables, bool) {
	s, ok := c.resolve()
	if !ok {
		return state.SignedVariables{}, false
	}
	return s.Supported(), true
}

// Latest returns the state with the highest turn number.
func (c *Channel) Latest() (state.SignedVariables, bool) {
	sorted := support.Sorted(c.Vars)
	if len(sorted) == 0 {
		return state.SignedVariables{}, false
	}
	return sorted[0], true
}

// LatestSignedByMe returns the highest turn state this participant signed.
func (c *Channel) LatestSignedByMe() (state.SignedVariables, bool) {
	for _, sv := range support.Sorted(c.Vars) {
		if sv.SignedBy(c.SigningAddress) {
			return sv, true
		}
	}
	return state.SignedVariables{}, false
}

// State returns the state at the turn.
func (c *Channel) State(turnNum uint64) (state.SignedVariables, bool) {
	for _, sv := range c.Vars {
		if sv.TurnNum == turnNum {
			return sv, true
		}
	}
	return state.SignedVariables{}, false
}

// MyIndex is the index of this participant.
func (c *Channel) MyIndex() int {
	return c.IndexOf(c.SigningAddress)
}

// Me is this participant.
func (c *Channel) Me() state.Participant {
	return c.Participants[c.MyIndex()]
}

// MyTurn reports whether this participant moves next. With nothing
// supported the participant at index 0 moves first.
func (c *Channel) MyTurn() bool {
	n := c.N()
	if n == 0 {
		return false
	}
	sv, ok := c.Supported()
	if !ok {
		return c.MyIndex() == 0
	}
	return (sv.TurnNum+1)%n == uint64(c.MyIndex())
}

// PostfundTurn is the turn of the last post-fund setup state, 2n-1.
func (c *Channel) PostfundTurn() uint64 {
	return 2*c.N() - 1
}

// PrefundSupported reports whether any state is supported. Every state,
// the first pre-fund setup state included, follows the pre-fund setup.
func (c *Channel) PrefundSupported() bool {
	_, ok := c.Supported()
	return ok
}

// PostfundSupported reports whether the supported state is at or past the
// last post-fund setup turn.
func (c *Channel) PostfundSupported() bool {
	sv, ok := c.Supported()
	return ok && sv.TurnNum >= c.PostfundTurn()
}

// PostfundSigned reports whether this participant signed a state at or past
// the last post-fund setup turn.
func (c *Channel) PostfundSigned() bool {
	sv, ok := c.LatestSignedByMe()
	return ok && sv.TurnNum >= c.PostfundTurn()
}

// IsRunning reports whether the channel is past setup and no final state is
// known, supported or not.
func (c *Channel) IsRunning() bool {
	if !c.PostfundSupported() {
		return false
	}
	for _, sv := range c.Vars {
		if sv.IsFinal {
			return false
		}
	}
	return true
}

// HasConclusionProof reports whether every state supporting the supported
// state is final, so every participant signed a final state.
func (c *Channel) HasConclusionProof() bool {
	s, ok := c.Support()
	if !ok {
		return false
	}
	for _, sv := range s.States {
		if !sv.IsFinal {
			return false
		}
	}
	return true
}

// AddSignedState verifies a signed state and merges it into the channel. A
// state that matches a known state contributes its signatures to it. A
// different state at a known turn is rejected.
func (c *Channel) AddSignedState(sv state.SignedVariables) error {
	err := state.VerifySignatures(c.Constants, sv)
	if err != nil {
		return err
	}
	for i, existing := range c.Vars {
		if existing.TurnNum != sv.TurnNum {
			continue
		}
		if existing.StateHash != sv.StateHash {
			return fmt.Errorf("%w: turn %d has state %s, got %s", ErrConflictingState, sv.TurnNum, existing.StateHash, sv.StateHash)
		}
		merged, err := state.MergeSignatures(existing, sv)
		if err != nil {
			return err
		}
		c.Vars[i] = merged
		return nil
	}
	c.Vars = append(c.Vars, sv)
	return nil
}

// CheckFresh fails with ErrStaleState when a state at turn next built on the
// supported turn base can no longer be signed: the supported state moved
// on, or this participant already signed at or past turn next.
func (c *Channel) CheckFresh(base, next uint64) error {
	sv, ok := c.Supported()
	if !ok || sv.TurnNum != base {
		return fmt.Errorf("%w: built on turn %d", ErrStaleState, base)
	}
	mine, ok := c.LatestSignedByMe()
	if ok && mine.TurnNum >= next {
		return fmt.Errorf("%w: already signed turn %d", ErrStaleState, mine.TurnNum)
	}
	return nil
}
