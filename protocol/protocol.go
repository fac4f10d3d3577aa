// Package protocol contains the steps a participant takes to move a channel
// forward: signing setup states, advancing the running channel a turn, and
// concluding it. Steps read the channel and return signed states. They do
// no I/O and leave persisting the result to the caller.
package protocol

import (
	"errors"
	"fmt"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/state"
	"github.com/stellar/go/keypair"
)

var (
	ErrNoSupportedState = errors.New("no supported state")
	ErrNotRunning       = errors.New("channel not running")
	ErrNotMyTurn        = errors.New("not my turn")
	ErrNoPrefundState   = errors.New("no pre-fund setup state")
	ErrWrongSigner      = errors.New("signer is not the channel's signing address")
)

// Update is the content of the next state proposed by the mover.
type Update struct {
	Outcome state.Outcome
	AppData []byte
}

func checkSigner(c *channel.Channel, kp *keypair.Full) error {
	if kp.Address() != c.SigningAddress {
		return fmt.Errorf("%w: %s", ErrWrongSigner, kp.Address())
	}
	return nil
}

// Advance builds and signs the state that follows the supported state. The
// channel must be past its setup and it must be this participant's turn.
// The new state is never final.
func Advance(c *channel.Channel, u Update, kp *keypair.Full) (state.SignedVariables, error) {
	err := checkSigner(c, kp)
	if err != nil {
		return state.SignedVariables{}, err
	}
	supported, ok := c.Supported()
	if !ok {
		return state.SignedVariables{}, ErrNoSupportedState
	}
	if supported.TurnNum < c.PostfundTurn() {
		return state.SignedVariables{}, fmt.Errorf("%w: supported turn %d below %d", ErrNotRunning, supported.TurnNum, c.PostfundTurn())
	}
	if !c.MyTurn() {
		return state.SignedVariables{}, fmt.Errorf("%w: supported turn %d", ErrNotMyTurn, supported.TurnNum)
	}
	return state.Sign(kp, c.Constants, state.Variables{
		TurnNum: supported.TurnNum + 1,
		AppData: u.AppData,
		Outcome: u.Outcome,
		IsFinal: false,
	})
}

// Apply adds a state this participant signed on top of the supported turn
// base, failing with channel.ErrStaleState if the channel has moved on.
func Apply(c *channel.Channel, base uint64, sv state.SignedVariables) error {
	err := c.CheckFresh(base, sv.TurnNum)
	if err != nil {
		return err
	}
	return c.AddSignedState(sv)
}

// AdvanceChannel advances the channel from the supported turn base, the
// turn the caller last saw supported, and adds the new state to it. If the
// channel moved on from base it fails with channel.ErrStaleState.
func AdvanceChannel(c *channel.Channel, base uint64, u Update, kp *keypair.Full) (state.SignedVariables, error) {
	if _, ok := c.Supported(); ok {
		err := c.CheckFresh(base, base+1)
		if err != nil {
			return state.SignedVariables{}, err
		}
	}
	sv, err := Advance(c, u, kp)
	if err != nil {
		return state.SignedVariables{}, err
	}
	err = c.AddSignedState(sv)
	if err != nil {
		return state.SignedVariables{}, err
	}
	return sv, nil
}
