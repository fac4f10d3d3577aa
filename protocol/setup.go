package protocol

import (
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/state"
	"github.com/stellar/go/keypair"
)

// Create returns a new channel holding the first pre-fund setup state,
// signed by kp.
func Create(c state.Constants, u Update, strategy channel.FundingStrategy, kp *keypair.Full) (*channel.Channel, state.SignedVariables, error) {
	ch, err := channel.New(c, kp.Address(), strategy)
	if err != nil {
		return nil, state.SignedVariables{}, err
	}
	err = u.Outcome.Validate()
	if err != nil {
		return nil, state.SignedVariables{}, err
	}
	sv, err := state.Sign(kp, c, state.Variables{TurnNum: 0, AppData: u.AppData, Outcome: u.Outcome})
	if err != nil {
		return nil, state.SignedVariables{}, err
	}
	err = ch.AddSignedState(sv)
	if err != nil {
		return nil, state.SignedVariables{}, err
	}
	return ch, sv, nil
}

// SignPrefund signs the pre-fund setup state, reporting false if it was
// already signed.
func SignPrefund(c *channel.Channel, kp *keypair.Full) (state.SignedVariables, bool, error) {
	err := checkSigner(c, kp)
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	prefund, ok := c.State(0)
	if !ok {
		return state.SignedVariables{}, false, ErrNoPrefundState
	}
	if prefund.SignedBy(kp.Address()) {
		return prefund, false, nil
	}
	sv, err := prefund.Sign(kp)
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	err = c.AddSignedState(sv)
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	return sv, true, nil
}

func fundingComplete(c *channel.Channel) bool {
	switch c.FundingStrategy {
	case channel.FundingStrategyDirect:
		return c.DirectFundingStatus() == channel.FundingStatusFunded
	case channel.FundingStrategyFake:
		return true
	default:
		return false
	}
}

// SignPostfund signs the last post-fund setup state, turn 2n-1, once the
// setup is supported and the channel is funded. Every participant signs the
// same post-fund state. It reports false when there is nothing to sign.
func SignPostfund(c *channel.Channel, kp *keypair.Full) (state.SignedVariables, bool, error) {
	err := checkSigner(c, kp)
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	supported, ok := c.Supported()
	if !ok || c.PostfundSigned() || !fundingComplete(c) {
		return state.SignedVariables{}, false, nil
	}
	if existing, ok := c.State(c.PostfundTurn()); ok {
		sv, err := existing.Sign(kp)
		if err != nil {
			return state.SignedVariables{}, false, err
		}
		return sv, true, c.AddSignedState(sv)
	}
	if supported.TurnNum >= c.PostfundTurn() {
		return state.SignedVariables{}, false, nil
	}
	sv, err := state.Sign(kp, c.Constants, state.Variables{
		TurnNum: c.PostfundTurn(),
		AppData: supported.AppData,
		Outcome: supported.Outcome,
	})
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	return sv, true, c.AddSignedState(sv)
}

// Conclude signs a final state. A final state proposed by another
// participant is countersigned, so that the final state carries every
// signature. Otherwise, on this participant's turn, a
// final state with the supported outcome is proposed. It reports false when
// there is nothing to sign yet.
func Conclude(c *channel.Channel, kp *keypair.Full) (state.SignedVariables, bool, error) {
	err := checkSigner(c, kp)
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	latest, ok := c.Latest()
	if ok && latest.IsFinal {
		if latest.SignedBy(kp.Address()) {
			return state.SignedVariables{}, false, nil
		}
		sv, err := latest.Sign(kp)
		if err != nil {
			return state.SignedVariables{}, false, err
		}
		return sv, true, c.AddSignedState(sv)
	}
	if c.HasConclusionProof() {
		return state.SignedVariables{}, false, nil
	}
	supported, ok := c.Supported()
	if !ok {
		return state.SignedVariables{}, false, ErrNoSupportedState
	}
	if !c.MyTurn() {
		return state.SignedVariables{}, false, nil
	}
	sv, err := state.Sign(kp, c.Constants, state.Variables{
		TurnNum: supported.TurnNum + 1,
		AppData: supported.AppData,
		Outcome: supported.Outcome,
		IsFinal: true,
	})
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	err = Apply(c, supported.TurnNum, sv)
	if err != nil {
		return state.SignedVariables{}, false, err
	}
	return sv, true, nil
}
