package channel_test

import (
	"errors"
	"testing"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/support"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	alice, bob *keypair.Full
	constants  state.Constants
	outcome    state.Outcome
}

func newFixture() fixture {
	alice := keypair.MustRandom()
	bob := keypair.MustRandom()
	return fixture{
		alice: alice,
		bob:   bob,
		constants: state.Constants{
			ChainID:           "test",
			ChannelNonce:      1,
			ChallengeDuration: 100,
			Participants: []state.Participant{
				{ParticipantID: "alice", SigningAddress: alice.Address(), Destination: alice.Address()},
				{ParticipantID: "bob", SigningAddress: bob.Address(), Destination: bob.Address()},
			},
		},
		outcome: state.Outcome{{
			Asset: state.NativeAsset,
			Allocations: []state.Allocation{
				{Destination: alice.Address(), Amount: 1},
				{Destination: bob.Address(), Amount: 3},
			},
		}},
	}
}

func (f fixture) channel(t *testing.T, me *keypair.Full) *channel.Channel {
	c, err := channel.New(f.constants, me.Address(), channel.FundingStrategyDirect)
	require.NoError(t, err)
	return c
}

func (f fixture) signed(t *testing.T, turnNum uint64, isFinal bool, signers ...*keypair.Full) state.SignedVariables {
	sv, err := state.NewSignedVariables(f.constants, state.Variables{TurnNum: turnNum, Outcome: f.outcome, IsFinal: isFinal})
	require.NoError(t, err)
	for _, kp := range signers {
		sv, err = sv.Sign(kp)
		require.NoError(t, err)
	}
	return sv
}

func TestNew(t *testing.T) {
	f := newFixture()
	c := f.channel(t, f.bob)
	wantID, err := f.constants.ChannelID()
	require.NoError(t, err)
	assert.Equal(t, wantID, c.ID)
	assert.Equal(t, 1, c.MyIndex())
	assert.Equal(t, "bob", c.Me().ParticipantID)
	assert.Equal(t, uint64(3), c.PostfundTurn())

	_, err = channel.New(f.constants, keypair.MustRandom().Address(), channel.FundingStrategyDirect)
	assert.True(t, errors.Is(err, channel.ErrNotParticipant))
}

func TestValidate(t *testing.T) {
	f := newFixture()
	c := f.channel(t, f.alice)
	require.NoError(t, c.AddSignedState(f.signed(t, 0, false, f.alice)))
	require.NoError(t, c.Validate())

	badID := c.Clone()
	badID.ID = state.Bytes32{0x01}
	assert.True(t, errors.Is(badID.Validate(), channel.ErrInvalidChannelID))

	badHash := c.Clone()
	badHash.Vars[0].StateHash = state.Bytes32{0x02}
	assert.True(t, errors.Is(badHash.Validate(), channel.ErrIncorrectHash))

	// The clone did not share states with the original.
	require.NoError(t, c.Validate())
}

func TestAddSignedState(t *testing.T) {
	f := newFixture()
	c := f.channel(t, f.alice)

	require.NoError(t, c.AddSignedState(f.signed(t, 0, false, f.alice)))
	_, ok := c.Supported()
	assert.False(t, ok)

	// Countersignature merges into the existing state.
	require.NoError(t, c.AddSignedState(f.signed(t, 0, false, f.bob)))
	require.Len(t, c.Vars, 1)
	assert.Len(t, c.Vars[0].Signatures, 2)
	sv, ok := c.Supported()
	require.True(t, ok)
	assert.Equal(t, uint64(0), sv.TurnNum)

	// A different state at a known turn.
	err := c.AddSignedState(f.signed(t, 0, true, f.bob))
	assert.True(t, errors.Is(err, channel.ErrConflictingState))

	// Bad signature.
	forged := f.signed(t, 1, false, f.bob)
	forged.Signatures[0].Signer = f.alice.Address()
	assert.Error(t, c.AddSignedState(forged))
	assert.Len(t, c.Vars, 1)
}

func TestDerivedViews(t *testing.T) {
	f := newFixture()
	a := f.channel(t, f.alice)
	b := f.channel(t, f.bob)

	// Nothing supported: index 0 may open.
	assert.True(t, a.MyTurn())
	assert.False(t, b.MyTurn())
	assert.False(t, a.PrefundSupported())
	assert.Equal(t, channel.StatusProposed, a.Result().Status)

	for _, c := range []*channel.Channel{a, b} {
		require.NoError(t, c.AddSignedState(f.signed(t, 0, false, f.alice, f.bob)))
	}
	assert.True(t, a.PrefundSupported())
	assert.False(t, a.PostfundSupported())
	assert.False(t, a.IsRunning())
	assert.False(t, a.MyTurn())
	assert.True(t, b.MyTurn())
	assert.Equal(t, channel.StatusOpening, a.Result().Status)

	for _, c := range []*channel.Channel{a, b} {
		require.NoError(t, c.AddSignedState(f.signed(t, 2, false, f.alice)))
		require.NoError(t, c.AddSignedState(f.signed(t, 3, false, f.bob)))
	}
	sv, ok := a.Supported()
	require.True(t, ok)
	assert.Equal(t, uint64(3), sv.TurnNum)
	assert.True(t, a.PostfundSupported())
	assert.True(t, a.IsRunning())
	assert.True(t, a.MyTurn())
	assert.False(t, b.MyTurn())
	assert.True(t, b.PostfundSigned())
	assert.False(t, a.PostfundSigned())
	assert.Equal(t, channel.StatusRunning, a.Result().Status)

	mine, ok := a.LatestSignedByMe()
	require.True(t, ok)
	assert.Equal(t, uint64(2), mine.TurnNum)

	// A final state anywhere, even unsupported, stops the channel running.
	// Turn 5 is bob's to move so alice's signature alone supports nothing.
	require.NoError(t, a.AddSignedState(f.signed(t, 5, true, f.alice)))
	latest, ok := a.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(5), latest.TurnNum)
	assert.True(t, a.PostfundSupported())
	assert.False(t, a.IsRunning())
	assert.False(t, a.HasConclusionProof())
	assert.Equal(t, channel.StatusClosing, a.Result().Status)
	assert.Equal(t, uint64(3), a.Result().TurnNum)

	require.NoError(t, a.AddSignedState(f.signed(t, 5, true, f.bob)))
	assert.True(t, a.HasConclusionProof())
	assert.Equal(t, channel.StatusClosed, a.Result().Status)
	assert.Equal(t, uint64(5), a.Result().TurnNum)
}

func TestHasConclusionProof_needsEveryParticipantOnAFinalState(t *testing.T) {
	f := newFixture()
	c := f.channel(t, f.alice)
	require.NoError(t, c.AddSignedState(f.signed(t, 4, false, f.alice, f.bob)))
	require.NoError(t, c.AddSignedState(f.signed(t, 5, true, f.bob)))

	// The final state is supported on the strength of the turn below it,
	// which alice signed but which is not final.
	s, ok := c.Support()
	require.True(t, ok)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Supported().IsFinal)
	assert.False(t, c.HasConclusionProof())
	assert.Equal(t, channel.StatusClosing, c.Result().Status)

	require.NoError(t, c.AddSignedState(f.signed(t, 5, true, f.alice)))
	assert.True(t, c.HasConclusionProof())
	assert.Equal(t, channel.StatusClosed, c.Result().Status)
}

func TestSupported_usesAttachedValidator(t *testing.T) {
	f := newFixture()
	f.constants.AppDefinition = "APP"
	c := f.channel(t, f.alice)
	require.NoError(t, c.AddSignedState(f.signed(t, 0, false, f.alice, f.bob)))

	// Without a validator an app channel supports nothing.
	_, ok := c.Supported()
	assert.False(t, ok)

	c.SetValidator(support.NullApp)
	_, ok = c.Supported()
	assert.True(t, ok)
}

func TestCheckFresh(t *testing.T) {
	f := newFixture()
	c := f.channel(t, f.alice)
	require.NoError(t, c.AddSignedState(f.signed(t, 3, false, f.alice, f.bob)))

	require.NoError(t, c.CheckFresh(3, 4))
	assert.True(t, errors.Is(c.CheckFresh(2, 3), channel.ErrStaleState))

	// Turn 4 signed by its mover moves the supported state on.
	require.NoError(t, c.AddSignedState(f.signed(t, 4, false, f.alice)))
	assert.True(t, errors.Is(c.CheckFresh(3, 4), channel.ErrStaleState))
	require.NoError(t, c.CheckFresh(4, 5))

	// Alice signing bob's turn leaves the supported state alone but she may
	// not sign turn 5 again.
	require.NoError(t, c.AddSignedState(f.signed(t, 5, false, f.alice)))
	assert.True(t, errors.Is(c.CheckFresh(4, 5), channel.ErrStaleState))
}

func TestDirectFundingStatus(t *testing.T) {
	f := newFixture()
	a := f.channel(t, f.alice)
	b := f.channel(t, f.bob)
	assert.Equal(t, channel.FundingStatusUncategorized, a.DirectFundingStatus())

	for _, c := range []*channel.Channel{a, b} {
		require.NoError(t, c.AddSignedState(f.signed(t, 0, false, f.alice, f.bob)))
	}

	testCases := []struct {
		Name  string
		Held  int64
		Out   int64
		WantA channel.FundingStatus
		WantB channel.FundingStatus
	}{
		{"nothing held", 0, 0, channel.FundingStatusReadyToFund, channel.FundingStatusNotFunded},
		{"alice deposited", 1, 0, channel.FundingStatusReadyToFund, channel.FundingStatusReadyToFund},
		{"all deposited", 4, 0, channel.FundingStatusFunded, channel.FundingStatusFunded},
		{"paid out", 0, 4, channel.FundingStatusDefunded, channel.FundingStatusDefunded},
	}
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			for _, c := range []*channel.Channel{a, b} {
				c.SetFunding(channel.Funding{Asset: state.NativeAsset, Held: tc.Held, TransferredOut: tc.Out})
			}
			assert.Equal(t, tc.WantA, a.DirectFundingStatus())
			assert.Equal(t, tc.WantB, b.DirectFundingStatus())
		})
	}
	require.Len(t, a.Funding, 1)

	fake := f.channel(t, f.alice)
	fake.FundingStrategy = channel.FundingStrategyFake
	require.NoError(t, fake.AddSignedState(f.signed(t, 0, false, f.alice, f.bob)))
	assert.Equal(t, channel.FundingStatusUncategorized, fake.DirectFundingStatus())
}
