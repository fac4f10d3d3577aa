package msg_test

import (
	"testing"

	"github.com/statechannels/wallet/msg"
	"github.com/statechannels/wallet/state"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_signedStatesSurviveVerification(t *testing.T) {
	alice := keypair.MustRandom()
	c := state.Constants{
		ChainID:      "test",
		ChannelNonce: 1,
		Participants: []state.Participant{{ParticipantID: "alice", SigningAddress: alice.Address(), Destination: alice.Address()}},
	}
	sv, err := state.Sign(alice, c, state.Variables{TurnNum: 0, AppData: []byte{1, 2}})
	require.NoError(t, err)

	b, err := msg.Marshal(msg.Message{
		Type:         msg.TypeSignedStates,
		Sender:       "alice",
		Recipient:    "bob",
		SignedStates: []msg.SignedState{{Constants: c, SignedVariables: sv}},
	})
	require.NoError(t, err)

	m, err := msg.Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, msg.TypeSignedStates, m.Type)
	assert.Equal(t, "bob", m.Recipient)
	require.Len(t, m.SignedStates, 1)

	got := m.SignedStates[0]
	require.NoError(t, state.VerifySignatures(got.Constants, got.SignedVariables))
	wantID, err := c.ChannelID()
	require.NoError(t, err)
	gotID, err := got.ChannelID()
	require.NoError(t, err)
	assert.Equal(t, wantID, gotID)
}

func TestUnmarshal_garbage(t *testing.T) {
	_, err := msg.Unmarshal([]byte("not gob"))
	assert.Error(t, err)
}
