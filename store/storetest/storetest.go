// Package storetest contains tests that every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run runs the tests against stores returned by open. Each test opens its
// own store, which must be empty.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"channels", testChannels},
		{"rejectsInvalidChannels", testRejectsInvalidChannels},
		{"staleRevision", testStaleRevision},
		{"rollback", testRollback},
		{"funding", testFunding},
		{"objectives", testObjectives},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

// Channel returns a directly funded channel between two new keys, as seen
// by the first, with a pre-fund setup state signed by the first.
func Channel(t *testing.T, nonce uint64) (*channel.Channel, *keypair.Full, *keypair.Full) {
	alice := keypair.MustRandom()
	bob := keypair.MustRandom()
	c, err := channel.New(state.Constants{
		ChainID:      "test",
		ChannelNonce: nonce,
		Participants: []state.Participant{
			{SigningAddress: alice.Address(), Destination: alice.Address()},
			{SigningAddress: bob.Address(), Destination: bob.Address()},
		},
	}, alice.Address(), channel.FundingStrategyDirect)
	require.NoError(t, err)
	sv, err := state.Sign(alice, c.Constants, state.Variables{
		TurnNum: 0,
		Outcome: state.Outcome{{
			Asset:       state.NativeAsset,
			Allocations: []state.Allocation{{Destination: alice.Address(), Amount: 5}},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, c.AddSignedState(sv))
	return c, alice, bob
}

func countersign(t *testing.T, signer *keypair.Full, c *channel.Channel) {
	sv, err := state.Sign(signer, c.Constants, c.Vars[0].Variables)
	require.NoError(t, err)
	require.NoError(t, c.AddSignedState(sv))
}

func testChannels(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, _, bob := Channel(t, 7)

	err := s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertChannel(c)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Revision)

	err = s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertChannel(c)
	})
	assert.True(t, errors.Is(err, store.ErrAlreadyExists))

	err = s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.LockChannel(c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Vars, got.Vars)
		assert.Equal(t, c.Constants, got.Constants)
		assert.Equal(t, c.SigningAddress, got.SigningAddress)
		assert.Equal(t, c.FundingStrategy, got.FundingStrategy)
		countersign(t, bob, got)
		return tx.UpdateChannel(got)
	})
	require.NoError(t, err)

	err = s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.Channel(c.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Revision)
		assert.True(t, got.PrefundSupported())
		return nil
	})
	require.NoError(t, err)

	err = s.Transaction(ctx, func(tx store.Tx) error {
		_, err := tx.Channel(state.Bytes32{0x01})
		return err
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testRejectsInvalidChannels(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, _, _ := Channel(t, 7)

	badID := c.Clone()
	badID.ID = state.Bytes32{0x01}
	err := s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertChannel(badID)
	})
	assert.True(t, errors.Is(err, channel.ErrInvalidChannelID))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertChannel(c)
	}))

	err = s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.LockChannel(c.ID)
		require.NoError(t, err)
		got.Vars[0].StateHash = state.Bytes32{0x02}
		return tx.UpdateChannel(got)
	})
	assert.True(t, errors.Is(err, channel.ErrIncorrectHash))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.Channel(c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Vars, got.Vars)
		return nil
	}))
}

func testStaleRevision(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, _, bob := Channel(t, 7)
	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertChannel(c)
	}))

	// A transaction that read the channel without locking it loses to one
	// that wrote it in the meantime.
	err := s.Transaction(ctx, func(outer store.Tx) error {
		first, err := outer.Channel(c.ID)
		require.NoError(t, err)
		require.NoError(t, s.Transaction(ctx, func(inner store.Tx) error {
			second, err := inner.LockChannel(c.ID)
			require.NoError(t, err)
			countersign(t, bob, second)
			return inner.UpdateChannel(second)
		}))
		countersign(t, bob, first)
		return outer.UpdateChannel(first)
	})
	assert.True(t, errors.Is(err, channel.ErrStaleState))

	// Writing a channel read at an old revision fails straight away.
	err = s.Transaction(ctx, func(tx store.Tx) error {
		return tx.UpdateChannel(c)
	})
	assert.True(t, errors.Is(err, channel.ErrStaleState))

	err = s.Transaction(ctx, func(tx store.Tx) error {
		missing, _, _ := Channel(t, 8)
		missing.Revision = 1
		return tx.UpdateChannel(missing)
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, _, _ := Channel(t, 7)

	err := s.Transaction(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertChannel(c))
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")

	err = s.Transaction(ctx, func(tx store.Tx) error {
		_, err := tx.Channel(c.ID)
		return err
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = s.Transaction(cctx, func(tx store.Tx) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))
}

func testFunding(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, _, _ := Channel(t, 7)
	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertChannel(c)
	}))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.UpdateFunding(c.ID, channel.Funding{Asset: state.NativeAsset, Held: 5}))
		got, err := tx.Channel(c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Holdings(state.NativeAsset).Held)
		return nil
	}))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.LockChannel(c.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Holdings(state.NativeAsset).Held)
		// A channel write does not drop funding.
		return tx.UpdateChannel(got)
	}))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		return tx.UpdateFunding(c.ID, channel.Funding{Asset: state.NativeAsset, Held: 2, TransferredOut: 3})
	}))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.Channel(c.ID)
		require.NoError(t, err)
		assert.Equal(t, []channel.Funding{{Asset: state.NativeAsset, Held: 2, TransferredOut: 3}}, got.Funding)
		return nil
	}))

	err := s.Transaction(ctx, func(tx store.Tx) error {
		return tx.UpdateFunding(state.Bytes32{0x09}, channel.Funding{Asset: state.NativeAsset, Held: 1})
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testObjectives(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, _, _ := Channel(t, 7)
	o := objective.New(objective.TypeOpenChannel, c.ID, channel.FundingStrategyDirect)

	// The channel must exist first.
	err := s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertObjective(o)
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertChannel(c))
		return tx.InsertObjective(o)
	}))

	err = s.Transaction(ctx, func(tx store.Tx) error {
		return tx.InsertObjective(o)
	})
	assert.True(t, errors.Is(err, store.ErrAlreadyExists))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.Objective(o.ID)
		require.NoError(t, err)
		assert.Equal(t, o, got)
		require.NoError(t, got.Transition(objective.StatusApproved))
		return tx.UpdateObjective(got)
	}))

	err = s.Transaction(ctx, func(tx store.Tx) error {
		o.Status = objective.StatusRejected
		return tx.UpdateObjective(o)
	})
	assert.True(t, errors.Is(err, objective.ErrInvalidTransition))

	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		closing := objective.New(objective.TypeCloseChannel, c.ID, channel.FundingStrategyDirect)
		require.NoError(t, tx.InsertObjective(closing))
		os, err := tx.ObjectivesForChannels(c.ID)
		require.NoError(t, err)
		require.Len(t, os, 2)
		assert.Equal(t, objective.TypeCloseChannel, os[0].Type)
		assert.Equal(t, objective.StatusApproved, os[1].Status)

		os, err = tx.ObjectivesForChannels(state.Bytes32{0x05})
		require.NoError(t, err)
		assert.Empty(t, os)
		return nil
	}))

	// One transaction can take an objective through several statuses.
	closingID := objective.ID(objective.TypeCloseChannel, c.ID)
	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.Objective(closingID)
		require.NoError(t, err)
		require.NoError(t, got.Transition(objective.StatusApproved))
		require.NoError(t, tx.UpdateObjective(got))
		require.NoError(t, got.Transition(objective.StatusSucceeded))
		return tx.UpdateObjective(got)
	}))
	require.NoError(t, s.Transaction(ctx, func(tx store.Tx) error {
		got, err := tx.Objective(closingID)
		require.NoError(t, err)
		assert.Equal(t, objective.StatusSucceeded, got.Status)
		return nil
	}))

	err = s.Transaction(ctx, func(tx store.Tx) error {
		_, err := tx.Objective("missing")
		return err
	})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
