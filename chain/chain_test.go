package chain_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/protocol"
	"github.com/statechannels/wallet/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type holdingsCollectorFunc func(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error)

func (f holdingsCollectorFunc) GetHoldings(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error) {
	return f(ctx, channelID, asset)
}

type submitterFunc func(ctx context.Context, channelID state.Bytes32, asset state.Asset, expectedHeld, amount int64) error

func (f submitterFunc) SubmitDeposit(ctx context.Context, channelID state.Bytes32, asset state.Asset, expectedHeld, amount int64) error {
	return f(ctx, channelID, asset, expectedHeld, amount)
}

func TestDepositor_depositsShortfall(t *testing.T) {
	ctx := context.Background()
	held := int64(3)
	submitted := []int64{}
	d := &chain.Depositor{
		HoldingsCollector: holdingsCollectorFunc(func(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error) {
			return held, nil
		}),
		Submitter: submitterFunc(func(ctx context.Context, channelID state.Bytes32, asset state.Asset, expectedHeld, amount int64) error {
			assert.Equal(t, held, expectedHeld)
			submitted = append(submitted, amount)
			held += amount
			return nil
		}),
	}

	got, err := d.Deposit(ctx, protocol.Deposit{Asset: state.NativeAsset, ExpectedHeld: 1, Target: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
	assert.Equal(t, []int64{7}, submitted)

	// Already held.
	got, err = d.Deposit(ctx, protocol.Deposit{Asset: state.NativeAsset, ExpectedHeld: 1, Target: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
	assert.Equal(t, []int64{7}, submitted)
}

func TestDepositor_errors(t *testing.T) {
	ctx := context.Background()
	collectErr := errors.New("collect failed")
	d := &chain.Depositor{
		HoldingsCollector: holdingsCollectorFunc(func(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error) {
			return 0, collectErr
		}),
	}
	_, err := d.Deposit(ctx, protocol.Deposit{Target: 1})
	assert.True(t, errors.Is(err, collectErr))

	submitErr := errors.New("submit failed")
	d = &chain.Depositor{
		HoldingsCollector: holdingsCollectorFunc(func(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error) {
			return 0, nil
		}),
		Submitter: submitterFunc(func(ctx context.Context, channelID state.Bytes32, asset state.Asset, expectedHeld, amount int64) error {
			return submitErr
		}),
	}
	_, err = d.Deposit(ctx, protocol.Deposit{Target: 1})
	assert.True(t, errors.Is(err, submitErr))
}

func TestDepositor_serializesDeposits(t *testing.T) {
	ctx := context.Background()
	m := chain.NewMemory()
	d := &chain.Depositor{HoldingsCollector: m, Submitter: m}
	id := state.Bytes32{0x01}

	// Concurrent deposits for the same target add up to the target exactly
	// once. Without serialization they would race on the expected holdings.
	wg := sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Deposit(ctx, protocol.Deposit{ChannelID: id, Asset: state.NativeAsset, Target: 5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	held, err := m.GetHoldings(ctx, id, state.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(5), held)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := chain.NewMemory()
	id := state.Bytes32{0x02}

	events, cancel := m.StreamFunding()

	require.NoError(t, m.SubmitDeposit(ctx, id, "", 0, 4))
	err := m.SubmitDeposit(ctx, id, state.NativeAsset, 0, 1)
	assert.True(t, errors.Is(err, chain.ErrHoldingsMoved))
	assert.Error(t, m.SubmitDeposit(ctx, id, state.NativeAsset, 4, 0))

	require.NoError(t, m.Transfer(id, state.NativeAsset, 3))
	assert.Error(t, m.Transfer(id, state.NativeAsset, 3))

	assert.Equal(t, chain.FundingEvent{ChannelID: id, Asset: "", Held: 4}, <-events)
	assert.Equal(t, chain.FundingEvent{ChannelID: id, Asset: state.NativeAsset, Held: 1, TransferredOut: 3}, <-events)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)

	held, err := m.GetHoldings(ctx, id, "native")
	require.NoError(t, err)
	assert.Equal(t, int64(1), held)
}
