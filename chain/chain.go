// Package chain connects the wallet to the chain holding channel funds. It
// submits deposits, and reports how much the chain holds for channels.
package chain

import (
	"context"

	"github.com/statechannels/wallet/state"
)

// FundingEvent reports the holdings of a channel in an asset after they
// changed on chain.
type FundingEvent struct {
	ChannelID      state.Bytes32
	Asset          state.Asset
	Held           int64
	TransferredOut int64
}

// HoldingsCollector gets the amount of an asset the chain holds for a
// channel.
type HoldingsCollector interface {
	GetHoldings(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error)
}

// DepositSubmitter submits a deposit of amount into a channel. The deposit
// is only valid while the chain holds expectedHeld for the channel.
type DepositSubmitter interface {
	SubmitDeposit(ctx context.Context, channelID state.Bytes32, asset state.Asset, expectedHeld, amount int64) error
}

// Streamer streams funding events until cancelled.
type Streamer interface {
	StreamFunding() (events <-chan FundingEvent, cancel func())
}
