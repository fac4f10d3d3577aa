package protocol

import (
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/state"
)

// Deposit is a deposit this participant owes the channel: enough of the
// asset to bring the holdings up to Target.
type Deposit struct {
	ChannelID    state.Bytes32
	Asset        state.Asset
	ExpectedHeld int64
	Target       int64
}

// Amount is the amount to deposit.
func (d Deposit) Amount() int64 {
	return d.Target - d.ExpectedHeld
}

// Deposits lists the deposits this participant should make now. Only the
// shortfall is deposited, and nothing while earlier depositors have yet to
// deposit.
func Deposits(c *channel.Channel) []Deposit {
	if c.DirectFundingStatus() != channel.FundingStatusReadyToFund {
		return nil
	}
	supported, _ := c.Supported()
	me := c.Me()
	deposits := []Deposit{}
	for _, asset := range supported.Outcome.Assets() {
		held := c.Holdings(asset).Held
		before := supported.Outcome.AmountBefore(asset, me.Destination)
		target := before + supported.Outcome.AmountFor(asset, me.Destination)
		if held < before || held >= target {
			continue
		}
		deposits = append(deposits, Deposit{
			ChannelID:    c.ID,
			Asset:        asset,
			ExpectedHeld: held,
			Target:       target,
		})
	}
	return deposits
}
