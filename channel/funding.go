package channel

import "github.com/statechannels/wallet/state"

// Funding is what the chain holds for a channel in one asset, and what it
// has paid out of it.
type Funding struct {
	Asset          state.Asset
	Held           int64
	TransferredOut int64
}

type FundingStatus string

const (
	FundingStatusUncategorized = FundingStatus("Uncategorized")
	FundingStatusNotFunded     = FundingStatus("NotFunded")
	FundingStatusReadyToFund   = FundingStatus("ReadyToFund")
	FundingStatusFunded        = FundingStatus("Funded")
	FundingStatusDefunded      = FundingStatus("Defunded")
)

// Holdings returns the funding of the asset, zero if none is recorded.
func (c *Channel) Holdings(asset state.Asset) Funding {
	for _, f := range c.Funding {
		if f.Asset.StringCanonical() == asset.StringCanonical() {
			return f
		}
	}
	return Funding{Asset: asset}
}

// SetFunding records the funding of its asset, replacing any previous
// record of it.
func (c *Channel) SetFunding(f Funding) {
	for i, existing := range c.Funding {
		if existing.Asset.StringCanonical() == f.Asset.StringCanonical() {
			c.Funding[i] = f
			return
		}
	}
	c.Funding = append(c.Funding, f)
}

// DirectFundingStatus derives where a directly funded channel is in its
// funding from the supported outcome and the holdings. Participants deposit
// in outcome order, so this participant is ready to fund once everything
// allocated before it is held.
func (c *Channel) DirectFundingStatus() FundingStatus {
	sv, ok := c.Supported()
	if !ok || c.FundingStrategy != FundingStrategyDirect {
		return FundingStatusUncategorized
	}
	me := c.Me()
	funded := true
	ready := true
	for _, asset := range sv.Outcome.Assets() {
		f := c.Holdings(asset)
		total := sv.Outcome.Total(asset)
		if f.TransferredOut > 0 && f.Held < total {
			return FundingStatusDefunded
		}
		if f.Held < total {
			funded = false
		}
		if f.Held < sv.Outcome.AmountBefore(asset, me.Destination) {
			ready = false
		}
	}
	switch {
	case funded:
		return FundingStatusFunded
	case ready:
		return FundingStatusReadyToFund
	default:
		return FundingStatusNotFunded
	}
}
