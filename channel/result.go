package channel

import "github.com/statechannels/wallet/state"

type Status string

const (
	StatusProposed = Status("proposed")
	StatusOpening  = Status("opening")
	StatusRunning  = Status("running")
	StatusClosing  = Status("closing")
	StatusClosed   = Status("closed")
)

// Result is the view of a channel returned to callers.
type Result struct {
	ChannelID       state.Bytes32
	Participants    []state.Participant
	AppDefinition   string
	TurnNum         uint64
	AppData         []byte
	Outcome         state.Outcome
	IsFinal         bool
	Status          Status
	FundingStatus   FundingStatus
	FundingStrategy FundingStrategy
	Funding         []Funding
}

func (c *Channel) status() Status {
	switch {
	case c.HasConclusionProof():
		return StatusClosed
	case !c.PrefundSupported():
		return StatusProposed
	case c.IsRunning():
		return StatusRunning
	case c.PostfundSupported():
		return StatusClosing
	default:
		return StatusOpening
	}
}

// Result reports the supported state, or the latest state when nothing is
// supported yet.
func (c *Channel) Result() Result {
	sv, ok := c.Supported()
	if !ok {
		sv, _ = c.Latest()
	}
	return Result{
		ChannelID:       c.ID,
		Participants:    c.Participants,
		AppDefinition:   c.AppDefinition,
		TurnNum:         sv.TurnNum,
		AppData:         sv.AppData,
		Outcome:         sv.Outcome,
		IsFinal:         sv.IsFinal,
		Status:          c.status(),
		FundingStatus:   c.DirectFundingStatus(),
		FundingStrategy: c.FundingStrategy,
		Funding:         c.Funding,
	}
}
