package state

import (
	"bytes"
	"fmt"

	"github.com/stellar/go/hash"
	"github.com/stellar/go/xdr"
)

// NullApp is the app definition of a channel without application rules.
const NullApp = ""

// Participant is a member of a channel. Its position in
// Constants.Participants is its index, which fixes its turn order and
// signature slot.
type Participant struct {
	ParticipantID  string
	SigningAddress string
	Destination    string
}

// Constants are the fixed parameters of a channel.
type Constants struct {
	ChainID           string
	AppDefinition     string
	ChannelNonce      uint64
	ChallengeDuration uint32
	Participants      []Participant
}

// N returns the number of participants.
func (c Constants) N() uint64 {
	return uint64(len(c.Participants))
}

// ChannelID derives the channel identifier from the constants.
func (c Constants) ChannelID() (Bytes32, error) {
	b, err := encode(c)
	if err != nil {
		return Bytes32{}, fmt.Errorf("encoding channel constants: %w", err)
	}
	return hash.Hash(b), nil
}

// Mover returns the signing address of the participant whose turn turnNum
// is.
func (c Constants) Mover(turnNum uint64) string {
	n := c.N()
	if n == 0 {
		return ""
	}
	return c.Participants[turnNum%n].SigningAddress
}

// IndexOf returns the index of the participant with the signing address, or
// -1.
func (c Constants) IndexOf(signingAddress string) int {
	for i, p := range c.Participants {
		if p.SigningAddress == signingAddress {
			return i
		}
	}
	return -1
}

// Allocation assigns an amount of an asset to a destination.
type Allocation struct {
	Destination string
	Amount      int64
}

// AssetOutcome lists the allocations of one asset, in payout order.
type AssetOutcome struct {
	Asset       Asset
	Allocations []Allocation
}

// Outcome is how channel funds are distributed if the state is finalized.
type Outcome []AssetOutcome

// Total is the sum allocated of the asset.
func (o Outcome) Total(asset Asset) int64 {
	total := int64(0)
	for _, ao := range o {
		if ao.Asset.StringCanonical() != asset.StringCanonical() {
			continue
		}
		for _, a := range ao.Allocations {
			total += a.Amount
		}
	}
	return total
}

// AmountBefore is the sum allocated of the asset to destinations that are
// paid out before the given destination. It is the holding a depositor
// waits for before depositing its own share.
func (o Outcome) AmountBefore(asset Asset, destination string) int64 {
	total := int64(0)
	for _, ao := range o {
		if ao.Asset.StringCanonical() != asset.StringCanonical() {
			continue
		}
		for _, a := range ao.Allocations {
			if a.Destination == destination {
				return total
			}
			total += a.Amount
		}
	}
	return total
}

// AmountFor is the sum allocated of the asset to the destination.
func (o Outcome) AmountFor(asset Asset, destination string) int64 {
	total := int64(0)
	for _, ao := range o {
		if ao.Asset.StringCanonical() != asset.StringCanonical() {
			continue
		}
		for _, a := range ao.Allocations {
			if a.Destination == destination {
				total += a.Amount
			}
		}
	}
	return total
}

// Assets lists the distinct assets of the outcome in order.
func (o Outcome) Assets() []Asset {
	seen := map[string]bool{}
	assets := []Asset{}
	for _, ao := range o {
		k := ao.Asset.StringCanonical()
		if seen[k] {
			continue
		}
		seen[k] = true
		assets = append(assets, ao.Asset)
	}
	return assets
}

// Validate checks the outcome allocates only non-negative amounts of well
// formed assets.
func (o Outcome) Validate() error {
	for _, ao := range o {
		err := ao.Asset.Validate()
		if err != nil {
			return err
		}
		for _, a := range ao.Allocations {
			if a.Amount < 0 {
				return fmt.Errorf("allocation to %s of %s is negative: %d", a.Destination, ao.Asset, a.Amount)
			}
		}
	}
	return nil
}

// Variables are the parts of a state that change turn to turn.
type Variables struct {
	TurnNum uint64
	AppData []byte
	Outcome Outcome
	IsFinal bool
}

// Equal reports whether both variables encode identically.
func (v Variables) Equal(o Variables) bool {
	a, errA := encode(v)
	b, errB := encode(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Hash returns the digest of the full state, constants and variables.
func Hash(c Constants, v Variables) (Bytes32, error) {
	b, err := encode(struct {
		Constants Constants
		Variables Variables
	}{c, v})
	if err != nil {
		return Bytes32{}, fmt.Errorf("encoding state: %w", err)
	}
	return hash.Hash(b), nil
}

func encode(v interface{}) ([]byte, error) {
	buf := bytes.Buffer{}
	_, err := xdr.Marshal(&buf, v)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
