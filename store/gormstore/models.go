package gormstore

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/state"
)

type Channel struct {
	ID                string `gorm:"primaryKey;type:char(64)"`
	ChainID           string `gorm:"type:varchar(255)"`
	AppDefinition     string `gorm:"type:varchar(255)"`
	ChannelNonce      uint64
	ChallengeDuration uint32
	Participants      string `gorm:"type:text"`
	SigningAddress    string `gorm:"index;type:varchar(64)"`
	FundingStrategy   string `gorm:"type:varchar(32)"`
	Vars              string `gorm:"type:longtext"`
	Revision          uint64
}

// Funding has one row per channel and asset.
type Funding struct {
	ChannelID      string          `gorm:"primaryKey;type:char(64)"`
	Asset          string          `gorm:"primaryKey;type:varchar(128)"`
	Held           decimal.Decimal `gorm:"type:DECIMAL(38,0)"`
	TransferredOut decimal.Decimal `gorm:"type:DECIMAL(38,0)"`
}

type Objective struct {
	ID              string `gorm:"primaryKey;type:varchar(255)"`
	Type            string `gorm:"type:varchar(32)"`
	Status          string `gorm:"index;type:varchar(32)"`
	ChannelID       string `gorm:"index;type:char(64)"`
	FundingStrategy string `gorm:"type:varchar(32)"`
}

func channelRow(c *channel.Channel) (Channel, error) {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return Channel{}, fmt.Errorf("encoding participants of %s: %w", c.ID, err)
	}
	vars, err := json.Marshal(c.Vars)
	if err != nil {
		return Channel{}, fmt.Errorf("encoding states of %s: %w", c.ID, err)
	}
	return Channel{
		ID:                c.ID.String(),
		ChainID:           c.ChainID,
		AppDefinition:     c.AppDefinition,
		ChannelNonce:      c.ChannelNonce,
		ChallengeDuration: c.ChallengeDuration,
		Participants:      string(participants),
		SigningAddress:    c.SigningAddress,
		FundingStrategy:   string(c.FundingStrategy),
		Vars:              string(vars),
		Revision:          c.Revision,
	}, nil
}

func (r Channel) channel(funding []Funding) (*channel.Channel, error) {
	id, err := state.ParseBytes32(r.ID)
	if err != nil {
		return nil, err
	}
	c := &channel.Channel{
		Constants: state.Constants{
			ChainID:           r.ChainID,
			AppDefinition:     r.AppDefinition,
			ChannelNonce:      r.ChannelNonce,
			ChallengeDuration: r.ChallengeDuration,
		},
		ID:              id,
		SigningAddress:  r.SigningAddress,
		FundingStrategy: channel.FundingStrategy(r.FundingStrategy),
		Revision:        r.Revision,
	}
	err = json.Unmarshal([]byte(r.Participants), &c.Participants)
	if err != nil {
		return nil, fmt.Errorf("decoding participants of %s: %w", r.ID, err)
	}
	err = json.Unmarshal([]byte(r.Vars), &c.Vars)
	if err != nil {
		return nil, fmt.Errorf("decoding states of %s: %w", r.ID, err)
	}
	for _, f := range funding {
		c.SetFunding(f.funding())
	}
	return c, nil
}

func fundingRow(id state.Bytes32, f channel.Funding) Funding {
	return Funding{
		ChannelID:      id.String(),
		Asset:          f.Asset.StringCanonical(),
		Held:           decimal.NewFromInt(f.Held),
		TransferredOut: decimal.NewFromInt(f.TransferredOut),
	}
}

func (r Funding) funding() channel.Funding {
	return channel.Funding{
		Asset:          state.Asset(r.Asset),
		Held:           r.Held.IntPart(),
		TransferredOut: r.TransferredOut.IntPart(),
	}
}

func objectiveRow(o objective.Objective) Objective {
	return Objective{
		ID:              o.ID,
		Type:            string(o.Type),
		Status:          string(o.Status),
		ChannelID:       o.Data.TargetChannelID.String(),
		FundingStrategy: string(o.Data.FundingStrategy),
	}
}

func (r Objective) objective() (objective.Objective, error) {
	id, err := state.ParseBytes32(r.ChannelID)
	if err != nil {
		return objective.Objective{}, fmt.Errorf("objective %s: %w", r.ID, err)
	}
	return objective.Objective{
		ID:     r.ID,
		Type:   objective.Type(r.Type),
		Status: objective.Status(r.Status),
		Data: objective.Data{
			TargetChannelID: id,
			FundingStrategy: channel.FundingStrategy(r.FundingStrategy),
		},
	}, nil
}
