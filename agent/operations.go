package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/msg"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/protocol"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/stellar/go/support/log"
)

type CreateChannelParams struct {
	Participants      []state.Participant
	AppDefinition     string
	ChannelNonce      uint64
	ChallengeDuration uint32
	Outcome           state.Outcome
	AppData           []byte
	FundingStrategy   channel.FundingStrategy
}

// CreateChannel creates a channel, signs its first pre-fund setup state and
// sends it, with an objective to open the channel, to the other
// participants.
func (a *Agent) CreateChannel(ctx context.Context, p CreateChannelParams) (Output, error) {
	constants := state.Constants{
		ChainID:           a.chainID,
		AppDefinition:     p.AppDefinition,
		ChannelNonce:      p.ChannelNonce,
		ChallengeDuration: p.ChallengeDuration,
		Participants:      p.Participants,
	}
	c, prefund, err := protocol.Create(constants, protocol.Update{Outcome: p.Outcome, AppData: p.AppData}, p.FundingStrategy, a.signer)
	if err != nil {
		return Output{}, fmt.Errorf("creating channel: %w", err)
	}
	err = a.prepare(c)
	if err != nil {
		return Output{}, err
	}
	l := a.logger.WithFields(log.F{"channel": c.ID.String(), "op": "CreateChannel"})

	ch, err := a.withChannel(ctx, c.ID, func(tx store.Tx, existing *channel.Channel) (change, error) {
		return change{}, fmt.Errorf("channel %s: %w", c.ID, store.ErrAlreadyExists)
	}, func(tx store.Tx, id state.Bytes32) (change, error) {
		err := tx.InsertChannel(c)
		if err != nil {
			return change{}, err
		}
		o := objective.New(objective.TypeOpenChannel, c.ID, p.FundingStrategy)
		err = o.Transition(objective.StatusApproved)
		if err != nil {
			return change{}, err
		}
		err = tx.InsertObjective(o)
		if err != nil {
			return change{}, err
		}
		ch := change{}
		ch.outbox.send(c, prefund, o)
		return ch, a.crank(tx, c, &ch)
	})
	if err != nil {
		return Output{}, err
	}
	l.Info("channel created")
	return ch.output(), nil
}

// JoinChannel approves the objective to open a channel another participant
// created, and signs its pre-fund setup state.
func (a *Agent) JoinChannel(ctx context.Context, channelID state.Bytes32) (Output, error) {
	ch, err := a.withChannel(ctx, channelID, func(tx store.Tx, c *channel.Channel) (change, error) {
		o, err := tx.Objective(objective.ID(objective.TypeOpenChannel, c.ID))
		if err != nil {
			return change{}, fmt.Errorf("joining channel %s: %w", c.ID, err)
		}
		if o.Status == objective.StatusPending {
			err = o.Transition(objective.StatusApproved)
			if err != nil {
				return change{}, err
			}
			err = tx.UpdateObjective(o)
			if err != nil {
				return change{}, err
			}
		}
		ch := change{}
		return ch, a.crank(tx, c, &ch)
	}, nil)
	if err != nil {
		return Output{}, err
	}
	a.logger.WithFields(log.F{"channel": channelID.String(), "op": "JoinChannel"}).Info("channel joined")
	return ch.output(), nil
}

type UpdateChannelParams struct {
	ChannelID state.Bytes32
	Outcome   state.Outcome
	AppData   []byte

	// BaseTurn is the supported turn the update was made against. If set
	// and the channel has moved on, the update fails with
	// channel.ErrStaleState. If nil, the update is made against whatever is
	// supported.
	BaseTurn *uint64
}

// UpdateChannel signs the next state of a running channel on this
// participant's turn and sends it to the other participants.
func (a *Agent) UpdateChannel(ctx context.Context, p UpdateChannelParams) (Output, error) {
	err := p.Outcome.Validate()
	if err != nil {
		return Output{}, err
	}
	ch, err := a.withChannel(ctx, p.ChannelID, func(tx store.Tx, c *channel.Channel) (change, error) {
		base := uint64(0)
		if p.BaseTurn != nil {
			base = *p.BaseTurn
		} else if supported, ok := c.Supported(); ok {
			base = supported.TurnNum
		}
		sv, err := protocol.AdvanceChannel(c, base, protocol.Update{Outcome: p.Outcome, AppData: p.AppData}, a.signer)
		if err != nil {
			return change{}, err
		}
		ch := change{}
		ch.outbox.send(c, sv)
		return ch, a.crank(tx, c, &ch)
	}, nil)
	if err != nil {
		return Output{}, err
	}
	a.logger.WithFields(log.F{"channel": p.ChannelID.String(), "op": "UpdateChannel", "turn": ch.result.TurnNum}).Info("channel updated")
	return ch.output(), nil
}

// CloseChannel starts closing a channel. A final state is signed when it
// is this participant's turn, and the channel is closed once the final
// state is supported.
func (a *Agent) CloseChannel(ctx context.Context, channelID state.Bytes32) (Output, error) {
	ch, err := a.withChannel(ctx, channelID, func(tx store.Tx, c *channel.Channel) (change, error) {
		o := objective.New(objective.TypeCloseChannel, c.ID, c.FundingStrategy)
		_, err := tx.Objective(o.ID)
		if errors.Is(err, store.ErrNotFound) {
			err = o.Transition(objective.StatusApproved)
			if err != nil {
				return change{}, err
			}
			err = tx.InsertObjective(o)
		}
		if err != nil {
			return change{}, err
		}
		ch := change{}
		err = a.crank(tx, c, &ch)
		if err != nil {
			return change{}, err
		}
		// Others learn of the objective with the final state. If it was not
		// this participant's turn they learn of it now so they can move.
		if len(ch.outbox.order) == 0 {
			if latest, ok := c.Latest(); ok {
				ch.outbox.send(c, latest, o)
			}
		} else {
			for _, r := range ch.outbox.order {
				m := ch.outbox.byRecipient[r]
				m.Objectives = append(m.Objectives, o)
			}
		}
		return ch, nil
	}, nil)
	if err != nil {
		return Output{}, err
	}
	a.logger.WithFields(log.F{"channel": channelID.String(), "op": "CloseChannel"}).Info("channel closing")
	return ch.output(), nil
}

// PushMessage applies a message from another participant: the signed
// states it carries, which may introduce new channels, and the objectives
// it proposes.
func (a *Agent) PushMessage(ctx context.Context, raw []byte) (Output, error) {
	m, err := msg.Unmarshal(raw)
	if err != nil {
		return Output{}, err
	}

	type inbound struct {
		constants  state.Constants
		states     []state.SignedVariables
		objectives []objective.Objective
	}
	byChannel := map[state.Bytes32]*inbound{}
	get := func(id state.Bytes32) *inbound {
		in := byChannel[id]
		if in == nil {
			in = &inbound{}
			byChannel[id] = in
		}
		return in
	}
	for _, ss := range m.SignedStates {
		id, err := ss.ChannelID()
		if err != nil {
			return Output{}, err
		}
		in := get(id)
		in.constants = ss.Constants
		in.states = append(in.states, ss.SignedVariables)
	}
	for _, o := range m.Objectives {
		for _, id := range o.ChannelIDs() {
			in := get(id)
			in.objectives = append(in.objectives, o)
		}
	}

	ids := make([]state.Bytes32, 0, len(byChannel))
	for id := range byChannel {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })

	out := Output{}
	for _, id := range ids {
		in := byChannel[id]
		apply := func(tx store.Tx, c *channel.Channel) (change, error) {
			for _, sv := range in.states {
				err := c.AddSignedState(sv)
				if err != nil {
					return change{}, fmt.Errorf("adding state at turn %d to channel %s: %w", sv.TurnNum, c.ID, err)
				}
			}
			for _, o := range in.objectives {
				err := a.receiveObjective(tx, o)
				if err != nil {
					return change{}, err
				}
			}
			ch := change{}
			return ch, a.crank(tx, c, &ch)
		}
		var onMissing func(tx store.Tx, id state.Bytes32) (change, error)
		if len(in.states) > 0 {
			onMissing = func(tx store.Tx, id state.Bytes32) (change, error) {
				c, err := channel.New(in.constants, a.signer.Address(), channel.FundingStrategyUnknown)
				if err != nil {
					return change{}, err
				}
				for _, o := range in.objectives {
					if o.Type == objective.TypeOpenChannel {
						c.FundingStrategy = o.Data.FundingStrategy
					}
				}
				err = a.prepare(c)
				if err != nil {
					return change{}, err
				}
				err = tx.InsertChannel(c)
				if err != nil {
					return change{}, err
				}
				return apply(tx, c)
			}
		}
		ch, err := a.withChannel(ctx, id, apply, onMissing)
		if err != nil {
			return Output{}, fmt.Errorf("pushing message from %s: %w", m.Sender, err)
		}
		out.merge(ch.output())
	}
	a.logger.WithFields(log.F{"op": "PushMessage", "sender": m.Sender, "channels": len(ids)}).Info("message pushed")
	return out, nil
}

// receiveObjective records an objective proposed by another participant.
// Objectives to open a channel wait for JoinChannel. Objectives to close
// one are approved straight away.
func (a *Agent) receiveObjective(tx store.Tx, o objective.Objective) error {
	_, err := tx.Objective(o.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	o.Status = objective.StatusPending
	if o.Type == objective.TypeCloseChannel {
		o.Status = objective.StatusApproved
	}
	return tx.InsertObjective(o)
}

// PushUpdate applies a single signed state for a channel the agent already
// has.
func (a *Agent) PushUpdate(ctx context.Context, ss msg.SignedState) (Output, error) {
	id, err := ss.ChannelID()
	if err != nil {
		return Output{}, err
	}
	ch, err := a.withChannel(ctx, id, func(tx store.Tx, c *channel.Channel) (change, error) {
		err := c.AddSignedState(ss.SignedVariables)
		if err != nil {
			return change{}, err
		}
		ch := change{}
		return ch, a.crank(tx, c, &ch)
	}, nil)
	if err != nil {
		return Output{}, err
	}
	return ch.output(), nil
}

// HoldingUpdated records new holdings of a channel reported by the chain.
// Events for channels the agent does not have are ignored.
func (a *Agent) HoldingUpdated(ctx context.Context, e chain.FundingEvent) (Output, error) {
	ch, err := a.withChannel(ctx, e.ChannelID, func(tx store.Tx, c *channel.Channel) (change, error) {
		f := channel.Funding{Asset: e.Asset, Held: e.Held, TransferredOut: e.TransferredOut}
		err := tx.UpdateFunding(c.ID, f)
		if err != nil {
			return change{}, err
		}
		c.SetFunding(f)
		ch := change{}
		return ch, a.crank(tx, c, &ch)
	}, func(tx store.Tx, id state.Bytes32) (change, error) {
		a.logger.WithField("channel", id.String()).Debug("ignoring funding of unknown channel")
		return change{}, nil
	})
	if err != nil {
		return Output{}, err
	}
	if ch.result.ChannelID.IsZero() {
		return Output{}, nil
	}
	return ch.output(), nil
}

// GetChannel returns the channel as it is now. It does not wait for
// operations in progress on the channel.
func (a *Agent) GetChannel(ctx context.Context, channelID state.Bytes32) (channel.Result, error) {
	var result channel.Result
	err := a.store.Transaction(ctx, func(tx store.Tx) error {
		c, err := tx.Channel(channelID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", channel.ErrChannelMissing, channelID)
		}
		if err != nil {
			return err
		}
		err = a.prepare(c)
		if err != nil {
			return err
		}
		result = c.Result()
		return nil
	})
	return result, err
}
