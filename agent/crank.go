package agent

import (
	"errors"
	"fmt"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/protocol"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/stellar/go/support/log"
)

// crank progresses the approved objectives of the channel as far as they
// can go, then writes the channel. States signed along the way are queued
// in the change's outbox.
func (a *Agent) crank(tx store.Tx, c *channel.Channel, ch *change) error {
	objectives, err := tx.ObjectivesForChannels(c.ID)
	if err != nil {
		return fmt.Errorf("getting objectives of channel %s: %w", c.ID, err)
	}
	for _, o := range objectives {
		if o.Status != objective.StatusApproved {
			continue
		}
		var done bool
		switch o.Type {
		case objective.TypeOpenChannel:
			done, err = a.crankOpen(c, ch)
		case objective.TypeCloseChannel:
			done, err = a.crankClose(c, ch)
		default:
			err = fmt.Errorf("objective %s has unrecognized type %s", o.ID, o.Type)
		}
		if err != nil {
			return fmt.Errorf("progressing objective %s: %w", o.ID, err)
		}
		if !done {
			continue
		}
		err = o.Transition(objective.StatusSucceeded)
		if err != nil {
			return err
		}
		err = tx.UpdateObjective(o)
		if err != nil {
			return fmt.Errorf("updating objective %s: %w", o.ID, err)
		}
		a.logger.WithFields(log.F{"channel": c.ID.String(), "objective": o.ID}).Info("objective succeeded")
		ch.events = append(ch.events, ObjectiveSucceededEvent{Objective: o})
	}

	err = tx.UpdateChannel(c)
	if err != nil {
		return err
	}
	ch.result = c.Result()
	ch.events = append(ch.events, ChannelUpdatedEvent{ChannelResult: ch.result})
	return nil
}

func (a *Agent) crankOpen(c *channel.Channel, ch *change) (bool, error) {
	sign := func(sv state.SignedVariables, signed bool, err error) error {
		if err != nil {
			return err
		}
		if signed {
			ch.outbox.send(c, sv)
		}
		return nil
	}

	err := sign(protocol.SignPrefund(c, a.signer))
	if err != nil {
		return false, err
	}
	if supported, ok := c.Supported(); ok && c.FundingStrategy == channel.FundingStrategyDirect {
		ch.watch = &c.Constants
		ch.assets = supported.Outcome.Assets()
		ch.deposits = append(ch.deposits, protocol.Deposits(c)...)
	}
	err = sign(protocol.SignPostfund(c, a.signer))
	if err != nil {
		return false, err
	}
	return c.PostfundSupported(), nil
}

func (a *Agent) crankClose(c *channel.Channel, ch *change) (bool, error) {
	sv, signed, err := protocol.Conclude(c, a.signer)
	if errors.Is(err, protocol.ErrNoSupportedState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if signed {
		ch.outbox.send(c, sv)
	}
	return c.HasConclusionProof(), nil
}
