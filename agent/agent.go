// Package agent contains the engine that runs wallet operations against
// the store: creating and joining channels, advancing and closing them, and
// applying messages and funding events from outside.
//
// Each operation on a channel runs inside the channel's critical section
// and a single store transaction, so its effects commit together or not at
// all. After every operation the objectives of the channels touched are
// progressed as far as they can go, which may sign further states and
// request deposits.
//
// An Agent is safe for concurrent use. Several agents may share a store.
// Agents that share a lock registry take turns on a channel. Otherwise the
// store's revision checks catch agents racing on the same channel.
package agent

import (
	"context"
	"fmt"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/lock"
	"github.com/statechannels/wallet/msg"
	"github.com/statechannels/wallet/protocol"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/statechannels/wallet/support"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/support/log"
)

// Depositor deposits funds into channels on chain.
type Depositor interface {
	Deposit(ctx context.Context, d protocol.Deposit) (int64, error)
}

// Watcher watches the chain for the funding of channels.
type Watcher interface {
	Watch(c state.Constants, assets ...state.Asset) error
}

type Config struct {
	// ChainID identifies the chain channels created by the agent are funded
	// on. It is the network passphrase of the Stellar network.
	ChainID string

	Store      store.Store
	Signer     *keypair.Full
	Validators support.Registry
	Depositor  Depositor
	Watcher    Watcher

	// Locks guards the channels the agent operates on. Agents sharing a
	// store in one process share it, so they wait for each other rather than
	// fail with channel.ErrStaleState. If nil the agent has its own.
	Locks *lock.Registry

	Logger *log.Entry

	Events chan<- Event
}

func NewAgent(c Config) *Agent {
	logger := c.Logger
	if logger == nil {
		logger = log.DefaultLogger
	}
	locks := c.Locks
	if locks == nil {
		locks = lock.NewRegistry()
	}
	return &Agent{
		chainID:    c.ChainID,
		store:      c.Store,
		signer:     c.Signer,
		validators: c.Validators,
		depositor:  c.Depositor,
		watcher:    c.Watcher,
		logger:     logger.WithField("signer", c.Signer.Address()),
		events:     c.Events,
		locks:      locks,
	}
}

type Agent struct {
	chainID    string
	store      store.Store
	signer     *keypair.Full
	validators support.Registry
	depositor  Depositor
	watcher    Watcher

	logger *log.Entry

	events chan<- Event

	locks *lock.Registry
}

// SigningAddress is the address the agent signs states with.
func (a *Agent) SigningAddress() string {
	return a.signer.Address()
}

// Output is the result of an operation: the channels it touched and the
// messages to deliver to other participants.
type Output struct {
	ChannelResults []channel.Result
	Outbox         []msg.Message
}

func (o *Output) merge(other Output) {
	o.ChannelResults = append(o.ChannelResults, other.ChannelResults...)
	o.Outbox = append(o.Outbox, other.Outbox...)
}

// change collects what an operation did to one channel.
type change struct {
	result   channel.Result
	outbox   outbox
	deposits []protocol.Deposit
	watch    *state.Constants
	assets   []state.Asset
	events   []Event
}

func (ch change) output() Output {
	return Output{
		ChannelResults: []channel.Result{ch.result},
		Outbox:         ch.outbox.messages(),
	}
}

func (a *Agent) prepare(c *channel.Channel) error {
	v, err := a.validators.Lookup(c.AppDefinition)
	if err != nil {
		return err
	}
	c.SetValidator(v)
	return nil
}

// withChannel runs op on the channel inside its critical section, then
// makes any deposits the operation asked for and emits its events.
func (a *Agent) withChannel(ctx context.Context, id state.Bytes32, op lock.Op[change], onMissing lock.MissingHandler[change]) (change, error) {
	ch, err := lock.WithChannel(ctx, a.locks, a.store, id, func(tx store.Tx, c *channel.Channel) (change, error) {
		err := a.prepare(c)
		if err != nil {
			return change{}, err
		}
		return op(tx, c)
	}, onMissing)
	if err != nil {
		return change{}, err
	}
	if ch.watch != nil && a.watcher != nil {
		err = a.watcher.Watch(*ch.watch, ch.assets...)
		if err != nil {
			a.logger.WithField("error", err).Error("watching channel")
			a.emit(ErrorEvent{Err: err})
		}
	}
	a.deposit(ctx, ch.deposits)
	for _, e := range ch.events {
		a.emit(e)
	}
	return ch, nil
}

func (a *Agent) deposit(ctx context.Context, deposits []protocol.Deposit) {
	if a.depositor == nil {
		return
	}
	for _, d := range deposits {
		l := a.logger.WithFields(log.F{"channel": d.ChannelID.String(), "asset": d.Asset.StringCanonical()})
		held, err := a.depositor.Deposit(ctx, d)
		if err != nil {
			err = fmt.Errorf("depositing into channel %s: %w", d.ChannelID, err)
			l.WithField("error", err).Error("deposit failed")
			a.emit(ErrorEvent{Err: err})
			continue
		}
		l.WithField("held", held).Info("deposited")
	}
}

func (a *Agent) emit(e Event) {
	if a.events != nil {
		a.events <- e
	}
}
