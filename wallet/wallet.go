// Package wallet runs a state channel wallet: a pool of workers running
// operations on channels in a shared store, a loop applying funding events
// from the chain, and a loop forwarding the events of operations.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/dispatch"
	"github.com/statechannels/wallet/lock"
	"github.com/statechannels/wallet/msg"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/statechannels/wallet/support"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/support/log"
)

var ErrNoSender = errors.New("wallet has no sender")

// Sender delivers messages to the participant named as their recipient.
type Sender interface {
	Send(ctx context.Context, m msg.Message) error
}

// ChannelPublisher publishes channel updates to subscribers.
type ChannelPublisher interface {
	PublishChannel(ctx context.Context, r channel.Result) (int64, error)
}

type Config struct {
	ChainID    string
	Store      store.Store
	Signer     *keypair.Full
	Validators support.Registry

	Depositor agent.Depositor
	Watcher   agent.Watcher
	// Funding, if set, is streamed and each event applied to its channel.
	Funding chain.Streamer
	// Sender sends the messages of funding events, and those passed to
	// Deliver. Messages of operations are otherwise returned to the caller.
	Sender Sender

	Workers int

	Publisher ChannelPublisher
	Logger    *log.Entry

	// Events, if set, receives the events of every operation. It must be
	// drained.
	Events chan<- agent.Event
}

type Wallet struct {
	signer    *keypair.Full
	pool      *dispatch.Pool
	funding   chain.Streamer
	sender    Sender
	publisher ChannelPublisher
	logger    *log.Entry

	events chan agent.Event
	out    chan<- agent.Event

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds a wallet. Operations emit events to a bounded buffer that only
// Start drains, so Start must be called before the wallet is used.
func New(c Config) *Wallet {
	logger := c.Logger
	if logger == nil {
		logger = log.DefaultLogger
	}
	logger = logger.WithField("signer", c.Signer.Address())
	ctx, cancel := context.WithCancel(context.Background())
	w := &Wallet{
		signer:    c.Signer,
		funding:   c.Funding,
		sender:    c.Sender,
		publisher: c.Publisher,
		logger:    logger,
		events:    make(chan agent.Event, 64),
		out:       c.Events,
		ctx:       ctx,
		cancel:    cancel,
	}
	w.pool = dispatch.New(dispatch.Config{
		Workers: c.Workers,
		NewAgent: func(locks *lock.Registry) *agent.Agent {
			return agent.NewAgent(agent.Config{
				ChainID:    c.ChainID,
				Store:      c.Store,
				Signer:     c.Signer,
				Validators: c.Validators,
				Depositor:  c.Depositor,
				Watcher:    c.Watcher,
				Locks:      locks,
				Logger:     logger.WithField("component", "agent"),
				Events:     w.events,
			})
		},
		Logger: logger,
	})
	return w
}

// Start starts forwarding events and, if the wallet has a funding stream,
// applying funding events.
func (w *Wallet) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.eventLoop()
		}()
		if w.funding != nil {
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.fundingLoop()
			}()
		}
	})
}

// Close stops the workers, once operations in progress finish, then the
// loops.
func (w *Wallet) Close() {
	w.stopOnce.Do(func() {
		w.pool.Close()
		w.cancel()
		w.wg.Wait()
	})
}

func (w *Wallet) SigningAddress() string {
	return w.signer.Address()
}

func (w *Wallet) Stats() dispatch.Stats {
	return w.pool.Stats()
}

func (w *Wallet) eventLoop() {
	for {
		var e agent.Event
		select {
		case <-w.ctx.Done():
			return
		case e = <-w.events:
		}
		switch e := e.(type) {
		case agent.ChannelUpdatedEvent:
			w.publish(e.ChannelResult)
		case agent.ErrorEvent:
			w.logger.WithField("error", e.Err).Error("operation error")
		}
		if w.out != nil {
			select {
			case <-w.ctx.Done():
				return
			case w.out <- e:
			}
		}
	}
}

func (w *Wallet) publish(r channel.Result) {
	if w.publisher == nil {
		return
	}
	_, err := w.publisher.PublishChannel(w.ctx, r)
	if err != nil {
		w.logger.WithFields(log.F{"channel": r.ChannelID.String(), "error": err}).Error("publishing channel")
	}
}

func (w *Wallet) fundingLoop() {
	events, cancel := w.funding.StreamFunding()
	defer cancel()
	for {
		select {
		case <-w.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			out, err := w.HoldingUpdated(w.ctx, e)
			if err != nil {
				w.logger.WithFields(log.F{"channel": e.ChannelID.String(), "error": err}).Error("applying funding event")
				continue
			}
			err = w.Deliver(w.ctx, out)
			if err != nil {
				w.logger.WithFields(log.F{"channel": e.ChannelID.String(), "error": err}).Error("delivering messages of funding event")
			}
		}
	}
}

// Deliver sends the messages of an operation with the wallet's sender.
func (w *Wallet) Deliver(ctx context.Context, out agent.Output) error {
	if len(out.Outbox) == 0 {
		return nil
	}
	if w.sender == nil {
		return ErrNoSender
	}
	for _, m := range out.Outbox {
		err := w.sender.Send(ctx, m)
		if err != nil {
			return fmt.Errorf("sending message to %s: %w", m.Recipient, err)
		}
	}
	return nil
}

func do[R any](ctx context.Context, w *Wallet, op dispatch.Operation, args interface{}) (R, error) {
	var zero R
	result, err := w.pool.Dispatch(ctx, op, args)
	if err != nil {
		return zero, err
	}
	r, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("%s returned %T", op, result)
	}
	return r, nil
}

func (w *Wallet) CreateChannel(ctx context.Context, p agent.CreateChannelParams) (agent.Output, error) {
	return do[agent.Output](ctx, w, dispatch.OpCreateChannel, p)
}

func (w *Wallet) JoinChannel(ctx context.Context, channelID state.Bytes32) (agent.Output, error) {
	return do[agent.Output](ctx, w, dispatch.OpJoinChannel, channelID)
}

func (w *Wallet) UpdateChannel(ctx context.Context, p agent.UpdateChannelParams) (agent.Output, error) {
	return do[agent.Output](ctx, w, dispatch.OpUpdateChannel, p)
}

func (w *Wallet) CloseChannel(ctx context.Context, channelID state.Bytes32) (agent.Output, error) {
	return do[agent.Output](ctx, w, dispatch.OpCloseChannel, channelID)
}

func (w *Wallet) PushMessage(ctx context.Context, raw []byte) (agent.Output, error) {
	return do[agent.Output](ctx, w, dispatch.OpPushMessage, raw)
}

func (w *Wallet) PushUpdate(ctx context.Context, ss msg.SignedState) (agent.Output, error) {
	return do[agent.Output](ctx, w, dispatch.OpPushUpdate, ss)
}

func (w *Wallet) HoldingUpdated(ctx context.Context, e chain.FundingEvent) (agent.Output, error) {
	return do[agent.Output](ctx, w, dispatch.OpHoldingUpdated, e)
}

func (w *Wallet) GetChannel(ctx context.Context, channelID state.Bytes32) (channel.Result, error) {
	return do[channel.Result](ctx, w, dispatch.OpGetChannel, channelID)
}
