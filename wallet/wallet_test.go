package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/dispatch"
	"github.com/statechannels/wallet/msg"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/protocol"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publisherFunc func(ctx context.Context, r channel.Result) (int64, error)

func (f publisherFunc) PublishChannel(ctx context.Context, r channel.Result) (int64, error) {
	return f(ctx, r)
}

type fixture struct {
	chain  *chain.Memory
	peers  *Local
	signer map[string]*keypair.Full
}

func newFixture() *fixture {
	return &fixture{
		chain:  chain.NewMemory(),
		peers:  &Local{},
		signer: map[string]*keypair.Full{},
	}
}

func (f *fixture) wallet(t *testing.T, id string, c Config) *Wallet {
	signer := keypair.MustRandom()
	c.ChainID = network.TestNetworkPassphrase
	c.Store = store.NewMemory()
	c.Signer = signer
	c.Depositor = &chain.Depositor{HoldingsCollector: f.chain, Submitter: f.chain}
	c.Funding = f.chain
	c.Sender = f.peers
	c.Workers = 2
	w := New(c)
	w.Start()
	t.Cleanup(w.Close)

	f.peers.Add(id, w)
	f.signer[id] = signer
	return w
}

func (f *fixture) participant(id string) state.Participant {
	return state.Participant{
		ParticipantID:  id,
		SigningAddress: f.signer[id].Address(),
		Destination:    f.signer[id].Address(),
	}
}

func TestWallet_fundsAndOpensFromChainEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	published := make(chan channel.Result, 100)
	events := make(chan agent.Event, 100)
	alice := f.wallet(t, "alice", Config{
		Publisher: publisherFunc(func(ctx context.Context, r channel.Result) (int64, error) {
			published <- r
			return 1, nil
		}),
		Events: events,
	})
	bob := f.wallet(t, "bob", Config{})

	outcome := state.Outcome{{
		Asset: state.NativeAsset,
		Allocations: []state.Allocation{
			{Destination: f.signer["alice"].Address(), Amount: 1},
			{Destination: f.signer["bob"].Address(), Amount: 3},
		},
	}}
	out, err := alice.CreateChannel(ctx, agent.CreateChannelParams{
		Participants:    []state.Participant{f.participant("alice"), f.participant("bob")},
		ChannelNonce:    1,
		Outcome:         outcome,
		FundingStrategy: channel.FundingStrategyDirect,
	})
	require.NoError(t, err)
	channelID := out.ChannelResults[0].ChannelID
	require.NoError(t, f.peers.Deliver(ctx, out))

	r, err := bob.GetChannel(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, channel.StatusProposed, r.Status)

	// Joining starts the deposits. Every later step is driven by funding
	// events streamed from the chain.
	out, err = bob.JoinChannel(ctx, channelID)
	require.NoError(t, err)
	require.NoError(t, f.peers.Deliver(ctx, out))

	running := func(w *Wallet) func() bool {
		return func() bool {
			r, err := w.GetChannel(ctx, channelID)
			return err == nil && r.Status == channel.StatusRunning
		}
	}
	require.Eventually(t, running(alice), 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, running(bob), 5*time.Second, 10*time.Millisecond)

	held, err := f.chain.GetHoldings(ctx, channelID, state.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(4), held)

	r, err = alice.GetChannel(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), r.TurnNum)
	assert.Equal(t, channel.FundingStatusFunded, r.FundingStatus)

	// Every update of alice's channel is published and forwarded.
	require.Eventually(t, func() bool {
		for {
			select {
			case r := <-published:
				if r.ChannelID == channelID && r.Status == channel.StatusRunning {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				if e, ok := e.(agent.ObjectiveSucceededEvent); ok && e.Objective.Type == objective.TypeOpenChannel {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(0), alice.Stats().Crashes)
	assert.Equal(t, int64(0), alice.Stats().InFlight)
}

func TestWallet_updateAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	alice := f.wallet(t, "alice", Config{})
	bob := f.wallet(t, "bob", Config{})

	out, err := alice.CreateChannel(ctx, agent.CreateChannelParams{
		Participants:    []state.Participant{f.participant("alice"), f.participant("bob")},
		ChannelNonce:    2,
		Outcome:         state.Outcome{{Asset: state.NativeAsset}},
		FundingStrategy: channel.FundingStrategyFake,
	})
	require.NoError(t, err)
	channelID := out.ChannelResults[0].ChannelID
	require.NoError(t, f.peers.Deliver(ctx, out))
	out, err = bob.JoinChannel(ctx, channelID)
	require.NoError(t, err)
	require.NoError(t, f.peers.Deliver(ctx, out))

	r, err := alice.GetChannel(ctx, channelID)
	require.NoError(t, err)
	require.Equal(t, channel.StatusRunning, r.Status)

	_, err = bob.UpdateChannel(ctx, agent.UpdateChannelParams{ChannelID: channelID, AppData: []byte("bob")})
	assert.ErrorIs(t, err, protocol.ErrNotMyTurn)
	out, err = alice.UpdateChannel(ctx, agent.UpdateChannelParams{ChannelID: channelID, AppData: []byte("alice")})
	require.NoError(t, err)
	require.NoError(t, f.peers.Deliver(ctx, out))

	r, err = bob.GetChannel(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), r.TurnNum)
	assert.Equal(t, []byte("alice"), r.AppData)

	out, err = alice.CloseChannel(ctx, channelID)
	require.NoError(t, err)
	require.NoError(t, f.peers.Deliver(ctx, out))

	for _, w := range []*Wallet{alice, bob} {
		r, err := w.GetChannel(ctx, channelID)
		require.NoError(t, err)
		assert.Equal(t, channel.StatusClosed, r.Status)
	}
}

func TestLocal_unknownRecipient(t *testing.T) {
	l := &Local{}
	err := l.Send(context.Background(), msg.Message{Recipient: "carol"})
	assert.EqualError(t, err, "no wallet for participant carol")
}

func TestWallet_deliverWithoutSender(t *testing.T) {
	w := New(Config{
		ChainID: network.TestNetworkPassphrase,
		Store:   store.NewMemory(),
		Signer:  keypair.MustRandom(),
	})
	w.Start()
	defer w.Close()
	assert.NoError(t, w.Deliver(context.Background(), agent.Output{}))
	err := w.Deliver(context.Background(), agent.Output{Outbox: []msg.Message{{Recipient: "bob"}}})
	assert.ErrorIs(t, err, ErrNoSender)
}

func TestWallet_closed(t *testing.T) {
	f := newFixture()
	w := f.wallet(t, "alice", Config{})
	w.Close()
	w.Close()
	_, err := w.GetChannel(context.Background(), state.Bytes32{})
	assert.ErrorIs(t, err, dispatch.ErrPoolClosed)
}
