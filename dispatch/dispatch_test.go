package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/lock"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const (
	opPanic      = Operation("panic")
	opBlock      = Operation("block")
	opBlockPanic = Operation("blockPanic")
)

func init() {
	handlers[opPanic] = func(ctx context.Context, a *agent.Agent, args interface{}) (interface{}, error) {
		panic("boom")
	}
	handlers[opBlock] = func(ctx context.Context, a *agent.Agent, args interface{}) (interface{}, error) {
		b := args.(block)
		if b.started != nil {
			b.started()
		}
		<-b.release
		return b.result, nil
	}
	handlers[opBlockPanic] = func(ctx context.Context, a *agent.Agent, args interface{}) (interface{}, error) {
		b := args.(block)
		b.started()
		<-b.release
		panic("boom")
	}
}

type block struct {
	started func()
	release chan struct{}
	result  interface{}
}

type fixture struct {
	alice, bob *keypair.Full
	store      *store.Memory
	agents     *atomic.Int64
}

func newFixture() fixture {
	return fixture{
		alice:  keypair.MustRandom(),
		bob:    keypair.MustRandom(),
		store:  store.NewMemory(),
		agents: atomic.NewInt64(0),
	}
}

func (f fixture) pool(workers int) *Pool {
	return New(Config{
		Workers: workers,
		NewAgent: func(locks *lock.Registry) *agent.Agent {
			f.agents.Inc()
			return agent.NewAgent(agent.Config{
				ChainID: "test",
				Store:   f.store,
				Signer:  f.alice,
				Locks:   locks,
			})
		},
	})
}

// runningChannel stores a channel, as seen by alice, whose supported state
// is at turn and signed by both participants.
func (f fixture) runningChannel(t *testing.T, nonce, turn uint64) state.Bytes32 {
	c, err := channel.New(state.Constants{
		ChainID:      "test",
		ChannelNonce: nonce,
		Participants: []state.Participant{
			{SigningAddress: f.alice.Address(), Destination: f.alice.Address()},
			{SigningAddress: f.bob.Address(), Destination: f.bob.Address()},
		},
	}, f.alice.Address(), channel.FundingStrategyDirect)
	require.NoError(t, err)
	sv, err := state.Sign(f.alice, c.Constants, state.Variables{TurnNum: turn})
	require.NoError(t, err)
	sv, err = sv.Sign(f.bob)
	require.NoError(t, err)
	require.NoError(t, c.AddSignedState(sv))
	require.NoError(t, f.store.Transaction(context.Background(), func(tx store.Tx) error {
		return tx.InsertChannel(c)
	}))
	return c.ID
}

func TestPool_dispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p := f.pool(2)
	defer p.Close()
	assert.Equal(t, int64(2), f.agents.Load())

	id := f.runningChannel(t, 1, 5)
	result, err := p.Dispatch(ctx, OpUpdateChannel, agent.UpdateChannelParams{ChannelID: id, AppData: []byte("a")})
	require.NoError(t, err)
	out, ok := result.(agent.Output)
	require.True(t, ok)
	require.Len(t, out.ChannelResults, 1)
	assert.Equal(t, uint64(6), out.ChannelResults[0].TurnNum)

	result, err = p.Dispatch(ctx, OpGetChannel, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), result.(channel.Result).TurnNum)

	_, err = p.Dispatch(ctx, OpGetChannel, "not an id")
	assert.True(t, errors.Is(err, ErrInvalidArgs))
	_, err = p.Dispatch(ctx, Operation("Unknown"), nil)
	assert.True(t, errors.Is(err, ErrUnknownOperation))

	assert.Equal(t, Stats{Workers: 2, Completed: 4}, p.Stats())
}

func TestPool_crashReplacesWorker(t *testing.T) {
	for _, workers := range []int{0, 1} {
		ctx := context.Background()
		f := newFixture()
		p := f.pool(workers)

		_, err := p.Dispatch(ctx, opPanic, nil)
		assert.True(t, errors.Is(err, ErrWorkerCrashed), "workers=%d", workers)
		assert.Equal(t, int64(2), f.agents.Load(), "workers=%d", workers)
		assert.Equal(t, int64(1), p.Stats().Crashes)

		// The replacement serves requests.
		id := f.runningChannel(t, 1, 5)
		result, err := p.Dispatch(ctx, OpGetChannel, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), result.(channel.Result).TurnNum)
		p.Close()
	}
}

func TestPool_waitsForIdleWorker(t *testing.T) {
	f := newFixture()
	p := f.pool(1)
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		_, err := p.Dispatch(context.Background(), opBlock, block{
			started: func() { close(started) },
			release: release,
		})
		done <- err
	}()
	<-started

	// The only worker is busy, so the wait gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Dispatch(ctx, OpGetChannel, state.Bytes32{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	require.NoError(t, <-done)

	_, err = p.Dispatch(context.Background(), OpGetChannel, state.Bytes32{})
	assert.True(t, errors.Is(err, channel.ErrChannelMissing))
}

func TestPool_waitersServedInOrder(t *testing.T) {
	f := newFixture()
	p := f.pool(1)
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = p.Dispatch(context.Background(), opBlock, block{
			started: func() { close(started) },
			release: release,
		})
	}()
	<-started

	const k = 5
	mu := sync.Mutex{}
	order := []int{}
	wg := sync.WaitGroup{}
	for i := 0; i < k; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			open := make(chan struct{})
			close(open)
			_, err := p.Dispatch(context.Background(), opBlock, block{
				started: func() {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
				},
				release: open,
			})
			assert.NoError(t, err)
		}()
		// Each waiter is queued before the next starts. InFlight counts a
		// waiter just before it starts waiting.
		require.Eventually(t, func() bool { return p.Stats().InFlight == int64(i+2) }, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPool_sameBaseContenders(t *testing.T) {
	for _, workers := range []int{0, 4} {
		ctx := context.Background()
		f := newFixture()
		p := f.pool(workers)
		id := f.runningChannel(t, 1, 5)

		const k = 8
		base := uint64(5)
		successes := atomic.NewInt64(0)
		stale := atomic.NewInt64(0)
		g := errgroup.Group{}
		for i := 0; i < k; i++ {
			g.Go(func() error {
				_, err := p.Dispatch(ctx, OpUpdateChannel, agent.UpdateChannelParams{ChannelID: id, AppData: []byte("x"), BaseTurn: &base})
				switch {
				case err == nil:
					successes.Inc()
				case errors.Is(err, channel.ErrStaleState):
					stale.Inc()
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int64(1), successes.Load(), "workers=%d", workers)
		assert.Equal(t, int64(k-1), stale.Load(), "workers=%d", workers)

		result, err := p.Dispatch(ctx, OpGetChannel, id)
		require.NoError(t, err)
		assert.Equal(t, base+1, result.(channel.Result).TurnNum)
		p.Close()
	}
}

func TestPool_distinctChannelsRunInParallel(t *testing.T) {
	f := newFixture()
	const m = 4
	p := f.pool(m)
	defer p.Close()

	// Every operation waits for all m to have started, which only happens
	// if they run at the same time.
	wg := sync.WaitGroup{}
	wg.Add(m)
	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()
	g := errgroup.Group{}
	for i := 0; i < m; i++ {
		g.Go(func() error {
			_, err := p.Dispatch(context.Background(), opBlock, block{started: wg.Done, release: all})
			return err
		})
	}
	require.NoError(t, g.Wait())
}

func TestPool_crashWhileClosingIsNotReplaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p := f.pool(1)

	started := make(chan struct{})
	release := make(chan struct{})
	crashed := make(chan error, 1)
	go func() {
		_, err := p.Dispatch(ctx, opBlockPanic, block{
			started: func() { close(started) },
			release: release,
		})
		crashed <- err
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	// The only worker is busy, so this returns once the pool is closed.
	_, err := p.Dispatch(ctx, OpGetChannel, state.Bytes32{})
	require.True(t, errors.Is(err, ErrPoolClosed))

	close(release)
	assert.True(t, errors.Is(<-crashed, ErrWorkerCrashed))
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, int64(1), f.agents.Load())
}

func TestPool_closed(t *testing.T) {
	for _, workers := range []int{0, 2} {
		f := newFixture()
		p := f.pool(workers)
		p.Close()
		p.Close()
		_, err := p.Dispatch(context.Background(), OpGetChannel, state.Bytes32{})
		assert.True(t, errors.Is(err, ErrPoolClosed), "workers=%d", workers)
	}
}
