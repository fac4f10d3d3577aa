package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/statechannels/wallet/state"
)

var ErrHoldingsMoved = errors.New("holdings moved")

type holdingsKey struct {
	channelID state.Bytes32
	asset     string
}

// Memory is a chain that lives in memory, for tests and local development.
// Deposits take effect immediately and are broadcast to every stream.
type Memory struct {
	mu          sync.Mutex
	holdings    map[holdingsKey]int64
	transferred map[holdingsKey]int64
	streams     map[int]chan FundingEvent
	nextStream  int
}

var (
	_ HoldingsCollector = &Memory{}
	_ DepositSubmitter  = &Memory{}
	_ Streamer          = &Memory{}
)

func NewMemory() *Memory {
	return &Memory{
		holdings:    map[holdingsKey]int64{},
		transferred: map[holdingsKey]int64{},
		streams:     map[int]chan FundingEvent{},
	}
}

func (m *Memory) GetHoldings(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[holdingsKey{channelID, asset.StringCanonical()}], nil
}

func (m *Memory) SubmitDeposit(ctx context.Context, channelID state.Bytes32, asset state.Asset, expectedHeld, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be greater than 0, got %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := holdingsKey{channelID, asset.StringCanonical()}
	if m.holdings[k] != expectedHeld {
		return fmt.Errorf("%w: expected %d held %d", ErrHoldingsMoved, expectedHeld, m.holdings[k])
	}
	m.holdings[k] += amount
	m.broadcast(FundingEvent{ChannelID: channelID, Asset: asset, Held: m.holdings[k], TransferredOut: m.transferred[k]})
	return nil
}

// Transfer pays amount of the channel's holdings out.
func (m *Memory) Transfer(channelID state.Bytes32, asset state.Asset, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := holdingsKey{channelID, asset.StringCanonical()}
	if m.holdings[k] < amount {
		return fmt.Errorf("transferring %d of %s from %s: only %d held", amount, asset, channelID, m.holdings[k])
	}
	m.holdings[k] -= amount
	m.transferred[k] += amount
	m.broadcast(FundingEvent{ChannelID: channelID, Asset: asset, Held: m.holdings[k], TransferredOut: m.transferred[k]})
	return nil
}

// StreamFunding streams every funding event from now on. Events are
// buffered so a slow reader does not block the chain, and a stream whose
// buffer is full misses events.
func (m *Memory) StreamFunding() (events <-chan FundingEvent, cancel func()) {
	m.mu.Lock()
	id := m.nextStream
	m.nextStream++
	ch := make(chan FundingEvent, 64)
	m.streams[id] = ch
	m.mu.Unlock()

	cancelOnce := sync.Once{}
	cancel = func() {
		cancelOnce.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.streams, id)
			close(ch)
		})
	}
	return ch, cancel
}

// broadcast must be called with mu held.
func (m *Memory) broadcast(e FundingEvent) {
	for _, ch := range m.streams {
		select {
		case ch <- e:
		default:
		}
	}
}
