package horizon

import (
	"context"
	"sync"
	"time"

	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/state"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/support/log"
)

// RetryInterval is how long a stream waits before reconnecting after
// Horizon returned an error.
var RetryInterval = 5 * time.Second

type stream struct {
	ctx    context.Context
	events chan chain.FundingEvent
	wg     sync.WaitGroup
}

// StreamFunding streams the holdings of watched channels. Each escrow's
// holdings are reported when streaming starts, and again after every
// transaction that affects the escrow. Channels watched later join the
// stream. StreamFunding can be stopped by calling the cancel function
// returned.
func (h *Chain) StreamFunding() (events <-chan chain.FundingEvent, cancel func()) {
	ctx, ctxCancel := context.WithCancel(context.Background())
	s := &stream{
		ctx:    ctx,
		events: make(chan chain.FundingEvent),
	}

	h.mu.Lock()
	if h.streams == nil {
		h.streams = map[*stream]struct{}{}
	}
	h.streams[s] = struct{}{}
	for id, w := range h.channels {
		h.startLocked(s, id, w)
	}
	h.mu.Unlock()

	cancelOnce := sync.Once{}
	cancel = func() {
		cancelOnce.Do(func() {
			h.mu.Lock()
			delete(h.streams, s)
			h.mu.Unlock()
			ctxCancel()
			go func() {
				s.wg.Wait()
				close(s.events)
			}()
		})
	}
	return s.events, cancel
}

// startLocked must be called with mu held.
func (h *Chain) startLocked(s *stream, id state.Bytes32, w *watched) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		h.streamEscrow(s, id, w)
	}()
}

func (h *Chain) streamEscrow(s *stream, id state.Bytes32, w *watched) {
	l := h.logger().WithFields(log.F{"channel": id.String(), "escrow": w.escrow.Address()})
	h.report(s, id)
	cursor := ""
	for {
		req := horizonclient.TransactionRequest{
			ForAccount: w.escrow.Address(),
			Cursor:     cursor,
		}
		err := h.HorizonClient.StreamTransactions(s.ctx, req, func(tx horizon.Transaction) {
			cursor = tx.PagingToken()
			h.report(s, id)
		})
		if err == nil || s.ctx.Err() != nil {
			return
		}
		l.WithField("error", err).Error("streaming escrow transactions")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(RetryInterval):
		}
	}
}

func (h *Chain) report(s *stream, id state.Bytes32) {
	h.mu.Lock()
	w := h.channels[id]
	assets := append([]state.Asset(nil), w.assets...)
	h.mu.Unlock()

	for _, a := range assets {
		_, held, err := h.holdings(w.escrow.FromAddress(), a)
		if err != nil {
			h.logger().WithFields(log.F{"channel": id.String(), "error": err}).Error("getting holdings")
			continue
		}
		e := chain.FundingEvent{ChannelID: id, Asset: a, Held: held}
		select {
		case <-s.ctx.Done():
			return
		case s.events <- e:
		}
	}
}
