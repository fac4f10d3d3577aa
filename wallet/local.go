package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/msg"
)

// Local delivers messages between wallets in the same process. The messages
// a wallet replies with are delivered before Send returns.
type Local struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
}

// Add registers the wallet of the participant.
func (l *Local) Add(participantID string, w *Wallet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wallets == nil {
		l.wallets = map[string]*Wallet{}
	}
	l.wallets[participantID] = w
}

func (l *Local) Send(ctx context.Context, m msg.Message) error {
	l.mu.RLock()
	w := l.wallets[m.Recipient]
	l.mu.RUnlock()
	if w == nil {
		return fmt.Errorf("no wallet for participant %s", m.Recipient)
	}
	b, err := msg.Marshal(m)
	if err != nil {
		return err
	}
	out, err := w.PushMessage(ctx, b)
	if err != nil {
		return fmt.Errorf("pushing message to %s: %w", m.Recipient, err)
	}
	return l.Deliver(ctx, out)
}

// Deliver sends every message of the output.
func (l *Local) Deliver(ctx context.Context, out agent.Output) error {
	for _, m := range out.Outbox {
		err := l.Send(ctx, m)
		if err != nil {
			return err
		}
	}
	return nil
}
