package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/statechannels/wallet/protocol"
	"github.com/stellar/go/support/log"
)

// Depositor makes deposits one at a time. Before each deposit it checks the
// holdings on chain and deposits only what is missing from the target, or
// nothing if the target is already held.
type Depositor struct {
	HoldingsCollector HoldingsCollector
	Submitter         DepositSubmitter
	Logger            *log.Entry

	mu sync.Mutex
}

// Deposit makes the deposit and returns the holdings afterwards.
func (d *Depositor) Deposit(ctx context.Context, dep protocol.Deposit) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.logger().WithFields(log.F{
		"channel": dep.ChannelID.String(),
		"asset":   dep.Asset.StringCanonical(),
	})

	held, err := d.HoldingsCollector.GetHoldings(ctx, dep.ChannelID, dep.Asset)
	if err != nil {
		return 0, fmt.Errorf("getting holdings of %s: %w", dep.ChannelID, err)
	}
	if held >= dep.Target {
		l.WithField("held", held).Debug("deposit already satisfied")
		return held, nil
	}

	amount := dep.Target - held
	l.WithFields(log.F{"held": held, "amount": amount}).Info("submitting deposit")
	err = d.Submitter.SubmitDeposit(ctx, dep.ChannelID, dep.Asset, held, amount)
	if err != nil {
		return 0, fmt.Errorf("submitting deposit to %s: %w", dep.ChannelID, err)
	}

	held, err = d.HoldingsCollector.GetHoldings(ctx, dep.ChannelID, dep.Asset)
	if err != nil {
		return 0, fmt.Errorf("getting holdings of %s: %w", dep.ChannelID, err)
	}
	return held, nil
}

func (d *Depositor) logger() *log.Entry {
	if d.Logger == nil {
		return log.DefaultLogger
	}
	return d.Logger
}
