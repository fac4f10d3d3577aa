package horizon

import (
	"fmt"
	"math"

	"github.com/statechannels/wallet/state"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/hash"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
)

// EscrowKey returns the key of the account holding a channel's funds. Any
// participant can derive it. Its master key is disabled when the account
// is created, leaving the participants as the account's signers.
func EscrowKey(channelID state.Bytes32) (*keypair.Full, error) {
	seed := hash.Hash(append([]byte("escrow:"), channelID[:]...))
	kp, err := keypair.FromRawSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("deriving escrow of channel %s: %w", channelID, err)
	}
	return kp, nil
}

// createEscrowOps creates the escrow account with its reserves sponsored by
// the transaction source and hands control of it to the participants
// together. A non-native asset is trusted.
func createEscrowOps(escrow *keypair.FromAddress, c state.Constants, asset state.Asset) ([]txnbuild.Operation, error) {
	n := len(c.Participants)
	if n > math.MaxUint8 {
		return nil, fmt.Errorf("too many participants for an escrow: %d", n)
	}
	ops := []txnbuild.Operation{
		&txnbuild.BeginSponsoringFutureReserves{
			SponsoredID: escrow.Address(),
		},
		&txnbuild.CreateAccount{
			Destination: escrow.Address(),
			// base reserves sponsored by creator
			Amount: "0",
		},
	}
	for _, p := range c.Participants {
		ops = append(ops, &txnbuild.SetOptions{
			SourceAccount: escrow.Address(),
			Signer:        &txnbuild.Signer{Address: p.SigningAddress, Weight: 1},
		})
	}
	ops = append(ops, &txnbuild.SetOptions{
		SourceAccount:   escrow.Address(),
		MasterWeight:    txnbuild.NewThreshold(0),
		LowThreshold:    txnbuild.NewThreshold(txnbuild.Threshold(n)),
		MediumThreshold: txnbuild.NewThreshold(txnbuild.Threshold(n)),
		HighThreshold:   txnbuild.NewThreshold(txnbuild.Threshold(n)),
	})
	if !asset.IsNative() {
		line, err := asset.Asset().ToChangeTrustAsset()
		if err != nil {
			return nil, fmt.Errorf("building trustline of %s: %w", asset, err)
		}
		ops = append(ops, &txnbuild.ChangeTrust{
			Line:          line,
			Limit:         amount.StringFromInt64(math.MaxInt64),
			SourceAccount: escrow.Address(),
		})
	}
	ops = append(ops, &txnbuild.EndSponsoringFutureReserves{
		SourceAccount: escrow.Address(),
	})
	return ops, nil
}

type depositTxParams struct {
	Funder         *keypair.FromAddress
	SequenceNumber int64
	Escrow         *keypair.FromAddress
	// CreateEscrow, when non-nil, creates the escrow in the same transaction.
	CreateEscrow *state.Constants
	Asset        state.Asset
	Amount       int64
	BaseFee      int64
}

func depositTx(p depositTxParams) (*txnbuild.Transaction, error) {
	ops := []txnbuild.Operation{}
	if p.CreateEscrow != nil {
		createOps, err := createEscrowOps(p.Escrow, *p.CreateEscrow, p.Asset)
		if err != nil {
			return nil, err
		}
		ops = append(ops, createOps...)
	}
	ops = append(ops, &txnbuild.Payment{
		Destination: p.Escrow.Address(),
		Amount:      amount.StringFromInt64(p.Amount),
		Asset:       p.Asset.Asset(),
	})
	tx, err := txnbuild.NewTransaction(
		txnbuild.TransactionParams{
			SourceAccount: &txnbuild.SimpleAccount{
				AccountID: p.Funder.Address(),
				Sequence:  p.SequenceNumber,
			},
			IncrementSequenceNum: true,
			BaseFee:              p.BaseFee,
			Preconditions: txnbuild.Preconditions{
				TimeBounds: txnbuild.NewTimeout(300),
			},
			Operations: ops,
		},
	)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
