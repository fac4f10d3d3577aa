// Package horizon implements the chain interfaces on the Stellar network,
// through Horizon. The funds of a channel are held by an escrow account
// derived from the channel identifier, and deposits are payments into it.
package horizon

import (
	"context"
	"fmt"
	"sync"

	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/state"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/support/log"
	"github.com/stellar/go/txnbuild"
)

var (
	_ chain.HoldingsCollector = &Chain{}
	_ chain.DepositSubmitter  = &Chain{}
	_ chain.Streamer          = &Chain{}
)

// Chain reads holdings from and submits deposits to the Stellar network.
// Channels must be watched before deposits into them can create their
// escrow, and before their funding is streamed.
//
// If FeeAccount is set, deposits are wrapped in fee bump transactions paid
// by it, and the Funder pays no fee.
type Chain struct {
	HorizonClient     horizonclient.ClientInterface
	NetworkPassphrase string
	BaseFee           int64

	Funder     *keypair.Full
	FeeAccount *keypair.Full

	Logger *log.Entry

	mu       sync.Mutex
	channels map[state.Bytes32]*watched
	streams  map[*stream]struct{}
}

type watched struct {
	constants state.Constants
	escrow    *keypair.Full
	assets    []state.Asset
}

// Watch registers a channel and the assets it is funded with.
func (h *Chain) Watch(c state.Constants, assets ...state.Asset) error {
	id, err := c.ChannelID()
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels == nil {
		h.channels = map[state.Bytes32]*watched{}
	}
	w, ok := h.channels[id]
	if !ok {
		escrow, err := EscrowKey(id)
		if err != nil {
			return err
		}
		w = &watched{constants: c, escrow: escrow}
		h.channels[id] = w
	}
	added := false
	for _, a := range assets {
		if !containsAsset(w.assets, a) {
			w.assets = append(w.assets, a)
			added = true
		}
	}
	if !ok || added {
		h.logger().WithFields(log.F{"channel": id.String(), "escrow": w.escrow.Address()}).Info("watching channel")
	}
	if !ok {
		for s := range h.streams {
			h.startLocked(s, id, w)
		}
	}
	return nil
}

func containsAsset(assets []state.Asset, a state.Asset) bool {
	for _, b := range assets {
		if b.StringCanonical() == a.StringCanonical() {
			return true
		}
	}
	return false
}

func (h *Chain) escrow(channelID state.Bytes32) (*keypair.Full, *state.Constants, error) {
	h.mu.Lock()
	w, ok := h.channels[channelID]
	h.mu.Unlock()
	if ok {
		c := w.constants
		return w.escrow, &c, nil
	}
	escrow, err := EscrowKey(channelID)
	return escrow, nil, err
}

// GetHoldings queries Horizon for the balance of the asset in the channel's
// escrow account. An escrow that does not exist yet holds nothing.
func (h *Chain) GetHoldings(ctx context.Context, channelID state.Bytes32, asset state.Asset) (int64, error) {
	escrow, _, err := h.escrow(channelID)
	if err != nil {
		return 0, err
	}
	_, held, err := h.holdings(escrow.FromAddress(), asset)
	return held, err
}

func (h *Chain) holdings(escrow *keypair.FromAddress, asset state.Asset) (exists bool, held int64, err error) {
	account, err := h.HorizonClient.AccountDetail(horizonclient.AccountRequest{AccountID: escrow.Address()})
	if horizonclient.IsNotFoundError(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("getting account details of %s: %w", escrow.Address(), err)
	}
	for _, b := range account.Balances {
		var match bool
		if asset.IsNative() {
			match = b.Asset.Type == "native"
		} else {
			match = b.Asset.Code == asset.Code() && b.Asset.Issuer == asset.Issuer()
		}
		if !match {
			continue
		}
		balance, err := amount.ParseInt64(b.Balance)
		if err != nil {
			return true, 0, fmt.Errorf("parsing %s balance of %s: %w", asset, escrow.Address(), err)
		}
		return true, balance, nil
	}
	return true, 0, nil
}

// SubmitDeposit pays amount from the funder into the channel's escrow,
// creating the escrow first if it does not exist. It fails with
// chain.ErrHoldingsMoved if the escrow does not hold expectedHeld.
func (h *Chain) SubmitDeposit(ctx context.Context, channelID state.Bytes32, asset state.Asset, expectedHeld, amount int64) error {
	escrow, constants, err := h.escrow(channelID)
	if err != nil {
		return err
	}
	exists, held, err := h.holdings(escrow.FromAddress(), asset)
	if err != nil {
		return err
	}
	if held != expectedHeld {
		return fmt.Errorf("%w: escrow %s holds %d, expected %d", chain.ErrHoldingsMoved, escrow.Address(), held, expectedHeld)
	}

	p := depositTxParams{
		Funder: h.Funder.FromAddress(),
		Escrow: escrow.FromAddress(),
		Asset:  asset,
		Amount: amount,
	}
	signers := []*keypair.Full{h.Funder}
	if !exists {
		if constants == nil {
			return fmt.Errorf("escrow of channel %s does not exist and the channel is not watched", channelID)
		}
		p.CreateEscrow = constants
		signers = append(signers, escrow)
	}
	funder, err := h.HorizonClient.AccountDetail(horizonclient.AccountRequest{AccountID: h.Funder.Address()})
	if err != nil {
		return fmt.Errorf("getting account details of %s: %w", h.Funder.Address(), err)
	}
	p.SequenceNumber, err = funder.GetSequenceNumber()
	if err != nil {
		return fmt.Errorf("getting sequence number of account %s: %w", h.Funder.Address(), err)
	}
	if h.FeeAccount == nil {
		p.BaseFee = h.BaseFee
	}
	tx, err := depositTx(p)
	if err != nil {
		return fmt.Errorf("building deposit tx: %w", err)
	}
	tx, err = tx.Sign(h.NetworkPassphrase, signers...)
	if err != nil {
		return fmt.Errorf("signing deposit tx: %w", err)
	}
	return h.submit(tx)
}

func (h *Chain) submit(tx *txnbuild.Transaction) error {
	if h.FeeAccount == nil {
		txeBase64, err := tx.Base64()
		if err != nil {
			return fmt.Errorf("encoding tx as base64: %w", err)
		}
		return h.submitXDR(txeBase64)
	}
	feeBumpTx, err := txnbuild.NewFeeBumpTransaction(txnbuild.FeeBumpTransactionParams{
		Inner:      tx,
		BaseFee:    h.BaseFee,
		FeeAccount: h.FeeAccount.Address(),
	})
	if err != nil {
		return fmt.Errorf("building fee bump tx: %w", err)
	}
	feeBumpTx, err = feeBumpTx.Sign(h.NetworkPassphrase, h.FeeAccount)
	if err != nil {
		return fmt.Errorf("signing fee bump tx: %w", err)
	}
	txeBase64, err := feeBumpTx.Base64()
	if err != nil {
		return fmt.Errorf("encoding fee bump tx as base64: %w", err)
	}
	return h.submitXDR(txeBase64)
}

func (h *Chain) submitXDR(xdr string) error {
	_, err := h.HorizonClient.SubmitTransactionXDR(xdr)
	if err != nil {
		return fmt.Errorf("submitting tx %s: %w", xdr, buildErr(err))
	}
	return nil
}

func buildErr(err error) error {
	if hErr := horizonclient.GetError(err); hErr != nil {
		resultString, rErr := hErr.ResultString()
		if rErr != nil {
			resultString = "<error getting result string: " + rErr.Error() + ">"
		}
		return fmt.Errorf("%w (%v)", err, resultString)
	}
	return err
}

func (h *Chain) logger() *log.Entry {
	if h.Logger == nil {
		return log.DefaultLogger
	}
	return h.Logger
}
