// Package wallethttp serves a wallet over HTTP, and delivers messages to the
// wallets of other participants over HTTP.
//
// Operations that produce messages send them with the wallet's sender before
// responding, and respond with the channels the operation changed.
package wallethttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/rs/cors"
	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/dispatch"
	"github.com/statechannels/wallet/msg"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/protocol"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/statechannels/wallet/support"
	"github.com/stellar/go/support/log"
	"github.com/stellar/go/support/render/problem"
)

// MaxMessageSize is the largest message body accepted.
const MaxMessageSize = 1 << 20

// Wallet is the wallet served.
type Wallet interface {
	CreateChannel(ctx context.Context, p agent.CreateChannelParams) (agent.Output, error)
	JoinChannel(ctx context.Context, channelID state.Bytes32) (agent.Output, error)
	UpdateChannel(ctx context.Context, p agent.UpdateChannelParams) (agent.Output, error)
	CloseChannel(ctx context.Context, channelID state.Bytes32) (agent.Output, error)
	PushMessage(ctx context.Context, raw []byte) (agent.Output, error)
	HoldingUpdated(ctx context.Context, e chain.FundingEvent) (agent.Output, error)
	GetChannel(ctx context.Context, channelID state.Bytes32) (channel.Result, error)
	Deliver(ctx context.Context, out agent.Output) error
	Stats() dispatch.Stats
}

type handler struct {
	wallet Wallet
	logger *log.Entry
}

func New(w Wallet, logger *log.Entry) http.Handler {
	if logger == nil {
		logger = log.DefaultLogger
	}
	h := handler{wallet: w, logger: logger}

	r := chi.NewRouter()
	r.Get("/stats", h.handleStats)
	r.Post("/channels", h.handleCreate)
	r.Get("/channels/{id}", h.handleGet)
	r.Post("/channels/{id}/join", h.handleJoin)
	r.Post("/channels/{id}/update", h.handleUpdate)
	r.Post("/channels/{id}/close", h.handleClose)
	r.Post("/messages", h.handleMessage)
	r.Post("/funding", h.handleFunding)
	return cors.Default().Handler(r)
}

func (h handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, h.wallet.Stats())
}

func (h handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.channelID(w, r)
	if !ok {
		return
	}
	result, err := h.wallet.GetChannel(r.Context(), id)
	if err != nil {
		h.renderErr(w, err)
		return
	}
	h.render(w, http.StatusOK, result)
}

func (h handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p := agent.CreateChannelParams{}
	if !h.decode(w, r, &p) {
		return
	}
	h.respond(w, r, func(ctx context.Context) (agent.Output, error) {
		return h.wallet.CreateChannel(ctx, p)
	})
}

func (h handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := h.channelID(w, r)
	if !ok {
		return
	}
	h.respond(w, r, func(ctx context.Context) (agent.Output, error) {
		return h.wallet.JoinChannel(ctx, id)
	})
}

func (h handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.channelID(w, r)
	if !ok {
		return
	}
	p := agent.UpdateChannelParams{}
	if !h.decode(w, r, &p) {
		return
	}
	p.ChannelID = id
	h.respond(w, r, func(ctx context.Context) (agent.Output, error) {
		return h.wallet.UpdateChannel(ctx, p)
	})
}

func (h handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.channelID(w, r)
	if !ok {
		return
	}
	h.respond(w, r, func(ctx context.Context) (agent.Output, error) {
		return h.wallet.CloseChannel(ctx, id)
	})
}

func (h handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageSize+1))
	if err != nil {
		h.renderErr(w, badRequest(fmt.Errorf("reading message: %w", err)))
		return
	}
	if len(raw) > MaxMessageSize {
		h.renderErr(w, badRequest(fmt.Errorf("message larger than %d bytes", MaxMessageSize)))
		return
	}
	h.respond(w, r, func(ctx context.Context) (agent.Output, error) {
		return h.wallet.PushMessage(ctx, raw)
	})
}

func (h handler) handleFunding(w http.ResponseWriter, r *http.Request) {
	e := chain.FundingEvent{}
	if !h.decode(w, r, &e) {
		return
	}
	h.respond(w, r, func(ctx context.Context) (agent.Output, error) {
		return h.wallet.HoldingUpdated(ctx, e)
	})
}

// respond runs the operation, delivers its messages, and renders the
// channels it changed.
func (h handler) respond(w http.ResponseWriter, r *http.Request, op func(ctx context.Context) (agent.Output, error)) {
	out, err := op(r.Context())
	if err != nil {
		h.renderErr(w, err)
		return
	}
	err = h.wallet.Deliver(r.Context(), out)
	if err != nil {
		h.logger.WithField("error", err).Error("delivering messages")
		h.renderErr(w, err)
		return
	}
	results := out.ChannelResults
	if results == nil {
		results = []channel.Result{}
	}
	h.render(w, http.StatusOK, results)
}

func (h handler) channelID(w http.ResponseWriter, r *http.Request) (state.Bytes32, bool) {
	id, err := state.ParseBytes32(chi.URLParam(r, "id"))
	if err != nil {
		h.renderErr(w, badRequest(fmt.Errorf("%w: %v", channel.ErrInvalidChannelID, err)))
		return state.Bytes32{}, false
	}
	return id, true
}

func (h handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxMessageSize))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		h.renderErr(w, badRequest(fmt.Errorf("decoding request: %w", err)))
		return false
	}
	return true
}

func (h handler) render(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(v)
	if err != nil {
		h.logger.WithField("error", err).Error("encoding response")
	}
}

type badRequestError struct{ error }

func (e badRequestError) Unwrap() error { return e.error }

func badRequest(err error) error {
	return badRequestError{err}
}

// statuses maps the errors of operations to the status of their response.
// The first match wins.
var statuses = []struct {
	err    error
	status int
}{
	{channel.ErrChannelMissing, http.StatusNotFound},
	{store.ErrNotFound, http.StatusNotFound},
	{channel.ErrStaleState, http.StatusConflict},
	{channel.ErrConflictingState, http.StatusConflict},
	{store.ErrAlreadyExists, http.StatusConflict},
	{protocol.ErrNotMyTurn, http.StatusConflict},
	{protocol.ErrNotRunning, http.StatusConflict},
	{protocol.ErrNoSupportedState, http.StatusConflict},
	{objective.ErrInvalidTransition, http.StatusConflict},
	{channel.ErrInvalidChannelID, http.StatusBadRequest},
	{channel.ErrNotParticipant, http.StatusBadRequest},
	{state.ErrIncorrectHash, http.StatusBadRequest},
	{support.ErrMissingValidator, http.StatusBadRequest},
	{dispatch.ErrInvalidArgs, http.StatusBadRequest},
	{msg.ErrMalformed, http.StatusBadRequest},
	{dispatch.ErrPoolClosed, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusServiceUnavailable},
}

func statusOf(err error) int {
	if errors.As(err, &badRequestError{}) {
		return http.StatusBadRequest
	}
	for _, s := range statuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func (h handler) renderErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	p := problem.P{
		Type:   "wallet_error",
		Title:  http.StatusText(status),
		Status: status,
		Detail: err.Error(),
	}
	if status == http.StatusInternalServerError {
		h.logger.WithField("error", err).Error("operation failed")
		p.Detail = "An error occurred in the wallet."
	}
	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(status)
	err = json.NewEncoder(w).Encode(p)
	if err != nil {
		h.logger.WithField("error", err).Error("encoding problem")
	}
}
