// Package store defines how channels, their funding and objectives are
// persisted, and provides an in-memory implementation.
//
// Every read and write happens inside a transaction. Writes of a
// transaction are applied atomically when its function returns nil, and
// discarded otherwise. Channel writes are conditional on the revision the
// channel was read at, so a writer that lost a race fails with
// channel.ErrStaleState rather than overwriting a newer channel.
package store

import (
	"context"
	"errors"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/state"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type Store interface {
	// Transaction runs fn in a transaction, committing if fn returns nil.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	// LockChannel reads a channel for update. Implementations backed by a
	// database take a row lock.
	LockChannel(id state.Bytes32) (*channel.Channel, error)
	Channel(id state.Bytes32) (*channel.Channel, error)
	// InsertChannel validates and inserts a new channel.
	InsertChannel(c *channel.Channel) error
	// UpdateChannel validates and writes the states of a channel read in this
	// transaction, incrementing its revision.
	UpdateChannel(c *channel.Channel) error
	UpdateFunding(id state.Bytes32, f channel.Funding) error

	// InsertObjective inserts an objective. Every channel it refers to must
	// exist.
	InsertObjective(o objective.Objective) error
	Objective(id string) (objective.Objective, error)
	// UpdateObjective writes the status of an objective. The status may only
	// move along the objective status transitions.
	UpdateObjective(o objective.Objective) error
	ObjectivesForChannels(ids ...state.Bytes32) ([]objective.Objective, error)
}
