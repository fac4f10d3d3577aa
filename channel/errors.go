package channel

import (
	"errors"

	"github.com/statechannels/wallet/state"
)

var (
	ErrInvalidChannelID = errors.New("invalid channel identifier")
	ErrIncorrectHash    = state.ErrIncorrectHash
	ErrChannelMissing   = errors.New("channel missing")
	ErrStaleState       = errors.New("stale state")
	ErrConflictingState = errors.New("conflicting state")
	ErrNotParticipant   = errors.New("not a participant")
)
