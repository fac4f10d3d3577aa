// Package lock serializes operations on a channel.
//
// A Registry hands out one critical section per channel identifier.
// Operations on different channels never wait for each other. Sections are
// not reentrant: an operation holding the section of a channel that asks for
// it again deadlocks.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Registry is a set of per-channel locks. The zero value is ready to use.
type Registry struct {
	mu    sync.Mutex
	locks map[state.Bytes32]*entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Acquire waits for the section of the channel. Waiters are served in the
// order they arrive. The returned function releases the section and must
// be called exactly once.
func (r *Registry) Acquire(ctx context.Context, id state.Bytes32) (release func(), err error) {
	r.mu.Lock()
	if r.locks == nil {
		r.locks = map[state.Bytes32]*entry{}
	}
	e := r.locks[id]
	if e == nil {
		e = &entry{sem: make(chan struct{}, 1)}
		r.locks[id] = e
	}
	e.refs++
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(id, e)
		return nil, ctx.Err()
	}

	once := sync.Once{}
	return func() {
		once.Do(func() {
			<-e.sem
			r.unref(id, e)
		})
	}, nil
}

func (r *Registry) unref(id state.Bytes32, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.locks, id)
	}
}

// Len returns the number of channels with a holder or waiter.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Op is an operation on a locked channel inside a store transaction.
type Op[T any] func(tx store.Tx, c *channel.Channel) (T, error)

// MissingHandler produces a result when the channel does not exist.
type MissingHandler[T any] func(tx store.Tx, id state.Bytes32) (T, error)

// WithChannel runs op on the channel while holding its section, in a store
// transaction that commits only if op succeeds. If the channel does not
// exist onMissing runs in its place, or, if it is nil, WithChannel fails
// with channel.ErrChannelMissing.
func WithChannel[T any](ctx context.Context, r *Registry, s store.Store, id state.Bytes32, op Op[T], onMissing MissingHandler[T]) (T, error) {
	var result T
	release, err := r.Acquire(ctx, id)
	if err != nil {
		return result, fmt.Errorf("acquiring lock of channel %s: %w", id, err)
	}
	defer release()

	err = s.Transaction(ctx, func(tx store.Tx) error {
		c, err := tx.LockChannel(id)
		if errors.Is(err, store.ErrNotFound) {
			if onMissing == nil {
				return fmt.Errorf("%w: %s", channel.ErrChannelMissing, id)
			}
			result, err = onMissing(tx, id)
			return err
		}
		if err != nil {
			return err
		}
		result, err = op(tx, c)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
