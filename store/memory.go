package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/objective"
	"github.com/statechannels/wallet/state"
)

// Memory is a Store that keeps everything in memory. It is safe for
// concurrent use.
type Memory struct {
	mu         sync.Mutex
	channels   map[state.Bytes32]*channel.Channel
	objectives map[string]objective.Objective
	links      map[state.Bytes32]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		channels:   map[state.Bytes32]*channel.Channel{},
		objectives: map[string]objective.Objective{},
		links:      map[state.Bytes32]map[string]struct{}{},
	}
}

func (m *Memory) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	err := ctx.Err()
	if err != nil {
		return err
	}
	tx := &memoryTx{
		m:          m,
		channels:   map[state.Bytes32]channelWrite{},
		funding:    map[state.Bytes32][]channel.Funding{},
		objectives: map[string]objectiveWrite{},
	}
	err = fn(tx)
	if err != nil {
		return err
	}
	return m.commit(tx)
}

type channelWrite struct {
	c      *channel.Channel
	base   uint64
	insert bool
}

type objectiveWrite struct {
	o      objective.Objective
	base   objective.Status
	insert bool
}

// memoryTx buffers writes until commit. Reads see the buffered writes of
// the transaction over the committed data.
type memoryTx struct {
	m          *Memory
	channels   map[state.Bytes32]channelWrite
	funding    map[state.Bytes32][]channel.Funding
	objectives map[string]objectiveWrite
}

func (tx *memoryTx) LockChannel(id state.Bytes32) (*channel.Channel, error) {
	return tx.Channel(id)
}

func (tx *memoryTx) Channel(id state.Bytes32) (*channel.Channel, error) {
	var c *channel.Channel
	if w, ok := tx.channels[id]; ok {
		c = w.c.Clone()
	} else {
		tx.m.mu.Lock()
		stored, ok := tx.m.channels[id]
		if ok {
			c = stored.Clone()
		}
		tx.m.mu.Unlock()
	}
	if c == nil {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	for _, f := range tx.funding[id] {
		c.SetFunding(f)
	}
	return c, nil
}

func (tx *memoryTx) InsertChannel(c *channel.Channel) error {
	err := c.Validate()
	if err != nil {
		return err
	}
	_, err = tx.Channel(c.ID)
	if err == nil {
		return fmt.Errorf("channel %s: %w", c.ID, ErrAlreadyExists)
	}
	next := c.Clone()
	next.Revision = 1
	tx.channels[c.ID] = channelWrite{c: next, insert: true}
	c.Revision = 1
	return nil
}

func (tx *memoryTx) UpdateChannel(c *channel.Channel) error {
	err := c.Validate()
	if err != nil {
		return err
	}
	cur, err := tx.Channel(c.ID)
	if err != nil {
		return err
	}
	if cur.Revision != c.Revision {
		return fmt.Errorf("%w: channel %s at revision %d, written from %d", channel.ErrStaleState, c.ID, cur.Revision, c.Revision)
	}
	w, ok := tx.channels[c.ID]
	if !ok {
		w = channelWrite{base: c.Revision}
	}
	w.c = c.Clone()
	w.c.Revision = c.Revision + 1
	tx.channels[c.ID] = w
	c.Revision++
	return nil
}

func (tx *memoryTx) UpdateFunding(id state.Bytes32, f channel.Funding) error {
	_, err := tx.Channel(id)
	if err != nil {
		return err
	}
	tx.funding[id] = append(tx.funding[id], f)
	return nil
}

func (tx *memoryTx) InsertObjective(o objective.Objective) error {
	for _, id := range o.ChannelIDs() {
		_, err := tx.Channel(id)
		if err != nil {
			return fmt.Errorf("inserting objective %s: %w", o.ID, err)
		}
	}
	_, err := tx.Objective(o.ID)
	if err == nil {
		return fmt.Errorf("objective %s: %w", o.ID, ErrAlreadyExists)
	}
	tx.objectives[o.ID] = objectiveWrite{o: o, insert: true}
	return nil
}

func (tx *memoryTx) Objective(id string) (objective.Objective, error) {
	if w, ok := tx.objectives[id]; ok {
		return w.o, nil
	}
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	o, ok := tx.m.objectives[id]
	if !ok {
		return objective.Objective{}, fmt.Errorf("objective %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (tx *memoryTx) UpdateObjective(o objective.Objective) error {
	cur, err := tx.Objective(o.ID)
	if err != nil {
		return err
	}
	if cur.Status != o.Status && !cur.Status.CanTransition(o.Status) {
		return fmt.Errorf("%w: %s from %s to %s", objective.ErrInvalidTransition, o.ID, cur.Status, o.Status)
	}
	w, ok := tx.objectives[o.ID]
	if !ok {
		w = objectiveWrite{base: cur.Status}
	}
	w.o = o
	tx.objectives[o.ID] = w
	return nil
}

func (tx *memoryTx) ObjectivesForChannels(ids ...state.Bytes32) ([]objective.Objective, error) {
	want := map[string]struct{}{}
	tx.m.mu.Lock()
	for _, id := range ids {
		for oid := range tx.m.links[id] {
			want[oid] = struct{}{}
		}
	}
	tx.m.mu.Unlock()
	for oid, w := range tx.objectives {
		for _, cid := range w.o.ChannelIDs() {
			for _, id := range ids {
				if cid == id {
					want[oid] = struct{}{}
				}
			}
		}
	}
	objectives := make([]objective.Objective, 0, len(want))
	for oid := range want {
		o, err := tx.Objective(oid)
		if err != nil {
			return nil, err
		}
		objectives = append(objectives, o)
	}
	sort.Slice(objectives, func(i, j int) bool {
		return objectives[i].ID < objectives[j].ID
	})
	return objectives, nil
}

func (m *Memory) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, w := range tx.channels {
		stored, exists := m.channels[id]
		switch {
		case w.insert && exists:
			return fmt.Errorf("channel %s: %w", id, ErrAlreadyExists)
		case !w.insert && !exists:
			return fmt.Errorf("channel %s: %w", id, ErrNotFound)
		case !w.insert && stored.Revision != w.base:
			return fmt.Errorf("%w: channel %s at revision %d, written from %d", channel.ErrStaleState, id, stored.Revision, w.base)
		}
	}
	for oid, w := range tx.objectives {
		stored, exists := m.objectives[oid]
		switch {
		case w.insert && exists:
			return fmt.Errorf("objective %s: %w", oid, ErrAlreadyExists)
		case !w.insert && !exists:
			return fmt.Errorf("objective %s: %w", oid, ErrNotFound)
		case !w.insert && stored.Status != w.base:
			return fmt.Errorf("%w: %s moved from %s to %s", objective.ErrInvalidTransition, oid, w.base, stored.Status)
		}
	}

	for id, w := range tx.channels {
		next := w.c.Clone()
		if stored, ok := m.channels[id]; ok {
			next.Funding = stored.Funding
		}
		m.channels[id] = next
	}
	for id, fs := range tx.funding {
		c := m.channels[id].Clone()
		for _, f := range fs {
			c.SetFunding(f)
		}
		m.channels[id] = c
	}
	for oid, w := range tx.objectives {
		m.objectives[oid] = w.o
		for _, cid := range w.o.ChannelIDs() {
			if m.links[cid] == nil {
				m.links[cid] = map[string]struct{}{}
			}
			m.links[cid][oid] = struct{}{}
		}
	}
	return nil
}
