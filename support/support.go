// Package support decides which state of a channel all participants are
// committed to.
//
// A state is supported when it heads a chain of consecutive valid
// transitions, each state signed by its mover, whose signatures together
// cover every participant. Compute walks a channel's states from the highest
// turn down and returns the first such chain.
package support

import (
	"errors"
	"fmt"
	"sort"

	"github.com/statechannels/wallet/state"
)

var ErrMissingValidator = errors.New("no validator for app definition")

// Validator decides whether to is a valid successor of from under a
// channel's application rules.
type Validator interface {
	ValidTransition(c state.Constants, from, to state.Variables) bool
}

// ValidatorFunc is a function that implements Validator.
type ValidatorFunc func(c state.Constants, from, to state.Variables) bool

func (f ValidatorFunc) ValidTransition(c state.Constants, from, to state.Variables) bool {
	return f(c, from, to)
}

// NullApp accepts every transition. It is the validator of channels with the
// null app definition.
var NullApp Validator = ValidatorFunc(func(state.Constants, state.Variables, state.Variables) bool {
	return true
})

// Registry maps app definitions to their validators.
type Registry map[string]Validator

// Lookup returns the validator of the app definition. The null app always
// has one.
func (r Registry) Lookup(appDefinition string) (Validator, error) {
	if v, ok := r[appDefinition]; ok && v != nil {
		return v, nil
	}
	if appDefinition == state.NullApp {
		return NullApp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingValidator, appDefinition)
}

// Support is the chain of states that support the head state, in
// descending turn order.
type Support struct {
	States []state.SignedVariables
}

// Supported returns the head of the support.
func (s Support) Supported() state.SignedVariables {
	return s.States[0]
}

// Len returns the number of states in the support.
func (s Support) Len() int {
	return len(s.States)
}

type accumulator struct {
	run      []state.SignedVariables
	unsigned map[string]struct{}
}

func newAccumulator(c state.Constants) accumulator {
	unsigned := make(map[string]struct{}, len(c.Participants))
	for _, p := range c.Participants {
		unsigned[p.SigningAddress] = struct{}{}
	}
	return accumulator{unsigned: unsigned}
}

func (a *accumulator) add(sv state.SignedVariables) {
	a.run = append(a.run, sv)
	for _, s := range sv.Signatures {
		delete(a.unsigned, s.Signer)
	}
}

// Sorted returns a copy of the states in descending turn order. States at
// the same turn are ordered by state hash, so the order never depends on
// the order the states were given in.
func Sorted(states []state.SignedVariables) []state.SignedVariables {
	sorted := make([]state.SignedVariables, len(states))
	copy(sorted, states)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TurnNum != sorted[j].TurnNum {
			return sorted[i].TurnNum > sorted[j].TurnNum
		}
		return sorted[i].StateHash.Compare(sorted[j].StateHash) < 0
	})
	return sorted
}

// Compute returns the support of the states, or false if no state is
// supported. Signatures are taken as given; they are checked when states
// are added to a channel.
func Compute(c state.Constants, states []state.SignedVariables, v Validator) (Support, bool) {
	if len(c.Participants) == 0 {
		return Support{}, false
	}
	acc := newAccumulator(c)
	var prev *state.SignedVariables
	for _, sv := range Sorted(states) {
		sv := sv
		if prev != nil && !v.ValidTransition(c, sv.Variables, prev.Variables) {
			// The chain above is broken. This state may still head a
			// supported chain of its own.
			acc = newAccumulator(c)
		}
		prev = &sv
		if !sv.SignedBy(c.Mover(sv.TurnNum)) {
			continue
		}
		acc.add(sv)
		if len(acc.unsigned) == 0 {
			return Support{States: acc.run}, true
		}
	}
	return Support{}, false
}
