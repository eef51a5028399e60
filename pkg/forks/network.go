package forks

import (
	"fmt"
)

// Query point used when a caller does not know the block it asks about. It is
// past every transition's activation.
const (
	LatestBlock     uint64 = 10_000
	LatestTimestamp uint64 = 10_000_000
)

// Network is what a test is filled for: either a fixed fork or a transition
// between two forks at a block number and/or timestamp.
//
// A transition answers every query as To when number >= atBlock and
// time >= atTime, and as From otherwise. The zero thresholds of a fixed fork
// make the predicate always true.
type Network struct {
	from       Fork
	to         Fork
	atBlock    uint64
	atTime     uint64
	transition bool
}

// Fixed returns the network of a single fork.
func Fixed(f Fork) Network {
	return Network{from: f, to: f}
}

// NewTransition returns a network switching from one fork to a later one.
func NewTransition(from, to Fork, atBlock, atTime uint64) (Network, error) {
	if from >= to || to >= forkCount {
		return Network{}, fmt.Errorf("invalid transition %v -> %v", from, to)
	}
	if atBlock == 0 && atTime == 0 {
		return Network{}, fmt.Errorf("transition %v -> %v needs an activation point", from, to)
	}
	return Network{from: from, to: to, atBlock: atBlock, atTime: atTime, transition: true}, nil
}

func mustTransition(from, to Fork, atBlock, atTime uint64) Network {
	n, err := NewTransition(from, to, atBlock, atTime)
	if err != nil {
		panic(err)
	}
	return n
}

var transitions = []Network{
	mustTransition(Berlin, London, 5, 0),
	mustTransition(Paris, Shanghai, 0, 15_000),
	mustTransition(Shanghai, Cancun, 0, 15_000),
}

// IsTransition reports whether the network switches forks.
func (n Network) IsTransition() bool { return n.transition }

// From returns the fork active before the activation point.
func (n Network) From() Fork { return n.from }

// To returns the fork active at and after the activation point. For a fixed
// network it equals From.
func (n Network) To() Fork { return n.to }

// Activation returns the block number and timestamp thresholds.
func (n Network) Activation() (number, time uint64) { return n.atBlock, n.atTime }

// Name returns the fixture network name, e.g. "Cancun" or
// "ShanghaiToCancunAtTime15k".
func (n Network) Name() string {
	if !n.transition {
		return n.from.NetworkName()
	}
	name := n.from.String() + "To" + n.to.String()
	switch {
	case n.atTime > 0 && n.atTime%1000 == 0:
		name += fmt.Sprintf("AtTime%dk", n.atTime/1000)
	case n.atTime > 0:
		name += fmt.Sprintf("AtTime%d", n.atTime)
	default:
		name += fmt.Sprintf("At%d", n.atBlock)
	}
	return name
}

func (n Network) String() string { return n.Name() }

// ForkAt returns the fork in effect at the given block number and timestamp.
func (n Network) ForkAt(number, time uint64) Fork {
	if number >= n.atBlock && time >= n.atTime {
		return n.to
	}
	return n.from
}

// rules is the single dispatch point of every capability query.
func (n Network) rules(number, time uint64) *capabilities {
	return n.ForkAt(number, time).caps()
}

// Networks returns every fixed fork followed by the known transitions.
func Networks() []Network {
	out := make([]Network, 0, int(forkCount)+len(transitions))
	for _, f := range All() {
		out = append(out, Fixed(f))
	}
	return append(out, transitions...)
}

// NetworkByName resolves a fork or transition from its fixture name.
func NetworkByName(name string) (Network, error) {
	for _, n := range Networks() {
		if n.Name() == name {
			return n, nil
		}
	}
	if f, err := ForkByName(name); err == nil {
		return Fixed(f), nil
	}
	return Network{}, fmt.Errorf("unknown network %q", name)
}

// Range returns the networks whose target fork lies within [from, until].
// Transitions are selected by the fork they transition to.
func Range(from, until Fork) []Network {
	var out []Network
	for _, n := range Networks() {
		if n.to >= from && n.to <= until {
			out = append(out, n)
		}
	}
	return out
}

// TransitionsTo returns the transition networks ending in f.
func TransitionsTo(f Fork) []Network {
	var out []Network
	for _, n := range transitions {
		if n.to == f {
			out = append(out, n)
		}
	}
	return out
}
