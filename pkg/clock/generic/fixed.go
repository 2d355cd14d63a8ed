// Package generic implements the clock nodes that are not tied to a vendor
// register layout.
package generic

import (
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
)

// FixedClock is a rate source running at a constant rate.
type FixedClock struct {
	Rate uint32
}

// Parents ...
func (f *FixedClock) Parents() []clock.NodeID {
	return nil
}

// GetRate ...
func (f *FixedClock) GetRate(clock.Env) uint32 {
	return f.Rate
}

// RoundRate returns the only rate the clock can produce.
func (f *FixedClock) RoundRate(clock.Env, uint32) uint32 {
	return f.Rate
}

// FixedPrescaler divides its parent rate by a constant factor.
type FixedPrescaler struct {
	clock.FollowsParent
	Parent clock.NodeID
	Factor uint32
}

// Parents ...
func (p *FixedPrescaler) Parents() []clock.NodeID {
	return []clock.NodeID{p.Parent}
}

// GetRate ...
func (p *FixedPrescaler) GetRate(env clock.Env) uint32 {
	if !clock.Assertf(env, p.Factor != 0, "fixed prescaler with a zero factor") {
		return 0
	}
	return env.Rate(p.Parent) / p.Factor
}
