package generic

import (
	"context"
	"fmt"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Mux selects one of its inputs with a register field holding the input
// index.
type Mux struct {
	Inputs []clock.NodeID
	Select regfield.Field
}

// Parents ...
func (m *Mux) Parents() []clock.NodeID {
	return m.Inputs
}

// Selected returns the input currently routed to the output, or NoNode.
func (m *Mux) Selected(env clock.Env) clock.NodeID {
	idx := env.Regs().Read(m.Select)
	if !clock.Assertf(env, idx < uint32(len(m.Inputs)), "mux selects input %d of %d", idx, len(m.Inputs)) {
		return clock.NoNode
	}
	return m.Inputs[idx]
}

// GetRate ...
func (m *Mux) GetRate(env clock.Env) uint32 {
	return env.Rate(m.Selected(env))
}

// Configure selects input number value.
func (m *Mux) Configure(_ context.Context, env clock.Env, value uint32) error {
	if value >= uint32(len(m.Inputs)) {
		return fmt.Errorf("mux input %d out of %d: %w", value, len(m.Inputs), clock.ErrInvalidArgument)
	}
	env.Regs().Write(m.Select, value)
	return nil
}

// Notify only follows the selected input.
func (m *Mux) Notify(env clock.Env, parent clock.NodeID, _ clock.Event) (bool, error) {
	return m.Selected(env) == parent, nil
}
