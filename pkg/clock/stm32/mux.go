package stm32

import (
	"context"
	"fmt"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Mux is a clock switch. Inputs may contain NoNode for selector values that
// are reserved on the part.
type Mux struct {
	Inputs []clock.NodeID
	Field  regfield.Field
}

// Parents ...
func (m *Mux) Parents() []clock.NodeID {
	return m.Inputs
}

// Selected returns the input currently routed to the output.
func (m *Mux) Selected(env clock.Env) clock.NodeID {
	idx := env.Regs().Read(m.Field)
	if !clock.Assertf(env, idx < uint32(len(m.Inputs)), "mux %s selects input %d of %d", m.Field, idx, len(m.Inputs)) {
		return clock.NoNode
	}
	return m.Inputs[idx]
}

// GetRate ...
func (m *Mux) GetRate(env clock.Env) uint32 {
	return env.Rate(m.Selected(env))
}

// Configure selects input number value. Selecting a reserved input fails
// with ErrNoDevice.
func (m *Mux) Configure(_ context.Context, env clock.Env, value uint32) error {
	if value >= uint32(len(m.Inputs)) {
		return fmt.Errorf("mux input %d out of %d: %w", value, len(m.Inputs), clock.ErrInvalidArgument)
	}
	if m.Inputs[value] == clock.NoNode {
		return fmt.Errorf("mux input %d: %w", value, clock.ErrNoDevice)
	}
	env.Regs().Write(m.Field, value)
	return nil
}

// Notify only follows the selected input.
func (m *Mux) Notify(env clock.Env, parent clock.NodeID, _ clock.Event) (bool, error) {
	return m.Selected(env) == parent, nil
}
