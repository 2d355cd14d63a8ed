// Package power manages the clocks and write protections shared by several
// users: the PWR and SYSCFG peripheral clocks and the backup domain.
package power

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// PeriphClocks reference-counts the shared peripheral clock gates of a
// family. The hardware is only touched when a count goes from 0 to 1 or
// from 1 to 0.
type PeriphClocks struct {
	mu       sync.Mutex
	regs     *regfield.Accessor
	gates    map[string]regfield.Field
	alwaysOn map[string]bool
	refs     map[string]int
}

// NewPeriphClocks returns the peripheral clocks of family, accessed through
// the RCC registers.
func NewPeriphClocks(family *stm32.Family, rcc *regfield.Accessor) *PeriphClocks {
	p := &PeriphClocks{
		regs:     rcc,
		gates:    family.Periph,
		alwaysOn: map[string]bool{},
		refs:     map[string]int{},
	}
	for _, name := range family.AlwaysOn {
		p.alwaysOn[name] = true
	}
	return p
}

func (p *PeriphClocks) gate(name string) (regfield.Field, bool, error) {
	if p.alwaysOn[name] {
		return regfield.Field{}, true, nil
	}
	f, ok := p.gates[name]
	if !ok {
		return regfield.Field{}, false, fmt.Errorf("peripheral clock %s: %w", name, clock.ErrNotFound)
	}
	return f, f.IsZero(), nil
}

// Enable takes a reference on the named peripheral clock.
func (p *PeriphClocks) Enable(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, alwaysOn, err := p.gate(name)
	if err != nil {
		return err
	}
	p.refs[name]++
	if p.refs[name] == 1 && !alwaysOn {
		glog.V(2).Infof("peripheral clock %s on", name)
		p.regs.Write(f, 1)
	}
	return nil
}

// Disable drops a reference on the named peripheral clock.
func (p *PeriphClocks) Disable(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, alwaysOn, err := p.gate(name)
	if err != nil {
		return err
	}
	if p.refs[name] == 0 {
		return fmt.Errorf("peripheral clock %s is not enabled: %w", name, clock.ErrInvalidArgument)
	}
	p.refs[name]--
	if p.refs[name] == 0 && !alwaysOn {
		glog.V(2).Infof("peripheral clock %s off", name)
		p.regs.Write(f, 0)
	}
	return nil
}

// Refs returns the number of references held on the named clock.
func (p *PeriphClocks) Refs(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs[name]
}

// Do runs fn with the named peripheral clock enabled.
func (p *PeriphClocks) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := p.Enable(name); err != nil {
		return err
	}
	defer func() {
		if err := p.Disable(name); err != nil {
			glog.Errorf("peripheral clock %s: %v", name, err)
		}
	}()
	return fn(ctx)
}
