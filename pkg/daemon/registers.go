package daemon

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/config"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// registerWindow is the size mapped for each peripheral block.
const registerWindow = 0x400

// Registers holds the register blocks the daemon programs.
type Registers struct {
	RCC   *regfield.Accessor
	Flash *regfield.Accessor
	PWR   *regfield.Accessor

	// Memory holds the simulated blocks of the memory backend, keyed rcc,
	// flash and pwr.
	Memory map[string]*regfield.MemoryBlock

	closers []io.Closer
}

// Close unmaps the blocks of the devmem backend.
func (r *Registers) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	r.closers = nil
	return errors.Join(errs...)
}

type window struct {
	name string
	base uint64
	dst  **regfield.Accessor
}

// openRegisters opens the RCC block at rccBase and, when family is known,
// the flash and power blocks, on the configured backend. STM32 RCC writes
// and every devmem write are always read back.
func openRegisters(cfg *config.Config, family *stm32.Family, rccBase uint64) (*Registers, error) {
	opts := cfg.RegfieldOptions()
	rccOpts := opts
	if family != nil {
		rccOpts.ReadAfterWrite = true
	}
	r := &Registers{}

	switch cfg.RegisterBackend {
	case config.BackendMemory:
		r.Memory = map[string]*regfield.MemoryBlock{
			"rcc":   regfield.NewMemoryBlock(),
			"flash": regfield.NewMemoryBlock(),
			"pwr":   regfield.NewMemoryBlock(),
		}
		simulateHandshakes(r.Memory["rcc"], family)
		r.RCC = regfield.NewAccessor(r.Memory["rcc"], rccOpts)
		r.Flash = regfield.NewAccessor(r.Memory["flash"], opts)
		r.PWR = regfield.NewAccessor(r.Memory["pwr"], opts)
		glog.Info("using simulated register blocks")
		return r, nil

	case config.BackendDevMem:
		if rccBase == 0 {
			return nil, fmt.Errorf("devmem backend needs a register base address")
		}
		opts.ReadAfterWrite = true
		windows := []window{{"rcc", rccBase, &r.RCC}}
		if family != nil {
			windows = append(windows, window{"flash", family.FlashBase, &r.Flash}, window{"pwr", family.PWRBase, &r.PWR})
		}
		for _, b := range windows {
			if b.base == 0 {
				continue
			}
			blk, err := regfield.OpenDevMem(b.base, registerWindow)
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("%s registers: %w", b.name, err)
			}
			r.closers = append(r.closers, blk)
			*b.dst = regfield.NewAccessor(blk, opts)
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown register backend %q", cfg.RegisterBackend)
}

// simulateHandshakes mirrors every XXXON enable bit of family into its
// XXXRDY status bit, and the clock switch into its status field, so that
// polls on a memory block complete the way hardware acknowledges them.
func simulateHandshakes(mem *regfield.MemoryBlock, family *stm32.Family) {
	if family == nil {
		return
	}
	for name, on := range family.Fields {
		if !strings.HasSuffix(name, "ON") {
			continue
		}
		if rdy, ok := family.Fields[strings.TrimSuffix(name, "ON")+"RDY"]; ok {
			mem.Mirror(on, rdy)
		}
	}
	if sw, ok := family.Fields["SW"]; ok {
		if sws, ok := family.Fields["SWS"]; ok {
			mem.Mirror(sw, sws)
		}
	}
}
