package regfield

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Block is a memory-mapped window of 32-bit registers, addressed by byte
// offset from the window base.
type Block interface {
	Read32(off uint16) uint32
	Write32(off uint16, v uint32)
}

// WriteHook is invoked by a MemoryBlock after a register write. It is used to
// emulate hardware reacting to a write (a READY flag following an ON bit, a
// switch-status field following a switch field...). Hooks must use Poke to
// change registers so that they do not re-trigger themselves.
type WriteHook func(b *MemoryBlock, off uint16, old, value uint32)

// MemoryBlock is an in-process register file. The zero value is not usable,
// use NewMemoryBlock.
type MemoryBlock struct {
	mu    sync.Mutex
	regs  map[uint16]uint32
	hooks []WriteHook
	reads int
}

// NewMemoryBlock returns an empty register file where every register reads 0.
func NewMemoryBlock() *MemoryBlock {
	return &MemoryBlock{regs: make(map[uint16]uint32)}
}

// Read32 ...
func (b *MemoryBlock) Read32(off uint16) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	return b.regs[off]
}

// Write32 stores v and runs the write hooks.
func (b *MemoryBlock) Write32(off uint16, v uint32) {
	b.mu.Lock()
	old := b.regs[off]
	b.regs[off] = v
	hooks := b.hooks
	b.mu.Unlock()

	for _, h := range hooks {
		h(b, off, old, v)
	}
}

// Poke sets a register without running hooks or counting as a read.
func (b *MemoryBlock) Poke(off uint16, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs[off] = v
}

// Peek returns a register value without counting as a read.
func (b *MemoryBlock) Peek(off uint16) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[off]
}

// PokeField sets one field of a register without running hooks.
func (b *MemoryBlock) PokeField(f Field, v uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.regs[f.Offset]
	r &^= f.InPlaceMask()
	r |= (v & f.Mask) << f.Pos
	b.regs[f.Offset] = r
}

// Reads returns the number of Read32 calls served so far.
func (b *MemoryBlock) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// OnWrite registers a write hook.
func (b *MemoryBlock) OnWrite(h WriteHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, h)
}

// Mirror makes dst follow src: every write to the register holding src
// copies the value of src into dst. This emulates enable/ready and
// switch/switch-status handshakes.
func (b *MemoryBlock) Mirror(src, dst Field) {
	b.OnWrite(func(mb *MemoryBlock, off uint16, _, value uint32) {
		if off != src.Offset {
			return
		}
		mb.PokeField(dst, (value>>src.Pos)&src.Mask)
	})
}

// Snapshot returns a copy of every register written so far.
func (b *MemoryBlock) Snapshot() map[uint16]uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uint16]uint32, len(b.regs))
	for k, v := range b.regs {
		out[k] = v
	}
	return out
}

// String dumps the non-zero registers in offset order.
func (b *MemoryBlock) String() string {
	snap := b.Snapshot()
	offs := make([]int, 0, len(snap))
	for off, v := range snap {
		if v != 0 {
			offs = append(offs, int(off))
		}
	}
	sort.Ints(offs)
	sb := strings.Builder{}
	for _, off := range offs {
		fmt.Fprintf(&sb, "0x%04x: 0x%08x\n", off, snap[uint16(off)])
	}
	return sb.String()
}
