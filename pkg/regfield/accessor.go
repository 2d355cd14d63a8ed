package regfield

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ErrNotReady is returned by PollUntil when the hardware did not reach the
// expected state within the configured poll timeout.
var ErrNotReady = errors.New("hardware not ready")

const minPollInterval = time.Microsecond

// Options controls how an Accessor talks to its register block.
type Options struct {
	// ReadAfterWrite performs a dummy read of the register after every write
	// so the write is known to have completed before Write returns.
	ReadAfterWrite bool
	// Strict panics when a value does not fit the field it is written to.
	// When false the value is truncated to the field mask.
	Strict bool
	// PollTimeout bounds PollUntil. Zero means wait until the context is done.
	PollTimeout time.Duration
	// PollInterval is the delay between two reads in PollUntil.
	PollInterval time.Duration
}

// FieldValue pairs a field with the value to write to it.
type FieldValue struct {
	Field Field
	Value uint32
}

// Accessor reads and writes bitfields of a register block. Every
// read-modify-write is done while holding the block's single-owner lock.
type Accessor struct {
	block Block
	opts  Options
	owner *semaphore.Weighted
}

// NewAccessor returns an Accessor for block.
func NewAccessor(block Block, opts Options) *Accessor {
	if opts.PollInterval < minPollInterval {
		opts.PollInterval = minPollInterval
	}
	return &Accessor{
		block: block,
		opts:  opts,
		owner: semaphore.NewWeighted(1),
	}
}

// Block returns the underlying register block.
func (a *Accessor) Block() Block {
	return a.block
}

// Options returns the accessor options.
func (a *Accessor) Options() Options {
	return a.opts
}

// Read returns the current value of f.
func (a *Accessor) Read(f Field) uint32 {
	return (a.block.Read32(f.Offset) >> f.Pos) & f.Mask
}

// Write sets f to v, preserving every other bit of the register.
func (a *Accessor) Write(f Field, v uint32) {
	a.lock()
	defer a.owner.Release(1)
	a.write(f, v)
}

// WriteMany writes several fields as one unit: no other write through this
// accessor can interleave with them.
func (a *Accessor) WriteMany(values ...FieldValue) {
	a.lock()
	defer a.owner.Release(1)
	for _, fv := range values {
		a.write(fv.Field, fv.Value)
	}
}

func (a *Accessor) lock() {
	// Acquire with a background context only fails on cancellation.
	_ = a.owner.Acquire(context.Background(), 1)
}

func (a *Accessor) write(f Field, v uint32) {
	if !f.Fits(v) {
		if a.opts.Strict {
			panic(fmt.Sprintf("value 0x%x does not fit field %s (mask 0x%x)", v, f, f.Mask))
		}
		glog.Warningf("value 0x%x truncated to field %s", v, f)
		v &= f.Mask
	}
	regval := a.block.Read32(f.Offset)
	regval &^= f.InPlaceMask()
	regval |= v << f.Pos
	a.block.Write32(f.Offset, regval)

	if a.opts.ReadAfterWrite {
		_ = a.block.Read32(f.Offset)
	}
}

// PollUntil waits until f reads back as expected. Callers must only poll
// fields that have a hardware ready/acknowledge handshake.
func (a *Accessor) PollUntil(ctx context.Context, f Field, expected uint32) error {
	if !f.Fits(expected) {
		if a.opts.Strict {
			panic(fmt.Sprintf("expected value 0x%x does not fit field %s", expected, f))
		}
		expected &= f.Mask
	}
	done := func(context.Context) (bool, error) {
		return a.Read(f) == expected, nil
	}

	var err error
	if a.opts.PollTimeout > 0 {
		err = wait.PollUntilContextTimeout(ctx, a.opts.PollInterval, a.opts.PollTimeout, true, done)
	} else {
		err = wait.PollUntilContextCancel(ctx, a.opts.PollInterval, true, done)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("poll %s for 0x%x: %w", f, expected, ctx.Err())
	}
	return fmt.Errorf("poll %s for 0x%x after %s: %w", f, expected, a.opts.PollTimeout, ErrNotReady)
}
