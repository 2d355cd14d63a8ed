package clock

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
)

var (
	// ErrInvalidArgument is returned when a configure value is outside the
	// legal domain of the node. No register is changed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoDevice is returned when a mux selects an input that is statically
	// absent from the topology.
	ErrNoDevice = errors.New("no such device")
	// ErrBusy is returned when a node refuses a change because it, or one of
	// its consumers, is in use.
	ErrBusy = errors.New("device or resource busy")
	// ErrNotSupported is returned when a node lacks the requested capability.
	ErrNotSupported = errors.New("operation not supported")
	// ErrNotFound is returned for unknown node, output or state names.
	ErrNotFound = errors.New("not found")
)

// Assertf checks a precondition that can only be violated by a programming
// or topology error. With strict asserts it panics, otherwise the violation
// is logged and cond is returned so the caller can fall back.
func Assertf(env Env, cond bool, format string, args ...interface{}) bool {
	if cond {
		return true
	}
	msg := fmt.Sprintf(format, args...)
	if env != nil && env.Options().StrictAsserts {
		panic("clock assertion failed: " + msg)
	}
	glog.Errorf("clock assertion failed: %s", msg)
	return false
}
