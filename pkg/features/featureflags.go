package features

import (
	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
)

// Flags feature flags
var Flags *Features

func init() {
	Flags = &Features{}
}

// Features ...
type Features struct {
	Engine EngineFeatures
	Board  BoardFeatures
}

// Print prints
// out the internal values of feature gflags
func (f Features) Print() {
	f.Engine.Print()
	f.Board.Print()
}

// And applies a logical and on the feature sets
func (f Features) And(other Features) *Features {
	return &Features{
		Engine: f.Engine.And(other.Engine),
		Board:  f.Board.And(other.Board),
	}
}

// ClockOptions returns the graph options matching the engine features.
func (f Features) ClockOptions() clock.Options {
	return clock.Options{
		StrictAsserts:   f.Engine.StrictAsserts,
		RuntimeNotify:   f.Engine.RuntimeNotify,
		SetRate:         f.Engine.SetRate,
		EnforceInactive: f.Engine.EnforceInactive,
	}
}

// EngineFeatures are the optional behaviours of the clock graph.
type EngineFeatures struct {
	StrictAsserts   bool
	RuntimeNotify   bool
	SetRate         bool
	EnforceInactive bool
}

// Print ...
func (f EngineFeatures) Print() {
	glog.Info("Engine StrictAsserts: ", f.StrictAsserts)
	glog.Info("Engine RuntimeNotify: ", f.RuntimeNotify)
	glog.Info("Engine SetRate: ", f.SetRate)
	glog.Info("Engine EnforceInactive: ", f.EnforceInactive)
}

// And applies a logical and on the feature sets
func (f EngineFeatures) And(other EngineFeatures) EngineFeatures {
	return EngineFeatures{
		StrictAsserts:   f.StrictAsserts && other.StrictAsserts,
		RuntimeNotify:   f.RuntimeNotify && other.RuntimeNotify,
		SetRate:         f.SetRate && other.SetRate,
		EnforceInactive: f.EnforceInactive && other.EnforceInactive,
	}
}

// BoardFeatures are the hardware helpers driven next to the clock graph.
type BoardFeatures struct {
	FlashLatency   bool
	BackupDomain   bool
	TimerPrescaler bool
}

// Print ...
func (f BoardFeatures) Print() {
	glog.Info("Board FlashLatency: ", f.FlashLatency)
	glog.Info("Board BackupDomain: ", f.BackupDomain)
	glog.Info("Board TimerPrescaler: ", f.TimerPrescaler)
}

// And applies a logical and on the feature sets
func (f BoardFeatures) And(other BoardFeatures) BoardFeatures {
	return BoardFeatures{
		FlashLatency:   f.FlashLatency && other.FlashLatency,
		BackupDomain:   f.BackupDomain && other.BackupDomain,
		TimerPrescaler: f.TimerPrescaler && other.TimerPrescaler,
	}
}

// SetFlags sets the feature flags to the requested ones that the engine
// version pinned by the board description and the hardware both support.
func SetFlags(requested Features, engineVersion string, family *stm32.Family) error {
	engine, err := getEngineFeatures(engineVersion)
	if err != nil {
		return err
	}
	Flags = requested.And(*engine).And(getFamilyFeatures(family))
	return nil
}
