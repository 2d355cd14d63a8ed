package features

import (
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
)

// getFamilyFeatures returns what the hardware can do. Engine features do
// not depend on the hardware.
func getFamilyFeatures(f *stm32.Family) Features {
	res := Features{Engine: EngineFeatures{
		StrictAsserts:   true,
		RuntimeNotify:   true,
		SetRate:         true,
		EnforceInactive: true,
	}}
	if f == nil {
		return res
	}
	res.Board = BoardFeatures{
		FlashLatency:   len(f.WaitStates) > 0,
		BackupDomain:   !f.BackupAccess.IsZero(),
		TimerPrescaler: f.HasTIMPRE,
	}
	return res
}
