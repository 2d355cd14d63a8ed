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

// BackupDomain reference-counts write access to the backup domain (RTC,
// LSE and backup registers). Access is granted through the PWR controller,
// whose clock is enabled for the duration of the access change.
type BackupDomain struct {
	mu     sync.Mutex
	pwr    *regfield.Accessor
	dbp    regfield.Field
	periph *PeriphClocks
	refs   int
	warn   sync.Once
}

// NewBackupDomain returns the backup domain of family. pwr accesses the PWR
// controller registers.
func NewBackupDomain(family *stm32.Family, pwr *regfield.Accessor, periph *PeriphClocks) (*BackupDomain, error) {
	if family.BackupAccess.IsZero() {
		return nil, fmt.Errorf("%s has no backup domain access control: %w", family.Name, clock.ErrNotSupported)
	}
	return &BackupDomain{pwr: pwr, dbp: family.BackupAccess, periph: periph}, nil
}

// EnableAccess grants write access, waiting for the PWR controller to
// acknowledge the first grant.
func (b *BackupDomain) EnableAccess(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs > 0 {
		b.refs++
		return nil
	}
	err := b.periph.Do(ctx, "PWR", func(ctx context.Context) error {
		b.pwr.Write(b.dbp, 1)
		return b.pwr.PollUntil(ctx, b.dbp, 1)
	})
	if err != nil {
		return fmt.Errorf("backup domain access: %w", err)
	}
	b.refs = 1
	glog.V(2).Info("backup domain write access enabled")
	return nil
}

// DisableAccess drops a reference taken by EnableAccess. An unbalanced call
// is reported once and otherwise ignored.
func (b *BackupDomain) DisableAccess(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		b.warn.Do(func() {
			glog.Warning("backup domain access disabled more times than enabled")
		})
		return nil
	}
	b.refs--
	if b.refs > 0 {
		return nil
	}
	err := b.periph.Do(ctx, "PWR", func(context.Context) error {
		b.pwr.Write(b.dbp, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("backup domain access: %w", err)
	}
	glog.V(2).Info("backup domain write access disabled")
	return nil
}

// Refs returns the number of outstanding grants.
func (b *BackupDomain) Refs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}
