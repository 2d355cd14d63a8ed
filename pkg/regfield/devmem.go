//go:build linux

package regfield

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

const devMemPath = "/dev/mem"

// DevMemBlock is a register block backed by a /dev/mem mapping of a
// peripheral window.
type DevMemBlock struct {
	base uint64
	file *os.File
	mem  []byte
}

// OpenDevMem maps size bytes of physical memory starting at base. base must be
// page aligned.
func OpenDevMem(base uint64, size int) (*DevMemBlock, error) {
	if base%uint64(os.Getpagesize()) != 0 {
		return nil, fmt.Errorf("register window 0x%x is not page aligned", base)
	}
	f, err := os.OpenFile(devMemPath, os.O_RDWR|os.O_SYNC, 0o660)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devMemPath, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), int64(base), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap 0x%x+0x%x: %w", base, size, err)
	}
	glog.Infof("mapped register window 0x%x+0x%x from %s", base, size, devMemPath)
	return &DevMemBlock{base: base, file: f, mem: mem}, nil
}

func (d *DevMemBlock) word(off uint16) *uint32 {
	if int(off)+4 > len(d.mem) {
		panic(fmt.Sprintf("register offset 0x%x outside mapped window of 0x%x bytes", off, len(d.mem)))
	}
	return (*uint32)(unsafe.Pointer(&d.mem[off]))
}

// Read32 performs a single 32-bit load from the mapped register.
func (d *DevMemBlock) Read32(off uint16) uint32 {
	return atomic.LoadUint32(d.word(off))
}

// Write32 performs a single 32-bit store to the mapped register.
func (d *DevMemBlock) Write32(off uint16, v uint32) {
	atomic.StoreUint32(d.word(off), v)
}

// Close unmaps the window.
func (d *DevMemBlock) Close() error {
	if d.mem == nil {
		return nil
	}
	err := unix.Munmap(d.mem)
	d.mem = nil
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	return err
}
