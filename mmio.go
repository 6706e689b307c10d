package hdspe

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Size of the register BAR of all HDSPe cards.
const hdspeBARSize = 65536

// MMIO is a RegisterIO over the memory mapped register BAR of a card,
// accessed through the sysfs resource file of its PCI function. It
// requires the device to be unbound from the kernel snd-hdspe driver.
type MMIO struct {
	f    *os.File
	mem  []byte
	regs *[hdspeBARSize / 4]uint32
}

// OpenMMIO maps BAR 0 of the PCI device with the given sysfs address,
// e.g. "0000:04:00.0".
func OpenMMIO(pciAddress string) (*MMIO, error) {
	path := filepath.Join("/sys/bus/pci/devices", pciAddress, "resource0")

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, hdspeBARSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cannot mmap %s: %w", path, err)
	}

	return &MMIO{
		f:    f,
		mem:  mem,
		regs: (*[hdspeBARSize / 4]uint32)(unsafe.Pointer(&mem[0])),
	}, nil
}

// Read reads the 32-bit register at the given byte offset.
func (m *MMIO) Read(reg uint32) uint32 {
	return atomic.LoadUint32(&m.regs[reg/4])
}

// Write writes the 32-bit register at the given byte offset.
func (m *MMIO) Write(reg uint32, value uint32) {
	atomic.StoreUint32(&m.regs[reg/4], value)
}

// Close unmaps the BAR and closes the resource file.
func (m *MMIO) Close() error {
	if m == nil || m.f == nil {
		return nil
	}

	err := unix.Munmap(m.mem)
	if err2 := m.f.Close(); err == nil {
		err = err2
	}
	m.f = nil
	m.mem = nil
	m.regs = nil

	return err
}
