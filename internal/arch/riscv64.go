package arch

import "fmt"

// riscv64 Sv39 page-table entry bits.
const (
	rvPTEValid = 1 << 0
	rvPTERead  = 1 << 1
	rvPTEWrite = 1 << 2
	rvPTEGlob  = 1 << 5
	rvPTEAcc   = 1 << 6
	rvPTEDirty = 1 << 7

	// Svpbmt memory-type field, bits 62:61.
	rvPBMTNC = 1 << 61
	rvPBMTIO = 2 << 61
)

const (
	rvPageSize = 0x1000

	// Kernel-virtual window for device MMIO mappings.
	rvDeviceWindowBase = 0xFFFF_FFC0_1000_0000
	rvDeviceWindowSize = 0x4000_0000

	// sstatus.SIE gates supervisor interrupts.
	rvSstatusSIE = 1 << 1
	// sip.SEIP reports a pending supervisor external interrupt.
	rvSipSEIP = 1 << 9
)

// RISCV64 is the riscv64 implementation of PageMapper. MapPage is the
// page-table construction primitive supplied by startup code.
type RISCV64 struct {
	MapPage MapFunc
}

func (r *RISCV64) Architecture() Architecture { return ArchRISCV64 }

func (r *RISCV64) PageSize() uint64 { return rvPageSize }

func (r *RISCV64) DeviceWindow() (base, size uint64) {
	return rvDeviceWindowBase, rvDeviceWindowSize
}

// EncodeAttrs builds Sv39 PTE bits for the requested attributes. The
// architecture has no write-through mode; those requests degrade to
// non-cacheable.
func (r *RISCV64) EncodeAttrs(attrs MemAttr) (uint64, error) {
	base := uint64(rvPTEValid | rvPTERead | rvPTEWrite | rvPTEGlob | rvPTEAcc | rvPTEDirty)

	switch attrs {
	case AttrDevice:
		return base | rvPBMTIO, nil
	case AttrNonCacheable, AttrWriteThrough:
		return base | rvPBMTNC, nil
	case AttrWriteBack:
		return base, nil
	}

	return 0, fmt.Errorf("%w: %#x", ErrBadAttrs, uint32(attrs))
}

func (r *RISCV64) Map(virt, phys, size, encoded uint64) error {
	if r.MapPage == nil {
		return fmt.Errorf("arch: riscv64 map primitive not installed")
	}
	return r.MapPage(virt, phys, size, encoded)
}

// RISCV64IRQ implements InterruptControl over the sstatus and sip CSRs,
// accessed through startup-supplied hooks.
type RISCV64IRQ struct {
	ReadSstatus  func() uint64
	WriteSstatus func(uint64)
	ReadSip      func() uint64
	ClearSip     func(uint64)
}

func (c *RISCV64IRQ) Enable() {
	c.WriteSstatus(c.ReadSstatus() | rvSstatusSIE)
}

func (c *RISCV64IRQ) Disable() {
	c.WriteSstatus(c.ReadSstatus() &^ rvSstatusSIE)
}

func (c *RISCV64IRQ) Save() uint64 {
	state := c.ReadSstatus()
	c.WriteSstatus(state &^ rvSstatusSIE)
	return state
}

func (c *RISCV64IRQ) Restore(state uint64) {
	c.WriteSstatus(state)
}

func (c *RISCV64IRQ) Pending() bool {
	return c.ReadSip()&rvSipSEIP != 0
}

func (c *RISCV64IRQ) ClearPending() {
	if c.ClearSip != nil {
		c.ClearSip(rvSipSEIP)
	}
}

var (
	_ PageMapper       = (*RISCV64)(nil)
	_ InterruptControl = (*RISCV64IRQ)(nil)
)
