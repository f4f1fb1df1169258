package arch

import "fmt"

// arm64 stage-1 page descriptor bits.
const (
	arm64PTEValid = 1 << 0
	arm64PTEPage  = 1 << 1
	arm64PTEAF    = 1 << 10

	arm64PTEShInner = 3 << 8

	arm64PTEUXN = 1 << 54
	arm64PTEPXN = 1 << 53

	// MAIR_EL1 attribute indices, programmed by startup code in this
	// order: Device-nGnRE, Normal-NC, Normal-WT, Normal-WB.
	arm64AttrIdxDevice = 0
	arm64AttrIdxNC     = 1
	arm64AttrIdxWT     = 2
	arm64AttrIdxWB     = 3
)

const (
	arm64PageSize = 0x1000

	// Kernel-virtual window for device MMIO mappings.
	arm64DeviceWindowBase = 0xFFFF_8000_1000_0000
	arm64DeviceWindowSize = 0x4000_0000

	// DAIF.I masks IRQs when set.
	arm64DAIFIRQ = 1 << 7
	// ISR_EL1.I reports a pending physical IRQ.
	arm64ISRIRQ = 1 << 7
)

// ARM64 is the arm64 implementation of PageMapper. MapPage is the
// page-table construction primitive supplied by startup code.
type ARM64 struct {
	MapPage MapFunc
}

func (a *ARM64) Architecture() Architecture { return ArchARM64 }

func (a *ARM64) PageSize() uint64 { return arm64PageSize }

func (a *ARM64) DeviceWindow() (base, size uint64) {
	return arm64DeviceWindowBase, arm64DeviceWindowSize
}

// EncodeAttrs builds the page descriptor bits for the requested
// attributes. Device mappings are execute-never and non-shareable by
// construction.
func (a *ARM64) EncodeAttrs(attrs MemAttr) (uint64, error) {
	base := uint64(arm64PTEValid | arm64PTEPage | arm64PTEAF | arm64PTEUXN)

	switch attrs {
	case AttrDevice:
		return base | arm64PTEPXN | arm64AttrIdxDevice<<2, nil
	case AttrNonCacheable:
		return base | arm64PTEShInner | arm64AttrIdxNC<<2, nil
	case AttrWriteThrough:
		return base | arm64PTEShInner | arm64AttrIdxWT<<2, nil
	case AttrWriteBack:
		return base | arm64PTEShInner | arm64AttrIdxWB<<2, nil
	}

	return 0, fmt.Errorf("%w: %#x", ErrBadAttrs, uint32(attrs))
}

func (a *ARM64) Map(virt, phys, size, encoded uint64) error {
	if a.MapPage == nil {
		return fmt.Errorf("arch: arm64 map primitive not installed")
	}
	return a.MapPage(virt, phys, size, encoded)
}

// ARM64IRQ implements InterruptControl over the DAIF and ISR_EL1
// registers, accessed through startup-supplied hooks.
type ARM64IRQ struct {
	ReadDAIF  func() uint64
	WriteDAIF func(uint64)
	ReadISR   func() uint64
	AckIRQ    func()
}

func (c *ARM64IRQ) Enable() {
	c.WriteDAIF(c.ReadDAIF() &^ arm64DAIFIRQ)
}

func (c *ARM64IRQ) Disable() {
	c.WriteDAIF(c.ReadDAIF() | arm64DAIFIRQ)
}

func (c *ARM64IRQ) Save() uint64 {
	state := c.ReadDAIF()
	c.WriteDAIF(state | arm64DAIFIRQ)
	return state
}

func (c *ARM64IRQ) Restore(state uint64) {
	c.WriteDAIF(state)
}

func (c *ARM64IRQ) Pending() bool {
	return c.ReadISR()&arm64ISRIRQ != 0
}

func (c *ARM64IRQ) ClearPending() {
	if c.AckIRQ != nil {
		c.AckIRQ()
	}
}

var (
	_ PageMapper       = (*ARM64)(nil)
	_ InterruptControl = (*ARM64IRQ)(nil)
)
