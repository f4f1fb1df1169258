// Package arch is the capability boundary between the hardware-discovery
// core and the two supported instruction-set architectures. The core
// holds a PageMapper and an InterruptControl and never branches on which
// architecture it is running on; startup code for each target supplies
// the concrete implementation.
package arch

import "errors"

// Architecture identifies a supported target.
type Architecture string

const (
	ArchInvalid Architecture = "invalid"
	ArchARM64   Architecture = "arm64"
	ArchRISCV64 Architecture = "riscv64"
)

// MemAttr describes the requested memory attributes for a mapping.
// Exactly one caching mode should be set; AttrDevice implies strongly
// ordered, non-cacheable access.
type MemAttr uint32

const (
	AttrDevice MemAttr = 1 << iota
	AttrNonCacheable
	AttrWriteThrough
	AttrWriteBack
)

var ErrBadAttrs = errors.New("arch: unsupported attribute combination")

// MapFunc is the page-table construction primitive supplied by the
// architecture startup code. It installs a mapping of size bytes from
// virt to phys using the already-encoded page attributes.
type MapFunc func(virt, phys, size, encoded uint64) error

// PageMapper translates generic mapping requests into architecture
// page-table state.
type PageMapper interface {
	// Architecture returns the target this mapper serves.
	Architecture() Architecture

	// PageSize returns the mapping granularity in bytes.
	PageSize() uint64

	// DeviceWindow returns the kernel-virtual window reserved for
	// device MMIO mappings. Allocation within the window is the
	// caller's concern; bases are handed out monotonically and never
	// reused.
	DeviceWindow() (base, size uint64)

	// EncodeAttrs translates generic attributes into the page-table
	// encoding for this architecture.
	EncodeAttrs(attrs MemAttr) (uint64, error)

	// Map installs a mapping via the startup-supplied primitive.
	Map(virt, phys, size, encoded uint64) error
}

// InterruptControl abstracts the per-architecture interrupt masking and
// pending-state registers so the core never touches control registers
// directly.
type InterruptControl interface {
	Enable()
	Disable()

	// Save disables interrupts and returns the previous state for a
	// later Restore.
	Save() uint64
	Restore(state uint64)

	Pending() bool
	ClearPending()
}
