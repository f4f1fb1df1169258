// Package devmap translates device physical addresses into
// kernel-virtual MMIO mappings. Entries come from static platform
// tables installed before the manager is live, then from runtime
// allocation out of a per-architecture device window once Init has run.
// Mappings are never removed.
package devmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/fdt"
	"github.com/emberos/ember/internal/spinlock"
)

var (
	// ErrOverlap reports an entry whose physical or virtual range
	// collides with an existing mapping. Continuing would alias MMIO,
	// so callers on the boot path escalate this to the halt service.
	ErrOverlap = errors.New("devmap: range overlap")

	// ErrNotInitialized reports an allocation attempted before Init.
	// Early lookups are only satisfied by static platform entries.
	ErrNotInitialized = errors.New("devmap: allocator not initialized")

	// ErrWindowExhausted reports that the device MMIO window is full.
	ErrWindowExhausted = errors.New("devmap: device window exhausted")

	ErrZeroSize = errors.New("devmap: zero-size mapping")
)

// Entry is one physical-to-virtual mapping. Virt == 0 requests
// allocation from the device window.
type Entry struct {
	Name  string
	Phys  uint64
	Virt  uint64
	Size  uint64
	Attrs arch.MemAttr
}

// Manager owns the active mapping set. It is the only writer of that
// set; other subsystems read mappings through its query methods.
type Manager struct {
	mu     spinlock.Lock
	mapper arch.PageMapper
	log    *slog.Logger

	entries  []Entry
	nextVirt uint64
	virtEnd  uint64

	initialized bool
}

// NewManager returns a manager allocating from the mapper's device
// window. Nothing is mapped until entries are added.
func NewManager(mapper arch.PageMapper, log *slog.Logger) *Manager {
	base, size := mapper.DeviceWindow()
	return &Manager{
		mapper:   mapper,
		log:      log,
		nextVirt: base,
		virtEnd:  base + size,
	}
}

// Init transitions the manager to the steady-state phase: runtime
// allocation becomes available and every static entry added so far is
// installed through the architecture map primitive. Before Init,
// lookups are satisfied by the bootstrap identity window that startup
// code established.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	for _, e := range m.entries {
		if err := m.install(e); err != nil {
			return fmt.Errorf("devmap: init %q: %w", e.Name, err)
		}
	}

	m.initialized = true
	m.log.Debug("devmap initialized", "entries", len(m.entries))
	return nil
}

// AddEntry inserts a mapping, rejecting any physical or virtual overlap
// with the active set. Entries requesting allocation (Virt == 0) are
// only accepted once Init has run.
func (m *Manager) AddEntry(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Size == 0 {
		return fmt.Errorf("%w: %q", ErrZeroSize, e.Name)
	}
	if e.Phys+e.Size < e.Phys {
		return fmt.Errorf("devmap: entry %q wraps physical space", e.Name)
	}

	if e.Virt == 0 {
		if !m.initialized {
			return fmt.Errorf("%w: entry %q requests allocation", ErrNotInitialized, e.Name)
		}
		virt, err := m.allocate(e.Size)
		if err != nil {
			return err
		}
		e.Virt = virt
	}

	if err := m.checkOverlap(e); err != nil {
		return err
	}

	if m.initialized {
		if err := m.install(e); err != nil {
			return err
		}
	}

	// Fixed entries placed inside the device window must not be handed
	// out again by the allocator.
	if e.Virt >= m.nextVirt && e.Virt < m.virtEnd {
		m.nextVirt = alignUp(e.Virt+e.Size, m.mapper.PageSize())
	}

	m.entries = append(m.entries, e)
	m.log.Debug("devmap entry added",
		"name", e.Name,
		"phys", fmt.Sprintf("%#x", e.Phys),
		"virt", fmt.Sprintf("%#x", e.Virt),
		"size", fmt.Sprintf("%#x", e.Size))
	return nil
}

// MapDevice returns a kernel-virtual address for the physical range.
// It is idempotent: a range already covered by an entry yields the
// identical virtual address on every call. Uncovered ranges allocate a
// fresh page-granular mapping from the device window.
func (m *Manager) MapDevice(phys, size uint64, attrs arch.MemAttr) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size == 0 {
		return 0, ErrZeroSize
	}

	if virt, ok := m.lookup(phys, size); ok {
		return virt, nil
	}

	if !m.initialized {
		return 0, fmt.Errorf("%w: phys %#x not covered by static entries", ErrNotInitialized, phys)
	}

	page := m.mapper.PageSize()
	pageOff := phys & (page - 1)
	alignedPhys := phys - pageOff
	alignedSize := alignUp(size+pageOff, page)

	virt, err := m.allocate(alignedSize)
	if err != nil {
		return 0, err
	}

	e := Entry{
		Name:  fmt.Sprintf("dev@%#x", alignedPhys),
		Phys:  alignedPhys,
		Virt:  virt,
		Size:  alignedSize,
		Attrs: attrs,
	}
	if err := m.checkOverlap(e); err != nil {
		return 0, err
	}
	if err := m.install(e); err != nil {
		return 0, err
	}

	m.entries = append(m.entries, e)
	return virt + pageOff, nil
}

// DeviceVA returns the virtual address for a physical address already
// covered by a mapping.
func (m *Manager) DeviceVA(phys uint64) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(phys, 1)
}

// FindAndMap locates a blob node by compatible string, classifies its
// first register range and maps it as device memory. It serves callers
// that need a device before the discovery pipeline has attached it,
// console bring-up foremost.
func (m *Manager) FindAndMap(r *fdt.Reader, compatible string) (uint64, bool) {
	if r == nil {
		return 0, false
	}

	var virt uint64
	found := false
	r.Root().Walk(func(n fdt.NodeRef, _ int) bool {
		if !n.HasCompatible(compatible) {
			return true
		}
		reg, ok := n.Property("reg")
		if !ok || len(reg) < 16 {
			return true
		}
		base, size := regPair(reg)
		v, err := m.MapDevice(base, size, arch.AttrDevice)
		if err != nil {
			m.log.Warn("find-and-map failed", "compatible", compatible, "err", err)
			return false
		}
		virt, found = v, true
		return false
	})
	return virt, found
}

// Entries returns a copy of the active mapping set.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// lookup resolves phys..phys+size within a single covering entry.
func (m *Manager) lookup(phys, size uint64) (uint64, bool) {
	for _, e := range m.entries {
		if phys >= e.Phys && phys+size <= e.Phys+e.Size {
			return e.Virt + (phys - e.Phys), true
		}
	}
	return 0, false
}

func (m *Manager) checkOverlap(e Entry) error {
	for _, existing := range m.entries {
		if rangesOverlap(e.Phys, e.Size, existing.Phys, existing.Size) {
			return fmt.Errorf("%w: %q phys %#x-%#x collides with %q",
				ErrOverlap, e.Name, e.Phys, e.Phys+e.Size-1, existing.Name)
		}
		if rangesOverlap(e.Virt, e.Size, existing.Virt, existing.Size) {
			return fmt.Errorf("%w: %q virt %#x-%#x collides with %q",
				ErrOverlap, e.Name, e.Virt, e.Virt+e.Size-1, existing.Name)
		}
	}
	return nil
}

// allocate hands out a page-aligned range from the device window.
// Bases increase monotonically and are never reused.
func (m *Manager) allocate(size uint64) (uint64, error) {
	page := m.mapper.PageSize()
	base := alignUp(m.nextVirt, page)
	size = alignUp(size, page)
	if base+size > m.virtEnd || base+size < base {
		return 0, ErrWindowExhausted
	}
	m.nextVirt = base + size
	return base, nil
}

// install pushes an entry into the architecture page tables.
func (m *Manager) install(e Entry) error {
	attrs := e.Attrs
	if attrs == 0 {
		attrs = arch.AttrDevice
	}
	encoded, err := m.mapper.EncodeAttrs(attrs)
	if err != nil {
		return fmt.Errorf("devmap: entry %q: %w", e.Name, err)
	}
	return m.mapper.Map(e.Virt, e.Phys, e.Size, encoded)
}

func regPair(reg []byte) (base, size uint64) {
	return binary.BigEndian.Uint64(reg[0:8]), binary.BigEndian.Uint64(reg[8:16])
}

func rangesOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	return baseA < baseB+sizeB && baseB < baseA+sizeA
}

func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}
