package device

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
	ErrDuplicateDriver = errors.New("device: driver already registered")

	// ErrResourceOverlap reports a device whose MMIO range collides
	// with an already-registered device of the graph.
	ErrResourceOverlap = errors.New("device: resource overlap")

	// ErrNotMatched reports an attach attempted on an unbound device.
	ErrNotMatched = errors.New("device: no driver bound")
)

// Registry owns the device graph and the driver list. It is the sole
// writer of device match state.
type Registry struct {
	mu  spinlock.Lock
	log *slog.Logger

	arch    arch.Architecture
	drivers []Driver
	devices []*Device
}

// NewRegistry returns an empty registry for the given architecture.
func NewRegistry(a arch.Architecture, log *slog.Logger) *Registry {
	return &Registry{arch: a, log: log}
}

// RegisterDriver appends a driver. Registration is additive-only;
// drivers are never removed.
func (r *Registry) RegisterDriver(drv Driver) error {
	if drv == nil {
		return errors.New("device: driver is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.drivers {
		if existing.Name() == drv.Name() {
			return fmt.Errorf("%w: %q", ErrDuplicateDriver, drv.Name())
		}
	}
	r.drivers = append(r.drivers, drv)
	r.log.Debug("driver registered",
		"driver", drv.Name(), "class", drv.Class(), "builtin", drv.Builtin())
	return nil
}

// AddDevice inserts a device into the graph, enforcing that its MMIO
// resources do not overlap those of any existing device.
func (r *Registry) AddDevice(dev *Device) error {
	if dev == nil {
		return errors.New("device: device is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range dev.Resources {
		if res.Kind != ResourceMMIO {
			continue
		}
		for _, existing := range r.devices {
			for _, other := range existing.Resources {
				if other.Kind != ResourceMMIO {
					continue
				}
				if rangesOverlap(res.Start, res.Size, other.Start, other.Size) {
					return fmt.Errorf("%w: %q mmio %#x-%#x collides with %q",
						ErrResourceOverlap, dev.Name, res.Start, res.Start+res.Size-1, existing.Name)
				}
			}
		}
	}

	r.devices = append(r.devices, dev)
	return nil
}

// Devices returns a snapshot of the device graph.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// FindByCompatible returns the first device whose identity list
// contains the exact entry s, or nil.
func (r *Registry) FindByCompatible(s string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range r.devices {
		if dev.HasCompatible(s) {
			return dev
		}
	}
	return nil
}

// ClassifyAll assigns a type to every discovered device.
func (r *Registry) ClassifyAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := classTable(r.arch)
	for _, dev := range r.devices {
		if dev.State != StateDiscovered {
			continue
		}
		dev.Type = classify(table, dev)
		dev.State = StateClassified
		r.log.Debug("device classified", "device", dev.Name, "type", dev.Type)
	}
}

// Match evaluates every driver of the device's class and binds the
// winner: highest probe score, ties broken by registration order.
// A device no driver accepts becomes Unmatched.
func (r *Registry) Match(dev *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev.State = StateMatching

	var (
		winner    Driver
		bestScore int
	)
	for _, drv := range r.drivers {
		if drv.Class() != dev.Type {
			continue
		}
		score := drv.Probe(dev)
		if score < 0 {
			continue
		}
		if winner == nil || score > bestScore {
			winner, bestScore = drv, score
		}
	}

	if winner == nil {
		dev.State = StateUnmatched
		r.log.Debug("no driver matched", "device", dev.Name, "type", dev.Type)
		return
	}

	dev.driver = winner
	if size := winner.StateSize(); size > 0 {
		dev.driverData = make([]byte, size)
	}
	r.log.Debug("driver matched",
		"device", dev.Name, "driver", winner.Name(), "score", bestScore)
}

// Attach invokes the bound driver's attach. Failure moves the device to
// Unmatched and is reported, but callers are expected to continue with
// the remaining devices.
func (r *Registry) Attach(dev *Device) error {
	r.mu.Lock()
	drv := dev.driver
	r.mu.Unlock()

	if drv == nil {
		dev.State = StateUnmatched
		return fmt.Errorf("%w: %q", ErrNotMatched, dev.Name)
	}

	if err := drv.Attach(dev); err != nil {
		r.mu.Lock()
		dev.State = StateUnmatched
		dev.driver = nil
		dev.driverData = nil
		r.mu.Unlock()
		return fmt.Errorf("device: attach %q via %q: %w", dev.Name, drv.Name(), err)
	}

	r.mu.Lock()
	dev.State = StateAttached
	r.mu.Unlock()
	r.log.Info("device attached", "device", dev.Name, "driver", drv.Name())
	return nil
}

// DiscoverBlob walks the description blob and adds a device for every
// node carrying a compatible property. Register ranges become MMIO
// resources and interrupts properties become IRQ lines. It returns the
// number of devices added; per-node failures are logged and skipped.
func (r *Registry) DiscoverBlob(reader *fdt.Reader) int {
	if reader == nil {
		return 0
	}

	added := 0
	reader.Root().Walk(func(n fdt.NodeRef, depth int) bool {
		if depth == 0 {
			return true
		}
		compat, ok := n.Compatible()
		if !ok {
			return true
		}

		dev := &Device{
			Name:       string(n.Name()),
			Compatible: splitCompatible(compat),
			State:      StateDiscovered,
		}

		if reg, ok := n.Property("reg"); ok {
			for off := 0; off+16 <= len(reg); off += 16 {
				dev.Resources = append(dev.Resources, Resource{
					Kind:  ResourceMMIO,
					Start: binary.BigEndian.Uint64(reg[off:]),
					Size:  binary.BigEndian.Uint64(reg[off+8:]),
				})
			}
		}
		if irqs, ok := n.Property("interrupts"); ok {
			for off := 0; off+4 <= len(irqs); off += 4 {
				dev.Resources = append(dev.Resources, Resource{
					Kind:  ResourceIRQ,
					Start: uint64(binary.BigEndian.Uint32(irqs[off:])),
				})
			}
		}

		if err := r.AddDevice(dev); err != nil {
			r.log.Warn("device skipped", "device", dev.Name, "err", err)
			return true
		}
		added++
		return true
	})
	return added
}

func splitCompatible(compat []byte) []string {
	var out []string
	for len(compat) > 0 {
		i := 0
		for i < len(compat) && compat[i] != 0 {
			i++
		}
		if i > 0 {
			out = append(out, string(compat[:i]))
		}
		if i == len(compat) {
			break
		}
		compat = compat[i+1:]
	}
	return out
}

func rangesOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	return baseA < baseB+sizeB && baseB < baseA+sizeA
}
