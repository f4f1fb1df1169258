// Package hwinit wires the discovery subsystems together and runs the
// boot pipeline: platform selection, console resolution, blob parsing,
// device classification, resource mapping and driver attach.
//
// All process-wide registries hang off a single System created during
// kernel init; nothing here is an ambient global, which keeps lifetime
// and test reset explicit.
package hwinit

import (
	"errors"
	"log/slog"

	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/device"
	"github.com/emberos/ember/internal/devmap"
	"github.com/emberos/ember/internal/fdt"
	"github.com/emberos/ember/internal/platform"
)

// ErrNoPlatform reports a boot with an empty platform registry.
var ErrNoPlatform = errors.New("hwinit: no platform registered")

// Config carries the architecture capabilities supplied by startup
// code.
type Config struct {
	Mapper arch.PageMapper
	IRQ    arch.InterruptControl
	Log    *slog.Logger
}

// System is the single-instance context object owning the platform
// registry, the driver/device registry and the memory-map manager.
type System struct {
	Arch     arch.Architecture
	Platform *platform.Registry
	Devices  *device.Registry
	Devmap   *devmap.Manager
	IRQ      arch.InterruptControl

	log *slog.Logger

	blob    *fdt.Reader
	regions [fdt.MaxMemoryRegions]fdt.MemoryRegion
	nregion int
	memory  uint64
}

// NewSystem creates the subsystem graph for one boot.
func NewSystem(cfg Config) *System {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &System{
		Arch:     cfg.Mapper.Architecture(),
		Platform: platform.NewRegistry(log),
		Devices:  device.NewRegistry(cfg.Mapper.Architecture(), log),
		Devmap:   devmap.NewManager(cfg.Mapper, log),
		IRQ:      cfg.IRQ,
		log:      log,
	}
}

// Blob returns the validated description blob reader, nil when the boot
// proceeded without one.
func (s *System) Blob() *fdt.Reader { return s.blob }

// MemoryRegions returns the RAM ranges captured from the blob and their
// running total. The physical memory manager consumes this once.
func (s *System) MemoryRegions() ([]fdt.MemoryRegion, uint64) {
	return s.regions[:s.nregion], s.memory
}

// ConsoleVA resolves the selected platform's console UART to a
// kernel-virtual address. This works from the static platform table
// alone, before the blob reader or device model have run.
func (s *System) ConsoleVA() (uint64, bool) {
	desc := s.Platform.Current()
	if desc == nil {
		return 0, false
	}
	return s.Devmap.DeviceVA(desc.ConsoleUARTPhys)
}
