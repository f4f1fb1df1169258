package hwinit

import (
	"errors"
	"fmt"

	"github.com/emberos/ember/internal/device"
	"github.com/emberos/ember/internal/devmap"
	"github.com/emberos/ember/internal/fdt"
	"github.com/emberos/ember/internal/platform"
)

// Boot runs the discovery pipeline against a boot-loader-supplied blob.
// A nil or unreadable blob is not fatal: the pipeline degrades to the
// selected platform's statics, which still yield a console device.
//
// Errors returned from Boot are configuration errors the caller should
// escalate to the halt service; everything else is logged and isolated
// to the device it concerns.
func (s *System) Boot(blob []byte, boardName string) error {
	if reader, err := fdt.NewReader(blob); err != nil {
		s.log.Warn("description blob unusable", "err", err)
	} else {
		s.blob = reader
	}

	desc := s.Platform.SelectCurrent(platform.DetectInput{
		Blob:      s.blob,
		BoardName: boardName,
	})
	if desc == nil {
		return ErrNoPlatform
	}

	// Static table first: the console must be reachable before
	// anything else can go wrong.
	for _, e := range desc.DevmapTable {
		if err := s.Devmap.AddEntry(e); err != nil {
			return fmt.Errorf("hwinit: static table for %q: %w", desc.Name, err)
		}
	}
	if virt, ok := s.ConsoleVA(); ok {
		s.log.Info("console resolved",
			"platform", desc.Name, "virt", fmt.Sprintf("%#x", virt))
	}

	if s.blob != nil {
		// A truncated or self-overlapping RAM view risks handing the
		// physical allocator aliased memory, so both are fatal here.
		n, total, err := s.blob.MemoryRegions(s.regions[:])
		if err != nil {
			return fmt.Errorf("hwinit: memory regions: %w", err)
		}
		s.nregion, s.memory = n, total
	}

	if err := s.Devmap.Init(); err != nil {
		return err
	}

	discovered := s.Devices.DiscoverBlob(s.blob)
	if s.Devices.FindByCompatible(desc.ConsoleCompatible) == nil {
		s.synthesizeConsole(desc)
	}
	s.log.Info("devices discovered", "count", discovered, "platform", desc.Name)

	s.Devices.ClassifyAll()

	if err := s.Devmap.MapAll(s.Devices.Devices()); err != nil {
		// Individual mapping failures were already logged; only an
		// aliasing configuration is unrecoverable.
		if errors.Is(err, devmap.ErrOverlap) {
			return err
		}
	}

	s.bindAll()
	return nil
}

// synthesizeConsole stands in a console device from the platform
// statics so early output works even with no usable blob.
func (s *System) synthesizeConsole(desc *platform.Descriptor) {
	dev := &device.Device{
		Name:       "console",
		Compatible: []string{desc.ConsoleCompatible},
		State:      device.StateDiscovered,
		Resources: []device.Resource{{
			Kind:  device.ResourceMMIO,
			Start: desc.ConsoleUARTPhys,
			Size:  desc.ConsoleUARTSize,
		}},
	}
	if err := s.Devices.AddDevice(dev); err != nil {
		s.log.Warn("console synthesis failed", "err", err)
		return
	}
	s.log.Info("console device synthesized", "compatible", desc.ConsoleCompatible)
}

// bindAll runs match and attach over the whole graph with per-device
// failure isolation.
func (s *System) bindAll() {
	for _, dev := range s.Devices.Devices() {
		if dev.State != device.StateClassified {
			continue
		}
		s.Devices.Match(dev)
		if dev.Driver() == nil {
			continue
		}
		if err := s.Devices.Attach(dev); err != nil {
			s.log.Warn("attach failed", "device", dev.Name, "err", err)
		}
	}
}
