package devmap

import (
	"errors"

	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/device"
)

// MapAll resolves every MMIO resource of every device into a
// kernel-virtual mapping and records each device's register base.
// Per-device failures do not stop the remaining work; the joined error
// reports everything that went wrong.
func (m *Manager) MapAll(devs []*device.Device) error {
	var errs []error
	for _, dev := range devs {
		first := true
		for _, res := range dev.Resources {
			if res.Kind != device.ResourceMMIO {
				continue
			}
			virt, err := m.MapDevice(res.Start, res.Size, arch.AttrDevice)
			if err != nil {
				m.log.Warn("device mapping failed",
					"device", dev.Name, "phys", res.Start, "err", err)
				errs = append(errs, err)
				continue
			}
			if first {
				dev.VirtBase = virt
				first = false
			}
		}
	}
	return errors.Join(errs...)
}
