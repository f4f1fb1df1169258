// Package uart provides the serial console drivers for the two
// supported boards: the PrimeCell PL011 and the 16550 family.
// Register-level protocol lives with the console layer; these drivers
// bind devices and record their mapped register bases.
package uart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emberos/ember/internal/device"
)

// Driver state blob layout: mapped register base, then IRQ line.
const (
	stateBaseOff = 0
	stateIRQOff  = 8
	stateSize    = 16
)

var ErrNotMapped = errors.New("uart: device registers not mapped")

// PL011 drives the Arm PrimeCell UART found on the arm64 virt board.
type PL011 struct {
	log *slog.Logger
}

func NewPL011(log *slog.Logger) *PL011 {
	return &PL011{log: log}
}

func (d *PL011) Name() string       { return "pl011" }
func (d *PL011) Class() device.Type { return device.TypeUART }
func (d *PL011) Priority() int      { return 10 }
func (d *PL011) StateSize() int     { return stateSize }
func (d *PL011) Builtin() bool      { return true }

func (d *PL011) Matches() []string {
	return []string{"arm,pl011", "arm,primecell"}
}

func (d *PL011) Probe(dev *device.Device) int {
	return device.MatchScore(dev, d.Matches())
}

func (d *PL011) Attach(dev *device.Device) error {
	return attachUART(d.log, d.Name(), dev)
}

// NS16550 drives 16550-compatible UARTs, the riscv64 virt console
// among them.
type NS16550 struct {
	log *slog.Logger
}

func NewNS16550(log *slog.Logger) *NS16550 {
	return &NS16550{log: log}
}

func (d *NS16550) Name() string       { return "ns16550" }
func (d *NS16550) Class() device.Type { return device.TypeUART }
func (d *NS16550) Priority() int      { return 10 }
func (d *NS16550) StateSize() int     { return stateSize }
func (d *NS16550) Builtin() bool      { return true }

func (d *NS16550) Matches() []string {
	return []string{"ns16550a", "ns16550", "snps,dw-apb-uart"}
}

func (d *NS16550) Probe(dev *device.Device) int {
	return device.MatchScore(dev, d.Matches())
}

func (d *NS16550) Attach(dev *device.Device) error {
	return attachUART(d.log, d.Name(), dev)
}

// attachUART validates the resolved resources and records the mapped
// base and IRQ line in the device's driver state.
func attachUART(log *slog.Logger, name string, dev *device.Device) error {
	if _, ok := dev.Resource(device.ResourceMMIO, 0); !ok {
		return fmt.Errorf("uart: %q has no register range", dev.Name)
	}
	if dev.VirtBase == 0 {
		return fmt.Errorf("%w: %q", ErrNotMapped, dev.Name)
	}

	state := dev.DriverData()
	binary.LittleEndian.PutUint64(state[stateBaseOff:], dev.VirtBase)
	if irq, ok := dev.Resource(device.ResourceIRQ, 0); ok {
		binary.LittleEndian.PutUint64(state[stateIRQOff:], irq.Start)
	}

	log.Debug("uart bound", "driver", name, "device", dev.Name,
		"base", fmt.Sprintf("%#x", dev.VirtBase))
	return nil
}

var (
	_ device.Driver = (*PL011)(nil)
	_ device.Driver = (*NS16550)(nil)
)
