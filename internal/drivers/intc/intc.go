// Package intc provides the interrupt-controller drivers: the Arm GIC
// on arm64 and the SiFive/RISC-V PLIC on riscv64.
package intc

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/emberos/ember/internal/device"
)

const stateSize = 8

// GIC binds the Arm generic interrupt controller.
type GIC struct {
	log *slog.Logger
}

func NewGIC(log *slog.Logger) *GIC {
	return &GIC{log: log}
}

func (d *GIC) Name() string       { return "gic" }
func (d *GIC) Class() device.Type { return device.TypeInterruptController }
func (d *GIC) Priority() int      { return 20 }
func (d *GIC) StateSize() int     { return stateSize }
func (d *GIC) Builtin() bool      { return true }

func (d *GIC) Matches() []string {
	return []string{"arm,gic-v3", "arm,cortex-a15-gic", "arm,gic-400"}
}

func (d *GIC) Probe(dev *device.Device) int {
	return device.MatchScore(dev, d.Matches())
}

func (d *GIC) Attach(dev *device.Device) error {
	return attachController(d.log, d.Name(), dev)
}

// PLIC binds the RISC-V platform-level interrupt controller.
type PLIC struct {
	log *slog.Logger
}

func NewPLIC(log *slog.Logger) *PLIC {
	return &PLIC{log: log}
}

func (d *PLIC) Name() string       { return "plic" }
func (d *PLIC) Class() device.Type { return device.TypeInterruptController }
func (d *PLIC) Priority() int      { return 20 }
func (d *PLIC) StateSize() int     { return stateSize }
func (d *PLIC) Builtin() bool      { return true }

func (d *PLIC) Matches() []string {
	return []string{"sifive,plic-1.0.0", "riscv,plic0"}
}

func (d *PLIC) Probe(dev *device.Device) int {
	return device.MatchScore(dev, d.Matches())
}

func (d *PLIC) Attach(dev *device.Device) error {
	return attachController(d.log, d.Name(), dev)
}

func attachController(log *slog.Logger, name string, dev *device.Device) error {
	if _, ok := dev.Resource(device.ResourceMMIO, 0); !ok {
		return fmt.Errorf("intc: %q has no register range", dev.Name)
	}
	if dev.VirtBase == 0 {
		return fmt.Errorf("intc: %q registers not mapped", dev.Name)
	}

	binary.LittleEndian.PutUint64(dev.DriverData(), dev.VirtBase)
	log.Debug("interrupt controller bound", "driver", name, "device", dev.Name,
		"base", fmt.Sprintf("%#x", dev.VirtBase))
	return nil
}

var (
	_ device.Driver = (*GIC)(nil)
	_ device.Driver = (*PLIC)(nil)
)
