// Package timer provides the system timer drivers: the armv8
// architected timer (system registers, no MMIO) and the riscv CLINT.
package timer

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/emberos/ember/internal/device"
)

// ArchTimer binds the armv8 architected timer. It owns no MMIO range;
// only its interrupt lines matter.
type ArchTimer struct {
	log *slog.Logger
}

func NewArchTimer(log *slog.Logger) *ArchTimer {
	return &ArchTimer{log: log}
}

func (d *ArchTimer) Name() string       { return "armv8-timer" }
func (d *ArchTimer) Class() device.Type { return device.TypeTimer }
func (d *ArchTimer) Priority() int      { return 10 }
func (d *ArchTimer) StateSize() int     { return 0 }
func (d *ArchTimer) Builtin() bool      { return true }

func (d *ArchTimer) Matches() []string {
	return []string{"arm,armv8-timer", "arm,armv7-timer"}
}

func (d *ArchTimer) Probe(dev *device.Device) int {
	return device.MatchScore(dev, d.Matches())
}

func (d *ArchTimer) Attach(dev *device.Device) error {
	d.log.Debug("timer bound", "driver", d.Name(), "device", dev.Name)
	return nil
}

// CLINT binds the riscv core-local interruptor, which carries the
// machine timer.
type CLINT struct {
	log *slog.Logger
}

func NewCLINT(log *slog.Logger) *CLINT {
	return &CLINT{log: log}
}

func (d *CLINT) Name() string       { return "clint" }
func (d *CLINT) Class() device.Type { return device.TypeTimer }
func (d *CLINT) Priority() int      { return 10 }
func (d *CLINT) StateSize() int     { return 8 }
func (d *CLINT) Builtin() bool      { return true }

func (d *CLINT) Matches() []string {
	return []string{"sifive,clint0", "riscv,clint0"}
}

func (d *CLINT) Probe(dev *device.Device) int {
	return device.MatchScore(dev, d.Matches())
}

func (d *CLINT) Attach(dev *device.Device) error {
	if _, ok := dev.Resource(device.ResourceMMIO, 0); !ok {
		return fmt.Errorf("timer: %q has no register range", dev.Name)
	}
	if dev.VirtBase == 0 {
		return fmt.Errorf("timer: %q registers not mapped", dev.Name)
	}
	binary.LittleEndian.PutUint64(dev.DriverData(), dev.VirtBase)
	d.log.Debug("timer bound", "driver", d.Name(), "device", dev.Name)
	return nil
}

var (
	_ device.Driver = (*ArchTimer)(nil)
	_ device.Driver = (*CLINT)(nil)
)
