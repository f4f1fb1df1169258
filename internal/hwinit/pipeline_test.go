package hwinit

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/device"
	"github.com/emberos/ember/internal/drivers/intc"
	"github.com/emberos/ember/internal/drivers/timer"
	"github.com/emberos/ember/internal/drivers/uart"
	"github.com/emberos/ember/internal/fdt"
	"github.com/emberos/ember/internal/platform"
)

func testSystem(t *testing.T, mapper arch.PageMapper) *System {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sys := NewSystem(Config{Mapper: mapper, Log: log})

	if err := sys.Platform.Register(platform.QEMUVirtARM64(mapper)); err != nil {
		t.Fatal(err)
	}
	if err := sys.Platform.Register(platform.QEMUVirtRISCV64(mapper)); err != nil {
		t.Fatal(err)
	}
	for _, drv := range []device.Driver{
		uart.NewPL011(log), uart.NewNS16550(log),
		intc.NewGIC(log), intc.NewPLIC(log),
		timer.NewArchTimer(log), timer.NewCLINT(log),
	} {
		if err := sys.Devices.RegisterDriver(drv); err != nil {
			t.Fatal(err)
		}
	}
	return sys
}

func nopMapper(a arch.Architecture) arch.PageMapper {
	nop := func(virt, phys, size, encoded uint64) error { return nil }
	if a == arch.ArchARM64 {
		return &arch.ARM64{MapPage: nop}
	}
	return &arch.RISCV64{MapPage: nop}
}

// riscvVirtBlob models the blob QEMU hands a riscv64 virt guest.
func riscvVirtBlob(t *testing.T) []byte {
	t.Helper()

	b := fdt.NewBuilder()
	b.BeginNode("")
	b.AddPropertyStringList("compatible", []string{"riscv-virtio"})

	b.BeginNode("memory@80000000")
	b.AddPropertyString("device_type", "memory")
	b.AddPropertyU64Pair("reg", 0x8000_0000, 0x800_0000)
	b.EndNode()

	b.BeginNode("serial@10000000")
	b.AddPropertyStringList("compatible", []string{"ns16550a"})
	b.AddPropertyU64Pair("reg", 0x1000_0000, 0x1000)
	b.AddPropertyU32("interrupts", 10)
	b.EndNode()

	b.BeginNode("plic@c000000")
	b.AddPropertyStringList("compatible", []string{"sifive,plic-1.0.0"})
	b.AddPropertyU64Pair("reg", 0x0c00_0000, 0x60_0000)
	b.EndNode()

	b.BeginNode("clint@2000000")
	b.AddPropertyStringList("compatible", []string{"sifive,clint0"})
	b.AddPropertyU64Pair("reg", 0x0200_0000, 0x1_0000)
	b.EndNode()

	b.EndNode()
	return b.Build()
}

func TestBootRISCVVirt(t *testing.T) {
	mapper := nopMapper(arch.ArchRISCV64)
	sys := testSystem(t, mapper)

	if err := sys.Boot(riscvVirtBlob(t), ""); err != nil {
		t.Fatal(err)
	}

	if sys.Blob() == nil {
		t.Fatal("blob reader not retained")
	}
	if cur := sys.Platform.Current(); cur == nil || cur.Arch != arch.ArchRISCV64 {
		t.Fatalf("platform = %v", cur)
	}

	regions, total := sys.MemoryRegions()
	if len(regions) != 1 || regions[0].Base != 0x8000_0000 || total != 0x800_0000 {
		t.Fatalf("memory = %v total %#x", regions, total)
	}

	// The console resolves through the static table, so its virtual
	// address is the bottom of the device window.
	windowBase, _ := mapper.DeviceWindow()
	consoleVA, ok := sys.ConsoleVA()
	if !ok || consoleVA != windowBase {
		t.Fatalf("console va = %#x, %v", consoleVA, ok)
	}

	serial := sys.Devices.FindByCompatible("ns16550a")
	if serial == nil {
		t.Fatal("serial not discovered")
	}
	if serial.State != device.StateAttached {
		t.Fatalf("serial state = %s", serial.State)
	}
	if serial.Driver() == nil || serial.Driver().Name() != "ns16550" {
		t.Fatalf("serial driver = %v", serial.Driver())
	}
	if serial.VirtBase != consoleVA {
		t.Fatalf("serial base %#x, console %#x", serial.VirtBase, consoleVA)
	}

	// Attach recorded the mapped base and IRQ line in the driver state.
	state := serial.DriverData()
	if got := binary.LittleEndian.Uint64(state); got != serial.VirtBase {
		t.Fatalf("state base = %#x", got)
	}
	if got := binary.LittleEndian.Uint64(state[8:]); got != 10 {
		t.Fatalf("state irq = %d", got)
	}

	for _, compat := range []string{"sifive,plic-1.0.0", "sifive,clint0"} {
		dev := sys.Devices.FindByCompatible(compat)
		if dev == nil || dev.State != device.StateAttached {
			t.Fatalf("%s not attached: %v", compat, dev)
		}
	}
}

func TestBootARM64Virt(t *testing.T) {
	b := fdt.NewBuilder()
	b.BeginNode("")
	b.AddPropertyStringList("compatible", []string{"linux,dummy-virt"})
	b.BeginNode("pl011@9000000")
	b.AddPropertyStringList("compatible", []string{"arm,pl011", "arm,primecell"})
	b.AddPropertyU64Pair("reg", 0x0900_0000, 0x1000)
	b.EndNode()
	b.BeginNode("timer")
	b.AddPropertyStringList("compatible", []string{"arm,armv8-timer"})
	b.EndNode()
	b.EndNode()

	mapper := nopMapper(arch.ArchARM64)
	sys := testSystem(t, mapper)

	if err := sys.Boot(b.Build(), ""); err != nil {
		t.Fatal(err)
	}
	if cur := sys.Platform.Current(); cur == nil || cur.Arch != arch.ArchARM64 {
		t.Fatalf("platform = %v", cur)
	}

	serial := sys.Devices.FindByCompatible("arm,pl011")
	if serial == nil || serial.State != device.StateAttached {
		t.Fatalf("pl011 not attached: %v", serial)
	}
	if serial.Driver().Name() != "pl011" {
		t.Fatalf("driver = %q", serial.Driver().Name())
	}

	// The architected timer has no MMIO range and still attaches.
	tmr := sys.Devices.FindByCompatible("arm,armv8-timer")
	if tmr == nil || tmr.State != device.StateAttached {
		t.Fatalf("timer not attached: %v", tmr)
	}
	if tmr.VirtBase != 0 {
		t.Fatalf("timer got a register base: %#x", tmr.VirtBase)
	}
}

// An unusable blob degrades the boot to platform statics: the board is
// picked by name and a console device is synthesized and attached.
func TestBootDegraded(t *testing.T) {
	mapper := nopMapper(arch.ArchRISCV64)
	sys := testSystem(t, mapper)

	if err := sys.Boot(nil, "qemu-virt-riscv64"); err != nil {
		t.Fatal(err)
	}
	if sys.Blob() != nil {
		t.Fatal("nil blob produced a reader")
	}

	regions, total := sys.MemoryRegions()
	if len(regions) != 0 || total != 0 {
		t.Fatalf("memory from nowhere: %v", regions)
	}

	console := sys.Devices.FindByCompatible("ns16550a")
	if console == nil {
		t.Fatal("console not synthesized")
	}
	if console.State != device.StateAttached {
		t.Fatalf("console state = %s", console.State)
	}
	if _, ok := sys.ConsoleVA(); !ok {
		t.Fatal("console va unresolved")
	}
}

func TestBootNoPlatform(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sys := NewSystem(Config{Mapper: nopMapper(arch.ArchRISCV64), Log: log})

	if err := sys.Boot(nil, ""); !errors.Is(err, ErrNoPlatform) {
		t.Fatalf("err = %v", err)
	}
}

// Overlapping RAM regions in the blob risk aliased physical memory and
// must abort the boot.
func TestBootBadMemoryFatal(t *testing.T) {
	b := fdt.NewBuilder()
	b.BeginNode("")
	b.AddPropertyStringList("compatible", []string{"riscv-virtio"})
	b.BeginNode("memory@80000000")
	b.AddPropertyString("device_type", "memory")
	var regs [32]byte
	binary.BigEndian.PutUint64(regs[0:], 0x8000_0000)
	binary.BigEndian.PutUint64(regs[8:], 0x1000_0000)
	binary.BigEndian.PutUint64(regs[16:], 0x8800_0000)
	binary.BigEndian.PutUint64(regs[24:], 0x1000_0000)
	b.AddPropertyBytes("reg", regs[:])
	b.EndNode()
	b.EndNode()

	sys := testSystem(t, nopMapper(arch.ArchRISCV64))
	if err := sys.Boot(b.Build(), ""); !errors.Is(err, fdt.ErrRegionOverlap) {
		t.Fatalf("err = %v", err)
	}
}
