package platform

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/fdt"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The console target must be resolvable from the registry alone, before
// any blob has been parsed or any selection has run.
func TestConsoleBeforeSelection(t *testing.T) {
	r := NewRegistry(testLog())
	if err := r.Register(QEMUVirtRISCV64(&arch.RISCV64{})); err != nil {
		t.Fatal(err)
	}

	cur := r.Current()
	if cur == nil {
		t.Fatal("no current platform")
	}
	if cur.ConsoleUARTPhys != 0x1000_0000 {
		t.Fatalf("console uart phys = %#x", cur.ConsoleUARTPhys)
	}
	if cur.ConsoleCompatible != "ns16550a" {
		t.Fatalf("console compatible = %q", cur.ConsoleCompatible)
	}
}

func TestSelectByBoardName(t *testing.T) {
	r := NewRegistry(testLog())
	if err := r.Register(QEMUVirtARM64(&arch.ARM64{})); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(QEMUVirtRISCV64(&arch.RISCV64{})); err != nil {
		t.Fatal(err)
	}

	d := r.SelectCurrent(DetectInput{BoardName: "qemu-virt-riscv64"})
	if d == nil || d.Name != "qemu-virt-riscv64" {
		t.Fatalf("selected %v", d)
	}
	if r.Current() != d {
		t.Fatal("selection not committed")
	}
}

func TestSelectByBlobCompatible(t *testing.T) {
	b := fdt.NewBuilder()
	b.BeginNode("")
	b.AddPropertyStringList("compatible", []string{"riscv-virtio"})
	b.EndNode()
	reader, err := fdt.NewReader(b.Build())
	if err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(testLog())
	if err := r.Register(QEMUVirtARM64(&arch.ARM64{})); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(QEMUVirtRISCV64(&arch.RISCV64{})); err != nil {
		t.Fatal(err)
	}

	d := r.SelectCurrent(DetectInput{Blob: reader})
	if d == nil || d.Arch != arch.ArchRISCV64 {
		t.Fatalf("selected %v", d)
	}
}

// With no predicate match selection falls back to the first registered
// descriptor rather than leaving the kernel without a console target.
func TestSelectFallback(t *testing.T) {
	r := NewRegistry(testLog())
	first := &Descriptor{Name: "first", Detect: func(DetectInput) bool { return false }}
	second := &Descriptor{Name: "second", Detect: func(DetectInput) bool { return false }}
	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(second); err != nil {
		t.Fatal(err)
	}

	if d := r.SelectCurrent(DetectInput{BoardName: "mystery"}); d != first {
		t.Fatalf("selected %v", d)
	}
}

func TestSelectFirstMatchWins(t *testing.T) {
	r := NewRegistry(testLog())
	yes := func(DetectInput) bool { return true }
	first := &Descriptor{Name: "first", Detect: yes}
	second := &Descriptor{Name: "second", Detect: yes}
	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(second); err != nil {
		t.Fatal(err)
	}

	if d := r.SelectCurrent(DetectInput{}); d != first {
		t.Fatalf("selected %v", d)
	}
}

func TestEmptyRegistry(t *testing.T) {
	r := NewRegistry(testLog())
	if r.Current() != nil {
		t.Fatal("empty registry has a current platform")
	}
	if r.SelectCurrent(DetectInput{}) != nil {
		t.Fatal("empty registry selected a platform")
	}
}

func TestRegistryBounded(t *testing.T) {
	r := NewRegistry(testLog())
	for i := 0; i < maxDescriptors; i++ {
		if err := r.Register(&Descriptor{Name: fmt.Sprintf("board%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Register(&Descriptor{Name: "overflow"}); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("err = %v", err)
	}
}

// Static table invariants: entries sit inside the device window, do not
// overlap, and include the console UART.
func TestBoardTables(t *testing.T) {
	boards := []*Descriptor{
		QEMUVirtARM64(&arch.ARM64{}),
		QEMUVirtRISCV64(&arch.RISCV64{}),
	}
	mappers := []interface {
		DeviceWindow() (uint64, uint64)
	}{
		&arch.ARM64{},
		&arch.RISCV64{},
	}

	for i, d := range boards {
		base, size := mappers[i].DeviceWindow()
		foundConsole := false
		for j, e := range d.DevmapTable {
			if e.Virt < base || e.Virt+e.Size > base+size {
				t.Errorf("%s: %q outside device window", d.Name, e.Name)
			}
			if e.Phys == d.ConsoleUARTPhys {
				foundConsole = true
			}
			for _, other := range d.DevmapTable[:j] {
				if e.Phys < other.Phys+other.Size && other.Phys < e.Phys+e.Size {
					t.Errorf("%s: %q and %q overlap physically", d.Name, e.Name, other.Name)
				}
				if e.Virt < other.Virt+other.Size && other.Virt < e.Virt+e.Size {
					t.Errorf("%s: %q and %q overlap virtually", d.Name, e.Name, other.Name)
				}
			}
		}
		if !foundConsole {
			t.Errorf("%s: console uart missing from static table", d.Name)
		}
	}
}
