package uart

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/emberos/ember/internal/device"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbePrefersExactCompatible(t *testing.T) {
	d := NewNS16550(testLog())

	exact := &device.Device{Compatible: []string{"ns16550a"}}
	generic := &device.Device{Compatible: []string{"ns16550"}}
	if d.Probe(exact) <= d.Probe(generic) {
		t.Fatalf("exact=%d generic=%d", d.Probe(exact), d.Probe(generic))
	}
	if d.Probe(&device.Device{Compatible: []string{"arm,pl011"}}) >= 0 {
		t.Fatal("foreign uart accepted")
	}
}

func TestAttachRequiresMapping(t *testing.T) {
	d := NewPL011(testLog())

	noMMIO := &device.Device{Name: "bare"}
	if err := d.Attach(noMMIO); err == nil {
		t.Fatal("attach without register range succeeded")
	}

	unmapped := &device.Device{
		Name:      "uart0",
		Resources: []device.Resource{{Kind: device.ResourceMMIO, Start: 0x0900_0000, Size: 0x1000}},
	}
	if err := d.Attach(unmapped); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("err = %v, want ErrNotMapped", err)
	}
}

func TestAttachRecordsState(t *testing.T) {
	// Drive the full match path so the registry allocates the state
	// blob the way it would at boot.
	r := device.NewRegistry("arm64", testLog())
	drv := NewPL011(testLog())
	if err := r.RegisterDriver(drv); err != nil {
		t.Fatal(err)
	}

	dev := &device.Device{
		Name: "uart0",
		Type: device.TypeUART,
		Compatible: []string{
			"arm,pl011", "arm,primecell",
		},
		Resources: []device.Resource{
			{Kind: device.ResourceMMIO, Start: 0x0900_0000, Size: 0x1000},
			{Kind: device.ResourceIRQ, Start: 33},
		},
		VirtBase: 0xFFFF_8000_1000_0000,
	}
	r.Match(dev)
	if err := r.Attach(dev); err != nil {
		t.Fatal(err)
	}

	state := dev.DriverData()
	if got := binary.LittleEndian.Uint64(state[stateBaseOff:]); got != dev.VirtBase {
		t.Fatalf("state base = %#x", got)
	}
	if got := binary.LittleEndian.Uint64(state[stateIRQOff:]); got != 33 {
		t.Fatalf("state irq = %d", got)
	}
}
