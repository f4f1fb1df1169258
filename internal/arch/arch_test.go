package arch

import (
	"errors"
	"testing"
)

func TestARM64EncodeAttrs(t *testing.T) {
	m := &ARM64{}

	dev, err := m.EncodeAttrs(AttrDevice)
	if err != nil {
		t.Fatal(err)
	}
	if dev&arm64PTEValid == 0 || dev&arm64PTEAF == 0 {
		t.Fatalf("device encoding missing valid/AF bits: %#x", dev)
	}
	if dev&arm64PTEPXN == 0 {
		t.Fatalf("device mappings must be PXN: %#x", dev)
	}

	wb, err := m.EncodeAttrs(AttrWriteBack)
	if err != nil {
		t.Fatal(err)
	}
	if wb>>2&0x7 != arm64AttrIdxWB {
		t.Fatalf("write-back attr index = %d", wb>>2&0x7)
	}

	if _, err := m.EncodeAttrs(AttrDevice | AttrWriteBack); !errors.Is(err, ErrBadAttrs) {
		t.Fatalf("combined attrs accepted: %v", err)
	}
}

func TestRISCV64EncodeAttrs(t *testing.T) {
	m := &RISCV64{}

	dev, err := m.EncodeAttrs(AttrDevice)
	if err != nil {
		t.Fatal(err)
	}
	if dev&rvPTEValid == 0 || dev&rvPTERead == 0 || dev&rvPTEWrite == 0 {
		t.Fatalf("device encoding missing VRW: %#x", dev)
	}
	if dev>>61&0x3 != 2 {
		t.Fatalf("device PBMT = %d, want IO", dev>>61&0x3)
	}

	// No write-through on riscv; degrades to non-cacheable.
	wt, err := m.EncodeAttrs(AttrWriteThrough)
	if err != nil {
		t.Fatal(err)
	}
	if wt>>61&0x3 != 1 {
		t.Fatalf("write-through PBMT = %d, want NC", wt>>61&0x3)
	}
}

func TestDeviceWindowsDisjointPerArch(t *testing.T) {
	aBase, aSize := (&ARM64{}).DeviceWindow()
	rBase, rSize := (&RISCV64{}).DeviceWindow()
	if aSize == 0 || rSize == 0 {
		t.Fatal("empty device window")
	}
	if aBase == rBase {
		t.Fatal("architectures share a device window base")
	}
}

func TestMapRequiresPrimitive(t *testing.T) {
	if err := (&ARM64{}).Map(0, 0, 0x1000, 0); err == nil {
		t.Fatal("map without primitive succeeded")
	}

	var got [4]uint64
	m := &ARM64{MapPage: func(virt, phys, size, encoded uint64) error {
		got = [4]uint64{virt, phys, size, encoded}
		return nil
	}}
	if err := m.Map(1, 2, 3, 4); err != nil {
		t.Fatal(err)
	}
	if got != [4]uint64{1, 2, 3, 4} {
		t.Fatalf("primitive saw %v", got)
	}
}

// fakeCSR models a single control register for the IRQ tests.
type fakeCSR struct {
	value uint64
}

func (f *fakeCSR) read() uint64   { return f.value }
func (f *fakeCSR) write(v uint64) { f.value = v }

func TestARM64InterruptControl(t *testing.T) {
	daif := &fakeCSR{value: arm64DAIFIRQ}
	isr := &fakeCSR{}
	acked := false
	c := &ARM64IRQ{
		ReadDAIF:  daif.read,
		WriteDAIF: daif.write,
		ReadISR:   isr.read,
		AckIRQ:    func() { acked = true },
	}

	c.Enable()
	if daif.value&arm64DAIFIRQ != 0 {
		t.Fatal("enable left IRQs masked")
	}

	state := c.Save()
	if daif.value&arm64DAIFIRQ == 0 {
		t.Fatal("save did not mask IRQs")
	}
	c.Restore(state)
	if daif.value&arm64DAIFIRQ != 0 {
		t.Fatal("restore did not recover enabled state")
	}

	if c.Pending() {
		t.Fatal("pending with clear ISR")
	}
	isr.value = arm64ISRIRQ
	if !c.Pending() {
		t.Fatal("pending IRQ not reported")
	}
	c.ClearPending()
	if !acked {
		t.Fatal("clear-pending did not ack")
	}
}

func TestRISCV64InterruptControl(t *testing.T) {
	sstatus := &fakeCSR{}
	sip := &fakeCSR{value: rvSipSEIP}
	var cleared uint64
	c := &RISCV64IRQ{
		ReadSstatus:  sstatus.read,
		WriteSstatus: sstatus.write,
		ReadSip:      sip.read,
		ClearSip:     func(bits uint64) { cleared = bits },
	}

	c.Enable()
	if sstatus.value&rvSstatusSIE == 0 {
		t.Fatal("enable did not set SIE")
	}
	c.Disable()
	if sstatus.value&rvSstatusSIE != 0 {
		t.Fatal("disable left SIE set")
	}

	if !c.Pending() {
		t.Fatal("pending SEIP not reported")
	}
	c.ClearPending()
	if cleared != rvSipSEIP {
		t.Fatalf("cleared %#x, want SEIP", cleared)
	}
}
