package platform

import (
	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/devmap"
)

// QEMU virt board physical layouts.
const (
	qemuARMGICDistPhys = 0x0800_0000
	qemuARMGICDistSize = 0x0001_0000
	qemuARMGICCPUPhys  = 0x0801_0000
	qemuARMGICCPUSize  = 0x0001_0000
	qemuARMUARTPhys    = 0x0900_0000
	qemuARMUARTSize    = 0x0000_1000

	qemuRVCLINTPhys = 0x0200_0000
	qemuRVCLINTSize = 0x0001_0000
	qemuRVPLICPhys  = 0x0c00_0000
	qemuRVPLICSize  = 0x0060_0000
	qemuRVUARTPhys  = 0x1000_0000
	qemuRVUARTSize  = 0x0000_1000
)

// QEMUVirtARM64 describes the QEMU virt machine on arm64. The static
// table places the console UART and the GIC at the bottom of the
// mapper's device window so they are reachable before the runtime
// allocator is live.
func QEMUVirtARM64(m arch.PageMapper) *Descriptor {
	base, _ := m.DeviceWindow()
	page := m.PageSize()

	return &Descriptor{
		Name: "qemu-virt-arm64",
		Arch: arch.ArchARM64,
		Detect: func(in DetectInput) bool {
			if in.BoardName == "qemu-virt-arm64" {
				return true
			}
			return in.Blob != nil && in.Blob.Root().HasCompatible("linux,dummy-virt")
		},
		DevmapTable: []devmap.Entry{
			{Name: "uart0", Phys: qemuARMUARTPhys, Virt: base, Size: qemuARMUARTSize, Attrs: arch.AttrDevice},
			{Name: "gic-dist", Phys: qemuARMGICDistPhys, Virt: base + alignUp(qemuARMUARTSize, page), Size: qemuARMGICDistSize, Attrs: arch.AttrDevice},
			{Name: "gic-cpu", Phys: qemuARMGICCPUPhys, Virt: base + alignUp(qemuARMUARTSize, page) + qemuARMGICDistSize, Size: qemuARMGICCPUSize, Attrs: arch.AttrDevice},
		},
		ConsoleUARTPhys:   qemuARMUARTPhys,
		ConsoleUARTSize:   qemuARMUARTSize,
		ConsoleCompatible: "arm,pl011",
	}
}

// QEMUVirtRISCV64 describes the QEMU virt machine on riscv64.
func QEMUVirtRISCV64(m arch.PageMapper) *Descriptor {
	base, _ := m.DeviceWindow()
	page := m.PageSize()

	return &Descriptor{
		Name: "qemu-virt-riscv64",
		Arch: arch.ArchRISCV64,
		Detect: func(in DetectInput) bool {
			if in.BoardName == "qemu-virt-riscv64" {
				return true
			}
			return in.Blob != nil && in.Blob.Root().HasCompatible("riscv-virtio")
		},
		DevmapTable: []devmap.Entry{
			{Name: "uart0", Phys: qemuRVUARTPhys, Virt: base, Size: qemuRVUARTSize, Attrs: arch.AttrDevice},
			{Name: "clint", Phys: qemuRVCLINTPhys, Virt: base + alignUp(qemuRVUARTSize, page), Size: qemuRVCLINTSize, Attrs: arch.AttrDevice},
			{Name: "plic", Phys: qemuRVPLICPhys, Virt: base + alignUp(qemuRVUARTSize, page) + qemuRVCLINTSize, Size: qemuRVPLICSize, Attrs: arch.AttrDevice},
		},
		ConsoleUARTPhys:   qemuRVUARTPhys,
		ConsoleUARTSize:   qemuRVUARTSize,
		ConsoleCompatible: "ns16550a",
	}
}

func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}
