// Package device builds the device graph and binds devices to drivers.
// Devices are discovered from the description blob or synthesized from
// platform statics, classified by type, then matched against the driver
// registry through the probe/attach protocol.
package device

import "fmt"

// Type classifies a device. The set is closed; anything outside it is
// Unknown.
type Type int

const (
	TypeUnknown Type = iota
	TypeCPU
	TypeUART
	TypeInterruptController
	TypeTimer
	TypeMemoryController
)

func (t Type) String() string {
	switch t {
	case TypeCPU:
		return "cpu"
	case TypeUART:
		return "uart"
	case TypeInterruptController:
		return "interrupt-controller"
	case TypeTimer:
		return "timer"
	case TypeMemoryController:
		return "memory-controller"
	default:
		return "unknown"
	}
}

// State tracks a device through the binding pipeline.
type State int

const (
	StateDiscovered State = iota
	StateClassified
	StateMatching
	StateAttached
	StateUnmatched
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateClassified:
		return "classified"
	case StateMatching:
		return "matching"
	case StateAttached:
		return "attached"
	case StateUnmatched:
		return "unmatched"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ResourceKind distinguishes the two resource types a device can own.
type ResourceKind int

const (
	ResourceMMIO ResourceKind = iota
	ResourceIRQ
)

// Resource is a typed bounded range owned by a device. For IRQ
// resources Start is the line number and Size is zero. Resources are
// immutable after graph construction.
type Resource struct {
	Kind  ResourceKind
	Start uint64
	Size  uint64
}

// Device is a long-lived kernel object: exactly one per physical unit,
// created during graph construction and destroyed only at shutdown.
type Device struct {
	Name       string
	Compatible []string
	Type       Type
	Resources  []Resource
	State      State

	// VirtBase is the kernel-virtual base of the first MMIO resource,
	// filled in by the mapping phase before attach runs.
	VirtBase uint64

	driver     Driver
	driverData []byte
}

// Resource returns the index-th resource of the given kind.
func (d *Device) Resource(kind ResourceKind, index int) (Resource, bool) {
	for _, r := range d.Resources {
		if r.Kind != kind {
			continue
		}
		if index == 0 {
			return r, true
		}
		index--
	}
	return Resource{}, false
}

// Driver returns the bound driver, or nil while unbound.
func (d *Device) Driver() Driver { return d.driver }

// DriverData returns the private driver-state blob. Its size was fixed
// by the winning driver at registration.
func (d *Device) DriverData() []byte { return d.driverData }

// HasCompatible reports whether the device's identity list contains the
// exact entry s.
func (d *Device) HasCompatible(s string) bool {
	for _, c := range d.Compatible {
		if c == s {
			return true
		}
	}
	return false
}
