// Package platform holds the compile-time board descriptors and selects
// the one the kernel is booting on. Selection happens before the blob
// reader or the device model run, so a console target is always
// resolvable from this package alone.
package platform

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/devmap"
	"github.com/emberos/ember/internal/fdt"
	"github.com/emberos/ember/internal/spinlock"
)

// maxDescriptors bounds the registry; boards are a link-time list, not
// a dynamic collection.
const maxDescriptors = 8

var ErrRegistryFull = errors.New("platform: descriptor registry full")

// DetectInput is what a board's detection predicate may inspect. Blob
// is nil when no usable description blob exists.
type DetectInput struct {
	Blob      *fdt.Reader
	BoardName string
}

// Descriptor is one board known at build time.
type Descriptor struct {
	Name string
	Arch arch.Architecture

	// Detect reports whether this descriptor matches the booting
	// hardware. Predicates run in registration order; the first match
	// wins.
	Detect func(DetectInput) bool

	// DevmapTable is the static memory map installed before the
	// general allocator runs. Entries carry fixed virtual addresses.
	DevmapTable []devmap.Entry

	// Console identity, resolvable without any blob parsing.
	ConsoleUARTPhys   uint64
	ConsoleUARTSize   uint64
	ConsoleCompatible string
}

// Registry is the bounded, additive-only list of board descriptors.
type Registry struct {
	mu  spinlock.Lock
	log *slog.Logger

	descriptors []*Descriptor
	current     *Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{log: log}
}

// Register appends a descriptor. Descriptors are never removed.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return errors.New("platform: descriptor is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.descriptors) >= maxDescriptors {
		return fmt.Errorf("%w: %q", ErrRegistryFull, d.Name)
	}
	r.descriptors = append(r.descriptors, d)
	return nil
}

// SelectCurrent runs each detection predicate in registration order and
// commits to the first match. With no match it falls back to the first
// registered descriptor: a console target must always exist. Selection
// never fails; it returns nil only when nothing was registered.
func (r *Registry) SelectCurrent(in DetectInput) *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.descriptors) == 0 {
		return nil
	}

	for _, d := range r.descriptors {
		if d.Detect != nil && d.Detect(in) {
			r.current = d
			r.log.Info("platform selected", "platform", d.Name)
			return d
		}
	}

	r.current = r.descriptors[0]
	r.log.Warn("no platform matched, using default", "platform", r.current.Name)
	return r.current
}

// Current returns the selected descriptor. Before selection it returns
// the first registered descriptor so early console bring-up always has
// a target.
func (r *Registry) Current() *Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return r.current
	}
	if len(r.descriptors) > 0 {
		return r.descriptors[0]
	}
	return nil
}
