package device

// Driver is the match/probe/attach protocol every driver implements.
// Driver registration is additive-only and registry lifetime equals
// kernel lifetime, so implementations must be safe to keep forever.
type Driver interface {
	// Name identifies the driver; names are unique in a registry.
	Name() string

	// Class is the device type this driver serves. Only devices of
	// this type are offered to Probe.
	Class() Type

	// Matches returns the ordered compatible-string predicates the
	// driver recognizes, most specific first.
	Matches() []string

	// Probe reports a confidence score for the device. Higher wins;
	// a negative score rejects the device.
	Probe(dev *Device) int

	// Attach binds the driver to the device. Resources are already
	// resolved and mapped when Attach runs.
	Attach(dev *Device) error

	// Priority orders probing among drivers of the same class,
	// highest first.
	Priority() int

	// StateSize is the size of the private per-device state blob
	// allocated when this driver wins the match.
	StateSize() int

	// Builtin distinguishes link-time drivers from loadable ones.
	Builtin() bool
}

// MatchScore scores a device's compatible list against ordered
// predicates: the earliest predicate that appears in the list wins, and
// earlier predicates score higher. It returns a negative score when
// nothing matches.
func MatchScore(dev *Device, preds []string) int {
	for i, p := range preds {
		if dev.HasCompatible(p) {
			return (len(preds) - i) * 10
		}
	}
	return -1
}
