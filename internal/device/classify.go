package device

import (
	"strings"

	"github.com/emberos/ember/internal/arch"
)

// classRule maps a compatible-string fragment to a device type. Rules
// are evaluated in order; the first case-insensitive match wins.
type classRule struct {
	substr string
	typ    Type
}

// Interrupt-controller rules come before CPU rules: per-CPU interrupt
// controllers such as "riscv,cpu-intc" would otherwise classify as CPU.
var classRulesARM64 = []classRule{
	{"pl011", TypeUART},
	{"ns16550", TypeUART},
	{"uart", TypeUART},
	{"gic", TypeInterruptController},
	{"interrupt-controller", TypeInterruptController},
	{"armv8-timer", TypeTimer},
	{"timer", TypeTimer},
	{"memory-controller", TypeMemoryController},
	{"cortex", TypeCPU},
	{"cpu", TypeCPU},
}

var classRulesRISCV64 = []classRule{
	{"ns16550", TypeUART},
	{"sifive,uart", TypeUART},
	{"uart", TypeUART},
	{"plic", TypeInterruptController},
	{"cpu-intc", TypeInterruptController},
	{"interrupt-controller", TypeInterruptController},
	{"clint", TypeTimer},
	{"timer", TypeTimer},
	{"memory-controller", TypeMemoryController},
	{"riscv", TypeCPU},
	{"cpu", TypeCPU},
}

func classTable(a arch.Architecture) []classRule {
	switch a {
	case arch.ArchARM64:
		return classRulesARM64
	case arch.ArchRISCV64:
		return classRulesRISCV64
	default:
		return nil
	}
}

// classify assigns a type from the architecture's rule table, checking
// each device compatible string and finally the node name. Devices
// matching nothing stay Unknown.
func classify(table []classRule, dev *Device) Type {
	for _, rule := range table {
		for _, c := range dev.Compatible {
			if containsFold(c, rule.substr) {
				return rule.typ
			}
		}
		if containsFold(dev.Name, rule.substr) {
			return rule.typ
		}
	}
	return TypeUnknown
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
