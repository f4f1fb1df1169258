package main

import (
	"fmt"

	"github.com/emberos/ember/internal/fdt"
)

// buildRoot converts the board configuration into a device tree. The
// board name becomes the root compatible so platform detection can key
// off it.
func buildRoot(cfg boardConfig) fdt.Node {
	root := fdt.Node{
		Name: "",
		Properties: map[string]fdt.Property{
			"#address-cells": {U32: []uint32{2}},
			"#size-cells":    {U32: []uint32{2}},
			"compatible":     {Strings: []string{cfg.Name}},
			"model":          {Strings: []string{cfg.Name}},
		},
	}

	if cfg.Memory.Size > 0 {
		root.Children = append(root.Children, fdt.Node{
			Name: fmt.Sprintf("memory@%x", cfg.Memory.Base),
			Properties: map[string]fdt.Property{
				"device_type": {Strings: []string{"memory"}},
				"reg":         {U64: []uint64{cfg.Memory.Base, cfg.Memory.Size}},
			},
		})
	}

	for _, d := range cfg.Devices {
		node := fdt.Node{
			Name: d.Name,
			Properties: map[string]fdt.Property{
				"compatible": {Strings: d.Compatible},
			},
		}
		if d.Reg.Size > 0 {
			node.Properties["reg"] = fdt.Property{U64: []uint64{d.Reg.Base, d.Reg.Size}}
		}
		if d.IRQ != nil {
			node.Properties["interrupts"] = fdt.Property{U32: []uint32{*d.IRQ}}
		}
		root.Children = append(root.Children, node)
	}

	return root
}
