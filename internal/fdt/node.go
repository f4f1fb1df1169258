package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Property describes a device-tree property in a serialization-friendly
// form. Exactly one of the typed fields should be populated.
type Property struct {
	Strings []string `yaml:"strings,omitempty"`
	U32     []uint32 `yaml:"u32,omitempty"`
	U64     []uint64 `yaml:"u64,omitempty"`
	Bytes   []byte   `yaml:"bytes,omitempty"`
	Flag    bool     `yaml:"flag,omitempty"`
}

// Kind returns the name of the populated field, or an empty string.
func (p Property) Kind() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Bytes) > 0:
		return "bytes"
	case p.Flag:
		return "flag"
	default:
		return ""
	}
}

// DefinedCount reports how many distinct fields are populated.
func (p Property) DefinedCount() int {
	count := 0
	if len(p.Strings) > 0 {
		count++
	}
	if len(p.U32) > 0 {
		count++
	}
	if len(p.U64) > 0 {
		count++
	}
	if len(p.Bytes) > 0 {
		count++
	}
	if p.Flag {
		count++
	}
	return count
}

// Node describes a device-tree node using serialization-friendly
// structures, detached from any blob.
type Node struct {
	Name       string              `yaml:"name"`
	Properties map[string]Property `yaml:"properties,omitempty"`
	Children   []Node              `yaml:"children,omitempty"`
}

// Build serializes a node tree into a blob.
func Build(root Node) ([]byte, error) {
	b := NewBuilder()
	if err := emitNode(b, root); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func emitNode(b *Builder, n Node) error {
	b.BeginNode(n.Name)

	if len(n.Properties) > 0 {
		keys := make([]string, 0, len(n.Properties))
		for name := range n.Properties {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		for _, name := range keys {
			if err := emitProperty(b, name, n.Properties[name]); err != nil {
				return err
			}
		}
	}

	for _, child := range n.Children {
		if err := emitNode(b, child); err != nil {
			return err
		}
	}

	b.EndNode()
	return nil
}

func emitProperty(b *Builder, name string, prop Property) error {
	if prop.DefinedCount() == 0 {
		return fmt.Errorf("fdt: property %q has no values", name)
	}
	if prop.DefinedCount() > 1 {
		return fmt.Errorf("fdt: property %q has multiple value kinds", name)
	}
	switch prop.Kind() {
	case "strings":
		b.AddPropertyStringList(name, prop.Strings)
	case "u32":
		b.AddPropertyU32Array(name, prop.U32)
	case "u64":
		data := make([]byte, 0, len(prop.U64)*8)
		for _, v := range prop.U64 {
			var tmp [8]byte
			binary.BigEndian.PutUint64(tmp[:], v)
			data = append(data, tmp[:]...)
		}
		b.AddPropertyBytes(name, data)
	case "bytes":
		b.AddPropertyBytes(name, prop.Bytes)
	case "flag":
		b.AddPropertyEmpty(name)
	}
	return nil
}

// Tree materializes the node and its descendants into a detached Node
// tree. Property payloads are decoded heuristically: printable
// NUL-terminated payloads become strings, word-multiple payloads become
// u32 arrays, anything else stays raw bytes.
func (n NodeRef) Tree() Node {
	if !n.ok {
		return Node{}
	}

	out := Node{Name: string(n.Name())}

	n.eachProperty(func(name string, value []byte) {
		if out.Properties == nil {
			out.Properties = make(map[string]Property)
		}
		out.Properties[name] = decodeProperty(value)
	})

	for c := n.FirstChild(); c.Valid(); c = c.NextSibling() {
		out.Children = append(out.Children, c.Tree())
	}

	return out
}

// eachProperty visits every property of the node in blob order.
func (n NodeRef) eachProperty(fn func(name string, value []byte)) {
	if !n.ok {
		return
	}
	off := n.r.skipNodeHeader(n.off)
	for {
		off = n.r.skipNops(off)
		if n.r.structU32(off) != tokenProp {
			return
		}
		plen := n.r.structU32(off + 4)
		nameOff := n.r.structU32(off + 8)
		fn(string(n.r.stringsString(nameOff)), n.r.structBytes(off+12, plen))
		off = align4(off + 12 + plen)
	}
}

func decodeProperty(value []byte) Property {
	if len(value) == 0 {
		return Property{Flag: true}
	}
	if strs, ok := decodeStrings(value); ok {
		return Property{Strings: strs}
	}
	if len(value)%4 == 0 {
		u32s := make([]uint32, len(value)/4)
		for i := range u32s {
			u32s[i] = binary.BigEndian.Uint32(value[i*4:])
		}
		return Property{U32: u32s}
	}
	return Property{Bytes: append([]byte(nil), value...)}
}

func decodeStrings(value []byte) ([]string, bool) {
	if value[len(value)-1] != 0 {
		return nil, false
	}
	var out []string
	for _, part := range bytes.Split(value[:len(value)-1], []byte{0}) {
		if len(part) == 0 {
			return nil, false
		}
		for _, c := range part {
			if c < 0x20 || c > 0x7e {
				return nil, false
			}
		}
		out = append(out, string(part))
	}
	return out, len(out) > 0
}
