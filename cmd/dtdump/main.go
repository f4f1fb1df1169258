// Command dtdump parses a device tree blob and prints its node tree.
// Output is colored when stdout is a terminal, and can be emitted as
// YAML for machine consumption.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/emberos/ember/internal/fdt"
)

const (
	sgrNode  = "\x1b[1;36m"
	sgrProp  = "\x1b[33m"
	sgrValue = "\x1b[90m"
	sgrReset = "\x1b[0m"
)

func main() {
	asYAML := flag.Bool("yaml", false, "emit the tree as YAML")
	noColor := flag.Bool("no-color", false, "disable ANSI colors")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-yaml] [-no-color] <blob.dtb>\n", os.Args[0])
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *asYAML, *noColor); err != nil {
		fmt.Fprintln(os.Stderr, "dtdump:", err)
		os.Exit(1)
	}
}

func run(path string, asYAML, noColor bool) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	reader, err := fdt.NewReader(blob)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if asYAML {
		out, err := yaml.Marshal(reader.Root().Tree())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s// total size %d bytes, boot cpu %d%s\n",
		sgrValue, reader.TotalSize(), reader.BootCPU(), sgrReset)
	dumpNode(&sb, reader.Root().Tree(), 0)

	out := sb.String()
	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		out = ansi.Strip(out)
	}
	_, err = os.Stdout.WriteString(out)
	return err
}

func dumpNode(sb *strings.Builder, n fdt.Node, depth int) {
	indent := strings.Repeat("    ", depth)

	name := n.Name
	if name == "" {
		name = "/"
	}
	fmt.Fprintf(sb, "%s%s%s%s {\n", indent, sgrNode, name, sgrReset)

	for _, pname := range sortedProps(n) {
		fmt.Fprintf(sb, "%s    %s%s%s = %s%s%s;\n",
			indent, sgrProp, pname, sgrReset,
			sgrValue, formatProperty(n.Properties[pname]), sgrReset)
	}
	for _, child := range n.Children {
		dumpNode(sb, child, depth+1)
	}

	fmt.Fprintf(sb, "%s};\n", indent)
}

func sortedProps(n fdt.Node) []string {
	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func formatProperty(p fdt.Property) string {
	switch p.Kind() {
	case "strings":
		quoted := make([]string, len(p.Strings))
		for i, s := range p.Strings {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		return strings.Join(quoted, ", ")
	case "u32":
		parts := make([]string, len(p.U32))
		for i, v := range p.U32 {
			parts[i] = fmt.Sprintf("%#x", v)
		}
		return "<" + strings.Join(parts, " ") + ">"
	case "u64":
		parts := make([]string, len(p.U64))
		for i, v := range p.U64 {
			parts[i] = fmt.Sprintf("%#x", v)
		}
		return "<" + strings.Join(parts, " ") + ">"
	case "bytes":
		return fmt.Sprintf("[% x]", p.Bytes)
	default:
		return "true"
	}
}
