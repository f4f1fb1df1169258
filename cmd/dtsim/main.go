// Command dtsim boots the hardware-discovery pipeline against a
// synthetic board. A YAML board description is turned into a device
// tree blob, the full discover/classify/match/attach flow runs on the
// requested architecture with a recording page mapper, and the
// resulting device graph and memory map are reported.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/emberos/ember/internal/arch"
	"github.com/emberos/ember/internal/device"
	"github.com/emberos/ember/internal/drivers/intc"
	"github.com/emberos/ember/internal/drivers/timer"
	"github.com/emberos/ember/internal/drivers/uart"
	"github.com/emberos/ember/internal/fdt"
	"github.com/emberos/ember/internal/hwinit"
	"github.com/emberos/ember/internal/platform"
)

type boardConfig struct {
	Name   string `yaml:"name"`
	Arch   string `yaml:"arch"`
	Memory struct {
		Base uint64 `yaml:"base"`
		Size uint64 `yaml:"size"`
	} `yaml:"memory"`
	Devices []struct {
		Name       string   `yaml:"name"`
		Compatible []string `yaml:"compatible"`
		Reg        struct {
			Base uint64 `yaml:"base"`
			Size uint64 `yaml:"size"`
		} `yaml:"reg"`
		IRQ *uint32 `yaml:"irq"`
	} `yaml:"devices"`
}

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-v] <board.yaml>\n", os.Args[0])
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(flag.Arg(0), log); err != nil {
		fmt.Fprintln(os.Stderr, "dtsim:", err)
		os.Exit(1)
	}
}

func run(path string, log *slog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg boardConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	blob, err := synthesizeBlob(cfg)
	if err != nil {
		return err
	}

	mapper, err := newMapper(cfg.Arch, log)
	if err != nil {
		return err
	}

	sys := hwinit.NewSystem(hwinit.Config{Mapper: mapper, Log: log})

	if err := sys.Platform.Register(platform.QEMUVirtARM64(mapper)); err != nil {
		return err
	}
	if err := sys.Platform.Register(platform.QEMUVirtRISCV64(mapper)); err != nil {
		return err
	}
	for _, drv := range []device.Driver{
		uart.NewPL011(log), uart.NewNS16550(log),
		intc.NewGIC(log), intc.NewPLIC(log),
		timer.NewArchTimer(log), timer.NewCLINT(log),
	} {
		if err := sys.Devices.RegisterDriver(drv); err != nil {
			return err
		}
	}

	if err := sys.Boot(blob, cfg.Name); err != nil {
		return err
	}

	report(sys)
	return nil
}

// synthesizeBlob builds a minimal device tree for the configured board.
func synthesizeBlob(cfg boardConfig) ([]byte, error) {
	blob, err := fdt.Build(buildRoot(cfg))
	if err != nil {
		return nil, fmt.Errorf("synthesize blob: %w", err)
	}
	return blob, nil
}

func newMapper(name string, log *slog.Logger) (arch.PageMapper, error) {
	record := func(virt, phys, size, encoded uint64) error {
		log.Debug("map",
			"virt", fmt.Sprintf("%#x", virt), "phys", fmt.Sprintf("%#x", phys),
			"size", fmt.Sprintf("%#x", size), "attrs", fmt.Sprintf("%#x", encoded))
		return nil
	}

	switch arch.Architecture(name) {
	case arch.ArchARM64:
		return &arch.ARM64{MapPage: record}, nil
	case arch.ArchRISCV64:
		return &arch.RISCV64{MapPage: record}, nil
	default:
		return nil, fmt.Errorf("unsupported architecture %q", name)
	}
}

func report(sys *hwinit.System) {
	devs := sys.Devices.Devices()

	bar := progressbar.Default(int64(len(devs)), "verifying mappings")
	verified := 0
	for _, dev := range devs {
		if res, ok := dev.Resource(device.ResourceMMIO, 0); ok {
			if _, ok := sys.Devmap.DeviceVA(res.Start); ok {
				verified++
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	regions, total := sys.MemoryRegions()
	fmt.Printf("\nmemory: %d regions, %#x bytes total\n", len(regions), total)
	for _, r := range regions {
		fmt.Printf("  ram %#x-%#x\n", r.Base, r.Base+r.Size-1)
	}

	fmt.Printf("\ndevices (%d, %d with live mappings):\n", len(devs), verified)
	for _, dev := range devs {
		driver := "-"
		if dev.Driver() != nil {
			driver = dev.Driver().Name()
		}
		fmt.Printf("  %-24s %-20s %-10s driver=%-12s virt=%#x\n",
			dev.Name, dev.Type, dev.State, driver, dev.VirtBase)
	}

	fmt.Println("\nmemory map:")
	for _, e := range sys.Devmap.Entries() {
		fmt.Printf("  %-16s phys=%#012x virt=%#016x size=%#x\n",
			e.Name, e.Phys, e.Virt, e.Size)
	}
}
