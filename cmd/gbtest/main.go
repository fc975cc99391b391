// Command gbtest runs a declarative test plan against a Game Boy ROM
// image: load the ROM, load the TOML plan (and optional RGBDS symbol
// file), execute every case, print a pass/fail summary, and write a
// memory dump for each failing case when --dump-dir is set.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/arlojames/gbtest/internal/bus"
	"github.com/arlojames/gbtest/internal/cpu"
	"github.com/arlojames/gbtest/internal/driver"
	"github.com/arlojames/gbtest/internal/plan"
	"github.com/arlojames/gbtest/internal/planfile"
	"github.com/arlojames/gbtest/internal/romheader"
	"github.com/arlojames/gbtest/internal/snapshot"
)

var cli struct {
	ROM     string `arg:"" help:"path to the ROM image under test (.gb)"`
	Plan    string `arg:"" help:"path to the TOML test plan"`
	Symbols string `help:"optional RGBDS .sym file resolving label names to addresses"`
	DumpDir string `help:"directory to write a .dump file for every failing case"`
	Trace   bool   `help:"log every breakpoint hit (LD B,B / LD D,D) at info level"`
	Verbose bool   `help:"enable debug-level logging"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("gbtest"),
		kong.Description("Declarative unit-testing harness for Game Boy ROM binaries."),
		kong.UsageOnError(),
	)

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cli.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	romBytes, err := os.ReadFile(cli.ROM)
	if err != nil {
		log.WithError(err).Fatal("reading ROM")
	}

	if h, err := romheader.Parse(romBytes); err == nil {
		log.WithFields(logrus.Fields{
			"title":         h.Title,
			"rom_size":      h.ROMSizeBytes,
			"checksum_ok":   romheader.ChecksumOK(romBytes),
			"has_boot_logo": romheader.HasLogo(romBytes),
		}).Info("loaded ROM")
	} else {
		log.WithError(err).Debug("ROM header not parsed; continuing with the raw image")
	}

	var syms planfile.Symbols
	if cli.Symbols != "" {
		syms, err = planfile.LoadSymbols(cli.Symbols)
		if err != nil {
			log.WithError(err).Fatal("loading symbol file")
		}
	}

	p, err := planfile.Load(cli.Plan, syms)
	if err != nil {
		log.WithError(err).Fatal("loading test plan")
	}
	p.ROM = romBytes

	exitCode := run(p, log)
	kctx.Exit(exitCode)
}

func run(p plan.TestPlan, log *logrus.Logger) int {
	onTrace := func(tr driver.Trace) {
		log.WithFields(logrus.Fields{
			"test": tr.TestName,
			"pc":   fmt.Sprintf("0x%04X", tr.PC),
			"kind": traceKindString(tr.Which),
		}).Info("breakpoint")
	}
	if !cli.Trace {
		onTrace = nil
	}

	finalBuses := make(map[string]*bus.Bus, len(p.Cases))
	onFinish := func(tc plan.TestCase, b *bus.Bus) { finalBuses[tc.Name] = b }

	outcomes := driver.Run(p, log, onTrace, onFinish)

	failed := 0
	for _, o := range outcomes {
		fields := logrus.Fields{"test": o.Name, "cycles": o.Cycles}
		if o.Result == plan.Pass {
			log.WithFields(fields).Info("PASS")
			continue
		}
		failed++
		fields["reason"] = o.Reason.String()
		log.WithFields(fields).Warn("FAIL")

		if cli.DumpDir != "" {
			if err := writeDump(o.Name, finalBuses[o.Name]); err != nil {
				log.WithError(err).WithField("test", o.Name).Error("writing memory dump")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"total":  len(outcomes),
		"failed": failed,
		"passed": len(outcomes) - failed,
	}).Info("run complete")

	if failed > 0 {
		return 1
	}
	return 0
}

func writeDump(name string, b *bus.Bus) error {
	if b == nil {
		return fmt.Errorf("no final bus state captured for %q", name)
	}
	if err := os.MkdirAll(cli.DumpDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(cli.DumpDir, name+".dump"))
	if err != nil {
		return err
	}
	defer f.Close()
	return snapshot.Write(f, b)
}

func traceKindString(k cpu.Kind) string {
	switch k {
	case cpu.BreakpointB:
		return "LD B,B"
	case cpu.BreakpointD:
		return "LD D,D"
	default:
		return "unknown"
	}
}
