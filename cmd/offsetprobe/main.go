// offsetprobe attaches to Rekordbox, resolves every pointer chain of one
// offsets version and prints what it finds, to diagnose stale offsets.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/famish99/os2lbridge/internal/config"
	"github.com/famish99/os2lbridge/internal/logging"
	"github.com/famish99/os2lbridge/internal/memory"
	"github.com/famish99/os2lbridge/internal/offsets"
	"github.com/famish99/os2lbridge/internal/sampler"
)

var (
	configPath    = flag.String("config", config.DefaultPath(), "Path to configuration file")
	targetVersion = flag.String("version", "", "Rekordbox version to probe (default: newest in the offsets file)")
	offsetsFile   = flag.String("offsets", "", "Offsets file (default from config)")
	debug         = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := "warn"
	if *debug {
		level = "debug"
	}
	logging.Init(level)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fatal("failed to load config", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fatal("failed to apply environment", err)
	}
	if *offsetsFile != "" {
		cfg.Offsets.File = *offsetsFile
	}
	if *targetVersion != "" {
		cfg.Offsets.Version = *targetVersion
	}

	tables, err := offsets.LoadFile(cfg.Offsets.File)
	if err != nil {
		fatal("failed to load offsets", err)
	}
	table, err := tables.Select(cfg.Offsets.Version)
	if err != nil {
		fatal("failed to select version", err)
	}

	proc, err := memory.Attach(cfg.Process.Name, cfg.Process.Module)
	if err != nil {
		fatal("failed to attach", err)
	}
	defer proc.Close()

	fmt.Printf("Process %s (pid %d), module base %#x, offsets %s\n\n", proc.Name, proc.PID, proc.Base, table.Version)

	if failed := probe(os.Stdout, proc, proc.Base, table); failed > 0 {
		fmt.Printf("\n%d of %d chains failed to resolve\n", failed, len(offsets.FieldOrder))
		os.Exit(1)
	}

	reader, err := sampler.NewReader(proc, proc.Base, table, sampler.Options{})
	if err != nil {
		fatal("failed to build reader", err)
	}
	snap, err := reader.Sample()
	if err != nil {
		fatal("failed to sample", err)
	}
	fmt.Printf("\nSnapshot: %+v\n", snap)

	if token, err := reader.Token(); err != nil {
		fmt.Printf("Token: %v\n", err)
	} else {
		fmt.Printf("Token: %d characters\n", len(token))
	}
}

// probe resolves every chain independently so one broken chain does not
// hide the others. It returns the number of chains that failed.
func probe(out io.Writer, src memory.Source, base uintptr, table *offsets.Table) int {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "FIELD\tCHAIN\tADDRESS\tRAW")
	failed := 0
	for _, f := range offsets.FieldOrder {
		chain, err := table.Chain(f)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t%v\t\n", f, err)
			failed++
			continue
		}
		addr, err := memory.Resolve(src, base, chain)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t%v\t\n", f, chain, err)
			failed++
			continue
		}
		raw, err := memory.ReadBytes(src, addr, 8)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t%#x\t%v\n", f, chain, addr, err)
			failed++
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%#x\t% x\n", f, chain, addr, raw)
	}
	return failed
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
