// Program spectrasim simulates X-ray emission spectra from a rate database
// and, given an experimental spectrum, fits offsets, resolution and shake
// amplitudes to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"spectrasim/config"
	"spectrasim/stats"

	"golang.org/x/term"
)

const envConfigPath = "SPECTRASIM_CONFIG"

// cliOptions are the command-line overrides. Empty values leave the
// configuration untouched.
type cliOptions struct {
	configPath string
	dbPath     string
	expPath    string
	effPath    string
	fit        bool
	backend    string
	outPath    string
	sticksPath string
	selection  string
	logFile    string
	list       bool
	check      bool
}

// Purpose: Parse command-line flags.
// Key aspects: Uses its own FlagSet so tests can parse arbitrary argument
// lists.
// Upstream: main.
// Downstream: flag.FlagSet.
func parseFlags(args []string, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	fs := flag.NewFlagSet("spectrasim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file (default $"+envConfigPath+")")
	fs.StringVar(&opts.dbPath, "db", "", "rate database path")
	fs.StringVar(&opts.expPath, "exp", "", "experimental spectrum (energy, intensity[, sigma])")
	fs.StringVar(&opts.effPath, "eff", "", "detector efficiency curve (energy, efficiency)")
	fs.BoolVar(&opts.fit, "fit", false, "fit the simulation to the experimental spectrum")
	fs.StringVar(&opts.backend, "backend", "", "fit backend: lm or migrad")
	fs.StringVar(&opts.outPath, "out", "", "write the simulated spectrum as CSV")
	fs.StringVar(&opts.sticksPath, "sticks", "", "write the stick spectrum as CSV")
	fs.StringVar(&opts.selection, "select", "", "comma-separated transition names")
	fs.StringVar(&opts.logFile, "log-file", "", "append log output to this file")
	fs.BoolVar(&opts.list, "list", false, "list the transitions in the rate database and exit")
	fs.BoolVar(&opts.check, "check", false, "check the rate database and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// Purpose: Load the configuration and apply command-line overrides.
// Key aspects: The -config flag wins over the environment; no path means
// built-in defaults. Overrides are validated together with the file, and
// options missing an experiment come back disabled in cfg.Warnings.
// Upstream: main.
// Downstream: config.Load.
func loadConfig(opts cliOptions) (config.Config, string, error) {
	path := strings.TrimSpace(opts.configPath)
	source := "-config"
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfigPath))
		source = envConfigPath
	}
	if path == "" {
		source = "defaults"
	}
	cfg, err := config.Load(path, func(c *config.Config) {
		applyOverrides(c, opts)
	})
	if err != nil {
		return cfg, source, err
	}
	if path != "" {
		source = path
	}
	return cfg, source, nil
}

func applyOverrides(cfg *config.Config, opts cliOptions) {
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if opts.expPath != "" {
		cfg.Experiment.Path = opts.expPath
	}
	if opts.effPath != "" {
		cfg.Experiment.Efficiency = opts.effPath
	}
	if opts.fit {
		cfg.Fit.Enabled = true
	}
	if opts.backend != "" {
		cfg.Fit.Backend = strings.ToLower(strings.TrimSpace(opts.backend))
	}
	if opts.outPath != "" {
		cfg.Output.Path = opts.outPath
	}
	if opts.sticksPath != "" {
		cfg.Output.Sticks = opts.sticksPath
	}
	if opts.logFile != "" {
		cfg.Logging.File = opts.logFile
	}
	if opts.selection != "" {
		var names []string
		for _, name := range strings.Split(opts.selection, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		cfg.Spectrum.Transitions = names
		cfg.Spectrum.AugerTransitions = nil
		cfg.Spectrum.WithinExperiment = false
	}
}

// Purpose: Report whether stderr is an interactive terminal.
// Key aspects: Uses term.IsTerminal on the stderr fd.
// Upstream: main (status line enablement).
// Downstream: term.IsTerminal.
func isStderrTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Purpose: Program entrypoint.
// Key aspects: Loads config, wires logging, runs one simulation (and fit)
// and exits non-zero on failure. Ctrl-C cancels a running fit.
// Upstream: OS process start.
// Downstream: loadConfig, setupLogging, run.
func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	log.SetFlags(log.LstdFlags | log.LUTC)

	cfg, source, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	status := newStatusLine(os.Stderr, isStderrTTY())
	fanout, err := setupLogging(cfg.Logging, os.Stderr, status)
	log.SetOutput(fanout)
	if err != nil {
		log.Printf("Logging: file sink disabled: %v", err)
	}
	log.Printf("Loaded configuration from %s", source)
	tracker := stats.NewTracker()
	for _, w := range cfg.Warnings {
		log.Printf("Config: %s", w)
	}
	tracker.AddWarnings(len(cfg.Warnings))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	r := &runner{
		cfg:     cfg,
		opts:    opts,
		stdout:  os.Stdout,
		status:  status,
		tracker: tracker,
		logf:    log.Printf,
	}
	runErr := r.run(ctx)
	stop()
	status.Clear()
	for _, line := range tracker.SnapshotLines() {
		log.Printf("Stats: %s", line)
	}
	if runErr != nil {
		log.Printf("Error: %v", runErr)
	}
	_ = fanout.Close()
	if runErr != nil {
		os.Exit(1)
	}
}
