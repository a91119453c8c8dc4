package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"raptorc/internal/config"
	"raptorc/internal/ledger"
	"raptorc/internal/manifest"
	"raptorc/internal/partition"
	"raptorc/internal/pipeline"
	"raptorc/internal/transfer"
	"raptorc/internal/validate"
	"raptorc/pkg/gtfs"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

const usage = `usage: raptorc <command> [flags]

commands:
  convert    compile a GTFS feed into RAPTOR binary files
  validate   verify a previously written output directory
  version    print version information

Run "raptorc <command> -h" for the flags of a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "convert":
		return runConvert(ctx, args[1:], stdout, stderr)
	case "validate":
		return runValidate(args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "raptorc %s (schema %d, %s %s/%s)\n",
			manifest.ToolVersion, manifest.SchemaVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return exitOK
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitUsage
	}
}

// setup loads configuration and parses the command flags. The returned
// exit code is meaningful only when cfg is nil.
func setup(name string, args []string, stderr io.Writer) (*config.Config, *flag.FlagSet, *slog.Logger, int) {
	cfg, err := config.Load(configPath(args))
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return nil, nil, nil, exitUsage
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.RegisterFlags(fs)
	fs.String("config", "", "YAML configuration file")
	verbose := fs.Bool("v", false, "verbose output (debug logging)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil, nil, exitOK
		}
		return nil, nil, nil, exitUsage
	}
	if *verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return nil, nil, nil, exitUsage
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)
	return cfg, fs, logger, exitOK
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// configPath finds -config before flags are parsed, since its content
// provides the flag defaults.
func configPath(args []string) string {
	for i, a := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func runConvert(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, fs, logger, code := setup("convert", args, stderr)
	if cfg == nil {
		return code
	}
	if fs.NArg() > 0 {
		cfg.Input = fs.Arg(0)
	}
	if cfg.Input == "" {
		fmt.Fprintln(stderr, "convert: -input is required")
		return exitUsage
	}

	logger.Info("starting raptorc convert",
		"version", manifest.ToolVersion,
		"input", cfg.Input,
		"output", cfg.Output,
		"split_by_periods", cfg.SplitByPeriods,
		"partition_mode", cfg.Partition.Mode,
		"transfers", cfg.Transfers.Enabled,
		"workers", cfg.Workers,
	)

	model, fingerprint, err := gtfs.NewReader(logger).Load(cfg.Input, cfg.CacheDir)
	if err != nil {
		logger.Error("failed to read feed", "error", err)
		return exitFatal
	}

	var recorder pipeline.Recorder
	if cfg.LedgerPath != "" {
		l, err := ledger.Open(ctx, cfg.LedgerPath, logger)
		if err != nil {
			logger.Error("failed to open ledger", "error", err)
			return exitFatal
		}
		defer l.Close()
		recorder = l
	}

	p := pipeline.New(logger, recorder)
	summary, err := p.Convert(ctx, model, pipeline.Options{
		FeedPath:       cfg.Input,
		Fingerprint:    fingerprint,
		Output:         cfg.Output,
		SplitByPeriods: cfg.SplitByPeriods,
		Workers:        cfg.Workers,
		PostCheck:      cfg.Validation.PostCheck,
		DebugJSON:      cfg.Debug.JSON,
		DebugProtobuf:  cfg.Debug.Protobuf,
		Partition: partition.Options{
			Mode:             partition.Mode(cfg.Partition.Mode),
			DensityThreshold: cfg.Partition.DensityThreshold,
		},
		Transfers: transfer.Options{
			Enabled:     cfg.Transfers.Enabled,
			WalkSpeed:   cfg.Transfers.WalkSpeed,
			MaxDistance: cfg.Transfers.MaxDistance,
		},
		Validation: validate.Options{
			ExtremeTransferSeconds: int32(cfg.Validation.ExtremeTransferSeconds),
		},
	})
	if err != nil {
		logger.Error("conversion failed", "error", err)
		return exitFatal
	}

	for _, c := range summary.Cohorts {
		switch {
		case c.Skipped:
			fmt.Fprintf(stdout, "%-20s skipped (no trips)\n", c.Cohort)
		case c.Err != nil:
			fmt.Fprintf(stdout, "%-20s FAILED %v\n", c.Cohort, c.Err)
		default:
			fmt.Fprintf(stdout, "%-20s %d routes, %d stops, %d trips, %d transfers -> %s\n",
				c.Cohort, c.Stats.Routes, c.Stats.Stops, c.Stats.Trips, c.Stats.Transfers, c.Dir)
		}
	}

	if err := summary.Err(); err != nil {
		return exitFatal
	}
	return exitOK
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	cfg, fs, logger, code := setup("validate", args, stderr)
	if cfg == nil {
		return code
	}
	root := cfg.Output
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}

	results, err := pipeline.New(logger, nil).ValidateOutput(root)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFatal
	}

	status := exitOK
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "%s: INVALID\n", r.Dir)
			for _, line := range strings.Split(r.Err.Error(), "\n") {
				fmt.Fprintf(stdout, "  %s\n", line)
			}
			status = exitFatal
			continue
		}
		fmt.Fprintf(stdout, "%s: OK (%d routes, %d stops, %d trips)\n",
			r.Dir, r.Manifest.Stats.Routes, r.Manifest.Stats.Stops, r.Manifest.Stats.Trips)
	}
	return status
}
