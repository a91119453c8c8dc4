// Package pipeline drives a conversion: global validation, partitioning,
// shared transfer generation and one isolated build per cohort.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"raptorc/internal/domain"
	"raptorc/internal/export"
	"raptorc/internal/fault"
	"raptorc/internal/issues"
	"raptorc/internal/ledger"
	"raptorc/internal/manifest"
	"raptorc/internal/network"
	"raptorc/internal/partition"
	"raptorc/internal/transfer"
	"raptorc/internal/validate"
	"raptorc/pkg/raptorbin"
)

type Options struct {
	FeedPath       string
	Fingerprint    string
	Output         string
	SplitByPeriods bool
	Workers        int
	PostCheck      bool
	DebugJSON      bool
	DebugProtobuf  bool

	Partition  partition.Options
	Transfers  transfer.Options
	Validation validate.Options
}

// Recorder persists cohort outcomes. *ledger.Ledger satisfies it.
type Recorder interface {
	Record(ctx context.Context, b ledger.Build) error
}

// CohortResult is the outcome of one cohort build.
type CohortResult struct {
	Cohort   string
	Dir      string
	BuildID  string
	Stats    network.Stats
	Bytes    int64
	Outputs  map[string]string
	Warnings map[string]int
	Skipped  bool
	Err      error
}

type Summary struct {
	RunID   string
	Cohorts []CohortResult
	Report  *issues.Report
}

// Err joins the errors of every failed cohort.
func (s *Summary) Err() error {
	var errs []error
	for _, c := range s.Cohorts {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("cohort %s: %w", c.Cohort, c.Err))
		}
	}
	return errors.Join(errs...)
}

func (s *Summary) Written() int {
	n := 0
	for _, c := range s.Cohorts {
		if c.Err == nil && !c.Skipped {
			n++
		}
	}
	return n
}

type Pipeline struct {
	logger   *slog.Logger
	recorder Recorder
	check    func(dir string) (*manifest.Manifest, *validate.Artifacts, error)
}

// New returns a pipeline. recorder may be nil.
func New(logger *slog.Logger, recorder Recorder) *Pipeline {
	return &Pipeline{
		logger:   logger.With("component", "pipeline"),
		recorder: recorder,
		check:    validate.Output,
	}
}

// Convert compiles model into opts.Output. The returned error covers
// run-wide failures only; per-cohort failures are reported in the summary
// and never stop the other cohorts.
func (p *Pipeline) Convert(ctx context.Context, model *domain.Model, opts Options) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.New().String()}
	p.logger.Info("starting conversion",
		"run_id", summary.RunID,
		"stops", len(model.Stops),
		"routes", len(model.Routes),
		"trips", len(model.Trips),
		"services", len(model.ServiceIDs()),
	)

	stepStart := time.Now()
	report := validate.Model(model)
	summary.Report = report
	p.logger.Info("pre-encode validation done",
		"fatal", len(report.Fatals()),
		"warnings", len(report.Warnings()),
		"duration_ms", time.Since(stepStart).Milliseconds(),
	)

	var parts *partition.Result
	if opts.SplitByPeriods {
		var err error
		parts, err = partition.Partition(model, opts.Partition, report)
		if err != nil {
			return nil, fmt.Errorf("partition services: %w", err)
		}
	} else {
		parts = partition.Single(model)
	}
	names := make([]string, 0, len(parts.Cohorts))
	for _, c := range parts.Cohorts {
		names = append(names, c.Name)
	}
	p.logger.Info("partitioned services", "cohorts", names)
	for _, sid := range model.ServiceIDs() {
		if prof, ok := parts.Profiles[sid]; ok {
			p.logger.Debug("service profile",
				"service_id", sid,
				"cohort", parts.Assignments[sid],
				"mask", prof.Mask.String(),
				"density", prof.Density,
			)
		}
	}

	stepStart = time.Now()
	generated, err := transfer.Generate(model.Stops, opts.Transfers)
	if err != nil {
		return nil, fmt.Errorf("generate transfers: %w", err)
	}
	transfers := transfer.Merge(transfer.Explicit(model.Stops), generated)
	validate.Transfers(transfers, opts.Validation, report)
	p.logger.Info("transfers ready",
		"generated", generated.Count(),
		"total", transfers.Count(),
		"duration_ms", time.Since(stepStart).Milliseconds(),
	)

	report.LogAll(p.logger)

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	summary.Cohorts = make([]CohortResult, len(parts.Cohorts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cohort := range parts.Cohorts {
		g.Go(func() error {
			res := p.buildCohort(gctx, model, cohort, transfers, report, opts)
			summary.Cohorts[i] = res
			p.record(ctx, summary.RunID, res)
			// cancellation is the only error that stops the others
			if res.Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("conversion interrupted: %w", err)
	}

	p.logger.Info("conversion completed",
		"run_id", summary.RunID,
		"cohorts", len(summary.Cohorts),
		"written", summary.Written(),
		"total_duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

func (p *Pipeline) buildCohort(ctx context.Context, model *domain.Model, cohort domain.Cohort, transfers transfer.Set, report *issues.Report, opts Options) CohortResult {
	start := time.Now()
	logger := p.logger.With("component", "cohort", "cohort", cohort.Name)

	dir := opts.Output
	if opts.SplitByPeriods {
		dir = filepath.Join(opts.Output, cohort.Name)
	}
	res := CohortResult{Cohort: cohort.Name, Dir: dir}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	scope := network.ScopeOf(model, cohort)
	if scope.Empty() {
		logger.Info("cohort has no trips, skipping", "services", len(cohort.ServiceIDs))
		res.Skipped = true
		return res
	}

	local := report.Within(scope)
	res.Warnings = local.WarningCounts()
	if err := local.Err(); err != nil {
		logger.Error("cohort rejected by validation", "fatal", len(local.Fatals()))
		res.Err = err
		return res
	}

	net := network.Build(model, cohort.Name, scope, transfers)
	res.Stats = net.Stats()

	m, stage, err := p.stage(net, dir, res.Warnings, cohort, opts)
	if stage != nil {
		defer stage.Discard()
	}
	if err != nil {
		logger.Error("failed to write cohort", "error", err)
		res.Err = err
		return res
	}

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	if err := stage.Commit(); err != nil {
		res.Err = fault.NewCodec(dir, err)
		logger.Error("failed to commit cohort", "error", err)
		return res
	}
	res.BuildID = m.Build.BuildID
	res.Outputs = m.Outputs
	res.Bytes = stage.Size()

	if opts.PostCheck {
		if _, _, err := p.check(dir); err != nil {
			logger.Error("post-encode validation failed", "error", err)
			if mErr := manifest.MarkInvalid(dir); mErr != nil {
				logger.Error("failed to mark output invalid", "error", mErr)
			}
			res.Err = err
			return res
		}
	}

	logger.Info("cohort written",
		"dir", dir,
		"build_id", res.BuildID,
		"stops", res.Stats.Stops,
		"routes", res.Stats.Routes,
		"trips", res.Stats.Trips,
		"transfers", res.Stats.Transfers,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// stage writes every artifact of net under temporary names. The manifest
// goes last so it can carry the checksums of the others.
func (p *Pipeline) stage(net *network.Network, dir string, warnings map[string]int, cohort domain.Cohort, opts Options) (*manifest.Manifest, *manifest.Stage, error) {
	stage, err := manifest.NewStage(dir)
	if err != nil {
		return nil, nil, fault.NewCodec(dir, err)
	}

	var routeOffsets, stopOffsets []raptorbin.Offset
	write := func(name string, fn func(w io.Writer) error) error {
		if err := stage.Write(name, fn); err != nil {
			return fault.NewCodec(name, err)
		}
		return nil
	}

	err = write(raptorbin.RoutesFileName, func(w io.Writer) error {
		var err error
		routeOffsets, err = raptorbin.WriteRoutes(w, net.Routes)
		return err
	})
	if err != nil {
		return nil, stage, err
	}
	err = write(raptorbin.StopsFileName, func(w io.Writer) error {
		var err error
		stopOffsets, err = raptorbin.WriteStops(w, net.Stops)
		return err
	})
	if err != nil {
		return nil, stage, err
	}

	idx := raptorbin.BuildIndex(net.Routes, net.Stops, routeOffsets, stopOffsets)
	if err := write(raptorbin.IndexFileName, func(w io.Writer) error { return raptorbin.WriteIndex(w, idx) }); err != nil {
		return nil, stage, err
	}

	if opts.DebugJSON {
		exports := []struct {
			name string
			fn   func(io.Writer) error
		}{
			{export.RoutesJSONFileName, func(w io.Writer) error { return export.RoutesJSON(w, net) }},
			{export.StopsJSONFileName, func(w io.Writer) error { return export.StopsJSON(w, net) }},
			{export.IndexJSONFileName, func(w io.Writer) error { return export.IndexJSON(w, idx) }},
		}
		for _, e := range exports {
			if err := write(e.name, e.fn); err != nil {
				return nil, stage, err
			}
		}
	}
	if opts.DebugProtobuf {
		if err := write(export.ProtoFileName, func(w io.Writer) error { return export.Proto(w, net) }); err != nil {
			return nil, stage, err
		}
		if err := write(export.SchemaFileName, export.Schema); err != nil {
			return nil, stage, err
		}
	}

	mode := "single"
	if opts.SplitByPeriods {
		mode = string(opts.Partition.Mode)
		if mode == "" {
			mode = string(partition.ModeDefault)
		}
	}
	stats := net.Stats()
	m := manifest.New(manifest.Inputs{
		Cohort:         cohort.Name,
		FeedPath:       opts.FeedPath,
		Fingerprint:    opts.Fingerprint,
		Mode:           mode,
		ServiceIDs:     cohort.ServiceIDs,
		SplitByPeriods: opts.SplitByPeriods,
		Transfers: manifest.TransferParams{
			Enabled:     opts.Transfers.Enabled,
			MaxDistance: opts.Transfers.MaxDistance,
			WalkSpeed:   opts.Transfers.WalkSpeed,
		},
	}, manifest.Stats{
		Routes:    stats.Routes,
		StopTimes: stats.StopTimes,
		Stops:     stats.Stops,
		Transfers: stats.Transfers,
		Trips:     stats.Trips,
	})
	m.Outputs = stage.Checksums()
	for code, n := range warnings {
		m.Warnings[code] = n
	}

	if err := write(manifest.FileName, m.Encode); err != nil {
		return nil, stage, err
	}
	return m, stage, nil
}

func (p *Pipeline) record(ctx context.Context, runID string, res CohortResult) {
	if p.recorder == nil {
		return
	}

	b := ledger.Build{
		BuildID:   res.BuildID,
		RunID:     runID,
		Cohort:    res.Cohort,
		Status:    ledger.StatusOK,
		OutputDir: res.Dir,
		Stops:     res.Stats.Stops,
		Routes:    res.Stats.Routes,
		Trips:     res.Stats.Trips,
		StopTimes: res.Stats.StopTimes,
		Transfers: res.Stats.Transfers,
		Bytes:     res.Bytes,
		Outputs:   res.Outputs,
	}
	for _, n := range res.Warnings {
		b.Warnings += n
	}
	if b.BuildID == "" {
		b.BuildID = uuid.New().String()
	}
	switch {
	case res.Skipped:
		b.Status = ledger.StatusSkipped
	case res.Err != nil:
		b.Status = ledger.StatusFailed
		b.Error = res.Err.Error()
		if kind, ok := fault.KindOf(res.Err); ok {
			b.ErrorKind = string(kind)
		}
	}

	if err := p.recorder.Record(context.WithoutCancel(ctx), b); err != nil {
		p.logger.Warn("failed to record build", "cohort", res.Cohort, "error", err)
	}
}
