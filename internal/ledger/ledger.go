// Package ledger keeps a SQLite history of cohort builds.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Build is one cohort outcome of a conversion run.
type Build struct {
	BuildID   string
	RunID     string
	Cohort    string
	Status    Status
	ErrorKind string
	Error     string
	OutputDir string
	Stops     int
	Routes    int
	Trips     int
	StopTimes int
	Transfers int
	Warnings  int
	Bytes     int64
	Outputs   map[string]string
	CreatedAt time.Time
}

// Ledger wraps the database; writes are serialized since cohort workers
// record their outcomes concurrently.
type Ledger struct {
	conn    *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Open opens (creating if needed) the ledger database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	l := &Ledger{conn: conn, logger: logger.With("component", "ledger")}
	if err := l.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	l.logger.Debug("ledger ready", "path", path)
	return l, nil
}

func (l *Ledger) Close() error {
	return l.conn.Close()
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := l.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// Record inserts one build and its output checksums in a transaction.
func (l *Ledger) Record(ctx context.Context, b Build) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO builds (build_id, run_id, cohort, status, error_kind, error, output_dir,
			stops, routes, trips, stop_times, transfers, warnings, bytes, created_at_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BuildID, b.RunID, b.Cohort, string(b.Status), nullString(b.ErrorKind), nullString(b.Error), b.OutputDir,
		b.Stops, b.Routes, b.Trips, b.StopTimes, b.Transfers, b.Warnings, b.Bytes,
		b.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert build %s: %w", b.BuildID, err)
	}

	if len(b.Outputs) > 0 {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO build_outputs (build_id, file, sha256) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare output insert: %w", err)
		}
		defer stmt.Close()

		files := make([]string, 0, len(b.Outputs))
		for f := range b.Outputs {
			files = append(files, f)
		}
		sort.Strings(files)
		for _, f := range files {
			if _, err := stmt.ExecContext(ctx, b.BuildID, f, b.Outputs[f]); err != nil {
				return fmt.Errorf("insert output %s: %w", f, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

// Run returns the builds of one run ordered by cohort, outputs included.
func (l *Ledger) Run(ctx context.Context, runID string) ([]Build, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT build_id, run_id, cohort, status, COALESCE(error_kind, ''), COALESCE(error, ''), output_dir,
			stops, routes, trips, stop_times, transfers, warnings, bytes, created_at_utc
		FROM builds WHERE run_id = ? ORDER BY cohort`, runID)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var b Build
		var status, created string
		if err := rows.Scan(&b.BuildID, &b.RunID, &b.Cohort, &status, &b.ErrorKind, &b.Error, &b.OutputDir,
			&b.Stops, &b.Routes, &b.Trips, &b.StopTimes, &b.Transfers, &b.Warnings, &b.Bytes, &created); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		b.Status = Status(status)
		b.CreatedAt, _ = time.Parse(time.RFC3339, created)
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range builds {
		outputs, err := l.outputs(ctx, builds[i].BuildID)
		if err != nil {
			return nil, err
		}
		builds[i].Outputs = outputs
	}
	return builds, nil
}

func (l *Ledger) outputs(ctx context.Context, buildID string) (map[string]string, error) {
	rows, err := l.conn.QueryContext(ctx, "SELECT file, sha256 FROM build_outputs WHERE build_id = ?", buildID)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var file, sum string
		if err := rows.Scan(&file, &sum); err != nil {
			return nil, err
		}
		out[file] = sum
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
