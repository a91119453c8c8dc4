// Package issues collects validation findings. Fatal findings abort the
// cohorts they touch; warnings are aggregated and reported.
package issues

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"raptorc/internal/fault"
)

type Severity int

const (
	Warning Severity = iota
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "warning"
}

type Code string

const (
	InvalidCoordinate Code = "invalid_coordinate"
	UnorderedSequence Code = "unordered_sequence"
	ShortPattern      Code = "short_pattern"
	LengthMismatch    Code = "length_mismatch"
	MissingTime       Code = "missing_time"
	DanglingReference Code = "dangling_reference"
	DuplicateID       Code = "duplicate_id"
	NegativeWalkTime  Code = "negative_walk_time"
	DecreasingTimes   Code = "decreasing_times"
	ExtremeTransfer   Code = "extreme_transfer"
	EmptyName         Code = "empty_name"
	ServiceNeverRuns  Code = "service_never_runs"
)

const maxExamplesPerCode = 3

var descriptions = map[Code]string{
	InvalidCoordinate: "stops with coordinates outside lat/lon bounds",
	UnorderedSequence: "route patterns with stop sequences not strictly increasing",
	ShortPattern:      "route patterns with fewer than two stops",
	LengthMismatch:    "trips whose time count differs from the pattern stop count",
	MissingTime:       "trips missing an arrival/departure time",
	DanglingReference: "references that do not resolve",
	DuplicateID:       "duplicate entity ids",
	NegativeWalkTime:  "transfers with negative walk time",
	DecreasingTimes:   "trips with decreasing timestamps",
	ExtremeTransfer:   "transfers above the extreme walk time threshold",
	EmptyName:         "stops with an empty name",
	ServiceNeverRuns:  "services that never run",
}

type EntityKind string

const (
	StopEntity    EntityKind = "stop"
	RouteEntity   EntityKind = "route"
	TripEntity    EntityKind = "trip"
	ServiceEntity EntityKind = "service"
)

// Entity identifies the model object an issue is about. Services are keyed
// by their string id, everything else by the numeric id.
type Entity struct {
	Kind EntityKind
	ID   uint32
	Key  string
}

func Stop(id uint32) Entity  { return Entity{Kind: StopEntity, ID: id} }
func Route(id uint32) Entity { return Entity{Kind: RouteEntity, ID: id} }
func Trip(id uint32) Entity  { return Entity{Kind: TripEntity, ID: id} }

func Service(id string) Entity { return Entity{Kind: ServiceEntity, Key: id} }

func (e Entity) String() string {
	if e.Kind == ServiceEntity {
		return fmt.Sprintf("service %q", e.Key)
	}
	return fmt.Sprintf("%s %d", e.Kind, e.ID)
}

type Issue struct {
	Severity Severity
	Code     Code
	Entity   Entity
	Message  string
}

// Scope decides whether an entity belongs to a cohort.
type Scope interface {
	Covers(Entity) bool
}

// Report is safe for concurrent use.
type Report struct {
	mu     sync.Mutex
	issues []Issue
}

func NewReport() *Report {
	return &Report{}
}

func (r *Report) Add(issue Issue) {
	r.mu.Lock()
	r.issues = append(r.issues, issue)
	r.mu.Unlock()
}

func (r *Report) Warn(code Code, entity Entity, format string, args ...any) {
	r.Add(Issue{Severity: Warning, Code: code, Entity: entity, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) Fatal(code Code, entity Entity, format string, args ...any) {
	r.Add(Issue{Severity: Fatal, Code: code, Entity: entity, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) Issues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Issue, len(r.issues))
	copy(out, r.issues)
	return out
}

func (r *Report) Fatals() []Issue {
	return r.bySeverity(Fatal)
}

func (r *Report) Warnings() []Issue {
	return r.bySeverity(Warning)
}

func (r *Report) bySeverity(s Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues() {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

func (r *Report) HasFatal() bool {
	return len(r.Fatals()) > 0
}

// Within returns the issues whose entity is covered by scope.
func (r *Report) Within(scope Scope) *Report {
	sub := NewReport()
	for _, issue := range r.Issues() {
		if scope.Covers(issue.Entity) {
			sub.Add(issue)
		}
	}
	return sub
}

// Err folds every fatal issue into one FatalInput error, or nil.
func (r *Report) Err() error {
	fatals := r.Fatals()
	if len(fatals) == 0 {
		return nil
	}

	errs := make([]error, 0, len(fatals))
	for _, f := range fatals {
		errs = append(errs, fault.NewInput(f.Entity.String(), fmt.Errorf("%s: %s", f.Code, f.Message)))
	}
	return errors.Join(errs...)
}

// WarningCounts maps each warning code to its number of occurrences.
func (r *Report) WarningCounts() map[string]int {
	counts := make(map[string]int)
	for _, w := range r.Warnings() {
		counts[string(w.Code)]++
	}
	return counts
}

type summary struct {
	severity Severity
	count    int
	examples []string
}

// LogAll writes one consolidated line per (severity, code) with up to three
// example entities.
func (r *Report) LogAll(logger *slog.Logger) {
	groups := make(map[Code]*summary)
	var order []Code

	for _, issue := range r.Issues() {
		key := Code(issue.Severity.String() + ":" + string(issue.Code))
		s, ok := groups[key]
		if !ok {
			s = &summary{severity: issue.Severity}
			groups[key] = s
			order = append(order, key)
		}
		s.count++
		if len(s.examples) < maxExamplesPerCode {
			s.examples = append(s.examples, issue.Entity.String())
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, key := range order {
		s := groups[key]
		code := Code(strings.SplitN(string(key), ":", 2)[1])
		attrs := []any{
			"code", string(code),
			"description", descriptions[code],
			"count", s.count,
			"examples", strings.Join(s.examples, ", "),
		}
		if s.severity == Fatal {
			logger.Error("validation failed", attrs...)
		} else {
			logger.Warn("validation warning", attrs...)
		}
	}
}
