// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/pkg/runlog"
)

// DefaultTestEnvironment is recorded when a request carries no metadata
const DefaultTestEnvironment = "simulator"

// Option configures a Validator
type Option func(*Validator)

// WithRules replaces the default rule set
func WithRules(rules ...Rule) Option {
	return func(v *Validator) {
		v.rules = rules
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithNow sets the time source used for timestamps
func WithNow(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator scores executions and keeps golden runs and results in memory.
// Golden runs are keyed by route id, results by result id, each behind its
// own lock.
type Validator struct {
	rules  []Rule
	logger *zap.Logger
	now    func() time.Time

	goldenMu sync.RWMutex
	golden   map[string]GoldenRun

	resultsMu sync.RWMutex
	results   map[string]Result
}

// New creates a Validator with the default rules
func New(opts ...Option) *Validator {
	v := &Validator{
		rules:   DefaultRules(),
		logger:  zap.NewNop(),
		now:     time.Now,
		golden:  make(map[string]GoldenRun),
		results: make(map[string]Result),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.Named("validation")
	return v
}

// Rules returns the active rule set
func (v *Validator) Rules() []Rule {
	out := make([]Rule, len(v.rules))
	copy(out, v.rules)
	return out
}

// Validate scores an execution. Only missing inputs are errors; once they
// are present every check resolves to a status.
func (v *Validator) Validate(req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	final := *req.FinalState
	checks := make([]Check, 0, len(v.rules))
	for _, r := range v.rules {
		checks = append(checks, r.Run(req.Log, final))
	}
	score := Score(checks)

	sum, err := Checksum(req.Log, final)
	if err != nil {
		return Result{}, err
	}

	meta := Metadata{TestEnvironment: DefaultTestEnvironment}
	if req.Metadata != nil {
		meta = *req.Metadata
		if meta.TestEnvironment == "" {
			meta.TestEnvironment = DefaultTestEnvironment
		}
	}

	res := Result{
		ID:        "val_" + uuid.NewString(),
		Timestamp: v.now().UnixMilli(),
		RouteID:   req.RouteID,
		Status:    StatusOf(checks, score),
		Score:     score,
		Checks:    checks,
		Checksum:  sum,
		Metadata:  meta,
	}
	if golden, ok := v.GoldenRun(req.RouteID); ok {
		cmp := Compare(&golden, req.Log)
		res.GoldenRunComparison = &cmp
	}

	v.resultsMu.Lock()
	v.results[res.ID] = res
	v.resultsMu.Unlock()

	fields := []zap.Field{
		zap.String("id", res.ID),
		zap.String("route", res.RouteID),
		zap.String("status", string(res.Status)),
		zap.Int("score", res.Score),
	}
	if res.GoldenRunComparison != nil {
		fields = append(fields, zap.Float64("similarity", res.GoldenRunComparison.Similarity))
	}
	v.logger.Info("Validation completed", fields...)
	return res, nil
}

// Result returns a stored result by id
func (v *Validator) Result(id string) (Result, bool) {
	v.resultsMu.RLock()
	defer v.resultsMu.RUnlock()
	r, ok := v.results[id]
	return r, ok
}

// Results returns every stored result ordered by time
func (v *Validator) Results() []Result {
	v.resultsMu.RLock()
	out := make([]Result, 0, len(v.results))
	for _, r := range v.results {
		out = append(out, r)
	}
	v.resultsMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SaveGoldenRun stores a golden run for a route, replacing any earlier one
func (v *Validator) SaveGoldenRun(req GoldenRequest) (GoldenRun, error) {
	switch {
	case req.RouteID == "":
		return GoldenRun{}, ErrMissingRouteID
	case len(req.Log) == 0:
		return GoldenRun{}, ErrMissingLog
	case req.FinalState == nil:
		return GoldenRun{}, ErrMissingFinalState
	}

	meta := req.Metadata
	meta.applyDefaults()
	if err := meta.validate(); err != nil {
		return GoldenRun{}, fmt.Errorf("%w: %q", err, meta.CertificationLevel)
	}

	checkpoints := req.Checkpoints
	if len(checkpoints) == 0 {
		checkpoints = DeriveCheckpoints(req.Log)
	}
	for _, cp := range checkpoints {
		if !cp.Tolerance.valid() {
			return GoldenRun{}, fmt.Errorf("%w: step %d", ErrInvalidCheckpoint, cp.StepIndex)
		}
	}

	logs := runlog.CloneEntries(req.Log)
	final := req.FinalState.Clone()
	sum, err := Checksum(logs, final)
	if err != nil {
		return GoldenRun{}, err
	}

	g := GoldenRun{
		ID:          "golden_" + uuid.NewString(),
		RouteID:     req.RouteID,
		Timestamp:   v.now().UnixMilli(),
		Duration:    LogDuration(logs),
		Logs:        logs,
		FinalState:  final,
		Checkpoints: append([]Checkpoint(nil), checkpoints...),
		Checksum:    sum,
		Metadata:    meta,
	}

	v.goldenMu.Lock()
	v.golden[g.RouteID] = g
	v.goldenMu.Unlock()

	v.logger.Info("Golden run saved",
		zap.String("id", g.ID),
		zap.String("route", g.RouteID),
		zap.Int64("duration_ms", g.Duration),
		zap.Int("checkpoints", len(g.Checkpoints)))
	return g, nil
}

// GoldenRun returns the golden run for a route
func (v *Validator) GoldenRun(routeID string) (GoldenRun, bool) {
	v.goldenMu.RLock()
	defer v.goldenMu.RUnlock()
	g, ok := v.golden[routeID]
	return g, ok
}

// GoldenRuns returns every golden run ordered by route id
func (v *Validator) GoldenRuns() []GoldenRun {
	v.goldenMu.RLock()
	out := make([]GoldenRun, 0, len(v.golden))
	for _, g := range v.golden {
		out = append(out, g)
	}
	v.goldenMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RouteID < out[j].RouteID })
	return out
}

// ImportGoldenRuns stores golden runs from an export. Nothing is stored if
// any run fails its checksum or carries invalid checkpoints.
func (v *Validator) ImportGoldenRuns(runs []GoldenRun) error {
	for i := range runs {
		g := &runs[i]
		if g.RouteID == "" {
			return ErrMissingRouteID
		}
		if err := g.Verify(); err != nil {
			return fmt.Errorf("golden run %s: %w", g.ID, err)
		}
		for _, cp := range g.Checkpoints {
			if !cp.Tolerance.valid() {
				return fmt.Errorf("golden run %s: %w", g.ID, ErrInvalidCheckpoint)
			}
		}
	}

	v.goldenMu.Lock()
	for _, g := range runs {
		g.Logs = runlog.CloneEntries(g.Logs)
		v.golden[g.RouteID] = g
	}
	v.goldenMu.Unlock()
	v.logger.Info("Golden runs imported", zap.Int("count", len(runs)))
	return nil
}

// Export snapshots every stored result and golden run
func (v *Validator) Export() Export {
	return Export{
		ExportedAt: v.now().UnixMilli(),
		Results:    v.Results(),
		GoldenRuns: v.GoldenRuns(),
	}
}
