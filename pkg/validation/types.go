// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validation

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/runlog"
)

var (
	ErrMissingRouteID    = errors.New("validation: route id is required")
	ErrMissingLog        = errors.New("validation: execution log is required")
	ErrMissingFinalState = errors.New("validation: final state is required")
	ErrNotFound          = errors.New("validation: not found")
	ErrInvalidCheckpoint = errors.New("validation: checkpoint tolerances must be finite and non-negative")
	ErrInvalidCertLevel  = errors.New("validation: unknown certification level")
	ErrChecksumMismatch  = errors.New("validation: checksum mismatch")
)

// Status is the overall verdict of a validation
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusWarning Status = "WARNING"
)

// CheckStatus is the outcome of one check
type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckFail    CheckStatus = "fail"
	CheckWarning CheckStatus = "warning"
	CheckSkipped CheckStatus = "skipped"
)

// Category groups rules
type Category string

const (
	CategorySafety      Category = "safety"
	CategoryPerformance Category = "performance"
	CategoryAccuracy    Category = "accuracy"
	CategoryCompliance  Category = "compliance"
)

// Severity of a golden run deviation
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// DeviationType names what a deviation measured
type DeviationType string

const (
	DeviationPosition    DeviationType = "position"
	DeviationTiming      DeviationType = "timing"
	DeviationSensor      DeviationType = "sensor"
	DeviationPerformance DeviationType = "performance"
)

// Certification levels of a golden run
const (
	CertDevelopment = "development"
	CertTesting     = "testing"
	CertProduction  = "production"
)

// Measure is a float that may be unbounded. JSON has no infinity, so an
// unbounded measure is written as null and null reads back as +Inf.
type Measure float64

// Unbounded returns the measure of something that could not be matched
func Unbounded() Measure {
	return Measure(math.Inf(1))
}

// Bounded reports whether m is a finite number
func (m Measure) Bounded() bool {
	f := float64(m)
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Bounded() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(m))
}

func (m *Measure) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Unbounded()
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*m = Measure(f)
	return nil
}

// Check is the evaluated outcome of one rule
type Check struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Category  Category    `json:"category"`
	Status    CheckStatus `json:"status"`
	Message   string      `json:"message"`
	Weight    float64     `json:"weight"`
	Tolerance *float64    `json:"tolerance,omitempty"`
	Actual    *float64    `json:"actual,omitempty"`
}

// Metadata describes where a validated run came from
type Metadata struct {
	RobotID         string `json:"robotId,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	TestEnvironment string `json:"testEnvironment"`
	Operator        string `json:"operator,omitempty"`
}

// Tolerance bounds a checkpoint match. Position is in metres, Orientation in
// degrees and Timing in ms.
type Tolerance struct {
	Position    float64 `json:"position"`
	Orientation float64 `json:"orientation"`
	Timing      float64 `json:"timing"`
}

// DefaultTolerance is applied to checkpoints derived from a log
var DefaultTolerance = Tolerance{Position: 0.05, Orientation: 5, Timing: 500}

func (t Tolerance) valid() bool {
	for _, v := range []float64{t.Position, t.Orientation, t.Timing} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

// Checkpoint is a reference state tied to a route step
type Checkpoint struct {
	StepIndex   int          `json:"stepIndex"`
	Timestamp   int64        `json:"timestamp"` // ms since the first log entry
	Position    runlog.Point `json:"position"`
	Orientation float64      `json:"orientation"`
	Speed       float64      `json:"speed"`
	Tolerance   Tolerance    `json:"tolerance"`
}

// CheckpointResult is the comparison of one checkpoint against a log
type CheckpointResult struct {
	StepIndex        int     `json:"stepIndex"`
	Matched          bool    `json:"matched"`
	Passed           bool    `json:"passed"`
	PositionError    Measure `json:"positionError"`    // m
	OrientationError Measure `json:"orientationError"` // degrees
	TimingError      Measure `json:"timingError"`      // ms
}

// Deviation is one difference between a run and its golden run
type Deviation struct {
	Type      DeviationType `json:"type"`
	Severity  Severity      `json:"severity"`
	Location  string        `json:"location"`
	Message   string        `json:"message"`
	Expected  Measure       `json:"expectedValue"`
	Actual    Measure       `json:"actualValue"`
	Deviation Measure       `json:"deviation"`
}

// StepTiming compares the duration of one completed step
type StepTiming struct {
	StepIndex int     `json:"stepIndex"`
	Actual    float64 `json:"actual"`   // ms
	Expected  float64 `json:"expected"` // ms
	Variance  Measure `json:"variance"`
}

// TimingAnalysis compares run durations
type TimingAnalysis struct {
	TotalTime    int64        `json:"totalTime"`    // ms
	ExpectedTime int64        `json:"expectedTime"` // ms
	Variance     Measure      `json:"variance"`
	StepTimings  []StepTiming `json:"stepTimings"`
}

// Comparison is the result of comparing a log with a golden run
type Comparison struct {
	GoldenRunID       string             `json:"goldenRunId"`
	Similarity        float64            `json:"similarity"`
	Deviations        []Deviation        `json:"deviations"`
	CheckpointResults []CheckpointResult `json:"checkpointResults"`
	TimingAnalysis    TimingAnalysis     `json:"timingAnalysis"`
}

// Result is the immutable outcome of one validation
type Result struct {
	ID                  string      `json:"id"`
	Timestamp           int64       `json:"timestamp"` // ms
	RouteID             string      `json:"routeId"`
	Status              Status      `json:"status"`
	Score               int         `json:"score"`
	Checks              []Check     `json:"checks"`
	GoldenRunComparison *Comparison `json:"goldenRunComparison,omitempty"`
	Checksum            string      `json:"checksum"`
	Metadata            Metadata    `json:"metadata"`
}

// Certified reports whether the result qualifies for certification
func (r *Result) Certified() bool {
	return r.Status == StatusPass && r.Score >= 90
}

// GoldenMetadata records who approved a golden run
type GoldenMetadata struct {
	Description        string `json:"description"`
	Version            string `json:"version"`
	ApprovedBy         string `json:"approved_by"`
	CertificationLevel string `json:"certification_level"`
}

func (m *GoldenMetadata) applyDefaults() {
	if m.Description == "" {
		m.Description = "Golden run"
	}
	if m.Version == "" {
		m.Version = "1.0"
	}
	if m.ApprovedBy == "" {
		m.ApprovedBy = "system"
	}
	if m.CertificationLevel == "" {
		m.CertificationLevel = CertDevelopment
	}
}

func (m GoldenMetadata) validate() error {
	switch m.CertificationLevel {
	case CertDevelopment, CertTesting, CertProduction:
		return nil
	}
	return ErrInvalidCertLevel
}

// GoldenRun is the approved reference execution of a route
type GoldenRun struct {
	ID          string         `json:"id"`
	RouteID     string         `json:"routeId"`
	Timestamp   int64          `json:"timestamp"` // ms
	Duration    int64          `json:"duration"`  // ms
	Logs        []runlog.Entry `json:"logs"`
	FinalState  robot.State    `json:"finalState"`
	Checkpoints []Checkpoint   `json:"checkpoints"`
	Checksum    string         `json:"checksum"`
	Metadata    GoldenMetadata `json:"metadata"`
}

// Verify recomputes the checksum over the stored log and final state
func (g *GoldenRun) Verify() error {
	sum, err := Checksum(g.Logs, g.FinalState)
	if err != nil {
		return err
	}
	if sum != g.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// Request is the input of a validation
type Request struct {
	RouteID    string         `json:"routeId"`
	Log        []runlog.Entry `json:"log"`
	FinalState *robot.State   `json:"finalState"`
	Metadata   *Metadata      `json:"metadata,omitempty"`
}

func (r *Request) validate() error {
	switch {
	case r.RouteID == "":
		return ErrMissingRouteID
	case len(r.Log) == 0:
		return ErrMissingLog
	case r.FinalState == nil:
		return ErrMissingFinalState
	}
	return nil
}

// GoldenRequest is the input for saving a golden run. Checkpoints are derived
// from the log's completed steps when none are given.
type GoldenRequest struct {
	RouteID     string         `json:"routeId"`
	Log         []runlog.Entry `json:"log"`
	FinalState  *robot.State   `json:"finalState"`
	Checkpoints []Checkpoint   `json:"checkpoints,omitempty"`
	Metadata    GoldenMetadata `json:"metadata"`
}
