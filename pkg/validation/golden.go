// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validation

import (
	"fmt"
	"math"

	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/runlog"
)

// Comparison thresholds
const (
	durationVarianceLimit = 0.1
	durationVarianceMajor = 0.3
	positionErrorMajor    = 0.1 // m
)

var severityPenalty = map[Severity]float64{
	SeverityCritical: 30,
	SeverityMajor:    20,
	SeverityMinor:    10,
}

// LogDuration is the time between the first and last entry in ms
func LogDuration(log []runlog.Entry) int64 {
	if len(log) < 2 {
		return 0
	}
	return log[len(log)-1].Timestamp - log[0].Timestamp
}

// isStepComplete reports whether e marks the end of a step
func isStepComplete(e *runlog.Entry) bool {
	return e.Data != nil && e.Data.StepIndex != nil && e.Data.DurationMs != nil
}

// runStart is the timestamp checkpoints are measured from
func runStart(log []runlog.Entry) int64 {
	if len(log) == 0 {
		return 0
	}
	return log[0].Timestamp
}

// DeriveCheckpoints builds one checkpoint per completed step in the log.
// Checkpoint times are relative to the first entry.
func DeriveCheckpoints(log []runlog.Entry) []Checkpoint {
	var out []Checkpoint
	start := runStart(log)
	for i := range log {
		e := &log[i]
		if !isStepComplete(e) || e.Data.Position == nil {
			continue
		}
		cp := Checkpoint{
			StepIndex: *e.Data.StepIndex,
			Timestamp: e.Timestamp - start,
			Position:  *e.Data.Position,
			Tolerance: DefaultTolerance,
		}
		if e.Data.Orientation != nil {
			cp.Orientation = *e.Data.Orientation
		}
		if e.Data.Speed != nil {
			cp.Speed = *e.Data.Speed
		}
		out = append(out, cp)
	}
	return out
}

// Compare measures log against a golden run
func Compare(golden *GoldenRun, log []runlog.Entry) Comparison {
	cmp := Comparison{
		GoldenRunID:       golden.ID,
		Deviations:        []Deviation{},
		CheckpointResults: make([]CheckpointResult, 0, len(golden.Checkpoints)),
		TimingAnalysis:    analyzeTiming(golden, log),
	}

	ta := cmp.TimingAnalysis
	if ta.Variance > durationVarianceLimit {
		sev := SeverityMinor
		if ta.Variance > durationVarianceMajor {
			sev = SeverityMajor
		}
		cmp.Deviations = append(cmp.Deviations, Deviation{
			Type:      DeviationTiming,
			Severity:  sev,
			Location:  "route",
			Message:   fmt.Sprintf("Duration %dms differs from golden %dms", ta.TotalTime, ta.ExpectedTime),
			Expected:  Measure(ta.ExpectedTime),
			Actual:    Measure(ta.TotalTime),
			Deviation: ta.Variance,
		})
	}

	for _, cp := range golden.Checkpoints {
		res := compareCheckpoint(cp, log)
		cmp.CheckpointResults = append(cmp.CheckpointResults, res)
		if res.Passed {
			continue
		}
		sev := SeverityMinor
		if res.PositionError > positionErrorMajor {
			sev = SeverityMajor
		}
		msg := fmt.Sprintf("Checkpoint at step %d missed", cp.StepIndex)
		if !res.Matched {
			msg = fmt.Sprintf("No log entry within %.0fms of checkpoint at step %d", cp.Tolerance.Timing, cp.StepIndex)
		}
		cmp.Deviations = append(cmp.Deviations, Deviation{
			Type:      DeviationPosition,
			Severity:  sev,
			Location:  fmt.Sprintf("step_%d", cp.StepIndex),
			Message:   msg,
			Expected:  Measure(cp.Tolerance.Position),
			Actual:    res.PositionError,
			Deviation: res.PositionError,
		})
	}

	cmp.Similarity = Similarity(cmp.Deviations)
	return cmp
}

// Similarity is 100 less the penalty of each deviation, floored at 0
func Similarity(devs []Deviation) float64 {
	s := 100.0
	for _, d := range devs {
		s -= severityPenalty[d.Severity]
	}
	return math.Max(0, s)
}

// variance is |actual-expected|/expected, unbounded for a zero expectation
func variance(actual, expected float64) Measure {
	diff := math.Abs(actual - expected)
	if expected == 0 {
		if diff == 0 {
			return 0
		}
		return Unbounded()
	}
	return Measure(diff / math.Abs(expected))
}

func analyzeTiming(golden *GoldenRun, log []runlog.Entry) TimingAnalysis {
	total := LogDuration(log)
	ta := TimingAnalysis{
		TotalTime:    total,
		ExpectedTime: golden.Duration,
		Variance:     variance(float64(total), float64(golden.Duration)),
		StepTimings:  []StepTiming{},
	}

	expected := stepDurations(golden.Logs)
	actual := stepDurations(log)
	for i := 0; i < len(expected) && i < len(actual); i++ {
		ta.StepTimings = append(ta.StepTimings, StepTiming{
			StepIndex: actual[i].index,
			Actual:    actual[i].ms,
			Expected:  expected[i].ms,
			Variance:  variance(actual[i].ms, expected[i].ms),
		})
	}
	return ta
}

type stepDuration struct {
	index int
	ms    float64
}

// stepDurations lists completed steps in log order; repeated passes of a
// route appear once per pass.
func stepDurations(log []runlog.Entry) []stepDuration {
	var out []stepDuration
	for i := range log {
		if isStepComplete(&log[i]) {
			out = append(out, stepDuration{index: *log[i].Data.StepIndex, ms: *log[i].Data.DurationMs})
		}
	}
	return out
}

// compareCheckpoint matches cp to the nearest positioned entry inside its
// timing window, with both sides timed from the start of their run. Entries for the same step win over others, then the
// smaller time offset, then the earlier entry.
func compareCheckpoint(cp Checkpoint, log []runlog.Entry) CheckpointResult {
	res := CheckpointResult{
		StepIndex:        cp.StepIndex,
		PositionError:    Unbounded(),
		OrientationError: Unbounded(),
		TimingError:      Unbounded(),
	}

	best := -1
	bestSame := false
	var bestDt int64
	start := runStart(log)
	for i := range log {
		e := &log[i]
		if e.Data == nil || e.Data.Position == nil {
			continue
		}
		dt := e.Timestamp - start - cp.Timestamp
		if dt < 0 {
			dt = -dt
		}
		if float64(dt) > cp.Tolerance.Timing {
			continue
		}
		same := e.Data.StepIndex != nil && *e.Data.StepIndex == cp.StepIndex
		if best < 0 || (same && !bestSame) || (same == bestSame && dt < bestDt) {
			best, bestSame, bestDt = i, same, dt
		}
	}
	if best < 0 {
		return res
	}

	e := log[best]
	res.Matched = true
	res.TimingError = Measure(bestDt)
	res.PositionError = Measure(math.Hypot(e.Data.Position.X-cp.Position.X, e.Data.Position.Y-cp.Position.Y) / 1000)
	if e.Data.Orientation != nil {
		res.OrientationError = Measure(robot.AngleDifference(*e.Data.Orientation, cp.Orientation))
	}
	res.Passed = float64(res.PositionError) <= cp.Tolerance.Position &&
		float64(res.OrientationError) <= cp.Tolerance.Orientation &&
		float64(res.TimingError) <= cp.Tolerance.Timing
	return res
}
