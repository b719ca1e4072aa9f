// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package validation

import (
	"fmt"
	"math"

	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/runlog"
)

// Response windows in ms
const (
	EmergencyResponseMs = 100
	CollisionResponseMs = 500
)

// warningBand is the fraction of a tolerance past which a check warns
const warningBand = 0.8

// Outcome is what a rule's evaluation reports
type Outcome struct {
	Status  CheckStatus
	Message string
	Actual  *float64
}

// Rule is one weighted check. Tolerance is nil for rules without one.
type Rule struct {
	ID        string
	Name      string
	Category  Category
	Weight    float64
	Tolerance *float64
	Evaluate  func(log []runlog.Entry, final robot.State, tolerance float64) Outcome
}

// Run evaluates the rule into a Check
func (r Rule) Run(log []runlog.Entry, final robot.State) Check {
	tol := 0.0
	if r.Tolerance != nil {
		tol = *r.Tolerance
	}
	out := r.Evaluate(log, final, tol)
	return Check{
		ID:        r.ID,
		Name:      r.Name,
		Category:  r.Category,
		Status:    out.Status,
		Message:   out.Message,
		Weight:    r.Weight,
		Tolerance: r.Tolerance,
		Actual:    out.Actual,
	}
}

// DefaultRules returns the standard rule set
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "safety_emergency_stop",
			Name:     "Emergency Stop Response",
			Category: CategorySafety,
			Weight:   30,
			Evaluate: checkEmergencyStop,
		},
		{
			ID:       "safety_collision_avoidance",
			Name:     "Collision Avoidance",
			Category: CategorySafety,
			Weight:   25,
			Evaluate: checkCollisionAvoidance,
		},
		{
			ID:        "performance_position_accuracy",
			Name:      "Position Accuracy",
			Category:  CategoryPerformance,
			Weight:    20,
			Tolerance: runlog.Ptr(0.05),
			Evaluate:  checkPositionAccuracy,
		},
		{
			ID:        "performance_speed_consistency",
			Name:      "Speed Consistency",
			Category:  CategoryPerformance,
			Weight:    15,
			Tolerance: runlog.Ptr(0.1),
			Evaluate:  checkSpeedConsistency,
		},
		{
			ID:       "accuracy_route_completion",
			Name:     "Route Completion",
			Category: CategoryAccuracy,
			Weight:   10,
			Evaluate: checkRouteCompletion,
		},
	}
}

// ============================================================
// Scoring
// ============================================================

func checkScore(s CheckStatus) float64 {
	switch s {
	case CheckPass:
		return 100
	case CheckWarning:
		return 70
	}
	return 0
}

// Score is the weighted average of the non-skipped checks, 0 if none count
func Score(checks []Check) int {
	var sum, weight float64
	for _, c := range checks {
		if c.Status == CheckSkipped {
			continue
		}
		sum += checkScore(c.Status) * c.Weight
		weight += c.Weight
	}
	if weight <= 0 {
		return 0
	}
	return int(math.Round(sum / weight))
}

// StatusOf derives the overall status from the checks and their score
func StatusOf(checks []Check, score int) Status {
	warned := false
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			return StatusFail
		case CheckWarning:
			warned = true
		}
	}
	switch {
	case score < 60:
		return StatusFail
	case warned || score < 90:
		return StatusWarning
	}
	return StatusPass
}

// ============================================================
// Checks
// ============================================================

// respondedWithin reports whether an entry after index i, no later than
// window ms after it, mentions a stop.
func respondedWithin(log []runlog.Entry, i int, window int64) bool {
	start := log[i].Timestamp
	for j := i + 1; j < len(log); j++ {
		dt := log[j].Timestamp - start
		if dt > window {
			return false
		}
		if dt >= 0 && log[j].Contains("stopped") {
			return true
		}
	}
	return false
}

func checkEmergencyStop(log []runlog.Entry, _ robot.State, _ float64) Outcome {
	events, late := 0, 0
	for i := range log {
		if log[i].Level != runlog.LevelError || !log[i].Contains("emergency") {
			continue
		}
		events++
		if !respondedWithin(log, i, EmergencyResponseMs) {
			late++
		}
	}
	switch {
	case events == 0:
		return Outcome{Status: CheckSkipped, Message: "No emergency stop events to validate"}
	case late > 0:
		return Outcome{
			Status:  CheckFail,
			Message: fmt.Sprintf("✗ %d of %d emergency stops exceeded %dms response", late, events, EmergencyResponseMs),
		}
	}
	return Outcome{
		Status:  CheckPass,
		Message: fmt.Sprintf("✓ Emergency stop responded within %dms (%d events)", EmergencyResponseMs, events),
	}
}

func checkCollisionAvoidance(log []runlog.Entry, _ robot.State, _ float64) Outcome {
	events, late := 0, 0
	for i := range log {
		if !log[i].Contains("obstacle") && !log[i].Contains("collision") {
			continue
		}
		events++
		if !respondedWithin(log, i, CollisionResponseMs) {
			late++
		}
	}
	switch {
	case events == 0:
		return Outcome{Status: CheckSkipped, Message: "No obstacle detection events"}
	case late > 0:
		return Outcome{
			Status:  CheckFail,
			Message: fmt.Sprintf("✗ %d of %d obstacle events not stopped within %dms", late, events, CollisionResponseMs),
		}
	}
	return Outcome{
		Status:  CheckPass,
		Message: fmt.Sprintf("✓ Collision avoidance responded within %dms", CollisionResponseMs),
	}
}

// grade maps a measured value against its tolerance
func grade(value, tol float64) CheckStatus {
	switch {
	case value > tol:
		return CheckFail
	case value > tol*warningBand:
		return CheckWarning
	}
	return CheckPass
}

func checkPositionAccuracy(log []runlog.Entry, _ robot.State, tol float64) Outcome {
	positions := 0
	maxErr := 0.0
	for _, e := range log {
		if e.Data == nil || e.Data.Position == nil {
			continue
		}
		positions++
		if e.Data.ExpectedPosition == nil {
			continue
		}
		p, x := e.Data.Position, e.Data.ExpectedPosition
		if d := math.Hypot(p.X-x.X, p.Y-x.Y) / 1000; d > maxErr {
			maxErr = d
		}
	}
	if positions == 0 {
		return Outcome{Status: CheckSkipped, Message: "No position data available"}
	}

	out := Outcome{Status: grade(maxErr, tol), Actual: runlog.Ptr(maxErr)}
	switch out.Status {
	case CheckFail:
		out.Message = fmt.Sprintf("✗ Position error %.3fm exceeds tolerance %.3fm", maxErr, tol)
	case CheckWarning:
		out.Message = fmt.Sprintf("⚠ Position error %.3fm is close to tolerance %.3fm", maxErr, tol)
	default:
		out.Message = fmt.Sprintf("✓ Position accuracy within %.3fm (max error %.3fm)", tol, maxErr)
	}
	return out
}

func checkSpeedConsistency(log []runlog.Entry, _ robot.State, tol float64) Outcome {
	var speeds, targeted []*runlog.Data
	for _, e := range log {
		if e.Data == nil || e.Data.Speed == nil {
			continue
		}
		speeds = append(speeds, e.Data)
		if e.Data.TargetSpeed != nil && *e.Data.TargetSpeed > 0 {
			targeted = append(targeted, e.Data)
		}
	}
	if len(speeds) == 0 {
		return Outcome{Status: CheckSkipped, Message: "No speed data available"}
	}

	maxVar := 0.0
	if len(targeted) > 0 {
		for _, d := range targeted {
			if v := math.Abs(*d.Speed-*d.TargetSpeed) / *d.TargetSpeed; v > maxVar {
				maxVar = v
			}
		}
	} else {
		mean := 0.0
		for _, d := range speeds {
			mean += *d.Speed
		}
		mean /= float64(len(speeds))
		if math.Abs(mean) < 1e-9 {
			return Outcome{Status: CheckSkipped, Message: "No movement recorded"}
		}
		for _, d := range speeds {
			if v := math.Abs(*d.Speed-mean) / math.Abs(mean); v > maxVar {
				maxVar = v
			}
		}
	}

	out := Outcome{Status: grade(maxVar, tol), Actual: runlog.Ptr(maxVar)}
	switch out.Status {
	case CheckFail:
		out.Message = fmt.Sprintf("✗ Speed variation %.1f%% exceeds %.1f%%", maxVar*100, tol*100)
	case CheckWarning:
		out.Message = fmt.Sprintf("⚠ Speed variation %.1f%% is close to %.1f%%", maxVar*100, tol*100)
	default:
		out.Message = fmt.Sprintf("✓ Speed consistent (max variation %.1f%%)", maxVar*100)
	}
	return out
}

func checkRouteCompletion(log []runlog.Entry, _ robot.State, _ float64) Outcome {
	for i := range log {
		if log[i].Contains("route completed") {
			return Outcome{Status: CheckPass, Message: "✓ Route completed successfully"}
		}
	}
	return Outcome{Status: CheckFail, Message: "✗ Route did not complete"}
}
