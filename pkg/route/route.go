// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package route

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNotFound     = errors.New("route not found")
	ErrInvalidRoute = errors.New("invalid route")
)

// Fixed step timings in milliseconds
const (
	PivotDurationMs   = 3000
	MinTurnDurationMs = 2000
)

// Step is one movement of a route
type Step struct {
	ID               int       `json:"id" yaml:"id"`
	Operation        Operation `json:"operation" yaml:"operation"`
	DistanceMM       float64   `json:"distanceMm" yaml:"distance_mm"`
	Speed            float64   `json:"speed" yaml:"speed"` // mm/s
	MagnetCorrection float64   `json:"magnetCorrection" yaml:"magnet_correction"`
	AngleDegrees     *float64  `json:"angleDegrees,omitempty" yaml:"angle_degrees,omitempty"`
	Description      string    `json:"description" yaml:"description"`
}

// Definition is an ordered list of steps with a repeat count
type Definition struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
	RepeatCount int    `json:"repeatCount" yaml:"repeat_count"`
	Active      bool   `json:"isActive" yaml:"-"`
}

// Validate checks distances, speeds and operation codes
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: route %d has no name", ErrInvalidRoute, d.ID)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: route %d has no steps", ErrInvalidRoute, d.ID)
	}
	if d.RepeatCount < 0 {
		return fmt.Errorf("%w: route %d repeat count %d", ErrInvalidRoute, d.ID, d.RepeatCount)
	}
	for i, s := range d.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("route %d step %d: %w", d.ID, i, err)
		}
	}
	return nil
}

// Validate checks a single step. Speed may be zero only for a zero-distance pivot.
func (s *Step) Validate() error {
	if !s.Operation.Valid() {
		return fmt.Errorf("%w: operation %d", ErrInvalidRoute, int(s.Operation))
	}
	if math.IsNaN(s.DistanceMM) || math.IsInf(s.DistanceMM, 0) || s.DistanceMM < 0 {
		return fmt.Errorf("%w: distance %v", ErrInvalidRoute, s.DistanceMM)
	}
	if math.IsNaN(s.Speed) || math.IsInf(s.Speed, 0) || s.Speed < 0 {
		return fmt.Errorf("%w: speed %v", ErrInvalidRoute, s.Speed)
	}
	if s.Speed == 0 && !(s.Operation.IsPivot() && s.DistanceMM == 0) && s.Operation != OpNoOperation {
		return fmt.Errorf("%w: %s step needs a positive speed", ErrInvalidRoute, s.Operation)
	}
	if s.AngleDegrees != nil && (math.IsNaN(*s.AngleDegrees) || math.IsInf(*s.AngleDegrees, 0)) {
		return fmt.Errorf("%w: angle %v", ErrInvalidRoute, *s.AngleDegrees)
	}
	return nil
}

// StepDurationMs returns how long a step takes, in milliseconds
func StepDurationMs(s Step) float64 {
	travel := 0.0
	if s.Speed > 0 {
		travel = s.DistanceMM / s.Speed * 1000
	}

	switch s.Operation {
	case OpLeft90, OpRight90:
		return PivotDurationMs
	case OpTurnLeft, OpTurnRight:
		return math.Max(MinTurnDurationMs, travel)
	case OpNoOperation:
		return 0
	default:
		return travel
	}
}

// StepDuration is StepDurationMs as a time.Duration
func StepDuration(s Step) time.Duration {
	return time.Duration(StepDurationMs(s) * float64(time.Millisecond))
}

// Duration returns the time of one pass over the route
func (d *Definition) Duration() time.Duration {
	var total time.Duration
	for _, s := range d.Steps {
		total += StepDuration(s)
	}
	return total
}

// Clone returns a deep copy
func (d Definition) Clone() Definition {
	out := d
	out.Steps = make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		if s.AngleDegrees != nil {
			a := *s.AngleDegrees
			s.AngleDegrees = &a
		}
		out.Steps[i] = s
	}
	return out
}
