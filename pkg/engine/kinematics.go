// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"math"
	"time"

	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/route"
)

// Heading changes per step kind, in degrees. Left turns are negative.
const (
	pivotAngle = 90.0
	turnAngle  = 30.0
)

// pose is a position and heading plus the heading held when the current
// step began
type pose struct {
	x, y        float64
	heading     float64
	stepHeading float64
}

func (p *pose) beginStep() {
	p.stepHeading = p.heading
}

func (p *pose) move(distance float64) {
	rad := p.heading * math.Pi / 180
	p.x += distance * math.Cos(rad)
	p.y += distance * math.Sin(rad)
}

// headingDelta is the heading change a step has produced at progress
func headingDelta(s route.Step, progress float64) float64 {
	switch s.Operation {
	case route.OpLeft90:
		return -pivotAngle * progress
	case route.OpRight90:
		return pivotAngle * progress
	case route.OpTurnLeft:
		return -turnAngle * progress
	case route.OpTurnRight:
		return turnAngle * progress
	case route.OpDifferential:
		if s.AngleDegrees != nil {
			return *s.AngleDegrees * progress
		}
	}
	return 0
}

// movesLinearly reports whether a step translates the robot
func movesLinearly(op route.Operation) bool {
	switch op {
	case route.OpNorm, route.OpNormNoMagnet, route.OpTurnLeft, route.OpTurnRight, route.OpDifferential:
		return true
	}
	return false
}

// integrate applies the synthetic kinematic model for the part of a tick
// spent in step s
func (p *pose) integrate(s route.Step, progress float64, seg time.Duration) {
	if movesLinearly(s.Operation) && seg > 0 {
		p.move(s.Speed * seg.Seconds())
	}
	p.heading = robot.NormalizeHeading(p.stepHeading + headingDelta(s, progress))
}

// progressAt returns the clamped step progress at now
func progressAt(now, start time.Time, d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	p := float64(now.Sub(start)) / float64(d)
	return math.Max(0, math.Min(1, p))
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
