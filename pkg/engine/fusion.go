// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"math"
	"time"

	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// standardGravity converts g to mm/s^2
const standardGravity = 9806.65

// fuse integrates one hardware snapshot over dt: gyroscope Z drives the
// heading, accelerometer X the forward velocity. It returns false, leaving
// the pose untouched, when the snapshot holds non-finite values.
func fuse(p *pose, velocity *float64, s sensor.Snapshot, dt time.Duration) bool {
	gz, ax := s.Gyro.Z, s.Accel.X
	if !finite(gz) || !finite(ax) {
		return false
	}
	sec := dt.Seconds()

	p.heading = robot.NormalizeHeading(p.heading + gz*180/math.Pi*sec)
	*velocity += ax * standardGravity * sec
	p.move(*velocity * sec)
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
