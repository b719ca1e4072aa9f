// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensor

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/furrow/pkg/imuframe"
)

// Kind identifies one of the three vector sensors on the IMU board
type Kind int

const (
	Accelerometer Kind = iota
	Gyroscope
	Magnetometer
)

// Kinds lists every sensor kind in apply order
var Kinds = [...]Kind{Accelerometer, Gyroscope, Magnetometer}

func (k Kind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	case Magnetometer:
		return "magnetometer"
	default:
		return fmt.Sprintf("sensor(%d)", int(k))
	}
}

// Axis is a vector component
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Axes lists every axis
var Axes = [...]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// ParseAxis parses "x", "y" or "z" (case-insensitive)
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	case "z":
		return AxisZ, nil
	default:
		return 0, fmt.Errorf("unknown axis %q", s)
	}
}

// Snapshot is a validated frame after fault injection; the unit consumed
// by the route engine. Snapshots are values and are never mutated once stored.
type Snapshot struct {
	Accel     imuframe.Vector3  `json:"accelerometer"`
	Gyro      imuframe.Vector3  `json:"gyroscope"`
	Mag       imuframe.Vector3  `json:"magnetometer"`
	AHRS      imuframe.Attitude `json:"ahrs"`
	MagnetBar uint32            `json:"magnetBar"`
	Sequence  uint16            `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
	Faulted   bool              `json:"faultInjected"`
}

// FromFrame promotes a CRC-valid frame into a snapshot
func FromFrame(f *imuframe.Frame) Snapshot {
	return Snapshot{
		Accel:     f.Accel,
		Gyro:      f.Gyro,
		Mag:       f.Mag,
		AHRS:      f.AHRS,
		MagnetBar: f.MagnetBar,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}
}

// Vector returns a pointer to the reading of the given sensor
func (s *Snapshot) Vector(k Kind) *imuframe.Vector3 {
	switch k {
	case Gyroscope:
		return &s.Gyro
	case Magnetometer:
		return &s.Mag
	default:
		return &s.Accel
	}
}

// Get returns one axis of one sensor
func (s *Snapshot) Get(k Kind, a Axis) float64 {
	v := s.Vector(k)
	switch a {
	case AxisY:
		return v.Y
	case AxisZ:
		return v.Z
	default:
		return v.X
	}
}

// Set overwrites one axis of one sensor
func (s *Snapshot) Set(k Kind, a Axis, value float64) {
	v := s.Vector(k)
	switch a {
	case AxisY:
		v.Y = value
	case AxisZ:
		v.Z = value
	default:
		v.X = value
	}
}
