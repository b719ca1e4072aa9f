// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package faults

import (
	"errors"
	"fmt"
	"math"

	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// Configuration errors. A profile that passes NewProfile can always be applied.
var (
	ErrInvalidAxis       = errors.New("invalid axis")
	ErrInvalidSensor     = errors.New("invalid sensor")
	ErrNoiseOutOfRange   = errors.New("noise level out of range")
	ErrNonFiniteOffset   = errors.New("offset must be finite")
	ErrDuplicateFault    = errors.New("duplicate fault")
	ErrMultipleStuckAxis = errors.New("at most one stuck axis per sensor")
)

// Kind names a fault variant
type Kind string

const (
	KindAccelerometerBias        Kind = "accelerometer_bias"
	KindGyroscopeDrift           Kind = "gyroscope_drift"
	KindMagnetometerInterference Kind = "magnetometer_interference"
	KindStuckAxis                Kind = "stuck_axis"
	KindNoise                    Kind = "noise"
)

// Fault is one configured failure mode. Implementations are limited to the
// types in this package.
type Fault interface {
	Kind() Kind
	validate() error
}

// AccelerometerBias adds a constant offset (g) to the accelerometer
type AccelerometerBias struct {
	Offset imuframe.Vector3
}

// GyroscopeDrift adds a constant offset (rad/s) to the gyroscope
type GyroscopeDrift struct {
	Offset imuframe.Vector3
}

// MagnetometerInterference adds a constant offset (gauss) to the magnetometer
type MagnetometerInterference struct {
	Offset imuframe.Vector3
}

// StuckAxis freezes one axis of one sensor at the value it held when the
// fault was enabled
type StuckAxis struct {
	Sensor sensor.Kind
	Axis   sensor.Axis
}

// Noise adds uniform noise to every non-stuck axis. Level is in [0, 1] and is
// scaled per sensor (accelerometer 1x, gyroscope 0.1x, magnetometer 10x).
type Noise struct {
	Level float64
}

func (AccelerometerBias) Kind() Kind        { return KindAccelerometerBias }
func (GyroscopeDrift) Kind() Kind           { return KindGyroscopeDrift }
func (MagnetometerInterference) Kind() Kind { return KindMagnetometerInterference }
func (StuckAxis) Kind() Kind                { return KindStuckAxis }
func (Noise) Kind() Kind                    { return KindNoise }

func (f AccelerometerBias) validate() error        { return validateOffset(f.Kind(), f.Offset) }
func (f GyroscopeDrift) validate() error           { return validateOffset(f.Kind(), f.Offset) }
func (f MagnetometerInterference) validate() error { return validateOffset(f.Kind(), f.Offset) }

func (f StuckAxis) validate() error {
	if f.Sensor < sensor.Accelerometer || f.Sensor > sensor.Magnetometer {
		return fmt.Errorf("%w: %d", ErrInvalidSensor, int(f.Sensor))
	}
	if f.Axis < sensor.AxisX || f.Axis > sensor.AxisZ {
		return fmt.Errorf("%w: %d", ErrInvalidAxis, int(f.Axis))
	}
	return nil
}

func (f Noise) validate() error {
	if math.IsNaN(f.Level) || f.Level < 0 || f.Level > 1 {
		return fmt.Errorf("%w: %v (want 0.0 to 1.0)", ErrNoiseOutOfRange, f.Level)
	}
	return nil
}

func validateOffset(kind Kind, v imuframe.Vector3) error {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%s: %w", kind, ErrNonFiniteOffset)
		}
	}
	return nil
}

// noiseScale is the per-sensor multiplier applied to the noise level
var noiseScale = [...]float64{
	sensor.Accelerometer: 1,
	sensor.Gyroscope:     0.1,
	sensor.Magnetometer:  10,
}
