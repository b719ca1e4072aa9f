// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"math"
	"time"

	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// Simulated sensor model
const (
	imuNoise          = 0.1  // degrees
	magneticNoise     = 20.0 // mm
	magneticSpacing   = 1000.0
	nominalBattery    = 24.5
	minBattery        = 20.0
	batteryRipple     = 0.1
	nominalTemp       = 25.0
	tempRipple        = 5.0
	encoderTicksPerMM = 1.0
)

// updateSensors refreshes the sensor block of the robot state, from the
// hardware snapshot when one is fresh and from the noise model otherwise
func (e *Engine) updateSensors(snap sensor.Snapshot, fresh bool, dt time.Duration) {
	s := &e.state.Sensors

	if fresh {
		s.Source = robot.SourceHardware
		s.IsConnected = true
		s.IMUAngle = robot.NormalizeHeading(snap.AHRS.Yaw)
	} else {
		s.Source = robot.SourceSynthetic
		s.IsConnected = !e.cfg.HardwareMode
		s.IMUAngle = e.state.Position.Heading + e.noise(imuNoise)
	}

	s.MagneticPosition = math.Mod(e.state.Position.X, magneticSpacing) - magneticSpacing/2 + e.noise(magneticNoise)
	s.Temperature = nominalTemp + e.noise(tempRipple)
	s.BatteryVoltage = math.Max(minBattery, nominalBattery-e.rng.Float64()*batteryRipple)

	if e.state.Motors.IsRunning {
		distance := (e.state.Motors.LeftSpeed + e.state.Motors.RightSpeed) / 2 * dt.Seconds()
		s.EncoderLeft += distance * encoderTicksPerMM
		s.EncoderRight += distance * encoderTicksPerMM
	}
}

// noise returns a uniform value in [-amplitude/2, amplitude/2)
func (e *Engine) noise(amplitude float64) float64 {
	return (e.rng.Float64() - 0.5) * amplitude
}
