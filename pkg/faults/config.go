// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package faults

import (
	"fmt"

	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// Config is the external configuration surface of a fault profile
type Config struct {
	Enabled                  bool             `json:"enabled" yaml:"enabled"`
	AccelerometerBias        imuframe.Vector3 `json:"accelerometerBias" yaml:"accelerometer_bias"`
	GyroscopeDrift           imuframe.Vector3 `json:"gyroscopeDrift" yaml:"gyroscope_drift"`
	MagnetometerInterference imuframe.Vector3 `json:"magnetometerInterference" yaml:"magnetometer_interference"`
	StuckAxis                StuckAxisConfig  `json:"stuckAxis" yaml:"stuck_axis"`
	NoiseLevel               float64          `json:"noiseLevel" yaml:"noise_level"`
}

// StuckAxisConfig names the stuck axis per sensor ("x", "y", "z" or null)
type StuckAxisConfig struct {
	Accelerometer *string `json:"accelerometer" yaml:"accelerometer"`
	Gyroscope     *string `json:"gyroscope" yaml:"gyroscope"`
	Magnetometer  *string `json:"magnetometer" yaml:"magnetometer"`
}

func (s StuckAxisConfig) get(k sensor.Kind) *string {
	switch k {
	case sensor.Gyroscope:
		return s.Gyroscope
	case sensor.Magnetometer:
		return s.Magnetometer
	default:
		return s.Accelerometer
	}
}

func (s *StuckAxisConfig) set(k sensor.Kind, axis string) {
	switch k {
	case sensor.Gyroscope:
		s.Gyroscope = &axis
	case sensor.Magnetometer:
		s.Magnetometer = &axis
	default:
		s.Accelerometer = &axis
	}
}

// Profile converts the configuration into a validated profile.
// Zero offsets and a zero noise level produce no fault.
func (c Config) Profile() (*Profile, error) {
	var list []Fault

	var zero imuframe.Vector3
	if c.AccelerometerBias != zero {
		list = append(list, AccelerometerBias{Offset: c.AccelerometerBias})
	}
	if c.GyroscopeDrift != zero {
		list = append(list, GyroscopeDrift{Offset: c.GyroscopeDrift})
	}
	if c.MagnetometerInterference != zero {
		list = append(list, MagnetometerInterference{Offset: c.MagnetometerInterference})
	}

	for _, k := range sensor.Kinds {
		name := c.StuckAxis.get(k)
		if name == nil || *name == "" {
			continue
		}
		axis, err := sensor.ParseAxis(*name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s stuck axis %q", ErrInvalidAxis, k, *name)
		}
		list = append(list, StuckAxis{Sensor: k, Axis: axis})
	}

	if c.NoiseLevel != 0 {
		list = append(list, Noise{Level: c.NoiseLevel})
	}

	return NewProfile(c.Enabled, list...)
}

// Config renders the profile back into its configuration surface
func (p *Profile) Config() Config {
	if p == nil {
		return Config{}
	}
	c := Config{
		Enabled:                  p.enabled,
		AccelerometerBias:        p.offsets[sensor.Accelerometer],
		GyroscopeDrift:           p.offsets[sensor.Gyroscope],
		MagnetometerInterference: p.offsets[sensor.Magnetometer],
		NoiseLevel:               p.noise,
	}
	for _, k := range sensor.Kinds {
		if axis, ok := p.StuckAxis(k); ok {
			c.StuckAxis.set(k, axis.String())
		}
	}
	return c
}
