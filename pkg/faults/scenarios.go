// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Thermoquad/furrow/pkg/imuframe"
)

// ErrUnknownScenario is returned for a scenario name that is not defined
var ErrUnknownScenario = errors.New("unknown fault scenario")

func axisName(s string) *string { return &s }

var scenarios = map[string]Config{
	"gyro_drift": {
		Enabled:        true,
		GyroscopeDrift: imuframe.Vector3{X: 0.1, Y: 0.05, Z: -0.08},
		NoiseLevel:     0.1,
	},
	"accel_bias": {
		Enabled:           true,
		AccelerometerBias: imuframe.Vector3{X: 0.2, Y: -0.15, Z: 0.1},
		NoiseLevel:        0.05,
	},
	"mag_interference": {
		Enabled:                  true,
		MagnetometerInterference: imuframe.Vector3{X: 50, Y: -30, Z: 20},
		NoiseLevel:               0.2,
	},
	"stuck_accel_x": {
		Enabled:   true,
		StuckAxis: StuckAxisConfig{Accelerometer: axisName("x")},
	},
	"stuck_gyro_z": {
		Enabled:   true,
		StuckAxis: StuckAxisConfig{Gyroscope: axisName("z")},
	},
	"high_noise": {
		Enabled:    true,
		NoiseLevel: 0.5,
	},
	"combined_faults": {
		Enabled:                  true,
		AccelerometerBias:        imuframe.Vector3{X: 0.1, Y: 0.1, Z: 0.1},
		GyroscopeDrift:           imuframe.Vector3{X: 0.05, Y: 0.05, Z: 0.05},
		MagnetometerInterference: imuframe.Vector3{X: 20, Y: 20, Z: 20},
		NoiseLevel:               0.15,
	},
}

// Scenarios returns the names of the predefined scenarios, sorted
func Scenarios() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scenario returns the profile of a predefined scenario
func Scenario(name string) (*Profile, error) {
	c, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownScenario, name, strings.Join(Scenarios(), ", "))
	}
	return c.Profile()
}
