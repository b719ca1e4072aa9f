// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package faults

import (
	"fmt"

	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// Profile is a validated, immutable set of faults
type Profile struct {
	enabled bool
	faults  []Fault

	offsets [len(sensor.Kinds)]imuframe.Vector3
	stuck   [len(sensor.Kinds)]stuckSlot
	noise   float64
}

type stuckSlot struct {
	set  bool
	axis sensor.Axis
}

// NewProfile validates faults and builds a profile. Each offset kind and the
// noise fault may appear once; each sensor may have one stuck axis.
func NewProfile(enabled bool, faults ...Fault) (*Profile, error) {
	p := &Profile{enabled: enabled}
	seen := map[Kind]bool{}

	for _, f := range faults {
		if f == nil {
			continue
		}
		if err := f.validate(); err != nil {
			return nil, err
		}

		switch f := f.(type) {
		case AccelerometerBias:
			p.offsets[sensor.Accelerometer] = f.Offset
		case GyroscopeDrift:
			p.offsets[sensor.Gyroscope] = f.Offset
		case MagnetometerInterference:
			p.offsets[sensor.Magnetometer] = f.Offset
		case StuckAxis:
			if p.stuck[f.Sensor].set {
				return nil, fmt.Errorf("%w: %s", ErrMultipleStuckAxis, f.Sensor)
			}
			p.stuck[f.Sensor] = stuckSlot{set: true, axis: f.Axis}
		case Noise:
			p.noise = f.Level
		}

		if f.Kind() != KindStuckAxis {
			if seen[f.Kind()] {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateFault, f.Kind())
			}
			seen[f.Kind()] = true
		}
		p.faults = append(p.faults, f)
	}

	return p, nil
}

// Disabled returns an empty, disabled profile
func Disabled() *Profile {
	return &Profile{}
}

// Enabled reports whether the profile is applied at all
func (p *Profile) Enabled() bool {
	return p != nil && p.enabled
}

// Faults returns the configured faults in the order given to NewProfile
func (p *Profile) Faults() []Fault {
	if p == nil {
		return nil
	}
	out := make([]Fault, len(p.faults))
	copy(out, p.faults)
	return out
}

// Offset returns the additive offset for a sensor
func (p *Profile) Offset(k sensor.Kind) imuframe.Vector3 {
	return p.offsets[k]
}

// StuckAxis returns the stuck axis of a sensor, if any
func (p *Profile) StuckAxis(k sensor.Kind) (sensor.Axis, bool) {
	slot := p.stuck[k]
	return slot.axis, slot.set
}

// NoiseLevel returns the configured noise amplitude (0 to 1)
func (p *Profile) NoiseLevel() float64 {
	return p.noise
}

// IsStuck reports whether the axis is frozen by this profile
func (p *Profile) IsStuck(k sensor.Kind, a sensor.Axis) bool {
	axis, ok := p.StuckAxis(k)
	return ok && axis == a
}
