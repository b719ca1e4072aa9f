// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package faults

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// ============================================================
// Test Helpers
// ============================================================

// constantNoise always returns the same value
type constantNoise float64

func (c constantNoise) Float64() float64 { return float64(c) }

func snapshot(seq uint16, gz float64) sensor.Snapshot {
	return sensor.Snapshot{
		Accel:    imuframe.Vector3{X: 0.01, Y: -0.02, Z: 1.0},
		Gyro:     imuframe.Vector3{X: 0.001, Y: 0.002, Z: gz},
		Mag:      imuframe.Vector3{X: 0.2, Y: 0.1, Z: -0.4},
		Sequence: seq,
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustProfile(t *testing.T, enabled bool, faults ...Fault) *Profile {
	t.Helper()
	p, err := NewProfile(enabled, faults...)
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	return p
}

// ============================================================
// Profile Validation Tests
// ============================================================

func TestNewProfile_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		faults []Fault
		want   error
	}{
		{"noise above range", []Fault{Noise{Level: 1.5}}, ErrNoiseOutOfRange},
		{"negative noise", []Fault{Noise{Level: -0.1}}, ErrNoiseOutOfRange},
		{"NaN noise", []Fault{Noise{Level: math.NaN()}}, ErrNoiseOutOfRange},
		{"NaN offset", []Fault{AccelerometerBias{Offset: imuframe.Vector3{X: math.NaN()}}}, ErrNonFiniteOffset},
		{"infinite offset", []Fault{GyroscopeDrift{Offset: imuframe.Vector3{Z: math.Inf(1)}}}, ErrNonFiniteOffset},
		{"invalid axis", []Fault{StuckAxis{Sensor: sensor.Gyroscope, Axis: sensor.Axis(7)}}, ErrInvalidAxis},
		{"invalid sensor", []Fault{StuckAxis{Sensor: sensor.Kind(9), Axis: sensor.AxisX}}, ErrInvalidSensor},
		{
			"duplicate bias",
			[]Fault{
				AccelerometerBias{Offset: imuframe.Vector3{X: 1}},
				AccelerometerBias{Offset: imuframe.Vector3{Y: 1}},
			},
			ErrDuplicateFault,
		},
		{
			"two stuck axes on one sensor",
			[]Fault{
				StuckAxis{Sensor: sensor.Gyroscope, Axis: sensor.AxisX},
				StuckAxis{Sensor: sensor.Gyroscope, Axis: sensor.AxisZ},
			},
			ErrMultipleStuckAxis,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProfile(true, tt.faults...)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewProfile_Accessors(t *testing.T) {
	p := mustProfile(t, true,
		MagnetometerInterference{Offset: imuframe.Vector3{X: 50}},
		StuckAxis{Sensor: sensor.Accelerometer, Axis: sensor.AxisY},
		StuckAxis{Sensor: sensor.Magnetometer, Axis: sensor.AxisZ},
		Noise{Level: 0.3},
	)

	if !p.Enabled() {
		t.Error("Profile should be enabled")
	}
	if got := p.Offset(sensor.Magnetometer); got.X != 50 {
		t.Errorf("Magnetometer offset X = %v, want 50", got.X)
	}
	if got := p.Offset(sensor.Gyroscope); got != (imuframe.Vector3{}) {
		t.Errorf("Gyroscope offset = %+v, want zero", got)
	}
	if axis, ok := p.StuckAxis(sensor.Accelerometer); !ok || axis != sensor.AxisY {
		t.Errorf("Accelerometer stuck axis = %v/%v, want y/true", axis, ok)
	}
	if _, ok := p.StuckAxis(sensor.Gyroscope); ok {
		t.Error("Gyroscope should have no stuck axis")
	}
	if p.NoiseLevel() != 0.3 {
		t.Errorf("NoiseLevel = %v, want 0.3", p.NoiseLevel())
	}
	if len(p.Faults()) != 4 {
		t.Errorf("Faults() returned %d entries, want 4", len(p.Faults()))
	}
}

func TestDisabledProfile(t *testing.T) {
	p := Disabled()
	if p.Enabled() {
		t.Error("Disabled profile reports enabled")
	}
	var nilProfile *Profile
	if nilProfile.Enabled() {
		t.Error("nil profile reports enabled")
	}
}

// ============================================================
// Config Surface Tests
// ============================================================

func TestConfig_Profile(t *testing.T) {
	gz := "Z"
	c := Config{
		Enabled:        true,
		GyroscopeDrift: imuframe.Vector3{X: 0.1, Y: 0.05, Z: -0.08},
		StuckAxis:      StuckAxisConfig{Gyroscope: &gz},
		NoiseLevel:     0.2,
	}

	p, err := c.Profile()
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if axis, ok := p.StuckAxis(sensor.Gyroscope); !ok || axis != sensor.AxisZ {
		t.Errorf("Gyroscope stuck axis = %v/%v, want z/true", axis, ok)
	}

	back := p.Config()
	if back.GyroscopeDrift != c.GyroscopeDrift {
		t.Errorf("GyroscopeDrift = %+v, want %+v", back.GyroscopeDrift, c.GyroscopeDrift)
	}
	if back.StuckAxis.Gyroscope == nil || *back.StuckAxis.Gyroscope != "z" {
		t.Errorf("StuckAxis.Gyroscope = %v, want z", back.StuckAxis.Gyroscope)
	}
	if back.StuckAxis.Accelerometer != nil || back.StuckAxis.Magnetometer != nil {
		t.Error("Unset stuck axes should render as nil")
	}
	if back.NoiseLevel != 0.2 || !back.Enabled {
		t.Errorf("Round trip lost fields: %+v", back)
	}
}

func TestConfig_Rejects(t *testing.T) {
	bad := "w"
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"unknown axis", Config{Enabled: true, StuckAxis: StuckAxisConfig{Magnetometer: &bad}}, ErrInvalidAxis},
		{"noise out of range", Config{Enabled: true, NoiseLevel: 2}, ErrNoiseOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cfg.Profile(); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestConfig_EmptyAxisIgnored(t *testing.T) {
	empty := ""
	p, err := Config{Enabled: true, StuckAxis: StuckAxisConfig{Accelerometer: &empty}}.Profile()
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if _, ok := p.StuckAxis(sensor.Accelerometer); ok {
		t.Error("Empty axis name should not create a stuck axis")
	}
}

// ============================================================
// Apply Tests
// ============================================================

func TestApply_DisabledPassesThrough(t *testing.T) {
	inj := NewInjector(WithSeed(1))
	inj.Set(mustProfile(t, false, AccelerometerBias{Offset: imuframe.Vector3{X: 1}}))

	in := snapshot(1, 0.5)
	out := inj.Apply(in)
	if out != in {
		t.Errorf("Disabled profile modified snapshot: %+v", out)
	}
	if out.Faulted {
		t.Error("Disabled profile marked snapshot as faulted")
	}
}

func TestApply_Bias(t *testing.T) {
	inj := NewInjector(WithSeed(1))
	inj.Set(mustProfile(t, true,
		AccelerometerBias{Offset: imuframe.Vector3{X: 0.2, Y: -0.15, Z: 0.1}},
		GyroscopeDrift{Offset: imuframe.Vector3{Z: -0.08}},
		MagnetometerInterference{Offset: imuframe.Vector3{X: 50}},
	))

	in := snapshot(1, 0.5)
	out := inj.Apply(in)

	if !approxEqual(out.Accel.X, in.Accel.X+0.2) || !approxEqual(out.Accel.Y, in.Accel.Y-0.15) || !approxEqual(out.Accel.Z, in.Accel.Z+0.1) {
		t.Errorf("Accelerometer bias not applied: %+v", out.Accel)
	}
	if !approxEqual(out.Gyro.Z, 0.42) {
		t.Errorf("Gyroscope Z = %v, want 0.42", out.Gyro.Z)
	}
	if !approxEqual(out.Mag.X, 50.2) {
		t.Errorf("Magnetometer X = %v, want 50.2", out.Mag.X)
	}
	if !out.Faulted {
		t.Error("Snapshot should be marked faulted")
	}
}

func TestApply_NoiseScale(t *testing.T) {
	// constant 0.75 gives (0.75-0.5)*0.4 = 0.1 before per-sensor scaling
	inj := NewInjector(WithNoiseSource(constantNoise(0.75)))
	inj.Set(mustProfile(t, true, Noise{Level: 0.4}))

	in := snapshot(1, 0.5)
	out := inj.Apply(in)

	tests := []struct {
		name  string
		kind  sensor.Kind
		delta float64
	}{
		{"accelerometer", sensor.Accelerometer, 0.1},
		{"gyroscope", sensor.Gyroscope, 0.01},
		{"magnetometer", sensor.Magnetometer, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, a := range sensor.Axes {
				want := in.Get(tt.kind, a) + tt.delta
				if got := out.Get(tt.kind, a); !approxEqual(got, want) {
					t.Errorf("%s.%s = %v, want %v", tt.kind, a, got, want)
				}
			}
		})
	}
}

func TestApply_StuckAxisFreezesAtEnable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	inj := NewInjector(WithSeed(7))

	var last sensor.Snapshot
	for i := 0; i < 5; i++ {
		last = inj.Apply(snapshot(uint16(i), rng.Float64()))
	}
	captured := last.Gyro.Z

	p, err := Scenario("stuck_gyro_z")
	if err != nil {
		t.Fatalf("Scenario: %v", err)
	}
	inj.Set(p)

	for i := 0; i < 200; i++ {
		in := snapshot(uint16(100+i), rng.Float64()*10-5)
		in.Accel.X = rng.Float64()
		out := inj.Apply(in)

		if out.Gyro.Z != captured {
			t.Fatalf("Frame %d: gyro Z = %v, want frozen %v", i, out.Gyro.Z, captured)
		}
		if out.Accel.X != in.Accel.X {
			t.Fatalf("Frame %d: accel X changed without a fault", i)
		}
	}

	inj.Clear()
	in := snapshot(500, 3.25)
	if out := inj.Apply(in); out.Gyro.Z != 3.25 {
		t.Errorf("After Clear gyro Z = %v, want live value 3.25", out.Gyro.Z)
	}
}

func TestApply_StuckAxisWithoutHistory(t *testing.T) {
	inj := NewInjector(WithSeed(1))
	inj.Set(mustProfile(t, true,
		GyroscopeDrift{Offset: imuframe.Vector3{Z: 1}},
		StuckAxis{Sensor: sensor.Gyroscope, Axis: sensor.AxisZ},
	))

	first := inj.Apply(snapshot(1, 0.5))
	if !approxEqual(first.Gyro.Z, 1.5) {
		t.Fatalf("First value = %v, want biased 1.5", first.Gyro.Z)
	}
	for i := 0; i < 10; i++ {
		if out := inj.Apply(snapshot(uint16(i+2), float64(i))); out.Gyro.Z != first.Gyro.Z {
			t.Fatalf("Gyro Z drifted to %v", out.Gyro.Z)
		}
	}
}

func TestApply_StuckAxisSkipsNoise(t *testing.T) {
	inj := NewInjector(WithNoiseSource(constantNoise(0.9)))
	inj.Apply(snapshot(1, 0.5))
	inj.Set(mustProfile(t, true,
		StuckAxis{Sensor: sensor.Gyroscope, Axis: sensor.AxisZ},
		Noise{Level: 1},
	))

	out := inj.Apply(snapshot(2, 0.9))
	if out.Gyro.Z != 0.5 {
		t.Errorf("Stuck axis received noise: %v", out.Gyro.Z)
	}
	if approxEqual(out.Gyro.X, 0.001) {
		t.Error("Non-stuck axis did not receive noise")
	}
}

func TestApply_ReplaceKeepsFrozenValue(t *testing.T) {
	inj := NewInjector(WithSeed(3))
	inj.Apply(snapshot(1, 0.25))

	stuck := StuckAxis{Sensor: sensor.Gyroscope, Axis: sensor.AxisZ}
	inj.Set(mustProfile(t, true, stuck))
	inj.Apply(snapshot(2, 9))

	// same stuck axis, new bias: the frozen value must survive the swap
	inj.Set(mustProfile(t, true, stuck, AccelerometerBias{Offset: imuframe.Vector3{X: 1}}))
	if out := inj.Apply(snapshot(3, 7)); out.Gyro.Z != 0.25 {
		t.Errorf("Gyro Z = %v, want 0.25 kept across replacement", out.Gyro.Z)
	}
}

func TestApply_SeededDeterminism(t *testing.T) {
	a := NewInjector(WithSeed(42))
	b := NewInjector(WithSeed(42))
	p := mustProfile(t, true, Noise{Level: 0.5})
	a.Set(p)
	b.Set(p)

	for i := 0; i < 50; i++ {
		in := snapshot(uint16(i), float64(i)/10)
		if oa, ob := a.Apply(in), b.Apply(in); oa != ob {
			t.Fatalf("Frame %d differs: %+v vs %+v", i, oa, ob)
		}
	}
}

// ============================================================
// Change Notification Tests
// ============================================================

func TestChangeHook(t *testing.T) {
	var seen []*Profile
	inj := NewInjector(WithSeed(1), WithChangeHook(func(p *Profile) {
		seen = append(seen, p)
	}))

	p := mustProfile(t, true, Noise{Level: 0.1})
	inj.Set(p)
	inj.Clear()

	if len(seen) != 2 {
		t.Fatalf("Hook called %d times, want 2", len(seen))
	}
	if seen[0] != p {
		t.Error("First notification should carry the new profile")
	}
	if seen[1].Enabled() {
		t.Error("Clear should notify with a disabled profile")
	}
}

func TestSetConfig_InvalidKeepsActive(t *testing.T) {
	calls := 0
	inj := NewInjector(WithSeed(1), WithChangeHook(func(*Profile) { calls++ }))

	active, err := inj.SetConfig(Config{Enabled: true, NoiseLevel: 0.1})
	if err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	if _, err := inj.SetConfig(Config{Enabled: true, NoiseLevel: 3}); !errors.Is(err, ErrNoiseOutOfRange) {
		t.Fatalf("Expected ErrNoiseOutOfRange, got %v", err)
	}
	if inj.Profile() != active {
		t.Error("Rejected config replaced the active profile")
	}
	if calls != 1 {
		t.Errorf("Hook called %d times, want 1", calls)
	}
}

// ============================================================
// Scenario Tests
// ============================================================

func TestScenarios(t *testing.T) {
	names := Scenarios()
	if len(names) != 7 {
		t.Fatalf("Expected 7 scenarios, got %d", len(names))
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			p, err := Scenario(name)
			if err != nil {
				t.Fatalf("Scenario(%q): %v", name, err)
			}
			if !p.Enabled() {
				t.Error("Scenario profile should be enabled")
			}
		})
	}
}

func TestScenario_Unknown(t *testing.T) {
	if _, err := Scenario("meteor_strike"); !errors.Is(err, ErrUnknownScenario) {
		t.Errorf("Expected ErrUnknownScenario, got %v", err)
	}
}
