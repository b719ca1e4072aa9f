// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package robot

import "math"

// Map dimensions in millimetres
const (
	DefaultMapWidth  = 10000.0
	DefaultMapHeight = 8000.0
)

// Error codes reported in State.Errors
const (
	ErrCodeMotorTimeout       = "E001"
	ErrCodeSensorDisconnected = "E002"
	ErrCodeMagneticLost       = "E003"
	ErrCodeRouteStepFailed    = "E004"
	ErrCodeEmergencyStop      = "E005"
	ErrCodeBatteryLow         = "E006"
	ErrCodeIMUCalibration     = "E007"
)

// ErrorMessages maps error codes to their descriptions
var ErrorMessages = map[string]string{
	ErrCodeMotorTimeout:       "Motor response timeout",
	ErrCodeSensorDisconnected: "Sensor disconnected",
	ErrCodeMagneticLost:       "Magnetic line lost",
	ErrCodeRouteStepFailed:    "Route step execution failed",
	ErrCodeEmergencyStop:      "Emergency stop activated",
	ErrCodeBatteryLow:         "Battery voltage too low",
	ErrCodeIMUCalibration:     "IMU calibration required",
}

// Sensor sources
const (
	SourceSynthetic = "synthetic"
	SourceHardware  = "hardware"
)

// Position is the robot pose on the map. X and Y are in mm, Heading in
// degrees within [0, 360).
type Position struct {
	X         float64 `json:"x" cbor:"x"`
	Y         float64 `json:"y" cbor:"y"`
	Heading   float64 `json:"angle" cbor:"angle"`
	Timestamp int64   `json:"timestamp" cbor:"timestamp"` // ms
}

// Motors holds the commanded drive speeds (mm/s)
type Motors struct {
	LeftSpeed  float64 `json:"leftSpeed" cbor:"leftSpeed"`
	RightSpeed float64 `json:"rightSpeed" cbor:"rightSpeed"`
	IsRunning  bool    `json:"isRunning" cbor:"isRunning"`
}

// Sensors is the simulated (or hardware-derived) sensor state
type Sensors struct {
	MagneticPosition float64 `json:"magneticPosition" cbor:"magneticPosition"`
	IMUAngle         float64 `json:"imuAngle" cbor:"imuAngle"`
	EncoderLeft      float64 `json:"encoderLeft" cbor:"encoderLeft"`
	EncoderRight     float64 `json:"encoderRight" cbor:"encoderRight"`
	BatteryVoltage   float64 `json:"batteryVoltage" cbor:"batteryVoltage"`
	Temperature      float64 `json:"temperature" cbor:"temperature"`
	IsConnected      bool    `json:"isConnected" cbor:"isConnected"`
	Source           string  `json:"source" cbor:"source"`
}

// State is the robot kinematic state, mutated once per engine tick
type State struct {
	ID           string   `json:"id" cbor:"id"`
	Position     Position `json:"position" cbor:"position"`
	Motors       Motors   `json:"motors" cbor:"motors"`
	Sensors      Sensors  `json:"sensors" cbor:"sensors"`
	CurrentRoute *int     `json:"currentRoute,omitempty" cbor:"currentRoute,omitempty"`
	CurrentStep  *int     `json:"currentStep,omitempty" cbor:"currentStep,omitempty"`
	IsRunning    bool     `json:"isRunning" cbor:"isRunning"`
	Errors       []string `json:"errors" cbor:"errors"`
	LastUpdate   int64    `json:"lastUpdate" cbor:"lastUpdate"` // ms
}

// New returns an idle robot at the centre of the map
func New(id string, mapWidth, mapHeight float64, now int64) State {
	return State{
		ID:       id,
		Position: Position{X: mapWidth / 2, Y: mapHeight / 2, Timestamp: now},
		Sensors: Sensors{
			BatteryVoltage: 24.5,
			Temperature:    25.0,
			IsConnected:    true,
			Source:         SourceSynthetic,
		},
		Errors:     []string{},
		LastUpdate: now,
	}
}

// Clone returns a deep copy
func (s State) Clone() State {
	out := s
	if s.CurrentRoute != nil {
		v := *s.CurrentRoute
		out.CurrentRoute = &v
	}
	if s.CurrentStep != nil {
		v := *s.CurrentStep
		out.CurrentStep = &v
	}
	out.Errors = append([]string{}, s.Errors...)
	return out
}

// HasError reports whether code has been raised
func (s *State) HasError(code string) bool {
	for _, e := range s.Errors {
		if e == code {
			return true
		}
	}
	return false
}

// NormalizeHeading maps any angle in degrees into [0, 360)
func NormalizeHeading(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// AngleDifference returns the smallest absolute difference between two
// headings, in degrees
func AngleDifference(a, b float64) float64 {
	d := math.Abs(NormalizeHeading(a) - NormalizeHeading(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}
