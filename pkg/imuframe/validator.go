// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

import (
	"fmt"
	"math"
)

// AnomalyType represents different kinds of implausible frame content
type AnomalyType int

const (
	AnomalyAttitudeRange AnomalyType = iota
	AnomalyZeroAccel
	AnomalyLengthMismatch
)

// Limits used by ValidateFrame
const (
	maxRollDegrees  = 180.0
	maxPitchDegrees = 90.0
	minYawDegrees   = -180.0
	maxYawDegrees   = 360.0
	minAccelG       = 0.05
)

// ValidationError represents a CRC-valid frame with implausible content
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a decoded frame for anomalous values.
// Returns a slice of validation errors (empty if the frame looks sane).
func ValidateFrame(f *Frame) []ValidationError {
	errors := []ValidationError{}

	if int(f.Length) > FrameSize-2 {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("length byte %d exceeds frame size", f.Length),
			Details: map[string]interface{}{"length": f.Length, "max": FrameSize - 2},
		})
	}

	if math.Abs(f.AHRS.Roll) > maxRollDegrees {
		errors = append(errors, attitudeError("roll", f.AHRS.Roll))
	}
	if math.Abs(f.AHRS.Pitch) > maxPitchDegrees {
		errors = append(errors, attitudeError("pitch", f.AHRS.Pitch))
	}
	if f.AHRS.Yaw < minYawDegrees || f.AHRS.Yaw >= maxYawDegrees {
		errors = append(errors, attitudeError("yaw", f.AHRS.Yaw))
	}

	magnitude := math.Sqrt(f.Accel.X*f.Accel.X + f.Accel.Y*f.Accel.Y + f.Accel.Z*f.Accel.Z)
	if magnitude < minAccelG {
		errors = append(errors, ValidationError{
			Type:    AnomalyZeroAccel,
			Message: fmt.Sprintf("accelerometer magnitude %.3fg is below %.2fg", magnitude, minAccelG),
			Details: map[string]interface{}{"magnitude": magnitude},
		})
	}

	return errors
}

func attitudeError(axis string, value float64) ValidationError {
	return ValidationError{
		Type:    AnomalyAttitudeRange,
		Message: fmt.Sprintf("AHRS %s out of range: %.2f°", axis, value),
		Details: map[string]interface{}{"axis": axis, "value": value},
	}
}
