// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

import (
	"encoding/binary"
	"time"
)

// Vector3 is a three-axis sensor reading in physical units
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns the component-wise sum of two vectors
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Attitude is the AHRS orientation in degrees
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Frame is a decoded IMU wire frame
type Frame struct {
	Length    uint8     `json:"length"`
	MagnetBar uint32    `json:"magnetBar"`
	Accel     Vector3   `json:"accelerometer"` // g
	Gyro      Vector3   `json:"gyroscope"`     // rad/s
	Mag       Vector3   `json:"magnetometer"`  // gauss
	AHRS      Attitude  `json:"ahrs"`          // degrees
	Sequence  uint16    `json:"sequence"`
	CRC       uint16    `json:"crc"`
	CRCValid  bool      `json:"crcValid"`
	Timestamp time.Time `json:"timestamp"`
}

// DetectedMagnets returns the indices of the magnet bar sensors that are set
func (f *Frame) DetectedMagnets() []int {
	detected := []int{}
	for i := 0; i < MagnetBarSensors; i++ {
		if f.MagnetBar&(1<<uint(i)) != 0 {
			detected = append(detected, i)
		}
	}
	return detected
}

// ParseFrame decodes exactly one frame from data, which must be FrameSize bytes
// long. The sync pair and CRC are verified; failures are returned as *DecodeError.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < FrameSize {
		return nil, &DecodeError{Kind: ErrShortFrame}
	}
	if data[0] != SyncByte1 || data[1] != SyncByte2 {
		return nil, &DecodeError{Kind: ErrMarkerMismatch}
	}

	received := binary.LittleEndian.Uint16(data[offsetCRC:])
	calculated := CalculateCRC(data[:CRCCoverage])
	if received != calculated {
		return nil, &DecodeError{Kind: ErrCRCMismatch, Expected: calculated, Received: received}
	}

	return &Frame{
		Length:    data[offsetLength],
		MagnetBar: binary.LittleEndian.Uint32(data[offsetMagnetBar:]),
		Accel:     readVector(data, offsetAccel, func(raw int16) float64 { return float64(raw) / AccelDivisor }),
		Gyro:      readVector(data, offsetGyro, func(raw int16) float64 { return float64(raw) * GyroFactor }),
		Mag:       readVector(data, offsetMag, func(raw int16) float64 { return float64(raw) / MagDivisor }),
		AHRS: Attitude{
			Roll:  float64(readInt16(data, offsetAHRS)) / AHRSDivisor,
			Pitch: float64(readInt16(data, offsetAHRS+2)) / AHRSDivisor,
			Yaw:   float64(readInt16(data, offsetAHRS+4)) / AHRSDivisor,
		},
		Sequence: binary.LittleEndian.Uint16(data[offsetSequence:]),
		CRC:      received,
		CRCValid: true,
	}, nil
}

func readInt16(data []byte, offset int) int16 {
	return int16(binary.LittleEndian.Uint16(data[offset:]))
}

func readVector(data []byte, offset int, convert func(int16) float64) Vector3 {
	return Vector3{
		X: convert(readInt16(data, offset)),
		Y: convert(readInt16(data, offset+2)),
		Z: convert(readInt16(data, offset+4)),
	}
}
