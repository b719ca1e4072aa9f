// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

// Framing
const (
	SyncByte1 = 0xAA
	SyncByte2 = 0x55

	FrameSize = 64
	// CRCCoverage is the number of leading bytes covered by the CRC (bytes 0-32)
	CRCCoverage = 33

	// DefaultMaxBuffer caps the decoder accumulation buffer
	DefaultMaxBuffer = 4096
)

// Field offsets within a frame
const (
	offsetLength    = 2
	offsetMagnetBar = 3
	offsetAccel     = 7
	offsetGyro      = 13
	offsetMag       = 19
	offsetAHRS      = 25
	offsetSequence  = 31
	offsetCRC       = 33
)

// Unit conversion factors (raw int16 -> physical units)
const (
	AccelDivisor = 16000.0  // raw / AccelDivisor = g
	GyroFactor   = 0.000285 // raw * GyroFactor = rad/s
	MagDivisor   = 1000.0   // raw / MagDivisor = gauss
	AHRSDivisor  = 100.0    // raw / AHRSDivisor = degrees
)

// PayloadLength is the value written to the length byte by EncodeFrame:
// bytes from the magnet bar through the sequence number.
const PayloadLength = offsetCRC - offsetMagnetBar

// MagnetBarSensors is the number of hall sensors on the magnet bar
const MagnetBarSensors = 32

const (
	crcPolynomial = 0xA001
	crcInitial    = 0xFFFF
)
