// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

import (
	"encoding/binary"
	"math"
)

// EncodeFrame serializes a frame into its 64-byte wire form.
// Physical values are quantized to the wire resolution and clamped to int16.
// The length byte defaults to PayloadLength when unset; the CRC is always
// recomputed and f.CRC is ignored.
func EncodeFrame(f *Frame) []byte {
	buf := make([]byte, FrameSize)
	buf[0] = SyncByte1
	buf[1] = SyncByte2

	length := f.Length
	if length == 0 {
		length = PayloadLength
	}
	buf[offsetLength] = length

	binary.LittleEndian.PutUint32(buf[offsetMagnetBar:], f.MagnetBar)
	putVector(buf, offsetAccel, f.Accel, func(v float64) float64 { return v * AccelDivisor })
	putVector(buf, offsetGyro, f.Gyro, func(v float64) float64 { return v / GyroFactor })
	putVector(buf, offsetMag, f.Mag, func(v float64) float64 { return v * MagDivisor })
	putInt16(buf, offsetAHRS, f.AHRS.Roll*AHRSDivisor)
	putInt16(buf, offsetAHRS+2, f.AHRS.Pitch*AHRSDivisor)
	putInt16(buf, offsetAHRS+4, f.AHRS.Yaw*AHRSDivisor)
	binary.LittleEndian.PutUint16(buf[offsetSequence:], f.Sequence)

	binary.LittleEndian.PutUint16(buf[offsetCRC:], CalculateCRC(buf[:CRCCoverage]))
	return buf
}

// Quantize returns the frame as it would read back after a wire round trip
func Quantize(f *Frame) *Frame {
	decoded, err := ParseFrame(EncodeFrame(f))
	if err != nil {
		// EncodeFrame always produces a valid frame
		panic(err)
	}
	decoded.Timestamp = f.Timestamp
	return decoded
}

func putVector(buf []byte, offset int, v Vector3, scale func(float64) float64) {
	putInt16(buf, offset, scale(v.X))
	putInt16(buf, offset+2, scale(v.Y))
	putInt16(buf, offset+4, scale(v.Z))
}

func putInt16(buf []byte, offset int, v float64) {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		r = 0
	case r > math.MaxInt16:
		r = math.MaxInt16
	case r < math.MinInt16:
		r = math.MinInt16
	}
	binary.LittleEndian.PutUint16(buf[offset:], uint16(int16(r)))
}
