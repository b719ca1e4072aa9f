// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] IMU_FRAME seq=%d len=%d crc=0x%04X\n", timestamp, f.Sequence, f.Length, f.CRC)
	fmt.Fprintf(&b, "  Accel: x=%.4f y=%.4f z=%.4f g\n", f.Accel.X, f.Accel.Y, f.Accel.Z)
	fmt.Fprintf(&b, "  Gyro:  x=%.4f y=%.4f z=%.4f rad/s\n", f.Gyro.X, f.Gyro.Y, f.Gyro.Z)
	fmt.Fprintf(&b, "  Mag:   x=%.3f y=%.3f z=%.3f gauss\n", f.Mag.X, f.Mag.Y, f.Mag.Z)
	fmt.Fprintf(&b, "  AHRS:  roll=%.2f° pitch=%.2f° yaw=%.2f°\n", f.AHRS.Roll, f.AHRS.Pitch, f.AHRS.Yaw)
	fmt.Fprintf(&b, "  Magnet bar: %s (0x%08X)\n", FormatMagnetBar(f.MagnetBar), f.MagnetBar)
	return b.String()
}

// FormatMagnetBar renders the magnet bar bitmask with sensor 0 on the left
func FormatMagnetBar(status uint32) string {
	var b strings.Builder
	for i := 0; i < MagnetBarSensors; i++ {
		if status&(1<<uint(i)) != 0 {
			b.WriteByte('|')
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}
