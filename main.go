// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Furrow - hardware-in-the-loop test harness
//
// Drives magnetic-guided robot routes against a simulated or hardware-backed
// IMU, injects sensor faults and validates the resulting runs.

package main

import (
	"os"

	"github.com/Thermoquad/furrow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
