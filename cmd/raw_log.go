// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/furrow/pkg/imuframe"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display IMU frames in human-readable format",
	Long: `Continuously decode and display IMU frames as they arrive.

Each frame is printed with its sequence number, accelerometer, gyroscope,
magnetometer and attitude readings and the magnet bar status. Framing and
CRC errors are printed inline.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Furrow - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := imuframe.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A WebSocket read error is permanent
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Printf("Connection closed")
				return nil
			}
			log.Printf("Read error: %v", err)
			continue
		}

		frames, errs := decoder.Feed(buf[:n])
		for _, err := range errs {
			fmt.Printf("[ERROR] %v\n", err)
		}
		for _, f := range frames {
			fmt.Print(imuframe.FormatFrame(f))
		}
	}
}
