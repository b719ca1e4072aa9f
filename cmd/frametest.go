// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/furrow/pkg/imuframe"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid IMU frame",
	Long: `Wait for a valid IMU frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any frame
that passes the sync marker and CRC checks. Garbage before the first frame is
skipped and counted.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Furrow - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid IMU frame...\n\n")

	// Channel to signal frame received
	frameChan := make(chan *imuframe.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		decoder := imuframe.NewDecoder()
		buf := make([]byte, 256)
		skipped := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			// Count bytes the decoder threw away while hunting for sync
			frames, errs := decoder.Feed(buf[:n])
			for _, e := range errs {
				if de, ok := e.(*imuframe.DecodeError); ok {
					skipped += de.Discarded
				}
			}
			if len(frames) > 0 {
				if skipped > 0 {
					fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
				}
				frameChan <- frames[0]
				return
			}
		}
	}()

	// Wait for frame or timeout
	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Sequence: %d\n", f.Sequence)
		fmt.Printf("  Length: %d bytes\n", f.Length)
		fmt.Printf("  CRC: 0x%04X\n", f.CRC)
		fmt.Printf("  Magnets: %v\n", f.DetectedMagnets())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}
