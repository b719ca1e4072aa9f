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

var wsTestCmd = &cobra.Command{
	Use:   "ws_test",
	Short: "Test link stability without interpreting frame contents",
	Long: `Hold the connection open for a fixed time and report what arrives.

Every chunk is counted and fed to a frame decoder, so the summary shows the
raw byte rate next to the number of frames that passed the CRC check. Useful
for debugging WebSocket relays that drop or fragment data.

Exit codes:
  0 - Test completed normally
  1 - Connection lost during the test
  2 - Connection error`,
	RunE: runWsTest,
}

var (
	wsTestDuration int
	wsTestVerbose  bool
)

func init() {
	rootCmd.AddCommand(wsTestCmd)
	wsTestCmd.Flags().IntVar(&wsTestDuration, "duration", 30, "Test duration in seconds")
	wsTestCmd.Flags().BoolVar(&wsTestVerbose, "verbose", false, "Print every chunk as hex")
}

func runWsTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Furrow - Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", wsTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	// Reader goroutine; copies each chunk since buf is reused
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	decoder := imuframe.NewDecoder()
	stats := imuframe.NewStatistics()
	start := time.Now()
	endTime := start.Add(time.Duration(wsTestDuration) * time.Second)
	chunks, bytesReceived, frames := 0, 0, 0

	summary := func(result string) {
		stats.CalculateRates()
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Chunks received: %d\n", chunks)
		fmt.Printf("Bytes received: %d\n", bytesReceived)
		fmt.Printf("Valid frames: %d\n", frames)
		fmt.Printf("Decoder: %s\n", stats.String())
		fmt.Printf("Result: %s\n", result)
	}

	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			chunks++
			bytesReceived += len(data)
			// Decode only to count frames; contents are not checked here
			got, errs := decoder.Feed(data)
			for _, e := range errs {
				stats.Update(nil, e, nil)
			}
			for _, f := range got {
				stats.Update(f, nil, imuframe.ValidateFrame(f))
			}
			frames += len(got)
			if wsTestVerbose {
				fmt.Printf("[%s] Received %d bytes: %x\n",
					time.Now().Format("15:04:05.000"), len(data), data)
			}

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			summary("FAILED (connection error)")
			os.Exit(1)

		case <-heartbeat.C:
			// Show progress even when nothing arrives
			fmt.Printf("[%s] Still connected... %d bytes, %d frames (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), bytesReceived, frames, time.Until(endTime).Seconds())
		}
	}

	summary("PASSED (connection stable)")
	return nil
}
