// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingServer  string
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a furrow server is up",
	Long: `Request /health from a running furrow server and report the round trip.

Each response shows the engine phase and the number of connected WebSocket
clients.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Invalid server URL`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().StringVar(&pingServer, "server", defaultServerURL, "Server base URL")
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

type healthResponse struct {
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	WSClients int    `json:"ws_clients"`
}

func runPing(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(pingServer, time.Duration(pingTimeout)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Furrow - Server Ping\n")
	fmt.Printf("Server: %s\n", pingServer)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		var health healthResponse
		if err := client.get(context.Background(), "/health", &health); err != nil {
			fmt.Printf("FAILED: %v\n", err)
		} else {
			rtt := time.Since(start)
			fmt.Printf("%s, phase=%s, ws_clients=%d, rtt=%v\n",
				health.Status, health.Phase, health.WSClients, rtt.Round(time.Millisecond))
			successCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	failCount := pingCount - successCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(max(pingCount, 1))*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
