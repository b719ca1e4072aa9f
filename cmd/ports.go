// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsUSBOnly bool

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports that may carry the IMU board",
	Long: `Enumerate serial ports and print their USB identifiers.

The IMU board enumerates as a USB CDC device. Use --usb to hide ports that
are not backed by USB.

Exit codes:
  0 - At least one port found
  1 - No ports found
  2 - Enumeration error`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsUSBOnly, "usb", false, "Only list USB ports")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}

	found := 0
	for _, p := range ports {
		if portsUSBOnly && !p.IsUSB {
			continue
		}
		found++
		fmt.Println(describePort(p))
	}

	fmt.Printf("\n--- Port summary ---\n")
	fmt.Printf("Ports found: %d\n", found)
	if found == 0 {
		fmt.Printf("No ports found. Check the USB cable and board power.\n")
		os.Exit(1)
	}
	return nil
}

func describePort(p *enumerator.PortDetails) string {
	if !p.IsUSB {
		return p.Name
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n  USB ID: %s:%s", p.Name, p.VID, p.PID)
	if p.Product != "" {
		fmt.Fprintf(&b, "\n  Product: %s", p.Product)
	}
	if p.SerialNumber != "" {
		fmt.Fprintf(&b, "\n  Serial: %s", p.SerialNumber)
	}
	return b.String()
}
