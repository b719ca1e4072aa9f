// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/furrow/internal/bridge"
	"github.com/Thermoquad/furrow/pkg/events"
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/runlog"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

var (
	monitorStatsInterval int
	monitorTUI           bool
	monitorScenario      string
	monitorCSV           string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor the IMU stream for framing errors and anomalies",
	Long: `Track IMU frame errors, resyncs and anomalous readings with statistics.

Frames pass through the same bridge the server uses:
  - CRC and sync marker errors, with the bytes discarded while resyncing
  - Sequence gaps
  - Anomalous readings (AHRS out of range, zero acceleration)
  - Frame rate and error rate

Use --faults to apply a named fault scenario to the displayed readings, and
--csv to record every accepted snapshot.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().StringVar(&monitorScenario, "faults", "", "Fault scenario to apply to the readings")
	monitorCmd.Flags().StringVar(&monitorCSV, "csv", "", "Record snapshots to this CSV file")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	injector := faults.NewInjector()
	if monitorScenario != "" {
		p, err := faults.Scenario(monitorScenario)
		if err != nil {
			return err
		}
		injector.Set(p)
	}

	opts := []bridge.Option{}
	if monitorCSV != "" {
		rec, err := bridge.CreateCSV(monitorCSV)
		if err != nil {
			return err
		}
		defer rec.Close()
		opts = append(opts, bridge.WithRecorder(rec))
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	bus := events.NewBus()
	defer bus.Close()
	diagnostics, cancelSub := bus.Subscribe(events.DefaultBuffer)
	defer cancelSub()

	link := bridge.New(injector, &sensor.Cell{}, append(opts, bridge.WithBus(bus))...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	linkErr := make(chan error, 1)
	go func() { linkErr <- link.Run(ctx, conn, connInfo) }()

	if monitorTUI {
		return runMonitorTUI(ctx, link, connInfo, diagnostics)
	}
	return runMonitorText(ctx, link, connInfo, diagnostics, linkErr)
}

// runMonitorTUI runs the monitor in TUI mode
func runMonitorTUI(ctx context.Context, link *bridge.Bridge, connInfo string, diagnostics <-chan events.Event) error {
	p := tea.NewProgram(initialMonitorModel(link, connInfo, monitorScenario))

	go func() {
		for {
			select {
			case <-ctx.Done():
				p.Quit()
				return
			case ev, ok := <-diagnostics:
				if !ok {
					return
				}
				if l, ok := ev.(events.Log); ok {
					p.Send(diagnosticMsg(l.Entry))
				}
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runMonitorText prints diagnostics as they arrive and a statistics summary
// every interval
func runMonitorText(ctx context.Context, link *bridge.Bridge, connInfo string, diagnostics <-chan events.Event, linkErr <-chan error) error {
	fmt.Printf("Furrow - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", monitorStatsInterval)
	if monitorScenario != "" {
		fmt.Printf("Fault scenario: %s\n", monitorScenario)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
	defer statsTicker.Stop()

	printStats := func() {
		stats := link.Statistics()
		fmt.Println()
		fmt.Print(stats.String())
		fmt.Println()
	}

	for {
		select {
		case <-ctx.Done():
			printStats()
			return nil

		case err := <-linkErr:
			printStats()
			return err

		case ev, ok := <-diagnostics:
			if !ok {
				return nil
			}
			if l, ok := ev.(events.Log); ok {
				printDiagnostic(l.Entry)
			}

		case <-statsTicker.C:
			printStats()
		}
	}
}

// printDiagnostic prints a bridge diagnostic in highlighted format
func printDiagnostic(e runlog.Entry) {
	timestamp := time.UnixMilli(e.Timestamp).Format("15:04:05.000")
	switch e.Level {
	case runlog.LevelError:
		fmt.Printf("[%s] \033[1;31mERROR:\033[0m %s\n", timestamp, e.Message)
	case runlog.LevelWarning:
		fmt.Printf("[%s] \033[1;33mWARNING:\033[0m %s\n", timestamp, e.Message)
	default:
		fmt.Printf("[%s] \033[1;32mINFO:\033[0m %s\n", timestamp, e.Message)
	}
}
