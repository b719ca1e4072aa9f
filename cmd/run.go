// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/internal/bridge"
	"github.com/Thermoquad/furrow/internal/logging"
	"github.com/Thermoquad/furrow/pkg/engine"
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/route"
	"github.com/Thermoquad/furrow/pkg/sensor"
	"github.com/Thermoquad/furrow/pkg/validation"
)

var (
	runRouteID    int
	runCatalog    string
	runSeed       int64
	runMaxTime    time.Duration
	runReplay     string
	runScenario   string
	runValidate   bool
	runGoldenIn   string
	runSaveGolden bool
	runExport     string
	runLogOut     string
	runList       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a route on a virtual clock and optionally validate it",
	Long: `Execute a route against the simulated robot as fast as possible.

Time is virtual: the engine ticks every 100 ms of simulated time, so a route
that takes minutes on the floor finishes in milliseconds. The run ends when
every repeat of the route has completed or --max-time of simulated time has
passed.

With --replay the engine runs in hardware mode and fuses a captured IMU byte
stream instead, one frame per tick. --faults applies a fault scenario to the
replayed frames.

Validation:
  --validate          score the run against the validation rules
  --golden FILE       import golden runs from a CBOR export first
  --save-golden       store this run as the golden run of its route
  --export FILE       write results and golden runs as CBOR
  --log-out FILE      write the execution log for 'furrow validate'

Exit codes:
  0 - Run completed (and validation did not FAIL)
  1 - Validation FAILED or the run did not complete
  2 - Usage or input error`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runRouteID, "route", route.DefaultRouteID, "Route ID to run")
	runCmd.Flags().StringVar(&runCatalog, "catalog", "", "Route catalog YAML (default: built-in routes)")
	runCmd.Flags().Int64Var(&runSeed, "seed", 1, "Sensor noise seed")
	runCmd.Flags().DurationVar(&runMaxTime, "max-time", time.Hour, "Simulated time limit")
	runCmd.Flags().StringVar(&runReplay, "replay", "", "Captured IMU byte stream to fuse (hardware mode)")
	runCmd.Flags().StringVar(&runScenario, "faults", "", "Fault scenario applied to replayed frames")
	runCmd.Flags().BoolVar(&runValidate, "validate", false, "Validate the run")
	runCmd.Flags().StringVar(&runGoldenIn, "golden", "", "CBOR export to import golden runs from")
	runCmd.Flags().BoolVar(&runSaveGolden, "save-golden", false, "Save this run as the golden run of its route")
	runCmd.Flags().StringVar(&runExport, "export", "", "Write validation results and golden runs as CBOR")
	runCmd.Flags().StringVar(&runLogOut, "log-out", "", "Write the execution log as JSON")
	runCmd.Flags().BoolVar(&runList, "list", false, "List routes and fault scenarios and exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	catalog, err := loadCatalog(runCatalog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Catalog error: %v\n", err)
		os.Exit(exitUsage)
	}
	if runList {
		listCatalog(catalog)
		return nil
	}
	def, ok := catalog.Get(runRouteID)
	if !ok {
		fmt.Fprintf(os.Stderr, "Route %d not found\n", runRouteID)
		os.Exit(exitUsage)
	}

	logger, err := logging.New(debug, "error")
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Virtual clock anchored at wall time so log timestamps look real
	clock := engine.NewVirtualClock(time.Now())
	opts := []engine.Option{engine.WithClock(clock), engine.WithLogger(logger)}

	var feed func()
	if runReplay != "" {
		feed, err = replayFeed(clock, logger, &opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Replay error: %v\n", err)
			os.Exit(exitUsage)
		}
	}

	eng := engine.New(catalog, engine.Config{
		NoiseSeed:    runSeed,
		HardwareMode: runReplay != "",
	}, opts...)

	fmt.Printf("Furrow - Route Run\n")
	fmt.Printf("Route: %d (%s), %d steps, %d passes\n", def.ID, def.Name, len(def.Steps), max(def.RepeatCount, 1))
	if runReplay != "" {
		fmt.Printf("Replay: %s\n", runReplay)
	}

	if !eng.StartRoute(def.ID) {
		return errors.New("engine refused to start the route")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := clock.Now()
	sched := engine.VirtualScheduler{
		Clock:  clock,
		Period: engine.DefaultTickPeriod,
		Ticks:  int(runMaxTime / engine.DefaultTickPeriod),
		Until:  eng.RunComplete,
	}
	// Replay pushes one frame before each tick so the snapshot is never stale
	tick := eng.Tick
	if feed != nil {
		tick = func() {
			feed()
			eng.Tick()
		}
	}
	if err := sched.Run(ctx, tick); err != nil {
		return err
	}

	final := eng.State()
	log := eng.ExecutionLog()
	complete := eng.RunComplete()

	fmt.Printf("Simulated time: %v\n", clock.Now().Sub(start).Round(time.Millisecond))
	fmt.Printf("Log entries: %d\n", len(log))
	fmt.Printf("Final position: x=%.1f y=%.1f heading=%.1f°\n", final.Position.X, final.Position.Y, final.Position.Heading)
	if len(final.Errors) > 0 {
		fmt.Printf("Errors: %v\n", final.Errors)
	}
	if !complete {
		fmt.Printf("Run did not complete within %v of simulated time\n", runMaxTime)
	}

	rf := runFile{RouteID: strconv.Itoa(def.ID), Log: log, FinalState: &final}
	if runLogOut != "" {
		if err := writeRunFile(runLogOut, rf); err != nil {
			return err
		}
		fmt.Printf("Execution log written to %s\n", runLogOut)
	}

	// An incomplete run fails even without validation
	code := exitPass
	if !complete {
		code = exitFail
	}

	if runValidate || runSaveGolden || runGoldenIn != "" || runExport != "" {
		c, err := validateRun(logger, rf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
			os.Exit(exitUsage)
		}
		code = max(code, c)
	}

	if code != exitPass {
		os.Exit(code)
	}
	return nil
}

// validateRun validates and stores the run as the flags request
func validateRun(logger *zap.Logger, rf runFile) (int, error) {
	v := validation.New(validation.WithLogger(logger))
	if runGoldenIn != "" {
		n, err := importGoldenBundle(v, runGoldenIn)
		if err != nil {
			return exitUsage, err
		}
		fmt.Printf("Imported %d golden runs from %s\n", n, runGoldenIn)
	}

	// Importing golden runs implies comparing against them
	code := exitPass
	if runValidate || runGoldenIn != "" {
		res, err := v.Validate(rf)
		if err != nil {
			return exitUsage, err
		}
		printResult(os.Stdout, res)
		code = resultExitCode(res)
	}

	if runSaveGolden {
		g, err := v.SaveGoldenRun(validation.GoldenRequest{
			RouteID:    rf.RouteID,
			Log:        rf.Log,
			FinalState: rf.FinalState,
		})
		if err != nil {
			return exitUsage, err
		}
		fmt.Printf("\nGolden run %s saved for route %s (%d checkpoints)\n", g.ID, g.RouteID, len(g.Checkpoints))
	}

	if runExport != "" {
		if err := writeExport(v, runExport); err != nil {
			return exitUsage, err
		}
		fmt.Printf("Export written to %s\n", runExport)
	}
	return code, nil
}

// replayFeed wires a bridge that feeds one captured frame per tick into the
// engine's snapshot cell. Decoded frames are stamped with the virtual clock.
func replayFeed(clock *engine.VirtualClock, logger *zap.Logger, opts *[]engine.Option) (func(), error) {
	data, err := os.ReadFile(runReplay)
	if err != nil {
		return nil, err
	}
	injector := faults.NewInjector(faults.WithSeed(runSeed))
	if runScenario != "" {
		p, err := faults.Scenario(runScenario)
		if err != nil {
			return nil, err
		}
		injector.Set(p)
	}

	cell := &sensor.Cell{}
	link := bridge.New(injector, cell,
		bridge.WithLogger(logger),
		bridge.WithDecoderOptions(imuframe.WithClock(clock.Now)))
	*opts = append(*opts, engine.WithSnapshots(cell))

	return func() {
		if len(data) == 0 {
			return
		}
		n := min(imuframe.FrameSize, len(data))
		link.Process(data[:n])
		data = data[n:]
	}, nil
}

func listCatalog(catalog *route.Catalog) {
	fmt.Printf("Routes:\n")
	for _, d := range catalog.List() {
		fmt.Printf("  %3d  %-28s %2d steps  %2d passes  ~%v\n",
			d.ID, d.Name, len(d.Steps), max(d.RepeatCount, 1), d.Duration().Round(time.Second))
	}
	fmt.Printf("\nFault scenarios:\n")
	for _, name := range faults.Scenarios() {
		fmt.Printf("  %s\n", name)
	}
}
