// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thermoquad/furrow/pkg/events"
	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/inject"
	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/route"
	"github.com/Thermoquad/furrow/pkg/runlog"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// ============================================================
// Test Helpers
// ============================================================

var epoch = time.UnixMilli(1_700_000_000_000)

const tick = 100 * time.Millisecond

type harness struct {
	t        *testing.T
	engine   *Engine
	clock    *VirtualClock
	catalog  *route.Catalog
	injector *inject.Registry
	events   <-chan events.Event
}

func newHarness(t *testing.T, cfg Config, defs ...route.Definition) *harness {
	t.Helper()
	catalog, err := route.NewCatalog(defs...)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	clock := NewVirtualClock(epoch)
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1 << 16)
	if cfg.NoiseSeed == 0 {
		cfg.NoiseSeed = 1
	}
	h := &harness{t: t, clock: clock, catalog: catalog, events: ch}
	h.injector = inject.New(inject.WithNow(clock.Now))
	h.engine = New(catalog, cfg, WithClock(clock), WithBus(bus), WithInjector(h.injector))
	t.Cleanup(cancel)
	return h
}

// ticks advances the clock by one period before each of n ticks
func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.clock.Advance(tick)
		h.engine.Tick()
	}
}

// runUntilIdle ticks until the engine is idle, failing after limit ticks
func (h *harness) runUntilIdle(limit int) {
	h.t.Helper()
	err := h.engine.Run(context.Background(), VirtualScheduler{
		Clock:  h.clock,
		Period: tick,
		Ticks:  limit,
		Until:  func() bool { return h.engine.Phase() == StateIdle },
	})
	if err != nil {
		h.t.Fatalf("Run: %v", err)
	}
	if h.engine.Phase() != StateIdle {
		h.t.Fatalf("Engine still %s after %d ticks", h.engine.Phase(), limit)
	}
}

// drain returns every event published so far
func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func elapsedMs(ts int64) int64 {
	return ts - epoch.UnixMilli()
}

func singleRoute(id, repeat int, steps ...route.Step) route.Definition {
	for i := range steps {
		steps[i].ID = i + 1
	}
	return route.Definition{ID: id, Name: "test route", Steps: steps, RepeatCount: repeat}
}

func norm(distance, speed float64) route.Step {
	return route.Step{Operation: route.OpNorm, DistanceMM: distance, Speed: speed, Description: "forward"}
}

func findEntry(entries []runlog.Entry, substr string) (runlog.Entry, bool) {
	for _, e := range entries {
		if e.Contains(substr) {
			return e, true
		}
	}
	return runlog.Entry{}, false
}

func countEntries(entries []runlog.Entry, substr string) int {
	n := 0
	for _, e := range entries {
		if e.Contains(substr) {
			n++
		}
	}
	return n
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// ============================================================
// Route Execution Tests
// ============================================================

func TestEngine_NormThenPivotCompletesAtSevenSeconds(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1,
		norm(2000, 500),
		route.Step{Operation: route.OpLeft90, Speed: 300, Description: "pivot"},
	))

	if !h.engine.StartRoute(1) {
		t.Fatal("StartRoute failed")
	}
	h.runUntilIdle(200)

	var completed *events.RouteCompleted
	started := 0
	for _, ev := range h.drain() {
		switch ev := ev.(type) {
		case events.RouteStarted:
			started++
		case events.RouteCompleted:
			completed = &ev
		}
	}
	if started != 1 {
		t.Errorf("route_started emitted %d times, want 1", started)
	}
	if completed == nil {
		t.Fatal("route_completed not emitted")
	}
	if got := elapsedMs(completed.Timestamp); got != 7000 {
		t.Errorf("route_completed after %d ms, want 7000", got)
	}
	if !completed.Success {
		t.Error("route_completed should report success")
	}

	state := h.engine.State()
	if !near(state.Position.X, 7000) || !near(state.Position.Y, 4000) {
		t.Errorf("Final position = (%v, %v), want (7000, 4000)", state.Position.X, state.Position.Y)
	}
	if !near(state.Position.Heading, 270) {
		t.Errorf("Final heading = %v, want 270", state.Position.Heading)
	}
	if state.IsRunning || state.Motors.IsRunning {
		t.Error("Robot should be stopped after completion")
	}
	if !h.engine.RunComplete() {
		t.Error("Run log should be sealed")
	}
	if d, _ := h.catalog.Get(1); d.Active {
		t.Error("Route should be inactive after completion")
	}
}

func TestEngine_ExecutionLog(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(1000, 500), norm(500, 250)))
	h.engine.StartRoute(1)
	h.runUntilIdle(100)

	log := h.engine.ExecutionLog()
	if len(log) == 0 {
		t.Fatal("Execution log is empty")
	}
	if _, ok := findEntry(log, "started route"); !ok {
		t.Error("Missing start entry")
	}
	if n := countEntries(log, "completed step"); n != 2 {
		t.Errorf("Found %d step completions, want 2", n)
	}
	done, ok := findEntry(log, "route completed")
	if !ok {
		t.Fatal("Missing completion entry")
	}
	if got := elapsedMs(done.Timestamp); got != 4000 {
		t.Errorf("Completion logged at %d ms, want 4000", got)
	}

	for i := 1; i < len(log); i++ {
		if log[i].Timestamp < log[i-1].Timestamp {
			t.Fatalf("Entry %d goes back in time", i)
		}
	}

	telemetry := 0
	for _, e := range log {
		if e.Data == nil || e.Data.ExpectedPosition == nil {
			continue
		}
		telemetry++
		if !near(e.Data.Position.X, e.Data.ExpectedPosition.X) || !near(e.Data.Position.Y, e.Data.ExpectedPosition.Y) {
			t.Errorf("Synthetic run diverged from expected pose at %d", e.Timestamp)
		}
		if *e.Data.Speed != *e.Data.TargetSpeed {
			t.Errorf("Speed %v differs from target %v", *e.Data.Speed, *e.Data.TargetSpeed)
		}
	}
	if telemetry == 0 {
		t.Error("No telemetry entries recorded")
	}

	step, _ := findEntry(log, "completed step 1")
	if step.Data == nil || step.Data.DurationMs == nil || *step.Data.DurationMs != 2000 {
		t.Errorf("Step completion should carry its duration, got %+v", step.Data)
	}
}

func TestEngine_SeveralStepsInOneTick(t *testing.T) {
	// four 50 ms steps finish in two ticks
	h := newHarness(t, Config{}, singleRoute(1, 1,
		norm(25, 500), norm(25, 500), norm(25, 500), norm(25, 500),
	))
	h.engine.StartRoute(1)

	h.ticks(1)
	if h.engine.Phase() != StateStepRunning {
		t.Fatalf("Phase after one tick = %s", h.engine.Phase())
	}
	if step := h.engine.State().CurrentStep; step == nil || *step != 2 {
		t.Errorf("Current step = %v, want 2", step)
	}

	h.ticks(1)
	if h.engine.Phase() != StateIdle {
		t.Fatalf("Phase after two ticks = %s", h.engine.Phase())
	}
	if x := h.engine.State().Position.X; !near(x, 5100) {
		t.Errorf("X = %v, want 5100", x)
	}
}

func TestEngine_TurnKinematics(t *testing.T) {
	angle := 45.0
	tests := []struct {
		name    string
		step    route.Step
		heading float64
		moves   bool
	}{
		{"TURN_RIGHT", route.Step{Operation: route.OpTurnRight, DistanceMM: 600, Speed: 300}, 30, true},
		{"TURN_LEFT", route.Step{Operation: route.OpTurnLeft, DistanceMM: 600, Speed: 300}, 330, true},
		{"RIGHT_90", route.Step{Operation: route.OpRight90, Speed: 300}, 90, false},
		{"DIFFERENTIAL", route.Step{Operation: route.OpDifferential, DistanceMM: 1000, Speed: 500, AngleDegrees: &angle}, 45, true},
		{"NORM_NO_MAGNET", route.Step{Operation: route.OpNormNoMagnet, DistanceMM: 1000, Speed: 500}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, singleRoute(1, 1, tt.step))
			h.engine.StartRoute(1)
			h.runUntilIdle(100)

			s := h.engine.State()
			if !near(s.Position.Heading, tt.heading) {
				t.Errorf("Heading = %v, want %v", s.Position.Heading, tt.heading)
			}
			moved := math.Hypot(s.Position.X-5000, s.Position.Y-4000)
			if tt.moves && moved < 1 {
				t.Error("Robot should have moved")
			}
			if !tt.moves && moved > 1e-9 {
				t.Errorf("Pivot moved the robot by %v mm", moved)
			}
		})
	}
}

func TestEngine_HeadingAlwaysNormalized(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1,
		route.Step{Operation: route.OpLeft90},
		route.Step{Operation: route.OpLeft90},
		route.Step{Operation: route.OpTurnLeft, DistanceMM: 100, Speed: 100},
	))
	h.engine.StartRoute(1)
	for i := 0; i < 100; i++ {
		h.ticks(1)
		if hd := h.engine.State().Position.Heading; hd < 0 || hd >= 360 {
			t.Fatalf("Heading %v outside [0, 360)", hd)
		}
	}
}

// ============================================================
// Control Failure Tests
// ============================================================

func TestEngine_StartUnknownRoute(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(1000, 500)))

	if h.engine.StartRoute(99) {
		t.Fatal("StartRoute should fail for an unknown route")
	}
	if h.engine.Phase() != StateIdle || h.engine.State().IsRunning {
		t.Error("Failed start changed the engine state")
	}

	found := false
	for _, ev := range h.drain() {
		if l, ok := ev.(events.Log); ok && l.Entry.Contains("not found") {
			found = true
		}
	}
	if !found {
		t.Error("Expected a log event for the unknown route")
	}
}

func TestEngine_StartWhileRunning(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(1000, 500)), singleRoute(2, 1, norm(1000, 500)))

	if !h.engine.StartRoute(1) {
		t.Fatal("First StartRoute failed")
	}
	h.ticks(3)
	if h.engine.StartRoute(2) {
		t.Fatal("Second StartRoute should fail while running")
	}
	if r := h.engine.State().CurrentRoute; r == nil || *r != 1 {
		t.Errorf("Current route = %v, want 1", r)
	}
	if _, ok := findEntry(h.engine.ExecutionLog(), "already running"); !ok {
		t.Error("Expected an already-running warning in the log")
	}
}

func TestEngine_StopRoute(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(2000, 500)))
	h.engine.StartRoute(1)
	h.ticks(5)

	if !h.engine.StopRoute() {
		t.Fatal("StopRoute failed")
	}
	s := h.engine.State()
	if s.IsRunning || s.Motors.LeftSpeed != 0 || s.Motors.RightSpeed != 0 {
		t.Errorf("Robot still moving after StopRoute: %+v", s.Motors)
	}
	if s.HasError(robot.ErrCodeEmergencyStop) {
		t.Error("StopRoute should not raise the emergency error")
	}
	if h.engine.StopRoute() {
		t.Error("StopRoute on an idle engine should fail")
	}
}

// ============================================================
// Emergency Stop Tests
// ============================================================

func TestEngine_EmergencyStopWithinOneTick(t *testing.T) {
	for _, after := range []int{1, 7, 15, 39} {
		h := newHarness(t, Config{}, singleRoute(1, 1, norm(2000, 500), route.Step{Operation: route.OpLeft90}))
		h.engine.StartRoute(1)
		h.ticks(after)

		h.engine.EmergencyStop()
		h.ticks(1)

		s := h.engine.State()
		if s.IsRunning {
			t.Errorf("after %d ticks: robot still running", after)
		}
		if s.Motors.LeftSpeed != 0 || s.Motors.RightSpeed != 0 || s.Motors.IsRunning {
			t.Errorf("after %d ticks: motors not stopped: %+v", after, s.Motors)
		}
		if !s.HasError(robot.ErrCodeEmergencyStop) {
			t.Errorf("after %d ticks: emergency error not raised", after)
		}
		if h.engine.Phase() != StateIdle {
			t.Errorf("after %d ticks: phase = %s", after, h.engine.Phase())
		}

		pos := s.Position
		h.ticks(10)
		if h.engine.State().Position != pos {
			t.Errorf("after %d ticks: robot moved after emergency stop", after)
		}

		var estop, completed int
		for _, ev := range h.drain() {
			switch ev.(type) {
			case events.EmergencyStop:
				estop++
			case events.RouteCompleted:
				completed++
			}
		}
		if estop != 1 || completed != 0 {
			t.Errorf("after %d ticks: emergency_stop=%d route_completed=%d", after, estop, completed)
		}
	}
}

func TestEngine_EmergencyStopLog(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(2000, 500)))
	h.engine.StartRoute(1)
	h.ticks(4)
	h.engine.EmergencyStop()
	h.ticks(1)

	log := h.engine.ExecutionLog()
	activated, ok := findEntry(log, "emergency stop activated")
	if !ok || activated.Level != runlog.LevelError {
		t.Fatalf("Missing error entry for emergency stop: %+v", activated)
	}
	stopped, ok := findEntry(log, "robot stopped")
	if !ok || stopped.Timestamp < activated.Timestamp || stopped.Timestamp-activated.Timestamp > 100 {
		t.Errorf("Stop confirmation missing or late: %+v", stopped)
	}
	if !h.engine.RunComplete() {
		t.Error("Run log should be sealed after emergency stop")
	}
}

func TestEngine_EmergencyStopWhileIdle(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(2000, 500)))
	h.engine.EmergencyStop()
	h.ticks(1)

	if h.engine.Phase() != StateIdle {
		t.Errorf("Phase = %s", h.engine.Phase())
	}
	if s := h.engine.State(); !s.HasError(robot.ErrCodeEmergencyStop) {
		t.Error("Emergency error should be raised even when idle")
	}

	// the engine resumes cleanly
	if !h.engine.StartRoute(1) {
		t.Fatal("StartRoute after emergency stop failed")
	}
	h.runUntilIdle(100)

	h.engine.ResetPosition()
	if s := h.engine.State(); len(s.Errors) != 0 || s.Position.X != 5000 {
		t.Errorf("ResetPosition did not reset: %+v", s)
	}
}

func TestEngine_EmergencyStopRequestLogged(t *testing.T) {
	period := 500 * time.Millisecond
	h := newHarness(t, Config{TickPeriod: period}, singleRoute(1, 1, norm(5000, 500)))
	h.engine.StartRoute(1)
	for i := 0; i < 2; i++ {
		h.clock.Advance(period)
		h.engine.Tick()
	}

	h.engine.EmergencyStop()
	h.clock.Advance(period)
	h.engine.Tick()

	log := h.engine.ExecutionLog()
	requested, ok := findEntry(log, "emergency stop requested")
	if !ok || requested.Level != runlog.LevelError {
		t.Fatalf("Missing request entry: %+v", requested)
	}
	stopped, _ := findEntry(log, "robot stopped")
	if got := elapsedMs(requested.Timestamp); got != 1000 {
		t.Errorf("Request logged at +%dms, want +1000ms", got)
	}
	if got := elapsedMs(stopped.Timestamp); got != 1500 {
		t.Errorf("Stop logged at +%dms, want +1500ms", got)
	}
}

// ============================================================
// Injected Event Tests
// ============================================================

func TestEngine_InjectedObstacleHalts(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(5000, 500)))
	h.engine.StartRoute(1)
	h.ticks(5)

	if _, err := h.injector.InjectEnvironment(inject.Environment{
		Type:     inject.EnvObstacle,
		Position: &runlog.Point{X: 5400, Y: 4000},
	}); err != nil {
		t.Fatalf("InjectEnvironment: %v", err)
	}
	if !h.engine.State().IsRunning {
		t.Fatal("Robot stopped before the next tick")
	}

	h.ticks(1)
	s := h.engine.State()
	if s.IsRunning || s.Motors.IsRunning || h.engine.Phase() != StateIdle {
		t.Fatalf("Robot not halted: phase %s, %+v", h.engine.Phase(), s.Motors)
	}
	if len(s.Errors) != 0 {
		t.Errorf("Obstacle raised errors %v", s.Errors)
	}
	if !h.engine.RunComplete() {
		t.Error("Run log should be sealed after the halt")
	}

	log := h.engine.ExecutionLog()
	detected, ok := findEntry(log, "obstacle detected")
	if !ok || elapsedMs(detected.Timestamp) != 500 {
		t.Errorf("Detection entry %+v", detected)
	}
	stopped, ok := findEntry(log, "robot stopped")
	if !ok || elapsedMs(stopped.Timestamp) != 600 {
		t.Errorf("Stop entry %+v", stopped)
	}
	if n := countEntries(log, "obstacle"); n != 1 {
		t.Errorf("Obstacle mentioned %d times, want 1", n)
	}

	failed := 0
	for _, ev := range h.drain() {
		if rc, ok := ev.(events.RouteCompleted); ok && !rc.Success {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("Got %d failed route_completed events, want 1", failed)
	}
}

func TestEngine_InjectedFaults(t *testing.T) {
	tests := []struct {
		name    string
		fault   inject.Fault
		halted  bool
		errCode string
	}{
		{"motor block", inject.Fault{Type: inject.FaultMotorBlock, Component: "left_motor", Severity: inject.SeverityHigh}, true, robot.ErrCodeMotorTimeout},
		{"power loss", inject.Fault{Type: inject.FaultPowerLoss, Component: "battery", Severity: inject.SeverityCritical}, true, robot.ErrCodeBatteryLow},
		{"sensor failure", inject.Fault{Type: inject.FaultSensorFailure, Component: "imu", Severity: inject.SeverityMedium}, false, robot.ErrCodeSensorDisconnected},
		{"communication", inject.Fault{Type: inject.FaultCommunicationError, Component: "radio", Severity: inject.SeverityLow}, false, ""},
		{"emergency", inject.Fault{Type: inject.FaultCommunicationError, Component: inject.EmergencyComponent, Severity: inject.SeverityCritical}, true, robot.ErrCodeEmergencyStop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, singleRoute(1, 1, norm(5000, 500)))
			h.engine.StartRoute(1)
			h.ticks(3)
			if _, err := h.injector.InjectFault(tt.fault); err != nil {
				t.Fatalf("InjectFault: %v", err)
			}
			h.ticks(1)

			s := h.engine.State()
			if s.IsRunning == tt.halted {
				t.Errorf("IsRunning = %v, want %v", s.IsRunning, !tt.halted)
			}
			if tt.errCode != "" && !s.HasError(tt.errCode) {
				t.Errorf("Errors %v lack %s", s.Errors, tt.errCode)
			}
			if tt.errCode == "" && len(s.Errors) != 0 {
				t.Errorf("Unexpected errors %v", s.Errors)
			}
			if _, ok := findEntry(h.engine.ExecutionLog(), string(tt.fault.Type)); !ok && !tt.halted {
				t.Error("Fault not recorded in the run log")
			}
		})
	}
}

func TestEngine_InjectedWhileIdle(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(1000, 500)))
	if _, err := h.injector.InjectEnvironment(inject.Environment{Type: inject.EnvObstacle}); err != nil {
		t.Fatalf("InjectEnvironment: %v", err)
	}
	h.ticks(2)
	if h.engine.Phase() != StateIdle {
		t.Errorf("Phase = %s", h.engine.Phase())
	}
	if !h.engine.StartRoute(1) {
		t.Fatal("StartRoute failed after an idle injection")
	}
	h.runUntilIdle(100)
	if _, ok := findEntry(h.engine.ExecutionLog(), "route completed"); !ok {
		t.Error("Stale obstacle halted the next run")
	}
}

// ============================================================
// Repeat Tests
// ============================================================

func TestEngine_RepeatPause(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 2, norm(500, 500)))
	h.engine.StartRoute(1)

	h.ticks(10)
	if h.engine.Phase() != StateRouteCompleting {
		t.Fatalf("Phase at 1000 ms = %s, want %s", h.engine.Phase(), StateRouteCompleting)
	}
	if h.engine.State().IsRunning {
		t.Error("Robot should not run during the repeat pause")
	}

	h.ticks(19)
	if h.engine.Phase() != StateRouteCompleting {
		t.Fatalf("Phase at 2900 ms = %s", h.engine.Phase())
	}

	h.ticks(1)
	if h.engine.Phase() != StateStepRunning || !h.engine.State().IsRunning {
		t.Fatalf("Route did not resume at 3000 ms (phase %s)", h.engine.Phase())
	}

	h.runUntilIdle(100)

	var started, completed []int64
	for _, ev := range h.drain() {
		switch ev := ev.(type) {
		case events.RouteStarted:
			started = append(started, elapsedMs(ev.Timestamp))
		case events.RouteCompleted:
			completed = append(completed, elapsedMs(ev.Timestamp))
		}
	}
	if len(started) != 2 || started[1] != 3000 {
		t.Errorf("route_started at %v, want [0 3000]", started)
	}
	if len(completed) != 2 || completed[0] != 1000 || completed[1] != 4000 {
		t.Errorf("route_completed at %v, want [1000 4000]", completed)
	}
	if d, _ := h.catalog.Get(1); d.RepeatCount != 1 {
		t.Errorf("Repeat count = %d, want 1", d.RepeatCount)
	}
}

func TestEngine_EmergencyStopCancelsRepeat(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 3, norm(500, 500)))
	h.engine.StartRoute(1)
	h.ticks(12)
	if h.engine.Phase() != StateRouteCompleting {
		t.Fatalf("Phase = %s", h.engine.Phase())
	}

	h.engine.EmergencyStop()
	h.ticks(40)
	if h.engine.Phase() != StateIdle || h.engine.State().IsRunning {
		t.Error("Repeat resumed after emergency stop")
	}
}

// ============================================================
// Hardware Fusion Tests
// ============================================================

func TestEngine_HardwareFusion(t *testing.T) {
	cell := &sensor.Cell{}
	catalog, _ := route.NewCatalog(singleRoute(1, 1, norm(10000, 500)))
	clock := NewVirtualClock(epoch)
	e := New(catalog, Config{HardwareMode: true, NoiseSeed: 1}, WithClock(clock), WithSnapshots(cell))

	e.StartRoute(1)
	gz := 10 * math.Pi / 180 // 10 deg/s
	for i := 0; i < 10; i++ {
		cell.Store(sensor.Snapshot{
			Gyro:      imuframe.Vector3{Z: gz},
			AHRS:      imuframe.Attitude{Yaw: 12.5},
			Timestamp: clock.Now(),
		})
		clock.Advance(tick)
		e.Tick()
	}

	s := e.State()
	if !near(s.Position.Heading, 10) {
		t.Errorf("Fused heading = %v, want 10", s.Position.Heading)
	}
	if s.Position.X != 5000 || s.Position.Y != 4000 {
		t.Errorf("Zero acceleration should not translate, got (%v, %v)", s.Position.X, s.Position.Y)
	}
	if s.Sensors.Source != robot.SourceHardware || s.Sensors.IMUAngle != 12.5 {
		t.Errorf("Sensors not taken from hardware: %+v", s.Sensors)
	}

	var last runlog.Entry
	for _, entry := range e.ExecutionLog() {
		if entry.Data != nil && entry.Data.ExpectedPosition != nil {
			last = entry
		}
	}
	if last.Data == nil || last.Data.ExpectedPosition.X <= 5000 {
		t.Error("Expected pose should keep following the synthetic model")
	}
}

func TestEngine_HardwareAcceleration(t *testing.T) {
	cell := &sensor.Cell{}
	catalog, _ := route.NewCatalog(singleRoute(1, 1, norm(10000, 500)))
	clock := NewVirtualClock(epoch)
	e := New(catalog, Config{HardwareMode: true, NoiseSeed: 1}, WithClock(clock), WithSnapshots(cell))

	e.StartRoute(1)
	for i := 0; i < 5; i++ {
		cell.Store(sensor.Snapshot{Accel: imuframe.Vector3{X: 0.01}, Timestamp: clock.Now()})
		clock.Advance(tick)
		e.Tick()
	}

	s := e.State()
	if s.Position.X <= 5000 {
		t.Errorf("Forward acceleration should move the robot, X = %v", s.Position.X)
	}
	if !near(s.Position.Y, 4000) {
		t.Errorf("Heading 0 should keep Y, got %v", s.Position.Y)
	}
}

func TestEngine_StaleSnapshotFallback(t *testing.T) {
	cell := &sensor.Cell{}
	catalog, _ := route.NewCatalog(singleRoute(1, 1, norm(10000, 500)))
	clock := NewVirtualClock(epoch)
	e := New(catalog, Config{HardwareMode: true, NoiseSeed: 1, SnapshotMaxAge: 300 * time.Millisecond},
		WithClock(clock), WithSnapshots(cell))

	cell.Store(sensor.Snapshot{Gyro: imuframe.Vector3{Z: 1}, Timestamp: clock.Now()})
	e.StartRoute(1)
	clock.Advance(time.Second)

	for i := 0; i < 5; i++ {
		clock.Advance(tick)
		e.Tick()
	}

	s := e.State()
	if s.Position.Heading != 0 {
		t.Errorf("Stale gyro data was integrated: heading %v", s.Position.Heading)
	}
	if s.Position.X <= 5000 {
		t.Error("Synthetic fallback should keep the robot moving")
	}
	if s.Sensors.Source != robot.SourceSynthetic || s.Sensors.IsConnected {
		t.Errorf("Sensors should report the fallback: %+v", s.Sensors)
	}

	log := e.ExecutionLog()
	if n := countEntries(log, "using synthetic model"); n != 1 {
		t.Errorf("Fallback warning logged %d times, want 1", n)
	}

	cell.Store(sensor.Snapshot{Timestamp: clock.Now()})
	clock.Advance(tick)
	e.Tick()
	if _, ok := findEntry(e.ExecutionLog(), "snapshot resumed"); !ok {
		t.Error("Expected a resume entry once snapshots are fresh again")
	}
}

func TestEngine_NonFiniteSnapshotFallsBack(t *testing.T) {
	cell := &sensor.Cell{}
	catalog, _ := route.NewCatalog(singleRoute(1, 1, norm(10000, 500)))
	clock := NewVirtualClock(epoch)
	e := New(catalog, Config{HardwareMode: true, NoiseSeed: 1}, WithClock(clock), WithSnapshots(cell))

	e.StartRoute(1)
	for i := 0; i < 3; i++ {
		cell.Store(sensor.Snapshot{Gyro: imuframe.Vector3{Z: math.NaN()}, Timestamp: clock.Now()})
		clock.Advance(tick)
		e.Tick()
	}

	s := e.State()
	if math.IsNaN(s.Position.Heading) || math.IsNaN(s.Position.X) {
		t.Fatal("NaN leaked into the robot pose")
	}
	if !near(s.Position.X, 5150) {
		t.Errorf("X = %v, want synthetic 5150", s.Position.X)
	}
}

func TestEngine_SetHardwareMode(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(1000, 500)))
	h.engine.SetHardwareMode(true)
	if !h.engine.HardwareMode() || h.engine.State().Sensors.Source != robot.SourceHardware {
		t.Error("Hardware mode not enabled")
	}
	h.engine.SetHardwareMode(false)
	if h.engine.HardwareMode() {
		t.Error("Hardware mode not disabled")
	}
}

// ============================================================
// Scheduler Tests
// ============================================================

func TestVirtualScheduler_Ticks(t *testing.T) {
	clock := NewVirtualClock(epoch)
	n := 0
	err := VirtualScheduler{Clock: clock, Period: 50 * time.Millisecond, Ticks: 8}.Run(context.Background(), func() { n++ })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 8 {
		t.Errorf("Ran %d ticks, want 8", n)
	}
	if got := clock.Now().Sub(epoch); got != 400*time.Millisecond {
		t.Errorf("Clock advanced %v, want 400ms", got)
	}
}

func TestVirtualScheduler_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := VirtualScheduler{Clock: NewVirtualClock(epoch)}.Run(ctx, func() {
		t.Error("Tick ran after cancellation")
	})
	if err == nil {
		t.Error("Expected context error")
	}
}

func TestTickerScheduler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var n atomic.Int32
	if err := (TickerScheduler{Period: 10 * time.Millisecond}).Run(ctx, func() { n.Add(1) }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n.Load() == 0 {
		t.Error("Ticker never fired")
	}
}

func TestEngine_StateUpdatesPublished(t *testing.T) {
	h := newHarness(t, Config{}, singleRoute(1, 1, norm(1000, 500)))
	h.engine.StartRoute(1)
	h.ticks(3)

	updates := 0
	for _, ev := range h.drain() {
		if su, ok := ev.(events.StateUpdate); ok {
			updates++
			if !strings.HasPrefix(su.State.Sensors.Source, "synth") {
				t.Errorf("Unexpected sensor source %q", su.State.Sensors.Source)
			}
		}
	}
	if updates != 3 {
		t.Errorf("Got %d state updates, want 3", updates)
	}
}
