// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/pkg/events"
	"github.com/Thermoquad/furrow/pkg/inject"
	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/route"
	"github.com/Thermoquad/furrow/pkg/runlog"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// Engine states
const (
	StateIdle            = "idle"
	StateStepRunning     = "step_running"
	StateRouteCompleting = "route_completing"
)

// Engine events
const (
	eventStart  = "start"
	eventFinish = "finish"
	eventRepeat = "repeat"
	eventSettle = "settle"
	eventHalt   = "halt"
)

// Defaults
const (
	DefaultTickPeriod     = 100 * time.Millisecond
	DefaultSnapshotMaxAge = 500 * time.Millisecond
	DefaultRepeatPause    = 2000 * time.Millisecond
)

// Source is the name used on run log entries written by the engine
const Source = "RouteEngine"

// Config holds the engine tunables. Zero values fall back to the defaults.
type Config struct {
	TickPeriod     time.Duration
	SnapshotMaxAge time.Duration
	RepeatPause    time.Duration
	HardwareMode   bool
	MapWidth       float64
	MapHeight      float64
	NoiseSeed      int64
	RobotID        string
}

func (c *Config) applyDefaults() {
	if c.TickPeriod <= 0 {
		c.TickPeriod = DefaultTickPeriod
	}
	if c.SnapshotMaxAge <= 0 {
		c.SnapshotMaxAge = DefaultSnapshotMaxAge
	}
	if c.RepeatPause <= 0 {
		c.RepeatPause = DefaultRepeatPause
	}
	if c.MapWidth <= 0 {
		c.MapWidth = robot.DefaultMapWidth
	}
	if c.MapHeight <= 0 {
		c.MapHeight = robot.DefaultMapHeight
	}
	if c.NoiseSeed == 0 {
		c.NoiseSeed = time.Now().UnixNano()
	}
	if c.RobotID == "" {
		c.RobotID = uuid.NewString()
	}
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock, typically with a VirtualClock
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the zap logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBus publishes lifecycle events on bus
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithInjector makes the engine react to events injected through r:
// obstacles, motor blocks and power loss halt the current route.
func WithInjector(r *inject.Registry) Option {
	return func(e *Engine) { e.injector = r }
}

// WithSnapshots sets the cell the hardware bridge writes snapshots into
func WithSnapshots(c *sensor.Cell) Option {
	return func(e *Engine) { e.snapshots = c }
}

// Engine executes routes on a fixed tick. Tick and the control methods are
// serialized; EmergencyStop and injected events only log the request and
// queue it for the next tick, which consumes them before anything else.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	clock     Clock
	logger    *zap.Logger
	bus       *events.Bus
	catalog   *route.Catalog
	snapshots *sensor.Cell
	injector  *inject.Registry
	rng       *rand.Rand
	machine   *fsm.FSM

	estop atomic.Bool

	pendingMu sync.Mutex
	pending   []inject.Event

	state    robot.State
	actual   pose
	expected pose
	velocity float64

	route     *route.Definition
	stepIndex int
	stepStart time.Time
	resumeAt  time.Time

	lastTick     time.Time
	haveLastTick bool

	hwMissed bool
	degraded bool

	// swapped by StartRoute, appended to from request goroutines
	log atomic.Pointer[runlog.Recorder]
}

// New creates an idle engine over catalog
func New(catalog *route.Catalog, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:     cfg,
		clock:   WallClock(),
		logger:  zap.NewNop(),
		catalog: catalog,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	if e.injector != nil {
		e.injector.OnInject(e.injected)
	}
	e.rng = rand.New(rand.NewSource(cfg.NoiseSeed))

	e.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateStepRunning},
			{Name: eventFinish, Src: []string{StateStepRunning}, Dst: StateRouteCompleting},
			{Name: eventRepeat, Src: []string{StateRouteCompleting}, Dst: StateStepRunning},
			{Name: eventSettle, Src: []string{StateRouteCompleting}, Dst: StateIdle},
			{Name: eventHalt, Src: []string{StateStepRunning, StateRouteCompleting}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.logger.Debug("State transition",
					zap.String("event", ev.Event),
					zap.String("from", ev.Src),
					zap.String("to", ev.Dst))
			},
		},
	)

	now := e.clock.Now()
	e.state = robot.New(cfg.RobotID, cfg.MapWidth, cfg.MapHeight, now.UnixMilli())
	if cfg.HardwareMode {
		e.state.Sensors.Source = robot.SourceHardware
	}
	e.syncPoses()
	return e
}

// ============================================================
// Control
// ============================================================

// StartRoute begins executing a route. It fails without side effects when
// the route is unknown or a route is already in progress.
func (e *Engine) StartRoute(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()

	def, ok := e.catalog.Get(id)
	if !ok {
		e.record(now, runlog.LevelError, fmt.Sprintf("Route %d not found", id), nil)
		return false
	}
	if e.machine.Current() != StateIdle {
		e.record(now, runlog.LevelWarning, "Robot is already running", nil)
		return false
	}

	e.log.Store(runlog.NewRecorder())
	e.fire(eventStart)
	e.haveLastTick = false
	e.velocity = 0
	e.expected = e.actual
	e.beginRoute(now, def, false)
	return true
}

// StopRoute ends the current route without raising an error
func (e *Engine) StopRoute() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()

	if !e.machine.Can(eventHalt) {
		return false
	}
	e.fire(eventHalt)
	name := ""
	if e.route != nil {
		name = e.route.Name
	}
	e.halt()
	e.record(now, runlog.LevelInfo, fmt.Sprintf("Stopped route %s", name), nil)
	e.record(now, runlog.LevelInfo, "Robot stopped", e.poseData(nil))
	e.sealLog()
	return true
}

// EmergencyStop latches an emergency stop. It always succeeds; the next tick
// zeroes the motors and returns the engine to idle before doing anything else.
// The request is logged at once so the response time shows in the run log.
func (e *Engine) EmergencyStop() {
	e.record(e.clock.Now(), runlog.LevelError, "Emergency stop requested", nil)
	e.estop.Store(true)
}

// SetHardwareMode switches between hardware fusion and the synthetic model
func (e *Engine) SetHardwareMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()

	e.cfg.HardwareMode = on
	e.hwMissed = false
	e.degraded = false
	if on {
		e.state.Sensors.Source = robot.SourceHardware
		e.record(now, runlog.LevelInfo, "Hardware mode enabled", nil)
	} else {
		e.state.Sensors.Source = robot.SourceSynthetic
		e.record(now, runlog.LevelInfo, "Hardware mode disabled", nil)
	}
}

// HardwareMode reports whether hardware fusion is enabled
func (e *Engine) HardwareMode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.HardwareMode
}

// ResetPosition returns the robot to the map centre and clears its errors
func (e *Engine) ResetPosition() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()

	e.state.Position = robot.Position{X: e.cfg.MapWidth / 2, Y: e.cfg.MapHeight / 2, Timestamp: now.UnixMilli()}
	e.state.Sensors.EncoderLeft = 0
	e.state.Sensors.EncoderRight = 0
	e.state.Errors = []string{}
	e.velocity = 0
	e.syncPoses()
	e.record(now, runlog.LevelInfo, "Robot position reset", nil)
}

// State returns a copy of the robot state
func (e *Engine) State() robot.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Phase returns the current state machine state
func (e *Engine) Phase() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Current()
}

// ExecutionLog returns the log of the current run, or of the last one once
// it has ended
func (e *Engine) ExecutionLog() []runlog.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.log.Load()
	if log == nil {
		return nil
	}
	return log.Entries()
}

// RunComplete reports whether the last run has ended and its log is sealed
func (e *Engine) RunComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.log.Load()
	return log != nil && log.Sealed()
}

// Run drives the engine from sched until ctx is cancelled
func (e *Engine) Run(ctx context.Context, sched Scheduler) error {
	e.logger.Info("Engine started", zap.Duration("tick_period", e.cfg.TickPeriod))
	defer e.logger.Info("Engine stopped")
	return sched.Run(ctx, e.Tick)
}

// ============================================================
// Tick
// ============================================================

// Tick advances the engine to the clock's current time. It never panics.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	defer e.recoverTick(now)

	if e.estop.Swap(false) {
		e.takePending()
		e.emergencyStop(now)
		e.lastTick, e.haveLastTick = now, true
		e.publishState(now)
		return
	}
	for _, ev := range e.takePending() {
		e.applyInjected(now, ev)
	}

	dt := e.cfg.TickPeriod
	if e.haveLastTick {
		dt = now.Sub(e.lastTick)
		if dt < 0 {
			dt = 0
		}
		if limit := 5 * e.cfg.TickPeriod; dt > limit {
			dt = limit
		}
	}
	e.lastTick, e.haveLastTick = now, true

	snap, fresh := e.hardwareSnapshot(now)
	e.updateSensors(snap, fresh, dt)

	switch e.machine.Current() {
	case StateStepRunning:
		e.advance(now, dt, snap, fresh)
	case StateRouteCompleting:
		if !now.Before(e.resumeAt) {
			e.resume(now)
		}
	}

	e.publishState(now)
}

func (e *Engine) recoverTick(now time.Time) {
	r := recover()
	if r == nil {
		return
	}
	e.logger.Error("Tick panicked", zap.Any("panic", r), zap.Stack("stack"))
	e.degraded = true
	e.record(now, runlog.LevelError, fmt.Sprintf("Tick failed (%v), using synthetic model", r), nil)
}

// hardwareSnapshot returns a fresh snapshot when hardware mode is on, and
// logs transitions between hardware data and the synthetic fallback
func (e *Engine) hardwareSnapshot(now time.Time) (sensor.Snapshot, bool) {
	if !e.cfg.HardwareMode || e.degraded {
		return sensor.Snapshot{}, false
	}

	var snap sensor.Snapshot
	fresh := false
	if e.snapshots != nil {
		snap, fresh = e.snapshots.Fresh(now, e.cfg.SnapshotMaxAge)
	}

	switch {
	case !fresh && !e.hwMissed:
		e.hwMissed = true
		e.record(now, runlog.LevelWarning, "Hardware snapshot unavailable, using synthetic model", nil)
	case fresh && e.hwMissed:
		e.hwMissed = false
		e.record(now, runlog.LevelInfo, "Hardware snapshot resumed", nil)
	}
	return snap, fresh
}

// advance runs the current route forward to now. Several steps may complete
// in one tick; each step after the first starts exactly where the previous
// one ended.
func (e *Engine) advance(now time.Time, dt time.Duration, snap sensor.Snapshot, fresh bool) {
	fused := false
	if fresh {
		fused = fuse(&e.actual, &e.velocity, snap, dt)
	}

	tickStart := now.Add(-dt)
	for e.machine.Current() == StateStepRunning {
		step := e.route.Steps[e.stepIndex]
		duration := route.StepDuration(step)
		stepEnd := e.stepStart.Add(duration)
		progress := progressAt(now, e.stepStart, duration)

		seg := earlier(now, stepEnd).Sub(later(tickStart, e.stepStart))
		e.expected.integrate(step, progress, seg)
		if fused {
			e.actual.stepHeading = e.actual.heading - headingDelta(step, progress)
		} else {
			e.actual.integrate(step, progress, seg)
		}

		if progress < 1 {
			break
		}
		e.completeStep(now, step, duration)
		e.stepIndex++
		e.stepStart = stepEnd
		if e.stepIndex >= len(e.route.Steps) {
			e.completeRoute(now)
			break
		}
		e.beginStep(now)
	}

	e.storePose(now)
	if e.machine.Current() == StateStepRunning {
		e.recordTelemetry(now, fused)
	}
}

// ============================================================
// Transitions
// ============================================================

func (e *Engine) beginRoute(now time.Time, def route.Definition, repeat bool) {
	e.route = &def
	e.stepIndex = 0
	e.stepStart = now

	id := def.ID
	e.state.IsRunning = true
	e.state.CurrentRoute = &id
	e.catalog.SetActive(id, true)

	msg := fmt.Sprintf("Started route %s", def.Name)
	if repeat {
		msg = fmt.Sprintf("Started route %s (repeat, %d passes left)", def.Name, def.RepeatCount)
	}
	e.record(now, runlog.LevelInfo, msg, &runlog.Data{RouteID: runlog.Ptr(id)})
	e.publish(events.RouteStarted{RouteID: id, Timestamp: now.UnixMilli()})
	e.beginStep(now)
}

func (e *Engine) beginStep(now time.Time) {
	step := e.route.Steps[e.stepIndex]
	idx := e.stepIndex
	e.state.CurrentStep = &idx
	e.state.Motors = robot.Motors{LeftSpeed: step.Speed, RightSpeed: step.Speed, IsRunning: true}
	e.actual.beginStep()
	e.expected.beginStep()

	e.record(now, runlog.LevelInfo, fmt.Sprintf("Starting step %d: %s", step.ID, step.Description),
		&runlog.Data{StepIndex: runlog.Ptr(idx), TargetSpeed: runlog.Ptr(step.Speed)})
}

func (e *Engine) completeStep(now time.Time, step route.Step, duration time.Duration) {
	e.storePose(now)
	data := e.poseData(&runlog.Data{
		StepIndex:  runlog.Ptr(e.stepIndex),
		DurationMs: runlog.Ptr(float64(duration) / float64(time.Millisecond)),
	})
	e.record(now, runlog.LevelInfo, fmt.Sprintf("Completed step %d: %s", step.ID, step.Description), data)
}

func (e *Engine) completeRoute(now time.Time) {
	def := e.route
	e.fire(eventFinish)
	e.catalog.SetActive(def.ID, false)
	e.state.IsRunning = false
	e.state.Motors = robot.Motors{}
	e.state.CurrentRoute = nil
	e.state.CurrentStep = nil
	e.velocity = 0

	e.record(now, runlog.LevelInfo, fmt.Sprintf("Route completed: %s", def.Name),
		&runlog.Data{RouteID: runlog.Ptr(def.ID)})
	e.publish(events.RouteCompleted{RouteID: def.ID, Success: true, Timestamp: now.UnixMilli()})

	current, ok := e.catalog.Get(def.ID)
	if ok && current.RepeatCount > 1 {
		left, _ := e.catalog.DecrementRepeat(def.ID)
		e.resumeAt = now.Add(e.cfg.RepeatPause)
		e.record(now, runlog.LevelInfo,
			fmt.Sprintf("Repeating route %s in %d ms (%d passes left)", def.Name, e.cfg.RepeatPause.Milliseconds(), left), nil)
		return
	}

	e.fire(eventSettle)
	e.route = nil
	e.sealLog()
}

func (e *Engine) resume(now time.Time) {
	def, ok := e.catalog.Get(e.route.ID)
	if !ok {
		e.record(now, runlog.LevelWarning, fmt.Sprintf("Route %d removed during repeat pause", e.route.ID), nil)
		e.fire(eventSettle)
		e.route = nil
		e.sealLog()
		return
	}
	e.fire(eventRepeat)
	e.beginRoute(now, def, true)
}

func (e *Engine) emergencyStop(now time.Time) {
	if e.machine.Can(eventHalt) {
		e.fire(eventHalt)
	}
	e.halt()
	e.raise(robot.ErrCodeEmergencyStop)

	e.record(now, runlog.LevelError, "Emergency stop activated", nil)
	e.publish(events.EmergencyStop{Timestamp: now.UnixMilli()})
	e.record(now, runlog.LevelInfo, "Robot stopped", e.poseData(nil))
	e.sealLog()
}

// ============================================================
// Injected events
// ============================================================

// injected runs on the injecting goroutine. It logs the event against the
// current run and queues the ones that change the robot for the next tick.
func (e *Engine) injected(ev inject.Event) {
	if ev.EmergencyStop() {
		e.EmergencyStop()
		return
	}
	e.record(e.clock.Now(), runlog.LevelWarning, ev.Description, nil)
	if !ev.Halts() && (ev.Fault == nil || ev.Fault.Type != inject.FaultSensorFailure) {
		return
	}
	e.pendingMu.Lock()
	e.pending = append(e.pending, ev)
	e.pendingMu.Unlock()
}

func (e *Engine) takePending() []inject.Event {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// injectedErrors maps faults to the robot error they raise
var injectedErrors = map[inject.FaultType]string{
	inject.FaultMotorBlock:    robot.ErrCodeMotorTimeout,
	inject.FaultSensorFailure: robot.ErrCodeSensorDisconnected,
	inject.FaultPowerLoss:     robot.ErrCodeBatteryLow,
}

func (e *Engine) applyInjected(now time.Time, ev inject.Event) {
	if ev.Fault != nil {
		e.raise(injectedErrors[ev.Fault.Type])
	}

	if ev.Fault != nil && ev.Fault.Type == inject.FaultSensorFailure {
		if e.cfg.HardwareMode && !e.degraded {
			e.degraded = true
			e.record(now, runlog.LevelWarning, "Sensor failure, using synthetic model", nil)
		}
		return
	}

	if !ev.Halts() || !e.machine.Can(eventHalt) {
		return
	}
	e.fire(eventHalt)
	def := e.route
	e.halt()
	if def != nil {
		e.record(now, runlog.LevelWarning, fmt.Sprintf("Halted route %s for event %s", def.Name, ev.ID),
			&runlog.Data{RouteID: runlog.Ptr(def.ID)})
		e.publish(events.RouteCompleted{RouteID: def.ID, Success: false, Timestamp: now.UnixMilli()})
	}
	e.record(now, runlog.LevelInfo, "Robot stopped", e.poseData(nil))
	e.sealLog()
}

func (e *Engine) raise(code string) {
	if code != "" && !e.state.HasError(code) {
		e.state.Errors = append(e.state.Errors, code)
	}
}

// halt clears the active route and zeroes the motors
func (e *Engine) halt() {
	if e.route != nil {
		e.catalog.SetActive(e.route.ID, false)
	}
	e.route = nil
	e.stepIndex = 0
	e.velocity = 0
	e.state.IsRunning = false
	e.state.Motors = robot.Motors{}
	e.state.CurrentRoute = nil
	e.state.CurrentStep = nil
}

func (e *Engine) sealLog() {
	if log := e.log.Load(); log != nil {
		log.Seal()
	}
}

func (e *Engine) fire(event string) {
	if err := e.machine.Event(context.Background(), event); err != nil {
		e.logger.Warn("Rejected state transition", zap.String("event", event), zap.Error(err))
	}
}

// ============================================================
// State and logging helpers
// ============================================================

func (e *Engine) syncPoses() {
	p := e.state.Position
	e.actual = pose{x: p.X, y: p.Y, heading: p.Heading, stepHeading: p.Heading}
	e.expected = e.actual
}

func (e *Engine) storePose(now time.Time) {
	e.state.Position = robot.Position{
		X:         e.actual.x,
		Y:         e.actual.y,
		Heading:   robot.NormalizeHeading(e.actual.heading),
		Timestamp: now.UnixMilli(),
	}
}

func (e *Engine) poseData(d *runlog.Data) *runlog.Data {
	if d == nil {
		d = &runlog.Data{}
	}
	d.Position = &runlog.Point{X: e.state.Position.X, Y: e.state.Position.Y}
	d.Orientation = runlog.Ptr(e.state.Position.Heading)
	return d
}

func (e *Engine) recordTelemetry(now time.Time, fused bool) {
	step := e.route.Steps[e.stepIndex]
	speed := (e.state.Motors.LeftSpeed + e.state.Motors.RightSpeed) / 2
	if fused {
		speed = e.velocity
	}
	data := e.poseData(&runlog.Data{
		StepIndex:        runlog.Ptr(e.stepIndex),
		ExpectedPosition: &runlog.Point{X: e.expected.x, Y: e.expected.y},
		Speed:            runlog.Ptr(speed),
		TargetSpeed:      runlog.Ptr(step.Speed),
	})
	e.record(now, runlog.LevelDebug, "Position update", data)
}

func (e *Engine) publishState(now time.Time) {
	e.state.LastUpdate = now.UnixMilli()
	e.publish(events.StateUpdate{State: e.state.Clone()})
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// record appends to the run log, publishes a log event and mirrors the entry
// to zap
func (e *Engine) record(now time.Time, level runlog.Level, msg string, data *runlog.Data) {
	entry := runlog.Entry{
		Timestamp: now.UnixMilli(),
		Level:     level,
		Source:    Source,
		Message:   msg,
		Data:      data,
	}
	if log := e.log.Load(); log != nil {
		log.Append(entry)
	}
	e.publish(events.Log{Entry: entry})

	switch level {
	case runlog.LevelError:
		e.logger.Error(msg)
	case runlog.LevelWarning:
		e.logger.Warn(msg)
	case runlog.LevelInfo:
		e.logger.Info(msg)
	default:
		e.logger.Debug(msg)
	}
}
