// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package inject records discrete events pushed into a run from outside:
// obstacles and other environment changes, and component faults. Unlike the
// fault profiles in package faults, which distort every sensor reading,
// these are one-off occurrences with an optional lifetime.
package inject

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/pkg/runlog"
)

// DefaultHistorySize bounds the history list
const DefaultHistorySize = 1000

// Category groups injected events
type Category string

const (
	CategoryEnvironment Category = "environment"
	CategorySystem      Category = "system"
)

// EnvironmentType is the kind of environment change
type EnvironmentType string

const (
	EnvObstacle         EnvironmentType = "obstacle"
	EnvMagnetShift      EnvironmentType = "magnet_shift"
	EnvSurfaceChange    EnvironmentType = "surface_change"
	EnvPowerFluctuation EnvironmentType = "power_fluctuation"
)

// FaultType is the kind of component fault
type FaultType string

const (
	FaultMotorBlock         FaultType = "motor_block"
	FaultSensorFailure      FaultType = "sensor_failure"
	FaultPowerLoss          FaultType = "power_loss"
	FaultCommunicationError FaultType = "communication_error"
)

// Severity of a component fault
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EmergencyComponent is the component named by an injected emergency stop
const EmergencyComponent = "emergency_system"

var (
	ErrUnknownType      = errors.New("inject: unknown event type")
	ErrMissingField     = errors.New("inject: required field missing")
	ErrInvalidMagnitude = errors.New("inject: magnitude must be finite")
	ErrInvalidDuration  = errors.New("inject: duration must not be negative")
)

// Environment describes a change in the robot's surroundings. Position is
// in mm; Magnitude is type specific (mm for a magnet shift).
type Environment struct {
	Type       EnvironmentType `json:"type"`
	Position   *runlog.Point   `json:"position,omitempty"`
	Magnitude  float64         `json:"magnitude"`
	DurationMs int64           `json:"durationMs,omitempty"`
}

func (e Environment) validate() error {
	switch e.Type {
	case EnvObstacle, EnvMagnetShift, EnvSurfaceChange, EnvPowerFluctuation:
	case "":
		return fmt.Errorf("%w: type", ErrMissingField)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if math.IsNaN(e.Magnitude) || math.IsInf(e.Magnitude, 0) {
		return ErrInvalidMagnitude
	}
	if e.DurationMs < 0 {
		return ErrInvalidDuration
	}
	return nil
}

// Fault describes a failed component
type Fault struct {
	Type           FaultType `json:"type"`
	Component      string    `json:"component"`
	Severity       Severity  `json:"severity"`
	RecoveryTimeMs int64     `json:"recoveryTimeMs,omitempty"`
}

func (f Fault) validate() error {
	switch f.Type {
	case FaultMotorBlock, FaultSensorFailure, FaultPowerLoss, FaultCommunicationError:
	case "":
		return fmt.Errorf("%w: type", ErrMissingField)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	if f.Component == "" {
		return fmt.Errorf("%w: component", ErrMissingField)
	}
	switch f.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	case "":
		return fmt.Errorf("%w: severity", ErrMissingField)
	default:
		return fmt.Errorf("%w: severity %q", ErrUnknownType, f.Severity)
	}
	if f.RecoveryTimeMs < 0 {
		return ErrInvalidDuration
	}
	return nil
}

// Event is one injected occurrence. Exactly one of Environment and Fault is
// set, matching Category.
type Event struct {
	ID          string       `json:"id"`
	Timestamp   int64        `json:"timestamp"` // ms
	Category    Category     `json:"category"`
	Target      string       `json:"target"`
	DurationMs  int64        `json:"durationMs,omitempty"`
	Description string       `json:"description"`
	Environment *Environment `json:"environment,omitempty"`
	Fault       *Fault       `json:"fault,omitempty"`
}

// Expired reports whether the event's lifetime has passed at now (ms).
// Events without a duration stay active until removed.
func (e Event) Expired(now int64) bool {
	return e.DurationMs > 0 && now >= e.Timestamp+e.DurationMs
}

// Halts reports whether the robot has to stop for this event
func (e Event) Halts() bool {
	switch {
	case e.Environment != nil:
		return e.Environment.Type == EnvObstacle
	case e.Fault != nil:
		switch e.Fault.Type {
		case FaultMotorBlock, FaultPowerLoss:
			return true
		}
	}
	return false
}

// EmergencyStop reports whether the event is an injected emergency stop
func (e Event) EmergencyStop() bool {
	return e.Fault != nil && e.Fault.Component == EmergencyComponent
}

// Export is the active and history lists together
type Export struct {
	Active  []Event `json:"active"`
	History []Event `json:"history"`
}

// Option configures a Registry
type Option func(*Registry)

// WithNow replaces the wall clock
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithHistorySize bounds the history list
func WithHistorySize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxHistory = n
		}
	}
}

// WithLogger sets the zap logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry holds the active injected events and a bounded history.
// Listeners registered with OnInject run after the event is stored,
// outside the registry lock.
type Registry struct {
	mu         sync.Mutex
	active     []Event // injection order
	history    []Event
	maxHistory int
	now        func() time.Time
	logger     *zap.Logger
	listeners  []func(Event)
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		maxHistory: DefaultHistorySize,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("inject")
	return r
}

// OnInject registers fn to be called for every new event
func (r *Registry) OnInject(fn func(Event)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// InjectEnvironment records an environment change
func (r *Registry) InjectEnvironment(env Environment) (Event, error) {
	if err := env.validate(); err != nil {
		return Event{}, err
	}
	ev := Event{
		Category:    CategoryEnvironment,
		Target:      string(env.Type),
		DurationMs:  env.DurationMs,
		Description: describeEnvironment(env),
		Environment: &env,
	}
	return r.add(ev), nil
}

// InjectFault records a component fault
func (r *Registry) InjectFault(f Fault) (Event, error) {
	if err := f.validate(); err != nil {
		return Event{}, err
	}
	ev := Event{
		Category:    CategorySystem,
		Target:      f.Component,
		DurationMs:  f.RecoveryTimeMs,
		Description: fmt.Sprintf("Fault injected: %s on %s (%s)", f.Type, f.Component, f.Severity),
		Fault:       &f,
	}
	return r.add(ev), nil
}

// InjectMagnetShift records a magnet moved from one point to another. The
// magnitude is the distance moved.
func (r *Registry) InjectMagnetShift(from, to runlog.Point) (Event, error) {
	return r.InjectEnvironment(Environment{
		Type:      EnvMagnetShift,
		Position:  &to,
		Magnitude: math.Hypot(to.X-from.X, to.Y-from.Y),
	})
}

// InjectEmergencyStop records a critical fault on the emergency system
func (r *Registry) InjectEmergencyStop() Event {
	ev, _ := r.InjectFault(Fault{
		Type:      FaultCommunicationError,
		Component: EmergencyComponent,
		Severity:  SeverityCritical,
	})
	return ev
}

func (r *Registry) add(ev Event) Event {
	ev.ID = "evt_" + uuid.NewString()
	ev.Timestamp = r.now().UnixMilli()

	r.mu.Lock()
	r.expireLocked(ev.Timestamp)
	r.active = append(r.active, ev)
	r.history = append(r.history, ev)
	if over := len(r.history) - r.maxHistory; over > 0 {
		r.history = append([]Event(nil), r.history[over:]...)
	}
	listeners := append(([]func(Event))(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Info("Event injected",
		zap.String("id", ev.ID),
		zap.String("category", string(ev.Category)),
		zap.String("target", ev.Target))
	for _, fn := range listeners {
		fn(ev)
	}
	return ev
}

// expireLocked drops active events whose lifetime has passed
func (r *Registry) expireLocked(now int64) {
	r.active = slices.DeleteFunc(r.active, func(ev Event) bool { return ev.Expired(now) })
}

// Remove deletes an active event
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(r.now().UnixMilli())
	i := slices.IndexFunc(r.active, func(ev Event) bool { return ev.ID == id })
	if i < 0 {
		return false
	}
	r.active = slices.Delete(r.active, i, i+1)
	return true
}

// Clear removes every active event and returns how many there were. The
// history is kept.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.active)
	r.active = nil
	return n
}

// Active returns the live events, oldest first
func (r *Registry) Active() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(r.now().UnixMilli())
	return append([]Event{}, r.active...)
}

// ActiveFor returns the oldest live event aimed at target
func (r *Registry) ActiveFor(target string) (Event, bool) {
	for _, ev := range r.Active() {
		if ev.Target == target {
			return ev, true
		}
	}
	return Event{}, false
}

// History returns past events newest first. limit <= 0 returns all of them.
func (r *Registry) History(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := len(r.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// Export returns both lists
func (r *Registry) Export() Export {
	return Export{Active: r.Active(), History: r.History(0)}
}

func describeEnvironment(env Environment) string {
	where := "unknown position"
	if env.Position != nil {
		where = fmt.Sprintf("(%.0f, %.0f)", env.Position.X, env.Position.Y)
	}
	switch env.Type {
	case EnvObstacle:
		return fmt.Sprintf("Obstacle detected at %s", where)
	case EnvMagnetShift:
		return fmt.Sprintf("Magnet shifted %.0fmm to %s", env.Magnitude, where)
	}
	return fmt.Sprintf("Environment event: %s at %s with magnitude %g", env.Type, where, env.Magnitude)
}
