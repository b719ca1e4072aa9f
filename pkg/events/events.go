// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/inject"
	"github.com/Thermoquad/furrow/pkg/robot"
	"github.com/Thermoquad/furrow/pkg/runlog"
)

// Kind is the wire name of an event
type Kind string

const (
	KindRouteStarted   Kind = "route_started"
	KindRouteCompleted Kind = "route_completed"
	KindEmergencyStop  Kind = "emergency_stop"
	KindStateUpdate    Kind = "state_update"
	KindLog            Kind = "log"
	KindFaultProfile   Kind = "fault_profile"
	KindEventInjected  Kind = "event_injected"
)

// Event is one of the concrete event types in this package
type Event interface {
	Kind() Kind
	Time() int64
	isEvent()
}

// RouteStarted is emitted when a route (or a repeat of it) begins
type RouteStarted struct {
	RouteID   int   `json:"routeId"`
	Timestamp int64 `json:"timestamp"`
}

// RouteCompleted is emitted after the last step of a pass finishes
type RouteCompleted struct {
	RouteID   int   `json:"routeId"`
	Success   bool  `json:"success"`
	Timestamp int64 `json:"timestamp"`
}

// EmergencyStop is emitted when an emergency stop takes effect
type EmergencyStop struct {
	Timestamp int64 `json:"timestamp"`
}

// StateUpdate carries the robot state after a tick
type StateUpdate struct {
	State robot.State `json:"state"`
}

// Log carries a run log entry
type Log struct {
	Entry runlog.Entry `json:"entry"`
}

// FaultProfile is emitted whenever the fault profile is replaced or cleared
type FaultProfile struct {
	Config    faults.Config `json:"config"`
	Timestamp int64         `json:"timestamp"`
}

// Injected is emitted when an environment event or component fault is
// injected
type Injected struct {
	Event inject.Event `json:"event"`
}

func (RouteStarted) Kind() Kind   { return KindRouteStarted }
func (RouteCompleted) Kind() Kind { return KindRouteCompleted }
func (EmergencyStop) Kind() Kind  { return KindEmergencyStop }
func (StateUpdate) Kind() Kind    { return KindStateUpdate }
func (Log) Kind() Kind            { return KindLog }
func (FaultProfile) Kind() Kind   { return KindFaultProfile }
func (Injected) Kind() Kind       { return KindEventInjected }

func (e RouteStarted) Time() int64   { return e.Timestamp }
func (e RouteCompleted) Time() int64 { return e.Timestamp }
func (e EmergencyStop) Time() int64  { return e.Timestamp }
func (e StateUpdate) Time() int64    { return e.State.LastUpdate }
func (e Log) Time() int64            { return e.Entry.Timestamp }
func (e FaultProfile) Time() int64   { return e.Timestamp }
func (e Injected) Time() int64       { return e.Event.Timestamp }

func (RouteStarted) isEvent()   {}
func (RouteCompleted) isEvent() {}
func (EmergencyStop) isEvent()  {}
func (StateUpdate) isEvent()    {}
func (Log) isEvent()            {}
func (FaultProfile) isEvent()   {}
func (Injected) isEvent()       {}

// Message is the envelope used on the websocket and MQTT transports
type Message struct {
	Type      Kind  `json:"type"`
	Timestamp int64 `json:"timestamp"`
	Data      any   `json:"data"`
}

// ToMessage wraps an event for transport. The payload of state and log
// events is the state or entry itself.
func ToMessage(e Event) Message {
	var data any = e
	switch e := e.(type) {
	case StateUpdate:
		data = e.State
	case Log:
		data = e.Entry
	case Injected:
		data = e.Event
	}
	return Message{Type: e.Kind(), Timestamp: e.Time(), Data: data}
}
