// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package runlog

import (
	"fmt"
	"strings"
	"sync"
)

// Level is the severity of a run log entry
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Point is a map position in mm
type Point struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
}

// Data is the structured payload of an entry. Every field is optional.
type Data struct {
	RouteID          *int     `json:"routeId,omitempty" cbor:"routeId,omitempty"`
	StepIndex        *int     `json:"stepIndex,omitempty" cbor:"stepIndex,omitempty"`
	Position         *Point   `json:"position,omitempty" cbor:"position,omitempty"`
	ExpectedPosition *Point   `json:"expectedPosition,omitempty" cbor:"expectedPosition,omitempty"`
	Orientation      *float64 `json:"orientation,omitempty" cbor:"orientation,omitempty"`
	Speed            *float64 `json:"speed,omitempty" cbor:"speed,omitempty"`
	TargetSpeed      *float64 `json:"targetSpeed,omitempty" cbor:"targetSpeed,omitempty"`
	DurationMs       *float64 `json:"durationMs,omitempty" cbor:"durationMs,omitempty"`
}

// Entry is one record of an execution log
type Entry struct {
	Timestamp int64  `json:"timestamp" cbor:"timestamp"` // ms
	Level     Level  `json:"level" cbor:"level"`
	Source    string `json:"source" cbor:"source"`
	Message   string `json:"message" cbor:"message"`
	Data      *Data  `json:"data,omitempty" cbor:"data,omitempty"`
}

// Clone returns a deep copy of d
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	return &Data{
		RouteID:          clonePtr(d.RouteID),
		StepIndex:        clonePtr(d.StepIndex),
		Position:         clonePtr(d.Position),
		ExpectedPosition: clonePtr(d.ExpectedPosition),
		Orientation:      clonePtr(d.Orientation),
		Speed:            clonePtr(d.Speed),
		TargetSpeed:      clonePtr(d.TargetSpeed),
		DurationMs:       clonePtr(d.DurationMs),
	}
}

// CloneEntries returns a copy of entries that shares no Data with them
func CloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Data = e.Data.Clone()
		out[i] = e
	}
	return out
}

// Contains reports whether the message contains substr, ignoring case
func (e *Entry) Contains(substr string) bool {
	return strings.Contains(strings.ToLower(e.Message), strings.ToLower(substr))
}

func (e Entry) String() string {
	return fmt.Sprintf("[%d] %-7s %s: %s", e.Timestamp, strings.ToUpper(string(e.Level)), e.Source, e.Message)
}

// Recorder is an append-only execution log. Once sealed it rejects appends.
type Recorder struct {
	mu      sync.RWMutex
	entries []Entry
	sealed  bool
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append adds an entry; it returns false if the log is sealed
func (r *Recorder) Append(e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return false
	}
	r.entries = append(r.entries, e)
	return true
}

// Seal freezes the log
func (r *Recorder) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether the log is frozen
func (r *Recorder) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Entries returns a copy of the log
func (r *Recorder) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Ptr returns a pointer to v, for filling optional Data fields
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return Ptr(*p)
}
