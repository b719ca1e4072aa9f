// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package runlog

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestEntryContains(t *testing.T) {
	e := Entry{Message: "Emergency stop activated"}
	if !e.Contains("emergency") {
		t.Error("Contains should ignore case")
	}
	if e.Contains("stopped") {
		t.Error("Unexpected match")
	}
}

func TestEntryString(t *testing.T) {
	s := Entry{Timestamp: 1500, Level: LevelWarning, Source: "engine", Message: "fallback"}.String()
	if !strings.Contains(s, "[1500]") || !strings.Contains(s, "WARNING") || !strings.Contains(s, "engine: fallback") {
		t.Errorf("Unexpected format: %q", s)
	}
}

func TestEntryJSONOmitsEmptyData(t *testing.T) {
	data, err := json.Marshal(Entry{Timestamp: 1, Level: LevelInfo, Source: "s", Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "data") {
		t.Errorf("Empty data should be omitted: %s", data)
	}

	data, _ = json.Marshal(Entry{Data: &Data{Position: &Point{X: 1, Y: 2}, Speed: Ptr(500.0)}})
	if !strings.Contains(string(data), `"position":{"x":1,"y":2}`) || !strings.Contains(string(data), `"speed":500`) {
		t.Errorf("Unexpected encoding: %s", data)
	}
	if strings.Contains(string(data), "expectedPosition") {
		t.Errorf("Unset fields should be omitted: %s", data)
	}
}

func TestCloneEntries(t *testing.T) {
	src := []Entry{
		{Timestamp: 1, Message: "no data"},
		{Timestamp: 2, Message: "step", Data: &Data{
			StepIndex: Ptr(0),
			Position:  &Point{X: 10, Y: 20},
			Speed:     Ptr(500.0),
		}},
	}
	out := CloneEntries(src)

	src[1].Data.Position.X = 99
	*src[1].Data.StepIndex = 4
	*src[1].Data.Speed = 0

	if out[0].Data != nil {
		t.Error("Nil data should stay nil")
	}
	d := out[1].Data
	if d.Position.X != 10 || *d.StepIndex != 0 || *d.Speed != 500 {
		t.Errorf("Clone shares data with its source: %+v", d)
	}
	if d.Orientation != nil || d.DurationMs != nil {
		t.Error("Clone filled unset fields")
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Append(Entry{Timestamp: 1, Message: "a"})
	r.Append(Entry{Timestamp: 2, Message: "b"})

	entries := r.Entries()
	entries[0].Message = "changed"
	if r.Entries()[0].Message != "a" {
		t.Error("Entries should return a copy")
	}

	r.Seal()
	if !r.Sealed() {
		t.Error("Recorder should be sealed")
	}
	if r.Append(Entry{Timestamp: 3}) {
		t.Error("Append after Seal should fail")
	}
	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestRecorderConcurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				r.Append(Entry{Timestamp: int64(j)})
				_ = r.Len()
			}
		}()
	}
	wg.Wait()
	if r.Len() != 1000 {
		t.Errorf("Len = %d, want 1000", r.Len())
	}
}
