// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/furrow/pkg/events"
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/runlog"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// ============================================================
// Test Helpers
// ============================================================

func wireFrame(seq uint16) []byte {
	return imuframe.EncodeFrame(&imuframe.Frame{
		MagnetBar: 0b101,
		Accel:     imuframe.Vector3{Z: 1},
		AHRS:      imuframe.Attitude{Yaw: 45},
		Sequence:  seq,
	})
}

func newBridge(t *testing.T, opts ...Option) (*Bridge, *sensor.Cell, *faults.Injector) {
	t.Helper()
	cell := &sensor.Cell{}
	inj := faults.NewInjector(faults.WithSeed(1))
	return New(inj, cell, opts...), cell, inj
}

// ============================================================
// Decode Path Tests
// ============================================================

func TestProcess_StoresSnapshot(t *testing.T) {
	b, cell, _ := newBridge(t)

	if n := b.Process(wireFrame(7)); n != 1 {
		t.Fatalf("Process stored %d snapshots, want 1", n)
	}
	snap, ok := cell.Load()
	if !ok {
		t.Fatal("Cell empty after valid frame")
	}
	if snap.Sequence != 7 || snap.Accel.Z != 1 || snap.AHRS.Yaw != 45 || snap.Faulted {
		t.Errorf("Snapshot %+v", snap)
	}

	st := b.Status()
	if st.TotalFrames != 1 || st.ValidFrames != 1 || st.LastSnapshot == nil {
		t.Errorf("Status %+v", st)
	}
}

func TestProcess_AppliesFaults(t *testing.T) {
	b, cell, inj := newBridge(t)
	p, err := faults.NewProfile(true, faults.AccelerometerBias{Offset: imuframe.Vector3{X: 0.5}})
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	inj.Set(p)

	b.Process(wireFrame(1))
	snap, _ := cell.Load()
	if snap.Accel.X != 0.5 || !snap.Faulted {
		t.Errorf("Accel.X = %v faulted = %v, want 0.5 true", snap.Accel.X, snap.Faulted)
	}
}

func TestProcess_RecoversAfterGarbage(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(16)
	defer cancel()
	b, _, _ := newBridge(t, WithBus(bus))

	chunk := append([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}, wireFrame(3)...)
	if n := b.Process(chunk); n != 1 {
		t.Fatalf("Process stored %d snapshots, want 1", n)
	}

	stats := b.Statistics()
	if stats.MarkerErrors != 1 || stats.DiscardedBytes != 10 || stats.ValidFrames != 1 {
		t.Errorf("Statistics: markers %d discarded %d valid %d", stats.MarkerErrors, stats.DiscardedBytes, stats.ValidFrames)
	}

	select {
	case ev := <-ch:
		log, ok := ev.(events.Log)
		if !ok || log.Entry.Level != runlog.LevelWarning || log.Entry.Source != Source {
			t.Errorf("Event %#v", ev)
		}
	default:
		t.Error("No diagnostic event published")
	}
}

func TestProcess_CRCErrorNotStored(t *testing.T) {
	b, cell, _ := newBridge(t)
	frame := wireFrame(1)
	frame[10] ^= 0x01

	if n := b.Process(frame); n != 0 {
		t.Errorf("Corrupt frame stored %d snapshots", n)
	}
	if _, ok := cell.Load(); ok {
		t.Error("Corrupt frame reached the cell")
	}
	if st := b.Status(); st.CRCErrors != 1 {
		t.Errorf("CRCErrors = %d, want 1", st.CRCErrors)
	}
}

func TestProcess_SplitAcrossChunks(t *testing.T) {
	b, _, _ := newBridge(t)
	frame := wireFrame(9)
	if n := b.Process(frame[:30]); n != 0 {
		t.Errorf("Partial frame stored %d snapshots", n)
	}
	if n := b.Process(frame[30:]); n != 1 {
		t.Errorf("Completed frame stored %d snapshots, want 1", n)
	}
}

// ============================================================
// Connection Tests
// ============================================================

func TestRun_ReadsUntilEOF(t *testing.T) {
	b, cell, _ := newBridge(t)
	var stream []byte
	for i := uint16(0); i < 5; i++ {
		stream = append(stream, wireFrame(i)...)
	}

	if err := b.Run(context.Background(), bytes.NewReader(stream), "test"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap, _ := cell.Load()
	if snap.Sequence != 4 {
		t.Errorf("Last sequence %d, want 4", snap.Sequence)
	}
	if st := b.Status(); st.Connected || st.Port != "test" || st.ValidFrames != 5 {
		t.Errorf("Status %+v", st)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	b, _, _ := newBridge(t)
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, r, "pipe") }()

	w.Write(wireFrame(1))
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestTestLink(t *testing.T) {
	b, _, _ := newBridge(t)

	if b.TestLink(context.Background(), 20*time.Millisecond) {
		t.Error("TestLink succeeded without data")
	}

	result := make(chan bool, 1)
	go func() { result <- b.TestLink(context.Background(), 2*time.Second) }()

	deadline := time.After(2 * time.Second)
	for seq := uint16(0); ; seq++ {
		b.Process(wireFrame(seq))
		select {
		case ok := <-result:
			if !ok {
				t.Error("TestLink failed with data flowing")
			}
			return
		case <-deadline:
			t.Fatal("TestLink did not return")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// ============================================================
// CSV Tests
// ============================================================

func TestCSVRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewCSVRecorder(&buf)
	if err != nil {
		t.Fatalf("NewCSVRecorder: %v", err)
	}
	b, _, _ := newBridge(t, WithRecorder(rec))
	b.Process(append(wireFrame(1), wireFrame(2)...))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 3 || rec.Rows() != 2 {
		t.Fatalf("Got %d rows (%d recorded), want header + 2", len(rows), rec.Rows())
	}
	if strings.Join(rows[0], ",") != strings.Join(CSVHeader, ",") {
		t.Errorf("Header %v", rows[0])
	}

	row := rows[2]
	col := func(name string) string {
		for i, h := range CSVHeader {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("No column %s", name)
		return ""
	}
	if col("sequence") != "2" || col("az") != "1.000000" || col("yaw") != "45.000000" {
		t.Errorf("Row %v", row)
	}
	if col("magnetBarStatus") != "0x00000005" || col("detectedMagnets") != "0;2" {
		t.Errorf("Magnet columns %q %q", col("magnetBarStatus"), col("detectedMagnets"))
	}
	if col("crcValid") != "true" || col("faultInjected") != "false" {
		t.Errorf("Flag columns %q %q", col("crcValid"), col("faultInjected"))
	}
}
