// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// CSVHeader is the column set of a recording
var CSVHeader = []string{
	"timestamp", "sequence",
	"ax", "ay", "az",
	"gx", "gy", "gz",
	"mx", "my", "mz",
	"roll", "pitch", "yaw",
	"magnetBarStatus", "detectedMagnets",
	"crcValid", "faultInjected",
}

// CSVRecorder writes one row per applied snapshot
type CSVRecorder struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	rows   int
}

// NewCSVRecorder writes the header to w and returns a recorder
func NewCSVRecorder(w io.Writer) (*CSVRecorder, error) {
	r := &CSVRecorder{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	if err := r.w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return r, nil
}

// CreateCSV opens path for recording, truncating any existing file
func CreateCSV(path string) (*CSVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv log: %w", err)
	}
	r, err := NewCSVRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Record appends a snapshot. Rows are flushed on every write so a recording
// survives an abrupt stop.
func (r *CSVRecorder) Record(s sensor.Snapshot) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	frame := imuframe.Frame{MagnetBar: s.MagnetBar}
	magnets := make([]string, 0, imuframe.MagnetBarSensors)
	for _, m := range frame.DetectedMagnets() {
		magnets = append(magnets, strconv.Itoa(m))
	}

	row := []string{
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.Itoa(int(s.Sequence)),
		f(s.Accel.X), f(s.Accel.Y), f(s.Accel.Z),
		f(s.Gyro.X), f(s.Gyro.Y), f(s.Gyro.Z),
		f(s.Mag.X), f(s.Mag.Y), f(s.Mag.Z),
		f(s.AHRS.Roll), f(s.AHRS.Pitch), f(s.AHRS.Yaw),
		fmt.Sprintf("0x%08X", s.MagnetBar),
		strings.Join(magnets, ";"),
		"true", // only CRC-valid frames become snapshots
		strconv.FormatBool(s.Faulted),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Write(row); err != nil {
		return err
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return err
	}
	r.rows++
	return nil
}

// Rows returns the number of rows written, excluding the header
func (r *CSVRecorder) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

// Close flushes and closes the underlying writer if it is closable
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	err := r.w.Error()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
