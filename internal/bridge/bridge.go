// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge connects a hardware byte stream to the route engine. Bytes
// are decoded into frames, frames go through the fault injector and the
// result is published in a snapshot cell that the engine reads each tick.
package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/pkg/events"
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/runlog"
	"github.com/Thermoquad/furrow/pkg/sensor"
)

// Source names bridge entries in published logs
const Source = "HardwareBridge"

const readBufferSize = 256

// Status describes the hardware link
type Status struct {
	Connected    bool             `json:"connected"`
	Port         string           `json:"port,omitempty"`
	TotalFrames  uint64           `json:"totalFrames"`
	ValidFrames  uint64           `json:"validFrames"`
	CRCErrors    uint64           `json:"crcErrors"`
	MarkerErrors uint64           `json:"markerErrors"`
	SequenceGaps uint64           `json:"sequenceGaps"`
	FrameRate    float64          `json:"frameRate"`
	LastSnapshot *sensor.Snapshot `json:"lastSnapshot,omitempty"`
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBus publishes diagnostics as log events
func WithBus(bus *events.Bus) Option {
	return func(b *Bridge) {
		b.bus = bus
	}
}

// WithRecorder records every applied snapshot
func WithRecorder(r *CSVRecorder) Option {
	return func(b *Bridge) {
		b.recorder = r
	}
}

// WithDecoderOptions configures the frame decoder
func WithDecoderOptions(opts ...imuframe.DecoderOption) Option {
	return func(b *Bridge) {
		b.decoderOpts = append(b.decoderOpts, opts...)
	}
}

// Bridge owns the decode path. Process and Run must not be called
// concurrently; every other method is safe from any goroutine.
type Bridge struct {
	logger      *zap.Logger
	bus         *events.Bus
	recorder    *CSVRecorder
	injector    *faults.Injector
	cell        *sensor.Cell
	decoderOpts []imuframe.DecoderOption
	decoder     *imuframe.Decoder

	connected atomic.Bool

	mu      sync.Mutex
	stats   *imuframe.Statistics
	port    string
	waiters []chan struct{}
}

// New creates a bridge that applies injector to each frame and stores the
// result in cell
func New(injector *faults.Injector, cell *sensor.Cell, opts ...Option) *Bridge {
	b := &Bridge{
		logger:   zap.NewNop(),
		injector: injector,
		cell:     cell,
		stats:    imuframe.NewStatistics(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("bridge")
	b.decoder = imuframe.NewDecoder(b.decoderOpts...)
	return b
}

// Run reads conn until it fails or ctx is done. Closing conn is the only way
// to interrupt a blocked read, so conn is closed when ctx ends if it
// implements io.Closer.
func (b *Bridge) Run(ctx context.Context, conn io.Reader, port string) error {
	b.mu.Lock()
	b.port = port
	b.mu.Unlock()
	b.connected.Store(true)
	defer b.connected.Store(false)

	if c, ok := conn.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	b.logger.Info("Hardware link opened", zap.String("port", port))
	b.diagnostic(runlog.LevelInfo, "Hardware connected: "+port)

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			b.Process(buf[:n])
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, io.EOF) {
			b.logger.Info("Hardware link closed", zap.String("port", port))
			b.diagnostic(runlog.LevelInfo, "Hardware disconnected")
			return nil
		}
		b.logger.Error("Hardware read failed", zap.Error(err))
		b.diagnostic(runlog.LevelError, "Hardware read failed: "+err.Error())
		return err
	}
}

// Process decodes one chunk and returns the number of snapshots stored
func (b *Bridge) Process(chunk []byte) int {
	frames, errs := b.decoder.Feed(chunk)

	b.mu.Lock()
	for _, err := range errs {
		b.stats.Update(nil, err, nil)
	}
	anomalies := make([][]imuframe.ValidationError, len(frames))
	for i, f := range frames {
		anomalies[i] = imuframe.ValidateFrame(f)
		b.stats.Update(f, nil, anomalies[i])
	}
	b.mu.Unlock()

	for _, err := range errs {
		b.logger.Debug("Decode error", zap.Error(err))
		b.diagnostic(runlog.LevelWarning, "Decode error: "+err.Error())
	}

	for i, f := range frames {
		for _, a := range anomalies[i] {
			b.diagnostic(runlog.LevelWarning, "Frame anomaly: "+a.Message)
		}
		snap := b.injector.Apply(sensor.FromFrame(f))
		b.cell.Store(snap)
		if b.recorder != nil {
			if err := b.recorder.Record(snap); err != nil {
				b.logger.Warn("CSV recording failed", zap.Error(err))
			}
		}
	}

	if len(frames) > 0 {
		b.notify()
	}
	return len(frames)
}

// TestLink reports whether a valid frame arrives within timeout
func (b *Bridge) TestLink(ctx context.Context, timeout time.Duration) bool {
	ch := make(chan struct{})
	b.mu.Lock()
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	b.dropWaiter(ch)
	return false
}

func (b *Bridge) notify() {
	b.mu.Lock()
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (b *Bridge) dropWaiter(ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// Status returns the link state and decode counters
func (b *Bridge) Status() Status {
	b.mu.Lock()
	b.stats.CalculateRates()
	st := Status{
		Connected:    b.connected.Load(),
		Port:         b.port,
		TotalFrames:  b.stats.TotalFrames,
		ValidFrames:  b.stats.ValidFrames,
		CRCErrors:    b.stats.CRCErrors,
		MarkerErrors: b.stats.MarkerErrors,
		SequenceGaps: b.stats.SequenceGaps,
		FrameRate:    b.stats.FrameRate,
	}
	b.mu.Unlock()

	if snap, ok := b.cell.Load(); ok {
		st.LastSnapshot = &snap
	}
	return st
}

// Statistics returns a copy of the decode statistics
func (b *Bridge) Statistics() imuframe.Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.stats
}

// ResetStatistics zeroes the decode counters
func (b *Bridge) ResetStatistics() {
	b.mu.Lock()
	b.stats.Reset()
	b.mu.Unlock()
}

func (b *Bridge) diagnostic(level runlog.Level, msg string) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.Log{Entry: runlog.Entry{
		Timestamp: time.Now().UnixMilli(),
		Level:     level,
		Source:    Source,
		Message:   msg,
	}})
}
