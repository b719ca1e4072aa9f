// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates.
// It is not safe for concurrent use.
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	CRCErrors        uint64
	MarkerErrors     uint64
	Overflows        uint64
	DiscardedBytes   uint64
	SequenceGaps     uint64
	MissedFrames     uint64
	AnomalousValues  uint64
	AttitudeRange    uint64
	ZeroAccel        uint64
	LengthMismatches uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec

	lastSequence uint16
	haveSequence bool
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame or a decode error
func (s *Statistics) Update(frame *Frame, decodeErr error, anomalies []ValidationError) {
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		var de *DecodeError
		if errors.As(decodeErr, &de) {
			s.DiscardedBytes += uint64(de.Discarded)
		}
		switch {
		case errors.Is(decodeErr, ErrCRCMismatch):
			s.TotalFrames++
			s.CRCErrors++
		case errors.Is(decodeErr, ErrMarkerMismatch):
			s.MarkerErrors++
		case errors.Is(decodeErr, ErrBufferOverflow):
			s.Overflows++
		}
		return
	}

	if frame == nil {
		return
	}
	s.TotalFrames++

	if s.haveSequence {
		expected := s.lastSequence + 1
		if frame.Sequence != expected {
			s.SequenceGaps++
			s.MissedFrames += uint64(frame.Sequence - expected)
		}
	}
	s.lastSequence = frame.Sequence
	s.haveSequence = true

	if len(anomalies) == 0 {
		s.ValidFrames++
		return
	}
	for _, a := range anomalies {
		s.AnomalousValues++
		switch a.Type {
		case AnomalyAttitudeRange:
			s.AttitudeRange++
		case AnomalyZeroAccel:
			s.ZeroAccel++
		case AnomalyLengthMismatch:
			s.LengthMismatches++
		}
	}
}

// Errors returns the total number of decode errors and anomalies
func (s *Statistics) Errors() uint64 {
	return s.CRCErrors + s.MarkerErrors + s.Overflows + s.AnomalousValues
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, crcPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcPercent = float64(s.CRCErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcPercent)
	}
	if s.MarkerErrors > 0 {
		result += fmt.Sprintf("Resyncs:         %8d (%d bytes discarded)\n", s.MarkerErrors, s.DiscardedBytes)
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", s.Overflows)
	}
	if s.SequenceGaps > 0 {
		result += fmt.Sprintf("Sequence Gaps:   %8d (%d frames missed)\n", s.SequenceGaps, s.MissedFrames)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d\n", s.AnomalousValues)
		if s.AttitudeRange > 0 {
			result += fmt.Sprintf("  AHRS Range:       %5d\n", s.AttitudeRange)
		}
		if s.ZeroAccel > 0 {
			result += fmt.Sprintf("  Zero Accel:       %5d\n", s.ZeroAccel)
		}
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
