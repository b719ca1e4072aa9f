// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package imuframe

import (
	"bytes"
	"time"
)

var syncPair = []byte{SyncByte1, SyncByte2}

// Decoder turns an unaligned byte stream into validated frames.
//
// Bytes accumulate in a bounded buffer. Whenever at least one full frame is
// buffered the decoder either emits a frame or resynchronizes on the next sync
// pair. Malformed input never stops the decoder; rejected data is reported as
// *DecodeError values alongside any frames recovered from the same chunk.
type Decoder struct {
	buffer    []byte
	maxBuffer int
	now       func() time.Time
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithMaxBuffer sets the accumulation buffer cap (minimum FrameSize)
func WithMaxBuffer(n int) DecoderOption {
	return func(d *Decoder) {
		if n < FrameSize {
			n = FrameSize
		}
		d.maxBuffer = n
	}
}

// WithClock overrides the timestamp source for decoded frames
func WithClock(now func() time.Time) DecoderOption {
	return func(d *Decoder) {
		d.now = now
	}
}

// NewDecoder creates a new frame decoder
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		maxBuffer: DefaultMaxBuffer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buffer = make([]byte, 0, d.maxBuffer)
	return d
}

// Reset discards any buffered bytes
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
}

// Buffered returns the number of bytes waiting for a complete frame
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

// Feed appends chunk to the buffer and extracts every complete frame.
// Fewer than FrameSize buffered bytes is not an error; the remainder waits
// for the next call.
func (d *Decoder) Feed(chunk []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error

	if len(d.buffer)+len(chunk) > d.maxBuffer {
		dropped := len(d.buffer)
		d.buffer = d.buffer[:0]
		if len(chunk) > d.maxBuffer {
			dropped += len(chunk) - d.maxBuffer
			chunk = chunk[len(chunk)-d.maxBuffer:]
		}
		errs = append(errs, &DecodeError{Kind: ErrBufferOverflow, Discarded: dropped})
	}
	d.buffer = append(d.buffer, chunk...)

	for len(d.buffer) >= FrameSize {
		synced := d.buffer[0] == SyncByte1 && d.buffer[1] == SyncByte2
		if synced {
			frame, err := ParseFrame(d.buffer[:FrameSize])
			if err == nil {
				frame.Timestamp = d.now()
				frames = append(frames, frame)
				d.consume(FrameSize)
				continue
			}
			errs = append(errs, err)
		}

		// Resynchronize on the next sync pair after the current position.
		// Without one, keep the last byte: it may start a pair split across chunks.
		next := bytes.Index(d.buffer[1:], syncPair)
		discarded := len(d.buffer) - 1
		if next >= 0 {
			discarded = next + 1
		}
		d.consume(discarded)
		if !synced {
			errs = append(errs, &DecodeError{Kind: ErrMarkerMismatch, Discarded: discarded})
		}
		if next < 0 {
			break
		}
	}

	return frames, errs
}

// DecodeByte feeds a single byte. It returns the frame completed by b, if any,
// and the first decode error raised by it.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	frames, errs := d.Feed([]byte{b})
	var err error
	if len(errs) > 0 {
		err = errs[0]
	}
	if len(frames) > 0 {
		return frames[0], err
	}
	return nil, err
}

func (d *Decoder) consume(n int) {
	d.buffer = append(d.buffer[:0], d.buffer[n:]...)
}
