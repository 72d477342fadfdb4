// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package witmotion

import "github.com/relabs-tech/imu_streamer/internal/imu"

// DecoderStats counts what a Decoder has seen since it was created or reset.
type DecoderStats struct {
	Frames    uint64 // frames consumed, recognized or not
	Samples   uint64
	Ignored   uint64 // frames with an unknown type byte
	Anomalies uint64 // bad sync byte at the head of the buffer
	Discarded uint64 // bytes dropped while resynchronizing
}

// Decoder turns one device's byte stream into samples. It keeps partial
// frames across calls. A Decoder is owned by a single goroutine and is not
// safe for concurrent use.
type Decoder struct {
	buf   []byte
	stats DecoderStats
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4*FrameSize)}
}

// Feed appends p to the pending bytes and decodes every complete frame.
//
// If the pending bytes do not start with the sync byte, all of them are
// dropped, decoding stops for this call and anomaly is true. Trailing bytes
// that do not yet form a frame are kept for the next call.
func (d *Decoder) Feed(p []byte) (samples []imu.Sample, anomaly bool) {
	d.buf = append(d.buf, p...)

	off := 0
	for len(d.buf)-off >= FrameSize {
		if d.buf[off] != SyncByte {
			d.stats.Anomalies++
			d.stats.Discarded += uint64(len(d.buf) - off)
			off = len(d.buf)
			anomaly = true
			break
		}

		frame := d.buf[off : off+FrameSize]
		off += FrameSize
		d.stats.Frames++

		s, ok := decode(frame)
		if !ok {
			d.stats.Ignored++
			continue
		}
		d.stats.Samples++
		samples = append(samples, s)
	}

	n := copy(d.buf, d.buf[off:])
	d.buf = d.buf[:n]
	return samples, anomaly
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Reset drops pending bytes and clears the counters.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.stats = DecoderStats{}
}
