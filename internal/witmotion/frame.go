// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package witmotion decodes the fixed-length binary frames broadcast by
// WitMotion wireless IMUs.
//
// Frame layout (11 bytes):
//
//	0     sync, always 0x55
//	1     type: 0x51 accel, 0x52 gyro, 0x53 euler, anything else ignored
//	2-3   x, little-endian int16
//	4-5   y, little-endian int16
//	6-7   z, little-endian int16
//	8-10  reserved (temperature and checksum on real devices)
package witmotion

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/imu_streamer/internal/imu"
)

const (
	FrameSize = 11
	SyncByte  = 0x55

	TypeAcceleration    = 0x51
	TypeAngularVelocity = 0x52
	TypeOrientation     = 0x53
)

// Full-scale factors applied to value/32768.
const (
	accelScale = 16.0
	gyroScale  = 16.0
	eulerScale = 180.0
)

var (
	ErrFrameSize = errors.New("witmotion: frame must be 11 bytes")
	ErrSync      = errors.New("witmotion: bad sync byte")
)

// axis reads the little-endian signed value starting at frame[i].
func axis(frame []byte, i int) float64 {
	return float64(int16(uint16(frame[i+1])<<8 | uint16(frame[i])))
}

// decode converts a synced frame. ok is false for unknown type bytes.
func decode(frame []byte) (s imu.Sample, ok bool) {
	var scale float64
	switch frame[1] {
	case TypeAcceleration:
		s.Kind, scale = imu.Acceleration, accelScale
	case TypeAngularVelocity:
		s.Kind, scale = imu.AngularVelocity, gyroScale
	case TypeOrientation:
		s.Kind, scale = imu.Orientation, eulerScale
	default:
		return imu.Sample{}, false
	}
	s.X = axis(frame, 2) / 32768.0 * scale
	s.Y = axis(frame, 4) / 32768.0 * scale
	s.Z = axis(frame, 6) / 32768.0 * scale
	return s, true
}

// DecodeFrame decodes a single frame. The bool result is false when the type
// byte is not one this package knows about; that is not an error.
func DecodeFrame(frame []byte) (imu.Sample, bool, error) {
	if len(frame) != FrameSize {
		return imu.Sample{}, false, fmt.Errorf("%w: got %d", ErrFrameSize, len(frame))
	}
	if frame[0] != SyncByte {
		return imu.Sample{}, false, fmt.Errorf("%w: 0x%02X", ErrSync, frame[0])
	}
	s, ok := decode(frame)
	return s, ok, nil
}

// EncodeFrame builds a frame with the given type and raw axis values. The
// last byte carries the byte-sum checksum real devices send.
func EncodeFrame(typ byte, x, y, z int16) [FrameSize]byte {
	var f [FrameSize]byte
	f[0] = SyncByte
	f[1] = typ
	f[2], f[3] = byte(uint16(x)), byte(uint16(x)>>8)
	f[4], f[5] = byte(uint16(y)), byte(uint16(y)>>8)
	f[6], f[7] = byte(uint16(z)), byte(uint16(z)>>8)
	var sum byte
	for _, b := range f[:FrameSize-1] {
		sum += b
	}
	f[FrameSize-1] = sum
	return f
}

// TypeFor returns the frame type byte for a measurement kind.
func TypeFor(k imu.Kind) byte {
	switch k {
	case imu.Acceleration:
		return TypeAcceleration
	case imu.AngularVelocity:
		return TypeAngularVelocity
	case imu.Orientation:
		return TypeOrientation
	default:
		return 0
	}
}
