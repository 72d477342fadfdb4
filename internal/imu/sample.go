// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "fmt"

// Kind is the measurement carried by a Sample.
type Kind int

const (
	Acceleration    Kind = iota // g
	AngularVelocity             // deg/s
	Orientation                 // degrees (roll, pitch, yaw)
)

// Code is the value written to channel 0 of a published vector.
func (k Kind) Code() float64 {
	return float64(k)
}

func (k Kind) String() string {
	switch k {
	case Acceleration:
		return "accel"
	case AngularVelocity:
		return "gyro"
	case Orientation:
		return "euler"
	default:
		return "unknown"
	}
}

// Unit returns the physical unit of the axis values.
func (k Kind) Unit() string {
	switch k {
	case Acceleration:
		return "g"
	case AngularVelocity:
		return "deg/s"
	case Orientation:
		return "deg"
	default:
		return ""
	}
}

// Sample represents a single decoded measurement from one device.
type Sample struct {
	Kind Kind    `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

// VectorSize is the channel count of an encoded sample.
const VectorSize = 4

// Vector encodes the sample as [kindCode, x, y, z].
func (s Sample) Vector() []float64 {
	return []float64{s.Kind.Code(), s.X, s.Y, s.Z}
}

// FromVector decodes a published [kindCode, x, y, z] vector.
func FromVector(v []float64) (Sample, error) {
	if len(v) != VectorSize {
		return Sample{}, fmt.Errorf("vector has %d values, want %d", len(v), VectorSize)
	}
	k := Kind(v[0])
	if float64(k) != v[0] || k < Acceleration || k > Orientation {
		return Sample{}, fmt.Errorf("unknown kind code %v", v[0])
	}
	return Sample{Kind: k, X: v[1], Y: v[2], Z: v[3]}, nil
}
