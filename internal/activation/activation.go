// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package activation switches paired devices from idle into continuous
// broadcast with the vendor's two-step role handshake.
package activation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/relabs-tech/imu_streamer/internal/witmotion"
	"github.com/rs/zerolog/log"
)

// SettleInterval is the pause devices need between the two role commands.
const SettleInterval = 1500 * time.Millisecond

var ErrWriteFailed = errors.New("activation write failed")

// Writer is a device that can receive handshake commands.
type Writer interface {
	Address() string
	Write(p []byte) (int, error)
}

// Commands returns the handshake in send order.
func Commands() []string {
	return []string{witmotion.CommandRoleMaster, witmotion.CommandRoleSlave}
}

// StepError reports where the handshake stopped. Devices that already got
// earlier steps are left half configured and need to be stopped and opened
// again.
type StepError struct {
	Err     error
	Command string
	Address string // empty when the step failed before any write
	Step    int    // 1-based
}

func (e *StepError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("activation step %d (%s): %v", e.Step, e.Command, e.Err)
	}
	return fmt.Sprintf("activation step %d (%s) on %s: %v", e.Step, e.Command, e.Address, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one Activate call.
type Result struct {
	// Err is nil on success, otherwise a *StepError.
	Err error
	// Sent counts the steps each device received.
	Sent map[string]int
	// Completed is the number of steps delivered to every device.
	Completed int
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Activate broadcasts each handshake step to every device, waiting
// SettleInterval between steps. The first failed write aborts the rest of the
// broadcast; there is no retry.
func Activate(ctx context.Context, clock clockwork.Clock, devices []Writer) Result {
	res := Result{Sent: make(map[string]int, len(devices))}
	if len(devices) == 0 {
		return res
	}

	for i, cmd := range Commands() {
		step := i + 1
		if i > 0 {
			select {
			case <-clock.After(SettleInterval):
			case <-ctx.Done():
				res.Err = &StepError{Step: step, Command: cmd, Err: ctx.Err()}
				return res
			}
		}

		payload := []byte(cmd)
		for _, d := range devices {
			n, err := d.Write(payload)
			if err == nil && n < len(payload) {
				err = io.ErrShortWrite
			}
			if err != nil {
				res.Err = &StepError{
					Step:    step,
					Command: cmd,
					Address: d.Address(),
					Err:     fmt.Errorf("%w: %w", ErrWriteFailed, err),
				}
				if anySent(res.Sent) {
					log.Warn().Str("device", d.Address()).Int("step", step).
						Msg("activation aborted with devices half configured")
				}
				return res
			}
			res.Sent[d.Address()]++
		}
		res.Completed = step
		log.Debug().Str("command", cmd).Int("devices", len(devices)).Msg("activation step sent")
	}
	return res
}

func anySent(sent map[string]int) bool {
	for _, n := range sent {
		if n > 0 {
			return true
		}
	}
	return false
}
