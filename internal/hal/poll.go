// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package hal

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/usbarmory/armory-acr/internal/status"
)

var errPending = errors.New("condition pending")

// counter adapts a hardware counter to the backoff clock.
type counter struct {
	Clock
}

func (c counter) Now() time.Time {
	return time.Unix(0, c.Nanotime())
}

// Poll evaluates cond in a tight loop until it returns true, the elapsed
// time measured on clk exceeds timeout (status.Timeout) or cond fails (its
// error is returned unchanged).
func Poll(clk Clock, timeout time.Duration, cond func() (bool, error)) (err error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     0,
		RandomizationFactor: 0,
		Multiplier:          1,
		MaxInterval:         0,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               counter{clk},
	}

	op := func() error {
		done, err := cond()

		switch {
		case err != nil:
			return backoff.Permanent(err)
		case !done:
			return errPending
		default:
			return nil
		}
	}

	if err = backoff.Retry(op, b); errors.Is(err, errPending) {
		return status.Timeout
	}

	return
}

// PollMask waits until the register value masked with mask equals val.
func PollMask(bus Bus, clk Clock, timeout time.Duration, t Target, addr uint32, mask uint32, val uint32) error {
	return Poll(clk, timeout, func() (bool, error) {
		r, err := bus.Read(t, addr)
		return r&mask == val, err
	})
}
