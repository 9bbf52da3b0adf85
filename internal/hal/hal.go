// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hal defines the register and timer shim consumed by the boot
// engine.
package hal

import (
	"fmt"
	"time"
)

// Target identifies the bus behind which a register is reached.
type Target int

const (
	// PRIV is the privileged register bus, used to reach the register
	// space of any processor other than the executing one.
	PRIV Target = iota
	// CSB is the local register bus of the executing processor.
	CSB
)

func (t Target) String() string {
	switch t {
	case PRIV:
		return "PRIV"
	case CSB:
		return "CSB"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// Bus provides single register access.
type Bus interface {
	Read(t Target, addr uint32) (uint32, error)
	Write(t Target, addr uint32, val uint32) error
}

// Clock provides a monotonic hardware counter.
type Clock interface {
	// Nanotime returns the counter value in nanoseconds.
	Nanotime() int64
}

// DefaultTimeout is the polling budget applied to every hardware wait.
const DefaultTimeout = 100 * time.Millisecond
