// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package status defines the flat status enumeration reported by the boot
// engine through its mailbox registers.
package status

import (
	"errors"
	"fmt"
)

// Status represents a boot engine status code, it implements error so that
// codes can be returned, wrapped and matched with errors.Is.
type Status uint32

const (
	OK Status = iota
	Timeout
	DmaFailure
	InvalidArgument
	InvalidRegion
	NoWpr
	FalconIDNotFound
	LsBootFailAuth
	SizeOverflow
	TgtDmaFailure
	UnexpectedArgs
	LsSigVerifFail
	InvalidChipID
	InvalidOperation

	// StartedNotFinished is written to the status mailbox before the boot
	// begins, every exit path overwrites it.
	StartedNotFinished Status = 0xff
)

var names = map[Status]string{
	OK:                 "ok",
	Timeout:            "timeout",
	DmaFailure:         "DMA failure",
	InvalidArgument:    "invalid argument",
	InvalidRegion:      "invalid WPR region id",
	NoWpr:              "no WPR",
	FalconIDNotFound:   "falcon id not found",
	LsBootFailAuth:     "LS boot auth failure",
	SizeOverflow:       "size overflow",
	TgtDmaFailure:      "target DMA failure",
	UnexpectedArgs:     "unexpected arguments",
	LsSigVerifFail:     "LS signature verification failure",
	InvalidChipID:      "invalid chip id",
	InvalidOperation:   "invalid operation",
	StartedNotFinished: "started but not finished",
}

func (s Status) Error() string {
	if n, ok := names[s]; ok {
		return n
	}

	return fmt.Sprintf("status %#x", uint32(s))
}

// Of returns the first status code found in the err chain, OK for a nil
// error and InvalidOperation for errors which do not carry a status.
func Of(err error) Status {
	var s Status

	switch {
	case err == nil:
		return OK
	case errors.As(err, &s):
		return s
	default:
		return InvalidOperation
	}
}

// Errorf formats an error which wraps status s.
func Errorf(s Status, format string, a ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, a...), s)
}
