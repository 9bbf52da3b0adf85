// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package api

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Falcon identifiers
const (
	FalconPMU    = 0
	FalconDPU    = 1
	FalconFECS   = 2
	FalconGPCCS  = 3
	FalconNVDEC  = 4
	FalconNVENC0 = 5
	FalconNVENC1 = 6
	FalconSEC2   = 7
	FalconGSP    = 8
	FalconNVDEC1 = 9
	FalconNVJPG  = 10
	FalconOFA    = 11

	// MaxFalcons is the number of known falcon identifiers and the
	// capacity of the WPR directory.
	MaxFalcons = 12

	// InvalidFalconID terminates the WPR directory.
	InvalidFalconID = 0xffffffff
)

// Image status values
const (
	ImageStatusNone = iota
	ImageStatusCopy
	ImageStatusValidationCodeFailed
	ImageStatusValidationDataFailed
	ImageStatusValidationDone
	ImageStatusValidationSkipped
	ImageStatusBootstrapReady
)

const (
	// WPRHeaderSize is the encoded size of a directory entry.
	WPRHeaderSize = 16
	// WPRHeaderAlign is the alignment of the directory array.
	WPRHeaderAlign = 256
	// DirectorySize is the size of the directory array at WPR offset 0.
	DirectorySize = (MaxFalcons*WPRHeaderSize + WPRHeaderAlign - 1) &^ (WPRHeaderAlign - 1)
)

// WPRHeader represents a WPR directory entry.
type WPRHeader struct {
	FalconID      uint32
	LSBOffset     uint32
	Status        uint32
	LazyBootstrap uint32
}

// Directory represents the WPR directory array.
type Directory [MaxFalcons]WPRHeader

// Live returns the number of live entries, the scan stops at the first entry
// with the invalid falcon id or a zero LSB offset and never goes past the
// directory capacity.
func (d *Directory) Live() (n int) {
	for n = 0; n < MaxFalcons; n++ {
		if d[n].FalconID == InvalidFalconID || d[n].LSBOffset == 0 {
			break
		}
	}

	return
}

// Terminated returns whether the scan found a terminating entry within the
// directory capacity.
func (d *Directory) Terminated() bool {
	return d.Live() < MaxFalcons
}

// Unmarshal decodes the directory array.
func (d *Directory) Unmarshal(buf []byte) (err error) {
	if len(buf) < MaxFalcons*WPRHeaderSize {
		return fmt.Errorf("directory too short (%d)", len(buf))
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, d)
}

// Bytes encodes the directory array padded to DirectorySize.
func (d *Directory) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)

	return append(buf.Bytes(), make([]byte, DirectorySize-buf.Len())...)
}
