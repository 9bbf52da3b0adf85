// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package api defines the in-memory layouts exchanged between the host, the
// protected region and the boot engine. All layouts are little-endian.
package api

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// MaxRegions is the number of write-protected regions reported by
	// the memory controller.
	MaxRegions = 2

	// DescriptorAlign is the required alignment of the descriptor host
	// address.
	DescriptorAlign = 16

	// WPRExpectedOffset is the only WPR offset accepted in the
	// descriptor.
	WPRExpectedOffset = 0
)

// Board mode flags
const (
	// BoardModeDebug selects the debug public key and signatures.
	BoardModeDebug = 1 << 0
)

// RegionProp describes a write-protected region.
type RegionProp struct {
	RegionID   uint32
	ReadMask   uint32
	WriteMask  uint32
	ClientMask uint32
	StartAddr  uint64
	EndAddr    uint64
}

// RegionTable lists the write-protected regions known to the host.
type RegionTable struct {
	NoRegions uint32
	_         uint32
	Props     [MaxRegions]RegionProp
}

// Descriptor represents the boot descriptor staged by the host.
type Descriptor struct {
	Regions       RegionTable
	WPRRegionID   uint32
	WPROffset     uint32
	UcodeBlobSize uint32
	BoardMode     uint32
	UcodeBlobBase uint64
	OwnerID       uint32
	_             uint32
}

// DescriptorSize is the encoded descriptor size in bytes.
var DescriptorSize = binary.Size(Descriptor{})

// Debug returns whether the board is in debug mode.
func (d *Descriptor) Debug() bool {
	return d.BoardMode&BoardModeDebug != 0
}

// Unmarshal decodes a descriptor.
func (d *Descriptor) Unmarshal(buf []byte) (err error) {
	if len(buf) < DescriptorSize {
		return fmt.Errorf("descriptor too short (%d < %d)", len(buf), DescriptorSize)
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, d)
}

// Bytes encodes the descriptor.
func (d *Descriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}
