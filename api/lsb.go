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

const (
	// SigSize is the RSA-3072 signature size in bytes.
	SigSize = 384
	// DepMapEntries is the dependency map capacity.
	DepMapEntries = 11
	// DepMapSize is the dependency map size in bytes, each entry is a
	// (falcon id, minimum version) pair.
	DepMapSize = DepMapEntries * 8
)

// LSB header flags
const (
	// FlagLoadCodeAtZero places the boot-loader at IMEM offset 0.
	FlagLoadCodeAtZero = 1 << 0
	// FlagRequireCtx sets DMACTL.REQUIRE_CTX once the image is loaded.
	FlagRequireCtx = 1 << 2
	// FlagForcePrivLoad loads the image through the IMEM/DMEM ports
	// rather than DMA.
	FlagForcePrivLoad = 1 << 3
	// FlagSetVACtx configures a virtual aperture for the ucode context.
	FlagSetVACtx = 1 << 4
)

// Signature holds the signature material and identity of an image.
type Signature struct {
	ProdCode     [SigSize]byte
	ProdData     [SigSize]byte
	DbgCode      [SigSize]byte
	DbgData      [SigSize]byte
	FalconID     uint32
	UcodeVersion uint32
	UcodeID      uint32
	DepMapCount  uint32
	DepMap       [DepMapSize]byte
}

// LSBHeader represents the per-image metadata block.
type LSBHeader struct {
	Signature     Signature
	UcodeOffset   uint32
	UcodeSize     uint32
	DataSize      uint32
	BLCodeSize    uint32
	BLImemOffset  uint32
	BLDataOffset  uint32
	BLDataSize    uint32
	AppCodeOffset uint32
	AppCodeSize   uint32
	AppDataOffset uint32
	AppDataSize   uint32
	Flags         uint32
}

// LSBHeaderSize is the encoded LSB header size in bytes.
var LSBHeaderSize = binary.Size(LSBHeader{})

// Record returns the identity record bound to the image digests: falcon id,
// ucode version, ucode id and the populated dependency map entries.
func (s *Signature) Record() []byte {
	n := int(s.DepMapCount)

	if n > DepMapEntries {
		n = DepMapEntries
	}

	buf := make([]byte, 12, 12+n*8)

	binary.LittleEndian.PutUint32(buf[0:], s.FalconID)
	binary.LittleEndian.PutUint32(buf[4:], s.UcodeVersion)
	binary.LittleEndian.PutUint32(buf[8:], s.UcodeID)

	return append(buf, s.DepMap[:n*8]...)
}

// Code returns the code component signature for the board mode.
func (s *Signature) Code(debug bool) []byte {
	if debug {
		return s.DbgCode[:]
	}

	return s.ProdCode[:]
}

// Data returns the data component signature for the board mode.
func (s *Signature) Data(debug bool) []byte {
	if debug {
		return s.DbgData[:]
	}

	return s.ProdData[:]
}

// Fields returns the offset and size fields subject to range validation.
func (h *LSBHeader) Fields() map[string]uint32 {
	return map[string]uint32{
		"ucodeOffset":   h.UcodeOffset,
		"ucodeSize":     h.UcodeSize,
		"dataSize":      h.DataSize,
		"blCodeSize":    h.BLCodeSize,
		"blImemOffset":  h.BLImemOffset,
		"blDataOffset":  h.BLDataOffset,
		"blDataSize":    h.BLDataSize,
		"appCodeOffset": h.AppCodeOffset,
		"appCodeSize":   h.AppCodeSize,
		"appDataOffset": h.AppDataOffset,
		"appDataSize":   h.AppDataSize,
	}
}

// Unmarshal decodes an LSB header.
func (h *LSBHeader) Unmarshal(buf []byte) (err error) {
	if len(buf) < LSBHeaderSize {
		return fmt.Errorf("LSB header too short (%d < %d)", len(buf), LSBHeaderSize)
	}

	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, h)
}

// Bytes encodes the LSB header.
func (h *LSBHeader) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}
