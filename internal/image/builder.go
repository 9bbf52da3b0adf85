// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package image builds signed WPR blobs, the directory, LSB headers and
// ucode images staged by the host into the write-protected region.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
)

const (
	// HeaderAlign is the alignment of LSB headers within the blob.
	HeaderAlign = 256
	// UcodeAlign is the alignment of ucode images within the blob.
	UcodeAlign = 4096
)

// Dependency represents a dependency map entry.
type Dependency struct {
	FalconID   uint32
	MinVersion uint32
}

// Image represents a falcon ucode image.
type Image struct {
	FalconID uint32

	// boot-loader code and data, BLCode is linked at BLImemOffset
	BLCode       []byte
	BLData       []byte
	BLImemOffset uint32

	// application code and data
	Code []byte
	Data []byte

	// api.Flag* values
	Flags uint32
	// Lazy defers the bootstrap to the bootstrap owner.
	Lazy bool

	Version uint32
	UcodeID uint32
	Deps    []Dependency
}

// Blob represents a built WPR blob.
type Blob struct {
	Buf     []byte
	Dir     api.Directory
	Headers []api.LSBHeader
}

func pad(buf []byte) []byte {
	n := dma.AlignUp(uint32(len(buf)), dma.BlockSize)
	return append(append([]byte{}, buf...), make([]byte, int(n)-len(buf))...)
}

func depMap(deps []Dependency) (m [api.DepMapSize]byte, n uint32, err error) {
	if len(deps) > api.DepMapEntries {
		return m, 0, fmt.Errorf("too many dependencies (%d > %d)", len(deps), api.DepMapEntries)
	}

	for i, d := range deps {
		binary.LittleEndian.PutUint32(m[i*8:], d.FalconID)
		binary.LittleEndian.PutUint32(m[i*8+4:], d.MinVersion)
	}

	return m, uint32(len(deps)), nil
}

// header computes the LSB header of img with its ucode at offset off, it
// returns the code section (boot-loader and application code), the data
// section and the boot-loader data.
func (img *Image) header(off uint32) (h api.LSBHeader, code []byte, data []byte, blData []byte, err error) {
	if img.BLImemOffset%dma.BlockSize != 0 {
		err = fmt.Errorf("misaligned boot-loader IMEM offset %#x", img.BLImemOffset)
		return
	}

	bl := pad(img.BLCode)
	app := pad(img.Code)

	code = append(bl, app...)
	data = pad(img.Data)
	blData = pad(img.BLData)

	h = api.LSBHeader{
		UcodeOffset:   off,
		UcodeSize:     uint32(len(code)),
		DataSize:      uint32(len(data)),
		BLCodeSize:    uint32(len(img.BLCode)),
		BLImemOffset:  img.BLImemOffset,
		BLDataOffset:  off + uint32(len(code)) + uint32(len(data)),
		BLDataSize:    uint32(len(blData)),
		AppCodeOffset: uint32(len(bl)),
		AppCodeSize:   uint32(len(app)),
		AppDataOffset: uint32(len(code)),
		AppDataSize:   uint32(len(data)),
		Flags:         img.Flags,
	}

	h.Signature.FalconID = img.FalconID
	h.Signature.UcodeVersion = img.Version
	h.Signature.UcodeID = img.UcodeID
	h.Signature.DepMap, h.Signature.DepMapCount, err = depMap(img.Deps)

	return
}

// Build lays out the images in a WPR blob, signing them with s when not nil.
//
// The directory occupies offset 0, LSB headers follow at 256-byte aligned
// offsets and ucode images at 4KB aligned offsets.
func Build(images []*Image, s *Signer) (b *Blob, err error) {
	if len(images) == 0 {
		return nil, errors.New("no images")
	}

	if len(images) >= api.MaxFalcons {
		return nil, fmt.Errorf("too many images (%d)", len(images))
	}

	b = &Blob{
		Headers: make([]api.LSBHeader, len(images)),
	}

	for i := range b.Dir {
		b.Dir[i].FalconID = api.InvalidFalconID
	}

	off := uint32(api.DirectorySize)
	lsbSize := dma.AlignUp(uint32(api.LSBHeaderSize), HeaderAlign)

	for i, img := range images {
		b.Dir[i] = api.WPRHeader{
			FalconID:  img.FalconID,
			LSBOffset: off,
			Status:    api.ImageStatusNone,
		}

		if img.Lazy {
			b.Dir[i].LazyBootstrap = 1
		}

		off += lsbSize
	}

	buf := make([]byte, off)

	for i, img := range images {
		off = dma.AlignUp(uint32(len(buf)), UcodeAlign)
		buf = append(buf, make([]byte, int(off)-len(buf))...)

		h, code, data, blData, err := img.header(off)

		if err != nil {
			return nil, fmt.Errorf("image %d, %v", i, err)
		}

		if s != nil {
			if err = s.Sign(&h.Signature, code, data); err != nil {
				return nil, fmt.Errorf("image %d, %v", i, err)
			}
		}

		buf = append(buf, code...)
		buf = append(buf, data...)
		buf = append(buf, blData...)

		b.Headers[i] = h
	}

	b.Buf = buf
	b.Commit()

	return
}

// Commit encodes the directory and LSB headers into the blob buffer, after
// any change to them.
func (b *Blob) Commit() {
	copy(b.Buf, b.Dir.Bytes())

	for i := range b.Headers {
		copy(b.Buf[b.Dir[i].LSBOffset:], b.Headers[i].Bytes())
	}
}

// Code returns the code section of image i within the blob buffer.
func (b *Blob) Code(i int) []byte {
	h := &b.Headers[i]
	return b.Buf[h.UcodeOffset : h.UcodeOffset+h.UcodeSize]
}

// Data returns the data section of image i within the blob buffer.
func (b *Blob) Data(i int) []byte {
	h := &b.Headers[i]
	start := h.UcodeOffset + h.UcodeSize
	return b.Buf[start : start+h.DataSize]
}

// Size returns the blob size.
func (b *Blob) Size() uint32 {
	return uint32(len(b.Buf))
}
