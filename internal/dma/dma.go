// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma defines the block transport used by the boot engine to move
// data between physical memory and its local staging buffers.
package dma

import (
	"github.com/usbarmory/armory-acr/internal/status"
)

//go:generate mockgen -write_package_comment=false -package mock_dma -destination mock_dma/mock_dma.go github.com/usbarmory/armory-acr/internal/dma Transport

// BlockSize is the falcon memory block size, every target memory transfer
// must be expressed in multiples of it.
const BlockSize = 256

// Transport copies blocks between physical memory and local buffers through
// a context DMA index, which selects the aperture and the protected region
// tag of the access.
//
// Implementations must support one outstanding Read concurrent with one
// outstanding Write.
type Transport interface {
	Read(ctxDMA int, addr uint64, buf []byte) error
	Write(ctxDMA int, addr uint64, buf []byte) error
}

// Properties holds the protected region coordinates discovered at start of
// day, every access to the WPR goes through them.
type Properties struct {
	// WPR physical base address
	Base uint64
	// WPR size in bytes
	Size uint64
	// WPR region identifier (1-based)
	RegionID uint32
	// context DMA index used for WPR accesses
	CtxDMA int
}

// Contains returns whether [off, off+size) lies within the WPR.
func (p *Properties) Contains(off uint64, size uint64) bool {
	end := off + size
	return end >= off && end <= p.Size
}

// Read copies len(buf) bytes from WPR offset off.
func (p *Properties) Read(t Transport, off uint64, buf []byte) (err error) {
	if !p.Contains(off, uint64(len(buf))) {
		return status.Errorf(status.DmaFailure, "read %#x+%#x outside WPR", off, len(buf))
	}

	if err = t.Read(p.CtxDMA, p.Base+off, buf); err != nil {
		return status.Errorf(status.DmaFailure, "WPR read %#x+%#x, %v", off, len(buf), err)
	}

	return
}

// Write copies buf to WPR offset off.
func (p *Properties) Write(t Transport, off uint64, buf []byte) (err error) {
	if !p.Contains(off, uint64(len(buf))) {
		return status.Errorf(status.DmaFailure, "write %#x+%#x outside WPR", off, len(buf))
	}

	if err = t.Write(p.CtxDMA, p.Base+off, buf); err != nil {
		return status.Errorf(status.DmaFailure, "WPR write %#x+%#x, %v", off, len(buf), err)
	}

	return
}

// Aligned returns whether v is a multiple of BlockSize.
func Aligned(v uint64) bool {
	return v%BlockSize == 0
}

// AlignUp rounds v up to the next multiple of align, which must be a power
// of two.
func AlignUp(v uint32, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
