// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	_ "unsafe"

	"github.com/usbarmory/tamago/dma"
)

// Override usbarmory pkg ramSize and `mem` allocation, as the GPU apertures
// occupy the 2nd half of the external RAM window.

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = 0x08000000 // 128MB

const (
	// scratch DMA region for the engine buffers
	dmaStart = 0x88000000
	dmaSize  = 0x01000000 // 16MB

	// BAR0 register aperture
	regStart = 0x90000000
	regSize  = 0x01000000

	// GPU physical memory window, host and WPR addresses are offsets
	// within it
	fbStart = 0xa0000000
	fbSize  = 0x20000000

	// host physical address of the boot descriptor, agreed with the
	// host driver
	descAddr = 0x1000
)

func init() {
	dma.Init(dmaStart, dmaSize)
}
