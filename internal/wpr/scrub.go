// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wpr

import (
	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
)

// Scrubber overwrites rejected images within the WPR.
type Scrubber struct {
	zero []byte
}

// NewScrubber returns a Scrubber with a zero buffer of the given size.
func NewScrubber(size int) *Scrubber {
	if size <= 0 {
		size = ChunkSize
	}

	return &Scrubber{
		zero: make([]byte, size),
	}
}

// Scrub zeroes the code and data of the image described by h and writes the
// directory, carrying its failed validation status, back to the WPR.
func (s *Scrubber) Scrub(t dma.Transport, p *dma.Properties, h *api.LSBHeader, dir *api.Directory) (err error) {
	off := uint64(h.UcodeOffset)
	end := off + uint64(h.UcodeSize) + uint64(h.DataSize)

	glog.Warningf("scrubbing WPR %#x-%#x", off, end)

	for off < end {
		n := uint64(len(s.zero))

		if rem := end - off; rem < n {
			n = rem
		}

		if err = p.Write(t, off, s.zero[:n]); err != nil {
			return
		}

		off += n
	}

	return WriteDirectory(t, p, dir)
}
