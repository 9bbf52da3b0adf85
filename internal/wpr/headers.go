// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wpr

import (
	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/status"
)

// ReadDirectory reads the WPR directory array at WPR offset 0.
func ReadDirectory(t dma.Transport, p *dma.Properties, dir *api.Directory) (err error) {
	buf := make([]byte, api.DirectorySize)

	if err = p.Read(t, 0, buf); err != nil {
		return
	}

	if err = dir.Unmarshal(buf); err != nil {
		return status.Errorf(status.DmaFailure, "%v", err)
	}

	return
}

// WriteDirectory writes the WPR directory array back to WPR offset 0.
func WriteDirectory(t dma.Transport, p *dma.Properties, dir *api.Directory) error {
	return p.Write(t, 0, dir.Bytes())
}

// ReadLSB reads the LSB header of a directory entry.
func ReadLSB(t dma.Transport, p *dma.Properties, wh *api.WPRHeader, h *api.LSBHeader) (err error) {
	buf := make([]byte, api.LSBHeaderSize)

	if err = p.Read(t, uint64(wh.LSBOffset), buf); err != nil {
		return
	}

	if err = h.Unmarshal(buf); err != nil {
		return status.Errorf(status.DmaFailure, "%v", err)
	}

	return
}
