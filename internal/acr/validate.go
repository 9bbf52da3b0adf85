// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package acr

import (
	"sort"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

// validateDescriptor checks the boot descriptor before any WPR access.
func (c *Context) validateDescriptor() (err error) {
	d := &c.Desc

	if d.WPROffset != api.WPRExpectedOffset {
		return status.Errorf(status.NoWpr, "unexpected WPR offset %#x", d.WPROffset)
	}

	if _, err = c.Chip.Config(falcon.ID(d.OwnerID)); err != nil {
		return
	}

	if d.UcodeBlobSize != 0 && d.UcodeBlobBase == 0 {
		return status.Errorf(status.InvalidArgument, "blob size %#x without source", d.UcodeBlobSize)
	}

	if d.Regions.NoRegions > api.MaxRegions {
		return status.Errorf(status.InvalidArgument, "invalid region count %d", d.Regions.NoRegions)
	}

	return
}

// ValidateLSB checks every offset and size of an LSB header against the
// ucode blob size. A zero blob size signals a blob retained across
// power-down and disables the check.
func ValidateLSB(h *api.LSBHeader, blobSize uint32) (err error) {
	if blobSize == 0 {
		return
	}

	fields := h.Fields()
	names := make([]string, 0, len(fields))

	for name := range fields {
		names = append(names, name)
	}

	// report the same field on every run
	sort.Strings(names)

	for _, name := range names {
		if v := fields[name]; v > blobSize {
			return status.Errorf(status.InvalidArgument, "%s %#x exceeds blob size %#x", name, v, blobSize)
		}
	}

	if n := h.Signature.DepMapCount; n > api.DepMapEntries {
		return status.Errorf(status.InvalidArgument, "dependency map count %d", n)
	}

	return
}

// readLSB clears the metadata arena and reads the LSB header of directory
// entry i, validating it against the descriptor blob size.
func (c *Context) readLSB(i int) (err error) {
	wh := &c.Dir[i]
	size := c.Desc.UcodeBlobSize

	c.LSB = api.LSBHeader{}
	c.current = wh.FalconID

	if size != 0 && uint64(wh.LSBOffset)+uint64(api.LSBHeaderSize) > uint64(size) {
		return status.Errorf(status.InvalidArgument, "%v LSB header at %#x exceeds blob size %#x", falcon.ID(wh.FalconID), wh.LSBOffset, size)
	}

	if err = wpr.ReadLSB(c.DMA, c.WPR, wh, &c.LSB); err != nil {
		return
	}

	return ValidateLSB(&c.LSB, size)
}
