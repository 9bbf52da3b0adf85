// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wpr

import (
	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/status"
)

// Sub-WPR configuration fields, register A carries the first page and the
// read level mask, register B the last (inclusive) page and the write level
// mask.
const (
	SUB_WPR_PLM       = 0
	SUB_WPR_PLM_MASK  = 0xf
	SUB_WPR_ADDR      = 4
	SUB_WPR_ADDR_MASK = 0xffffff

	// MaxSubWPRAddr is the end of the page range a slot can describe.
	MaxSubWPRAddr = (SUB_WPR_ADDR_MASK + 1) << PageShift
)

// Sub-WPR privilege levels
const (
	CodeRead  = falcon.Level2 | falcon.Level3
	CodeWrite = 0
	DataRead  = falcon.Level2 | falcon.Level3
	DataWrite = falcon.Level2 | falcon.Level3
)

// Range represents a physical address range [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Ranges returns the physical code and data ranges of an image.
func Ranges(p *dma.Properties, h *api.LSBHeader) (code Range, data Range, err error) {
	code.Start = p.Base + uint64(h.UcodeOffset)
	code.End = code.Start + uint64(h.UcodeSize)

	data.Start = code.End
	data.End = data.Start + uint64(h.DataSize) + uint64(h.BLDataSize)

	switch {
	case code.Start < p.Base || code.End < code.Start || data.End < data.Start:
		err = status.Errorf(status.SizeOverflow, "code %#x-%#x data %#x-%#x", code.Start, code.End, data.Start, data.End)
	case data.End > MaxSubWPRAddr:
		err = status.Errorf(status.SizeOverflow, "data %#x-%#x beyond sub-WPR page range", data.Start, data.End)
	}

	return
}

// Slot returns the register addresses of a sub-WPR slot.
func (m *MMU) Slot(n int) (cfga uint32, cfgb uint32) {
	cfga = m.SubWPR + uint32(n)*8
	cfgb = cfga + 4
	return
}

// SlotValues returns the configuration register values for range r.
func SlotValues(r Range, read uint32, write uint32) (cfga uint32, cfgb uint32) {
	first := uint32(r.Start >> PageShift)
	// an empty range ends before it starts
	last := uint32((r.End+RegionAlign-1)>>PageShift) - 1

	bits.SetN(&cfga, SUB_WPR_ADDR, SUB_WPR_ADDR_MASK, first)
	bits.SetN(&cfga, SUB_WPR_PLM, SUB_WPR_PLM_MASK, read)
	bits.SetN(&cfgb, SUB_WPR_ADDR, SUB_WPR_ADDR_MASK, last)
	bits.SetN(&cfgb, SUB_WPR_PLM, SUB_WPR_PLM_MASK, write)

	return
}

func (m *MMU) program(bus hal.Bus, slot int, r Range, read uint32, write uint32) (err error) {
	if slot < 0 || slot >= m.Slots {
		return status.Errorf(status.FalconIDNotFound, "invalid sub-WPR slot %d", slot)
	}

	addrA, addrB := m.Slot(slot)
	cfga, cfgb := SlotValues(r, read, write)

	glog.V(1).Infof("sub-WPR%d %#x-%#x cfga:%#x cfgb:%#x", slot, r.Start, r.End, cfga, cfgb)

	if err = bus.Write(hal.PRIV, addrA, cfga); err != nil {
		return
	}

	return bus.Write(hal.PRIV, addrB, cfgb)
}

// ProgramSubWPR restricts the code and data ranges of the image of falcon
// cfg to levels 2 and 3, with code made read-only. The bootstrap owner
// sub-regions are already established and left untouched.
func ProgramSubWPR(bus hal.Bus, m *MMU, cfg *falcon.Config, owner falcon.ID, p *dma.Properties, h *api.LSBHeader) (err error) {
	if cfg.ID == owner {
		return
	}

	code, data, err := Ranges(p, h)

	if err != nil {
		return
	}

	if err = m.program(bus, cfg.CodeSlot, code, CodeRead, CodeWrite); err != nil {
		return
	}

	return m.program(bus, cfg.DataSlot, data, DataRead, DataWrite)
}
