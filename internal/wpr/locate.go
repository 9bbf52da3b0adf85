// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package wpr implements discovery, staging, header access and sub-region
// privilege programming of the write-protected region.
package wpr

import (
	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/status"
)

// WPR address registers hold 4KB page numbers, the high one is inclusive.
const (
	PageShift   = 12
	RegionAlign = 1 << PageShift
)

// MMU describes the memory controller registers, all reached through the
// PRIV bus, and the lock policy of a hardware generation.
type MMU struct {
	// read and write level masks, 4 bits per region
	AllowRead  uint32
	AllowWrite uint32

	AddrLo [api.MaxRegions]uint32
	AddrHi [api.MaxRegions]uint32

	// SubWPR is the configuration register A of slot 0, register B
	// follows it and slots are 8 bytes apart.
	SubWPR uint32
	Slots  int
	// Lockdown lists the slots owned by the executing falcon, disjoint
	// from every processor code and data slot.
	Lockdown []int

	// ReadCeiling is the highest read mask of a locked region.
	ReadCeiling uint32
	// WriteMask is the exact write mask of a locked region.
	WriteMask uint32
}

func (m *MMU) region(bus hal.Bus, i int, read uint32, write uint32) (p api.RegionProp, err error) {
	lo, err := bus.Read(hal.PRIV, m.AddrLo[i])

	if err != nil {
		return
	}

	hi, err := bus.Read(hal.PRIV, m.AddrHi[i])

	if err != nil {
		return
	}

	p = api.RegionProp{
		RegionID:  uint32(i + 1),
		ReadMask:  bits.Get(&read, i*4, 0xf),
		WriteMask: bits.Get(&write, i*4, 0xf),
		StartAddr: uint64(lo) << PageShift,
		EndAddr:   (uint64(hi) + 1) << PageShift,
	}

	return
}

func (m *MMU) locked(p *api.RegionProp) bool {
	return p.ReadMask <= m.ReadCeiling && p.WriteMask == m.WriteMask && p.StartAddr < p.EndAddr
}

// Locate scans the hardware write-protected regions for the first one
// matching the lock policy and large enough to hold the descriptor ucode
// blob.
//
// When the descriptor region table is populated the matching region must be
// the one it selects, otherwise the table is filled with the hardware
// regions and the selection.
func Locate(bus hal.Bus, m *MMU, desc *api.Descriptor, ctxDMA int) (p *dma.Properties, err error) {
	read, err := bus.Read(hal.PRIV, m.AllowRead)

	if err != nil {
		return nil, status.Errorf(status.NoWpr, "allow read mask, %v", err)
	}

	write, err := bus.Read(hal.PRIV, m.AllowWrite)

	if err != nil {
		return nil, status.Errorf(status.NoWpr, "allow write mask, %v", err)
	}

	var props [api.MaxRegions]api.RegionProp
	var match *api.RegionProp

	for i := range props {
		if props[i], err = m.region(bus, i, read, write); err != nil {
			return nil, status.Errorf(status.NoWpr, "region %d, %v", i+1, err)
		}

		glog.V(1).Infof("WPR%d %#x-%#x read:%#x write:%#x", i+1, props[i].StartAddr, props[i].EndAddr, props[i].ReadMask, props[i].WriteMask)

		if match == nil && m.locked(&props[i]) {
			match = &props[i]
		}
	}

	if match == nil {
		return nil, status.Errorf(status.NoWpr, "no locked region")
	}

	size := (match.EndAddr - match.StartAddr + RegionAlign - 1) &^ (RegionAlign - 1)

	if uint64(desc.UcodeBlobSize) > size {
		return nil, status.Errorf(status.NoWpr, "blob size %#x exceeds WPR%d size %#x", desc.UcodeBlobSize, match.RegionID, size)
	}

	if desc.Regions.NoRegions != 0 {
		if match.RegionID != desc.WPRRegionID {
			return nil, status.Errorf(status.InvalidRegion, "found WPR%d, expected WPR%d", match.RegionID, desc.WPRRegionID)
		}
	} else {
		desc.Regions.NoRegions = api.MaxRegions
		desc.Regions.Props = props
		desc.WPRRegionID = match.RegionID
	}

	p = &dma.Properties{
		Base:     match.StartAddr,
		Size:     size,
		RegionID: match.RegionID,
		CtxDMA:   ctxDMA,
	}

	glog.Infof("WPR%d found at %#x size:%#x", p.RegionID, p.Base, p.Size)

	return
}
