// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package falcon

import (
	"encoding/binary"
	"math"

	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/status"
)

// checkBlock validates a transfer to falcon memory.
func checkBlock(dst uint32, src uint64, size uint32, capacity uint32) error {
	if !dma.Aligned(uint64(dst)) || !dma.Aligned(src) || !dma.Aligned(uint64(size)) {
		return status.Errorf(status.TgtDmaFailure, "misaligned transfer dst:%#x src:%#x size:%#x", dst, src, size)
	}

	if uint64(dst)+uint64(size) > uint64(capacity) {
		return status.Errorf(status.UnexpectedArgs, "transfer dst:%#x size:%#x exceeds %#x", dst, size, capacity)
	}

	return nil
}

// Load copies the image to falcon memory and returns its boot vector.
//
// Images flagged with api.FlagForcePrivLoad have their application code and
// data written through the IMEM/DMEM ports, all others have their
// boot-loader code and data transferred by the falcon DMA engine directly
// from the WPR.
func (f *Falcon) Load(t dma.Transport, wpr *dma.Properties, h *api.LSBHeader) (bootvec uint32, err error) {
	imem, dmem, err := f.MemSizes()

	if err != nil {
		return
	}

	if h.Flags&api.FlagForcePrivLoad != 0 {
		return 0, f.privLoad(t, wpr, h, imem, dmem)
	}

	return h.BLImemOffset, f.dmaLoad(wpr, h, imem, dmem)
}

func (f *Falcon) privLoad(t dma.Transport, wpr *dma.Properties, h *api.LSBHeader, imem uint32, dmem uint32) (err error) {
	code := uint64(h.UcodeOffset) + uint64(h.AppCodeOffset)

	glog.V(1).Infof("%v IMEM port load src:%#x size:%#x", f.ID, code, h.AppCodeSize)

	if err = f.writeMem(t, wpr, true, 0, code, h.AppCodeSize, imem); err != nil {
		return
	}

	data := uint64(h.UcodeOffset) + uint64(h.AppDataOffset)

	glog.V(1).Infof("%v DMEM port load src:%#x size:%#x", f.ID, data, h.AppDataSize)

	return f.writeMem(t, wpr, false, 0, data, h.AppDataSize, dmem)
}

// writeMem copies size bytes at WPR offset src to falcon memory at dst, one
// block at a time through the memory port registers. IMEM blocks are tagged
// sequentially.
func (f *Falcon) writeMem(t dma.Transport, wpr *dma.Properties, imem bool, dst uint32, src uint64, size uint32, capacity uint32) (err error) {
	if err = checkBlock(dst, src, size, capacity); err != nil {
		return
	}

	ctl, port := DMEMC, DMEMD

	if imem {
		ctl, port = IMEMC, IMEMD
	}

	var c uint32

	bits.SetN(&c, MEMC_OFFS, MEMC_OFFS_MASK, dst)
	bits.Set(&c, MEMC_AINCW)

	if err = f.Write(ctl, c); err != nil {
		return
	}

	buf := make([]byte, dma.BlockSize)

	for off := uint32(0); off < size; off += dma.BlockSize {
		if err = wpr.Read(t, src+uint64(off), buf); err != nil {
			return
		}

		if imem {
			if err = f.Write(IMEMT, off/dma.BlockSize); err != nil {
				return
			}
		}

		for i := 0; i < len(buf); i += 4 {
			if err = f.Write(port, binary.LittleEndian.Uint32(buf[i:])); err != nil {
				return
			}
		}
	}

	return
}

func (f *Falcon) dmaLoad(wpr *dma.Properties, h *api.LSBHeader, imem uint32, dmem uint32) (err error) {
	if err = f.setupCtx(wpr.RegionID); err != nil {
		return
	}

	blSize := dma.AlignUp(h.BLCodeSize, dma.BlockSize)

	// the boot-loader is linked at BLImemOffset, shift the source base
	// back so that the DMA offsets match its virtual addresses
	start := wpr.Base + uint64(h.UcodeOffset)

	if start < wpr.Base || start < uint64(h.BLImemOffset) {
		return status.Errorf(status.SizeOverflow, "%v boot-loader source base underflow", f.ID)
	}

	src := start - uint64(h.BLImemOffset)

	var dst uint32

	if h.Flags&api.FlagLoadCodeAtZero == 0 {
		if blSize > imem {
			return status.Errorf(status.UnexpectedArgs, "%v boot-loader size %#x exceeds IMEM %#x", f.ID, blSize, imem)
		}

		dst = imem - blSize
	}

	glog.V(1).Infof("%v boot-loader DMA src:%#x off:%#x dst:%#x size:%#x", f.ID, src, h.BLImemOffset, dst, blSize)

	if err = f.transfer(true, src, h.BLImemOffset, dst, blSize, imem); err != nil {
		return
	}

	data := wpr.Base + uint64(h.BLDataOffset)
	dataSize := dma.AlignUp(h.BLDataSize, dma.BlockSize)

	glog.V(1).Infof("%v boot-loader data DMA src:%#x size:%#x", f.ID, data, dataSize)

	return f.transfer(false, data, 0, 0, dataSize, dmem)
}

// setupCtx binds the falcon context DMA index to the WPR region, with a
// physical aperture, for the duration of the load.
func (f *Falcon) setupCtx(regionID uint32) (err error) {
	err = f.Modify(REGIONCFG, func(v *uint32) {
		bits.SetN(v, f.CtxDMA*REGIONCFG_WIDTH, REGIONCFG_MASK, regionID)
	})

	if err != nil {
		return
	}

	err = f.ModifyIdx(TRANSCFG, f.CtxDMA, func(v *uint32) {
		bits.SetN(v, TRANSCFG_TARGET, TRANSCFG_TARGET_MASK, TRANSCFG_TARGET_LOCAL_FB)
		bits.SetN(v, TRANSCFG_MEM_TYPE, 1, TRANSCFG_MEM_TYPE_PHYS)
	})

	if err != nil {
		return
	}

	return f.Modify(DMACTL, func(v *uint32) { bits.Clear(v, DMACTL_REQUIRE_CTX) })
}

// transfer moves size bytes from physical address base+off to falcon memory
// at dst using the falcon DMA engine.
func (f *Falcon) transfer(imem bool, base uint64, off uint32, dst uint32, size uint32, capacity uint32) (err error) {
	if !dma.Aligned(uint64(off)) {
		return status.Errorf(status.TgtDmaFailure, "misaligned transfer offset %#x", off)
	}

	if err = checkBlock(dst, base, size, capacity); err != nil {
		return
	}

	if base>>8 > math.MaxUint32 {
		return status.Errorf(status.TgtDmaFailure, "transfer base %#x out of range", base)
	}

	if err = f.Write(DMATRFBASE, uint32(base>>8)); err != nil {
		return
	}

	var cmd uint32

	bits.SetN(&cmd, DMATRFCMD_SIZE, DMATRFCMD_SIZE_MASK, DMATRFCMD_SIZE_256)
	bits.SetN(&cmd, DMATRFCMD_CTXDMA, DMATRFCMD_CTXDMA_MASK, uint32(f.CtxDMA))
	bits.SetTo(&cmd, DMATRFCMD_IMEM, imem)

	for n := uint32(0); n < size; n += dma.BlockSize {
		if err = f.Write(DMATRFMOFFS, dst+n); err != nil {
			return
		}

		if err = f.Write(DMATRFFBOFFS, off+n); err != nil {
			return
		}

		if err = f.Write(DMATRFCMD, cmd); err != nil {
			return
		}

		if err = f.Poll(DMATRFCMD, 1<<DMATRFCMD_IDLE, 1<<DMATRFCMD_IDLE); err != nil {
			return
		}
	}

	return
}
