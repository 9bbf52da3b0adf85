// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sim

import (
	"encoding/binary"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/internal/chip/tu10x"
	"github.com/usbarmory/armory-acr/internal/falcon"
)

// scrubReads is the number of DMACTL reads during which memory scrubbing is
// reported after a reset.
const scrubReads = 3

var retained = []uint32{
	tu10x.FALCON_HWCFG,
	tu10x.FALCON_TARGET_MASK,
	tu10x.FALCON_MAILBOX0,
	tu10x.FALCON_MAILBOX1,
	tu10x.FALCON_IMEM_PLM,
	tu10x.FALCON_DMEM_PLM,
	tu10x.FALCON_CPUCTL_PLM,
	tu10x.FALCON_EXE_PLM,
}

// Falcon simulates a falcon register space and memories.
type Falcon struct {
	ID   falcon.ID
	Base uint32

	IMEM []byte
	DMEM []byte
	// IMEM block tags
	Tags []uint32

	// Resets counts the resets undergone.
	Resets int

	// AuthStuck ignores SCTL.AUTH_EN writes.
	AuthStuck bool
	// MaskStuck ignores TARGET_MASK writes.
	MaskStuck bool

	regs     map[uint32]uint32
	imemOff  uint32
	dmemOff  uint32
	scrubbed int
	gpu      *GPU
}

func newFalcon(g *GPU, id falcon.ID, base uint32, imem int, dmem int) *Falcon {
	f := &Falcon{
		ID:   id,
		Base: base,
		IMEM: make([]byte, imem),
		DMEM: make([]byte, dmem),
		Tags: make([]uint32, imem/blockSize),
		regs: make(map[uint32]uint32),
		gpu:  g,
	}

	var hwcfg uint32

	bits.SetN(&hwcfg, falcon.HWCFG_IMEM_SIZE, falcon.HWCFG_SIZE_MASK, uint32(imem/blockSize))
	bits.SetN(&hwcfg, falcon.HWCFG_DMEM_SIZE, falcon.HWCFG_SIZE_MASK, uint32(dmem/blockSize))

	f.regs[tu10x.FALCON_HWCFG] = hwcfg
	f.regs[tu10x.FALCON_CPUCTL] = 1 << falcon.CPUCTL_HALTED

	return f
}

// Reg returns the value of the register at offset off.
func (f *Falcon) Reg(off uint32) uint32 {
	return f.regs[off]
}

// SetReg sets the value of the register at offset off.
func (f *Falcon) SetReg(off uint32, val uint32) {
	f.regs[off] = val
}

func (f *Falcon) reset() {
	f.Resets++

	regs := map[uint32]uint32{
		tu10x.FALCON_CPUCTL: 1 << falcon.CPUCTL_HALTED,
		tu10x.FALCON_DMACTL: 1<<falcon.DMACTL_DMEM_SCRUBBING | 1<<falcon.DMACTL_IMEM_SCRUBBING,
	}

	// registers outside of the reset domain
	for _, off := range retained {
		if v, ok := f.regs[off]; ok {
			regs[off] = v
		}
	}

	f.regs = regs

	clear(f.IMEM)
	clear(f.DMEM)
	clear(f.Tags)

	f.scrubbed = scrubReads
}

func (f *Falcon) read(off uint32) uint32 {
	switch off {
	case tu10x.FALCON_DMACTL:
		if f.scrubbed > 0 {
			if f.scrubbed--; f.scrubbed == 0 {
				v := f.regs[off]
				bits.Clear(&v, falcon.DMACTL_DMEM_SCRUBBING)
				bits.Clear(&v, falcon.DMACTL_IMEM_SCRUBBING)
				f.regs[off] = v
			}
		}
	case tu10x.FALCON_IMEMD:
		return f.port(f.IMEM, &f.imemOff, tu10x.FALCON_IMEMC, 0, false)
	case tu10x.FALCON_DMEMD:
		return f.port(f.DMEM, &f.dmemOff, tu10x.FALCON_DMEMC, 0, false)
	}

	return f.regs[off]
}

func (f *Falcon) write(off uint32, val uint32) {
	switch off {
	case tu10x.FALCON_ENGINE:
		if bits.IsSet(&val, falcon.ENGINE_RESET) {
			f.reset()
		}
	case tu10x.FALCON_CPUCTL:
		if bits.IsSet(&val, falcon.CPUCTL_HRESET) {
			f.reset()
			return
		}
	case tu10x.FALCON_SCTL:
		if f.AuthStuck {
			bits.Clear(&val, falcon.SCTL_AUTH_EN)
		}
	case tu10x.FALCON_TARGET_MASK:
		if f.MaskStuck {
			return
		}
	case tu10x.FALCON_IMEMC:
		f.imemOff = bits.Get(&val, falcon.MEMC_OFFS, falcon.MEMC_OFFS_MASK)
	case tu10x.FALCON_DMEMC:
		f.dmemOff = bits.Get(&val, falcon.MEMC_OFFS, falcon.MEMC_OFFS_MASK)
	case tu10x.FALCON_IMEMT:
		if n := int(f.imemOff / blockSize); n < len(f.Tags) {
			f.Tags[n] = val
		}
	case tu10x.FALCON_IMEMD:
		f.port(f.IMEM, &f.imemOff, tu10x.FALCON_IMEMC, val, true)
		return
	case tu10x.FALCON_DMEMD:
		f.port(f.DMEM, &f.dmemOff, tu10x.FALCON_DMEMC, val, true)
		return
	case tu10x.FALCON_DMATRFCMD:
		val = f.transfer(val)
	}

	f.regs[off] = val
}

// port accesses a memory word through its port register, advancing the
// offset when auto-increment is enabled.
func (f *Falcon) port(mem []byte, off *uint32, ctl uint32, val uint32, write bool) (res uint32) {
	c := f.regs[ctl]

	if int(*off)+4 > len(mem) {
		return 0xdeadbeef
	}

	if write {
		binary.LittleEndian.PutUint32(mem[*off:], val)
	} else {
		res = binary.LittleEndian.Uint32(mem[*off:])
	}

	if (write && bits.IsSet(&c, falcon.MEMC_AINCW)) || (!write && bits.IsSet(&c, falcon.MEMC_AINCR)) {
		*off += 4
	}

	return
}

// transfer executes a DMA command, a failed transfer never reports idle.
func (f *Falcon) transfer(cmd uint32) uint32 {
	bits.Clear(&cmd, falcon.DMATRFCMD_IDLE)

	if bits.Get(&cmd, falcon.DMATRFCMD_SIZE, falcon.DMATRFCMD_SIZE_MASK) != falcon.DMATRFCMD_SIZE_256 {
		return cmd
	}

	size := blockSize
	base := uint64(f.regs[tu10x.FALCON_DMATRFBASE]) << 8
	src := base + uint64(f.regs[tu10x.FALCON_DMATRFFBOFFS])
	moffs := int(f.regs[tu10x.FALCON_DMATRFMOFFS])

	dst := f.DMEM
	imem := bits.IsSet(&cmd, falcon.DMATRFCMD_IMEM)

	if imem {
		dst = f.IMEM
	}

	if moffs+size > len(dst) {
		return cmd
	}

	if err := f.gpu.readMem(int(bits.Get(&cmd, falcon.DMATRFCMD_CTXDMA, falcon.DMATRFCMD_CTXDMA_MASK)), src, dst[moffs:moffs+size]); err != nil {
		return cmd
	}

	if imem {
		f.Tags[moffs/blockSize] = f.regs[tu10x.FALCON_DMATRFFBOFFS] / blockSize
	}

	f.gpu.Transfers++

	bits.Set(&cmd, falcon.DMATRFCMD_IDLE)

	return cmd
}
