// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sim provides a simulated TU10x GPU, with falcons, memory controller
// and physical memory, implementing the register, timer and DMA interfaces
// consumed by the boot engine.
package sim

import (
	"fmt"
	"sync"

	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/chip/tu10x"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

const (
	blockSize = 256
	// falcon register space size
	falconSpace = 0x1000

	// DefaultIMEM and DefaultDMEM are the simulated falcon memory sizes.
	DefaultIMEM = 0x10000
	DefaultDMEM = 0x10000

	// DefaultChipID is a TU104 BOOT0 value.
	DefaultChipID = tu10x.TU104<<tu10x.BOOT0_CHIP_ID | 0xa1
)

// GPU represents the simulated hardware.
type GPU struct {
	sync.Mutex

	// Mem is the physical memory, starting at address 0.
	Mem []byte

	Falcons map[falcon.ID]*Falcon
	// Self is the falcon reached through the CSB target.
	Self *Falcon

	// Transfers counts the falcon DMA commands executed.
	Transfers int

	// ReadFault and WriteFault, when set, are invoked on every DMA
	// transport access and fail it with the returned error.
	ReadFault  func(addr uint64, n int) error
	WriteFault func(addr uint64, n int) error

	regs map[uint32]uint32
	now  int64
}

// New returns a simulated GPU with memSize bytes of physical memory and all
// TU10x falcons, the engine running on self.
func New(memSize int, self falcon.ID) (g *GPU, err error) {
	g = &GPU{
		Mem:     make([]byte, memSize),
		Falcons: make(map[falcon.ID]*Falcon),
		regs: map[uint32]uint32{
			tu10x.BOOT0: DefaultChipID,
		},
	}

	chip := tu10x.Chip{}

	for _, id := range []falcon.ID{falcon.PMU, falcon.FECS, falcon.GPCCS, falcon.NVDEC, falcon.SEC2, falcon.GSP} {
		cfg, err := chip.Config(id)

		if err != nil {
			return nil, err
		}

		g.Falcons[id] = newFalcon(g, id, cfg.Base, DefaultIMEM, DefaultDMEM)
	}

	if g.Self = g.Falcons[self]; g.Self == nil {
		return nil, fmt.Errorf("unknown falcon %v", self)
	}

	return
}

// Reg returns the value of a PRIV register which does not belong to a
// falcon.
func (g *GPU) Reg(addr uint32) uint32 {
	return g.regs[addr]
}

// SetReg sets the value of a PRIV register which does not belong to a
// falcon.
func (g *GPU) SetReg(addr uint32, val uint32) {
	g.regs[addr] = val
}

// SetWPR configures WPR region n (1-based) to [start, end) with the given
// read and write level masks.
func (g *GPU) SetWPR(n int, start uint64, end uint64, read uint32, write uint32) {
	i := n - 1

	allowRead := g.regs[tu10x.MMU_WPR_ALLOW_READ]
	allowWrite := g.regs[tu10x.MMU_WPR_ALLOW_WRITE]

	bits.SetN(&allowRead, i*4, 0xf, read)
	bits.SetN(&allowWrite, i*4, 0xf, write)

	g.regs[tu10x.MMU_WPR_ALLOW_READ] = allowRead
	g.regs[tu10x.MMU_WPR_ALLOW_WRITE] = allowWrite

	lo := []uint32{tu10x.MMU_WPR1_ADDR_LO, tu10x.MMU_WPR2_ADDR_LO}
	hi := []uint32{tu10x.MMU_WPR1_ADDR_HI, tu10x.MMU_WPR2_ADDR_HI}

	g.regs[lo[i]] = uint32(start >> wpr.PageShift)
	g.regs[hi[i]] = uint32(end>>wpr.PageShift) - 1
}

// SubWPR returns the configuration registers of a sub-WPR slot.
func (g *GPU) SubWPR(slot int) (cfga uint32, cfgb uint32) {
	a, b := tu10x.Chip{}.MMU().Slot(slot)
	return g.regs[a], g.regs[b]
}

func (g *GPU) falcon(t hal.Target, addr uint32) (f *Falcon, off uint32) {
	if t == hal.CSB {
		return g.Self, addr
	}

	for _, f := range g.Falcons {
		if addr >= f.Base && addr < f.Base+falconSpace {
			return f, addr - f.Base
		}
	}

	return nil, addr
}

// Nanotime implements hal.Clock, the counter advances by a microsecond on
// every read.
func (g *GPU) Nanotime() int64 {
	g.Lock()
	defer g.Unlock()

	g.now += 1000
	return g.now
}

// Read implements hal.Bus.
func (g *GPU) Read(t hal.Target, addr uint32) (uint32, error) {
	g.Lock()
	defer g.Unlock()

	if f, off := g.falcon(t, addr); f != nil {
		return f.read(off), nil
	}

	if t != hal.PRIV {
		return 0, fmt.Errorf("invalid target %v", t)
	}

	return g.regs[addr], nil
}

// Write implements hal.Bus.
func (g *GPU) Write(t hal.Target, addr uint32, val uint32) error {
	g.Lock()
	f, off := g.falcon(t, addr)

	if f == nil {
		defer g.Unlock()

		if t != hal.PRIV {
			return fmt.Errorf("invalid target %v", t)
		}

		g.regs[addr] = val
		return nil
	}

	g.Unlock()

	// falcon DMA commands access physical memory through the transport
	f.write(off, val)

	return nil
}

func (g *GPU) check(addr uint64, n int) error {
	if end := addr + uint64(n); end < addr || end > uint64(len(g.Mem)) {
		return fmt.Errorf("access %#x+%#x outside physical memory", addr, n)
	}

	return nil
}

// Memory exposes the GPU physical memory as a DMA transport.
type Memory struct {
	gpu *GPU
}

// DMA returns the transport to the physical memory.
func (g *GPU) DMA() *Memory {
	return &Memory{gpu: g}
}

// Read implements dma.Transport.
func (m *Memory) Read(ctx int, addr uint64, buf []byte) error {
	return m.gpu.readMem(ctx, addr, buf)
}

// Write implements dma.Transport.
func (m *Memory) Write(ctx int, addr uint64, buf []byte) error {
	return m.gpu.writeMem(ctx, addr, buf)
}

func (g *GPU) readMem(_ int, addr uint64, buf []byte) (err error) {
	if g.ReadFault != nil {
		if err = g.ReadFault(addr, len(buf)); err != nil {
			return
		}
	}

	g.Lock()
	defer g.Unlock()

	if err = g.check(addr, len(buf)); err != nil {
		return
	}

	copy(buf, g.Mem[addr:])

	return
}

func (g *GPU) writeMem(_ int, addr uint64, buf []byte) (err error) {
	if g.WriteFault != nil {
		if err = g.WriteFault(addr, len(buf)); err != nil {
			return
		}
	}

	g.Lock()
	defer g.Unlock()

	if err = g.check(addr, len(buf)); err != nil {
		return
	}

	copy(g.Mem[addr:], buf)

	return
}

// Load copies buf to physical address addr.
func (g *GPU) Load(addr uint64, buf []byte) {
	copy(g.Mem[addr:], buf)
}

// Descriptor stores a boot descriptor at physical address addr.
func (g *GPU) Descriptor(addr uint64, d *api.Descriptor) {
	g.Load(addr, d.Bytes())
}
