// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/usbarmory/tamago/dma"

	"github.com/usbarmory/armory-acr/internal/hal"
)

// mmio implements hal.Bus over the memory-mapped BAR0 aperture, the local
// bus of the executing falcon is reached at its PRIV base.
type mmio struct {
	base uint32
	size uint32
	self uint32
}

func (m *mmio) addr(t hal.Target, off uint32) (*uint32, error) {
	if t == hal.CSB {
		off += m.self
	}

	if off%4 != 0 || off >= m.size {
		return nil, fmt.Errorf("invalid register %v:%#x", t, off)
	}

	return (*uint32)(unsafe.Pointer(uintptr(m.base + off))), nil
}

// Read implements hal.Bus.
func (m *mmio) Read(t hal.Target, off uint32) (uint32, error) {
	reg, err := m.addr(t, off)

	if err != nil {
		return 0, err
	}

	return atomic.LoadUint32(reg), nil
}

// Write implements hal.Bus.
func (m *mmio) Write(t hal.Target, off uint32, val uint32) error {
	reg, err := m.addr(t, off)

	if err != nil {
		return err
	}

	atomic.StoreUint32(reg, val)

	return nil
}

// counter implements hal.Clock with the system timer.
type counter struct {
	start time.Time
}

func (c *counter) Nanotime() int64 {
	return int64(time.Since(c.start))
}

// window implements dma.Transport over the GPU physical memory window,
// reserved as a single DMA region.
type window struct {
	region *dma.Region
	addr   uint
	size   uint64
}

func newWindow(start uint, size int) (w *window, err error) {
	r, err := dma.NewRegion(start, size, false)

	if err != nil {
		return
	}

	addr, _ := r.Reserve(size, 0)

	return &window{
		region: r,
		addr:   addr,
		size:   uint64(size),
	}, nil
}

func (w *window) check(addr uint64, n int) error {
	if end := addr + uint64(n); end < addr || end > w.size {
		return fmt.Errorf("access %#x+%#x outside memory window", addr, n)
	}

	return nil
}

// Read implements dma.Transport, context DMA indexes are not used as the
// window is physically addressed.
func (w *window) Read(_ int, addr uint64, buf []byte) (err error) {
	if err = w.check(addr, len(buf)); err != nil {
		return
	}

	w.region.Read(w.addr, int(addr), buf)

	return
}

// Write implements dma.Transport.
func (w *window) Write(_ int, addr uint64, buf []byte) (err error) {
	if err = w.check(addr, len(buf)); err != nil {
		return
	}

	w.region.Write(w.addr, int(addr), buf)

	return
}
