// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package falcon implements access, reset, loading and light-secure
// authorization of the falcon microcontrollers whose firmware is
// bootstrapped from the WPR.
package falcon

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/status"
)

// ID is a falcon identifier as found in the WPR directory.
type ID uint32

const (
	PMU   ID = api.FalconPMU
	FECS  ID = api.FalconFECS
	GPCCS ID = api.FalconGPCCS
	NVDEC ID = api.FalconNVDEC
	SEC2  ID = api.FalconSEC2
	GSP   ID = api.FalconGSP
)

var idNames = map[ID]string{
	api.FalconPMU:    "PMU",
	api.FalconDPU:    "DPU",
	api.FalconFECS:   "FECS",
	api.FalconGPCCS:  "GPCCS",
	api.FalconNVDEC:  "NVDEC",
	api.FalconNVENC0: "NVENC0",
	api.FalconNVENC1: "NVENC1",
	api.FalconSEC2:   "SEC2",
	api.FalconGSP:    "GSP",
	api.FalconNVDEC1: "NVDEC1",
	api.FalconNVJPG:  "NVJPG",
	api.FalconOFA:    "OFA",
}

func (id ID) String() string {
	if n, ok := idNames[id]; ok {
		return n
	}

	return fmt.Sprintf("falcon(%#x)", uint32(id))
}

// ParseID returns the falcon identifier for a name such as "FECS", case
// insensitive.
func ParseID(name string) (ID, error) {
	for id, n := range idNames {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}

	return 0, status.Errorf(status.FalconIDNotFound, "unknown falcon %q", name)
}

// ResetType selects how a falcon is forced into reset.
type ResetType int

const (
	// ResetEngine pulses the engine reset register.
	ResetEngine ResetType = iota
	// ResetCPUCTL asserts the falcon hard reset in CPUCTL.
	ResetCPUCTL
)

// Config describes a falcon instance.
type Config struct {
	ID ID

	// register bases on the PRIV bus
	Base     uint32
	FBIFBase uint32
	// HasFBIF is false for falcons reaching memory through the graphics
	// arbiter.
	HasFBIF bool

	// context DMA index used for ucode fetches
	CtxDMA int

	// boot-time IMEM/DMEM privilege level masks
	IMEMPLM uint32
	DMEMPLM uint32

	ResetType ResetType

	// LockExempt falcons never have their register space locked.
	LockExempt bool

	// sub-WPR slots for the code and data ranges
	CodeSlot int
	DataSlot int
}

// ProcessorConfig maps a falcon identifier to its configuration.
type ProcessorConfig interface {
	// Config returns the configuration of falcon id, or a
	// status.FalconIDNotFound error.
	Config(id ID) (*Config, error)
}

// RegisterMap resolves a symbolic register of a falcon to a bus target and
// address. The self flag signals that the falcon is the executing one,
// reached through its local bus. The idx argument selects the context DMA
// index of TRANSCFG and is ignored otherwise.
type RegisterMap interface {
	Resolve(cfg *Config, self bool, r Reg, idx int) (t hal.Target, addr uint32, err error)
}

// Falcon provides register access to a falcon instance.
type Falcon struct {
	*Config

	// Self is set for the falcon executing the boot engine.
	Self bool

	Regs    RegisterMap
	Bus     hal.Bus
	Clock   hal.Clock
	Timeout time.Duration
}

func (f *Falcon) resolve(r Reg, idx int) (t hal.Target, addr uint32, err error) {
	if t, addr, err = f.Regs.Resolve(f.Config, f.Self, r, idx); err != nil {
		err = status.Errorf(status.UnexpectedArgs, "%v %v", f.ID, r)
	}

	return
}

// ReadIdx reads the idx-th instance of register r.
func (f *Falcon) ReadIdx(r Reg, idx int) (val uint32, err error) {
	t, addr, err := f.resolve(r, idx)

	if err != nil {
		return
	}

	if val, err = f.Bus.Read(t, addr); err != nil {
		return 0, status.Errorf(status.InvalidOperation, "%v read %v, %v", f.ID, r, err)
	}

	if glog.V(3) {
		glog.Infof("%v %v(%d) %v:%#x -> %#x", f.ID, r, idx, t, addr, val)
	}

	return
}

// WriteIdx writes the idx-th instance of register r.
func (f *Falcon) WriteIdx(r Reg, idx int, val uint32) (err error) {
	t, addr, err := f.resolve(r, idx)

	if err != nil {
		return
	}

	if glog.V(3) {
		glog.Infof("%v %v(%d) %v:%#x <- %#x", f.ID, r, idx, t, addr, val)
	}

	if err = f.Bus.Write(t, addr, val); err != nil {
		return status.Errorf(status.InvalidOperation, "%v write %v, %v", f.ID, r, err)
	}

	return
}

// Read reads register r.
func (f *Falcon) Read(r Reg) (uint32, error) {
	return f.ReadIdx(r, 0)
}

// Write writes register r.
func (f *Falcon) Write(r Reg, val uint32) error {
	return f.WriteIdx(r, 0, val)
}

// ModifyIdx performs a read-modify-write of the idx-th instance of register
// r.
func (f *Falcon) ModifyIdx(r Reg, idx int, fn func(val *uint32)) (err error) {
	val, err := f.ReadIdx(r, idx)

	if err != nil {
		return
	}

	fn(&val)

	return f.WriteIdx(r, idx, val)
}

// Modify performs a read-modify-write of register r.
func (f *Falcon) Modify(r Reg, fn func(val *uint32)) error {
	return f.ModifyIdx(r, 0, fn)
}

// IsSet returns whether bit pos of register r is set.
func (f *Falcon) IsSet(r Reg, pos int) (set bool, err error) {
	val, err := f.Read(r)
	return bits.IsSet(&val, pos), err
}

// Poll waits, within the falcon timeout, until the bits of register r
// selected by mask equal val.
func (f *Falcon) Poll(r Reg, mask uint32, val uint32) (err error) {
	err = hal.Poll(f.Clock, f.Timeout, func() (bool, error) {
		v, err := f.Read(r)
		return v&mask == val, err
	})

	if err != nil {
		err = fmt.Errorf("%v %v poll mask:%#x val:%#x: %w", f.ID, r, mask, val, err)
	}

	return
}

// MemSizes returns the IMEM and DMEM sizes in bytes reported by hardware.
func (f *Falcon) MemSizes() (imem uint32, dmem uint32, err error) {
	hwcfg, err := f.Read(HWCFG)

	if err != nil {
		return
	}

	imem = bits.Get(&hwcfg, HWCFG_IMEM_SIZE, HWCFG_SIZE_MASK) * dma.BlockSize
	dmem = bits.Get(&hwcfg, HWCFG_DMEM_SIZE, HWCFG_SIZE_MASK) * dma.BlockSize

	return
}
