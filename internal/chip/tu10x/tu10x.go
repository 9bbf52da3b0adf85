// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package tu10x describes the register layout and falcon configuration of
// the TU10x GPU generation.
package tu10x

import (
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

// Chip identification
const (
	BOOT0         = 0x000000
	BOOT0_CHIP_ID = 20
	BOOT0_ID_MASK = 0x1ff

	TU102 = 0x162
	TU104 = 0x164
	TU106 = 0x166
	TU117 = 0x167
	TU116 = 0x168
)

// Falcon register offsets, relative to the falcon base
const (
	FALCON_MAILBOX0     = 0x040
	FALCON_MAILBOX1     = 0x044
	FALCON_DBGCTL       = 0x090
	FALCON_CPUCTL       = 0x100
	FALCON_BOOTVEC      = 0x104
	FALCON_HWCFG        = 0x108
	FALCON_DMACTL       = 0x10c
	FALCON_DMATRFBASE   = 0x110
	FALCON_DMATRFMOFFS  = 0x114
	FALCON_DMATRFCMD    = 0x118
	FALCON_DMATRFFBOFFS = 0x11c
	FALCON_IMEMC        = 0x180
	FALCON_IMEMD        = 0x184
	FALCON_IMEMT        = 0x188
	FALCON_DMEMC        = 0x1c0
	FALCON_DMEMD        = 0x1c4
	FALCON_SCTL         = 0x240
	FALCON_TARGET_MASK  = 0x2c0
	FALCON_IMEM_PLM     = 0x300
	FALCON_DMEM_PLM     = 0x304
	FALCON_CPUCTL_PLM   = 0x308
	FALCON_EXE_PLM      = 0x30c
	FALCON_ENGINE       = 0x3c0

	// graphics arbiter, for falcons without a bus interface block
	FALCON_ARB_TRANSCFG  = 0x380
	FALCON_ARB_REGIONCFG = 0x3a0

	// FBIF_TRANSCFG and FBIF_REGIONCFG are relative to the bus
	// interface block.
	FBIF_TRANSCFG  = 0x000
	FBIF_REGIONCFG = 0x080
	FBIF_OFFSET    = 0x600

	// CtxDMAs is the number of context DMA indexes.
	CtxDMAs = 8
)

// Falcon bases
const (
	PMU_BASE   = 0x10a000
	FECS_BASE  = 0x409000
	GPCCS_BASE = 0x41a000
	NVDEC_BASE = 0x084000
	SEC2_BASE  = 0x840000
	GSP_BASE   = 0x110000
)

// Memory controller
const (
	MMU_WPR_ALLOW_READ  = 0x1fa824
	MMU_WPR_ALLOW_WRITE = 0x1fa828
	MMU_WPR1_ADDR_LO    = 0x1fa82c
	MMU_WPR1_ADDR_HI    = 0x1fa830
	MMU_WPR2_ADDR_LO    = 0x1fa834
	MMU_WPR2_ADDR_HI    = 0x1fa838
	MMU_SUB_WPR         = 0x1fa880

	SubWPRSlots = 14

	// sub-WPR slots reserved to the executing falcon, no LS image is
	// assigned to them
	LockdownCodeSlot = 12
	LockdownDataSlot = 13
)

// WPR lock policy
const (
	// ReadCeiling is the highest read mask accepted for a locked WPR.
	ReadCeiling = falcon.Level2 | falcon.Level3
	// WriteMask is the only write mask accepted for a locked WPR.
	WriteMask = falcon.Level3
)

var offsets = map[falcon.Reg]uint32{
	falcon.MAILBOX0:     FALCON_MAILBOX0,
	falcon.MAILBOX1:     FALCON_MAILBOX1,
	falcon.DBGCTL:       FALCON_DBGCTL,
	falcon.CPUCTL:       FALCON_CPUCTL,
	falcon.BOOTVEC:      FALCON_BOOTVEC,
	falcon.HWCFG:        FALCON_HWCFG,
	falcon.DMACTL:       FALCON_DMACTL,
	falcon.DMATRFBASE:   FALCON_DMATRFBASE,
	falcon.DMATRFMOFFS:  FALCON_DMATRFMOFFS,
	falcon.DMATRFCMD:    FALCON_DMATRFCMD,
	falcon.DMATRFFBOFFS: FALCON_DMATRFFBOFFS,
	falcon.IMEMC:        FALCON_IMEMC,
	falcon.IMEMD:        FALCON_IMEMD,
	falcon.IMEMT:        FALCON_IMEMT,
	falcon.DMEMC:        FALCON_DMEMC,
	falcon.DMEMD:        FALCON_DMEMD,
	falcon.SCTL:         FALCON_SCTL,
	falcon.TARGET_MASK:  FALCON_TARGET_MASK,
	falcon.IMEM_PLM:     FALCON_IMEM_PLM,
	falcon.DMEM_PLM:     FALCON_DMEM_PLM,
	falcon.CPUCTL_PLM:   FALCON_CPUCTL_PLM,
	falcon.EXE_PLM:      FALCON_EXE_PLM,
	falcon.ENGINE:       FALCON_ENGINE,
}

var bootPLM = falcon.PLM(falcon.LevelAll, falcon.Level2|falcon.Level3)

var processors = map[falcon.ID]falcon.Config{
	falcon.SEC2: {
		ID:        falcon.SEC2,
		Base:      SEC2_BASE,
		FBIFBase:  SEC2_BASE + FBIF_OFFSET,
		HasFBIF:   true,
		CtxDMA:    6,
		IMEMPLM:   bootPLM,
		DMEMPLM:   bootPLM,
		ResetType: falcon.ResetEngine,
		CodeSlot:  0,
		DataSlot:  1,
	},
	falcon.PMU: {
		ID:        falcon.PMU,
		Base:      PMU_BASE,
		FBIFBase:  PMU_BASE + FBIF_OFFSET,
		HasFBIF:   true,
		CtxDMA:    4,
		IMEMPLM:   bootPLM,
		DMEMPLM:   bootPLM,
		ResetType: falcon.ResetEngine,
		CodeSlot:  2,
		DataSlot:  3,
	},
	falcon.FECS: {
		ID:        falcon.FECS,
		Base:      FECS_BASE,
		CtxDMA:    0,
		IMEMPLM:   bootPLM,
		DMEMPLM:   bootPLM,
		ResetType: falcon.ResetCPUCTL,
		CodeSlot:  4,
		DataSlot:  5,
	},
	falcon.GPCCS: {
		ID:        falcon.GPCCS,
		Base:      GPCCS_BASE,
		CtxDMA:    0,
		IMEMPLM:   bootPLM,
		DMEMPLM:   bootPLM,
		ResetType: falcon.ResetCPUCTL,
		CodeSlot:  6,
		DataSlot:  7,
	},
	falcon.NVDEC: {
		ID:        falcon.NVDEC,
		Base:      NVDEC_BASE,
		FBIFBase:  NVDEC_BASE + FBIF_OFFSET,
		HasFBIF:   true,
		CtxDMA:    4,
		IMEMPLM:   bootPLM,
		DMEMPLM:   bootPLM,
		ResetType: falcon.ResetEngine,
		CodeSlot:  8,
		DataSlot:  9,
	},
	falcon.GSP: {
		ID:         falcon.GSP,
		Base:       GSP_BASE,
		FBIFBase:   GSP_BASE + FBIF_OFFSET,
		HasFBIF:    true,
		CtxDMA:     4,
		IMEMPLM:    bootPLM,
		DMEMPLM:    bootPLM,
		ResetType:  falcon.ResetEngine,
		LockExempt: true,
		CodeSlot:   10,
		DataSlot:   11,
	},
}

// Chip implements the TU10x register map and processor configuration.
type Chip struct{}

// Config implements falcon.ProcessorConfig.
func (Chip) Config(id falcon.ID) (*falcon.Config, error) {
	cfg, ok := processors[id]

	if !ok {
		return nil, status.Errorf(status.FalconIDNotFound, "%v", id)
	}

	return &cfg, nil
}

// Resolve implements falcon.RegisterMap.
func (Chip) Resolve(cfg *falcon.Config, self bool, r falcon.Reg, idx int) (t hal.Target, addr uint32, err error) {
	switch r {
	case falcon.TRANSCFG:
		if idx < 0 || idx >= CtxDMAs {
			return 0, 0, status.Errorf(status.UnexpectedArgs, "context DMA index %d", idx)
		}

		if cfg.HasFBIF {
			addr = cfg.FBIFBase + FBIF_TRANSCFG + uint32(idx)*4
		} else {
			addr = cfg.Base + FALCON_ARB_TRANSCFG + uint32(idx)*4
		}
	case falcon.REGIONCFG:
		if cfg.HasFBIF {
			addr = cfg.FBIFBase + FBIF_REGIONCFG
		} else {
			addr = cfg.Base + FALCON_ARB_REGIONCFG
		}
	default:
		off, ok := offsets[r]

		if !ok {
			return 0, 0, status.Errorf(status.UnexpectedArgs, "register %v", r)
		}

		addr = cfg.Base + off
	}

	if self {
		return hal.CSB, addr - cfg.Base, nil
	}

	return hal.PRIV, addr, nil
}

// MMU returns the memory controller register layout.
func (Chip) MMU() *wpr.MMU {
	return &wpr.MMU{
		AllowRead:   MMU_WPR_ALLOW_READ,
		AllowWrite:  MMU_WPR_ALLOW_WRITE,
		AddrLo:      [api.MaxRegions]uint32{MMU_WPR1_ADDR_LO, MMU_WPR2_ADDR_LO},
		AddrHi:      [api.MaxRegions]uint32{MMU_WPR1_ADDR_HI, MMU_WPR2_ADDR_HI},
		SubWPR:      MMU_SUB_WPR,
		Slots:       SubWPRSlots,
		Lockdown:    []int{LockdownCodeSlot, LockdownDataSlot},
		ReadCeiling: ReadCeiling,
		WriteMask:   WriteMask,
	}
}

// ChipID extracts the chip identifier from the BOOT0 register value.
func ChipID(boot0 uint32) uint32 {
	return bits.Get(&boot0, BOOT0_CHIP_ID, BOOT0_ID_MASK)
}

// Supported returns whether the BOOT0 register value identifies a TU10x
// part.
func (Chip) Supported(boot0 uint32) bool {
	switch ChipID(boot0) {
	case TU102, TU104, TU106, TU116, TU117:
		return true
	}

	return false
}

// IDRegister returns the chip identification register address.
func (Chip) IDRegister() uint32 {
	return BOOT0
}
