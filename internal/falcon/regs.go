// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package falcon

// Reg is a symbolic falcon register name, resolved to a bus target and
// address by a RegisterMap.
type Reg int

const (
	CPUCTL Reg = iota
	BOOTVEC
	HWCFG
	DMACTL
	DMATRFBASE
	DMATRFMOFFS
	DMATRFCMD
	DMATRFFBOFFS
	IMEMC
	IMEMD
	IMEMT
	DMEMC
	DMEMD
	SCTL
	DBGCTL
	ENGINE
	MAILBOX0
	MAILBOX1
	TARGET_MASK
	IMEM_PLM
	DMEM_PLM
	CPUCTL_PLM
	EXE_PLM
	// TRANSCFG and REGIONCFG live in the bus interface block, or in
	// the graphics arbiter for falcons without one.
	TRANSCFG
	REGIONCFG
)

var regNames = []string{
	"CPUCTL", "BOOTVEC", "HWCFG", "DMACTL", "DMATRFBASE", "DMATRFMOFFS",
	"DMATRFCMD", "DMATRFFBOFFS", "IMEMC", "IMEMD", "IMEMT", "DMEMC", "DMEMD",
	"SCTL", "DBGCTL", "ENGINE", "MAILBOX0", "MAILBOX1", "TARGET_MASK",
	"IMEM_PLM", "DMEM_PLM", "CPUCTL_PLM", "EXE_PLM", "TRANSCFG", "REGIONCFG",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}

	return "REG?"
}

// CPUCTL fields
const (
	CPUCTL_IINVAL   = 0
	CPUCTL_STARTCPU = 1
	CPUCTL_SRESET   = 2
	CPUCTL_HRESET   = 3
	CPUCTL_HALTED   = 4
	CPUCTL_STOPPED  = 5
)

// HWCFG fields, sizes are expressed in blocks
const (
	HWCFG_IMEM_SIZE = 0
	HWCFG_DMEM_SIZE = 9
	HWCFG_SIZE_MASK = 0x1ff
)

// DMACTL fields
const (
	DMACTL_REQUIRE_CTX    = 0
	DMACTL_DMEM_SCRUBBING = 1
	DMACTL_IMEM_SCRUBBING = 2
)

// DMATRFCMD fields
const (
	DMATRFCMD_FULL     = 0
	DMATRFCMD_IDLE     = 1
	DMATRFCMD_IMEM     = 4
	DMATRFCMD_WRITE    = 5
	DMATRFCMD_SIZE     = 8
	DMATRFCMD_SIZE_256 = 6
	DMATRFCMD_CTXDMA   = 12

	DMATRFCMD_SIZE_MASK   = 0x7
	DMATRFCMD_CTXDMA_MASK = 0x7
)

// IMEMC/DMEMC fields
const (
	MEMC_OFFS      = 0
	MEMC_OFFS_MASK = 0xffffff
	MEMC_AINCW     = 24
	MEMC_AINCR     = 25
	MEMC_SECURE    = 28
)

// SCTL fields
const (
	SCTL_LSMODE          = 0
	SCTL_LSMODE_LEVEL    = 4
	SCTL_AUTH_EN         = 8
	SCTL_RESET_LVLM_EN   = 9
	SCTL_STALLREQ_CLR_EN = 10

	SCTL_LSMODE_LEVEL_MASK = 0x3
)

// DBGCTL fields
const (
	DBGCTL_ICD_EN = 0
)

// ENGINE fields
const (
	ENGINE_RESET = 0
)

// TRANSCFG fields
const (
	TRANSCFG_TARGET   = 0
	TRANSCFG_MEM_TYPE = 2

	TRANSCFG_TARGET_MASK = 0x3

	TRANSCFG_TARGET_LOCAL_FB = 0
	TRANSCFG_MEM_TYPE_VIRT   = 0
	TRANSCFG_MEM_TYPE_PHYS   = 1
)

// REGIONCFG holds a 4-bit WPR region id per context DMA index.
const (
	REGIONCFG_WIDTH = 4
	REGIONCFG_MASK  = 0xf
)

// Privilege levels and masks, a PLM register carries the read level mask in
// bits 0-3 and the write level mask in bits 4-7.
const (
	Level0 = 1 << 0
	Level1 = 1 << 1
	Level2 = 1 << 2
	Level3 = 1 << 3

	LevelAll = Level0 | Level1 | Level2 | Level3

	// LSLevel is the privilege level granted to authenticated images.
	LSLevel = 2

	PLM_READ       = 0
	PLM_WRITE      = 4
	PLM_LEVEL_MASK = 0xf
)

// PLM returns a privilege level mask register value.
func PLM(read uint32, write uint32) uint32 {
	return (read&PLM_LEVEL_MASK)<<PLM_READ | (write&PLM_LEVEL_MASK)<<PLM_WRITE
}
