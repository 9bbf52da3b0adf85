// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package falcon

import (
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/internal/status"
)

// SetupPLM programs the boot-time privilege level masks, only level 3 can
// modify the CPU control and execution registers until the image is started.
func (f *Falcon) SetupPLM() (err error) {
	for _, plm := range []struct {
		reg Reg
		val uint32
	}{
		{IMEM_PLM, f.IMEMPLM},
		{DMEM_PLM, f.DMEMPLM},
		{CPUCTL_PLM, PLM(LevelAll, Level3)},
		{EXE_PLM, PLM(LevelAll, Level3)},
	} {
		if err = f.Write(plm.reg, plm.val); err != nil {
			return
		}
	}

	return
}

// Authorize enables authenticated execution and switches the falcon to
// light-secure mode.
func (f *Falcon) Authorize() (err error) {
	err = f.Modify(SCTL, func(v *uint32) {
		bits.Clear(v, SCTL_RESET_LVLM_EN)
		bits.Clear(v, SCTL_STALLREQ_CLR_EN)
		bits.Set(v, SCTL_AUTH_EN)
	})

	if err != nil {
		return
	}

	if err = f.checkAuth(); err != nil {
		return
	}

	err = f.Modify(SCTL, func(v *uint32) {
		bits.Set(v, SCTL_LSMODE)
		bits.SetN(v, SCTL_LSMODE_LEVEL, SCTL_LSMODE_LEVEL_MASK, LSLevel)
	})

	if err != nil {
		return
	}

	if err = f.checkAuth(); err != nil {
		return
	}

	return f.Modify(DBGCTL, func(v *uint32) { bits.Set(v, DBGCTL_ICD_EN) })
}

func (f *Falcon) checkAuth() error {
	if set, err := f.IsSet(SCTL, SCTL_AUTH_EN); err != nil || !set {
		return status.Errorf(status.LsBootFailAuth, "%v AUTH_EN readback, err:%v", f.ID, err)
	}

	return nil
}
