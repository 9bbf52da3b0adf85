// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package falcon

import (
	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"
)

// Reset forces the falcon into reset and waits for it to halt and for its
// IMEM/DMEM scrubbing to complete.
func (f *Falcon) Reset() (err error) {
	glog.V(1).Infof("%v reset (%d)", f.ID, f.ResetType)

	switch f.ResetType {
	case ResetEngine:
		if err = f.Modify(ENGINE, func(v *uint32) { bits.Set(v, ENGINE_RESET) }); err != nil {
			return
		}

		if err = f.Modify(ENGINE, func(v *uint32) { bits.Clear(v, ENGINE_RESET) }); err != nil {
			return
		}
	default:
		if err = f.Modify(CPUCTL, func(v *uint32) { bits.Set(v, CPUCTL_HRESET) }); err != nil {
			return
		}
	}

	return f.WaitReset()
}

// WaitReset polls for the falcon halt and then for scrub completion.
func (f *Falcon) WaitReset() (err error) {
	if err = f.Poll(CPUCTL, 1<<CPUCTL_HALTED, 1<<CPUCTL_HALTED); err != nil {
		return
	}

	scrubbing := uint32(1<<DMACTL_DMEM_SCRUBBING | 1<<DMACTL_IMEM_SCRUBBING)

	return f.Poll(DMACTL, scrubbing, 0)
}
