// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package lockdown restricts the executing falcon memories and protected
// sub-regions to level 3 access once the boot flow is over.
package lockdown

import (
	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

func lock(bus hal.Bus, name string, t hal.Target, addr uint32, off int, size int, val uint32) (err error) {
	glog.Infof("locking %s target:%v addr:%#x off:%d size:%d val:%#x", name, t, addr, off, size, val)

	mask := 1<<size - 1

	v, err := bus.Read(t, addr)

	if err != nil {
		return status.Errorf(status.LsBootFailAuth, "%s read, %v", name, err)
	}

	bits.SetN(&v, off, mask, val)

	if err = bus.Write(t, addr, v); err != nil {
		return status.Errorf(status.LsBootFailAuth, "%s write, %v", name, err)
	}

	if res, err := bus.Read(t, addr); err != nil || bits.Get(&res, off, mask) != val {
		return status.Errorf(status.LsBootFailAuth, "readback error for %s, val:%#x res:%#x err:%v", name, val, res, err)
	}

	return
}

// Apply locks the IMEM and DMEM of the executing falcon and the sub-WPR
// slots reserved to it to level 3 only access, verifying every write by
// readback. Slots assigned to LS images are never touched.
//
// All registers are attempted even after a failure, the first error is
// returned.
func Apply(bus hal.Bus, self *falcon.Falcon, m *wpr.MMU) (err error) {
	level3 := falcon.PLM(falcon.Level3, falcon.Level3)

	keep := func(e error) {
		if e != nil {
			glog.Warningf("lockdown, %v", e)

			if err == nil {
				err = e
			}
		}
	}

	for _, r := range []falcon.Reg{falcon.IMEM_PLM, falcon.DMEM_PLM} {
		t, addr, e := self.Regs.Resolve(self.Config, true, r, 0)

		if e != nil {
			keep(e)
			continue
		}

		keep(lock(bus, r.String(), t, addr, falcon.PLM_READ, 8, level3))
	}

	for _, slot := range m.Lockdown {
		if slot < 0 || slot >= m.Slots || slot == self.CodeSlot || slot == self.DataSlot {
			keep(status.Errorf(status.LsBootFailAuth, "invalid sub-WPR slot %d", slot))
			continue
		}

		cfga, cfgb := m.Slot(slot)

		keep(lock(bus, "SUB_WPR_CFGA", hal.PRIV, cfga, wpr.SUB_WPR_PLM, 4, falcon.Level3))
		keep(lock(bus, "SUB_WPR_CFGB", hal.PRIV, cfgb, wpr.SUB_WPR_PLM, 4, falcon.Level3))
	}

	return
}
