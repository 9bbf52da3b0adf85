// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package falcon

import (
	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/internal/status"
)

// Lock transfers the register space ownership token of the falcon to the
// source falcon, it returns a function which restores the previous owner.
//
// The restore function must be called on every exit path once Lock returned
// without error.
func (f *Falcon) Lock(source ID) (unlock func() error, err error) {
	prev, err := f.Read(TARGET_MASK)

	if err != nil {
		return
	}

	mask := uint32(1) << uint32(source)

	if err = f.Write(TARGET_MASK, mask); err != nil {
		return
	}

	if res, err := f.Read(TARGET_MASK); err != nil || res != mask {
		// best effort, the token is not ours
		f.Write(TARGET_MASK, prev)
		return nil, status.Errorf(status.LsBootFailAuth, "%v target mask readback, val:%#x res:%#x err:%v", f.ID, mask, res, err)
	}

	glog.V(1).Infof("%v locked to %v, prev:%#x", f.ID, source, prev)

	unlock = func() error {
		glog.V(1).Infof("%v unlocked, restoring %#x", f.ID, prev)
		return f.Write(TARGET_MASK, prev)
	}

	return
}
