// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package acr

import (
	"errors"

	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/assets"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/sig"
	"github.com/usbarmory/armory-acr/internal/status"
)

// Run executes a boot attempt with the descriptor found at host physical
// address desc.
//
// The status mailbox holds status.StartedNotFinished for the whole attempt
// and the final status afterwards, the auxiliary mailbox holds the falcon
// of the failing image, or the status of a failed scrub. A status mailbox
// found holding the sentinel indicates a concurrent attempt, which is
// rejected without any further hardware access.
func (c *Context) Run(desc uint64) (err error) {
	self, err := c.self()

	if err != nil {
		return
	}

	mb, err := self.Read(falcon.MAILBOX0)

	if err != nil {
		return
	}

	if status.Status(mb) == status.StartedNotFinished {
		return status.Errorf(status.InvalidOperation, "boot already in progress")
	}

	if err = self.Write(falcon.MAILBOX0, uint32(status.StartedNotFinished)); err != nil {
		return
	}

	defer func() {
		if err != nil {
			glog.Errorf("boot failed, %v", err)

			// best effort, the failure is already reported
			c.lockdown()
		}

		rep := c.Report(err)

		if werr := self.Write(falcon.MAILBOX1, rep.Aux); werr != nil {
			glog.Errorf("could not report aux %#x, %v", rep.Aux, werr)
		}

		if werr := self.Write(falcon.MAILBOX0, rep.Status); werr != nil {
			glog.Errorf("could not report status %#x, %v", rep.Status, werr)
		}
	}()

	if err = c.readDescriptor(desc); err != nil {
		return
	}

	id, err := c.Bus.Read(hal.PRIV, c.Chip.IDRegister())

	if err != nil {
		return
	}

	if !c.Chip.Supported(id) {
		return status.Errorf(status.InvalidChipID, "unsupported chip %#x", id)
	}

	if err = c.validateDescriptor(); err != nil {
		return
	}

	if err = c.Bootstrap(); err != nil {
		return
	}

	glog.Infof("boot complete")

	return
}

func (c *Context) readDescriptor(addr uint64) (err error) {
	if addr%api.DescriptorAlign != 0 {
		return status.Errorf(status.InvalidArgument, "misaligned descriptor %#x", addr)
	}

	cfg, err := c.Chip.Config(c.Config.Self)

	if err != nil {
		return
	}

	buf := make([]byte, api.DescriptorSize)

	if err = c.DMA.Read(cfg.CtxDMA, addr, buf); err != nil {
		return status.Errorf(status.DmaFailure, "descriptor read, %v", err)
	}

	return c.Desc.Unmarshal(buf)
}

// Report summarizes the outcome of a boot attempt.
func (c *Context) Report(err error) (rep *api.Report) {
	rep = &api.Report{
		Status:   uint32(status.Of(err)),
		Revision: assets.Revision,
	}

	var scrubErr *sig.ScrubError

	switch {
	case err == nil:
	case errors.As(err, &scrubErr):
		rep.Aux = uint32(status.Of(scrubErr.Scrub))
	default:
		rep.Aux = c.current
	}

	for i := 0; i < c.Dir.Live(); i++ {
		rep.Images = append(rep.Images, api.ImageReport{
			FalconID: c.Dir[i].FalconID,
			Status:   c.Dir[i].Status,
		})
	}

	return
}
