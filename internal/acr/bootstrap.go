// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package acr

import (
	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/lockdown"
	"github.com/usbarmory/armory-acr/internal/sig"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

// ownerPresent returns whether the bootstrap owner has a live directory
// entry.
func (c *Context) ownerPresent(n int) bool {
	for i := 0; i < n; i++ {
		if c.Dir[i].FalconID == c.Desc.OwnerID {
			return true
		}
	}

	return false
}

func (c *Context) setup(m *wpr.MMU) (err error) {
	self, err := c.Chip.Config(c.Config.Self)

	if err != nil {
		return
	}

	if c.WPR, err = wpr.Locate(c.Bus, m, &c.Desc, self.CtxDMA); err != nil {
		return
	}

	c.engine = &falcon.Engine{
		Processors: c.Chip,
		Regs:       c.Chip,
		Bus:        c.Bus,
		Clock:      c.Clock,
		Timeout:    c.Config.Timeout,
		Self:       c.Config.Self,
		Owner:      falcon.ID(c.Desc.OwnerID),
		DMA:        c.DMA,
		WPR:        c.WPR,
	}

	return
}

// Bootstrap locates the WPR, stages the ucode blob, authenticates every live
// image and bootstraps the ones due for reset. The descriptor must have been
// validated.
func (c *Context) Bootstrap() (err error) {
	m := c.Chip.MMU()

	if err = c.setup(m); err != nil {
		return
	}

	if err = wpr.Stage(c.DMA, c.WPR, c.Desc.UcodeBlobBase, c.Desc.UcodeBlobSize, c.Config.ChunkSize); err != nil {
		return
	}

	if err = wpr.ReadDirectory(c.DMA, c.WPR, &c.Dir); err != nil {
		return
	}

	if !c.Dir.Terminated() {
		return status.Errorf(status.InvalidArgument, "unterminated WPR directory")
	}

	n := c.Dir.Live()
	owner := falcon.ID(c.Desc.OwnerID)
	present := c.ownerPresent(n)

	glog.Infof("%d images, owner %v (present:%v)", n, owner, present)

	if sig.Enabled {
		c.verifier = &sig.Verifier{
			Engine:      c.Config.Engine,
			Transport:   c.DMA,
			WPR:         c.WPR,
			Scrubber:    c.scrubber,
			Debug:       c.Desc.Debug(),
			Owner:       owner,
			VerifyOwner: c.Config.VerifyOwner,
			ChunkSize:   c.Config.ChunkSize,
		}

		c.Config.Keys.Init()

		if err = c.verifier.Init(c.Config.Keys); err != nil {
			return
		}
	}

	c.pending = c.pending[:0]

	for i := 0; i < n; i++ {
		if err = c.authenticate(i, m); err != nil {
			return
		}

		if c.Dir[i].LazyBootstrap != 0 && present {
			glog.Infof("%v bootstrap deferred to owner", falcon.ID(c.Dir[i].FalconID))
			continue
		}

		c.pending = append(c.pending, i)
	}

	c.current = api.InvalidFalconID

	if err = wpr.WriteDirectory(c.DMA, c.WPR, &c.Dir); err != nil {
		return
	}

	for _, i := range c.pending {
		c.current = c.Dir[i].FalconID

		if err = c.engine.Reset(falcon.ID(c.current)); err != nil {
			return
		}
	}

	for _, i := range c.pending {
		if err = c.readLSB(i); err != nil {
			return
		}

		if err = c.engine.Bootstrap(&c.Dir[i], &c.LSB); err != nil {
			return
		}
	}

	c.current = api.InvalidFalconID

	if err = c.engine.Complete(); err != nil {
		return
	}

	if err = c.lockdown(); err != nil {
		return
	}

	return wpr.WriteDirectory(c.DMA, c.WPR, &c.Dir)
}

// authenticate validates, protects and verifies the image of directory
// entry i.
func (c *Context) authenticate(i int, m *wpr.MMU) (err error) {
	if err = c.readLSB(i); err != nil {
		return
	}

	cfg, err := c.Chip.Config(falcon.ID(c.Dir[i].FalconID))

	if err != nil {
		return
	}

	if err = wpr.ProgramSubWPR(c.Bus, m, cfg, c.engine.Owner, c.WPR, &c.LSB); err != nil {
		return
	}

	if c.verifier == nil {
		return
	}

	return c.verifier.Verify(&c.Dir[i], &c.LSB, &c.Dir)
}

// lockdown applies the final privilege lockdown, once.
func (c *Context) lockdown() error {
	if c.locked {
		return nil
	}

	c.locked = true

	self, err := c.self()

	if err != nil {
		return err
	}

	return lockdown.Apply(c.Bus, self, c.Chip.MMU())
}
