// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package falcon

import (
	"time"

	"github.com/golang/glog"
	"github.com/usbarmory/tamago/bits"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/hal"
)

// Engine drives falcons through the Locked, TargetSetup, Authorize, Load and
// Finalize states.
type Engine struct {
	Processors ProcessorConfig
	Regs       RegisterMap
	Bus        hal.Bus
	Clock      hal.Clock
	Timeout    time.Duration

	// Self is the falcon running the engine.
	Self ID
	// Owner is the bootstrap owner.
	Owner ID

	DMA dma.Transport
	WPR *dma.Properties

	// REQUIRE_CTX on Self is applied only once all its own loads are
	// complete
	pendingCtx bool
}

// Falcon returns an accessor for falcon id.
func (e *Engine) Falcon(id ID) (f *Falcon, err error) {
	cfg, err := e.Processors.Config(id)

	if err != nil {
		return
	}

	timeout := e.Timeout

	if timeout == 0 {
		timeout = hal.DefaultTimeout
	}

	f = &Falcon{
		Config:  cfg,
		Self:    id == e.Self,
		Regs:    e.Regs,
		Bus:     e.Bus,
		Clock:   e.Clock,
		Timeout: timeout,
	}

	return
}

// Reset resets falcon id, the bootstrap owner and the executing falcon are
// never reset as they cannot be halted from within the boot flow.
func (e *Engine) Reset(id ID) (err error) {
	if id == e.Owner || id == e.Self {
		return
	}

	f, err := e.Falcon(id)

	if err != nil {
		return
	}

	return f.Reset()
}

// Bootstrap loads and authorizes the image described by LSB header h on the
// falcon of directory entry wh, whose status is set to bootstrap ready on
// success.
func (e *Engine) Bootstrap(wh *api.WPRHeader, h *api.LSBHeader) (err error) {
	id := ID(wh.FalconID)
	f, err := e.Falcon(id)

	if err != nil {
		return
	}

	// Locked
	if id != e.Owner && !f.LockExempt && !f.Self {
		var unlock func() error

		if unlock, err = f.Lock(e.Self); err != nil {
			return
		}

		defer func() {
			if uerr := unlock(); err == nil {
				err = uerr
			}
		}()
	}

	// TargetSetup
	if id != e.Owner {
		if err = f.SetupPLM(); err != nil {
			return
		}

		if !f.Self {
			if err = f.Reset(); err != nil {
				return
			}
		}
	}

	// Authorize
	if err = f.Authorize(); err != nil {
		return
	}

	// Load
	bootvec, err := f.Load(e.DMA, e.WPR, h)

	if err != nil {
		return
	}

	// Finalize
	if err = e.finalize(f, h, bootvec); err != nil {
		return
	}

	wh.Status = api.ImageStatusBootstrapReady

	glog.Infof("%v bootstrap ready, bootvec:%#x", id, bootvec)

	return
}

func (e *Engine) finalize(f *Falcon, h *api.LSBHeader, bootvec uint32) (err error) {
	if err = f.Write(BOOTVEC, bootvec); err != nil {
		return
	}

	memType := uint32(TRANSCFG_MEM_TYPE_PHYS)

	if h.Flags&api.FlagSetVACtx != 0 {
		memType = TRANSCFG_MEM_TYPE_VIRT
	}

	err = f.ModifyIdx(TRANSCFG, f.CtxDMA, func(v *uint32) {
		bits.SetN(v, TRANSCFG_MEM_TYPE, 1, memType)
	})

	if err != nil || h.Flags&api.FlagRequireCtx == 0 {
		return
	}

	if f.Self {
		e.pendingCtx = true
		return
	}

	return f.Modify(DMACTL, func(v *uint32) { bits.Set(v, DMACTL_REQUIRE_CTX) })
}

// Complete applies the settings deferred until every image has been loaded.
func (e *Engine) Complete() (err error) {
	if !e.pendingCtx {
		return
	}

	f, err := e.Falcon(e.Self)

	if err != nil {
		return
	}

	if err = f.Modify(DMACTL, func(v *uint32) { bits.Set(v, DMACTL_REQUIRE_CTX) }); err != nil {
		return
	}

	e.pendingCtx = false

	return
}
