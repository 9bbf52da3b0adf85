// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package acr implements the secure boot engine which authenticates the
// falcon images staged in the write-protected region and bootstraps them
// into light-secure mode.
package acr

import (
	"time"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/hal"
	"github.com/usbarmory/armory-acr/internal/sig"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

// Chip represents the capabilities of a hardware generation.
type Chip interface {
	falcon.RegisterMap
	falcon.ProcessorConfig

	// MMU returns the memory controller layout and WPR lock policy.
	MMU() *wpr.MMU
	// IDRegister returns the address of the chip identification
	// register.
	IDRegister() uint32
	// Supported returns whether the identification register value
	// matches the hardware generation.
	Supported(id uint32) bool
}

// Config represents the boot engine configuration.
type Config struct {
	// Self is the falcon executing the engine.
	Self falcon.ID

	// Timeout is the budget of every hardware poll.
	Timeout time.Duration

	// ChunkSize is the transfer size for staging, hashing and scrubbing.
	ChunkSize int

	// VerifyOwner adds the bootstrap owner to the authenticated images.
	VerifyOwner bool

	Keys   *sig.Keyring
	Engine sig.Engine
}

// DefaultConfig returns the configuration of an engine running on SEC2.
func DefaultConfig() *Config {
	return &Config{
		Self:        falcon.SEC2,
		Timeout:     hal.DefaultTimeout,
		ChunkSize:   wpr.ChunkSize,
		VerifyOwner: true,
		Keys:        &sig.Keyring{},
		Engine:      sig.Software{},
	}
}

// Context represents the state of a single boot attempt, its buffers are
// reused across images.
type Context struct {
	Config *Config
	Chip   Chip
	Bus    hal.Bus
	Clock  hal.Clock
	DMA    dma.Transport

	// Desc is the boot descriptor.
	Desc api.Descriptor
	// Dir is the local copy of the WPR directory.
	Dir api.Directory
	// LSB is the metadata of the image being processed.
	LSB api.LSBHeader
	// WPR holds the protected region coordinates.
	WPR *dma.Properties

	engine   *falcon.Engine
	verifier *sig.Verifier
	scrubber *wpr.Scrubber

	// directory indexes of the images to bootstrap
	pending []int
	// falcon of the image being processed
	current uint32
	locked  bool
}

// New returns a boot context.
func New(conf *Config, chip Chip, bus hal.Bus, clk hal.Clock, t dma.Transport) *Context {
	if conf == nil {
		conf = DefaultConfig()
	}

	if conf.Keys == nil {
		conf.Keys = &sig.Keyring{}
	}

	return &Context{
		Config:   conf,
		Chip:     chip,
		Bus:      bus,
		Clock:    clk,
		DMA:      t,
		scrubber: wpr.NewScrubber(conf.ChunkSize),
		current:  api.InvalidFalconID,
	}
}

// self returns an accessor for the executing falcon.
func (c *Context) self() (*falcon.Falcon, error) {
	e := &falcon.Engine{
		Processors: c.Chip,
		Regs:       c.Chip,
		Bus:        c.Bus,
		Clock:      c.Clock,
		Timeout:    c.Config.Timeout,
		Self:       c.Config.Self,
	}

	return e.Falcon(c.Config.Self)
}
