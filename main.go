// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	"log"
	"runtime"
	"time"

	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/internal/acr"
	"github.com/usbarmory/armory-acr/internal/chip/tu10x"
	"github.com/usbarmory/armory-acr/internal/sig"
	"github.com/usbarmory/armory-acr/internal/status"
)

func halt() {
	glog.Flush()

	for {
		runtime.Gosched()
		time.Sleep(1 * time.Second)
	}
}

func main() {
	log.Printf("armory-acr %s (%s)", Revision, Build)

	if !sig.Enabled {
		log.Printf("WARNING: ucode signature verification disabled")
	}

	conf := acr.DefaultConfig()
	chip := tu10x.Chip{}

	self, err := chip.Config(conf.Self)

	if err != nil {
		log.Printf("invalid configuration, %v", err)
		halt()
	}

	fb, err := newWindow(fbStart, fbSize)

	if err != nil {
		log.Printf("could not map memory window, %v", err)
		halt()
	}

	bus := &mmio{
		base: regStart,
		size: regSize,
		self: self.Base,
	}

	ctx := acr.New(conf, chip, bus, &counter{start: time.Now()}, fb)

	if err = ctx.Run(descAddr); err != nil {
		log.Printf("boot failed, %v (status:%#x)", err, uint32(status.Of(err)))
	} else {
		log.Printf("boot complete, %d images", len(ctx.Report(nil).Images))
	}

	halt()
}
