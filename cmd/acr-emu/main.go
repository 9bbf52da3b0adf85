// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// acr-emu runs the secure boot engine against the simulated GPU on a bundle
// produced by acr-sign, reporting the outcome of the boot attempt.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/acr"
	"github.com/usbarmory/armory-acr/internal/chip/tu10x"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/image"
	"github.com/usbarmory/armory-acr/internal/sig"
	"github.com/usbarmory/armory-acr/internal/sim"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

const usage = `Usage: acr-emu [OPTIONS] BUNDLE
  -h    show this help

  -m uint
        simulated memory size (default 0x1000000)
  -w uint
        WPR base address (default 0x800000)
  -s uint
        WPR size (default 0x400000)
  -a uint
        ucode blob host address (default 0x100000)
  -r string
        boot report output (protobuf wire format)
  -owner
        authenticate the bootstrap owner image (default true)
`

// boot descriptor host address
const descAddr = 0x1000

type Config struct {
	memSize  uint64
	wprBase  uint64
	wprSize  uint64
	blobAddr uint64
	report   string
	owner    bool
}

var conf *Config

func init() {
	conf = &Config{}

	flag.Usage = func() {
		fmt.Print(usage)
	}

	flag.Uint64Var(&conf.memSize, "m", 0x1000000, "simulated memory size")
	flag.Uint64Var(&conf.wprBase, "w", 0x800000, "WPR base address")
	flag.Uint64Var(&conf.wprSize, "s", 0x400000, "WPR size")
	flag.Uint64Var(&conf.blobAddr, "a", 0x100000, "ucode blob host address")
	flag.StringVar(&conf.report, "r", "", "boot report output")
	flag.BoolVar(&conf.owner, "owner", true, "authenticate the bootstrap owner image")
}

func keys(b *image.Bundle) (k *sig.Keyring, err error) {
	k = &sig.Keyring{}

	if len(b.Production) > 0 {
		if k.Production, err = image.ParsePublicPEM(b.Production); err != nil {
			return
		}
	}

	if len(b.Debug) > 0 {
		if k.Debug, err = image.ParsePublicPEM(b.Debug); err != nil {
			return
		}
	}

	// missing keys fall back to the embedded ones
	k.Init()

	return
}

func load(p string) (g *sim.GPU, k *sig.Keyring, err error) {
	buf, err := os.ReadFile(p)

	if err != nil {
		return
	}

	b, err := image.Extract(buf)

	if err != nil {
		return
	}

	switch {
	case conf.wprBase%wpr.RegionAlign != 0 || conf.wprSize%wpr.RegionAlign != 0 || conf.wprSize == 0:
		return nil, nil, fmt.Errorf("WPR %#x+%#x is not page aligned", conf.wprBase, conf.wprSize)
	case conf.wprBase+conf.wprSize > conf.memSize:
		return nil, nil, fmt.Errorf("WPR %#x+%#x exceeds memory size", conf.wprBase, conf.wprSize)
	case conf.blobAddr+uint64(len(b.Blob)) > conf.memSize:
		return nil, nil, fmt.Errorf("blob at %#x exceeds memory size", conf.blobAddr)
	}

	if g, err = sim.New(int(conf.memSize), falcon.SEC2); err != nil {
		return
	}

	g.SetWPR(1, conf.wprBase, conf.wprBase+conf.wprSize, falcon.Level3, falcon.Level3)
	g.Load(conf.blobAddr, b.Blob)

	b.Descriptor.UcodeBlobBase = conf.blobAddr
	g.Descriptor(descAddr, &b.Descriptor)

	k, err = keys(b)

	return
}

func show(rep *api.Report, g *sim.GPU) {
	self := g.Falcons[falcon.SEC2]

	fmt.Printf("status:    %v (%#x)\n", status.Status(rep.Status), rep.Status)
	fmt.Printf("aux:       %#x\n", rep.Aux)
	fmt.Printf("mailbox:   %#x %#x\n", self.Reg(tu10x.FALCON_MAILBOX0), self.Reg(tu10x.FALCON_MAILBOX1))
	fmt.Printf("revision:  %s\n", rep.Revision)
	fmt.Printf("transfers: %d\n", g.Transfers)

	for _, img := range rep.Images {
		fmt.Printf("  %-8v %s\n", falcon.ID(img.FalconID), img.StatusName())
	}
}

func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	g, k, err := load(flag.Arg(0))

	if err != nil {
		glog.Exitf("could not load bundle, %v", err)
	}

	c := acr.DefaultConfig()
	c.Keys = k
	c.VerifyOwner = conf.owner

	ctx := acr.New(c, tu10x.Chip{}, g, g, g.DMA())
	err = ctx.Run(descAddr)

	rep := ctx.Report(err)
	show(rep, g)

	if len(conf.report) > 0 {
		if werr := os.WriteFile(conf.report, rep.Bytes(), 0600); werr != nil {
			glog.Exit(werr)
		}
	}

	if err != nil {
		glog.Flush()
		os.Exit(1)
	}
}
