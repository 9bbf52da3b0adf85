// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && arm

package main

import (
	"flag"
	"log"

	"github.com/usbarmory/armory-acr/assets"
)

// initialized at link time (-ldflags -X)
var Build string
var Revision string

func init() {
	log.SetFlags(0)

	// the console is the only log sink
	flag.Set("logtostderr", "true")

	assets.Revision = Revision
}
