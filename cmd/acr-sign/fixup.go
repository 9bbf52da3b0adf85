// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"bytes"

	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/assets"
)

func fixupModulus(buf []byte, modulus []byte) []byte {
	dummyModulus := assets.DummyModulus()

	if !bytes.Contains(buf, dummyModulus) {
		glog.Exit("could not locate dummy production modulus")
	}

	buf = bytes.ReplaceAll(buf, dummyModulus, modulus)

	if bytes.Contains(buf, dummyModulus) || !bytes.Contains(buf, modulus) {
		glog.Exit("could not set production modulus")
	}

	return buf
}
