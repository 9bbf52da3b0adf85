// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

// ucode image directory layout
const (
	blCodePath = "bl-code.bin"
	blDataPath = "bl-data.bin"
	codePath   = "code.bin"
	dataPath   = "data.bin"
)

const defaultBundle = "acr-bundle.zip"

const usage = `Usage: acr-sign [OPTIONS] FALCON:DIR[:OPTION,...]...
  -h    show this help

  -k string
        production signing key in PEM format
  -d string
        debug signing key in PEM format
  -O string
        bootstrap owner (default "SEC2")
  -D    debug board mode
  -o string
        output bundle (default "acr-bundle.zip")

  -fixup string
        firmware binary to patch with the production public key
  -p string
        production public key in PEM format (-fixup only, default derived from -k)

Every image directory holds code.bin, data.bin and optionally bl-code.bin,
bl-data.bin. Image options:

  lazy             bootstrap deferred to the owner
  load-at-zero     boot-loader loaded at IMEM offset 0
  require-ctx      context DMA required after load
  priv-load        application loaded through the memory ports
  va-ctx           virtual addressing context
  bl-offset=N      boot-loader IMEM link offset
  version=N        ucode version
  id=N             ucode id
  dep=FALCON@N     dependency on FALCON version N (repeatable)

Example:

  acr-sign -k prod.pem -d debug.pem FECS:./fecs:require-ctx GPCCS:./gpccs:dep=FECS@1
`
