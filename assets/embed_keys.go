// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux && ignore

package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path"
)

const DebugKeyFileName = "acr-debug.pem"
const ProductionKeyFileName = "acr-production.pem"

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stdout)
}

func load(p string, name string) (pub *rsa.PublicKey) {
	buf, err := os.ReadFile(path.Join(p, name))

	if err != nil {
		log.Fatal(err)
	}

	block, _ := pem.Decode(buf)

	if block == nil {
		log.Fatalf("failed to parse %s PEM", name)
	}

	k, err := x509.ParsePKIXPublicKey(block.Bytes)

	if err != nil {
		log.Fatal(err)
	}

	pub, ok := k.(*rsa.PublicKey)

	if !ok || pub.Size() != 384 {
		log.Fatalf("%s is not an RSA-3072 public key", name)
	}

	return
}

func main() {
	var debug, prod *rsa.PublicKey

	if p := os.Getenv("ACR_KEYS"); len(p) > 0 {
		debug = load(p, DebugKeyFileName)
		prod = load(p, ProductionKeyFileName)
	} else {
		log.Fatal("ACR_KEYS environment variable must be defined (see README.md)")
	}

	out, err := os.Create("tmp-keys.go")

	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	out.WriteString(`
package assets

func init() {
`)
	out.WriteString(fmt.Sprintf("\tDebugModulus = %#v\n", debug.N.FillBytes(make([]byte, 384))))
	out.WriteString(fmt.Sprintf("\tDebugExponent = %d\n", debug.E))
	out.WriteString(fmt.Sprintf("\tProductionModulus = %#v\n", prod.N.FillBytes(make([]byte, 384))))
	out.WriteString(fmt.Sprintf("\tProductionExponent = %d\n", prod.E))

	out.WriteString(`
}
`)
}
