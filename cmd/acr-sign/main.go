// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"crypto/rsa"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/assets"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/image"
	"github.com/usbarmory/armory-acr/internal/sig"
)

type Config struct {
	prodKey  string
	debugKey string
	owner    string
	debug    bool
	output   string

	fixup   string
	prodPub string
}

var conf *Config

func init() {
	conf = &Config{}

	flag.Usage = func() {
		fmt.Print(usage)
	}

	flag.StringVar(&conf.prodKey, "k", "", "production signing key in PEM format")
	flag.StringVar(&conf.debugKey, "d", "", "debug signing key in PEM format")
	flag.StringVar(&conf.owner, "O", "SEC2", "bootstrap owner")
	flag.BoolVar(&conf.debug, "D", false, "debug board mode")
	flag.StringVar(&conf.output, "o", "", "output file")

	flag.StringVar(&conf.fixup, "fixup", "", "firmware binary to patch with the production public key")
	flag.StringVar(&conf.prodPub, "p", "", "production public key in PEM format")
}

func loadKey(p string) *rsa.PrivateKey {
	if len(p) == 0 {
		return nil
	}

	key, err := image.LoadKey(p)

	if err != nil {
		glog.Exitf("could not load %s, %v", p, err)
	}

	return key
}

func publicPEM(key *rsa.PrivateKey) []byte {
	if key == nil {
		return nil
	}

	buf, err := image.PublicPEM(&key.PublicKey)

	if err != nil {
		glog.Exit(err)
	}

	return buf
}

func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	if len(conf.fixup) > 0 {
		fixup()
		return
	}

	sign()
}

func fixup() {
	var key *sig.Key
	var err error

	switch {
	case len(conf.prodPub) > 0:
		buf, err := os.ReadFile(conf.prodPub)

		if err != nil {
			glog.Exit(err)
		}

		if key, err = image.ParsePublicPEM(buf); err != nil {
			glog.Exitf("could not parse %s, %v", conf.prodPub, err)
		}
	case len(conf.prodKey) > 0:
		key = image.PublicKey(&loadKey(conf.prodKey).PublicKey)
	default:
		glog.Exit("-fixup requires a production key (-p or -k)")
	}

	if key.Exponent != assets.DefaultExponent {
		glog.Exitf("unsupported exponent %d", key.Exponent)
	}

	fw, err := os.ReadFile(conf.fixup)

	if err != nil {
		glog.Exit(err)
	}

	fw = fixupModulus(fw, key.Modulus)

	out := conf.output

	if len(out) == 0 {
		out = conf.fixup
	}

	if err = os.WriteFile(out, fw, 0600); err != nil {
		glog.Exit(err)
	}

	glog.Infof("production modulus set in %s", out)
}

func sign() {
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	owner, err := falcon.ParseID(conf.owner)

	if err != nil {
		glog.Exit(err)
	}

	var images []*image.Image

	for _, arg := range flag.Args() {
		img, err := parseImage(arg)

		if err != nil {
			glog.Exit(err)
		}

		glog.Infof("%v code:%d data:%d bl-code:%d bl-data:%d flags:%#x", falcon.ID(img.FalconID),
			len(img.Code), len(img.Data), len(img.BLCode), len(img.BLData), img.Flags)

		images = append(images, img)
	}

	s := &image.Signer{
		Production: loadKey(conf.prodKey),
		Debug:      loadKey(conf.debugKey),
	}

	if s.Production == nil && s.Debug == nil {
		glog.Warning("no signing key, signatures left blank")
	}

	blob, err := image.Build(images, s)

	if err != nil {
		glog.Exit(err)
	}

	b := &image.Bundle{
		Blob: blob.Buf,
		Descriptor: api.Descriptor{
			UcodeBlobSize: blob.Size(),
			OwnerID:       uint32(owner),
		},
		Production: publicPEM(s.Production),
		Debug:      publicPEM(s.Debug),
	}

	if conf.debug {
		b.Descriptor.BoardMode |= api.BoardModeDebug
	}

	buf, err := b.Bytes()

	if err != nil {
		glog.Exit(err)
	}

	out := conf.output

	if len(out) == 0 {
		out = defaultBundle
	}

	if err = os.WriteFile(out, buf, 0600); err != nil {
		glog.Exit(err)
	}

	glog.Infof("%d images, blob size %#x, bundle written to %s", len(images), blob.Size(), out)
}
