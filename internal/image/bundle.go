// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package image

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/usbarmory/armory-acr/api"
)

const (
	BlobPath       = "acr-blob.bin"
	DescriptorPath = "acr-descriptor.bin"
	DebugPath      = "acr-debug.pem"
	ProductionPath = "acr-production.pem"
)

// Bundle represents the files handed over to the host driver, the descriptor
// ucode blob base is set by the host once the blob is placed in memory.
type Bundle struct {
	Blob       []byte
	Descriptor api.Descriptor

	// public keys in PEM format, optional
	Debug      []byte
	Production []byte
}

func open(reader *zip.Reader, p string) (buf []byte, err error) {
	f, err := reader.Open(p)

	if err != nil {
		return
	}
	defer f.Close()

	return io.ReadAll(f)
}

// Extract parses a zip bundle.
func Extract(buf []byte) (b *Bundle, err error) {
	r := bytes.NewReader(buf)

	reader, err := zip.NewReader(r, r.Size())

	if err != nil {
		return
	}

	b = &Bundle{}

	if b.Blob, err = open(reader, BlobPath); err != nil {
		return nil, fmt.Errorf("could not open %s, %v", BlobPath, err)
	}

	if len(b.Blob) == 0 {
		return nil, fmt.Errorf("could not open %s, empty file", BlobPath)
	}

	desc, err := open(reader, DescriptorPath)

	if err != nil {
		return nil, fmt.Errorf("could not open %s, %v", DescriptorPath, err)
	}

	if err = b.Descriptor.Unmarshal(desc); err != nil {
		return nil, fmt.Errorf("could not parse %s, %v", DescriptorPath, err)
	}

	// keys are optional
	b.Debug, _ = open(reader, DebugPath)
	b.Production, _ = open(reader, ProductionPath)

	return
}

// Bytes encodes the bundle as a zip archive.
func (b *Bundle) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	var files = []struct {
		Name string
		Body []byte
	}{
		{BlobPath, b.Blob},
		{DescriptorPath, b.Descriptor.Bytes()},
		{DebugPath, b.Debug},
		{ProductionPath, b.Production},
	}

	for _, file := range files {
		if len(file.Body) == 0 {
			continue
		}

		f, err := w.Create(file.Name)

		if err != nil {
			return nil, err
		}

		if _, err = f.Write(file.Body); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
