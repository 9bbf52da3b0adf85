// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wpr

import (
	"fmt"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/status"
)

// ChunkSize is the default staging transfer size.
const ChunkSize = 4096

// Stage copies size bytes of ucode blob from the unprotected address src to
// the start of the WPR. The next chunk is read while the previous one is
// written.
//
// A zero size signals an unchanged blob retained across power-down and is
// not an error.
func Stage(t dma.Transport, p *dma.Properties, src uint64, size uint32, chunk int) (err error) {
	if size == 0 {
		glog.Infof("ucode blob unchanged, staging skipped")
		return
	}

	if src == 0 {
		return status.Errorf(status.InvalidArgument, "missing ucode blob source")
	}

	if chunk <= 0 {
		chunk = ChunkSize
	}

	bufs := [2][]byte{
		make([]byte, chunk),
		make([]byte, chunk),
	}

	next := func(off uint32) int {
		if rem := size - off; rem < uint32(chunk) {
			return int(rem)
		}

		return chunk
	}

	read := func(off uint32, buf []byte) error {
		if err := t.Read(p.CtxDMA, src+uint64(off), buf); err != nil {
			return status.Errorf(status.DmaFailure, "staging read %#x, %v", src+uint64(off), err)
		}

		return nil
	}

	glog.V(1).Infof("staging %#x bytes from %#x to %#x", size, src, p.Base)

	cur := bufs[0][:next(0)]

	if err = read(0, cur); err != nil {
		return
	}

	for off, i := uint32(0), 1; off < size; i++ {
		g := new(errgroup.Group)
		wOff, wBuf := off, cur

		g.Go(func() error {
			return p.Write(t, uint64(wOff), wBuf)
		})

		off += uint32(len(cur))

		if off < size {
			cur = bufs[i%2][:next(off)]
			rOff, rBuf := off, cur

			g.Go(func() error {
				return read(rOff, rBuf)
			})
		}

		if err = g.Wait(); err != nil {
			return fmt.Errorf("staging, %w", err)
		}
	}

	return
}
