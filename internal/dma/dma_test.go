// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma_test

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/dma/mock_dma"
	"github.com/usbarmory/armory-acr/internal/status"
)

func TestPropertiesRange(t *testing.T) {
	p := &dma.Properties{Base: 0x100000, Size: 0x2000, RegionID: 1, CtxDMA: 3}

	for _, tc := range []struct {
		off, size uint64
		want      bool
	}{
		{0, 0x2000, true},
		{0x1f00, 0x100, true},
		{0x1f00, 0x101, false},
		{0x2000, 0, true},
		{0xffffffffffffff00, 0x200, false},
	} {
		if got := p.Contains(tc.off, tc.size); got != tc.want {
			t.Errorf("Contains(%#x, %#x) = %v, want %v", tc.off, tc.size, got, tc.want)
		}
	}
}

func TestPropertiesAccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_dma.NewMockTransport(ctrl)
	p := &dma.Properties{Base: 0x100000, Size: 0x2000, RegionID: 1, CtxDMA: 3}
	buf := make([]byte, 0x100)

	tr.EXPECT().Read(3, uint64(0x100100), buf).Return(nil)
	tr.EXPECT().Write(3, uint64(0x100200), buf).Return(errors.New("fault"))

	if err := p.Read(tr, 0x100, buf); err != nil {
		t.Errorf("Read() = %v", err)
	}

	if err := p.Write(tr, 0x200, buf); !errors.Is(err, status.DmaFailure) {
		t.Errorf("Write() = %v, want %v", err, status.DmaFailure)
	}

	// out of range accesses never reach the transport
	if err := p.Read(tr, 0x1f80, buf); !errors.Is(err, status.DmaFailure) {
		t.Errorf("Read() = %v, want %v", err, status.DmaFailure)
	}
}

func TestAlign(t *testing.T) {
	if got := dma.AlignUp(0x101, dma.BlockSize); got != 0x200 {
		t.Errorf("AlignUp(0x101) = %#x, want 0x200", got)
	}

	if got := dma.AlignUp(0x200, dma.BlockSize); got != 0x200 {
		t.Errorf("AlignUp(0x200) = %#x, want 0x200", got)
	}

	if dma.Aligned(0x180) || !dma.Aligned(0x300) {
		t.Error("Aligned() misclassifies block boundaries")
	}
}
