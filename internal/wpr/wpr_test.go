// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package wpr_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/chip/tu10x"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/dma/mock_dma"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/sim"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

const (
	locked = falcon.Level3
	open   = falcon.LevelAll
)

func newGPU(t *testing.T) *sim.GPU {
	t.Helper()

	g, err := sim.New(0x400000, falcon.SEC2)

	if err != nil {
		t.Fatal(err)
	}

	return g
}

func TestLocate(t *testing.T) {
	type region struct {
		start, end  uint64
		read, write uint32
	}

	for _, tc := range []struct {
		desc    string
		regions []region
		desc0   api.Descriptor
		want    *dma.Properties
		wantErr error
	}{
		{
			desc: "first locked region",
			regions: []region{
				{0x100000, 0x140000, locked, locked},
				{0x200000, 0x240000, locked, locked},
			},
			desc0: api.Descriptor{UcodeBlobSize: 0x10000},
			want:  &dma.Properties{Base: 0x100000, Size: 0x40000, RegionID: 1, CtxDMA: 6},
		},
		{
			desc: "second region when the first is open",
			regions: []region{
				{0x100000, 0x140000, open, open},
				{0x200000, 0x202000, falcon.Level2 | falcon.Level3, locked},
			},
			desc0: api.Descriptor{UcodeBlobSize: 0x2000},
			want:  &dma.Properties{Base: 0x200000, Size: 0x2000, RegionID: 2, CtxDMA: 6},
		},
		{
			desc: "write mask not exact",
			regions: []region{
				{0x100000, 0x140000, locked, falcon.Level2 | falcon.Level3},
			},
			wantErr: status.NoWpr,
		},
		{
			desc: "read mask above ceiling",
			regions: []region{
				{0x100000, 0x140000, open, locked},
			},
			wantErr: status.NoWpr,
		},
		{
			desc: "blob larger than region",
			regions: []region{
				{0x100000, 0x101000, locked, locked},
			},
			desc0:   api.Descriptor{UcodeBlobSize: 0x1001},
			wantErr: status.NoWpr,
		},
		{
			desc: "populated table selects another region",
			regions: []region{
				{0x100000, 0x140000, locked, locked},
			},
			desc0: api.Descriptor{
				WPRRegionID: 2,
				Regions:     api.RegionTable{NoRegions: 2},
			},
			wantErr: status.InvalidRegion,
		},
		{
			desc: "populated table selects the match",
			regions: []region{
				{0x100000, 0x140000, locked, locked},
			},
			desc0: api.Descriptor{
				WPRRegionID: 1,
				Regions:     api.RegionTable{NoRegions: 2},
			},
			want: &dma.Properties{Base: 0x100000, Size: 0x40000, RegionID: 1, CtxDMA: 6},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			g := newGPU(t)

			for i, r := range tc.regions {
				g.SetWPR(i+1, r.start, r.end, r.read, r.write)
			}

			d := tc.desc0
			p, err := wpr.Locate(g, tu10x.Chip{}.MMU(), &d, 6)

			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Locate() err = %v, want %v", err, tc.wantErr)
			}

			if diff := cmp.Diff(tc.want, p); diff != "" {
				t.Errorf("Locate() mismatch (-want +got):\n%s", diff)
			}

			if err != nil || tc.desc0.Regions.NoRegions != 0 {
				return
			}

			if d.Regions.NoRegions != api.MaxRegions || d.WPRRegionID != p.RegionID {
				t.Errorf("descriptor table not populated, regions:%d id:%d", d.Regions.NoRegions, d.WPRRegionID)
			}

			if got := d.Regions.Props[p.RegionID-1].StartAddr; got != p.Base {
				t.Errorf("descriptor region start = %#x, want %#x", got, p.Base)
			}
		})
	}
}

func TestStage(t *testing.T) {
	g := newGPU(t)
	p := &dma.Properties{Base: 0x200000, Size: 0x10000, RegionID: 1, CtxDMA: 6}

	blob := make([]byte, 0x2345)

	for i := range blob {
		blob[i] = byte(i * 13)
	}

	g.Load(0x10000, blob)

	if err := wpr.Stage(g.DMA(), p, 0x10000, uint32(len(blob)), 0x1000); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(g.Mem[p.Base:p.Base+uint64(len(blob))], blob) {
		t.Error("staged blob mismatch")
	}
}

func TestStageSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_dma.NewMockTransport(ctrl)
	p := &dma.Properties{Base: 0x200000, Size: 0x10000}

	// no transport access is expected
	if err := wpr.Stage(tr, p, 0x10000, 0, 0); err != nil {
		t.Errorf("Stage() = %v", err)
	}

	if err := wpr.Stage(tr, p, 0, 0x1000, 0); !errors.Is(err, status.InvalidArgument) {
		t.Errorf("Stage() without source = %v, want %v", err, status.InvalidArgument)
	}
}

func TestStageFailure(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		expect func(tr *mock_dma.MockTransport)
	}{
		{
			desc: "first read",
			expect: func(tr *mock_dma.MockTransport) {
				tr.EXPECT().Read(6, uint64(0x10000), gomock.Any()).Return(errors.New("fault"))
			},
		},
		{
			desc: "overlapped read",
			expect: func(tr *mock_dma.MockTransport) {
				tr.EXPECT().Read(6, uint64(0x10000), gomock.Any()).Return(nil)
				tr.EXPECT().Write(6, uint64(0x200000), gomock.Any()).Return(nil)
				tr.EXPECT().Read(6, uint64(0x11000), gomock.Any()).Return(errors.New("fault"))
			},
		},
		{
			desc: "write",
			expect: func(tr *mock_dma.MockTransport) {
				tr.EXPECT().Read(6, uint64(0x10000), gomock.Any()).Return(nil)
				tr.EXPECT().Write(6, uint64(0x200000), gomock.Any()).Return(errors.New("fault"))
				tr.EXPECT().Read(6, uint64(0x11000), gomock.Any()).Return(nil)
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			tr := mock_dma.NewMockTransport(ctrl)
			p := &dma.Properties{Base: 0x200000, Size: 0x10000, RegionID: 1, CtxDMA: 6}

			tc.expect(tr)

			if err := wpr.Stage(tr, p, 0x10000, 0x2000, 0x1000); !errors.Is(err, status.DmaFailure) {
				t.Errorf("Stage() = %v, want %v", err, status.DmaFailure)
			}
		})
	}
}

func TestStageOverlap(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mock_dma.NewMockTransport(ctrl)
	p := &dma.Properties{Base: 0x200000, Size: 0x10000, RegionID: 1, CtxDMA: 6}

	var mu sync.Mutex
	var order []string

	record := func(op string) func(int, uint64, []byte) error {
		return func(_ int, addr uint64, buf []byte) error {
			mu.Lock()
			defer mu.Unlock()

			order = append(order, op)
			return nil
		}
	}

	tr.EXPECT().Read(6, gomock.Any(), gomock.Any()).DoAndReturn(record("read")).Times(3)
	tr.EXPECT().Write(6, gomock.Any(), gomock.Any()).DoAndReturn(record("write")).Times(3)

	if err := wpr.Stage(tr, p, 0x10000, 0x2800, 0x1000); err != nil {
		t.Fatal(err)
	}

	// the first read precedes every write, the last write follows every
	// read
	if order[0] != "read" || order[len(order)-1] != "write" {
		t.Errorf("unexpected transfer order %v", order)
	}
}

func TestHeaders(t *testing.T) {
	g := newGPU(t)
	p := &dma.Properties{Base: 0x200000, Size: 0x10000, RegionID: 1, CtxDMA: 6}

	dir := api.Directory{
		{FalconID: api.FalconFECS, LSBOffset: 0x100},
		{FalconID: api.InvalidFalconID},
	}

	h := api.LSBHeader{UcodeOffset: 0x1000, UcodeSize: 0x200}
	h.Signature.FalconID = api.FalconFECS

	if err := wpr.WriteDirectory(g.DMA(), p, &dir); err != nil {
		t.Fatal(err)
	}

	g.Load(p.Base+0x100, h.Bytes())

	var gotDir api.Directory
	var gotH api.LSBHeader

	if err := wpr.ReadDirectory(g.DMA(), p, &gotDir); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(dir, gotDir); diff != "" {
		t.Errorf("directory mismatch (-want +got):\n%s", diff)
	}

	if err := wpr.ReadLSB(g.DMA(), p, &gotDir[0], &gotH); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(h, gotH); diff != "" {
		t.Errorf("LSB header mismatch (-want +got):\n%s", diff)
	}

	// a header past the region end is never read
	if err := wpr.ReadLSB(g.DMA(), p, &api.WPRHeader{LSBOffset: 0xff00}, &gotH); !errors.Is(err, status.DmaFailure) {
		t.Errorf("ReadLSB() = %v, want %v", err, status.DmaFailure)
	}
}

func TestProgramSubWPR(t *testing.T) {
	g := newGPU(t)
	m := tu10x.Chip{}.MMU()
	p := &dma.Properties{Base: 0x200000, Size: 0x100000, RegionID: 1}

	h := &api.LSBHeader{
		UcodeOffset: 0x3000,
		UcodeSize:   0x1800,
		DataSize:    0x400,
		BLDataSize:  0x100,
	}

	cfg, err := tu10x.Chip{}.Config(falcon.FECS)

	if err != nil {
		t.Fatal(err)
	}

	program := func() (got [4]uint32) {
		if err := wpr.ProgramSubWPR(g, m, cfg, falcon.SEC2, p, h); err != nil {
			t.Fatal(err)
		}

		got[0], got[1] = g.SubWPR(cfg.CodeSlot)
		got[2], got[3] = g.SubWPR(cfg.DataSlot)

		return
	}

	first := program()

	codeA, codeB := wpr.SlotValues(wpr.Range{Start: 0x203000, End: 0x204800}, wpr.CodeRead, wpr.CodeWrite)
	dataA, dataB := wpr.SlotValues(wpr.Range{Start: 0x204800, End: 0x204d00}, wpr.DataRead, wpr.DataWrite)

	if diff := cmp.Diff([4]uint32{codeA, codeB, dataA, dataB}, first); diff != "" {
		t.Errorf("sub-WPR mismatch (-want +got):\n%s", diff)
	}

	// pages 0x203-0x204 for code, 0x204 for data
	if codeA>>wpr.SUB_WPR_ADDR != 0x203 || codeB>>wpr.SUB_WPR_ADDR != 0x204 || dataB>>wpr.SUB_WPR_ADDR != 0x204 {
		t.Errorf("unexpected page bounds code:%#x-%#x data:%#x", codeA, codeB, dataB)
	}

	if codeB&wpr.SUB_WPR_PLM_MASK != 0 {
		t.Errorf("code range writable, cfgb:%#x", codeB)
	}

	if diff := cmp.Diff(first, program()); diff != "" {
		t.Errorf("programming not idempotent (-first +second):\n%s", diff)
	}

	// the bootstrap owner sub-regions are left untouched
	owner, err := tu10x.Chip{}.Config(falcon.SEC2)

	if err != nil {
		t.Fatal(err)
	}

	if err = wpr.ProgramSubWPR(g, m, owner, falcon.SEC2, p, h); err != nil {
		t.Fatal(err)
	}

	if a, b := g.SubWPR(owner.CodeSlot); a != 0 || b != 0 {
		t.Errorf("owner sub-WPR programmed, cfga:%#x cfgb:%#x", a, b)
	}

	// ranges ending below 64GiB still fit the 24-bit page fields
	p.Base = wpr.MaxSubWPRAddr - 0x10000

	if err = wpr.ProgramSubWPR(g, m, cfg, falcon.SEC2, p, h); err != nil {
		t.Fatal(err)
	}

	if a, b := g.SubWPR(cfg.DataSlot); a>>wpr.SUB_WPR_ADDR != 0xfffff4 || b>>wpr.SUB_WPR_ADDR != 0xfffff4 {
		t.Errorf("unexpected data page bounds cfga:%#x cfgb:%#x", a, b)
	}

	// pages past the field width are rejected, not truncated
	p.Base = wpr.MaxSubWPRAddr

	if err = wpr.ProgramSubWPR(g, m, cfg, falcon.SEC2, p, h); !errors.Is(err, status.SizeOverflow) {
		t.Errorf("ProgramSubWPR() = %v, want %v", err, status.SizeOverflow)
	}

	h.DataSize = 0xffffffff
	h.UcodeOffset = 0xffffffff
	p.Base = 0xffffffffffff0000

	if err = wpr.ProgramSubWPR(g, m, cfg, falcon.SEC2, p, h); !errors.Is(err, status.SizeOverflow) {
		t.Errorf("ProgramSubWPR() = %v, want %v", err, status.SizeOverflow)
	}
}

func TestScrub(t *testing.T) {
	g := newGPU(t)
	p := &dma.Properties{Base: 0x200000, Size: 0x10000, RegionID: 1, CtxDMA: 6}

	for i := range g.Mem[p.Base : p.Base+p.Size] {
		g.Mem[p.Base+uint64(i)] = 0xff
	}

	h := &api.LSBHeader{UcodeOffset: 0x1000, UcodeSize: 0x1100, DataSize: 0x300}
	dir := api.Directory{
		{FalconID: api.FalconFECS, LSBOffset: 0x100, Status: api.ImageStatusValidationCodeFailed},
		{FalconID: api.InvalidFalconID},
	}

	if err := wpr.NewScrubber(0x400).Scrub(g.DMA(), p, h, &dir); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(g.Mem[p.Base+0x1000:p.Base+0x2400], make([]byte, 0x1400)) {
		t.Error("image not scrubbed")
	}

	if g.Mem[p.Base+0x2400] != 0xff || g.Mem[p.Base+0xfff] != 0xff {
		t.Error("scrub exceeded image bounds")
	}

	var got api.Directory

	if err := wpr.ReadDirectory(g.DMA(), p, &got); err != nil {
		t.Fatal(err)
	}

	if got[0].Status != api.ImageStatusValidationCodeFailed {
		t.Errorf("directory status = %d after scrub", got[0].Status)
	}

	g.WriteFault = func(addr uint64, n int) error { return errors.New("fault") }

	if err := wpr.NewScrubber(0).Scrub(g.DMA(), p, h, &dir); !errors.Is(err, status.DmaFailure) {
		t.Errorf("Scrub() = %v, want %v", err, status.DmaFailure)
	}
}
