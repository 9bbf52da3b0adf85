// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package acr_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/acr"
	"github.com/usbarmory/armory-acr/internal/chip/tu10x"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/image"
	"github.com/usbarmory/armory-acr/internal/sig"
	"github.com/usbarmory/armory-acr/internal/sim"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

const (
	descAddr = 0x1000
	blobAddr = 0x40000
	wprBase  = 0x100000
	wprEnd   = 0x180000
	locked   = falcon.Level3
)

var testKey = sync.OnceValue(func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 3072)

	if err != nil {
		panic(err)
	}

	return key
})

type fixture struct {
	gpu  *sim.GPU
	blob *image.Blob
	desc api.Descriptor
	ctx  *acr.Context
}

func pattern(n int, seed byte) []byte {
	buf := make([]byte, n)

	for i := range buf {
		buf[i] = seed + byte(i*5)
	}

	return buf
}

func fecs() *image.Image {
	return &image.Image{
		FalconID: api.FalconFECS,
		BLCode:   pattern(0x180, 1),
		BLData:   pattern(0x80, 2),
		Code:     pattern(0x500, 3),
		Data:     pattern(0x240, 4),
		Version:  1,
	}
}

func sec2() *image.Image {
	return &image.Image{
		FalconID: api.FalconSEC2,
		BLCode:   pattern(0x100, 5),
		BLData:   pattern(0x40, 6),
		Code:     pattern(0x300, 7),
		Data:     pattern(0x100, 8),
		Version:  1,
	}
}

// setup builds and signs the images, placing the blob and descriptor in the
// host memory of a simulated GPU with a locked WPR1.
func setup(t *testing.T, images ...*image.Image) *fixture {
	t.Helper()

	g, err := sim.New(0x200000, falcon.SEC2)

	if err != nil {
		t.Fatal(err)
	}

	g.SetWPR(1, wprBase, wprEnd, locked, locked)

	key := testKey()
	b, err := image.Build(images, &image.Signer{Production: key, Debug: key})

	if err != nil {
		t.Fatal(err)
	}

	g.Load(blobAddr, b.Buf)

	conf := acr.DefaultConfig()
	conf.Timeout = time.Millisecond
	conf.Keys = &sig.Keyring{
		Production: image.PublicKey(&key.PublicKey),
		Debug:      image.PublicKey(&key.PublicKey),
	}

	f := &fixture{
		gpu:  g,
		blob: b,
		desc: api.Descriptor{
			UcodeBlobBase: blobAddr,
			UcodeBlobSize: b.Size(),
			OwnerID:       api.FalconSEC2,
		},
		ctx: acr.New(conf, tu10x.Chip{}, g, g, g.DMA()),
	}

	return f
}

// reload replaces the host copy of the blob after header changes.
func (f *fixture) reload() {
	f.blob.Commit()
	f.gpu.Load(blobAddr, f.blob.Buf)
	f.desc.UcodeBlobSize = f.blob.Size()
}

func (f *fixture) run() error {
	f.gpu.Descriptor(descAddr, &f.desc)
	return f.ctx.Run(descAddr)
}

func (f *fixture) mailbox() (uint32, uint32) {
	self := f.gpu.Falcons[falcon.SEC2]
	return self.Reg(tu10x.FALCON_MAILBOX0), self.Reg(tu10x.FALCON_MAILBOX1)
}

func (f *fixture) wprDirectory(t *testing.T) (dir api.Directory) {
	t.Helper()

	if err := dir.Unmarshal(f.gpu.Mem[wprBase : wprBase+api.DirectorySize]); err != nil {
		t.Fatal(err)
	}

	return
}

func (f *fixture) scrubbed(i int) bool {
	h := &f.blob.Headers[i]
	start := wprBase + uint64(h.UcodeOffset)
	end := start + uint64(h.UcodeSize) + uint64(h.DataSize)

	return bytes.Equal(f.gpu.Mem[start:end], make([]byte, end-start))
}

func checkMailbox(t *testing.T, f *fixture, st status.Status, aux uint32) {
	t.Helper()

	mb0, mb1 := f.mailbox()

	if mb0 != uint32(st) {
		t.Errorf("MAILBOX0 = %#x, want %#x", mb0, uint32(st))
	}

	if mb1 != aux {
		t.Errorf("MAILBOX1 = %#x, want %#x", mb1, aux)
	}
}

func TestRun(t *testing.T) {
	f := setup(t, fecs())
	g := f.gpu

	if err := f.run(); err != nil {
		t.Fatal(err)
	}

	checkMailbox(t, f, status.OK, 0)

	dir := f.wprDirectory(t)

	if got := dir[0].Status; got != api.ImageStatusBootstrapReady {
		t.Errorf("FECS status = %d, want %d", got, api.ImageStatusBootstrapReady)
	}

	if !dir.Terminated() || dir.Live() != 1 {
		t.Errorf("unexpected directory %+v", dir)
	}

	// staged blob
	if !bytes.Equal(g.Mem[wprBase+api.DirectorySize:wprBase+uint64(f.blob.Size())], f.blob.Buf[api.DirectorySize:]) {
		t.Error("WPR content does not match the staged blob")
	}

	fe := g.Falcons[falcon.FECS]

	if fe.Resets == 0 {
		t.Error("FECS not reset")
	}

	h := &f.blob.Headers[0]
	imem := uint32(len(fe.IMEM))

	// boot-loader at the top of IMEM
	bl := f.blob.Code(0)[:h.BLCodeSize]
	dst := imem - dma.AlignUp(h.BLCodeSize, dma.BlockSize)

	if !bytes.Equal(fe.IMEM[dst:dst+h.BLCodeSize], bl) {
		t.Error("FECS IMEM does not hold the boot-loader")
	}

	// code and data sub-WPR slots
	cfg, _ := tu10x.Chip{}.Config(falcon.FECS)

	for _, slot := range []int{cfg.CodeSlot, cfg.DataSlot} {
		if a, b := g.SubWPR(slot); a == 0 || b == 0 {
			t.Errorf("sub-WPR slot %d not programmed", slot)
		}
	}

	// final lockdown
	self := g.Falcons[falcon.SEC2]
	level3 := falcon.PLM(falcon.Level3, falcon.Level3)

	if got := self.Reg(tu10x.FALCON_IMEM_PLM); got != level3 {
		t.Errorf("self IMEM_PLM = %#x, want %#x", got, level3)
	}

	want := &api.Report{
		Images: []api.ImageReport{
			{FalconID: api.FalconFECS, Status: api.ImageStatusBootstrapReady},
		},
	}

	if diff := cmp.Diff(want, f.ctx.Report(nil), cmpopts.IgnoreFields(api.Report{}, "Revision")); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestRunBadSignature(t *testing.T) {
	if !sig.Enabled {
		t.Skip("signature verification disabled")
	}

	f := setup(t, fecs())
	f.blob.Headers[0].Signature.ProdCode[10] ^= 0x01
	f.reload()

	err := f.run()

	if !errors.Is(err, status.LsSigVerifFail) {
		t.Fatalf("Run() = %v, want %v", err, status.LsSigVerifFail)
	}

	checkMailbox(t, f, status.LsSigVerifFail, api.FalconFECS)

	if !f.scrubbed(0) {
		t.Error("rejected image not scrubbed")
	}

	if got := f.wprDirectory(t)[0].Status; got != api.ImageStatusValidationCodeFailed {
		t.Errorf("FECS status = %d, want %d", got, api.ImageStatusValidationCodeFailed)
	}

	if f.gpu.Falcons[falcon.FECS].Resets != 0 {
		t.Error("rejected image falcon was reset")
	}

	// lockdown is still applied on failure
	level3 := falcon.PLM(falcon.Level3, falcon.Level3)

	if got := f.gpu.Falcons[falcon.SEC2].Reg(tu10x.FALCON_DMEM_PLM); got != level3 {
		t.Errorf("self DMEM_PLM = %#x, want %#x", got, level3)
	}
}

func TestRunScrubFailure(t *testing.T) {
	if !sig.Enabled {
		t.Skip("signature verification disabled")
	}

	f := setup(t, fecs())
	f.blob.Headers[0].Signature.ProdData[0] ^= 0x80
	f.reload()

	h := &f.blob.Headers[0]
	start := wprBase + uint64(h.UcodeOffset)
	end := start + uint64(h.UcodeSize) + uint64(h.DataSize)

	// fail WPR image writes once hashing started, after staging
	hashing := false

	f.gpu.ReadFault = func(addr uint64, _ int) error {
		if addr == start {
			hashing = true
		}

		return nil
	}

	f.gpu.WriteFault = func(addr uint64, _ int) error {
		if hashing && addr >= start && addr < end {
			return errors.New("bus fault")
		}

		return nil
	}

	err := f.run()

	var scrubErr *sig.ScrubError

	if !errors.As(err, &scrubErr) {
		t.Fatalf("Run() = %v, want scrub error", err)
	}

	checkMailbox(t, f, status.LsSigVerifFail, uint32(status.DmaFailure))
}

func TestRunBlobBounds(t *testing.T) {
	f := setup(t, fecs())
	f.desc.UcodeBlobSize = 100

	err := f.run()

	if !errors.Is(err, status.InvalidArgument) {
		t.Fatalf("Run() = %v, want %v", err, status.InvalidArgument)
	}

	checkMailbox(t, f, status.InvalidArgument, api.FalconFECS)

	if f.gpu.Falcons[falcon.FECS].Resets != 0 {
		t.Error("falcon reset after invalid header")
	}
}

func TestRunUcodeOffsetBounds(t *testing.T) {
	f := setup(t, fecs())

	// header inside the blob, ucode past its declared end
	f.blob.Headers[0].UcodeOffset = f.blob.Size() + 0x100
	f.reload()

	if off := int(f.blob.Dir[0].LSBOffset) + api.LSBHeaderSize; off > int(f.blob.Size()) {
		t.Fatalf("LSB header at %#x outside blob", off)
	}

	err := f.run()

	if !errors.Is(err, status.InvalidArgument) {
		t.Fatalf("Run() = %v, want %v", err, status.InvalidArgument)
	}

	checkMailbox(t, f, status.InvalidArgument, api.FalconFECS)

	if f.gpu.Falcons[falcon.FECS].Resets != 0 {
		t.Error("falcon reset after invalid header")
	}

	if f.gpu.Transfers != 0 {
		t.Errorf("%d falcon transfers after invalid header", f.gpu.Transfers)
	}
}

func TestRunSelfImageSubWPR(t *testing.T) {
	f := setup(t, fecs(), sec2())
	f.desc.OwnerID = api.FalconPMU

	err := f.run()

	// SEC2 is authenticated only as bootstrap owner
	if sig.Enabled && !errors.Is(err, status.FalconIDNotFound) {
		t.Fatalf("Run() = %v, want %v", err, status.FalconIDNotFound)
	} else if !sig.Enabled && err != nil {
		t.Fatal(err)
	}

	g := f.gpu
	cfg, _ := tu10x.Chip{}.Config(falcon.SEC2)

	code, data, err := wpr.Ranges(&dma.Properties{Base: wprBase}, &f.blob.Headers[1])

	if err != nil {
		t.Fatal(err)
	}

	var want, got [4]uint32

	want[0], want[1] = wpr.SlotValues(code, wpr.CodeRead, wpr.CodeWrite)
	want[2], want[3] = wpr.SlotValues(data, wpr.DataRead, wpr.DataWrite)
	got[0], got[1] = g.SubWPR(cfg.CodeSlot)
	got[2], got[3] = g.SubWPR(cfg.DataSlot)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SEC2 image sub-WPR mismatch (-want +got):\n%s", diff)
	}

	if got[1]&wpr.SUB_WPR_PLM_MASK != 0 {
		t.Errorf("SEC2 code range writable, cfgb:%#x", got[1])
	}

	// lockdown lands on the reserved slots
	for _, slot := range []int{tu10x.LockdownCodeSlot, tu10x.LockdownDataSlot} {
		a, b := g.SubWPR(slot)

		if a&wpr.SUB_WPR_PLM_MASK != locked || b&wpr.SUB_WPR_PLM_MASK != locked {
			t.Errorf("lockdown slot %d cfga:%#x cfgb:%#x", slot, a, b)
		}
	}
}

func TestRunNoWPR(t *testing.T) {
	for _, tc := range []struct {
		desc  string
		read  uint32
		write uint32
	}{
		{"write mask not locked", locked, falcon.Level2 | falcon.Level3},
		{"read mask open", falcon.LevelAll, locked},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			f := setup(t, fecs())
			f.gpu.SetWPR(1, wprBase, wprEnd, tc.read, tc.write)

			if err := f.run(); !errors.Is(err, status.NoWpr) {
				t.Fatalf("Run() = %v, want %v", err, status.NoWpr)
			}

			checkMailbox(t, f, status.NoWpr, api.InvalidFalconID)

			// nothing staged
			if !bytes.Equal(f.gpu.Mem[wprBase:wprEnd], make([]byte, wprEnd-wprBase)) {
				t.Error("WPR written without a locked region")
			}
		})
	}
}

func TestRunRetainedBlob(t *testing.T) {
	f := setup(t, fecs())

	// blob left in the WPR by a previous boot
	f.gpu.Load(wprBase, f.blob.Buf)
	f.desc.UcodeBlobBase = 0
	f.desc.UcodeBlobSize = 0

	if err := f.run(); err != nil {
		t.Fatal(err)
	}

	checkMailbox(t, f, status.OK, 0)

	if got := f.wprDirectory(t)[0].Status; got != api.ImageStatusBootstrapReady {
		t.Errorf("FECS status = %d, want %d", got, api.ImageStatusBootstrapReady)
	}
}

func TestRunInProgress(t *testing.T) {
	f := setup(t, fecs())
	self := f.gpu.Falcons[falcon.SEC2]
	self.SetReg(tu10x.FALCON_MAILBOX0, uint32(status.StartedNotFinished))
	self.SetReg(tu10x.FALCON_MAILBOX1, 0x1234)

	if err := f.run(); !errors.Is(err, status.InvalidOperation) {
		t.Fatalf("Run() = %v, want %v", err, status.InvalidOperation)
	}

	// the concurrent attempt is left undisturbed
	checkMailbox(t, f, status.StartedNotFinished, 0x1234)

	if got := self.Reg(tu10x.FALCON_IMEM_PLM); got != 0 {
		t.Errorf("IMEM_PLM = %#x, want untouched", got)
	}

	if f.gpu.Transfers != 0 {
		t.Errorf("%d transfers during rejected attempt", f.gpu.Transfers)
	}
}

func TestRunDescriptor(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		addr    uint64
		modify  func(f *fixture)
		wantErr status.Status
	}{
		{
			desc:    "misaligned descriptor",
			addr:    descAddr + 8,
			wantErr: status.InvalidArgument,
		},
		{
			desc:    "unsupported chip",
			addr:    descAddr,
			modify:  func(f *fixture) { f.gpu.SetReg(tu10x.BOOT0, 0x1a2b3c4d) },
			wantErr: status.InvalidChipID,
		},
		{
			desc:    "unexpected WPR offset",
			addr:    descAddr,
			modify:  func(f *fixture) { f.desc.WPROffset = 0x100 },
			wantErr: status.NoWpr,
		},
		{
			desc:    "unknown owner",
			addr:    descAddr,
			modify:  func(f *fixture) { f.desc.OwnerID = api.FalconOFA },
			wantErr: status.FalconIDNotFound,
		},
		{
			desc:    "blob without source",
			addr:    descAddr,
			modify:  func(f *fixture) { f.desc.UcodeBlobBase = 0 },
			wantErr: status.InvalidArgument,
		},
		{
			desc:    "region count",
			addr:    descAddr,
			modify:  func(f *fixture) { f.desc.Regions.NoRegions = api.MaxRegions + 1 },
			wantErr: status.InvalidArgument,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			f := setup(t, fecs())

			if tc.modify != nil {
				tc.modify(f)
			}

			f.gpu.Descriptor(descAddr, &f.desc)

			if err := f.ctx.Run(tc.addr); !errors.Is(err, tc.wantErr) {
				t.Fatalf("Run() = %v, want %v", err, tc.wantErr)
			}

			checkMailbox(t, f, tc.wantErr, api.InvalidFalconID)
		})
	}
}

func TestRunLazyBootstrap(t *testing.T) {
	lazy := fecs()
	lazy.Lazy = true

	f := setup(t, lazy, sec2())

	if err := f.run(); err != nil {
		t.Fatal(err)
	}

	dir := f.wprDirectory(t)

	want := []uint32{api.ImageStatusValidationDone, api.ImageStatusBootstrapReady}

	if diff := cmp.Diff(want, []uint32{dir[0].Status, dir[1].Status}); diff != "" {
		t.Errorf("directory status mismatch (-want +got):\n%s", diff)
	}

	if f.gpu.Falcons[falcon.FECS].Resets != 0 {
		t.Error("deferred image falcon was reset")
	}

	if f.gpu.Falcons[falcon.SEC2].Resets != 0 {
		t.Error("owner was reset")
	}
}

func TestRunLazyWithoutOwner(t *testing.T) {
	lazy := fecs()
	lazy.Lazy = true

	f := setup(t, lazy)

	if err := f.run(); err != nil {
		t.Fatal(err)
	}

	if got := f.wprDirectory(t)[0].Status; got != api.ImageStatusBootstrapReady {
		t.Errorf("FECS status = %d, want %d", got, api.ImageStatusBootstrapReady)
	}
}

func TestRunUnauthenticatedFalcon(t *testing.T) {
	if !sig.Enabled {
		t.Skip("signature verification disabled")
	}

	pmu := fecs()
	pmu.FalconID = api.FalconPMU

	f := setup(t, pmu)

	if err := f.run(); !errors.Is(err, status.FalconIDNotFound) {
		t.Fatalf("Run() = %v, want %v", err, status.FalconIDNotFound)
	}

	checkMailbox(t, f, status.FalconIDNotFound, api.FalconPMU)

	if got := f.ctx.Dir[0].Status; got != api.ImageStatusValidationSkipped {
		t.Errorf("PMU status = %d, want %d", got, api.ImageStatusValidationSkipped)
	}
}

func TestValidateLSB(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		h       api.LSBHeader
		size    uint32
		wantErr error
	}{
		{
			desc:    "ucode offset beyond blob",
			h:       api.LSBHeader{UcodeOffset: 200},
			size:    100,
			wantErr: status.InvalidArgument,
		},
		{
			desc:    "boot-loader data beyond blob",
			h:       api.LSBHeader{UcodeOffset: 0x1000, BLDataOffset: 0x3000},
			size:    0x2000,
			wantErr: status.InvalidArgument,
		},
		{
			desc: "within blob",
			h:    api.LSBHeader{UcodeOffset: 0x1000, UcodeSize: 0x800, DataSize: 0x200, BLDataOffset: 0x1a00},
			size: 0x2000,
		},
		{
			desc: "retained blob",
			h:    api.LSBHeader{UcodeOffset: 200},
			size: 0,
		},
		{
			desc:    "dependency map count",
			h:       api.LSBHeader{Signature: api.Signature{DepMapCount: api.DepMapEntries + 1}},
			size:    0x1000,
			wantErr: status.InvalidArgument,
		},
		{
			desc: "dependency map count with retained blob",
			h:    api.LSBHeader{Signature: api.Signature{DepMapCount: api.DepMapEntries + 1}},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			err := acr.ValidateLSB(&tc.h, tc.size)

			if tc.wantErr == nil && err != nil {
				t.Fatalf("ValidateLSB() = %v", err)
			}

			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateLSB() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
