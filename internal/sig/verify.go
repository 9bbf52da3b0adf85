// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sig

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/f-secure-foundry/crucible/util"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/dma"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/status"
	"github.com/usbarmory/armory-acr/internal/wpr"
)

// ScrubError is returned when a rejected image could not be scrubbed, it
// wraps both the verification failure and the scrub failure.
type ScrubError struct {
	Err   error
	Scrub error
}

func (e *ScrubError) Error() string {
	return fmt.Sprintf("%v (scrub failed, %v)", e.Err, e.Scrub)
}

func (e *ScrubError) Unwrap() []error {
	return []error{e.Err, e.Scrub}
}

// Verifier authenticates WPR images.
type Verifier struct {
	Engine    Engine
	Transport dma.Transport
	WPR       *dma.Properties
	Scrubber  *wpr.Scrubber

	// Debug selects the debug key and signatures.
	Debug bool

	// Owner is the bootstrap owner, whose image is authenticated only
	// when VerifyOwner is set.
	Owner       falcon.ID
	VerifyOwner bool

	// ChunkSize is the WPR read size used for hashing.
	ChunkSize int

	key *Key
	// little-endian modulus
	modulus []byte
}

// Init selects the board key, it fails with status.LsSigVerifFail when the
// key is not available.
func (v *Verifier) Init(keys *Keyring) (err error) {
	if v.key, err = keys.Select(v.Debug); err != nil {
		return
	}

	v.modulus = util.SwitchEndianness(clone(v.key.Modulus))

	if v.Engine == nil {
		v.Engine = Software{}
	}

	if v.ChunkSize <= 0 {
		v.ChunkSize = wpr.ChunkSize
	}

	return
}

// Allowed returns whether images for falcon id are authenticated.
func (v *Verifier) Allowed(id falcon.ID) bool {
	switch {
	case id == falcon.FECS, id == falcon.GPCCS:
		return true
	case id == v.Owner:
		return v.VerifyOwner
	default:
		return false
	}
}

// digest hashes size bytes at WPR offset off followed by the identity record.
func (v *Verifier) digest(off uint64, size uint32, record []byte) (sum []byte, err error) {
	h := v.Engine.New()

	buf := make([]byte, v.ChunkSize)

	for end := off + uint64(size); off < end; {
		n := uint64(len(buf))

		if rem := end - off; rem < n {
			n = rem
		}

		if err = v.WPR.Read(v.Transport, off, buf[:n]); err != nil {
			return
		}

		h.Write(buf[:n])
		off += n
	}

	h.Write(record)

	return h.Sum(nil), nil
}

// check verifies a little-endian signature over digest.
func (v *Verifier) check(digest []byte, signature []byte) bool {
	em, err := v.Engine.ModExp(signature, v.key.Exponent, v.modulus)

	if err != nil {
		glog.V(1).Infof("signature rejected, %v", err)
		return false
	}

	return VerifyPSS(v.Engine, digest, util.SwitchEndianness(em))
}

// Verify authenticates the code and data of the image described by h, whose
// directory entry wh belongs to dir.
//
// A rejected image has its directory status set to the failed component, is
// scrubbed and the directory is written back, the returned error carries
// status.LsSigVerifFail.
func (v *Verifier) Verify(wh *api.WPRHeader, h *api.LSBHeader, dir *api.Directory) (err error) {
	id := falcon.ID(wh.FalconID)

	if !v.Allowed(id) {
		wh.Status = api.ImageStatusValidationSkipped

		if id == v.Owner {
			glog.Infof("%v image authentication skipped", id)
			return
		}

		return status.Errorf(status.FalconIDNotFound, "%v images cannot be authenticated", id)
	}

	wh.Status = api.ImageStatusCopy

	s := &h.Signature
	record := s.Record()

	if s.FalconID != wh.FalconID {
		return v.reject(wh, h, dir, api.ImageStatusValidationCodeFailed,
			fmt.Sprintf("%v signed for %v", id, falcon.ID(s.FalconID)))
	}

	code, err := v.digest(uint64(h.UcodeOffset), h.UcodeSize, record)

	if err != nil {
		return
	}

	if !v.check(code, s.Code(v.Debug)) {
		return v.reject(wh, h, dir, api.ImageStatusValidationCodeFailed,
			fmt.Sprintf("%v code signature mismatch", id))
	}

	data, err := v.digest(uint64(h.UcodeOffset)+uint64(h.UcodeSize), h.DataSize, record)

	if err != nil {
		return
	}

	if !v.check(data, s.Data(v.Debug)) {
		return v.reject(wh, h, dir, api.ImageStatusValidationDataFailed,
			fmt.Sprintf("%v data signature mismatch", id))
	}

	wh.Status = api.ImageStatusValidationDone

	glog.Infof("%v image authenticated (version:%#x id:%d)", id, s.UcodeVersion, s.UcodeID)

	return
}

func (v *Verifier) reject(wh *api.WPRHeader, h *api.LSBHeader, dir *api.Directory, st uint32, reason string) error {
	wh.Status = st
	err := status.Errorf(status.LsSigVerifFail, "%s", reason)

	glog.Warningf("%v", err)

	if serr := v.Scrubber.Scrub(v.Transport, v.WPR, h, dir); serr != nil {
		return &ScrubError{Err: err, Scrub: serr}
	}

	return err
}
