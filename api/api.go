// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package api

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Report field numbers
const (
	reportStatus   = 1
	reportAux      = 2
	reportImage    = 3
	reportRevision = 4

	imageFalconID = 1
	imageStatus   = 2
)

// ImageReport carries the final directory status of an image.
type ImageReport struct {
	FalconID uint32
	Status   uint32
}

// Report summarizes a boot attempt for host tooling, it is encoded in
// protobuf wire format.
type Report struct {
	Status   uint32
	Aux      uint32
	Images   []ImageReport
	Revision string
}

var imageStatusNames = map[uint32]string{
	ImageStatusNone:                 "none",
	ImageStatusCopy:                 "copy",
	ImageStatusValidationCodeFailed: "code validation failed",
	ImageStatusValidationDataFailed: "data validation failed",
	ImageStatusValidationDone:       "validated",
	ImageStatusValidationSkipped:    "validation skipped",
	ImageStatusBootstrapReady:       "bootstrap ready",
}

// StatusName returns a description of the image status.
func (img *ImageReport) StatusName() string {
	if n, ok := imageStatusNames[img.Status]; ok {
		return n
	}

	return fmt.Sprintf("status(%d)", img.Status)
}

func (img *ImageReport) Bytes() (buf []byte) {
	buf = protowire.AppendTag(buf, imageFalconID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(img.FalconID))
	buf = protowire.AppendTag(buf, imageStatus, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(img.Status))

	return
}

func (r *Report) Bytes() (buf []byte) {
	buf = protowire.AppendTag(buf, reportStatus, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Status))
	buf = protowire.AppendTag(buf, reportAux, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(r.Aux))

	for _, img := range r.Images {
		buf = protowire.AppendTag(buf, reportImage, protowire.BytesType)
		buf = protowire.AppendBytes(buf, img.Bytes())
	}

	if len(r.Revision) > 0 {
		buf = protowire.AppendTag(buf, reportRevision, protowire.BytesType)
		buf = protowire.AppendString(buf, r.Revision)
	}

	return
}

// consume walks the fields of a message, handing varint and bytes values to
// fn and skipping any other field.
func consume(buf []byte, fn func(num protowire.Number, v uint64, b []byte)) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)

		if n < 0 {
			return protowire.ParseError(n)
		}

		buf = buf[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(buf)

			if n < 0 {
				return protowire.ParseError(n)
			}

			fn(num, v, nil)
			buf = buf[n:]
		case protowire.BytesType:
			b, n := protowire.ConsumeBytes(buf)

			if n < 0 {
				return protowire.ParseError(n)
			}

			fn(num, 0, b)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)

			if n < 0 {
				return protowire.ParseError(n)
			}

			buf = buf[n:]
		}
	}

	return nil
}

// Unmarshal decodes a report in protobuf wire format.
func (r *Report) Unmarshal(buf []byte) (err error) {
	*r = Report{}

	var imgErr error

	err = consume(buf, func(num protowire.Number, v uint64, b []byte) {
		switch num {
		case reportStatus:
			r.Status = uint32(v)
		case reportAux:
			r.Aux = uint32(v)
		case reportRevision:
			r.Revision = string(b)
		case reportImage:
			img := ImageReport{}

			e := consume(b, func(num protowire.Number, v uint64, _ []byte) {
				switch num {
				case imageFalconID:
					img.FalconID = uint32(v)
				case imageStatus:
					img.Status = uint32(v)
				}
			})

			if e != nil && imgErr == nil {
				imgErr = e
			}

			r.Images = append(r.Images, img)
		}
	})

	if err == nil {
		err = imgErr
	}

	return
}
