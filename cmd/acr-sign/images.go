// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/internal/falcon"
	"github.com/usbarmory/armory-acr/internal/image"
)

var flagOptions = map[string]uint32{
	"load-at-zero": api.FlagLoadCodeAtZero,
	"require-ctx":  api.FlagRequireCtx,
	"priv-load":    api.FlagForcePrivLoad,
	"va-ctx":       api.FlagSetVACtx,
}

func readFile(dir string, name string, optional bool) ([]byte, error) {
	buf, err := os.ReadFile(path.Join(dir, name))

	if optional && errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	return buf, err
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func parseOption(img *image.Image, opt string) (err error) {
	if f, ok := flagOptions[opt]; ok {
		img.Flags |= f
		return
	}

	key, val, _ := strings.Cut(opt, "=")

	switch key {
	case "lazy":
		img.Lazy = true
	case "bl-offset":
		img.BLImemOffset, err = parseUint(val)
	case "version":
		img.Version, err = parseUint(val)
	case "id":
		img.UcodeID, err = parseUint(val)
	case "dep":
		name, ver, ok := strings.Cut(val, "@")

		if !ok {
			return fmt.Errorf("invalid dependency %q", val)
		}

		var d image.Dependency
		var id falcon.ID

		if id, err = falcon.ParseID(name); err != nil {
			return
		}

		d.FalconID = uint32(id)

		if d.MinVersion, err = parseUint(ver); err != nil {
			return
		}

		img.Deps = append(img.Deps, d)
	default:
		return fmt.Errorf("invalid option %q", opt)
	}

	return
}

// parseImage loads the image described by an argument in FALCON:DIR[:OPTION,...]
// format.
func parseImage(arg string) (img *image.Image, err error) {
	parts := strings.SplitN(arg, ":", 3)

	if len(parts) < 2 || len(parts[1]) == 0 {
		return nil, fmt.Errorf("invalid image %q", arg)
	}

	id, err := falcon.ParseID(parts[0])

	if err != nil {
		return
	}

	img = &image.Image{
		FalconID: uint32(id),
	}

	if len(parts) == 3 {
		for _, opt := range strings.Split(parts[2], ",") {
			if err = parseOption(img, opt); err != nil {
				return nil, fmt.Errorf("%s, %v", id, err)
			}
		}
	}

	dir := parts[1]

	if img.BLCode, err = readFile(dir, blCodePath, true); err != nil {
		return
	}

	if img.BLData, err = readFile(dir, blDataPath, true); err != nil {
		return
	}

	if img.Code, err = readFile(dir, codePath, false); err != nil {
		return
	}

	if img.Data, err = readFile(dir, dataPath, false); err != nil {
		return
	}

	return
}
