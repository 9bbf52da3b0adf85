// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"flag"
	"io"
	"os"
	"strings"
	"testing"
)

func TestUsage(t *testing.T) {
	r, w, err := os.Pipe()

	if err != nil {
		t.Fatal(err)
	}

	stdout := os.Stdout
	os.Stdout = w

	flag.Usage()

	os.Stdout = stdout
	w.Close()

	out, err := io.ReadAll(r)

	if err != nil {
		t.Fatal(err)
	}

	if string(out) != usage {
		t.Errorf("usage output %q, want %q", out, usage)
	}

	if strings.HasSuffix(string(out), "\n\n") {
		t.Error("usage output ends with a blank line")
	}
}
