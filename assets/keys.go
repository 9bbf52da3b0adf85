// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package assets

import (
	"crypto/sha256"
	"encoding/binary"
)

//go:generate go run embed_keys.go

// ModulusSize represents the RSA-3072 public key modulus size in bytes
const ModulusSize = 384

// DefaultExponent represents the public exponent used when none is embedded
const DefaultExponent = 65537

// DebugModulus represents the debug board ucode authentication key modulus
// (big-endian)
var DebugModulus []byte

// DebugExponent represents the debug board ucode authentication key exponent
var DebugExponent uint32 = DefaultExponent

// ProductionModulus represents the production board ucode authentication key
// modulus (big-endian), it defaults to a placeholder which `acr-sign -fixup`
// replaces within the firmware binary.
var ProductionModulus = DummyModulus()

// ProductionExponent represents the production board ucode authentication
// key exponent
var ProductionExponent uint32 = DefaultExponent

// Revision represents the firmware version
var Revision string

// DummyModulus generates a known placeholder for the production modulus to
// allow its identification and replacement within the binary.
func DummyModulus() []byte {
	var dummy []byte
	var seed [4]byte

	for i := uint32(0); len(dummy) < ModulusSize; i++ {
		binary.BigEndian.PutUint32(seed[:], i)
		h := sha256.Sum256(append([]byte("armory-acr"), seed[:]...))
		dummy = append(dummy, h[:]...)
	}

	return dummy[:ModulusSize]
}
