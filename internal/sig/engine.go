// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sig implements the authentication of WPR images with RSA-3072 PSS
// signatures.
package sig

import (
	"crypto/sha256"
	"errors"
	"hash"
	"math/big"

	"github.com/f-secure-foundry/crucible/util"
)

// Engine represents the crypto engine.
type Engine interface {
	// New returns a running SHA-256 digest.
	New() hash.Hash
	// ModExp returns base^exp mod modulus, operands and result are
	// little-endian and the result is as long as the modulus.
	ModExp(base []byte, exp uint32, modulus []byte) ([]byte, error)
}

// Software implements Engine on the Go runtime crypto.
type Software struct{}

// New implements Engine.
func (Software) New() hash.Hash {
	return sha256.New()
}

// ModExp implements Engine.
func (Software) ModExp(base []byte, exp uint32, modulus []byte) (out []byte, err error) {
	n := new(big.Int).SetBytes(util.SwitchEndianness(clone(modulus)))
	b := new(big.Int).SetBytes(util.SwitchEndianness(clone(base)))

	if n.Sign() == 0 || exp == 0 {
		return nil, errors.New("invalid public key")
	}

	if b.Cmp(n) >= 0 {
		return nil, errors.New("signature representative out of range")
	}

	out = make([]byte, len(modulus))
	new(big.Int).Exp(b, big.NewInt(int64(exp)), n).FillBytes(out)

	return util.SwitchEndianness(out), nil
}

func clone(buf []byte) []byte {
	return append([]byte{}, buf...)
}
