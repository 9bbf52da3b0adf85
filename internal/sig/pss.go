// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sig

import (
	"crypto/subtle"
	"encoding/binary"
	"hash"
)

// PSS encoding parameters for RSA-3072 with SHA-256
const (
	EMLen    = 384
	HashLen  = 32
	SaltLen  = 32
	Trailer  = 0xbc
	dbLen    = EMLen - HashLen - 1
	padLen   = dbLen - SaltLen - 1
	zeroBits = 1
)

// mgf1 XORs the SHA-256 MGF1 mask of seed into out.
func mgf1(newHash func() hash.Hash, seed []byte, out []byte) {
	var counter [4]byte

	for done, i := 0, uint32(0); done < len(out); i++ {
		binary.BigEndian.PutUint32(counter[:], i)

		h := newHash()
		h.Write(seed)
		h.Write(counter[:])

		for _, b := range h.Sum(nil) {
			if done == len(out) {
				break
			}

			out[done] ^= b
			done++
		}
	}
}

// VerifyPSS returns whether the big-endian encoded message em is a valid PSS
// encoding of digest.
func VerifyPSS(e Engine, digest []byte, em []byte) bool {
	if len(em) != EMLen || len(digest) != HashLen {
		return false
	}

	if em[EMLen-1] != Trailer {
		return false
	}

	if em[0]>>(8-zeroBits) != 0 {
		return false
	}

	db := make([]byte, dbLen)
	copy(db, em[:dbLen])
	h := em[dbLen : EMLen-1]

	mgf1(e.New, h, db)
	db[0] &= 0xff >> zeroBits

	var nonzero byte

	for _, b := range db[:padLen] {
		nonzero |= b
	}

	if nonzero != 0 || db[padLen] != 0x01 {
		return false
	}

	salt := db[padLen+1:]

	m := e.New()
	m.Write(make([]byte, 8))
	m.Write(digest)
	m.Write(salt)

	return subtle.ConstantTimeCompare(h, m.Sum(nil)) == 1
}
