// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package image

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/f-secure-foundry/crucible/util"

	"github.com/usbarmory/armory-acr/api"
	"github.com/usbarmory/armory-acr/assets"
	"github.com/usbarmory/armory-acr/internal/sig"
)

// Signer produces the image signatures, the production and debug
// signatures are left blank when their key is not set.
type Signer struct {
	Production *rsa.PrivateKey
	Debug      *rsa.PrivateKey

	// Rand is the salt source, crypto/rand when nil.
	Rand io.Reader
}

// Digest returns the signed digest of an image component.
func Digest(component []byte, s *api.Signature) []byte {
	h := sha256.New()
	h.Write(component)
	h.Write(s.Record())
	return h.Sum(nil)
}

func (s *Signer) sign(key *rsa.PrivateKey, digest []byte, out []byte) (err error) {
	if key == nil {
		return
	}

	if key.Size() != assets.ModulusSize {
		return fmt.Errorf("invalid key size %d", key.Size()*8)
	}

	r := s.Rand

	if r == nil {
		r = rand.Reader
	}

	buf, err := rsa.SignPSS(r, key, crypto.SHA256, digest, &rsa.PSSOptions{
		SaltLength: sig.SaltLen,
		Hash:       crypto.SHA256,
	})

	if err != nil {
		return
	}

	// the crypto engine consumes little-endian operands
	copy(out, util.SwitchEndianness(buf))

	return
}

// Sign fills the code and data signatures of s, whose identity fields must
// already be set.
func (s *Signer) Sign(signature *api.Signature, code []byte, data []byte) (err error) {
	c := Digest(code, signature)
	d := Digest(data, signature)

	for _, op := range []struct {
		key    *rsa.PrivateKey
		digest []byte
		out    []byte
	}{
		{s.Production, c, signature.ProdCode[:]},
		{s.Production, d, signature.ProdData[:]},
		{s.Debug, c, signature.DbgCode[:]},
		{s.Debug, d, signature.DbgData[:]},
	} {
		if err = s.sign(op.key, op.digest, op.out); err != nil {
			return
		}
	}

	return
}

// LoadKey reads an RSA private key in PEM format (PKCS#1 or PKCS#8).
func LoadKey(path string) (key *rsa.PrivateKey, err error) {
	buf, err := os.ReadFile(path)

	if err != nil {
		return
	}

	block, _ := pem.Decode(buf)

	if block == nil {
		return nil, errors.New("failed to parse key PEM")
	}

	if key, err = x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return
	}

	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)

	if err != nil {
		return
	}

	switch k := k.(type) {
	case *rsa.PrivateKey:
		return k, nil
	default:
		return nil, errors.New("failed to parse RSA key")
	}
}

// PublicKey converts an RSA public key to a board key.
func PublicKey(pub *rsa.PublicKey) *sig.Key {
	m := make([]byte, assets.ModulusSize)
	pub.N.FillBytes(m)

	return &sig.Key{
		Modulus:  m,
		Exponent: uint32(pub.E),
	}
}

// PublicPEM encodes an RSA public key in PKIX PEM format, as consumed by the
// key embedding generator.
func PublicPEM(pub *rsa.PublicKey) (buf []byte, err error) {
	der, err := x509.MarshalPKIXPublicKey(pub)

	if err != nil {
		return
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicPEM decodes an RSA public key in PKIX PEM format to a board
// key.
func ParsePublicPEM(buf []byte) (key *sig.Key, err error) {
	block, _ := pem.Decode(buf)

	if block == nil {
		return nil, errors.New("failed to parse public key PEM")
	}

	k, err := x509.ParsePKIXPublicKey(block.Bytes)

	if err != nil {
		return
	}

	pub, ok := k.(*rsa.PublicKey)

	if !ok || pub.Size() != assets.ModulusSize {
		return nil, errors.New("invalid RSA-3072 public key")
	}

	return PublicKey(pub), nil
}
