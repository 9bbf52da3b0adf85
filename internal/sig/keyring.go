// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sig

import (
	"bytes"

	"github.com/usbarmory/armory-acr/assets"
	"github.com/usbarmory/armory-acr/internal/status"
)

// Key represents an RSA-3072 public key.
type Key struct {
	// big-endian modulus
	Modulus  []byte
	Exponent uint32
}

func (k *Key) valid() bool {
	return k != nil &&
		len(k.Modulus) == assets.ModulusSize &&
		!bytes.Equal(k.Modulus, make([]byte, assets.ModulusSize)) &&
		k.Exponent != 0
}

// Keyring holds the debug and production board keys.
type Keyring struct {
	Debug      *Key
	Production *Key
}

// Init loads the keys embedded at build time for any key not already set.
func (k *Keyring) Init() {
	if k.Debug == nil && len(assets.DebugModulus) > 0 {
		k.Debug = &Key{
			Modulus:  assets.DebugModulus,
			Exponent: assets.DebugExponent,
		}
	}

	if k.Production == nil && len(assets.ProductionModulus) > 0 {
		k.Production = &Key{
			Modulus:  assets.ProductionModulus,
			Exponent: assets.ProductionExponent,
		}
	}
}

// Select returns the key for the board mode.
func (k *Keyring) Select(debug bool) (key *Key, err error) {
	key = k.Production

	if debug {
		key = k.Debug
	}

	if !key.valid() {
		return nil, status.Errorf(status.LsSigVerifFail, "missing key (debug:%v)", debug)
	}

	return
}
