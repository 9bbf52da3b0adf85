// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !disable_sig_verif

package sig

// Enabled reports whether image signatures are verified.
const Enabled = true
