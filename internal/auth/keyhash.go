// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashKey is the one-way transform used for license keys and device
// fingerprints. Deterministic so the result works as a lookup value; the
// datastore never holds the raw secret. Produces a 64-char hex string.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// GenerateLicenseKey creates a new license key in the form
// KG-XXXX-XXXX-XXXX-XXXX with 80 bits of entropy. The raw key is shown to
// the operator exactly once at creation.
func GenerateLicenseKey() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("KG")
	for i, c := range raw {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(alphabet[int(c)%len(alphabet)])
	}

	return b.String(), nil
}

// DeriveEncryptionKey stretches the configured session secret into the
// 32-byte key used for at-rest license key encryption.
func DeriveEncryptionKey(secret string) []byte {
	hash := sha256.Sum256([]byte(fmt.Sprintf("keygate-license-key:%s", secret)))
	return hash[:]
}
