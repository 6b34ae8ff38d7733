// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package token mints and checks the signed, device-bound bearer
// credentials a device presents to prove an established activation.
//
// Passing Verify is necessary but not sufficient: suspension, revocation,
// and deactivation must take effect before a token's natural expiry, so
// every authoritative check layers this stateless signature/expiry check
// with a re-read of current license and activation state.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Validity is the fixed lifetime of an activation token. Devices refresh
// by re-activating, which reuses their ledger row.
const Validity = 30 * 24 * time.Hour

// Claims are the device-bound activation claims embedded in a token.
type Claims struct {
	LicenseID    string `json:"lid"`
	PackageID    string `json:"pkg"`
	DeviceIDHash string `json:"dev"`
	OwnerUserID  string `json:"own"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies activation tokens with a process-wide secret
// loaded once at startup.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Issue mints a token bound to the given license and device hash, valid
// for the fixed 30-day window starting now.
func (i *Issuer) Issue(licenseID, packageID, deviceIDHash, ownerUserID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(Validity)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		LicenseID:    licenseID,
		PackageID:    packageID,
		DeviceIDHash: deviceIDHash,
		OwnerUserID:  ownerUserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "keygate",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// Verify parses and checks a token's signature and expiry. Failure is a
// normal branch: ErrTokenExpired is distinguished from ErrTokenInvalid so
// a caller knows whether re-activation can succeed.
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
