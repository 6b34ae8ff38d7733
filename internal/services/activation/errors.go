// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package activation

import (
	"fmt"

	"github.com/pkg/errors"
)

// Business-state outcomes. These are expected results, not faults: they
// map to stable machine-readable codes at the API boundary and are never
// logged as errors.
var (
	ErrInvalidLicenseKey = errors.New("invalid license key")
	ErrLicenseExpired    = errors.New("license expired")
	ErrUnauthorized      = errors.New("not authorized for this activation")
)

// LicenseInactiveError reports a suspended or revoked license, carrying
// the actual status for the caller.
type LicenseInactiveError struct {
	Status string
}

func (e *LicenseInactiveError) Error() string {
	return fmt.Sprintf("license is %s", e.Status)
}

func (e *LicenseInactiveError) Is(target error) bool {
	_, ok := target.(*LicenseInactiveError)
	return ok
}

// DeviceLimitError reports a full device cap, carrying the counts the
// caller needs to message the user.
type DeviceLimitError struct {
	ActiveDevices int
	MaxDevices    int
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("device limit reached (%d of %d)", e.ActiveDevices, e.MaxDevices)
}

func (e *DeviceLimitError) Is(target error) bool {
	_, ok := target.(*DeviceLimitError)
	return ok
}
