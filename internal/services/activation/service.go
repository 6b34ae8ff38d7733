// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package activation orchestrates the license/device activation protocol:
// Activate, Validate, and Deactivate against the license registry, the
// device activation ledger, and the token issuer.
package activation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/dbinterface"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/models"
	"github.com/keygate/keygate/internal/token"
)

// DeviceMetadata carries the optional device details a client reports on
// activation.
type DeviceMetadata struct {
	DeviceName    string
	DeviceType    string
	OSName        string
	OSVersion     string
	AppVersion    string
	HardwareModel string
}

// Result is a successful activation or refresh.
type Result struct {
	Token     string
	ExpiresAt time.Time
	LicenseID string
	PackageID string
	Refreshed bool
}

// ValidationClaims is what a successful Validate returns to the caller.
type ValidationClaims struct {
	LicenseID   string
	PackageID   string
	OwnerUserID string
	ExpiresAt   time.Time
}

// Service implements the activation protocol. All methods are safe for
// concurrent use; the device-cap check is a single conditional increment
// at the storage layer, and the increment and ledger write commit in one
// transaction.
type Service struct {
	db          dbinterface.TxBeginner
	licenses    *models.LicenseStore
	activations *models.ActivationStore
	issuer      *token.Issuer
	touchWait   func() // test hook, runs when an async touch finishes
}

func NewService(db dbinterface.TxBeginner, issuer *token.Issuer) *Service {
	return &Service{
		db:          db,
		licenses:    models.NewLicenseStore(db),
		activations: models.NewActivationStore(db),
		issuer:      issuer,
	}
}

// Activate binds a device to a license, or refreshes an existing active
// binding. The license key and device ID are hashed before anything else
// touches them; raw values never reach storage.
func (s *Service) Activate(ctx context.Context, licenseKey, deviceID string, meta DeviceMetadata, ipAddress string) (*Result, error) {
	keyHash := auth.HashKey(licenseKey)
	deviceHash := auth.HashKey(deviceID)

	license, err := s.licenses.GetByKeyHash(ctx, keyHash)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			metrics.ActivationOutcome("invalid_key")
			return nil, ErrInvalidLicenseKey
		}
		return nil, errors.Wrap(err, "lookup license")
	}

	if license.Status != models.LicenseStatusActive {
		metrics.ActivationOutcome("license_inactive")
		return nil, &LicenseInactiveError{Status: license.Status}
	}

	if license.IsExpired(time.Now()) {
		metrics.ActivationOutcome("license_expired")
		return nil, ErrLicenseExpired
	}

	result, err := s.activateTx(ctx, license, deviceHash, meta, ipAddress)
	if err != nil {
		var dup *retryableConflict
		if errors.As(err, &dup) {
			// Lost a same-pair insert race; the second pass lands on
			// the refresh path.
			result, err = s.activateTx(ctx, license, deviceHash, meta, ipAddress)
		}
	}
	if err != nil {
		return nil, err
	}

	if result.Refreshed {
		metrics.ActivationOutcome("refreshed")
	} else {
		metrics.ActivationOutcome("activated")
	}

	log.Debug().
		Str("licenseId", license.ID).
		Str("deviceHash", deviceHash).
		Bool("refreshed", result.Refreshed).
		Msg("Device activation succeeded")

	return result, nil
}

// retryableConflict marks a lost same-pair insert race inside activateTx.
type retryableConflict struct{ err error }

func (e *retryableConflict) Error() string { return e.err.Error() }

func (s *Service) activateTx(ctx context.Context, license *models.License, deviceHash string, meta DeviceMetadata, ipAddress string) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin activation transaction")
	}
	defer tx.Rollback()

	txLicenses := models.NewLicenseStore(tx)
	txActivations := models.NewActivationStore(tx)

	existing, err := txActivations.GetByLicenseAndDevice(ctx, license.ID, deviceHash)
	if err != nil && !errors.Is(err, models.ErrActivationNotFound) {
		return nil, errors.Wrap(err, "lookup activation")
	}

	signed, expiresAt, err := s.issuer.Issue(license.ID, license.PackageID, deviceHash, license.OwnerUserID)
	if err != nil {
		return nil, errors.Wrap(err, "issue token")
	}

	if existing != nil && existing.IsActive {
		// Refresh: new token, same slot, device count untouched.
		if err := txActivations.RefreshToken(ctx, license.ID, deviceHash, signed, expiresAt, meta.AppVersion, ipAddress); err != nil {
			return nil, errors.Wrap(err, "refresh activation token")
		}
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrap(err, "commit refresh")
		}
		return &Result{
			Token:     signed,
			ExpiresAt: expiresAt,
			LicenseID: license.ID,
			PackageID: license.PackageID,
			Refreshed: true,
		}, nil
	}

	// New device or re-activation of a released slot: the cap check and
	// the increment are one conditional UPDATE, so concurrent activations
	// cannot overshoot max_devices.
	ok, err := txLicenses.IncrementActiveDevices(ctx, license.ID)
	if err != nil {
		return nil, errors.Wrap(err, "increment device count")
	}
	if !ok {
		tx.Rollback()

		// The slot may have been taken by this very device losing a
		// same-pair race; the retry lands on the refresh path then.
		if row, err := s.activations.GetByLicenseAndDevice(ctx, license.ID, deviceHash); err == nil && row.IsActive {
			return nil, &retryableConflict{err: errors.New("lost same-device activation race")}
		}

		// Re-read for honest numbers in the rejection.
		current, err := s.licenses.GetByID(ctx, license.ID)
		if err != nil {
			return nil, errors.Wrap(err, "reload license after cap rejection")
		}
		metrics.ActivationOutcome("device_limit")
		return nil, &DeviceLimitError{
			ActiveDevices: current.ActiveDeviceCount,
			MaxDevices:    current.MaxDevices,
		}
	}

	// Under row-level locking the increment may have blocked behind a
	// same-pair transaction that committed this exact row while we held a
	// pre-insert snapshot. Writing now would merge into that row and leave
	// the counter one too high, so undo and land on the refresh path.
	if row, err := txActivations.GetByLicenseAndDevice(ctx, license.ID, deviceHash); err == nil && row.IsActive {
		tx.Rollback()
		return nil, &retryableConflict{err: errors.New("lost same-device activation race")}
	} else if err != nil && !errors.Is(err, models.ErrActivationNotFound) {
		return nil, errors.Wrap(err, "recheck activation")
	}

	activation := &models.DeviceActivation{
		LicenseID:       license.ID,
		DeviceIDHash:    deviceHash,
		DeviceName:      meta.DeviceName,
		DeviceType:      meta.DeviceType,
		OSName:          meta.OSName,
		OSVersion:       meta.OSVersion,
		AppVersion:      meta.AppVersion,
		HardwareModel:   meta.HardwareModel,
		ActivationToken: signed,
		TokenExpiresAt:  expiresAt,
		LastIPAddress:   ipAddress,
	}

	if err := txActivations.Upsert(ctx, activation); err != nil {
		return nil, &retryableConflict{err: err}
	}

	if err := txLicenses.SetActivatedAtIfNull(ctx, license.ID); err != nil {
		return nil, errors.Wrap(err, "stamp first activation")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit activation")
	}

	return &Result{
		Token:     signed,
		ExpiresAt: expiresAt,
		LicenseID: license.ID,
		PackageID: license.PackageID,
	}, nil
}

// Validate checks an activation token in two tiers: the stateless
// signature/expiry check first, then an authoritative re-read of license
// and activation state so revocation wins over an unexpired token.
func (s *Service) Validate(ctx context.Context, tokenStr, deviceID, ipAddress string) (*ValidationClaims, error) {
	claims, err := s.issuer.Verify(tokenStr)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			metrics.ValidationOutcome("token_expired")
		} else {
			metrics.ValidationOutcome("token_invalid")
		}
		return nil, err
	}

	// The token must be presented by the device it was bound to.
	if auth.HashKey(deviceID) != claims.DeviceIDHash {
		metrics.ValidationOutcome("device_mismatch")
		return nil, token.ErrTokenInvalid
	}

	license, err := s.licenses.GetByID(ctx, claims.LicenseID)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			metrics.ValidationOutcome("license_gone")
			return nil, token.ErrTokenInvalid
		}
		return nil, errors.Wrap(err, "reload license")
	}

	if license.Status != models.LicenseStatusActive || license.IsExpired(time.Now()) {
		metrics.ValidationOutcome("license_inactive")
		return nil, token.ErrTokenInvalid
	}

	activation, err := s.activations.GetByLicenseAndDevice(ctx, claims.LicenseID, claims.DeviceIDHash)
	if err != nil {
		if errors.Is(err, models.ErrActivationNotFound) {
			metrics.ValidationOutcome("activation_gone")
			return nil, token.ErrTokenInvalid
		}
		return nil, errors.Wrap(err, "reload activation")
	}

	if !activation.IsActive {
		metrics.ValidationOutcome("deactivated")
		return nil, token.ErrTokenInvalid
	}

	metrics.ValidationOutcome("valid")

	// Liveness update is best-effort and off the request path.
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.activations.Touch(touchCtx, claims.LicenseID, claims.DeviceIDHash, ipAddress); err != nil {
			log.Debug().Err(err).Str("licenseId", claims.LicenseID).Msg("Failed to touch activation")
		}
		if s.touchWait != nil {
			s.touchWait()
		}
	}()

	return &ValidationClaims{
		LicenseID:   claims.LicenseID,
		PackageID:   claims.PackageID,
		OwnerUserID: claims.OwnerUserID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Deactivate releases a device slot. Idempotent: deactivating an already
// inactive pair succeeds without touching the counter.
func (s *Service) Deactivate(ctx context.Context, licenseID, deviceID string) error {
	return s.deactivateHash(ctx, licenseID, auth.HashKey(deviceID))
}

// DeactivateByHash releases a slot identified by its stored device hash.
// The admin surface only ever sees hashes, never raw device IDs.
func (s *Service) DeactivateByHash(ctx context.Context, licenseID, deviceHash string) error {
	return s.deactivateHash(ctx, licenseID, deviceHash)
}

// DeactivateByToken releases the slot bound to a still-valid token. The
// token itself is the authorization: it proves control of exactly that
// device.
func (s *Service) DeactivateByToken(ctx context.Context, tokenStr string) error {
	claims, err := s.issuer.Verify(tokenStr)
	if err != nil {
		return err
	}

	return s.deactivateHash(ctx, claims.LicenseID, claims.DeviceIDHash)
}

func (s *Service) deactivateHash(ctx context.Context, licenseID, deviceHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin deactivation transaction")
	}
	defer tx.Rollback()

	changed, err := models.NewActivationStore(tx).MarkInactive(ctx, licenseID, deviceHash)
	if err != nil {
		return errors.Wrap(err, "mark activation inactive")
	}

	if !changed {
		// Already inactive or never activated: success, nothing to undo.
		return nil
	}

	if err := models.NewLicenseStore(tx).DecrementActiveDevices(ctx, licenseID); err != nil {
		return errors.Wrap(err, "decrement device count")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit deactivation")
	}

	metrics.ActivationOutcome("deactivated")

	log.Debug().
		Str("licenseId", licenseID).
		Str("deviceHash", deviceHash).
		Msg("Device deactivated")

	return nil
}
