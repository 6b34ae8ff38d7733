// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/keygate/keygate/internal/dbinterface"
)

var ErrActivationNotFound = errors.New("device activation not found")

// DeviceActivation is the binding of one device to one license. Exactly one
// row exists per (license, device hash) pair: re-activation flips the
// existing row back to active instead of appending, and deactivation keeps
// the row around as history.
type DeviceActivation struct {
	ID              int64      `json:"id"`
	LicenseID       string     `json:"licenseId"`
	DeviceIDHash    string     `json:"deviceIdHash"`
	DeviceName      string     `json:"deviceName,omitempty"`
	DeviceType      string     `json:"deviceType,omitempty"`
	OSName          string     `json:"osName,omitempty"`
	OSVersion       string     `json:"osVersion,omitempty"`
	AppVersion      string     `json:"appVersion,omitempty"`
	HardwareModel   string     `json:"hardwareModel,omitempty"`
	IsActive        bool       `json:"isActive"`
	ActivationToken string     `json:"-"`
	TokenExpiresAt  time.Time  `json:"tokenExpiresAt"`
	LastSeenAt      *time.Time `json:"lastSeenAt,omitempty"`
	LastIPAddress   string     `json:"lastIpAddress,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ActivationStore provides access to the device activation ledger.
type ActivationStore struct {
	db dbinterface.Querier
}

func NewActivationStore(db dbinterface.Querier) *ActivationStore {
	return &ActivationStore{db: db}
}

const activationColumns = `id, license_id, device_id_hash, device_name, device_type, os_name, os_version,
		       app_version, hardware_model, is_active, activation_token, token_expires_at,
		       last_seen_at, last_ip_address, created_at, updated_at`

func (s *ActivationStore) GetByLicenseAndDevice(ctx context.Context, licenseID, deviceIDHash string) (*DeviceActivation, error) {
	query := `
		SELECT ` + activationColumns + `
		FROM device_activations
		WHERE license_id = ? AND device_id_hash = ?
	`

	activation, err := scanActivation(s.db.QueryRowContext(ctx, query, licenseID, deviceIDHash).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrActivationNotFound
		}
		return nil, err
	}

	return activation, nil
}

// Upsert inserts the activation or, when the (license, device) pair already
// has a row, updates it in place and flips it back to active. The original
// created_at survives re-activation.
func (s *ActivationStore) Upsert(ctx context.Context, activation *DeviceActivation) error {
	query := `
		INSERT INTO device_activations (
			license_id, device_id_hash, device_name, device_type, os_name, os_version,
			app_version, hardware_model, is_active, activation_token, token_expires_at,
			last_seen_at, last_ip_address
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT (license_id, device_id_hash) DO UPDATE SET
			device_name = excluded.device_name,
			device_type = excluded.device_type,
			os_name = excluded.os_name,
			os_version = excluded.os_version,
			app_version = excluded.app_version,
			hardware_model = excluded.hardware_model,
			is_active = TRUE,
			activation_token = excluded.activation_token,
			token_expires_at = excluded.token_expires_at,
			last_seen_at = CURRENT_TIMESTAMP,
			last_ip_address = excluded.last_ip_address,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		activation.LicenseID,
		activation.DeviceIDHash,
		activation.DeviceName,
		activation.DeviceType,
		activation.OSName,
		activation.OSVersion,
		activation.AppVersion,
		activation.HardwareModel,
		activation.ActivationToken,
		activation.TokenExpiresAt,
		activation.LastIPAddress,
	)
	return err
}

// RefreshToken updates the stored token and metadata for an already-active
// pair without touching is_active or created_at.
func (s *ActivationStore) RefreshToken(ctx context.Context, licenseID, deviceIDHash, token string, tokenExpiresAt time.Time, appVersion, ipAddress string) error {
	query := `
		UPDATE device_activations
		SET activation_token = ?,
		    token_expires_at = ?,
		    app_version = ?,
		    last_seen_at = CURRENT_TIMESTAMP,
		    last_ip_address = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE license_id = ? AND device_id_hash = ?
	`

	_, err := s.db.ExecContext(ctx, query, token, tokenExpiresAt, appVersion, ipAddress, licenseID, deviceIDHash)
	return err
}

// MarkInactive flips the row to inactive. Returns false when the row was
// already inactive (or absent), so deactivation stays idempotent upstream.
func (s *ActivationStore) MarkInactive(ctx context.Context, licenseID, deviceIDHash string) (bool, error) {
	query := `
		UPDATE device_activations
		SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE license_id = ? AND device_id_hash = ? AND is_active = TRUE
	`

	result, err := s.db.ExecContext(ctx, query, licenseID, deviceIDHash)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// Touch records liveness on successful validation. Best-effort by design;
// callers ignore the error beyond logging.
func (s *ActivationStore) Touch(ctx context.Context, licenseID, deviceIDHash, ipAddress string) error {
	query := `
		UPDATE device_activations
		SET last_seen_at = CURRENT_TIMESTAMP, last_ip_address = ?
		WHERE license_id = ? AND device_id_hash = ?
	`

	_, err := s.db.ExecContext(ctx, query, ipAddress, licenseID, deviceIDHash)
	return err
}

// ListByLicense returns a license's activations newest first, for the
// operator surface.
func (s *ActivationStore) ListByLicense(ctx context.Context, licenseID string) ([]*DeviceActivation, error) {
	query := `
		SELECT ` + activationColumns + `
		FROM device_activations
		WHERE license_id = ?
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*DeviceActivation
	for rows.Next() {
		activation, err := scanActivation(rows.Scan)
		if err != nil {
			return nil, err
		}
		activations = append(activations, activation)
	}

	return activations, rows.Err()
}

// CountActive reports active rows for a license. Used by tests and the
// operator surface to cross-check the registry counter.
func (s *ActivationStore) CountActive(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM device_activations WHERE license_id = ? AND is_active = TRUE`,
		licenseID,
	).Scan(&count)
	return count, err
}

func scanActivation(scan func(dest ...any) error) (*DeviceActivation, error) {
	activation := &DeviceActivation{}

	var lastSeenAt sql.NullTime

	err := scan(
		&activation.ID,
		&activation.LicenseID,
		&activation.DeviceIDHash,
		&activation.DeviceName,
		&activation.DeviceType,
		&activation.OSName,
		&activation.OSVersion,
		&activation.AppVersion,
		&activation.HardwareModel,
		&activation.IsActive,
		&activation.ActivationToken,
		&activation.TokenExpiresAt,
		&lastSeenAt,
		&activation.LastIPAddress,
		&activation.CreatedAt,
		&activation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSeenAt.Valid {
		activation.LastSeenAt = &lastSeenAt.Time
	}

	return activation, nil
}
