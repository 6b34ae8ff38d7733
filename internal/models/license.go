// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/keygate/keygate/internal/dbinterface"
)

var (
	ErrLicenseNotFound  = errors.New("license not found")
	ErrDuplicateLicense = errors.New("license key already exists")
)

// License status constants. Expiry is derived from ExpiresAt, never stored.
const (
	LicenseStatusActive    = "active"
	LicenseStatusSuspended = "suspended"
	LicenseStatusRevoked   = "revoked"
)

// License represents a purchased right to run one package, identified by a
// secret key. The raw key is never stored: KeyHash is the lookup value and
// KeyEncrypted holds an AES-GCM ciphertext for the gated admin reveal.
type License struct {
	ID                string     `json:"id"`
	KeyHash           string     `json:"-"`
	KeyEncrypted      string     `json:"-"`
	PackageID         string     `json:"packageId"`
	OwnerUserID       string     `json:"ownerUserId"`
	Status            string     `json:"status"`
	LicenseType       string     `json:"licenseType"`
	MaxDevices        int        `json:"maxDevices"`
	ActiveDeviceCount int        `json:"activeDeviceCount"`
	ActivatedAt       *time.Time `json:"activatedAt,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`

	// MaskedKey is the display form of the key, all but the last four
	// characters hidden. Populated from the decrypted key, never read
	// back from storage.
	MaskedKey string `json:"-"`
}

// IsExpired reports whether the license has an expiry in the past.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// EffectiveStatus returns the stored status, or "expired" when the expiry
// has passed and the license has not been revoked or suspended.
func (l *License) EffectiveStatus(now time.Time) string {
	if l.Status == LicenseStatusActive && l.IsExpired(now) {
		return "expired"
	}
	return l.Status
}

func (l License) MarshalJSON() ([]byte, error) {
	type alias License
	return json.Marshal(&struct {
		alias
		LicenseKey string `json:"licenseKey"`
	}{
		alias:      alias(l),
		LicenseKey: l.MaskedKey,
	})
}

// LicenseStore provides access to license rows. The activation core only
// reads lifecycle fields and adjusts the device counter; creation and
// suspension/revocation come from the operator surface.
type LicenseStore struct {
	db dbinterface.Querier
}

func NewLicenseStore(db dbinterface.Querier) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseColumns = `id, key_hash, key_encrypted, package_id, owner_user_id, status, license_type,
		       max_devices, active_device_count, activated_at, expires_at, revoked_at, created_at`

func (s *LicenseStore) Create(ctx context.Context, license *License) error {
	query := `
		INSERT INTO licenses (id, key_hash, key_encrypted, package_id, owner_user_id, status, license_type, max_devices, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		license.ID,
		license.KeyHash,
		license.KeyEncrypted,
		license.PackageID,
		license.OwnerUserID,
		license.Status,
		license.LicenseType,
		license.MaxDevices,
		license.ExpiresAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateLicense
		}
		return err
	}

	return nil
}

func (s *LicenseStore) GetByKeyHash(ctx context.Context, keyHash string) (*License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses
		WHERE key_hash = ?
	`

	return s.scanOne(s.db.QueryRowContext(ctx, query, keyHash))
}

func (s *LicenseStore) GetByID(ctx context.Context, id string) (*License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses
		WHERE id = ?
	`

	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

func (s *LicenseStore) List(ctx context.Context) ([]*License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		license, err := scanLicense(rows.Scan)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, license)
	}

	return licenses, rows.Err()
}

// SetStatus updates the lifecycle status. Revocation also stamps
// revoked_at; moving back to active clears it.
func (s *LicenseStore) SetStatus(ctx context.Context, id, status string) error {
	var query string
	switch status {
	case LicenseStatusRevoked:
		query = `UPDATE licenses SET status = ?, revoked_at = CURRENT_TIMESTAMP WHERE id = ?`
	default:
		query = `UPDATE licenses SET status = ?, revoked_at = NULL WHERE id = ?`
	}

	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}

	return nil
}

// IncrementActiveDevices bumps the active device counter only while it
// stays within the cap (max_devices = 0 means unlimited). The check and
// the increment are one statement, so two concurrent activations racing
// for the last slot cannot both win. Returns false when the cap is full.
func (s *LicenseStore) IncrementActiveDevices(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE licenses
		SET active_device_count = active_device_count + 1
		WHERE id = ?
		  AND (max_devices = 0 OR active_device_count < max_devices)
	`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// DecrementActiveDevices lowers the counter, flooring at zero.
func (s *LicenseStore) DecrementActiveDevices(ctx context.Context, id string) error {
	query := `
		UPDATE licenses
		SET active_device_count = active_device_count - 1
		WHERE id = ? AND active_device_count > 0
	`

	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// SetActivatedAtIfNull stamps first activation exactly once.
func (s *LicenseStore) SetActivatedAtIfNull(ctx context.Context, id string) error {
	query := `
		UPDATE licenses
		SET activated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND activated_at IS NULL
	`

	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *LicenseStore) scanOne(row *sql.Row) (*License, error) {
	license, err := scanLicense(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	return license, nil
}

func scanLicense(scan func(dest ...any) error) (*License, error) {
	license := &License{}

	var activatedAt, expiresAt, revokedAt sql.NullTime

	err := scan(
		&license.ID,
		&license.KeyHash,
		&license.KeyEncrypted,
		&license.PackageID,
		&license.OwnerUserID,
		&license.Status,
		&license.LicenseType,
		&license.MaxDevices,
		&license.ActiveDeviceCount,
		&activatedAt,
		&expiresAt,
		&revokedAt,
		&license.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if activatedAt.Valid {
		license.ActivatedAt = &activatedAt.Time
	}
	if expiresAt.Valid {
		license.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		license.RevokedAt = &revokedAt.Time
	}

	return license, nil
}
