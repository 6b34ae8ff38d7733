// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package licensing is the operator surface over the license registry:
// creating, suspending, revoking, and inspecting licenses. The activation
// core only ever reads what this package writes.
package licensing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/crypto"
	"github.com/keygate/keygate/internal/dbinterface"
	"github.com/keygate/keygate/internal/domain"
	"github.com/keygate/keygate/internal/models"
)

type Service struct {
	licenses    *models.LicenseStore
	activations *models.ActivationStore
	encryptor   *crypto.AESEncryptor
}

func NewService(db dbinterface.Querier, encryptor *crypto.AESEncryptor) *Service {
	return &Service{
		licenses:    models.NewLicenseStore(db),
		activations: models.NewActivationStore(db),
		encryptor:   encryptor,
	}
}

// CreateParams describes a license to create. MaxDevices = 0 means
// unlimited; this is deliberate, the create paths always set it
// explicitly.
type CreateParams struct {
	PackageID   string
	OwnerUserID string
	LicenseType string
	MaxDevices  int
	ExpiresAt   *time.Time
}

// Create generates a fresh license key, stores its hash and an encrypted
// copy, and returns the license together with the raw key. The raw key is
// shown exactly once; afterwards only the gated reveal can recover it.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.License, string, error) {
	key, err := auth.GenerateLicenseKey()
	if err != nil {
		return nil, "", errors.Wrap(err, "generate license key")
	}

	encrypted, err := s.encryptor.Encrypt(key)
	if err != nil {
		return nil, "", errors.Wrap(err, "encrypt license key")
	}

	licenseType := params.LicenseType
	if licenseType == "" {
		licenseType = "standard"
	}

	license := &models.License{
		ID:           uuid.New().String(),
		KeyHash:      auth.HashKey(key),
		KeyEncrypted: encrypted,
		PackageID:    params.PackageID,
		OwnerUserID:  params.OwnerUserID,
		Status:       models.LicenseStatusActive,
		LicenseType:  licenseType,
		MaxDevices:   params.MaxDevices,
		ExpiresAt:    params.ExpiresAt,
	}

	if err := s.licenses.Create(ctx, license); err != nil {
		return nil, "", err
	}

	log.Info().
		Str("licenseId", license.ID).
		Str("packageId", license.PackageID).
		Str("licenseKey", domain.MaskKey(key)).
		Int("maxDevices", license.MaxDevices).
		Msg("License created")

	return license, key, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.License, error) {
	license, err := s.licenses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.attachMaskedKey(license)

	return license, nil
}

func (s *Service) List(ctx context.Context) ([]*models.License, error) {
	licenses, err := s.licenses.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, license := range licenses {
		s.attachMaskedKey(license)
	}

	return licenses, nil
}

func (s *Service) Suspend(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.LicenseStatusSuspended)
}

func (s *Service) Revoke(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.LicenseStatusRevoked)
}

func (s *Service) Reactivate(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.LicenseStatusActive)
}

func (s *Service) setStatus(ctx context.Context, id, status string) error {
	if err := s.licenses.SetStatus(ctx, id, status); err != nil {
		return err
	}

	log.Info().Str("licenseId", id).Str("status", status).Msg("License status changed")

	return nil
}

// RevealKey decrypts the full license key for a gated operator request.
// Client-side display hiding is a screen-exposure mitigation, not
// something the server can enforce.
func (s *Service) RevealKey(ctx context.Context, id string) (string, error) {
	license, err := s.licenses.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	key, err := s.encryptor.Decrypt(license.KeyEncrypted)
	if err != nil {
		return "", errors.Wrap(err, "decrypt license key")
	}

	log.Info().Str("licenseId", id).Msg("License key revealed to operator")

	return key, nil
}

// ListActivations returns a license's device activations, newest first.
func (s *Service) ListActivations(ctx context.Context, licenseID string) ([]*models.DeviceActivation, error) {
	if _, err := s.licenses.GetByID(ctx, licenseID); err != nil {
		return nil, err
	}

	return s.activations.ListByLicense(ctx, licenseID)
}

func (s *Service) attachMaskedKey(license *models.License) {
	key, err := s.encryptor.Decrypt(license.KeyEncrypted)
	if err != nil {
		log.Warn().Err(err).Str("licenseId", license.ID).Msg("Failed to decrypt license key for display")
		return
	}
	license.MaskedKey = domain.MaskKey(key)
}
