// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/database"
	"github.com/keygate/keygate/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func createTestLicense(t *testing.T, store *models.LicenseStore, maxDevices int, expiresAt *time.Time) *models.License {
	t.Helper()

	key, err := auth.GenerateLicenseKey()
	require.NoError(t, err)

	license := &models.License{
		ID:           uuid.NewString(),
		KeyHash:      auth.HashKey(key),
		KeyEncrypted: "ciphertext-" + key,
		PackageID:    "pkg-test",
		OwnerUserID:  "owner-test",
		Status:       models.LicenseStatusActive,
		LicenseType:  "standard",
		MaxDevices:   maxDevices,
		ExpiresAt:    expiresAt,
	}

	require.NoError(t, store.Create(context.Background(), license))

	stored, err := store.GetByID(context.Background(), license.ID)
	require.NoError(t, err)

	return stored
}
