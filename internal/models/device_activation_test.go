// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/models"
)

func newActivation(licenseID, deviceID string) *models.DeviceActivation {
	return &models.DeviceActivation{
		LicenseID:       licenseID,
		DeviceIDHash:    auth.HashKey(deviceID),
		DeviceName:      "workstation",
		DeviceType:      "desktop",
		OSName:          "linux",
		AppVersion:      "1.0.0",
		ActivationToken: "token-" + deviceID,
		TokenExpiresAt:  time.Now().Add(30 * 24 * time.Hour).UTC(),
		LastIPAddress:   "203.0.113.7",
	}
}

func TestActivationStoreUpsertAndGet(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	licenses := models.NewLicenseStore(db)
	store := models.NewActivationStore(db)
	ctx := context.Background()

	license := createTestLicense(t, licenses, 0, nil)

	_, err := store.GetByLicenseAndDevice(ctx, license.ID, auth.HashKey("device-a"))
	assert.ErrorIs(t, err, models.ErrActivationNotFound)

	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-a")))

	stored, err := store.GetByLicenseAndDevice(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, "workstation", stored.DeviceName)
	assert.Equal(t, "token-device-a", stored.ActivationToken)
	assert.NotNil(t, stored.LastSeenAt)
	assert.Equal(t, "203.0.113.7", stored.LastIPAddress)
}

func TestActivationStoreUpsertKeepsOneRowPerPair(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	licenses := models.NewLicenseStore(db)
	store := models.NewActivationStore(db)
	ctx := context.Background()

	license := createTestLicense(t, licenses, 0, nil)

	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-a")))

	first, err := store.GetByLicenseAndDevice(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)

	// Release the slot, then re-activate the same pair with new details.
	changed, err := store.MarkInactive(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)
	require.True(t, changed)

	again := newActivation(license.ID, "device-a")
	again.DeviceName = "renamed"
	again.ActivationToken = "token-refreshed"
	require.NoError(t, store.Upsert(ctx, again))

	rows, err := store.ListByLicense(ctx, license.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1, "re-activation must update the row, not append")

	current := rows[0]
	assert.Equal(t, first.ID, current.ID)
	assert.True(t, current.IsActive, "upsert flips the pair back to active")
	assert.Equal(t, "renamed", current.DeviceName)
	assert.Equal(t, "token-refreshed", current.ActivationToken)
	assert.Equal(t, first.CreatedAt.Unix(), current.CreatedAt.Unix(), "created_at survives re-activation")
}

func TestActivationStoreRefreshToken(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	licenses := models.NewLicenseStore(db)
	store := models.NewActivationStore(db)
	ctx := context.Background()

	license := createTestLicense(t, licenses, 0, nil)
	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-a")))

	newExpiry := time.Now().Add(60 * 24 * time.Hour).UTC()
	err := store.RefreshToken(ctx, license.ID, auth.HashKey("device-a"), "token-v2", newExpiry, "1.1.0", "198.51.100.9")
	require.NoError(t, err)

	current, err := store.GetByLicenseAndDevice(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)
	assert.Equal(t, "token-v2", current.ActivationToken)
	assert.Equal(t, "1.1.0", current.AppVersion)
	assert.Equal(t, "198.51.100.9", current.LastIPAddress)
	assert.True(t, current.IsActive)
	assert.WithinDuration(t, newExpiry, current.TokenExpiresAt, time.Second)
}

func TestActivationStoreMarkInactiveIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	licenses := models.NewLicenseStore(db)
	store := models.NewActivationStore(db)
	ctx := context.Background()

	license := createTestLicense(t, licenses, 0, nil)
	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-a")))

	changed, err := store.MarkInactive(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkInactive(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)
	assert.False(t, changed, "second deactivation must report no change")

	changed, err = store.MarkInactive(ctx, license.ID, auth.HashKey("device-never-seen"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestActivationStoreListByLicenseNewestFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	licenses := models.NewLicenseStore(db)
	store := models.NewActivationStore(db)
	ctx := context.Background()

	license := createTestLicense(t, licenses, 0, nil)
	other := createTestLicense(t, licenses, 0, nil)

	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-a")))
	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-b")))
	require.NoError(t, store.Upsert(ctx, newActivation(other.ID, "device-x")))

	rows, err := store.ListByLicense(ctx, license.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2, "listing is scoped to one license")

	// Same-second inserts fall back to id DESC, so the later insert leads.
	assert.Equal(t, auth.HashKey("device-b"), rows[0].DeviceIDHash)
	assert.Equal(t, auth.HashKey("device-a"), rows[1].DeviceIDHash)
}

func TestActivationStoreCountActive(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	licenses := models.NewLicenseStore(db)
	store := models.NewActivationStore(db)
	ctx := context.Background()

	license := createTestLicense(t, licenses, 0, nil)

	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-a")))
	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-b")))

	count, err := store.CountActive(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = store.MarkInactive(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)

	count, err = store.CountActive(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActivationStoreTouch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	licenses := models.NewLicenseStore(db)
	store := models.NewActivationStore(db)
	ctx := context.Background()

	license := createTestLicense(t, licenses, 0, nil)
	require.NoError(t, store.Upsert(ctx, newActivation(license.ID, "device-a")))

	require.NoError(t, store.Touch(ctx, license.ID, auth.HashKey("device-a"), "192.0.2.200"))

	current, err := store.GetByLicenseAndDevice(ctx, license.ID, auth.HashKey("device-a"))
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.200", current.LastIPAddress)
	assert.NotNil(t, current.LastSeenAt)
}
