// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/models"
)

func TestLicenseStoreCreateAndLookup(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	license := createTestLicense(t, store, 3, nil)

	byHash, err := store.GetByKeyHash(ctx, license.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, license.ID, byHash.ID)
	assert.Equal(t, "pkg-test", byHash.PackageID)
	assert.Equal(t, models.LicenseStatusActive, byHash.Status)
	assert.Equal(t, 3, byHash.MaxDevices)
	assert.Equal(t, 0, byHash.ActiveDeviceCount)
	assert.Nil(t, byHash.ActivatedAt)
	assert.Nil(t, byHash.RevokedAt)

	_, err = store.GetByKeyHash(ctx, auth.HashKey("no-such-key"))
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)

	_, err = store.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)
}

func TestLicenseStoreRejectsDuplicateKeyHash(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	license := createTestLicense(t, store, 0, nil)

	dup := &models.License{
		ID:           uuid.NewString(),
		KeyHash:      license.KeyHash,
		KeyEncrypted: "other",
		PackageID:    "pkg-test",
		Status:       models.LicenseStatusActive,
		LicenseType:  "standard",
	}

	err := store.Create(ctx, dup)
	assert.ErrorIs(t, err, models.ErrDuplicateLicense)
}

func TestLicenseStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		license := createTestLicense(t, store, 0, nil)
		ids = append(ids, license.ID)
		// created_at has second resolution in SQLite.
		time.Sleep(1100 * time.Millisecond)
	}

	listed, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 3)

	assert.Equal(t, ids[2], listed[0].ID)
	assert.Equal(t, ids[1], listed[1].ID)
	assert.Equal(t, ids[0], listed[2].ID)
}

func TestLicenseStoreSetStatus(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	license := createTestLicense(t, store, 0, nil)

	require.NoError(t, store.SetStatus(ctx, license.ID, models.LicenseStatusSuspended))
	current, err := store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusSuspended, current.Status)
	assert.Nil(t, current.RevokedAt)

	require.NoError(t, store.SetStatus(ctx, license.ID, models.LicenseStatusRevoked))
	current, err = store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, current.Status)
	assert.NotNil(t, current.RevokedAt, "revocation must stamp revoked_at")

	require.NoError(t, store.SetStatus(ctx, license.ID, models.LicenseStatusActive))
	current, err = store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, current.Status)
	assert.Nil(t, current.RevokedAt, "reactivation clears revoked_at")

	err = store.SetStatus(ctx, uuid.NewString(), models.LicenseStatusSuspended)
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)
}

func TestIncrementActiveDevicesHonorsCap(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	license := createTestLicense(t, store, 2, nil)

	for i := 0; i < 2; i++ {
		ok, err := store.IncrementActiveDevices(ctx, license.ID)
		require.NoError(t, err)
		assert.True(t, ok, "increment %d should fit under the cap", i+1)
	}

	ok, err := store.IncrementActiveDevices(ctx, license.ID)
	require.NoError(t, err)
	assert.False(t, ok, "third increment must be rejected at max_devices=2")

	current, err := store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.ActiveDeviceCount, "rejected increment must not change the counter")
}

func TestIncrementActiveDevicesUnlimitedWhenZero(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	license := createTestLicense(t, store, 0, nil)

	for i := 0; i < 25; i++ {
		ok, err := store.IncrementActiveDevices(ctx, license.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	current, err := store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, current.ActiveDeviceCount)
}

func TestDecrementActiveDevicesFloorsAtZero(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	license := createTestLicense(t, store, 0, nil)

	ok, err := store.IncrementActiveDevices(ctx, license.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.DecrementActiveDevices(ctx, license.ID))
	require.NoError(t, store.DecrementActiveDevices(ctx, license.ID))
	require.NoError(t, store.DecrementActiveDevices(ctx, license.ID))

	current, err := store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.ActiveDeviceCount)
}

func TestSetActivatedAtIfNullStampsOnce(t *testing.T) {
	t.Parallel()

	store := models.NewLicenseStore(newTestDB(t))
	ctx := context.Background()

	license := createTestLicense(t, store, 0, nil)

	require.NoError(t, store.SetActivatedAtIfNull(ctx, license.ID))
	first, err := store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ActivatedAt)

	time.Sleep(1100 * time.Millisecond)

	require.NoError(t, store.SetActivatedAtIfNull(ctx, license.ID))
	second, err := store.GetByID(ctx, license.ID)
	require.NoError(t, err)
	require.NotNil(t, second.ActivatedAt)
	assert.Equal(t, first.ActivatedAt.Unix(), second.ActivatedAt.Unix(), "first activation stamp must survive")
}

func TestLicenseIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&models.License{}).IsExpired(now), "no expiry means perpetual")
	assert.False(t, (&models.License{ExpiresAt: &future}).IsExpired(now))
	assert.True(t, (&models.License{ExpiresAt: &past}).IsExpired(now))
}

func TestLicenseEffectiveStatus(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past := now.Add(-time.Hour)

	expired := &models.License{Status: models.LicenseStatusActive, ExpiresAt: &past}
	assert.Equal(t, "expired", expired.EffectiveStatus(now))

	revoked := &models.License{Status: models.LicenseStatusRevoked, ExpiresAt: &past}
	assert.Equal(t, models.LicenseStatusRevoked, revoked.EffectiveStatus(now), "revoked wins over expired")

	active := &models.License{Status: models.LicenseStatusActive}
	assert.Equal(t, models.LicenseStatusActive, active.EffectiveStatus(now))
}
