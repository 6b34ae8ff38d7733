// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package licensing

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/crypto"
	"github.com/keygate/keygate/internal/database"
	"github.com/keygate/keygate/internal/models"
	"github.com/keygate/keygate/internal/services/activation"
	"github.com/keygate/keygate/internal/token"
)

func newTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	encryptor, err := crypto.NewAESEncryptor(auth.DeriveEncryptionKey("test-session-secret"))
	require.NoError(t, err)

	return NewService(db, encryptor), db
}

func TestCreateReturnsRawKeyOnce(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	license, key, err := svc.Create(ctx, CreateParams{
		PackageID:   "pkg-editor",
		OwnerUserID: "owner-1",
		MaxDevices:  5,
	})
	require.NoError(t, err)

	assert.Regexp(t, `^KG-`, key)
	assert.Equal(t, models.LicenseStatusActive, license.Status)
	assert.Equal(t, "standard", license.LicenseType, "empty type defaults to standard")
	assert.Equal(t, 5, license.MaxDevices)
	assert.Equal(t, auth.HashKey(key), license.KeyHash)
	assert.NotEqual(t, key, license.KeyEncrypted, "raw key is never stored")
}

func TestGetAttachesMaskedKey(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	created, key, err := svc.Create(ctx, CreateParams{PackageID: "pkg-editor"})
	require.NoError(t, err)

	license, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)

	require.NotEmpty(t, license.MaskedKey)
	assert.True(t, strings.HasSuffix(license.MaskedKey, key[len(key)-4:]), "masked key keeps the last four characters")
	assert.True(t, strings.HasPrefix(license.MaskedKey, "****"), "masked key hides the rest")
	assert.NotContains(t, license.MaskedKey, key[:len(key)-4])

	_, err = svc.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)
}

func TestListNewestFirstWithMaskedKeys(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.Create(ctx, CreateParams{PackageID: "pkg-one"})
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	second, _, err := svc.Create(ctx, CreateParams{PackageID: "pkg-two"})
	require.NoError(t, err)

	listed, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	assert.Equal(t, second.ID, listed[0].ID, "newest license leads")
	assert.Equal(t, first.ID, listed[1].ID)
	for _, l := range listed {
		assert.NotEmpty(t, l.MaskedKey)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	created, _, err := svc.Create(ctx, CreateParams{PackageID: "pkg-editor"})
	require.NoError(t, err)

	require.NoError(t, svc.Suspend(ctx, created.ID))
	current, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusSuspended, current.Status)

	require.NoError(t, svc.Reactivate(ctx, created.ID))
	current, err = svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, current.Status)

	require.NoError(t, svc.Revoke(ctx, created.ID))
	current, err = svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusRevoked, current.Status)
	assert.NotNil(t, current.RevokedAt)
}

func TestRevealKeyRecoversRawKey(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	created, key, err := svc.Create(ctx, CreateParams{PackageID: "pkg-editor"})
	require.NoError(t, err)

	revealed, err := svc.RevealKey(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, key, revealed)

	_, err = svc.RevealKey(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)
}

func TestListActivations(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	created, key, err := svc.Create(ctx, CreateParams{PackageID: "pkg-editor", MaxDevices: 5})
	require.NoError(t, err)

	activationSvc := activation.NewService(db, token.NewIssuer("licensing-test-secret-32-characters!"))
	_, err = activationSvc.Activate(ctx, key, "device-a", activation.DeviceMetadata{DeviceName: "a"}, "")
	require.NoError(t, err)
	_, err = activationSvc.Activate(ctx, key, "device-b", activation.DeviceMetadata{DeviceName: "b"}, "")
	require.NoError(t, err)

	rows, err := svc.ListActivations(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = svc.ListActivations(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)
}
