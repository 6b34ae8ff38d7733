// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesSchema(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "keygate.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, DialectSQLite, db.Dialect())

	// Migrations must have created the core tables.
	for _, table := range []string{"users", "licenses", "device_activations", "sessions"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "expected table %s", table)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "keygate.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Re-opening the same file must apply nothing and succeed.
	db, err = New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
}

func TestTransactionRollback(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "keygate.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = tx.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)",
		"ghost", "hash", "admin")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConcurrentReadThenWriteTransactions(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "keygate.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	_, err = db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)",
		"counter", "0", "owner")
	require.NoError(t, err)

	// Each transaction reads before it writes. Without write
	// serialization SQLite aborts the late upgrader with SQLITE_BUSY,
	// which busy_timeout never retries.
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				errs <- err
				return
			}
			defer tx.Rollback()

			var current string
			if err := tx.QueryRowContext(ctx,
				"SELECT password_hash FROM users WHERE username = ?", "counter").Scan(&current); err != nil {
				errs <- err
				return
			}

			if _, err := tx.ExecContext(ctx,
				"UPDATE users SET password_hash = password_hash + 1 WHERE username = ?", "counter"); err != nil {
				errs <- err
				return
			}

			errs <- tx.Commit()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var final string
	err = db.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE username = ?", "counter").Scan(&final)
	require.NoError(t, err)
	assert.Equal(t, "16", final, "every transaction's write must land")
}
