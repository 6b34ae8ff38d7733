// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ctxkeys defines shared request context keys.
package ctxkeys

type contextKey string

const (
	Username contextKey = "username"
)
