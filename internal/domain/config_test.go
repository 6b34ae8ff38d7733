// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSecrets(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("a", 64)

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg:  Config{SessionSecret: valid, SigningSecret: valid},
		},
		{
			name:    "missing session secret",
			cfg:     Config{SigningSecret: valid},
			wantErr: "sessionSecret",
		},
		{
			name:    "blank session secret",
			cfg:     Config{SessionSecret: "   ", SigningSecret: valid},
			wantErr: "sessionSecret",
		},
		{
			name:    "missing signing secret",
			cfg:     Config{SessionSecret: valid},
			wantErr: "signingSecret",
		},
		{
			name:    "short signing secret",
			cfg:     Config{SessionSecret: valid, SigningSecret: "too-short"},
			wantErr: "at least 32 characters",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.ValidateSecrets()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestListenAddr(t *testing.T) {
	t.Parallel()

	cfg := Config{Host: "127.0.0.1", Port: 7575}
	assert.Equal(t, "127.0.0.1:7575", cfg.ListenAddr())
}

func TestMaskKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "full key", key: "KG-AB12-CD34-EF56-GH78", want: "******************GH78"},
		{name: "short key", key: "abcd", want: "****"},
		{name: "tiny key", key: "ab", want: "**"},
		{name: "empty", key: "", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := MaskKey(tt.key)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, len(tt.key))
		})
	}
}

func TestRedactString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", RedactString(""))
	assert.Equal(t, "******", RedactString("secret"))
}
