// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var licenseKeyPattern = regexp.MustCompile(`KG-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}`)

func TestLicenseCreateCommandPrintsKeyOnce(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")
	prepareConfigDir(t, configDir)

	output := mustRunCommand(t, RunLicenseCommand(),
		"create",
		"--config-dir", configDir,
		"--package", "com.example.studio",
		"--owner", "user-1",
		"--max-devices", "3",
	)

	assert.Contains(t, output, "License created: ")
	assert.Contains(t, output, "only shown in full on creation")

	key := licenseKeyPattern.FindString(output)
	require.NotEmpty(t, key, "output should carry the raw license key")

	// Listing afterwards must only show the masked form.
	output = mustRunCommand(t, RunLicenseCommand(), "list", "--config-dir", configDir)
	assert.NotContains(t, output, key)
	assert.Contains(t, output, key[len(key)-4:])
	assert.Contains(t, output, "1 licenses")
	assert.Contains(t, output, "devices=0/3")
}

func TestLicenseCreateCommandRequiresPackage(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")
	prepareConfigDir(t, configDir)

	_, err := runCommand(RunLicenseCommand(), "create", "--config-dir", configDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--package is required")
}

func TestLicenseStatusCommands(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")
	prepareConfigDir(t, configDir)

	output := mustRunCommand(t, RunLicenseCommand(),
		"create",
		"--config-dir", configDir,
		"--package", "com.example.studio",
		"--owner", "user-1",
	)

	id := strings.TrimSpace(strings.TrimPrefix(
		strings.SplitN(output, "\n", 2)[0], "License created:"))
	require.NotEmpty(t, id)

	output = mustRunCommand(t, RunLicenseCommand(), "suspend", id, "--config-dir", configDir)
	assert.Contains(t, output, "suspend applied")

	output = mustRunCommand(t, RunLicenseCommand(), "list", "--config-dir", configDir)
	assert.Contains(t, output, "suspended")

	output = mustRunCommand(t, RunLicenseCommand(), "reactivate", id, "--config-dir", configDir)
	assert.Contains(t, output, "reactivate applied")

	output = mustRunCommand(t, RunLicenseCommand(), "show", id, "--config-dir", configDir)
	assert.Contains(t, output, "Status:   active")
	assert.Contains(t, output, "Package:  com.example.studio")
}

func TestLicenseShowUnknownID(t *testing.T) {
	configDir := filepath.Join(t.TempDir(), "config")
	prepareConfigDir(t, configDir)

	_, err := runCommand(RunLicenseCommand(), "show", "does-not-exist", "--config-dir", configDir)
	require.Error(t, err)
}
