// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/crypto"
	"github.com/keygate/keygate/internal/database"
	"github.com/keygate/keygate/internal/services/licensing"
)

func RunLicenseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "License operations",
	}

	cmd.AddCommand(runLicenseCreateCommand())
	cmd.AddCommand(runLicenseListCommand())
	cmd.AddCommand(runLicenseShowCommand())
	cmd.AddCommand(runLicenseStatusCommand("suspend", "Suspend a license", (*licensing.Service).Suspend))
	cmd.AddCommand(runLicenseStatusCommand("revoke", "Revoke a license permanently", (*licensing.Service).Revoke))
	cmd.AddCommand(runLicenseStatusCommand("reactivate", "Reactivate a suspended license", (*licensing.Service).Reactivate))

	return cmd
}

func runLicenseCreateCommand() *cobra.Command {
	var (
		configDir   string
		packageID   string
		ownerUserID string
		licenseType string
		maxDevices  int
		expiresIn   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new license and print its key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if packageID == "" {
				return errors.New("--package is required")
			}

			svc, cleanup, err := newLicensingService(configDir)
			if err != nil {
				return err
			}
			defer cleanup()

			params := licensing.CreateParams{
				PackageID:   packageID,
				OwnerUserID: ownerUserID,
				LicenseType: licenseType,
				MaxDevices:  maxDevices,
			}
			if expiresIn > 0 {
				expiresAt := time.Now().Add(expiresIn)
				params.ExpiresAt = &expiresAt
			}

			license, key, err := svc.Create(cmd.Context(), params)
			if err != nil {
				return err
			}

			cmd.Printf("License created: %s\n", license.ID)
			cmd.Printf("License key: %s\n", key)
			cmd.Println("Store the key now; it is only shown in full on creation.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory containing config.toml")
	cmd.Flags().StringVar(&packageID, "package", "", "Package or product identifier")
	cmd.Flags().StringVar(&ownerUserID, "owner", "", "Owner user identifier")
	cmd.Flags().StringVar(&licenseType, "type", "standard", "License type")
	cmd.Flags().IntVar(&maxDevices, "max-devices", 0, "Device limit (0 = unlimited)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Validity period, e.g. 8760h (0 = perpetual)")

	return cmd
}

func runLicenseListCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List licenses, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cleanup, err := newLicensingService(configDir)
			if err != nil {
				return err
			}
			defer cleanup()

			licenses, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}

			for _, l := range licenses {
				cmd.Printf("%s  %-22s  %-9s  devices=%d/%d  %s\n",
					l.ID, l.MaskedKey, l.EffectiveStatus(time.Now()), l.ActiveDeviceCount, l.MaxDevices, l.PackageID)
			}
			cmd.Printf("%d licenses\n", len(licenses))
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory containing config.toml")

	return cmd
}

func runLicenseShowCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "show <license-id>",
		Short: "Show license details and its device activations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newLicensingService(configDir)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()

			license, err := svc.Get(ctx, args[0])
			if err != nil {
				return err
			}

			cmd.Printf("ID:       %s\n", license.ID)
			cmd.Printf("Key:      %s\n", license.MaskedKey)
			cmd.Printf("Package:  %s\n", license.PackageID)
			cmd.Printf("Type:     %s\n", license.LicenseType)
			cmd.Printf("Status:   %s\n", license.EffectiveStatus(time.Now()))
			cmd.Printf("Devices:  %d/%d\n", license.ActiveDeviceCount, license.MaxDevices)
			if license.ExpiresAt != nil {
				cmd.Printf("Expires:  %s\n", license.ExpiresAt.Format(time.RFC3339))
			}

			activations, err := svc.ListActivations(ctx, license.ID)
			if err != nil {
				return err
			}

			for _, a := range activations {
				state := "inactive"
				if a.IsActive {
					state = "active"
				}
				lastSeen := "never"
				if a.LastSeenAt != nil {
					lastSeen = a.LastSeenAt.Format(time.RFC3339)
				}
				cmd.Printf("  device %s  %s  last seen %s\n",
					a.DeviceIDHash[:12], state, lastSeen)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory containing config.toml")

	return cmd
}

func runLicenseStatusCommand(use, short string, apply func(*licensing.Service, context.Context, string) error) *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   use + " <license-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := newLicensingService(configDir)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := apply(svc, cmd.Context(), args[0]); err != nil {
				return err
			}

			cmd.Printf("License %s: %s applied\n", args[0], use)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory containing config.toml")

	return cmd
}

func newLicensingService(configDir string) (*licensing.Service, func(), error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	db, err := database.OpenFromConfig(cfg.Config, cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}

	encryptor, err := crypto.NewAESEncryptor(auth.DeriveEncryptionKey(cfg.Config.SessionSecret))
	if err != nil {
		_ = db.Close()
		return nil, nil, errors.Wrap(err, "failed to initialize key encryptor")
	}

	return licensing.NewService(db, encryptor), func() { _ = db.Close() }, nil
}
