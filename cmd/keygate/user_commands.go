// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/database"
	"github.com/keygate/keygate/internal/models"
)

func RunCreateUserCommand() *cobra.Command {
	var (
		configDir string
		username  string
		password  string
	)

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create the operator account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				return errors.New("--password is required")
			}

			db, err := openDatabaseFromConfig(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			userStore := models.NewUserStore(db)

			count, err := userStore.Count(ctx)
			if err != nil {
				return err
			}
			if count > 0 {
				cmd.Println("User account already exists, skipping")
				return nil
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return errors.Wrap(err, "failed to hash password")
			}

			if _, err := userStore.Create(ctx, username, hash); err != nil {
				return errors.Wrap(err, "failed to create user")
			}

			cmd.Printf("User '%s' created successfully\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory containing config.toml")
	cmd.Flags().StringVar(&username, "username", "", "Username for the operator account")
	cmd.Flags().StringVar(&password, "password", "", "Password for the operator account")

	return cmd
}

func RunChangePasswordCommand() *cobra.Command {
	var (
		configDir   string
		username    string
		newPassword string
	)

	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the operator account password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			if newPassword == "" {
				return errors.New("--new-password is required")
			}

			db, err := openDatabaseFromConfig(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			userStore := models.NewUserStore(db)

			if _, err := userStore.GetByUsername(ctx, username); err != nil {
				return err
			}

			hash, err := auth.HashPassword(newPassword)
			if err != nil {
				return errors.Wrap(err, "failed to hash password")
			}

			if err := userStore.UpdatePassword(ctx, username, hash); err != nil {
				return errors.Wrap(err, "failed to update password")
			}

			cmd.Println("Password changed successfully")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory containing config.toml")
	cmd.Flags().StringVar(&username, "username", "", "Username of the operator account")
	cmd.Flags().StringVar(&newPassword, "new-password", "", "New password")

	return cmd
}

func openDatabaseFromConfig(configDir string) (*database.DB, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	db, err := database.OpenFromConfig(cfg.Config, cfg.GetDatabasePath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	return db, nil
}
