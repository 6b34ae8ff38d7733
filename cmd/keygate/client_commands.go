// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/keygen-sh/machineid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/buildinfo"
)

// RunClientCommand groups the device-side helpers. They speak the same
// activation protocol any licensed application would, using a hashed
// machine ID as the device identifier.
func RunClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Device-side activation helpers",
	}

	cmd.AddCommand(runClientActivateCommand())
	cmd.AddCommand(runClientValidateCommand())
	cmd.AddCommand(runClientDeactivateCommand())

	return cmd
}

func runClientActivateCommand() *cobra.Command {
	var (
		serverURL  string
		licenseKey string
	)

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate this machine against a license key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if licenseKey == "" {
				return errors.New("--key is required")
			}

			deviceID, err := machineid.ProtectedID("keygate")
			if err != nil {
				return errors.Wrap(err, "failed to determine machine id")
			}

			hostname := hostnameOrEmpty()

			var resp struct {
				ActivationToken string    `json:"activation_token"`
				ExpiresAt       time.Time `json:"expires_at"`
			}
			status, err := postJSON(cmd.Context(), serverURL+"/api/activation/activate", map[string]any{
				"license_key": licenseKey,
				"device_id":   deviceID,
				"device_name": hostname,
				"os_name":     runtime.GOOS,
				"app_version": buildinfo.Version,
			}, &resp)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return errors.Errorf("activation failed with status %d", status)
			}

			cmd.Printf("Activated. Token expires %s\n", resp.ExpiresAt.Format(time.RFC3339))
			cmd.Printf("Activation token:\n%s\n", resp.ActivationToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:7575", "keygate server URL")
	cmd.Flags().StringVar(&licenseKey, "key", "", "License key")

	return cmd
}

func runClientValidateCommand() *cobra.Command {
	var (
		serverURL string
		tokenStr  string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an activation token for this machine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenStr == "" {
				return errors.New("--token is required")
			}

			deviceID, err := machineid.ProtectedID("keygate")
			if err != nil {
				return errors.Wrap(err, "failed to determine machine id")
			}

			var resp struct {
				Valid bool   `json:"valid"`
				Code  string `json:"code,omitempty"`
			}
			status, err := postJSON(cmd.Context(), serverURL+"/api/activation/validate", map[string]any{
				"activation_token": tokenStr,
				"device_id":        deviceID,
			}, &resp)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return errors.Errorf("validation request failed with status %d", status)
			}

			if resp.Valid {
				cmd.Println("Token is valid")
				return nil
			}

			return errors.Errorf("token is invalid: %s", resp.Code)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:7575", "keygate server URL")
	cmd.Flags().StringVar(&tokenStr, "token", "", "Activation token")

	return cmd
}

func runClientDeactivateCommand() *cobra.Command {
	var (
		serverURL string
		tokenStr  string
	)

	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Release this machine's activation slot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tokenStr == "" {
				return errors.New("--token is required")
			}

			var resp struct {
				Deactivated bool `json:"deactivated"`
			}
			status, err := postJSON(cmd.Context(), serverURL+"/api/activation/deactivate", map[string]any{
				"activation_token": tokenStr,
			}, &resp)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return errors.Errorf("deactivation failed with status %d", status)
			}

			cmd.Println("Deactivated")
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:7575", "keygate server URL")
	cmd.Flags().StringVar(&tokenStr, "token", "", "Activation token")

	return cmd
}

func postJSON(ctx context.Context, url string, body any, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "failed to decode response")
		}
	}

	return resp.StatusCode, nil
}

func hostnameOrEmpty() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
