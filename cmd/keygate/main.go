// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "keygate",
		Short: "License and device activation server",
		Long: `keygate issues license keys, activates devices against them, and
validates activation tokens. Run without arguments to start the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, "")
		},
	}

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunCreateUserCommand())
	rootCmd.AddCommand(RunChangePasswordCommand())
	rootCmd.AddCommand(RunLicenseCommand())
	rootCmd.AddCommand(RunClientCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(buildinfo.String())
		},
	}
}
