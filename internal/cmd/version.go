// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shiqicao/warpy/internal/updater"
)

// Version is the build version, overridden at link time via -ldflags.
var Version = "0.1.0"

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warpy version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("warpy %s (wasm binary version 0x%x)\n", Version, 0xc)
		if versionCheck {
			updater.NewChecker(Version).CheckForUpdates()
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check for a newer release")
	rootCmd.AddCommand(versionCmd)
}
