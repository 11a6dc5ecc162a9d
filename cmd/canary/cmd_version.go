// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments"
)

// Overridden at build time via -ldflags "-X main.commit=...".
var commit = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the canary version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("canary %s (commit %s)\n", experiments.ServiceVersion, commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
