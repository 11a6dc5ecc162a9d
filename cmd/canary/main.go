// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command canary runs the adaptive experiment allocation engine.
//
// The engine runs two-arm product-page experiments: Bayesian belief over
// each arm's revenue per visitor, sticky session assignment, adaptive
// traffic allocation with a cautious start, and promotion/abort decisions
// bounded by a safety budget.
//
// Usage:
//
//	canary serve --port 8080 --data-dir ~/.canary/data
//	canary simulate --visitors 5000 --control-cr 0.03 --variant-cr 0.035
//	canary version
//
// Configuration is taken from flags, CANARY_* environment variables, and
// an optional YAML config file (serve --config canary.yaml).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "canary",
	Short: "Adaptive experiment allocation engine for product experiments",
	Long: `Canary splits visitor traffic between a control and a variant version
of a product page, observes conversions and revenue, and adaptively shifts
traffic toward the better arm while bounding downside risk.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
