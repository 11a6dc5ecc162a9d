// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/CanaryCommerce/CanaryOSS/pkg/logging"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/simulation"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage/badgerstore"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play synthetic visitor traffic through the full engine loop",
	Long: `Runs a deterministic simulation against an in-memory store: activates an
experiment, streams synthetic visitors through assignment and attribution,
and prints the decision trace plus a final report as JSON. Useful for
validating policy parameters before running live traffic.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().String("experiment", "sim-experiment", "Experiment ID to create")
	simulateCmd.Flags().Int("visitors", 5000, "Number of synthetic visitors")
	simulateCmd.Flags().Float64("control-cr", 0.03, "True control conversion rate")
	simulateCmd.Flags().Float64("variant-cr", 0.035, "True variant conversion rate")
	simulateCmd.Flags().Float64("control-aov", 50, "True control average order value")
	simulateCmd.Flags().Float64("variant-aov", 50, "True variant average order value")
	simulateCmd.Flags().String("risk-mode", "cautious", "Risk mode (cautious, aggressive)")
	simulateCmd.Flags().Float64("budget", 500, "Safety budget in currency units")
	simulateCmd.Flags().Float64("confidence", 0.95, "Promotion confidence threshold")
	simulateCmd.Flags().Int64("min-sample", 1000, "Minimum combined sample size for promotion")
	simulateCmd.Flags().Int("batch", 50, "Visitors per ingestion batch")
	simulateCmd.Flags().Int64("seed", 1, "Random seed for the traffic stream")
	simulateCmd.Flags().Bool("quiet", false, "Suppress engine logs, print only the report")

	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	experimentID, _ := flags.GetString("experiment")
	visitors, _ := flags.GetInt("visitors")
	controlCR, _ := flags.GetFloat64("control-cr")
	variantCR, _ := flags.GetFloat64("variant-cr")
	controlAOV, _ := flags.GetFloat64("control-aov")
	variantAOV, _ := flags.GetFloat64("variant-aov")
	riskMode, _ := flags.GetString("risk-mode")
	budget, _ := flags.GetFloat64("budget")
	confidence, _ := flags.GetFloat64("confidence")
	minSample, _ := flags.GetInt64("min-sample")
	batch, _ := flags.GetInt("batch")
	seed, _ := flags.GetInt64("seed")
	quiet, _ := flags.GetBool("quiet")

	logger, err := logging.New(logging.Config{Level: logging.LevelInfo, Quiet: quiet})
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Logger)

	db, err := badgerstore.OpenInMemory()
	if err != nil {
		return fmt.Errorf("open in-memory store: %w", err)
	}
	store := badgerstore.New(db)
	defer store.Close()

	engine := experiments.NewEngine(store,
		experiments.WithLogger(logger.Logger),
		experiments.WithHook(experiments.LoggingHook{Logger: logger.Logger}),
	)

	report, err := simulation.Run(cmd.Context(), engine, simulation.Config{
		ExperimentID:           experimentID,
		ProductID:              "sim-product",
		Visitors:               visitors,
		Control:                simulation.ArmTruth{ConversionRate: controlCR, AvgOrderValue: controlAOV},
		Variant:                simulation.ArmTruth{ConversionRate: variantCR, AvgOrderValue: variantAOV},
		BaselineConversionRate: controlCR,
		AvgOrderValue:          controlAOV,
		RiskMode:               storage.RiskMode(riskMode),
		SafetyBudget:           budget,
		ConfidenceThreshold:    confidence,
		MinSampleSize:          minSample,
		BatchSize:              batch,
		Seed:                   seed,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
