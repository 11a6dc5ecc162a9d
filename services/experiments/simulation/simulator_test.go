// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package simulation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage/badgerstore"
)

func newEngine(t *testing.T) *experiments.Engine {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	store := badgerstore.New(db)
	t.Cleanup(func() { _ = store.Close() })
	return experiments.NewEngine(store, experiments.WithSampleCount(2000))
}

func baseConfig(id string) Config {
	return Config{
		ExperimentID:           id,
		ProductID:              "prod-1",
		Visitors:               1500,
		Control:                ArmTruth{ConversionRate: 0.03, AvgOrderValue: 50},
		Variant:                ArmTruth{ConversionRate: 0.035, AvgOrderValue: 50},
		BaselineConversionRate: 0.03,
		AvgOrderValue:          50,
		RiskMode:               storage.RiskCautious,
		SafetyBudget:           10000,
		ConfidenceThreshold:    0.95,
		MinSampleSize:          100000,
		BatchSize:              250,
		Seed:                   42,
	}
}

func TestRunDeterministic(t *testing.T) {
	ctx := context.Background()

	a, err := Run(ctx, newEngine(t), baseConfig("exp-1"))
	require.NoError(t, err)
	b, err := Run(ctx, newEngine(t), baseConfig("exp-1"))
	require.NoError(t, err)

	assert.Equal(t, a.HeldOut, b.HeldOut)
	assert.Equal(t, a.ControlImpressions, b.ControlImpressions)
	assert.Equal(t, a.VariantImpressions, b.VariantImpressions)
	assert.Equal(t, a.ControlConversions, b.ControlConversions)
	assert.Equal(t, a.VariantConversions, b.VariantConversions)
	assert.Equal(t, a.ProbabilityVariantWins, b.ProbabilityVariantWins)
	assert.Equal(t, a.FinalAllocation, b.FinalAllocation)
}

func TestRunPlaysConfiguredTraffic(t *testing.T) {
	ctx := context.Background()
	report, err := Run(ctx, newEngine(t), baseConfig("exp-1"))
	require.NoError(t, err)

	assert.Equal(t, 1500, report.VisitorsPlayed)
	assert.InDelta(t, 150, report.HeldOut, 60,
		"cautious mode holds out about a tenth of traffic")
	assert.Equal(t, int64(1500-report.HeldOut),
		report.ControlImpressions+report.VariantImpressions,
		"held-out visitors record no impressions")
	assert.Greater(t, report.ControlImpressions, report.VariantImpressions,
		"cautious start keeps most exposed traffic on control")
	assert.NotEmpty(t, report.Trace)
	assert.Equal(t, storage.StatusActive, report.Status,
		"min sample size out of reach keeps the run active")
}

func TestRunAbortsOnHopelessVariant(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig("exp-1")
	cfg.Visitors = 4000
	cfg.Control = ArmTruth{ConversionRate: 0.10, AvgOrderValue: 50}
	cfg.Variant = ArmTruth{ConversionRate: 0.0, AvgOrderValue: 50}
	cfg.SafetyBudget = 20

	report, err := Run(ctx, newEngine(t), cfg)
	require.NoError(t, err)
	assert.True(t, report.Stopped, "budget 20 cannot survive a never-converting variant: %+v", report)
	assert.Equal(t, storage.StatusCancelled, report.Status)
	assert.Empty(t, report.Winner)
	assert.Less(t, report.VisitorsPlayed, cfg.Visitors, "run must end early on abort")
}

func TestRunRejectsEmptyTraffic(t *testing.T) {
	_, err := Run(context.Background(), newEngine(t), Config{ExperimentID: "exp-1"})
	assert.Error(t, err)
}
