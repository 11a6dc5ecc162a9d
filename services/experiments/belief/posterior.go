// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package belief implements the Bayesian belief model for experiment arms.
//
// Each arm's revenue-per-visitor (RPV) is modeled as the product of two
// independent posteriors:
//
//   - Conversion rate: Beta(alpha, beta), conjugate to the Bernoulli
//     convert/no-convert outcome of each impression.
//   - Order value: Inverse-Gamma(shape, scale), conjugate to an Exponential
//     order-value likelihood. The posterior mean is scale/(shape-1).
//
// Both priors are seeded from merchant-supplied estimates at activation time
// (baseline conversion rate, current price as an order-value proxy). The
// belief state persisted with an experiment is the prior hyperparameters
// only; observed counts and revenue live on the experiment record, so the
// posterior is always a pure function of (prior, counters).
package belief

import (
	"errors"
	"fmt"
	"math"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidPriorEstimate indicates an out-of-range merchant estimate.
	ErrInvalidPriorEstimate = errors.New("invalid prior estimate")

	// ErrNegativeObservation indicates negative counters or revenue.
	ErrNegativeObservation = errors.New("observations must be non-negative")
)

// -----------------------------------------------------------------------------
// Prior
// -----------------------------------------------------------------------------

// priorStrength is the pseudo-observation weight given to the merchant's
// baseline conversion-rate estimate. Twenty pseudo-impressions keeps the
// prior informative for the first sessions without drowning real data.
const priorStrength = 20.0

// orderValuePriorShape is the Inverse-Gamma shape used for the order-value
// prior. Shape 3 keeps the posterior mean defined (shape > 1) and the
// variance finite (shape > 2) before any conversion is observed.
const orderValuePriorShape = 3.0

// Prior holds the hyperparameters seeded at experiment activation.
//
// Description:
//
//	Prior is the serializable belief state stored on an experiment record.
//	It captures only sufficient statistics of the merchant's estimates,
//	never raw event data.
//
// Thread Safety: Immutable after creation.
type Prior struct {
	// ConversionAlpha and ConversionBeta parameterize the Beta prior over
	// an arm's conversion rate.
	ConversionAlpha float64 `json:"conversion_alpha"`
	ConversionBeta  float64 `json:"conversion_beta"`

	// OrderValueShape and OrderValueScale parameterize the Inverse-Gamma
	// prior over an arm's mean order value.
	OrderValueShape float64 `json:"order_value_shape"`
	OrderValueScale float64 `json:"order_value_scale"`
}

// NewPrior builds a prior from merchant-supplied estimates.
//
// Inputs:
//   - baselineConversionRate: Estimated conversion rate in (0, 1).
//   - avgOrderValue: Estimated average order value, must be positive.
//     Typically the product's current price.
//
// Outputs:
//   - Prior: The seeded hyperparameters.
//   - error: ErrInvalidPriorEstimate if an input is out of range.
func NewPrior(baselineConversionRate, avgOrderValue float64) (Prior, error) {
	if baselineConversionRate <= 0 || baselineConversionRate >= 1 {
		return Prior{}, fmt.Errorf("%w: conversion rate %v must be in (0, 1)",
			ErrInvalidPriorEstimate, baselineConversionRate)
	}
	if avgOrderValue <= 0 || math.IsInf(avgOrderValue, 0) || math.IsNaN(avgOrderValue) {
		return Prior{}, fmt.Errorf("%w: avg order value %v must be positive and finite",
			ErrInvalidPriorEstimate, avgOrderValue)
	}

	return Prior{
		ConversionAlpha: baselineConversionRate * priorStrength,
		ConversionBeta:  (1 - baselineConversionRate) * priorStrength,
		OrderValueShape: orderValuePriorShape,
		// Mean of InverseGamma(shape, scale) is scale/(shape-1); choose
		// scale so the prior mean equals the merchant's estimate.
		OrderValueScale: (orderValuePriorShape - 1) * avgOrderValue,
	}, nil
}

// Validate checks the hyperparameters are usable.
func (p Prior) Validate() error {
	if p.ConversionAlpha <= 0 || p.ConversionBeta <= 0 {
		return fmt.Errorf("%w: beta parameters must be positive (alpha=%v beta=%v)",
			ErrInvalidPriorEstimate, p.ConversionAlpha, p.ConversionBeta)
	}
	if p.OrderValueShape <= 1 || p.OrderValueScale <= 0 {
		return fmt.Errorf("%w: inverse-gamma parameters out of range (shape=%v scale=%v)",
			ErrInvalidPriorEstimate, p.OrderValueShape, p.OrderValueScale)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Observations
// -----------------------------------------------------------------------------

// Observations are the accumulated counters for one arm.
//
// These are the only inputs the posterior needs beyond the prior; they are
// monotonically increasing while an experiment is active.
type Observations struct {
	Impressions int64   `json:"impressions"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// Validate checks the counters satisfy the data-model invariants.
func (o Observations) Validate() error {
	if o.Impressions < 0 || o.Conversions < 0 || o.Revenue < 0 {
		return fmt.Errorf("%w: impressions=%d conversions=%d revenue=%v",
			ErrNegativeObservation, o.Impressions, o.Conversions, o.Revenue)
	}
	if o.Conversions > o.Impressions {
		return fmt.Errorf("%w: conversions %d exceed impressions %d",
			ErrNegativeObservation, o.Conversions, o.Impressions)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Posterior
// -----------------------------------------------------------------------------

// Posterior is one arm's updated belief given the prior and its counters.
//
// Thread Safety: Immutable after creation.
type Posterior struct {
	// ConvAlpha and ConvBeta are the updated Beta parameters.
	ConvAlpha float64
	ConvBeta  float64

	// OVShape and OVScale are the updated Inverse-Gamma parameters.
	OVShape float64
	OVScale float64

	// Obs are the counters the posterior was computed from.
	Obs Observations
}

// PosteriorFor updates the prior with an arm's observations.
//
// Description:
//
//	Conjugate updates: conversions add to ConversionAlpha, non-converting
//	impressions add to ConversionBeta; each conversion adds one to the
//	order-value shape and its revenue to the scale. An arm with zero
//	impressions yields the prior unchanged. Pure function: identical
//	inputs always produce identical outputs.
//
// Inputs:
//   - obs: The arm's accumulated counters. Must be non-negative.
//
// Outputs:
//   - Posterior: The updated belief. Never nil-valued.
//
// Thread Safety: Safe for concurrent use (no shared state).
func (p Prior) PosteriorFor(obs Observations) Posterior {
	return Posterior{
		ConvAlpha: p.ConversionAlpha + float64(obs.Conversions),
		ConvBeta:  p.ConversionBeta + float64(obs.Impressions-obs.Conversions),
		OVShape:   p.OrderValueShape + float64(obs.Conversions),
		OVScale:   p.OrderValueScale + obs.Revenue,
		Obs:       obs,
	}
}

// MeanConversionRate returns the posterior mean conversion rate.
func (a Posterior) MeanConversionRate() float64 {
	return a.ConvAlpha / (a.ConvAlpha + a.ConvBeta)
}

// MeanOrderValue returns the posterior mean order value.
//
// The shape is always > 1 (prior shape is 3), so no division guard beyond
// the prior's Validate is needed.
func (a Posterior) MeanOrderValue() float64 {
	return a.OVScale / (a.OVShape - 1)
}

// MeanRPV returns the posterior mean revenue per visitor.
func (a Posterior) MeanRPV() float64 {
	return a.MeanConversionRate() * a.MeanOrderValue()
}

// ReportedRPV returns the point estimate shown to merchants.
//
// Description:
//
//	An arm that has never converted has observed revenue of exactly zero,
//	so the displayed point estimate is 0 rather than the prior's guess.
//	The sampling posterior still carries the prior's uncertainty, so
//	win-probability computations remain non-degenerate.
func (a Posterior) ReportedRPV() float64 {
	if a.Obs.Conversions == 0 {
		return 0
	}
	return a.MeanRPV()
}
