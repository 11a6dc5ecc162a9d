// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage defines the durable records of the experiment engine and
// the store interfaces the engine operates against.
//
// The experiment record is the single mutable shared resource; session
// assignments are write-once; events are append-only. Implementations live
// in subpackages (storage/badgerstore for the embedded BadgerDB store).
package storage

import (
	"fmt"
	"time"

	"github.com/CanaryCommerce/CanaryOSS/pkg/validation"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/belief"
)

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// Status is an experiment's lifecycle state.
type Status string

const (
	// StatusDraft is an experiment that has been defined but not activated.
	StatusDraft Status = "draft"

	// StatusActive is a running experiment accepting traffic.
	StatusActive Status = "active"

	// StatusCompleted is a terminal state reached by promoting a winner.
	StatusCompleted Status = "completed"

	// StatusCancelled is a terminal state reached by a safety-budget abort.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Variant identifies one experiment arm.
type Variant string

const (
	// VariantControl is the unmodified arm.
	VariantControl Variant = "control"

	// VariantTreatment is the modified arm.
	VariantTreatment Variant = "variant"
)

// Valid reports whether the variant is one of the two known arms.
func (v Variant) Valid() bool {
	return v == VariantControl || v == VariantTreatment
}

// RiskMode selects the allocation policy's aggressiveness.
type RiskMode string

const (
	// RiskCautious ramps the variant slowly and caps its share low.
	RiskCautious RiskMode = "cautious"

	// RiskAggressive ramps faster and allows a higher variant share.
	RiskAggressive RiskMode = "aggressive"
)

// Valid reports whether the risk mode is known.
func (m RiskMode) Valid() bool {
	return m == RiskCautious || m == RiskAggressive
}

// -----------------------------------------------------------------------------
// Split
// -----------------------------------------------------------------------------

// Split is the persisted traffic allocation pair.
//
// Description:
//
//	Both fractions are in [0, 1] and are NOT required to sum to 1: during
//	the cautious-start phase the remainder is traffic deliberately left
//	outside the experiment. Control+Variant is the exposure — the share
//	of traffic participating at all.
type Split struct {
	Control float64 `json:"control_allocation"`
	Variant float64 `json:"variant_allocation"`
}

// Exposure returns the fraction of traffic exposed to the experiment.
func (s Split) Exposure() float64 {
	return s.Control + s.Variant
}

// Validate checks the allocation invariants.
func (s Split) Validate() error {
	if err := validation.ValidateFraction("control allocation", s.Control); err != nil {
		return err
	}
	return validation.ValidateFraction("variant allocation", s.Variant)
}

// -----------------------------------------------------------------------------
// Experiment Record
// -----------------------------------------------------------------------------

// ArmCounters are one arm's monotonically increasing aggregates.
//
// They must always equal the sum of that arm's events (reconciliation
// invariant); the event log is the ground truth.
type ArmCounters struct {
	Impressions int64   `json:"impressions"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// Observations converts the counters to belief-model inputs.
func (c ArmCounters) Observations() belief.Observations {
	return belief.Observations{
		Impressions: c.Impressions,
		Conversions: c.Conversions,
		Revenue:     c.Revenue,
	}
}

// ExperimentRecord is the durable state of one experiment.
//
// Thread Safety: Records are value types; mutation happens only inside
// store transactions.
type ExperimentRecord struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Status    Status `json:"status"`

	// Allocation is the current traffic split.
	Allocation Split `json:"allocation"`

	// Control and Variant are the per-arm aggregates.
	Control ArmCounters `json:"control"`
	Variant ArmCounters `json:"variant"`

	// Belief holds the prior hyperparameters seeded at activation. The
	// posterior is a pure function of (Belief, Control/Variant counters).
	Belief belief.Prior `json:"belief"`

	// Policy parameters fixed at activation.
	RiskMode            RiskMode `json:"risk_mode"`
	SafetyBudget        float64  `json:"safety_budget"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	MinSampleSize       int64    `json:"min_sample_size"`

	// ProbabilityVariantWins is the last recomputed win probability.
	ProbabilityVariantWins float64 `json:"probability_variant_wins"`

	// ExpectedLoss is the cumulative expected revenue lost to the
	// inferior arm, accumulated by allocation recomputes.
	ExpectedLoss float64 `json:"expected_loss"`

	// PromotionCheckCount counts decision-rule evaluations (audit trail).
	PromotionCheckCount int64 `json:"promotion_check_count"`

	// Winner is set on promotion; empty otherwise.
	Winner Variant `json:"winner,omitempty"`

	ActivatedAt time.Time `json:"activated_at"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CountersFor returns the counters for the given arm.
func (r *ExperimentRecord) CountersFor(v Variant) *ArmCounters {
	if v == VariantControl {
		return &r.Control
	}
	return &r.Variant
}

// TotalImpressions returns the combined sample size of both arms.
func (r *ExperimentRecord) TotalImpressions() int64 {
	return r.Control.Impressions + r.Variant.Impressions
}

// Validate checks the record's structural invariants. A violation here is
// corrupted state, not a recoverable condition.
func (r *ExperimentRecord) Validate() error {
	if err := r.Allocation.Validate(); err != nil {
		return err
	}
	if err := r.Control.Observations().Validate(); err != nil {
		return fmt.Errorf("control counters: %w", err)
	}
	if err := r.Variant.Observations().Validate(); err != nil {
		return fmt.Errorf("variant counters: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Session Assignment
// -----------------------------------------------------------------------------

// DefaultAssignmentTTL is how long a conversion can still be attributed to
// an assignment. The assignment record itself never expires.
const DefaultAssignmentTTL = 90 * 24 * time.Hour

// SessionAssignment pins a session to one arm of one experiment.
//
// Invariant: at most one assignment exists per (SessionID, ExperimentID)
// and it is never reassigned once written.
type SessionAssignment struct {
	SessionID    string    `json:"session_id"`
	ExperimentID string    `json:"experiment_id"`
	Variant      Variant   `json:"variant"`
	AssignedAt   time.Time `json:"assigned_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AttributableAt reports whether a conversion observed at t may still be
// attributed through this assignment.
func (a SessionAssignment) AttributableAt(t time.Time) bool {
	return !t.After(a.ExpiresAt)
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// EventKind distinguishes the two append-only event types.
type EventKind string

const (
	// EventImpression records one exposure of a session to an arm.
	EventImpression EventKind = "impression"

	// EventConversion records one attributed conversion with revenue.
	EventConversion EventKind = "conversion"
)

// Event is one append-only occurrence in an experiment's audit trail.
//
// Aggregate counters on the experiment record are derived from these and
// must reconcile exactly.
type Event struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	SessionID    string    `json:"session_id"`
	Variant      Variant   `json:"variant"`
	Kind         EventKind `json:"kind"`
	Revenue      float64   `json:"revenue,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
