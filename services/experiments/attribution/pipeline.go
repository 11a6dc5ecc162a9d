// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package attribution ties observed impressions and conversions back to
// experiment counters.
//
// The pipeline owns the only write path to an experiment's per-arm counters
// and the append-only event log behind them: every counter increment lands
// together with its audit event, so the reconciliation invariant (counters
// equal the sum of events) holds by construction. It offers no replay
// protection of its own; callers that need at-most-once accounting supply a
// de-duplication key per conversion.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

var (
	// ErrExperimentClosed indicates an event targeted an experiment that is
	// no longer accepting traffic.
	ErrExperimentClosed = errors.New("experiment not active")

	// ErrUnknownVariant indicates an event named neither arm.
	ErrUnknownVariant = errors.New("unknown variant")
)

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// Impression is one exposure of a session to an arm.
type Impression struct {
	ExperimentID string
	SessionID    string
	Variant      storage.Variant
}

// Conversion is one purchase to attribute to an arm.
type Conversion struct {
	ExperimentID string
	SessionID    string
	Variant      storage.Variant
	Revenue      float64

	// DedupKey, when non-empty, makes the conversion at-most-once: a
	// second conversion carrying the same key for the same experiment is
	// silently skipped.
	DedupKey string
}

// Attribution reports one counter update made by a session-level conversion.
type Attribution struct {
	ExperimentID string          `json:"experiment_id"`
	Variant      storage.Variant `json:"variant"`
	Revenue      float64         `json:"revenue"`
}

// -----------------------------------------------------------------------------
// Pipeline
// -----------------------------------------------------------------------------

// Pipeline updates experiment counters from observed events.
//
// Thread Safety: Safe for concurrent use; counter updates run inside store
// transactions and increments commute.
type Pipeline struct {
	store storage.Store
	now   func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Pipeline over the given store.
func New(store storage.Store, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RecordImpressions increments impression counters and appends audit events.
//
// Description:
//
//	Impressions are grouped per experiment so a bulk batch costs one
//	counter transaction per experiment, not per event. The caller decides
//	when to recompute; this method only returns the set of experiments it
//	touched.
//
// Inputs:
//   - impressions: Events to record. Each must name a known arm and an
//     active experiment.
//
// Outputs:
//   - []string: IDs of experiments whose counters changed.
//   - error: First failure; earlier experiments in the batch may already
//     have been updated.
func (p *Pipeline) RecordImpressions(ctx context.Context, impressions ...Impression) ([]string, error) {
	byExperiment := make(map[string][]Impression)
	order := make([]string, 0, len(impressions))
	for _, imp := range impressions {
		if !imp.Variant.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, imp.Variant)
		}
		if _, seen := byExperiment[imp.ExperimentID]; !seen {
			order = append(order, imp.ExperimentID)
		}
		byExperiment[imp.ExperimentID] = append(byExperiment[imp.ExperimentID], imp)
	}

	var touched []string
	for _, id := range order {
		batch := byExperiment[id]
		if err := p.applyImpressions(ctx, id, batch); err != nil {
			return touched, err
		}
		touched = append(touched, id)
	}
	return touched, nil
}

func (p *Pipeline) applyImpressions(ctx context.Context, experimentID string, batch []Impression) error {
	now := p.now().UTC()
	events := make([]*storage.Event, 0, len(batch))
	for _, imp := range batch {
		events = append(events, &storage.Event{
			ID:           uuid.NewString(),
			ExperimentID: imp.ExperimentID,
			SessionID:    imp.SessionID,
			Variant:      imp.Variant,
			Kind:         storage.EventImpression,
			OccurredAt:   now,
		})
	}

	_, err := p.store.Apply(ctx, storage.CounterUpdate{
		ExperimentID: experimentID,
		Mutate: func(r *storage.ExperimentRecord) error {
			if r.Status != storage.StatusActive {
				return fmt.Errorf("%w: experiment %s is %s", ErrExperimentClosed, experimentID, r.Status)
			}
			for _, imp := range batch {
				r.CountersFor(imp.Variant).Impressions++
			}
			r.UpdatedAt = now
			return r.Validate()
		},
		Events: events,
	})
	return err
}

// RecordConversions increments conversion counters and revenue.
//
// Description:
//
//	A conversion carrying a de-duplication key marks the key in the same
//	transaction that updates the counters, so a replayed key skips the
//	item without error while a failed or conflicted update leaves the key
//	unmarked and the caller's retry is not mistaken for a replay. Revenue
//	is recorded exactly as observed, never adjusted.
//
// Outputs:
//   - []string: IDs of experiments whose counters changed.
//   - error: First failure.
func (p *Pipeline) RecordConversions(ctx context.Context, conversions ...Conversion) ([]string, error) {
	var touched []string
	seen := make(map[string]bool)

	for _, conv := range conversions {
		if !conv.Variant.Valid() {
			return touched, fmt.Errorf("%w: %q", ErrUnknownVariant, conv.Variant)
		}
		if conv.Revenue < 0 {
			return touched, fmt.Errorf("conversion revenue %v must be non-negative", conv.Revenue)
		}

		err := p.applyConversion(ctx, conv)
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Replayed dedup key; already counted.
			continue
		}
		if err != nil {
			return touched, err
		}
		if !seen[conv.ExperimentID] {
			seen[conv.ExperimentID] = true
			touched = append(touched, conv.ExperimentID)
		}
	}
	return touched, nil
}

func (p *Pipeline) applyConversion(ctx context.Context, conv Conversion) error {
	now := p.now().UTC()
	update := storage.CounterUpdate{
		ExperimentID: conv.ExperimentID,
		Mutate: func(r *storage.ExperimentRecord) error {
			if r.Status != storage.StatusActive {
				return fmt.Errorf("%w: experiment %s is %s", ErrExperimentClosed, conv.ExperimentID, r.Status)
			}
			c := r.CountersFor(conv.Variant)
			c.Conversions++
			c.Revenue += conv.Revenue
			r.UpdatedAt = now
			return r.Validate()
		},
		Events: []*storage.Event{{
			ID:           uuid.NewString(),
			ExperimentID: conv.ExperimentID,
			SessionID:    conv.SessionID,
			Variant:      conv.Variant,
			Kind:         storage.EventConversion,
			Revenue:      conv.Revenue,
			OccurredAt:   now,
		}},
	}
	if conv.DedupKey != "" {
		update.DedupKeys = []string{conv.DedupKey + ":" + conv.ExperimentID}
	}

	_, err := p.store.Apply(ctx, update)
	return err
}

// AttributeSession attributes an order-level conversion to every experiment
// the session was assigned into.
//
// Description:
//
//	Resolves the session's assignments, skips experiments the session was
//	never assigned into, skips assignments past their attribution window,
//	and skips experiments that have since ended. Each surviving
//	assignment's arm is credited the full observed revenue. With a
//	de-duplication key the whole order is at-most-once per experiment.
//
// Outputs:
//   - []Attribution: One entry per counter update made.
//   - error: Lookup or update failure; partial attribution is possible.
func (p *Pipeline) AttributeSession(ctx context.Context, sessionID string, revenue float64, dedupKey string) ([]Attribution, error) {
	assignments, err := p.store.Assignments().BySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session assignments: %w", err)
	}

	now := p.now().UTC()
	var results []Attribution
	for _, a := range assignments {
		if !a.AttributableAt(now) {
			continue
		}
		touched, err := p.RecordConversions(ctx, Conversion{
			ExperimentID: a.ExperimentID,
			SessionID:    sessionID,
			Variant:      a.Variant,
			Revenue:      revenue,
			DedupKey:     dedupKey,
		})
		if errors.Is(err, ErrExperimentClosed) {
			continue
		}
		if err != nil {
			return results, err
		}
		if len(touched) > 0 {
			results = append(results, Attribution{
				ExperimentID: a.ExperimentID,
				Variant:      a.Variant,
				Revenue:      revenue,
			})
		}
	}
	return results, nil
}

// -----------------------------------------------------------------------------
// Reconciliation
// -----------------------------------------------------------------------------

// Drift is the difference between an arm's aggregate counters and the sum of
// its events. All-zero means the arm reconciles.
type Drift struct {
	Impressions int64   `json:"impressions"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// Clean reports whether the arm reconciles exactly.
func (d Drift) Clean() bool {
	return d.Impressions == 0 && d.Conversions == 0 && d.Revenue == 0
}

// ReconcileReport compares an experiment's counters against its event log.
type ReconcileReport struct {
	ExperimentID string `json:"experiment_id"`
	Events       int    `json:"events"`
	Control      Drift  `json:"control"`
	Variant      Drift  `json:"variant"`
}

// Clean reports whether both arms reconcile exactly.
func (r ReconcileReport) Clean() bool {
	return r.Control.Clean() && r.Variant.Clean()
}

// Reconcile replays the event log and reports counter drift.
//
// A non-clean report means corrupted state: the aggregate counters no longer
// equal the sum of their events.
func (p *Pipeline) Reconcile(ctx context.Context, experimentID string) (*ReconcileReport, error) {
	rec, err := p.store.Experiments().Get(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	events, err := p.store.Events().ByExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	var fromEvents [2]storage.ArmCounters
	for _, e := range events {
		idx := 0
		if e.Variant == storage.VariantTreatment {
			idx = 1
		}
		switch e.Kind {
		case storage.EventImpression:
			fromEvents[idx].Impressions++
		case storage.EventConversion:
			fromEvents[idx].Conversions++
			fromEvents[idx].Revenue += e.Revenue
		}
	}

	diff := func(have, want storage.ArmCounters) Drift {
		return Drift{
			Impressions: have.Impressions - want.Impressions,
			Conversions: have.Conversions - want.Conversions,
			Revenue:     have.Revenue - want.Revenue,
		}
	}
	return &ReconcileReport{
		ExperimentID: experimentID,
		Events:       len(events),
		Control:      diff(rec.Control, fromEvents[0]),
		Variant:      diff(rec.Variant, fromEvents[1]),
	}, nil
}
