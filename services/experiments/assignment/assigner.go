// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assignment maps visitor sessions to experiment arms.
//
// Assignments are sticky: the first persisted assignment for a
// (session, experiment) pair is the permanent truth, even when the traffic
// split later changes. New sessions draw an arm from a hash of the pair
// weighted by the experiment's current allocation, so the draw itself is
// deterministic and two racing first visits compute the same arm before the
// store's insert-if-absent settles which write wins. Traffic beyond the
// split's exposure is held out entirely: those sessions get no assignment
// and see the unmodified product.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

var (
	// ErrNoActiveExperiment indicates an assignment was requested against an
	// experiment that is not currently active. Callers show control and move
	// on.
	ErrNoActiveExperiment = errors.New("no active experiment")

	// ErrSessionNotExposed indicates the session falls in the experiment's
	// held-out traffic fraction. No assignment is persisted: the caller
	// shows the unmodified product and records nothing, and the session
	// re-enters the draw if the exposure ever widens.
	ErrSessionNotExposed = errors.New("session not exposed to experiment")
)

// -----------------------------------------------------------------------------
// Assigner
// -----------------------------------------------------------------------------

// Assigner issues sticky per-session arm assignments.
//
// Thread Safety: Safe for concurrent use. First-write-wins semantics come
// from the assignment store's insert-if-absent.
type Assigner struct {
	experiments storage.ExperimentStore
	assignments storage.AssignmentStore
	ttl         time.Duration
	now         func() time.Time
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithTTL overrides the attribution window written on new assignments.
func WithTTL(ttl time.Duration) Option {
	return func(a *Assigner) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assigner) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an Assigner over the given stores.
func New(experiments storage.ExperimentStore, assignments storage.AssignmentStore, opts ...Option) *Assigner {
	a := &Assigner{
		experiments: experiments,
		assignments: assignments,
		ttl:         storage.DefaultAssignmentTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assign returns the session's arm for the experiment, creating a sticky
// assignment on first contact.
//
// Description:
//
//	An existing assignment is returned as-is regardless of the current
//	split or its attribution expiry; expiry gates conversion attribution,
//	never the arm a returning session sees. A new session draws against
//	the experiment's current allocation: sessions landing in the held-out
//	fraction get ErrSessionNotExposed and nothing is persisted, exposed
//	sessions get an arm persisted with insert-if-absent. If a concurrent
//	request won the insert, the winner's record is returned instead of
//	the local draw.
//
// Inputs:
//   - ctx: Request context.
//   - sessionID, experimentID: The pair to assign. Must be non-empty.
//
// Outputs:
//   - *storage.SessionAssignment: The persisted assignment. Never nil on
//     success.
//   - bool: True when an existing sticky assignment was returned, false
//     for a fresh draw.
//   - error: storage.ErrNotFound for unknown experiments,
//     ErrNoActiveExperiment for draft/terminal ones, ErrSessionNotExposed
//     for held-out sessions.
//
// Thread Safety: Safe for concurrent use, including racing calls for the
// same pair.
func (a *Assigner) Assign(ctx context.Context, sessionID, experimentID string) (*storage.SessionAssignment, bool, error) {
	existing, err := a.assignments.Get(ctx, sessionID, experimentID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup assignment: %w", err)
	}

	rec, err := a.experiments.Get(ctx, experimentID)
	if err != nil {
		return nil, false, err
	}
	if rec.Status != storage.StatusActive {
		return nil, false, fmt.Errorf("%w: experiment %s is %s", ErrNoActiveExperiment, experimentID, rec.Status)
	}

	variant, exposed := Draw(sessionID, experimentID, rec.Allocation)
	if !exposed {
		return nil, false, fmt.Errorf("%w: experiment %s exposes %.0f%% of traffic",
			ErrSessionNotExposed, experimentID, rec.Allocation.Exposure()*100)
	}

	now := a.now().UTC()
	attempt := &storage.SessionAssignment{
		SessionID:    sessionID,
		ExperimentID: experimentID,
		Variant:      variant,
		AssignedAt:   now,
		ExpiresAt:    now.Add(a.ttl),
	}

	persisted, err := a.assignments.Put(ctx, attempt)
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return nil, false, fmt.Errorf("persist assignment: %w", err)
	}
	return persisted, false, nil
}

// -----------------------------------------------------------------------------
// Weighted Draw
// -----------------------------------------------------------------------------

// Draw picks an arm for the pair using the current split as weights.
//
// Description:
//
//	Hashes session and experiment with FNV-1a, finalizes the digest and
//	maps it to [0, 1); the draw is deterministic per pair, so retries and
//	races agree without coordination. The unit interval carries the split
//	directly: [0, variant) draws the variant, [variant, exposure) draws
//	control, and [exposure, 1) is the held-out fraction that never enters
//	the experiment. Holding out is itself sticky while the exposure holds
//	still, since the same pair always lands on the same point.
//
// Outputs:
//   - storage.Variant: The drawn arm. Control when not exposed.
//   - bool: False when the session falls in the held-out fraction.
//
// Thread Safety: Pure function, safe for concurrent use.
func Draw(sessionID, experimentID string, split storage.Split) (storage.Variant, bool) {
	h := fnv.New64a()
	h.Write([]byte(experimentID))
	h.Write([]byte{':'})
	h.Write([]byte(sessionID))

	// FNV-1a barely moves the high bits when inputs differ only in their
	// trailing characters (sequential session IDs); the splitmix64
	// finalizer spreads every input bit before the digest maps to the
	// unit interval.
	d := h.Sum64()
	d = (d ^ (d >> 30)) * 0xbf58476d1ce4e5b9
	d = (d ^ (d >> 27)) * 0x94d049bb133111eb
	d ^= d >> 31
	u := float64(d>>11) / float64(1<<53)

	switch {
	case u < split.Variant:
		return storage.VariantTreatment, true
	case u < split.Exposure():
		return storage.VariantControl, true
	default:
		return storage.VariantControl, false
	}
}
