// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiments

import (
	"errors"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/assignment"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/attribution"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

// Error taxonomy of the engine.
//
// InvalidState and NotFound are expected, recoverable conditions the caller
// handles (typically "show control, do nothing"). InvariantViolation means
// corrupted state and is never caught-and-continued. ConcurrencyConflict
// means a lost read-then-write race; the engine retries once internally
// before surfacing it.
var (
	// ErrInvalidState indicates an operation against an experiment in the
	// wrong lifecycle state.
	ErrInvalidState = errors.New("invalid experiment state")

	// ErrNotFound indicates an unknown experiment or session.
	ErrNotFound = storage.ErrNotFound

	// ErrInvariantViolation indicates corrupted state (negative counters,
	// allocations outside [0,1]). Fatal, not recoverable.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrConcurrencyConflict indicates a compare-and-swap lost its race
	// after the internal retry.
	ErrConcurrencyConflict = storage.ErrConflict
)

// IsInvalidState reports whether err belongs to the InvalidState class,
// which includes the subsystem-level lifecycle errors.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, assignment.ErrNoActiveExperiment) ||
		errors.Is(err, attribution.ErrExperimentClosed)
}
