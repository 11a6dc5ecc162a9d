// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"errors"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists indicates an insert-if-absent lost to an existing
	// record. Callers read back the winner.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict indicates a transaction lost a read-write race.
	// Callers should retry the read-then-write once.
	ErrConflict = errors.New("transaction conflict")
)

// -----------------------------------------------------------------------------
// Store Interfaces
// -----------------------------------------------------------------------------

// ExperimentStore persists experiment records.
//
// Thread Safety: Implementations must be safe for concurrent use; Update
// must be atomic with respect to concurrent updates of the same record.
type ExperimentStore interface {
	// Create inserts a new record. Returns ErrAlreadyExists if the ID is
	// taken.
	Create(ctx context.Context, rec *ExperimentRecord) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*ExperimentRecord, error)

	// Update applies mutate to the current record inside a transaction.
	// The read-mutate-write cycle is atomic: a concurrent writer causes
	// ErrConflict (after internal retry) rather than a lost update.
	// Returns the record as written.
	Update(ctx context.Context, id string, mutate func(*ExperimentRecord) error) (*ExperimentRecord, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]*ExperimentRecord, error)
}

// AssignmentStore persists session assignments.
//
// Thread Safety: Implementations must guarantee first-write-wins for the
// same (session, experiment) key under concurrent Put calls.
type AssignmentStore interface {
	// Get returns the assignment or ErrNotFound.
	Get(ctx context.Context, sessionID, experimentID string) (*SessionAssignment, error)

	// Put inserts the assignment if absent. If an assignment already
	// exists for the key, it returns the existing record together with
	// ErrAlreadyExists; the attempted write is discarded.
	Put(ctx context.Context, a *SessionAssignment) (*SessionAssignment, error)

	// BySession returns every assignment recorded for the session.
	BySession(ctx context.Context, sessionID string) ([]*SessionAssignment, error)
}

// EventStore reads the per-experiment audit trail. Events are written only
// through Store.Apply, in the same transaction as the counter update they
// justify, and are immutable once written.
type EventStore interface {
	// ByExperiment returns the experiment's events in append order.
	ByExperiment(ctx context.Context, experimentID string) ([]*Event, error)
}

// CounterUpdate is one atomic write against an experiment's evidence: a
// record mutation, the audit events behind it, and any de-duplication keys
// guarding it. Either everything lands or nothing does.
type CounterUpdate struct {
	ExperimentID string

	// Mutate adjusts the record inside the transaction. It may run more
	// than once when the transaction retries, so it must be pure in the
	// record it is handed.
	Mutate func(*ExperimentRecord) error

	// Events are appended to the audit trail in the same transaction.
	Events []*Event

	// DedupKeys are caller-supplied de-duplication keys marked in the same
	// transaction. A key that is already marked aborts the whole update
	// with ErrAlreadyExists, so the keys make the update at-most-once.
	DedupKeys []string
}

// Store bundles the stores a full engine needs.
type Store interface {
	Experiments() ExperimentStore
	Assignments() AssignmentStore
	Events() EventStore

	// Apply commits one counter update in a single transaction: dedup
	// keys, record mutation and events all land together, or none do.
	// Returns ErrAlreadyExists when a dedup key was already marked,
	// ErrNotFound for an unknown experiment, and whatever Mutate returns
	// when it rejects the record. Returns the record as written.
	Apply(ctx context.Context, u CounterUpdate) (*ExperimentRecord, error)

	// Close releases underlying resources.
	Close() error
}
