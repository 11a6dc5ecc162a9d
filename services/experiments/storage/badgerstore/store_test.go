// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/belief"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRecord(id string) *storage.ExperimentRecord {
	prior, _ := belief.NewPrior(0.02, 50)
	now := time.Now().UTC()
	return &storage.ExperimentRecord{
		ID:                  id,
		ProductID:           "prod-1",
		Status:              storage.StatusActive,
		Allocation:          storage.Split{Control: 0.85, Variant: 0.05},
		Belief:              prior,
		RiskMode:            storage.RiskCautious,
		SafetyBudget:        100,
		ConfidenceThreshold: 0.95,
		MinSampleSize:       100,
		ActivatedAt:         now,
		UpdatedAt:           now,
	}
}

// -----------------------------------------------------------------------------
// Experiment Store
// -----------------------------------------------------------------------------

func TestExperimentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create get roundtrip", func(t *testing.T) {
		s := newTestStore(t)
		rec := testRecord("exp-1")
		require.NoError(t, s.Experiments().Create(ctx, rec))

		got, err := s.Experiments().Get(ctx, "exp-1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Allocation, got.Allocation)
		assert.Equal(t, rec.Belief, got.Belief)
	})

	t.Run("create duplicate rejected", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))
		err := s.Experiments().Create(ctx, testRecord("exp-1"))
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Experiments().Get(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("update mutates atomically", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))

		got, err := s.Experiments().Update(ctx, "exp-1", func(r *storage.ExperimentRecord) error {
			r.Control.Impressions += 10
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.Control.Impressions)

		reread, err := s.Experiments().Get(ctx, "exp-1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), reread.Control.Impressions)
	})

	t.Run("update mutate error aborts write", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))

		sentinel := errors.New("boom")
		_, err := s.Experiments().Update(ctx, "exp-1", func(r *storage.ExperimentRecord) error {
			r.Control.Impressions = 999
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		got, err := s.Experiments().Get(ctx, "exp-1")
		require.NoError(t, err)
		assert.Zero(t, got.Control.Impressions)
	})

	t.Run("update missing", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Experiments().Update(ctx, "missing", func(r *storage.ExperimentRecord) error {
			return nil
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("concurrent updates never lose increments", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))

		const workers = 8
		const perWorker = 10
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					// Retry on conflict, as the engine does.
					for {
						_, err := s.Experiments().Update(ctx, "exp-1", func(r *storage.ExperimentRecord) error {
							r.Control.Impressions++
							return nil
						})
						if !errors.Is(err, storage.ErrConflict) {
							require.NoError(t, err)
							break
						}
					}
				}
			}()
		}
		wg.Wait()

		got, err := s.Experiments().Get(ctx, "exp-1")
		require.NoError(t, err)
		assert.Equal(t, int64(workers*perWorker), got.Control.Impressions)
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newTestStore(t)
		older := testRecord("exp-old")
		older.ActivatedAt = time.Now().UTC().Add(-time.Hour)
		newer := testRecord("exp-new")
		require.NoError(t, s.Experiments().Create(ctx, older))
		require.NoError(t, s.Experiments().Create(ctx, newer))

		recs, err := s.Experiments().List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "exp-new", recs[0].ID)
		assert.Equal(t, "exp-old", recs[1].ID)
	})
}

// -----------------------------------------------------------------------------
// Atomic Counter Updates
// -----------------------------------------------------------------------------

func TestApply(t *testing.T) {
	ctx := context.Background()

	mkEvent := func(id string) *storage.Event {
		return &storage.Event{
			ID: id, ExperimentID: "exp-1", SessionID: "s1",
			Variant: storage.VariantControl, Kind: storage.EventConversion,
			Revenue: 25, OccurredAt: time.Now().UTC(),
		}
	}

	t.Run("commits record events and dedup key together", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))

		update := storage.CounterUpdate{
			ExperimentID: "exp-1",
			Mutate: func(r *storage.ExperimentRecord) error {
				r.Control.Conversions++
				r.Control.Revenue += 25
				return nil
			},
			Events:    []*storage.Event{mkEvent("e1")},
			DedupKeys: []string{"order-1:exp-1"},
		}
		got, err := s.Apply(ctx, update)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Control.Conversions)

		events, err := s.Events().ByExperiment(ctx, "exp-1")
		require.NoError(t, err)
		assert.Len(t, events, 1)

		// The key is spent; a replay of the same update lands nothing.
		update.Events = []*storage.Event{mkEvent("e2")}
		_, err = s.Apply(ctx, update)
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
		rec, err := s.Experiments().Get(ctx, "exp-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Control.Conversions)
		events, err = s.Events().ByExperiment(ctx, "exp-1")
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("mutate error aborts everything", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))

		sentinel := errors.New("boom")
		_, err := s.Apply(ctx, storage.CounterUpdate{
			ExperimentID: "exp-1",
			Mutate: func(r *storage.ExperimentRecord) error {
				r.Control.Conversions = 999
				return sentinel
			},
			Events:    []*storage.Event{mkEvent("e1")},
			DedupKeys: []string{"order-1:exp-1"},
		})
		assert.ErrorIs(t, err, sentinel)

		rec, err := s.Experiments().Get(ctx, "exp-1")
		require.NoError(t, err)
		assert.Zero(t, rec.Control.Conversions)
		events, err := s.Events().ByExperiment(ctx, "exp-1")
		require.NoError(t, err)
		assert.Empty(t, events)

		// The key was never consumed; retrying the update succeeds.
		_, err = s.Apply(ctx, storage.CounterUpdate{
			ExperimentID: "exp-1",
			Mutate: func(r *storage.ExperimentRecord) error {
				r.Control.Conversions++
				return nil
			},
			Events:    []*storage.Event{mkEvent("e1")},
			DedupKeys: []string{"order-1:exp-1"},
		})
		require.NoError(t, err)
	})

	t.Run("empty dedup key rejected", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))
		_, err := s.Apply(ctx, storage.CounterUpdate{
			ExperimentID: "exp-1",
			DedupKeys:    []string{"  "},
		})
		assert.Error(t, err)
	})

	t.Run("unknown experiment", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Apply(ctx, storage.CounterUpdate{ExperimentID: "missing"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

// -----------------------------------------------------------------------------
// Assignment Store
// -----------------------------------------------------------------------------

func TestAssignmentStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	mkAssignment := func(session string, v storage.Variant) *storage.SessionAssignment {
		return &storage.SessionAssignment{
			SessionID:    session,
			ExperimentID: "exp-1",
			Variant:      v,
			AssignedAt:   now,
			ExpiresAt:    now.Add(storage.DefaultAssignmentTTL),
		}
	}

	t.Run("first write wins", func(t *testing.T) {
		s := newTestStore(t)
		first, err := s.Assignments().Put(ctx, mkAssignment("sess-1", storage.VariantControl))
		require.NoError(t, err)
		assert.Equal(t, storage.VariantControl, first.Variant)

		second, err := s.Assignments().Put(ctx, mkAssignment("sess-1", storage.VariantTreatment))
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
		assert.Equal(t, storage.VariantControl, second.Variant)
	})

	t.Run("concurrent puts agree on one winner", func(t *testing.T) {
		s := newTestStore(t)

		const racers = 8
		results := make([]storage.Variant, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v := storage.VariantControl
				if i%2 == 0 {
					v = storage.VariantTreatment
				}
				got, err := s.Assignments().Put(ctx, mkAssignment("sess-race", v))
				if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
					t.Errorf("unexpected error: %v", err)
					return
				}
				results[i] = got.Variant
			}(i)
		}
		wg.Wait()

		persisted, err := s.Assignments().Get(ctx, "sess-race", "exp-1")
		require.NoError(t, err)
		for i, v := range results {
			assert.Equal(t, persisted.Variant, v, "racer %d saw a different variant", i)
		}
	})

	t.Run("by session lists all assignments", func(t *testing.T) {
		s := newTestStore(t)
		a := mkAssignment("sess-1", storage.VariantControl)
		b := mkAssignment("sess-1", storage.VariantTreatment)
		b.ExperimentID = "exp-2"
		_, err := s.Assignments().Put(ctx, a)
		require.NoError(t, err)
		_, err = s.Assignments().Put(ctx, b)
		require.NoError(t, err)

		got, err := s.Assignments().BySession(ctx, "sess-1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("session prefix does not leak", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Assignments().Put(ctx, mkAssignment("sess-1", storage.VariantControl))
		require.NoError(t, err)
		_, err = s.Assignments().Put(ctx, mkAssignment("sess-11", storage.VariantTreatment))
		require.NoError(t, err)

		got, err := s.Assignments().BySession(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "sess-1", got[0].SessionID)
	})
}

// -----------------------------------------------------------------------------
// Event + Dedup Stores
// -----------------------------------------------------------------------------

func TestEventStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-1")))
	require.NoError(t, s.Experiments().Create(ctx, testRecord("exp-2")))

	base := time.Now().UTC()
	_, err := s.Apply(ctx, storage.CounterUpdate{
		ExperimentID: "exp-1",
		Events: []*storage.Event{
			{ID: "e1", ExperimentID: "exp-1", SessionID: "s1", Variant: storage.VariantControl,
				Kind: storage.EventImpression, OccurredAt: base},
			{ID: "e2", ExperimentID: "exp-1", SessionID: "s1", Variant: storage.VariantControl,
				Kind: storage.EventConversion, Revenue: 49.99, OccurredAt: base.Add(time.Second)},
		},
	})
	require.NoError(t, err)
	_, err = s.Apply(ctx, storage.CounterUpdate{
		ExperimentID: "exp-2",
		Events: []*storage.Event{
			{ID: "e3", ExperimentID: "exp-2", SessionID: "s2", Variant: storage.VariantTreatment,
				Kind: storage.EventImpression, OccurredAt: base},
		},
	})
	require.NoError(t, err)

	got, err := s.Events().ByExperiment(ctx, "exp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e2", got[1].ID)
	assert.Equal(t, 49.99, got[1].Revenue)
}
