// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assignment

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/belief"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage/badgerstore"
)

func newFixture(t *testing.T) (storage.Store, *Assigner) {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	store := badgerstore.New(db)
	t.Cleanup(func() { _ = store.Close() })
	return store, New(store.Experiments(), store.Assignments())
}

func seedExperiment(t *testing.T, store storage.Store, status storage.Status, split storage.Split) {
	t.Helper()
	prior, err := belief.NewPrior(0.02, 50)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.Experiments().Create(context.Background(), &storage.ExperimentRecord{
		ID:          "exp-1",
		ProductID:   "prod-1",
		Status:      status,
		Allocation:  split,
		Belief:      prior,
		RiskMode:    storage.RiskCautious,
		ActivatedAt: now,
		UpdatedAt:   now,
	}))
}

func TestAssignSticky(t *testing.T) {
	ctx := context.Background()
	store, assigner := newFixture(t)
	seedExperiment(t, store, storage.StatusActive, storage.Split{Control: 0.85, Variant: 0.05})

	first, existing, err := assigner.Assign(ctx, "sess-1", "exp-1")
	require.NoError(t, err)
	assert.False(t, existing)

	// Flip the split entirely; the session must keep its arm.
	_, err = store.Experiments().Update(ctx, "exp-1", func(r *storage.ExperimentRecord) error {
		r.Allocation = storage.Split{Control: 0.0, Variant: 1.0}
		return nil
	})
	require.NoError(t, err)

	second, existing, err := assigner.Assign(ctx, "sess-1", "exp-1")
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.Variant, second.Variant)
	assert.Equal(t, first.AssignedAt, second.AssignedAt)
}

func TestAssignStickyPastExpiry(t *testing.T) {
	ctx := context.Background()
	store, _ := newFixture(t)
	seedExperiment(t, store, storage.StatusActive, storage.Split{Control: 0.85, Variant: 0.05})

	past := time.Now().UTC().Add(-200 * 24 * time.Hour)
	assigner := New(store.Experiments(), store.Assignments(),
		WithClock(func() time.Time { return past }))

	first, _, err := assigner.Assign(ctx, "sess-1", "exp-1")
	require.NoError(t, err)
	require.False(t, first.AttributableAt(time.Now().UTC()))

	// Expiry only ends attribution; the arm itself stays sticky.
	live := New(store.Experiments(), store.Assignments())
	second, existing, err := live.Assign(ctx, "sess-1", "exp-1")
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, first.Variant, second.Variant)
}

func TestAssignLifecycleGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown experiment", func(t *testing.T) {
		_, assigner := newFixture(t)
		_, _, err := assigner.Assign(ctx, "sess-1", "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	for _, status := range []storage.Status{storage.StatusDraft, storage.StatusCompleted, storage.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			store, assigner := newFixture(t)
			seedExperiment(t, store, status, storage.Split{Control: 0.85, Variant: 0.05})
			_, _, err := assigner.Assign(ctx, "sess-1", "exp-1")
			assert.ErrorIs(t, err, ErrNoActiveExperiment)
		})
	}
}

func TestAssignConcurrentSameSession(t *testing.T) {
	ctx := context.Background()
	store, assigner := newFixture(t)
	seedExperiment(t, store, storage.StatusActive, storage.Split{Control: 0.45, Variant: 0.45})

	const racers = 8
	variants := make([]storage.Variant, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := assigner.Assign(ctx, "sess-race", "exp-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			variants[i] = a.Variant
		}(i)
	}
	wg.Wait()

	for i := 1; i < racers; i++ {
		assert.Equal(t, variants[0], variants[i], "racer %d diverged", i)
	}
}

func TestAssignHoldsOutUnexposedTraffic(t *testing.T) {
	ctx := context.Background()
	store, assigner := newFixture(t)
	seedExperiment(t, store, storage.StatusActive, storage.Split{Control: 0.855, Variant: 0.045})

	// This session lands beyond the 0.9 exposure for exp-1.
	_, _, err := assigner.Assign(ctx, "sess-hold", "exp-1")
	require.ErrorIs(t, err, ErrSessionNotExposed)

	// Nothing persisted: the session re-enters the draw if the exposure
	// ever widens.
	_, err = store.Assignments().Get(ctx, "sess-hold", "exp-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// An exposed session from the same experiment still assigns normally.
	a, existing, err := assigner.Assign(ctx, "sess-1", "exp-1")
	require.NoError(t, err)
	assert.False(t, existing)
	assert.True(t, a.Variant.Valid())

	// Promotion routes all traffic to the winner; nobody is held out then.
	_, err = store.Experiments().Update(ctx, "exp-1", func(r *storage.ExperimentRecord) error {
		r.Allocation = storage.Split{Control: 0.0, Variant: 1.0}
		return nil
	})
	require.NoError(t, err)
	a, _, err = assigner.Assign(ctx, "sess-hold", "exp-1")
	require.NoError(t, err)
	assert.Equal(t, storage.VariantTreatment, a.Variant)
}

func TestDraw(t *testing.T) {
	t.Run("deterministic per pair", func(t *testing.T) {
		split := storage.Split{Control: 0.5, Variant: 0.4}
		for i := 0; i < 50; i++ {
			sess := fmt.Sprintf("sess-%d", i)
			v1, e1 := Draw(sess, "exp-1", split)
			v2, e2 := Draw(sess, "exp-1", split)
			if v1 != v2 || e1 != e2 {
				t.Fatalf("draw for %s not deterministic", sess)
			}
		}
	})

	t.Run("respects split regions", func(t *testing.T) {
		// Exposure 0.9 with variant at 0.05: about one session in twenty
		// draws the variant and about one in ten is held out entirely.
		split := storage.Split{Control: 0.85, Variant: 0.05}
		const n = 20000
		var variantCount, heldCount int
		for i := 0; i < n; i++ {
			v, exposed := Draw(fmt.Sprintf("sess-%d", i), "exp-1", split)
			switch {
			case !exposed:
				heldCount++
				if v != storage.VariantControl {
					t.Fatalf("held-out draw returned %q, want control", v)
				}
			case v == storage.VariantTreatment:
				variantCount++
			}
		}
		if got := float64(variantCount) / n; math.Abs(got-split.Variant) > 0.01 {
			t.Errorf("variant fraction %v, want about %v", got, split.Variant)
		}
		if got := float64(heldCount) / n; math.Abs(got-(1-split.Exposure())) > 0.01 {
			t.Errorf("held-out fraction %v, want about %v", got, 1-split.Exposure())
		}
	})

	t.Run("nearby session ids spread across regions", func(t *testing.T) {
		// Sequential session IDs differ only in trailing characters; the
		// finalized digest must still spread them over the whole interval.
		split := storage.Split{Control: 0.855, Variant: 0.045}
		var held int
		for i := 0; i < 2000; i++ {
			if _, exposed := Draw(fmt.Sprintf("sess-%08d", i), "exp-1", split); !exposed {
				held++
			}
		}
		if held == 0 {
			t.Error("no session held out across 2000 sequential ids")
		}
	})

	t.Run("zero split falls back to unexposed control", func(t *testing.T) {
		v, exposed := Draw("sess", "exp", storage.Split{})
		if v != storage.VariantControl || exposed {
			t.Errorf("zero-exposure draw = (%q, %v), want unexposed control", v, exposed)
		}
	})
}
