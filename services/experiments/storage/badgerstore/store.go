// Copyright (C) 2026 Canary Commerce (eng@canarycommerce.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/CanaryCommerce/CanaryOSS/services/experiments/storage"
)

// Key layout. IDs are validated at the HTTP boundary to exclude the ':'
// separator, so prefix scans cannot collide across namespaces.
const (
	experimentPrefix = "exp:"
	assignmentPrefix = "asg:"
	eventPrefix      = "evt:"
	dedupPrefix      = "ddp:"
)

// updateRetries is how many times a lost transaction race is retried
// internally before surfacing storage.ErrConflict.
const updateRetries = 1

// Store implements storage.Store on a Badger database.
//
// Thread Safety: Safe for concurrent use; atomicity comes from Badger's
// serializable snapshot isolation.
type Store struct {
	db *DB
}

// New creates a store on the given database.
func New(db *DB) *Store {
	return &Store{db: db}
}

// Experiments returns the experiment store.
func (s *Store) Experiments() storage.ExperimentStore { return (*experimentStore)(s) }

// Assignments returns the assignment store.
func (s *Store) Assignments() storage.AssignmentStore { return (*assignmentStore)(s) }

// Events returns the event store.
func (s *Store) Events() storage.EventStore { return (*eventStore)(s) }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Apply commits one counter update in a single Badger transaction.
//
// Description:
//
//	Dedup keys, the record mutation and the audit events commit together
//	or not at all, which is what keeps counters reconcilable against the
//	event log and keeps a failed update from consuming its dedup key. A
//	replayed key aborts with storage.ErrAlreadyExists before anything is
//	written. Batch sizes are bounded at the HTTP layer well below Badger's
//	transaction limits.
func (s *Store) Apply(ctx context.Context, u storage.CounterUpdate) (*storage.ExperimentRecord, error) {
	var out *storage.ExperimentRecord

	attempt := func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, key := range u.DedupKeys {
				if err := markKey(txn, key); err != nil {
					return err
				}
			}
			var rec storage.ExperimentRecord
			if err := getJSON(txn, experimentKey(u.ExperimentID), &rec); err != nil {
				return err
			}
			if u.Mutate != nil {
				if err := u.Mutate(&rec); err != nil {
					return err
				}
			}
			if err := setJSON(txn, experimentKey(u.ExperimentID), &rec); err != nil {
				return err
			}
			for _, e := range u.Events {
				if err := setJSON(txn, eventKey(e), e); err != nil {
					return err
				}
			}
			out = &rec
			return nil
		})
	}

	var err error
	for i := 0; i <= updateRetries; i++ {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		err = attempt()
		if err != badger.ErrConflict {
			break
		}
	}
	if err != nil {
		return nil, mapTxnErr(err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Shared Helpers
// -----------------------------------------------------------------------------

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func mapTxnErr(err error) error {
	if err == badger.ErrConflict {
		return storage.ErrConflict
	}
	return err
}

// -----------------------------------------------------------------------------
// Experiment Store
// -----------------------------------------------------------------------------

type experimentStore Store

func experimentKey(id string) []byte {
	return []byte(experimentPrefix + id)
}

func (s *experimentStore) Create(ctx context.Context, rec *storage.ExperimentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		key := experimentKey(rec.ID)
		if _, err := txn.Get(key); err == nil {
			return storage.ErrAlreadyExists
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return setJSON(txn, key, rec)
	})
	return mapTxnErr(err)
}

func (s *experimentStore) Get(ctx context.Context, id string) (*storage.ExperimentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec storage.ExperimentRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, experimentKey(id), &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *experimentStore) Update(ctx context.Context, id string, mutate func(*storage.ExperimentRecord) error) (*storage.ExperimentRecord, error) {
	var out *storage.ExperimentRecord

	attempt := func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var rec storage.ExperimentRecord
			if err := getJSON(txn, experimentKey(id), &rec); err != nil {
				return err
			}
			if err := mutate(&rec); err != nil {
				return err
			}
			if err := setJSON(txn, experimentKey(id), &rec); err != nil {
				return err
			}
			out = &rec
			return nil
		})
	}

	var err error
	for i := 0; i <= updateRetries; i++ {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		err = attempt()
		if err != badger.ErrConflict {
			break
		}
	}
	if err != nil {
		return nil, mapTxnErr(err)
	}
	return out, nil
}

func (s *experimentStore) List(ctx context.Context) ([]*storage.ExperimentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var recs []*storage.ExperimentRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(experimentPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec storage.ExperimentRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].ActivatedAt.After(recs[j].ActivatedAt)
	})
	return recs, nil
}

// -----------------------------------------------------------------------------
// Assignment Store
// -----------------------------------------------------------------------------

type assignmentStore Store

func assignmentKey(sessionID, experimentID string) []byte {
	return []byte(assignmentPrefix + sessionID + ":" + experimentID)
}

func (s *assignmentStore) Get(ctx context.Context, sessionID, experimentID string) (*storage.SessionAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var a storage.SessionAssignment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, assignmentKey(sessionID, experimentID), &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Put inserts the assignment if absent; the first successful write wins.
//
// Description:
//
//	Insert-if-absent runs inside one transaction, so two racing first
//	visits cannot both commit: the loser either observes the winner's
//	key inside its own transaction or fails commit with a conflict, and
//	in both cases reads back the winning record. The returned assignment
//	is always the persisted truth.
func (s *assignmentStore) Put(ctx context.Context, a *storage.SessionAssignment) (*storage.SessionAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := assignmentKey(a.SessionID, a.ExperimentID)

	var existing storage.SessionAssignment
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, key, &existing); err == nil {
			return storage.ErrAlreadyExists
		} else if err != storage.ErrNotFound {
			return err
		}
		return setJSON(txn, key, a)
	})

	switch {
	case err == nil:
		return a, nil
	case err == storage.ErrAlreadyExists:
		return &existing, storage.ErrAlreadyExists
	case err == badger.ErrConflict:
		// Lost the race at commit time: read back the winner.
		winner, getErr := (*assignmentStore)(s).Get(ctx, a.SessionID, a.ExperimentID)
		if getErr != nil {
			return nil, storage.ErrConflict
		}
		return winner, storage.ErrAlreadyExists
	default:
		return nil, err
	}
}

func (s *assignmentStore) BySession(ctx context.Context, sessionID string) ([]*storage.SessionAssignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*storage.SessionAssignment
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(assignmentPrefix + sessionID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var a storage.SessionAssignment
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			out = append(out, &a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Event Store
// -----------------------------------------------------------------------------

type eventStore Store

func eventKey(e *storage.Event) []byte {
	// Nanosecond timestamp keeps iteration in append order; the event ID
	// breaks ties for same-nanosecond bulk writes.
	return []byte(fmt.Sprintf("%s%s:%020d:%s",
		eventPrefix, e.ExperimentID, e.OccurredAt.UnixNano(), e.ID))
}

func (s *eventStore) ByExperiment(ctx context.Context, experimentID string) ([]*storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*storage.Event
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventPrefix + experimentID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e storage.Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Dedup Keys
// -----------------------------------------------------------------------------

// markKey inserts the dedup key if absent inside the given transaction.
func markKey(txn *badger.Txn, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("dedup key must not be empty")
	}
	dbKey := []byte(dedupPrefix + key)
	if _, err := txn.Get(dbKey); err == nil {
		return storage.ErrAlreadyExists
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	return txn.Set(dbKey, []byte{1})
}
