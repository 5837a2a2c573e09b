// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// Key layout:
//
//	exec/<id>                  -> ExecutionRecord JSON
//	task/<id>                  -> BenchmarkTask JSON
//	taskname/<lower(name)>     -> task id
//	metrics/<runID>/<framework> -> ReliabilityMetrics JSON
const (
	prefixExecution = "exec/"
	prefixTask      = "task/"
	prefixTaskName  = "taskname/"
	prefixMetrics   = "metrics/"
)

// maxConflictRetries bounds optimistic-transaction retries on ErrConflict.
const maxConflictRetries = 16

// BadgerStore persists everything in one BadgerDB instance.
//
// # Description
//
// Values are JSON. Each mutation runs in its own read-write transaction, so
// single-record upserts are atomic; concurrent writers to the same key are
// serialized by Badger's conflict detection and retried.
//
// # Limitations
//
//   - Listing scans the whole prefix and filters in memory.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db        *badger.DB
	gc        *gcRunner
	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens the database and starts the GC runner if configured.
//
// # Inputs
//
//   - cfg: Database configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *BadgerStore: Ready store. Caller must call Close().
//   - error: Non-nil if the database cannot be opened.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	store := &BadgerStore{db: db}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		store.gc = runner
		runner.start()
	}
	return store, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// ===== Generic helpers =====

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context cancelled: %w", ctxErr)
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

func getJSON(txn *badger.Txn, key string, out any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func scanPrefix(txn *badger.Txn, prefix string, each func(val []byte) error) error {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: []byte(prefix)})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(each); err != nil {
			return err
		}
	}
	return nil
}

// ===== Executions =====

func (s *BadgerStore) CreateExecution(ctx context.Context, rec *datatypes.ExecutionRecord) error {
	key := prefixExecution + rec.ID
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err == nil {
			return fmt.Errorf("execution %s already exists", rec.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, rec)
	})
}

func (s *BadgerStore) UpdateExecution(ctx context.Context, id string, fn func(rec *datatypes.ExecutionRecord) error) (*datatypes.ExecutionRecord, error) {
	var result *datatypes.ExecutionRecord
	err := s.update(ctx, func(txn *badger.Txn) error {
		var rec datatypes.ExecutionRecord
		found, err := getJSON(txn, prefixExecution+id, &rec)
		if err != nil {
			return err
		}
		if !found {
			return datatypes.NewNotFound("execution", id)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		result = &rec
		return setJSON(txn, prefixExecution+id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BadgerStore) GetExecution(ctx context.Context, id string) (*datatypes.ExecutionRecord, error) {
	var rec datatypes.ExecutionRecord
	var found bool
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, prefixExecution+id, &rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, datatypes.NewNotFound("execution", id)
	}
	return &rec, nil
}

func (s *BadgerStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*datatypes.ExecutionRecord, error) {
	out := make([]*datatypes.ExecutionRecord, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixExecution, func(val []byte) error {
			var rec datatypes.ExecutionRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if filter.Matches(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortExecutionsNewestFirst(out)
	return applyLimit(out, filter.Limit), nil
}

func (s *BadgerStore) DeleteExecution(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := []byte(prefixExecution + id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return datatypes.NewNotFound("execution", id)
		}
		return txn.Delete(key)
	})
}

// ===== Tasks =====

func (s *BadgerStore) CreateTask(ctx context.Context, task *datatypes.BenchmarkTask) error {
	nameKey := []byte(prefixTaskName + normalizeName(task.Name))
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(nameKey); err == nil {
			return fmt.Errorf("%w: %s", datatypes.ErrTaskNameConflict, task.Name)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(nameKey, []byte(task.ID)); err != nil {
			return err
		}
		return setJSON(txn, prefixTask+task.ID, task)
	})
}

func (s *BadgerStore) UpdateTask(ctx context.Context, id string, fn func(task *datatypes.BenchmarkTask) error) (*datatypes.BenchmarkTask, error) {
	var result *datatypes.BenchmarkTask
	err := s.update(ctx, func(txn *badger.Txn) error {
		var task datatypes.BenchmarkTask
		found, err := getJSON(txn, prefixTask+id, &task)
		if err != nil {
			return err
		}
		if !found {
			return datatypes.NewNotFound("task", id)
		}
		oldKey := normalizeName(task.Name)
		if err := fn(&task); err != nil {
			return err
		}
		if newKey := normalizeName(task.Name); newKey != oldKey {
			item, err := txn.Get([]byte(prefixTaskName + newKey))
			if err == nil {
				owner, _ := item.ValueCopy(nil)
				if string(owner) != id {
					return fmt.Errorf("%w: %s", datatypes.ErrTaskNameConflict, task.Name)
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Delete([]byte(prefixTaskName + oldKey)); err != nil {
				return err
			}
			if err := txn.Set([]byte(prefixTaskName+newKey), []byte(id)); err != nil {
				return err
			}
		}
		result = &task
		return setJSON(txn, prefixTask+id, &task)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BadgerStore) GetTask(ctx context.Context, id string) (*datatypes.BenchmarkTask, error) {
	var task datatypes.BenchmarkTask
	var found bool
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, prefixTask+id, &task)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, datatypes.NewNotFound("task", id)
	}
	return &task, nil
}

func (s *BadgerStore) ListTasks(ctx context.Context) ([]*datatypes.BenchmarkTask, error) {
	out := make([]*datatypes.BenchmarkTask, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixTask, func(val []byte) error {
			var task datatypes.BenchmarkTask
			if err := json.Unmarshal(val, &task); err != nil {
				return err
			}
			out = append(out, &task)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortTasksByName(out)
	return out, nil
}

func (s *BadgerStore) DeleteTask(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var task datatypes.BenchmarkTask
		found, err := getJSON(txn, prefixTask+id, &task)
		if err != nil {
			return err
		}
		if !found {
			return datatypes.NewNotFound("task", id)
		}
		if err := txn.Delete([]byte(prefixTaskName + normalizeName(task.Name))); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixTask + id))
	})
}

// ===== Metrics =====

func (s *BadgerStore) UpsertMetrics(ctx context.Context, m *datatypes.ReliabilityMetrics) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, prefixMetrics+m.Key(), m)
	})
}

func (s *BadgerStore) GetMetrics(ctx context.Context, runID string, framework datatypes.FrameworkID) (*datatypes.ReliabilityMetrics, error) {
	key := datatypes.MetricsKey(runID, framework)
	var m datatypes.ReliabilityMetrics
	var found bool
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, prefixMetrics+key, &m)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, datatypes.NewNotFound("metrics", key)
	}
	return &m, nil
}

func (s *BadgerStore) ListMetrics(ctx context.Context, filter MetricsFilter) ([]*datatypes.ReliabilityMetrics, error) {
	prefix := prefixMetrics
	if filter.BenchmarkRunID != "" {
		prefix += filter.BenchmarkRunID + "/"
	}
	out := make([]*datatypes.ReliabilityMetrics, 0)
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, prefix, func(val []byte) error {
			var m datatypes.ReliabilityMetrics
			if err := json.Unmarshal(val, &m); err != nil {
				return err
			}
			if filter.matches(&m) {
				out = append(out, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortMetricsByTime(out)
	return out, nil
}
