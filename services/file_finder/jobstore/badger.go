// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/filescout/services/file_finder/job"
)

// Key layout:
//
//	job:<jobID>                 -> JSON job record
//	wf:<workflowID>:<jobID>     -> empty (workflow index)
const (
	jobKeyPrefix = "job:"
	wfKeyPrefix  = "wf:"
)

// Config holds configuration for the BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful
	// for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil,
	// BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: synchronous writes,
// persistent storage at the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration optimized for testing: no disk
// I/O, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB instance.
//
// Thread Safety: safe for concurrent use. Atomicity of TryTransition
// and SetTerminal comes from BadgerDB's serializable transactions;
// conflicting commits are retried.
type BadgerStore struct {
	db *badger.DB
}

// Open creates and opens a BadgerDB-backed store.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *BadgerStore: The opened store. Caller must call Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent job store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create job store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens an in-memory store for testing. Data is lost when
// closed.
func OpenInMemory() (*BadgerStore, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

func wfKey(workflowID, jobID string) []byte {
	return []byte(wfKeyPrefix + workflowID + ":" + jobID)
}

// update runs fn in a read-write transaction, retrying on commit
// conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
}

// getJob reads and decodes a job record inside a transaction.
func getJob(txn *badger.Txn, id string) (*job.Job, error) {
	item, err := txn.Get(jobKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	var j job.Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &j)
	}); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// putJob encodes and writes a job record inside a transaction.
func putJob(txn *badger.Txn, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}
	if err := txn.Set(jobKey(j.ID), data); err != nil {
		return fmt.Errorf("put job %s: %w", j.ID, err)
	}
	return nil
}

// Create stores a new job record and its workflow index entry.
func (s *BadgerStore) Create(ctx context.Context, j *job.Job) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(j.ID)); err == nil {
			return fmt.Errorf("%w: %s", ErrJobExists, j.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check job %s: %w", j.ID, err)
		}
		if err := putJob(txn, j); err != nil {
			return err
		}
		if j.WorkflowID != "" {
			if err := txn.Set(wfKey(j.WorkflowID, j.ID), nil); err != nil {
				return fmt.Errorf("index job %s: %w", j.ID, err)
			}
		}
		return nil
	})
}

// Get returns the job by ID.
func (s *BadgerStore) Get(ctx context.Context, id string) (*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	var j *job.Job
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		j, err = getJob(txn, id)
		return err
	})
	return j, err
}

// TryTransition atomically moves the job between statuses.
func (s *BadgerStore) TryTransition(ctx context.Context, id string, from, to job.Status) (*job.Job, error) {
	var updated *job.Job
	err := s.update(ctx, func(txn *badger.Txn) error {
		j, err := getJob(txn, id)
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, id, j.Status)
		}
		if j.Status != from {
			return &TransitionError{JobID: id, Expected: from, Actual: j.Status, Target: to}
		}
		j.Status = to
		j.UpdatedAt = time.Now().UTC()
		if err := putJob(txn, j); err != nil {
			return err
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetTerminal seals the job with a terminal status.
func (s *BadgerStore) SetTerminal(ctx context.Context, id string, status job.Status, output json.RawMessage, errMsg string) (*job.Job, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("status %s is not terminal", status)
	}
	var updated *job.Job
	err := s.update(ctx, func(txn *badger.Txn) error {
		j, err := getJob(txn, id)
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			if j.Status == status {
				// Redelivered terminal report; keep the first result.
				updated = j
				return nil
			}
			return fmt.Errorf("%w: %s is %s, refusing %s", ErrTerminal, id, j.Status, status)
		}
		j.Status = status
		j.Output = output
		j.Error = errMsg
		j.UpdatedAt = time.Now().UTC()
		if err := putJob(txn, j); err != nil {
			return err
		}
		updated = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListByWorkflow returns all jobs of a workflow, oldest first.
func (s *BadgerStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	var jobs []*job.Job
	prefix := []byte(wfKeyPrefix + workflowID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			jobID := strings.TrimPrefix(key, string(prefix))
			j, err := getJob(txn, jobID)
			if errors.Is(err, ErrJobNotFound) {
				continue // index entry outlived the record
			}
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortJobsByCreation(jobs)
	return jobs, nil
}

// ListByStatus scans all jobs and returns those in the given status.
func (s *BadgerStore) ListByStatus(ctx context.Context, status job.Status) ([]*job.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	var jobs []*job.Job
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanJobs(txn, func(j *job.Job) {
			if j.Status == status {
				jobs = append(jobs, j)
			}
		})
	})
	if err != nil {
		return nil, err
	}
	sortJobsByCreation(jobs)
	return jobs, nil
}

// DeleteByWorkflow removes every job record and index entry of a
// workflow.
func (s *BadgerStore) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	prefix := []byte(wfKeyPrefix + workflowID + ":")
	return s.update(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var indexKeys [][]byte
		var jobIDs []string
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			indexKeys = append(indexKeys, key)
			jobIDs = append(jobIDs, strings.TrimPrefix(string(key), string(prefix)))
		}

		for _, id := range jobIDs {
			if err := txn.Delete(jobKey(id)); err != nil {
				return fmt.Errorf("delete job %s: %w", id, err)
			}
		}
		for _, key := range indexKeys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete index %s: %w", key, err)
			}
		}
		return nil
	})
}

// RequeueStale returns claimed-but-unstarted jobs older than the cutoff
// to Queued.
func (s *BadgerStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	count := 0
	err := s.update(ctx, func(txn *badger.Txn) error {
		count = 0
		var stale []*job.Job
		if err := s.scanJobs(txn, func(j *job.Job) {
			claimed := j.Status == job.StatusAcknowledgedByWorker || j.Status == job.StatusPreparing
			if claimed && j.UpdatedAt.Before(cutoff) {
				stale = append(stale, j)
			}
		}); err != nil {
			return err
		}
		for _, j := range stale {
			j.Status = job.StatusQueued
			j.UpdatedAt = time.Now().UTC()
			if err := putJob(txn, j); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// scanJobs iterates every job record, decoding values eagerly.
func (s *BadgerStore) scanJobs(txn *badger.Txn, fn func(j *job.Job)) error {
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         []byte(jobKeyPrefix),
		PrefetchValues: true,
		PrefetchSize:   100,
	})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		var j job.Job
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &j)
		}); err != nil {
			return fmt.Errorf("decode job %s: %w", it.Item().Key(), err)
		}
		fn(&j)
	}
	return nil
}

func sortJobsByCreation(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}
