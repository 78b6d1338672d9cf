// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/storage/badger"
)

// State is the lifecycle state of a journaled run.
type State string

const (
	StateBegun      State = "begun"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
	StateRecovered  State = "recovered"
)

// Record is the journal entry of one deletion run.
type Record struct {
	ID        string    `json:"id"`
	Entity    string    `json:"entity"`
	CacheDir  string    `json:"cache_dir"`
	BackupDir string    `json:"backup_dir,omitempty"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const recordPrefix = "txn/"

// Journal persists run records in BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	owned  bool
	logger *slog.Logger
}

// OpenJournal opens (or creates) a persistent journal at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := badger.DefaultConfig()
	cfg.Path = path
	cfg.Logger = logger
	db, err := badger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	j := NewJournal(db, logger)
	j.owned = true
	return j, nil
}

// NewJournal wraps an open database. Close does not close db.
func NewJournal(db *badger.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger.With("component", "transaction.Journal")}
}

// Put writes rec, stamping UpdatedAt.
func (j *Journal) Put(ctx context.Context, rec Record) error {
	ctx, span := tracer.Start(ctx, "Journal.Put")
	defer span.End()
	span.SetAttributes(attribute.String("txn.id", rec.ID), attribute.String("txn.state", string(rec.State)))

	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte(recordPrefix+rec.ID), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	j.logger.Debug("journal record written", "id", rec.ID, "state", rec.State)
	return nil
}

// Get returns the record with the given ID or ErrRecordNotFound.
func (j *Journal) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := j.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// List returns every record, oldest first.
func (j *Journal) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := j.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				j.logger.Warn("skipping undecodable journal record",
					"key", string(it.Item().Key()), "error", err)
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].StartedAt.Before(out[b].StartedAt) })
	return out, nil
}

// Pending returns the records still in StateBegun.
func (j *Journal) Pending(ctx context.Context) ([]Record, error) {
	all, err := j.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.State == StateBegun {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close closes the database when the journal opened it.
func (j *Journal) Close() error {
	if !j.owned {
		return nil
	}
	return j.db.Close()
}
