// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

// =============================================================================
// Store: durable custom tool descriptors
// =============================================================================
//
// Storage layout:
//
//	catalog/tool/v1/{name}  →  JSON-encoded ToolDescriptor
//
// Only custom descriptors are stored. Built-ins come from the embedded YAML
// and are never written.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/GraphQA/services/graphqa/storage/badger"
)

// toolKeyPrefix is versioned to allow future format changes without collision.
const toolKeyPrefix = "catalog/tool/v1/"

// Store persists custom descriptors.
//
// Thread Safety: Implementations must be safe for concurrent use. Apply
// must be atomic: either every put and delete is durable or none is.
type Store interface {
	// LoadAll returns every stored descriptor in key order.
	LoadAll(ctx context.Context) ([]ToolDescriptor, error)

	// Apply writes puts and removes deletes in one transaction.
	Apply(ctx context.Context, puts []ToolDescriptor, deletes []string) error

	// Sync flushes pending writes to disk.
	Sync() error

	// Close releases the store.
	Close() error
}

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewBadgerStore wraps an opened database. The store takes ownership of db
// and closes it in Close.
func NewBadgerStore(db *badgerstore.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger.With(slog.String("component", "catalog_store"))}
}

// LoadAll implements Store.
func (s *BadgerStore) LoadAll(ctx context.Context) ([]ToolDescriptor, error) {
	var out []ToolDescriptor
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(toolKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var d ToolDescriptor
				if err := json.Unmarshal(val, &d); err != nil {
					s.logger.Warn("skipping undecodable catalog entry",
						slog.String("key", string(item.Key())),
						slog.String("error", err.Error()),
					)
					return nil
				}
				out = append(out, d)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog store load: %w", err)
	}
	return out, nil
}

// Apply implements Store.
func (s *BadgerStore) Apply(ctx context.Context, puts []ToolDescriptor, deletes []string) error {
	encoded := make([][]byte, len(puts))
	for i, d := range puts {
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("catalog store encode %q: %w", d.Name, err)
		}
		encoded[i] = raw
	}

	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, name := range deletes {
			if err := txn.Delete(toolKey(name)); err != nil {
				return err
			}
		}
		for i, d := range puts {
			if err := txn.Set(toolKey(d.Name), encoded[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("catalog store apply: %w", err)
	}
	return nil
}

// Sync implements Store.
func (s *BadgerStore) Sync() error {
	return s.db.Sync()
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func toolKey(name string) []byte {
	return []byte(toolKeyPrefix + name)
}
