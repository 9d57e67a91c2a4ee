// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps an embedded BadgerDB instance with context-aware
// transaction helpers.
//
// Thread Safety:
//
//	DB is safe for concurrent use. Transactions are per-goroutine.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// ErrClosed is returned by transaction helpers after Close.
var ErrClosed = errors.New("badger: database is closed")

// Config configures OpenDB.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// ReadOnly opens an existing directory without taking the write lock.
	ReadOnly bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval runs value-log GC periodically. Zero disables it.
	GCInterval time.Duration

	// Logger receives badger's own log output at warn level and above.
	Logger *slog.Logger
}

// DefaultConfig returns a durable on-disk config.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 10 * time.Minute,
	}
}

// InMemoryConfig returns a config for an ephemeral in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an opened BadgerDB with transaction helpers.
type DB struct {
	db       *dgbadger.DB
	logger   *slog.Logger
	inMemory bool

	closeOnce sync.Once
	stopGC    chan struct{}
	gcDone    chan struct{}
}

// OpenDB opens or creates a database.
//
// Inputs:
//   - cfg: Database configuration. Path is required unless InMemory is set.
//
// Outputs:
//   - *DB: The opened database. The caller owns it and must call Close.
//   - error: Non-nil if the directory cannot be opened.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger: path is required for on-disk databases")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = dgbadger.DefaultOptions(cfg.Path).
			WithSyncWrites(cfg.SyncWrites).
			WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.WithLogger(&slogAdapter{logger: logger.With(slog.String("component", "badger"))})

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}

	d := &DB{db: db, logger: logger, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory && !cfg.ReadOnly {
		d.stopGC = make(chan struct{})
		d.gcDone = make(chan struct{})
		go d.runGC(cfg.GCInterval)
	}
	return d, nil
}

// Badger returns the underlying handle for iteration helpers.
func (d *DB) Badger() *dgbadger.DB {
	return d.db
}

// WithTxn runs fn in a read-write transaction and commits it.
//
// Description:
//
//	The transaction is discarded if fn returns an error or ctx is
//	cancelled before commit. Conflicts are returned to the caller
//	unchanged so they can be matched with errors.Is(err, badger.ErrConflict).
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// Sync flushes pending writes to disk. A no-op for in-memory databases.
func (d *DB) Sync() error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	if d.inMemory {
		return nil
	}
	return d.db.Sync()
}

// Close stops background GC and closes the database. Safe to call more than once.
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.stopGC != nil {
			close(d.stopGC)
			<-d.gcDone
		}
		err = d.db.Close()
	})
	return err
}

func (d *DB) runGC(interval time.Duration) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is nothing to collect.
			for d.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// slogAdapter routes badger's logger interface to slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...any) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Warningf(format string, args ...any) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

// Infof and Debugf are discarded.
func (a *slogAdapter) Infof(string, ...any)  {}
func (a *slogAdapter) Debugf(string, ...any) {}
