// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore wraps BadgerDB behind a small lifecycle and transaction
// API so callers never manage badger.Options or transaction retry directly.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use. BadgerDB transactions
//	are per-goroutine.
package badgerstore

import (
	"context"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Config controls how the underlying BadgerDB instance is opened.
type Config struct {
	// Path is the on-disk directory for the value log and LSM tree.
	// Ignored when InMemory is true.
	Path string

	// InMemory opens a purely in-memory instance. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync after each write. Off by default; the
	// stores built on this wrapper hold only re-computable cache data.
	SyncWrites bool
}

// DefaultConfig returns a Config suitable for cache-style workloads.
func DefaultConfig() Config {
	return Config{SyncWrites: false}
}

// DB is an opened BadgerDB instance.
//
// Thread Safety: Safe for concurrent use.
type DB struct {
	db *badger.DB
}

// OpenDB opens (or creates) a BadgerDB instance described by cfg.
//
// Inputs:
//   - cfg: Open configuration. Path must be non-empty unless InMemory is set.
//
// Outputs:
//   - *DB: The opened instance. Caller owns the lifecycle and must Close it.
//   - error: Non-nil if the directory cannot be created or locked.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badgerstore: path must not be empty")
	}

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil) // badger's own logger is too chatty; callers use slog

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", cfg.Path, err)
	}

	slog.Debug("badgerstore: opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return &DB{db: db}, nil
}

// Close releases the lock file and flushes pending writes.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// WithTxn runs fn inside a read-write transaction. The transaction commits
// when fn returns nil and discards otherwise.
//
// Inputs:
//   - ctx: Checked before starting; BadgerDB itself does not take contexts.
//   - fn: Transaction body. Must not retain the *badger.Txn after returning.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Unwrap exposes the raw BadgerDB handle for iteration-heavy tooling
// (cache dump CLI). Regular callers should stay on WithTxn/WithReadTxn.
func (d *DB) Unwrap() *badger.DB {
	return d.db
}
