// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore provides factory functions and configuration for the
// embedded BadgerDB instance backing the learning pipeline's durable state.
//
// One database holds every record family, separated by key prefix:
//
//	job:<category>:<id>        fine-tuning job records
//	ckpt:<updateNumber>        continuous-loop checkpoints
//	loop:state                 continuous-loop counters + replay buffer
//	alq:snapshot               active-learning queue snapshot
//
// Each record is written in its own transaction so a crash mid-write can
// only affect the record in flight.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the pipeline's BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes.
	// Job records and checkpoints must survive a crash, so this
	// defaults to true in production configurations.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// Nil disables internal logging.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults (durable, sync writes).
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, async writes.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter bridges slog.Logger to BadgerDB's Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

func (a *slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates and opens the BadgerDB instance for the pipeline.
//
// Description:
//
//	Opens the database at cfg.Path, creating the directory if needed,
//	or in memory when cfg.InMemory is set.
//
// Inputs:
//
//	cfg - Database configuration.
//
// Outputs:
//
//	*badger.DB - The opened database. Caller must Close() on shutdown.
//	error - Non-nil if the path is missing or the database cannot open.
//
// Thread Safety: The returned *badger.DB is safe for concurrent use.
func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("path is required for persistent database")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// OpenInMemory opens a throwaway in-memory database for tests.
func OpenInMemory() (*badger.DB, error) {
	return Open(InMemoryConfig())
}
