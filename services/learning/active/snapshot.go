// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package active

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const snapshotKey = "alq:snapshot"

// BadgerSnapshotter persists the queue under the alq:snapshot key.
type BadgerSnapshotter struct {
	db *badger.DB
}

// NewBadgerSnapshotter wraps an opened database.
func NewBadgerSnapshotter(db *badger.DB) *BadgerSnapshotter {
	return &BadgerSnapshotter{db: db}
}

// SaveQueue implements Snapshotter.
func (s *BadgerSnapshotter) SaveQueue(entries []UncertainExample) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), data)
	})
	if err != nil {
		return fmt.Errorf("save queue snapshot: %w", err)
	}
	return nil
}

// LoadQueue implements Snapshotter. A missing snapshot yields an empty
// queue, not an error.
func (s *BadgerSnapshotter) LoadQueue() ([]UncertainExample, error) {
	var entries []UncertainExample
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entries)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	return entries, nil
}
