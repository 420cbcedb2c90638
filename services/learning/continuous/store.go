// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package continuous

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

// ErrNoCheckpoint is returned when a rollback finds nothing to restore.
var ErrNoCheckpoint = errors.New("no prior checkpoint found")

const stateKey = "loop:state"

// LoopState is the loop's durable progress record.
type LoopState struct {
	UpdateNumber int       `json:"update_number"`
	CurrentModel string    `json:"current_model"`
	LearningRate float64   `json:"learning_rate"`
	RecentDeltas []float64 `json:"recent_deltas,omitempty"`
	LastRun      time.Time `json:"last_run"`
}

// Checkpoint is a restorable snapshot of the loop taken every
// checkpointInterval updates.
type Checkpoint struct {
	UpdateNumber int                         `json:"update_number"`
	Model        string                      `json:"model"`
	LearningRate float64                     `json:"learning_rate"`
	RecentDeltas []float64                   `json:"recent_deltas,omitempty"`
	Replay       []collector.TrainingExample `json:"replay,omitempty"`
	TakenAt      time.Time                   `json:"taken_at"`
}

// StateStore persists loop state and checkpoints in BadgerDB under the
// loop:state and ckpt:<updateNumber> keys.
//
// Thread Safety: Safe for concurrent use.
type StateStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewStateStore wraps an opened database.
func NewStateStore(db *badger.DB, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{db: db, logger: logger}
}

func ckptKey(updateNumber int) []byte {
	return []byte(fmt.Sprintf("ckpt:%d", updateNumber))
}

// SaveState persists the loop state.
func (s *StateStore) SaveState(state LoopState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal loop state: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKey), data)
	})
	if err != nil {
		return fmt.Errorf("save loop state: %w", err)
	}
	return nil
}

// LoadState returns the persisted state, or a zero state when none
// exists or the record is corrupt. A corrupt record is logged and the
// loop starts fresh rather than crashing.
func (s *StateStore) LoadState() LoopState {
	var state LoopState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		s.logger.Warn("loop state unreadable, starting fresh", "error", err)
		return LoopState{}
	}
	return state
}

// SaveCheckpoint persists one checkpoint.
func (s *StateStore) SaveCheckpoint(ckpt Checkpoint) error {
	ckpt.TakenAt = time.Now().UTC()
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %d: %w", ckpt.UpdateNumber, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ckptKey(ckpt.UpdateNumber), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint %d: %w", ckpt.UpdateNumber, err)
	}
	return nil
}

// LatestCheckpointBelow linear-scans for the checkpoint with the highest
// update number strictly below n.
//
// Outputs:
//   - *Checkpoint: The restore target.
//   - error: ErrNoCheckpoint when nothing qualifies.
func (s *StateStore) LatestCheckpointBelow(n int) (*Checkpoint, error) {
	var best *Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("ckpt:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var ckpt Checkpoint
				if err := json.Unmarshal(val, &ckpt); err != nil {
					s.logger.Warn("skipping corrupt checkpoint",
						"key", string(it.Item().Key()), "error", err)
					return nil
				}
				if ckpt.UpdateNumber < n && (best == nil || ckpt.UpdateNumber > best.UpdateNumber) {
					best = &ckpt
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan checkpoints: %w", err)
	}
	if best == nil {
		return nil, ErrNoCheckpoint
	}
	return best, nil
}
