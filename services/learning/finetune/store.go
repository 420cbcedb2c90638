// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package finetune

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrJobNotFound is returned when no job matches the lookup.
	ErrJobNotFound = errors.New("fine-tuning job not found")

	// ErrNoDeployment is returned when a category has no deployed model.
	ErrNoDeployment = errors.New("no deployment recorded for category")
)

// Deployment records which model currently serves a category.
type Deployment struct {
	Category collector.Category `json:"category"`
	Model    string             `json:"model"`
	Version  int                `json:"version"`

	// Previous is the model displaced by the last promotion; rollback
	// restores it.
	Previous  string    `json:"previous,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// -----------------------------------------------------------------------------
// JobStore
// -----------------------------------------------------------------------------

// JobStore persists jobs and deployments in BadgerDB.
//
// Keys: job:<category>:<id> and deploy:<category>. Records are JSON; a
// record that fails to decode is skipped with a warning rather than
// poisoning every listing.
//
// Thread Safety: Safe for concurrent use; Badger transactions provide
// isolation.
type JobStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewJobStore wraps an opened database.
func NewJobStore(db *badger.DB, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{db: db, logger: logger}
}

func jobKey(cat collector.Category, id string) []byte {
	return []byte(fmt.Sprintf("job:%s:%s", cat, id))
}

func jobPrefix(cat collector.Category) []byte {
	return []byte(fmt.Sprintf("job:%s:", cat))
}

func deployKey(cat collector.Category) []byte {
	return []byte("deploy:" + string(cat))
}

// SaveJob writes one job record in its own transaction.
func (s *JobStore) SaveJob(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.Category, job.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job by category and id.
func (s *JobStore) GetJob(cat collector.Category, id string) (*Job, error) {
	var job Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(cat, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// FindJob locates a job by id across all categories.
func (s *JobStore) FindJob(id string) (*Job, error) {
	for _, cat := range collector.AllCategories() {
		job, err := s.GetJob(cat, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	}
	return nil, ErrJobNotFound
}

// ListJobs returns the category's job history, oldest first.
func (s *JobStore) ListJobs(cat collector.Category) ([]*Job, error) {
	var jobs []*Job
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := jobPrefix(cat)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var job Job
				if err := json.Unmarshal(val, &job); err != nil {
					s.logger.Warn("skipping corrupt job record",
						"key", string(it.Item().Key()), "error", err)
					return nil
				}
				jobs = append(jobs, &job)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", cat, err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ActiveJob returns the category's in-flight job, or nil when the
// category is idle. The single-in-flight rule makes at most one match
// possible.
func (s *JobStore) ActiveJob(cat collector.Category) (*Job, error) {
	jobs, err := s.ListJobs(cat)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Stage.InFlight() {
			return job, nil
		}
	}
	return nil, nil
}

// MaxVersion returns the highest job version recorded for the category,
// zero when none exist.
func (s *JobStore) MaxVersion(cat collector.Category) (int, error) {
	jobs, err := s.ListJobs(cat)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, job := range jobs {
		if job.Version > max {
			max = job.Version
		}
	}
	return max, nil
}

// -----------------------------------------------------------------------------
// Deployments
// -----------------------------------------------------------------------------

// SetDeployment records the model now serving a category.
func (s *JobStore) SetDeployment(dep Deployment) error {
	dep.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(dep)
	if err != nil {
		return fmt.Errorf("marshal deployment for %s: %w", dep.Category, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deployKey(dep.Category), data)
	})
	if err != nil {
		return fmt.Errorf("save deployment for %s: %w", dep.Category, err)
	}
	return nil
}

// Deployment returns the category's current deployment.
func (s *JobStore) Deployment(cat collector.Category) (*Deployment, error) {
	var dep Deployment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deployKey(cat))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dep)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoDeployment
	}
	if err != nil {
		return nil, fmt.Errorf("get deployment for %s: %w", cat, err)
	}
	return &dep, nil
}
