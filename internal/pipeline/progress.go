// Stormgrid - Tropical Cyclone Risk Forecast Store
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stormgrid

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/stormgrid/internal/models"
)

const progressPrefix = "load:file:"

// FileProgress is the last known outcome of loading one input file.
type FileProgress struct {
	Path      string            `json:"path"`
	Key       string            `json:"key"`
	BatchID   string            `json:"batch_id"`
	State     models.BatchState `json:"state"`
	Rows      int64             `json:"rows"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ProgressTracker remembers per-file load progress between runs, keyed by
// content key.
type ProgressTracker interface {
	Get(ctx context.Context, key string) (*FileProgress, error)
	Save(ctx context.Context, p *FileProgress) error
	Clear(ctx context.Context, key string) error
}

// BadgerProgress persists file progress in a BadgerDB directory.
type BadgerProgress struct {
	db    *badger.DB
	owned bool
}

// NewBadgerProgress wraps an open BadgerDB instance.
func NewBadgerProgress(db *badger.DB) *BadgerProgress {
	return &BadgerProgress{db: db}
}

// OpenBadgerProgress opens (or creates) a progress store at path.
func OpenBadgerProgress(path string) (*BadgerProgress, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open progress store: %w", err)
	}
	return &BadgerProgress{db: db, owned: true}, nil
}

// Close releases the store if it was opened by OpenBadgerProgress.
func (p *BadgerProgress) Close() error {
	if !p.owned {
		return nil
	}
	return p.db.Close()
}

// Get returns nil, nil when the key has no recorded progress.
func (p *BadgerProgress) Get(_ context.Context, key string) (*FileProgress, error) {
	var fp *FileProgress
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(progressPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			fp = &FileProgress{}
			return json.Unmarshal(val, fp)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	return fp, nil
}

func (p *BadgerProgress) Save(_ context.Context, fp *FileProgress) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(progressPrefix+fp.Key), data)
	})
}

func (p *BadgerProgress) Clear(_ context.Context, key string) error {
	return p.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(progressPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// InMemoryProgress keeps progress for a single process.
type InMemoryProgress struct {
	mu    sync.Mutex
	files map[string]FileProgress
}

func NewInMemoryProgress() *InMemoryProgress {
	return &InMemoryProgress{files: make(map[string]FileProgress)}
}

func (p *InMemoryProgress) Get(_ context.Context, key string) (*FileProgress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fp, ok := p.files[key]
	if !ok {
		return nil, nil
	}
	return &fp, nil
}

func (p *InMemoryProgress) Save(_ context.Context, fp *FileProgress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[fp.Key] = *fp
	return nil
}

func (p *InMemoryProgress) Clear(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, key)
	return nil
}
