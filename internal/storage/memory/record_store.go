// Package memory provides an in-memory record store for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
)

// RecordStore keeps records in a map keyed by identifier.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]crawler.Record
	nextID  int64
	now     func() time.Time
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]crawler.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FindByIdentifier returns the record for identifier or crawler.ErrRecordNotFound.
func (s *RecordStore) FindByIdentifier(_ context.Context, identifier string) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identifier]
	if !ok {
		return crawler.Record{}, crawler.ErrRecordNotFound
	}
	return clone(rec), nil
}

// Create inserts a new record. Duplicate identifiers are rejected.
func (s *RecordStore) Create(_ context.Context, identifier string, meta crawler.Metadata) (crawler.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[identifier]; exists {
		return crawler.Record{}, fmt.Errorf("record %s already exists", identifier)
	}
	s.nextID++
	now := s.now()
	rec := crawler.Record{
		ID:         s.nextID,
		Identifier: identifier,
		Metadata:   meta,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.records[identifier] = rec
	return clone(rec), nil
}

// UpdateMetadata overwrites every metadata field, leaving LocalPath untouched.
func (s *RecordStore) UpdateMetadata(_ context.Context, identifier string, meta crawler.Metadata) (crawler.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identifier]
	if !ok {
		return crawler.Record{}, crawler.ErrRecordNotFound
	}
	rec.Metadata = meta
	rec.UpdatedAt = s.now()
	s.records[identifier] = rec
	return clone(rec), nil
}

// SetLocalPath records path only when the record has none yet.
func (s *RecordStore) SetLocalPath(_ context.Context, identifier, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identifier]
	if !ok {
		return crawler.ErrRecordNotFound
	}
	if rec.LocalPath != nil {
		return nil
	}
	rec.LocalPath = &path
	rec.UpdatedAt = s.now()
	s.records[identifier] = rec
	return nil
}

// ListUnarchived returns records without a local path in insertion order.
func (s *RecordStore) ListUnarchived(context.Context) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, 0, len(s.records))
	for _, rec := range s.records {
		if !rec.Archived() {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close is a no-op.
func (s *RecordStore) Close() error {
	return nil
}

func clone(rec crawler.Record) crawler.Record {
	rec.Categories = append(crawler.StringList(nil), rec.Categories...)
	rec.Tags = append(crawler.StringList(nil), rec.Tags...)
	return rec
}
