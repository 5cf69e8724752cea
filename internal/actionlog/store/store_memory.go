package store

import (
	"context"
	"strings"
	"sync"

	"dncproxy/internal/actionlog/models"
)

// InMemoryStore keeps the action log in process memory. Development and
// tests only: records do not survive a restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []models.ActionRecord
	nextID  int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

// Append assigns the next ID and stores a copy of record.
func (s *InMemoryStore) Append(_ context.Context, record *models.ActionRecord) (int64, error) {
	if err := record.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := clone(*record)
	stored.ID = s.nextID
	s.nextID++
	s.records = append(s.records, stored)
	return stored.ID, nil
}

// Query returns matching records, newest first, and the total match count.
func (s *InMemoryStore) Query(_ context.Context, filter models.Filter, page models.Page) ([]models.ActionRecord, int, error) {
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ActionRecord, 0, page.Limit)
	total := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if !matches(r, filter) {
			continue
		}
		if total >= page.Offset && len(out) < page.Limit {
			out = append(out, clone(r))
		}
		total++
	}
	return out, total, nil
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}

func matches(r models.ActionRecord, f models.Filter) bool {
	if f.Email != "" && !strings.EqualFold(r.Email, f.Email) {
		return false
	}
	if f.Result != "" && r.Result != f.Result {
		return false
	}
	return true
}

func clone(r models.ActionRecord) models.ActionRecord {
	if r.ContactID != nil {
		v := *r.ContactID
		r.ContactID = &v
	}
	if r.ErrorDetail != nil {
		v := *r.ErrorDetail
		r.ErrorDetail = &v
	}
	return r
}
