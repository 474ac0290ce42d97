package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/subgen/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	mu        sync.RWMutex
	activeJob string
	jobs      map[string]*models.JobRecord
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.JobRecord),
	}
}

// SaveActiveJob remembers jobID as the followed job
func (s *MemoryStore) SaveActiveJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeJob = jobID
	return nil
}

// ActiveJob returns the followed job id, or "" when there is none
func (s *MemoryStore) ActiveJob(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeJob, nil
}

// ClearActiveJob forgets the followed job
func (s *MemoryStore) ClearActiveJob(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeJob = ""
	return nil
}

// RecordJob inserts or replaces a history entry
func (s *MemoryStore) RecordJob(ctx context.Context, rec *models.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if existing, ok := s.jobs[rec.JobID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = now
	s.jobs[rec.JobID] = &cp
	return nil
}

// UpdateJobStatus updates the status of a recorded job
func (s *MemoryStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, downloadURL, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	now := time.Now().UTC()
	rec.Status = status
	if downloadURL != "" {
		rec.DownloadURL = downloadURL
	}
	rec.Error = errMsg
	rec.UpdatedAt = now
	if models.IsTerminalState(status) && rec.CompletedAt == nil {
		rec.CompletedAt = &now
	}
	return nil
}

// GetJob retrieves a history entry by job id
func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListJobs returns up to limit entries, newest first. limit <= 0 means all.
func (s *MemoryStore) ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
