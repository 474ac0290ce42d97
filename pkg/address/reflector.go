// Package address keeps the shareable address of the active job in sync with
// the job being followed, so a later run can resume it without resubmitting.
package address

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// QueryParam is the address query parameter that carries the job id
const QueryParam = "job_id"

// DefaultBase is the address of the web front end
const DefaultBase = "http://localhost:5173/"

var ErrNoJobID = errors.New("no job id in address")

// Persister stores the active job id between runs
type Persister interface {
	SaveActiveJob(ctx context.Context, jobID string) error
	ActiveJob(ctx context.Context) (string, error)
	ClearActiveJob(ctx context.Context) error
}

// Reflector mirrors the active job id into an address of the form <base>?job_id=<id>
type Reflector struct {
	mu      sync.RWMutex
	base    *url.URL
	jobID   string
	persist Persister
}

// NewReflector creates a reflector over base. A nil persister keeps the address in memory only.
func NewReflector(base string, persist Persister) (*Reflector, error) {
	if base == "" {
		base = DefaultBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid address base %q: %w", base, err)
	}
	return &Reflector{base: u, persist: persist}, nil
}

// Load reads the persisted job id into the address and returns it ("" when none)
func (r *Reflector) Load(ctx context.Context) (string, error) {
	if r.persist == nil {
		return r.JobID(), nil
	}

	id, err := r.persist.ActiveJob(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load active job: %w", err)
	}

	r.mu.Lock()
	r.jobID = id
	r.mu.Unlock()
	return id, nil
}

// Reflect records jobID as the active job
func (r *Reflector) Reflect(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return ErrNoJobID
	}

	if r.persist != nil {
		if err := r.persist.SaveActiveJob(ctx, jobID); err != nil {
			return fmt.Errorf("failed to persist active job: %w", err)
		}
	}

	r.mu.Lock()
	r.jobID = jobID
	r.mu.Unlock()
	return nil
}

// Clear removes the job id from the address and forgets the persisted session
func (r *Reflector) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.jobID = ""
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.ClearActiveJob(ctx); err != nil {
			return fmt.Errorf("failed to clear active job: %w", err)
		}
	}
	return nil
}

// JobID returns the job id currently carried by the address
func (r *Reflector) JobID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobID
}

// Address returns the current address; without an active job it is the bare base
func (r *Reflector) Address() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return withJobID(r.base, r.jobID)
}

// Link returns the address that would carry jobID, without changing the active job
func (r *Reflector) Link(jobID string) string {
	return withJobID(r.base, jobID)
}

func withJobID(base *url.URL, jobID string) string {
	u := *base
	q := u.Query()
	if jobID == "" {
		q.Del(QueryParam)
	} else {
		q.Set(QueryParam, jobID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseJobID accepts a bare job id or an address carrying the job_id parameter
func ParseJobID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrNoJobID
	}

	if !strings.Contains(s, "?") && !strings.Contains(s, "://") {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	id := strings.TrimSpace(u.Query().Get(QueryParam))
	if id == "" {
		return "", ErrNoJobID
	}
	return id, nil
}
