package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/psantana5/subgen/pkg/models"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store persists the active session and the local job history.
// SQLite, PostgreSQL and the in-memory store implement it.
type Store interface {
	// Session: the single job the client is currently following
	SaveActiveJob(ctx context.Context, jobID string) error
	ActiveJob(ctx context.Context) (string, error)
	ClearActiveJob(ctx context.Context) error

	// History
	RecordJob(ctx context.Context, rec *models.JobRecord) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, downloadURL, errMsg string) error
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]*models.JobRecord, error)

	// Lifecycle
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type string // "sqlite", "postgres" or "memory"
	DSN  string // file path for sqlite, connection string for postgres

	// PostgreSQL specific
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ParseDSN infers the store type from a single configuration string:
// "memory", a postgres:// URL, or a SQLite file path.
func ParseDSN(dsn string) Config {
	switch {
	case dsn == "memory" || dsn == ":memory:":
		return Config{Type: "memory"}
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Config{Type: "postgres", DSN: dsn}
	default:
		return Config{Type: "sqlite", DSN: dsn}
	}
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.DSN
		if path == "" {
			path = "subgen.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
