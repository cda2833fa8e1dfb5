// Package store persists jobs and everything the pipeline derives from them.
//
// Every implementation serializes updates to a single job: UpdateJob runs its
// mutator while holding that job's lock, so concurrent workers never interleave
// writes to the same row. Different jobs never contend.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"call-audit-go/internal/common"
	"call-audit-go/internal/config"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// Store is the persistence boundary used by ingress, the orchestrator and the API.
type Store interface {
	CreateJob(ctx context.Context, job types.Job) (types.Job, error)
	GetJob(ctx context.Context, id string) (types.Job, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context) ([]types.Job, error)
	UpdateJob(ctx context.Context, id string, fn func(*types.Job) error) (types.Job, error)

	AddUtterance(ctx context.Context, jobID string, u types.Utterance) error
	AddSentiment(ctx context.Context, jobID string, r types.SentimentRecord) error
	AddSafetyFinding(ctx context.Context, jobID string, f types.SafetyFinding) error

	// SaveComplianceReport fails with common.ErrConflict on a second report for the same job.
	SaveComplianceReport(ctx context.Context, jobID string, r types.ComplianceReport) error
	SaveAnalytics(ctx context.Context, jobID string, a types.CallAnalytics) error

	// ComplianceReport and Analytics return common.ErrNotFound until the stage has run.
	ComplianceReport(ctx context.Context, jobID string) (types.ComplianceReport, error)
	Analytics(ctx context.Context, jobID string) (types.CallAnalytics, error)

	Result(ctx context.Context, jobID string) (types.JobResult, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN, log)
	case "postgres":
		return OpenPostgres(ctx, cfg, log)
	default:
		return nil, common.NewAppError("STORE", "unknown driver "+cfg.Driver, common.ErrInvalidInput)
	}
}

func prepareJob(job types.Job, now time.Time) (types.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.JobPending
	}
	if job.Status != types.JobPending || job.Progress != 0 {
		return job, fmt.Errorf("new jobs must be pending at 0%%: %w", common.ErrInvalidInput)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	return job, nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, common.ErrNotFound)
}

// keyedMutex hands out one mutex per job id and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
