package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"call-audit-go/internal/common"
	"call-audit-go/internal/types"
)

type jobRecord struct {
	job        types.Job
	utterances []types.Utterance
	sentiments []types.SentimentRecord
	findings   []types.SafetyFinding
	report     *types.ComplianceReport
	analytics  *types.CallAnalytics
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.RWMutex
	jobs  map[string]*jobRecord
	locks *keyedMutex
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs:  map[string]*jobRecord{},
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) CreateJob(_ context.Context, job types.Job) (types.Job, error) {
	job, err := prepareJob(job, m.now())
	if err != nil {
		return types.Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[job.ID]; exists {
		return types.Job{}, fmt.Errorf("job %s: %w", job.ID, common.ErrConflict)
	}
	m.jobs[job.ID] = &jobRecord{job: job}
	return job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return types.Job{}, notFound("job", id)
	}
	return rec.job, nil
}

func (m *Memory) ListJobs(_ context.Context) ([]types.Job, error) {
	m.mu.RLock()
	out := make([]types.Job, 0, len(m.jobs))
	for _, rec := range m.jobs {
		out = append(out, rec.job)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateJob(_ context.Context, id string, fn func(*types.Job) error) (types.Job, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	m.mu.RLock()
	rec, ok := m.jobs[id]
	var job types.Job
	if ok {
		job = rec.job
	}
	m.mu.RUnlock()
	if !ok {
		return types.Job{}, notFound("job", id)
	}

	if err := fn(&job); err != nil {
		return types.Job{}, err
	}
	job.ID = id
	job.UpdatedAt = m.now()

	m.mu.Lock()
	rec.job = job
	m.mu.Unlock()
	return job, nil
}

func (m *Memory) withRecord(id string, fn func(rec *jobRecord) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	return fn(rec)
}

func (m *Memory) AddUtterance(_ context.Context, jobID string, u types.Utterance) error {
	return m.withRecord(jobID, func(rec *jobRecord) error {
		rec.utterances = append(rec.utterances, u)
		return nil
	})
}

func (m *Memory) AddSentiment(_ context.Context, jobID string, r types.SentimentRecord) error {
	return m.withRecord(jobID, func(rec *jobRecord) error {
		rec.sentiments = append(rec.sentiments, r)
		return nil
	})
}

func (m *Memory) AddSafetyFinding(_ context.Context, jobID string, f types.SafetyFinding) error {
	return m.withRecord(jobID, func(rec *jobRecord) error {
		rec.findings = append(rec.findings, f)
		return nil
	})
}

func (m *Memory) SaveComplianceReport(_ context.Context, jobID string, r types.ComplianceReport) error {
	return m.withRecord(jobID, func(rec *jobRecord) error {
		if rec.report != nil {
			return fmt.Errorf("compliance report for %s: %w", jobID, common.ErrConflict)
		}
		rec.report = &r
		return nil
	})
}

func (m *Memory) SaveAnalytics(_ context.Context, jobID string, a types.CallAnalytics) error {
	return m.withRecord(jobID, func(rec *jobRecord) error {
		rec.analytics = &a
		return nil
	})
}

func (m *Memory) ComplianceReport(_ context.Context, jobID string) (types.ComplianceReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[jobID]
	if !ok || rec.report == nil {
		return types.ComplianceReport{}, notFound("compliance report", jobID)
	}
	return *rec.report, nil
}

func (m *Memory) Analytics(_ context.Context, jobID string) (types.CallAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[jobID]
	if !ok || rec.analytics == nil {
		return types.CallAnalytics{}, notFound("analytics", jobID)
	}
	return *rec.analytics, nil
}

func (m *Memory) Result(_ context.Context, jobID string) (types.JobResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return types.JobResult{}, notFound("job", jobID)
	}

	res := types.JobResult{
		Job:            rec.job,
		Utterances:     append([]types.Utterance{}, rec.utterances...),
		Sentiments:     append([]types.SentimentRecord{}, rec.sentiments...),
		SafetyFindings: append([]types.SafetyFinding{}, rec.findings...),
		Report:         types.EmptyReport(),
		Analytics:      types.EmptyAnalytics(),
	}
	sort.SliceStable(res.Utterances, func(i, j int) bool {
		return res.Utterances[i].OffsetMs < res.Utterances[j].OffsetMs
	})
	if rec.report != nil {
		res.Report = *rec.report
	}
	if rec.analytics != nil {
		res.Analytics = *rec.analytics
	}
	return res, nil
}

func (m *Memory) Close() error { return nil }
