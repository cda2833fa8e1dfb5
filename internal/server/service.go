package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"call-audit-go/internal/common"
	"call-audit-go/internal/jobs"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/pipeline"
	"call-audit-go/internal/transcription"
	"call-audit-go/internal/types"
)

// Metadata defaults for submissions that omit them.
const (
	DefaultAgent    = "Unknown Agent"
	DefaultCustomer = "Unknown Customer"
	DefaultDuration = "00:00"
)

const defaultUploadTimeout = 15 * time.Minute

// Submission is one call recording handed to ingress.
type Submission struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Agent       string
	Customer    string
	Duration    string
}

// JobStore is what ingress and the API read and write.
type JobStore interface {
	jobs.Store
	CreateJob(ctx context.Context, job types.Job) (types.Job, error)
	GetJob(ctx context.Context, id string) (types.Job, error)
	ListJobs(ctx context.Context) ([]types.Job, error)
	Result(ctx context.Context, jobID string) (types.JobResult, error)
}

type Enqueuer interface {
	Enqueue(task pipeline.Task) error
	Cancel(jobID string) bool
}

// Service validates submissions, stages the audio and hands the job to the queue.
type Service struct {
	store         JobStore
	queue         Enqueuer
	events        *jobs.EventBus
	uploadDir     string
	allowed       map[string]bool
	maxBytes      int64
	uploadTimeout time.Duration
	log           *logger.Logger
}

type ServiceConfig struct {
	UploadDir      string
	AllowedExts    []string
	MaxUploadBytes int64
	// UploadTimeout bounds reading one submission body. It replaces the
	// server-wide read timeout for the upload route.
	UploadTimeout  time.Duration
}

func NewService(store JobStore, queue Enqueuer, events *jobs.EventBus, cfg ServiceConfig, log *logger.Logger) *Service {
	allowed := map[string]bool{}
	for _, ext := range cfg.AllowedExts {
		allowed[strings.TrimPrefix(strings.ToLower(ext), ".")] = true
	}
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = transcription.MaxFileSize
	}
	uploadTimeout := cfg.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}
	return &Service{
		store:         store,
		queue:         queue,
		events:        events,
		uploadDir:     cfg.UploadDir,
		allowed:       allowed,
		maxBytes:      maxBytes,
		uploadTimeout: uploadTimeout,
		log:           log.Component("ingress"),
	}
}

// Submit creates a pending job and schedules it. Validation failures have no
// side effects. If the queue refuses the job it is marked failed and the
// staged file removed.
func (s *Service) Submit(ctx context.Context, sub Submission) (types.Job, error) {
	if err := s.validate(sub); err != nil {
		return types.Job{}, err
	}

	path, err := s.stage(sub)
	if err != nil {
		return types.Job{}, err
	}

	job, err := s.store.CreateJob(ctx, types.Job{
		AudioFile: filepath.Base(sub.Filename),
		Agent:     orDefault(sub.Agent, DefaultAgent),
		Customer:  orDefault(sub.Customer, DefaultCustomer),
		Duration:  orDefault(sub.Duration, DefaultDuration),
	})
	if err != nil {
		s.remove(path)
		return types.Job{}, fmt.Errorf("create job: %w", err)
	}
	log := s.log.WithJob(job.ID)

	if err := s.queue.Enqueue(pipeline.Task{JobID: job.ID, AudioPath: path}); err != nil {
		s.remove(path)
		if ferr := jobs.NewTracker(s.store, s.events, job.ID, s.log).Fail(ctx, err); ferr != nil {
			log.WithError(ferr).Error("failed to mark rejected job")
		}
		log.WithError(err).Warn("job rejected by queue")
		return types.Job{}, common.NewAppError("QUEUE_UNAVAILABLE", "processing queue cannot accept jobs", errors.Join(err, common.ErrUnavailable))
	}

	log.WithField("file", job.AudioFile).Info("job accepted")
	return job, nil
}

// Cancel asks the queue to stop a job.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s: %w", jobID, job.Status, common.ErrConflict)
	}
	if !s.queue.Cancel(jobID) {
		// the job may have finished between the status read and the cancel
		if latest, err := s.store.GetJob(ctx, jobID); err == nil && latest.Status.Terminal() {
			return fmt.Errorf("job %s is already %s: %w", jobID, latest.Status, common.ErrConflict)
		}
		return fmt.Errorf("job %s cannot be cancelled: %w", jobID, common.ErrUnavailable)
	}
	return nil
}

func (s *Service) validate(sub Submission) error {
	if sub.Body == nil || strings.TrimSpace(sub.Filename) == "" {
		return common.NewValidationError("file", nil, "no file provided")
	}
	ext := transcription.Extension(sub.Filename)
	if !s.allowed[ext] {
		return common.NewValidationError("file", filepath.Base(sub.Filename), "unsupported file type")
	}
	if !transcription.MIMEAllowed(ext, sub.ContentType) {
		return common.NewValidationError("file", sub.ContentType, "content type does not match ."+ext)
	}
	return nil
}

// stage copies the upload to a uniquely named file under the upload dir.
func (s *Service) stage(sub Submission) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, uuid.NewString()+"."+transcription.Extension(sub.Filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(sub.Body, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		s.remove(path)
		return "", fmt.Errorf("stage upload: %w", err)
	case n == 0:
		s.remove(path)
		return "", common.NewValidationError("file", filepath.Base(sub.Filename), "file is empty")
	case n > s.maxBytes:
		s.remove(path)
		return "", common.NewValidationError("file", filepath.Base(sub.Filename),
			fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}
	return path, nil
}

func (s *Service) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.WithError(err).WithField("path", path).Warn("failed to remove staged upload")
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
