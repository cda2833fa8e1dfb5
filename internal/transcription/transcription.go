package transcription

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// Driver runs one recording through the remote batch transcription service.
type Driver struct {
	provider Provider
	uploader Uploader
	cfg      Config
	log      *logger.Logger

	pollInterval    time.Duration
	runningInterval time.Duration
	timeout         time.Duration
	cleanupTimeout  time.Duration
	maxFileSize     int64
}

type Option func(*Driver)

// WithPollIntervals sets the baseline interval and the wider one used while the job is running.
func WithPollIntervals(base, running time.Duration) Option {
	return func(d *Driver) {
		if base > 0 {
			d.pollInterval = base
		}
		if running > 0 {
			d.runningInterval = running
		}
	}
}

// WithTimeout caps the wall-clock time spent polling.
func WithTimeout(t time.Duration) Option {
	return func(d *Driver) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithMaxFileSize(n int64) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxFileSize = n
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(d *Driver) { d.cfg = cfg }
}

func NewDriver(provider Provider, uploader Uploader, log *logger.Logger, opts ...Option) *Driver {
	d := &Driver{
		provider:        provider,
		uploader:        uploader,
		cfg:             DefaultConfig(),
		log:             log.Component("transcription"),
		pollInterval:    5 * time.Second,
		runningInterval: 10 * time.Second,
		timeout:         300 * time.Second,
		cleanupTimeout:  15 * time.Second,
		maxFileSize:     MaxFileSize,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Transcribe validates, uploads, submits and polls the recording at path and
// returns its utterances ordered by start offset. The remote job is deleted
// on every path once it has been created.
func (d *Driver) Transcribe(ctx context.Context, path string) ([]types.Utterance, error) {
	log := d.log.WithField("file", filepath.Base(path))

	if err := ValidateFile(path, d.maxFileSize); err != nil {
		return nil, err
	}

	audioURL, err := d.uploader.Upload(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}

	cfg := d.cfg
	if cfg.DisplayName == "" {
		cfg.DisplayName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	handle, err := d.provider.Submit(ctx, audioURL, cfg)
	if err != nil {
		return nil, fmt.Errorf("submit transcription: %w", err)
	}
	if _, err := uuid.Parse(handle); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedHandle, handle)
	}
	log = log.WithField("handle", handle)
	defer d.cleanup(ctx, handle)

	log.Info("transcription submitted, polling")
	if err := d.poll(ctx, handle); err != nil {
		return nil, err
	}

	manifest, err := d.provider.FetchResult(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("fetch result manifest: %w", err)
	}
	file, ok := transcriptionFile(manifest)
	if !ok {
		return nil, ErrNoTranscriptionFile
	}
	content, err := d.provider.FetchContent(ctx, file.ContentURL)
	if err != nil {
		return nil, fmt.Errorf("fetch transcription content: %w", err)
	}

	utterances, err := Normalize(content)
	if err != nil {
		return nil, err
	}
	if len(utterances) == 0 {
		return nil, ErrNoSpeech
	}
	log.WithField("utterances", len(utterances)).Info("transcription complete")
	return utterances, nil
}

// errNotDone keeps the poll loop going.
var errNotDone = errors.New("transcription not finished")

func (d *Driver) poll(ctx context.Context, handle string) error {
	pollCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	sched := &pollSchedule{base: d.pollInterval, running: d.runningInterval, last: StatusNotStarted}
	op := func() error {
		res, err := d.provider.Poll(pollCtx, handle)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			sched.lastErr = err
			d.log.WithError(err).WithField("handle", handle).Warn("poll failed, will retry")
			return err
		}
		sched.last, sched.lastErr = res.Status, nil
		switch res.Status {
		case StatusSucceeded:
			return nil
		case StatusFailed:
			return backoff.Permanent(&FailedError{Handle: handle, Message: res.Message})
		default:
			return errNotDone
		}
	}

	err := backoff.Retry(op, backoff.WithContext(sched, pollCtx))
	if err == nil {
		return nil
	}
	var failed *FailedError
	if errors.As(err, &failed) {
		return failed
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if pollCtx.Err() != nil {
		return &TimeoutError{Handle: handle, After: d.timeout, LastStatus: sched.last, LastErr: sched.lastErr}
	}
	return fmt.Errorf("poll transcription: %w", err)
}

// cleanup deletes the remote job. It runs even when ctx is already cancelled.
func (d *Driver) cleanup(ctx context.Context, handle string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cleanupTimeout)
	defer cancel()
	if err := d.provider.Delete(cctx, handle); err != nil {
		d.log.WithError(err).WithField("handle", handle).Warn("failed to delete remote transcription")
		return
	}
	d.log.WithField("handle", handle).Debug("remote transcription deleted")
}

func transcriptionFile(m Manifest) (ResultFile, bool) {
	for _, f := range m.Files {
		if strings.EqualFold(f.Kind, "transcription") && f.ContentURL != "" {
			return f, true
		}
	}
	return ResultFile{}, false
}

// pollSchedule waits the baseline interval, widened while the job reports running.
type pollSchedule struct {
	base    time.Duration
	running time.Duration
	last    Status
	lastErr error
}

func (p *pollSchedule) NextBackOff() time.Duration {
	if p.last == StatusRunning {
		return p.running
	}
	return p.base
}

func (p *pollSchedule) Reset() {}
