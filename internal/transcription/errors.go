package transcription

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedHandle     = errors.New("malformed transcription handle")
	ErrNoTranscriptionFile = errors.New("result manifest has no transcription file")
	ErrNoSpeech            = errors.New("transcription contains no recognized speech")
)

// TimeoutError is returned when the job never succeeded within the poll budget.
type TimeoutError struct {
	Handle     string
	After      time.Duration
	LastStatus Status
	// LastErr is the most recent poll error, if polling was failing when time ran out.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("transcription timed out after %s (last status %s)", e.After, e.LastStatus)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// FailedError carries the provider's reason for a failed transcription.
type FailedError struct {
	Handle  string
	Message string
}

func (e *FailedError) Error() string {
	if e.Message == "" {
		return "transcription failed"
	}
	return "transcription failed: " + e.Message
}

// retryable is implemented by provider errors that know whether another
// attempt can succeed.
type retryable interface {
	Retryable() bool
}

// permanent reports whether err carries a provider verdict that retrying cannot change.
func permanent(err error) bool {
	var r retryable
	return errors.As(err, &r) && !r.Retryable()
}
