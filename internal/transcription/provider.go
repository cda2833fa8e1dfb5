package transcription

import (
	"context"
	"time"
)

// Status is the remote transcription job state.
type Status string

const (
	StatusNotStarted Status = "NotStarted"
	StatusRunning    Status = "Running"
	StatusSucceeded  Status = "Succeeded"
	StatusFailed     Status = "Failed"
)

// PollResult is one poll response. Message carries the provider's failure reason.
type PollResult struct {
	Status  Status
	Message string
}

// Config is sent with every submission.
type Config struct {
	DisplayName         string
	Locale              string
	Diarization         bool
	Speakers            int
	WordLevelTimestamps bool
	PIIRedaction        bool
	Sentiment           bool
	TTL                 time.Duration
	PunctuationMode     string
	ProfanityFilterMode string
}

// DefaultConfig is a two-party support call in en-US.
func DefaultConfig() Config {
	return Config{
		Locale:              "en-US",
		Diarization:         true,
		Speakers:            2,
		WordLevelTimestamps: true,
		PIIRedaction:        true,
		Sentiment:           true,
		TTL:                 30 * time.Minute,
		PunctuationMode:     "DictatedAndAutomatic",
		ProfanityFilterMode: "Masked",
	}
}

// ResultFile is one artifact listed in the result manifest.
type ResultFile struct {
	Kind       string
	Name       string
	ContentURL string
}

type Manifest struct {
	Files []ResultFile
}

// Provider is the remote batch speech-to-text service.
type Provider interface {
	Submit(ctx context.Context, audioURL string, cfg Config) (handle string, err error)
	Poll(ctx context.Context, handle string) (PollResult, error)
	FetchResult(ctx context.Context, handle string) (Manifest, error)
	FetchContent(ctx context.Context, contentURL string) ([]byte, error)
	Delete(ctx context.Context, handle string) error
}

// Uploader stages a local file and returns a time-limited URL for it.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}
