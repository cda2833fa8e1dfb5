package transcription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"call-audit-go/internal/common"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

const testHandle = "3d1c2b4a-5e6f-4a7b-8c9d-0e1f2a3b4c5d"

const threePhrases = `{"recognizedPhrases":[
 {"recognitionStatus":"Success","speaker":2,"offsetInTicks":31000000,"durationInTicks":15000000,
  "nBest":[{"confidence":0.91,"display":"I was charged twice."}]},
 {"recognitionStatus":"Success","speaker":1,"offsetInTicks":0,"durationInTicks":28000000,
  "nBest":[{"confidence":0.62,"display":"Thanks for calling, how can I help?"},{"confidence":0.95,"display":"Thank you for calling, how can I help?"}]},
 {"recognitionStatus":"Success","speaker":1,"offset":"PT5.2S","duration":"PT3S",
  "nBest":[{"confidence":0.88,"display":"Let me check that for you."}]}
]}`

// fakeProvider replays a scripted sequence of poll results.
type fakeProvider struct {
	mu        sync.Mutex
	handle    string
	submitErr error
	polls     []PollResult
	pollErrs  []error
	pollCount int
	manifest  Manifest
	content   string
	deleteErr error
	deleted   []string
	submitted []Config
}

func (f *fakeProvider) Submit(_ context.Context, _ string, cfg Config) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, cfg)
	return f.handle, f.submitErr
}

func (f *fakeProvider) Poll(_ context.Context, _ string) (PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pollCount
	f.pollCount++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return PollResult{}, f.pollErrs[i]
	}
	if len(f.polls) == 0 {
		return PollResult{Status: StatusRunning}, nil
	}
	if i >= len(f.polls) {
		return f.polls[len(f.polls)-1], nil
	}
	return f.polls[i], nil
}

func (f *fakeProvider) FetchResult(context.Context, string) (Manifest, error) {
	return f.manifest, nil
}

func (f *fakeProvider) FetchContent(context.Context, string) ([]byte, error) {
	return []byte(f.content), nil
}

func (f *fakeProvider) Delete(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, handle)
	return f.deleteErr
}

type fakeUploader struct {
	calls int
	err   error
}

func (u *fakeUploader) Upload(context.Context, string) (string, error) {
	u.calls++
	return "https://blob.example/call.wav?sig=x", u.err
}

func succeeding() *fakeProvider {
	return &fakeProvider{
		handle: testHandle,
		polls:  []PollResult{{Status: StatusNotStarted}, {Status: StatusRunning}, {Status: StatusSucceeded}},
		manifest: Manifest{Files: []ResultFile{
			{Kind: "TranscriptionReport", ContentURL: "https://x/report"},
			{Kind: "Transcription", ContentURL: "https://x/content"},
		}},
		content: threePhrases,
	}
}

func audioFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("RIFF0000WAVEfmt "), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func fastDriver(p Provider, u Uploader, opts ...Option) *Driver {
	opts = append([]Option{WithPollIntervals(time.Millisecond, 2*time.Millisecond), WithTimeout(2 * time.Second)}, opts...)
	return NewDriver(p, u, logger.NewNop(), opts...)
}

func TestTranscribeSuccess(t *testing.T) {
	p := succeeding()
	u := &fakeUploader{}
	got, err := fastDriver(p, u).Transcribe(context.Background(), audioFile(t, "support-call.wav"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	want := []types.Utterance{
		{Speaker: types.SpeakerAgent, OffsetMs: 0, DurationMs: 2800, Text: "Thank you for calling, how can I help?"},
		{Speaker: types.SpeakerCustomer, OffsetMs: 3100, DurationMs: 1500, Text: "I was charged twice."},
		{Speaker: types.SpeakerAgent, OffsetMs: 5200, DurationMs: 3000, Text: "Let me check that for you."},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d utterances, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("utterance %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(p.deleted) != 1 || p.deleted[0] != testHandle {
		t.Fatalf("deleted = %v", p.deleted)
	}
	if p.submitted[0].DisplayName != "support-call" || !p.submitted[0].Diarization || p.submitted[0].Speakers != 2 {
		t.Fatalf("submitted config = %+v", p.submitted[0])
	}
}

func TestTranscribeValidationHasNoRemoteCalls(t *testing.T) {
	cases := map[string]func(t *testing.T) (string, []Option){
		"missing": func(t *testing.T) (string, []Option) {
			return filepath.Join(t.TempDir(), "nope.wav"), nil
		},
		"unsupported": func(t *testing.T) (string, []Option) {
			return audioFile(t, "notes.txt"), nil
		},
		"too large": func(t *testing.T) (string, []Option) {
			return audioFile(t, "call.wav"), []Option{WithMaxFileSize(4)}
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			path, opts := setup(t)
			p := succeeding()
			u := &fakeUploader{}
			_, err := fastDriver(p, u, opts...).Transcribe(context.Background(), path)

			var ve *common.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if u.calls != 0 || len(p.submitted) != 0 || len(p.deleted) != 0 {
				t.Fatalf("remote calls made: upload=%d submit=%d delete=%d", u.calls, len(p.submitted), len(p.deleted))
			}
		})
	}
}

func TestTranscribeProviderFailure(t *testing.T) {
	p := succeeding()
	p.polls = []PollResult{{Status: StatusRunning}, {Status: StatusFailed, Message: "unsupported audio codec"}}

	_, err := fastDriver(p, &fakeUploader{}).Transcribe(context.Background(), audioFile(t, "a.mp3"))
	var fe *FailedError
	if !errors.As(err, &fe) || fe.Message != "unsupported audio codec" {
		t.Fatalf("err = %v, want FailedError", err)
	}
	if len(p.deleted) != 1 {
		t.Fatalf("remote job not cleaned up")
	}
}

func TestTranscribeTimeout(t *testing.T) {
	p := succeeding()
	p.polls = []PollResult{{Status: StatusRunning}}

	d := fastDriver(p, &fakeUploader{}, WithTimeout(40*time.Millisecond))
	_, err := d.Transcribe(context.Background(), audioFile(t, "a.wav"))

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if te.LastStatus != StatusRunning {
		t.Fatalf("last status = %s", te.LastStatus)
	}
	if len(p.deleted) != 1 {
		t.Fatalf("remote job not cleaned up after timeout")
	}
}

func TestTranscribeRetriesPollErrors(t *testing.T) {
	p := succeeding()
	p.pollErrs = []error{errors.New("connection reset"), errors.New("503")}
	p.polls = []PollResult{{}, {}, {Status: StatusSucceeded}}

	if _, err := fastDriver(p, &fakeUploader{}).Transcribe(context.Background(), audioFile(t, "a.wav")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if p.pollCount != 3 {
		t.Fatalf("polls = %d, want 3", p.pollCount)
	}
}

// statusErr mimics a provider HTTP error that knows whether it can be retried.
type statusErr struct{ code int }

func (e statusErr) Error() string { return fmt.Sprintf("status %d: access denied", e.code) }
func (e statusErr) Retryable() bool { return e.code >= 500 }

func TestTranscribeStopsOnPermanentPollError(t *testing.T) {
	p := succeeding()
	p.pollErrs = []error{statusErr{code: 401}, statusErr{code: 401}, statusErr{code: 401}}

	start := time.Now()
	_, err := fastDriver(p, &fakeUploader{}).Transcribe(context.Background(), audioFile(t, "a.wav"))
	var se statusErr
	if !errors.As(err, &se) || se.code != 401 {
		t.Fatalf("err = %v, want the provider's 401", err)
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		t.Fatalf("permanent error reported as timeout: %v", err)
	}
	if p.pollCount != 1 || time.Since(start) > time.Second {
		t.Fatalf("polls = %d after %s, want a single attempt", p.pollCount, time.Since(start))
	}
	if len(p.deleted) != 1 {
		t.Fatalf("remote job not cleaned up")
	}
}

func TestTranscribeTimeoutKeepsLastPollError(t *testing.T) {
	p := succeeding()
	p.pollErrs = make([]error, 10000)
	for i := range p.pollErrs {
		p.pollErrs[i] = statusErr{code: 503}
	}

	_, err := fastDriver(p, &fakeUploader{}, WithTimeout(40*time.Millisecond)).Transcribe(context.Background(), audioFile(t, "a.wav"))
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if te.LastErr == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("timeout lost the poll error: %v", err)
	}
}

func TestTranscribeMalformedHandle(t *testing.T) {
	p := succeeding()
	p.handle = "not-a-guid"

	_, err := fastDriver(p, &fakeUploader{}).Transcribe(context.Background(), audioFile(t, "a.wav"))
	if !errors.Is(err, ErrMalformedHandle) {
		t.Fatalf("err = %v, want ErrMalformedHandle", err)
	}
	if p.pollCount != 0 {
		t.Fatalf("polled a malformed handle")
	}
}

func TestTranscribeMissingTranscriptionFile(t *testing.T) {
	p := succeeding()
	p.manifest = Manifest{Files: []ResultFile{{Kind: "TranscriptionReport", ContentURL: "x"}}}

	_, err := fastDriver(p, &fakeUploader{}).Transcribe(context.Background(), audioFile(t, "a.wav"))
	if !errors.Is(err, ErrNoTranscriptionFile) {
		t.Fatalf("err = %v", err)
	}
	if len(p.deleted) != 1 {
		t.Fatalf("remote job not cleaned up")
	}
}

func TestTranscribeNoSpeech(t *testing.T) {
	p := succeeding()
	p.content = `{"recognizedPhrases":[]}`

	_, err := fastDriver(p, &fakeUploader{}).Transcribe(context.Background(), audioFile(t, "a.wav"))
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribeDeleteFailureIsSwallowed(t *testing.T) {
	p := succeeding()
	p.deleteErr = errors.New("404")

	if _, err := fastDriver(p, &fakeUploader{}).Transcribe(context.Background(), audioFile(t, "a.wav")); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestTranscribeUploadFailure(t *testing.T) {
	p := succeeding()
	_, err := fastDriver(p, &fakeUploader{err: errors.New("403")}).Transcribe(context.Background(), audioFile(t, "a.wav"))
	if err == nil || len(p.submitted) != 0 {
		t.Fatalf("err = %v, submitted = %d", err, len(p.submitted))
	}
}

func TestTranscribeCancelled(t *testing.T) {
	p := succeeding()
	p.polls = []PollResult{{Status: StatusRunning}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := fastDriver(p, &fakeUploader{}).Transcribe(ctx, audioFile(t, "a.wav"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(p.deleted) != 1 {
		t.Fatalf("cleanup must run after cancellation")
	}
}

func TestPollScheduleWidensWhileRunning(t *testing.T) {
	s := &pollSchedule{base: 5 * time.Second, running: 10 * time.Second, last: StatusNotStarted}
	if got := s.NextBackOff(); got != 5*time.Second {
		t.Fatalf("not started: %v", got)
	}
	s.last = StatusRunning
	if got := s.NextBackOff(); got != 10*time.Second {
		t.Fatalf("running: %v", got)
	}
}
