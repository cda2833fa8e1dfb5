package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"call-audit-go/internal/aggregator"
	"call-audit-go/internal/analysis"
	"call-audit-go/internal/common"
	"call-audit-go/internal/extractor"
	"call-audit-go/internal/jobs"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/store"
	"call-audit-go/internal/transcription"
	"call-audit-go/internal/types"
)

const goodReport = `{"checklist":[{"rule":"PCI-DSS","passed":true,"details":""}],"risk_level":"Low","score":88,
"violations":[],"improvements":[],"sentiment":"Positive","summary":"Clean call."}`

var threeUtterances = []types.Utterance{
	{Speaker: types.SpeakerAgent, OffsetMs: 0, DurationMs: 1000, Text: "Hello, how can I help?"},
	{Speaker: types.SpeakerCustomer, OffsetMs: 1500, DurationMs: 1000, Text: "I was double charged."},
	{Speaker: types.SpeakerAgent, OffsetMs: 3000, DurationMs: 1000, Text: "I will refund that now."},
}

type fakeTranscriber struct {
	utts []types.Utterance
	err  error
	hook func()
}

func (f fakeTranscriber) Transcribe(context.Context, string) ([]types.Utterance, error) {
	if f.hook != nil {
		f.hook()
	}
	return f.utts, f.err
}

type scriptedSentiment struct {
	failOn map[string]bool
}

func (s scriptedSentiment) AnalyzeSentiment(_ context.Context, text string) (analysis.SentimentResult, error) {
	if s.failOn[text] || s.failOn["*"] {
		return analysis.SentimentResult{}, errors.New("503 service unavailable")
	}
	return analysis.SentimentResult{Sentiment: "positive", ConfidenceScores: map[string]float64{"positive": 0.95}}, nil
}

type quietSafety struct{}

func (quietSafety) AnalyzeSafety(context.Context, string) (map[string]int, error) {
	return map[string]int{"Hate": 0}, nil
}

type fakeReasoner struct{ raw string }

func (f fakeReasoner) Audit(context.Context, string) (string, error) { return f.raw, nil }

type fixture struct {
	store  *store.Memory
	events *jobs.EventBus
	proc   *Processor
	job    types.Job
	audio  string
}

func newFixture(t *testing.T, tr Transcriber, sentiment analysis.SentimentProvider, reasonerRaw string) *fixture {
	t.Helper()
	log := logger.NewNop()
	st := store.NewMemory()
	events := jobs.NewEventBus(256)

	job, err := st.CreateJob(context.Background(), types.Job{AudioFile: "call.wav", Agent: "Ana", Customer: "Ben"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	audio := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o600); err != nil {
		t.Fatal(err)
	}

	proc := New(Deps{
		Transcriber: tr,
		Analyzer:    analysis.NewAnalyzer(sentiment, quietSafety{}, log),
		Auditor:     extractor.NewAuditor(fakeReasoner{raw: reasonerRaw}, log),
		Aggregator:  aggregator.New(nil, log),
		Store:       st,
		Events:      events,
	}, log)
	return &fixture{store: st, events: events, proc: proc, job: job, audio: audio}
}

func (f *fixture) assertMonotonic(t *testing.T) {
	t.Helper()
	last := -1
	for _, e := range f.events.Since(f.job.ID, 0) {
		if e.Progress < last {
			t.Fatalf("progress went from %d to %d", last, e.Progress)
		}
		last = e.Progress
	}
}

func (f *fixture) assertAudioRemoved(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(f.audio); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staged audio still present: %v", err)
	}
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, fakeTranscriber{utts: threeUtterances}, scriptedSentiment{}, goodReport)
	if f.job.Status != types.JobPending || f.job.Progress != 0 {
		t.Fatalf("new job = %+v", f.job)
	}

	if err := f.proc.Process(context.Background(), f.job.ID, f.audio); err != nil {
		t.Fatalf("Process: %v", err)
	}
	res, err := f.store.Result(context.Background(), f.job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Job.Status != types.JobComplete || res.Job.Progress != 100 || res.Job.Score != 88 {
		t.Fatalf("job = %+v", res.Job)
	}
	if res.Job.ComplianceStatus != types.Compliant {
		t.Fatalf("compliance status = %s", res.Job.ComplianceStatus)
	}
	if len(res.Utterances) != 3 || len(res.Sentiments) != 3 {
		t.Fatalf("utterances = %d, sentiments = %d", len(res.Utterances), len(res.Sentiments))
	}
	if res.Report.RiskLevel != "Low" || res.Analytics.AgentTalkTime != 2 {
		t.Fatalf("report = %+v analytics = %+v", res.Report, res.Analytics)
	}
	f.assertMonotonic(t)
	f.assertAudioRemoved(t)

	steps := map[string]bool{}
	for _, e := range f.events.Since(f.job.ID, 0) {
		steps[e.Step] = true
	}
	for _, s := range []string{"Transcription", "Analysis", "Compliance", "Analytics", "Complete"} {
		if !steps[s] {
			t.Errorf("missing step %q", s)
		}
	}
}

func TestProcessTranscriptionTimeout(t *testing.T) {
	tr := fakeTranscriber{err: &transcription.TimeoutError{Handle: "h", After: 300 * time.Second, LastStatus: transcription.StatusRunning}}
	f := newFixture(t, tr, scriptedSentiment{}, goodReport)

	err := f.proc.Process(context.Background(), f.job.ID, f.audio)
	var terr *transcription.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v", err)
	}
	job, _ := f.store.GetJob(context.Background(), f.job.ID)
	if job.Status != types.JobError || !strings.Contains(job.ErrorMessage, "timed out") {
		t.Fatalf("job = %+v", job)
	}
	if _, err := f.store.ComplianceReport(context.Background(), f.job.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("report should not exist: %v", err)
	}
	if _, err := f.store.Analytics(context.Background(), f.job.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("analytics should not exist: %v", err)
	}
	f.assertMonotonic(t)
	f.assertAudioRemoved(t)
}

func TestProcessTranscriptionFailed(t *testing.T) {
	f := newFixture(t, fakeTranscriber{err: &transcription.FailedError{Message: "InvalidData"}}, scriptedSentiment{}, goodReport)
	_ = f.proc.Process(context.Background(), f.job.ID, f.audio)

	job, _ := f.store.GetJob(context.Background(), f.job.ID)
	if job.Status != types.JobError || !strings.Contains(job.ErrorMessage, "InvalidData") {
		t.Fatalf("job = %+v", job)
	}
}

func TestProcessAllSentimentFailuresStillComplete(t *testing.T) {
	f := newFixture(t, fakeTranscriber{utts: threeUtterances}, scriptedSentiment{failOn: map[string]bool{"*": true}}, goodReport)
	if err := f.proc.Process(context.Background(), f.job.ID, f.audio); err != nil {
		t.Fatalf("Process: %v", err)
	}
	res, _ := f.store.Result(context.Background(), f.job.ID)
	if res.Job.Status != types.JobComplete {
		t.Fatalf("status = %s", res.Job.Status)
	}
	for _, s := range res.Sentiments {
		if s.Sentiment != analysis.DefaultSentiment || s.Confidence != analysis.DefaultConfidence {
			t.Fatalf("sentiment = %+v", s)
		}
	}
}

func TestProcessSecondSentimentFails(t *testing.T) {
	sent := scriptedSentiment{failOn: map[string]bool{threeUtterances[1].Text: true}}
	f := newFixture(t, fakeTranscriber{utts: threeUtterances}, sent, goodReport)
	if err := f.proc.Process(context.Background(), f.job.ID, f.audio); err != nil {
		t.Fatalf("Process: %v", err)
	}
	res, _ := f.store.Result(context.Background(), f.job.ID)
	if len(res.Sentiments) != 3 {
		t.Fatalf("sentiments = %+v", res.Sentiments)
	}
	want := []types.SentimentRecord{
		{Utterance: threeUtterances[0].Text, Sentiment: "positive", Confidence: 0.95},
		{Utterance: threeUtterances[1].Text, Sentiment: analysis.DefaultSentiment, Confidence: analysis.DefaultConfidence},
		{Utterance: threeUtterances[2].Text, Sentiment: "positive", Confidence: 0.95},
	}
	for i := range want {
		if res.Sentiments[i] != want[i] {
			t.Fatalf("sentiment %d = %+v, want %+v", i, res.Sentiments[i], want[i])
		}
	}
}

func TestProcessMissingRiskLevelUsesDefaultReport(t *testing.T) {
	raw := `{"checklist":[],"score":75,"violations":[],"improvements":[],"sentiment":"Neutral","summary":"x"}`
	f := newFixture(t, fakeTranscriber{utts: threeUtterances}, scriptedSentiment{}, raw)
	if err := f.proc.Process(context.Background(), f.job.ID, f.audio); err != nil {
		t.Fatalf("Process: %v", err)
	}
	res, _ := f.store.Result(context.Background(), f.job.ID)
	if res.Job.Status != types.JobComplete {
		t.Fatalf("status = %s", res.Job.Status)
	}
	if res.Report.Score != 0 || res.Report.RiskLevel != "unknown" {
		t.Fatalf("report = %+v", res.Report)
	}
	if res.Job.ComplianceStatus != types.ComplianceViolated {
		t.Fatalf("compliance status = %s", res.Job.ComplianceStatus)
	}
}

func TestProcessRecoversFromPanic(t *testing.T) {
	tr := fakeTranscriber{hook: func() { panic("nil provider") }}
	f := newFixture(t, tr, scriptedSentiment{}, goodReport)

	err := f.proc.Process(context.Background(), f.job.ID, f.audio)
	if err == nil || !strings.Contains(err.Error(), "nil provider") {
		t.Fatalf("err = %v", err)
	}
	job, _ := f.store.GetJob(context.Background(), f.job.ID)
	if job.Status != types.JobError {
		t.Fatalf("status = %s", job.Status)
	}
	f.assertAudioRemoved(t)
}

func TestProcessCancelledRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := fakeTranscriber{utts: threeUtterances, hook: cancel}
	f := newFixture(t, tr, scriptedSentiment{}, goodReport)

	if err := f.proc.Process(ctx, f.job.ID, f.audio); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	job, _ := f.store.GetJob(context.Background(), f.job.ID)
	if job.Status != types.JobError || job.ErrorMessage == "" {
		t.Fatalf("job = %+v", job)
	}
	f.assertAudioRemoved(t)
}
