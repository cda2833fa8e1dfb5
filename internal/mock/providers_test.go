package mock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"call-audit-go/internal/aggregator"
	"call-audit-go/internal/analysis"
	"call-audit-go/internal/extractor"
	"call-audit-go/internal/jobs"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/processor"
	"call-audit-go/internal/store"
	"call-audit-go/internal/transcription"
	"call-audit-go/internal/types"
)

func TestPipelineEndToEndWithMocks(t *testing.T) {
	log := logger.NewNop()
	st := store.NewMemory()
	events := jobs.NewEventBus(128)

	driver := transcription.NewDriver(NewSpeech(), Uploader{}, log,
		transcription.WithPollIntervals(time.Millisecond, 2*time.Millisecond),
		transcription.WithTimeout(time.Second))
	proc := processor.New(processor.Deps{
		Transcriber: driver,
		Analyzer:    analysis.NewAnalyzer(Language{}, Safety{}, log),
		Auditor:     extractor.NewAuditor(extractor.NewChatReasoner(Chat{}), log),
		Aggregator:  aggregator.New(Language{}, log),
		Store:       st,
		Events:      events,
	}, log)

	job, err := st.CreateJob(context.Background(), types.Job{AudioFile: "call.wav"})
	if err != nil {
		t.Fatal(err)
	}
	audio := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(audio, []byte("RIFF0000WAVEfmt "), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := proc.Process(context.Background(), job.ID, audio); err != nil {
		t.Fatalf("Process: %v", err)
	}
	res, err := st.Result(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Job.Status != types.JobComplete || res.Job.Score != 92 || res.Job.ComplianceStatus != types.Compliant {
		t.Fatalf("job = %+v", res.Job)
	}
	if len(res.Utterances) != len(script) || res.Utterances[0].Speaker != types.SpeakerAgent {
		t.Fatalf("utterances = %+v", res.Utterances)
	}
	if res.Sentiments[1].Sentiment != "negative" {
		t.Fatalf("sentiment = %+v", res.Sentiments[1])
	}
	if res.Report.RiskLevel != "Low" || len(res.Report.Checklist) != 4 {
		t.Fatalf("report = %+v", res.Report)
	}
	if len(res.Analytics.KeyPhrases) == 0 || res.Analytics.AgentTalkTime == 0 {
		t.Fatalf("analytics = %+v", res.Analytics)
	}
}

func TestChatScoresCardRequestsLower(t *testing.T) {
	_, user := extractor.BuildCompliancePrompt("agent: can you read me your card number")
	raw, _ := Chat{}.Chat(context.Background(), "", user)
	r, err := extractor.ParseReport(raw)
	if err != nil {
		t.Fatalf("ParseReport: %v", err)
	}
	if r.Score != 55 || r.RiskLevel != "High" || len(r.Violations) != 1 {
		t.Fatalf("report = %+v", r)
	}
}

func TestSafetyFlagsKeywords(t *testing.T) {
	got, _ := Safety{}.AnalyzeSafety(context.Background(), "You stupid machine")
	if got["Hate"] != 2 || got["Violence"] != 0 {
		t.Fatalf("got %v", got)
	}
}
