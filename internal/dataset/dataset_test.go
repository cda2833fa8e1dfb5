package dataset

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"call-audit-go/internal/types"
)

func writeManifest(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "manifest.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDetectsColumns(t *testing.T) {
	path := writeManifest(t, [][]any{
		{"Customer Name", "Agent", "Recording File", "Duration (sec)"},
		{"Ben", "Ana", "calls/one.wav", 125},
		{"Cy", "", "", 10},
		{"", "Dee", "/abs/two.mp3", "03:10"},
	})

	rows, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	want := filepath.Join(filepath.Dir(path), "calls/one.wav")
	if rows[0].Path != want || rows[0].Agent != "Ana" || rows[0].Customer != "Ben" || rows[0].Duration != "02:05" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].Path != "/abs/two.mp3" || rows[1].Duration != "03:10" || rows[1].Row != 4 {
		t.Fatalf("row 1 = %+v", rows[1])
	}
}

func TestLoadRejectsEmptyManifest(t *testing.T) {
	path := writeManifest(t, [][]any{{"File"}})
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for manifest without data rows")
	}
}

func sampleResults() []types.JobResult {
	created := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	return []types.JobResult{
		{
			Job: types.Job{ID: "job-1", AudioFile: "one.wav", Agent: "Ana", Customer: "Ben", Duration: "02:05",
				Status: types.JobComplete, Progress: 100, Score: 91, ComplianceStatus: types.Compliant, CreatedAt: created},
			Utterances: []types.Utterance{
				{Speaker: types.SpeakerAgent, OffsetMs: 0, Text: "Hello"},
				{Speaker: types.SpeakerCustomer, OffsetMs: 1500, Text: "Hi", Flagged: true, FlagReason: "Hate (severity 2)"},
			},
			Sentiments: []types.SentimentRecord{{Sentiment: "positive", Confidence: 0.9}, {Sentiment: "neutral", Confidence: 0.7}},
			Report:     types.ComplianceReport{RiskLevel: "Low", Score: 91},
			Analytics:  types.CallAnalytics{AgentTalkTime: 1.5, KeyPhrases: []string{"refund"}},
		},
		{
			Job:    types.Job{ID: "job-2", Status: types.JobError, ErrorMessage: "transcription timed out", CreatedAt: created},
			Report: types.EmptyReport(),
		},
	}
}

func TestWriteResults(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, sampleResults()); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	summary, err := f.GetRows(summarySheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 3 || summary[1][0] != "job-1" || summary[1][8] != "91" || summary[2][17] != "transcription timed out" {
		t.Fatalf("summary rows = %v", summary)
	}

	transcript, err := f.GetRows(transcriptSheet)
	if err != nil {
		t.Fatal(err)
	}
	if len(transcript) != 3 || transcript[2][2] != "customer" || transcript[2][7] != "Hate (severity 2)" {
		t.Fatalf("transcript rows = %v", transcript)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResults())
	if s.TotalCalls != 2 || s.Completed != 1 || s.Failed != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.AverageScore != 91 || s.ByCompliance[types.Compliant] != 1 || s.ByRiskLevel["Low"] != 1 || s.Flagged != 1 {
		t.Fatalf("summary = %+v", s)
	}
}
