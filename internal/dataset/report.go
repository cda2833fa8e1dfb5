package dataset

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-audit-go/internal/types"
)

const (
	summarySheet    = "Summary"
	transcriptSheet = "Transcript"
)

var summaryHeaders = []string{
	"Job ID", "Date", "Time", "File", "Agent", "Customer", "Duration", "Status",
	"Score", "Compliance", "Risk Level", "Violations", "Agent Talk (s)",
	"Customer Talk (s)", "Interruptions", "Key Phrases", "Summary", "Error",
}

var transcriptHeaders = []string{
	"Job ID", "Offset (s)", "Speaker", "Text", "Sentiment", "Confidence", "Flagged", "Flag Reason",
}

// WriteResults renders job results as a workbook with a Summary and a Transcript sheet.
func WriteResults(w io.Writer, results []types.JobResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(transcriptSheet); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}

	if err := writeRow(f, summarySheet, 1, toRow(summaryHeaders)); err != nil {
		return err
	}
	if err := writeRow(f, transcriptSheet, 1, toRow(transcriptHeaders)); err != nil {
		return err
	}

	tRow := 2
	for i, res := range results {
		rec := types.NewCallRecord(res.Job)
		row := []any{
			rec.ID, rec.Date, rec.Time, res.Job.AudioFile, rec.Agent, rec.Customer, rec.Duration,
			string(res.Job.Status), rec.Score, string(rec.Status), res.Report.RiskLevel,
			len(res.Report.Violations), res.Analytics.AgentTalkTime, res.Analytics.CustomerTalkTime,
			res.Analytics.InterruptionCount, strings.Join(res.Analytics.KeyPhrases, ", "),
			truncate(res.Report.Summary, 500), res.Job.ErrorMessage,
		}
		if err := writeRow(f, summarySheet, i+2, row); err != nil {
			return err
		}

		for j, u := range res.Utterances {
			sentiment, confidence := "", 0.0
			if j < len(res.Sentiments) {
				sentiment, confidence = res.Sentiments[j].Sentiment, res.Sentiments[j].Confidence
			}
			row := []any{
				res.Job.ID, float64(u.OffsetMs) / 1000, string(u.Speaker), u.Text,
				sentiment, confidence, u.Flagged, u.FlagReason,
			}
			if err := writeRow(f, transcriptSheet, tRow, row); err != nil {
				return err
			}
			tRow++
		}
	}

	_ = f.SetColWidth(summarySheet, "A", "A", 38)
	_ = f.SetColWidth(summarySheet, "B", "G", 16)
	_ = f.SetColWidth(summarySheet, "P", "Q", 60)
	_ = f.SetColWidth(transcriptSheet, "A", "A", 38)
	_ = f.SetColWidth(transcriptSheet, "D", "D", 80)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toRow(headers []string) []any {
	out := make([]any, len(headers))
	for i, h := range headers {
		out[i] = h
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
