package dataset

import (
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// BatchSummary is the roll-up printed after a batch run.
type BatchSummary struct {
	TotalCalls   int                            `json:"total_calls"`
	Completed    int                            `json:"completed"`
	Failed       int                            `json:"failed"`
	ByCompliance map[types.ComplianceStatus]int `json:"by_compliance"`
	ByRiskLevel  map[string]int                 `json:"by_risk_level"`
	AverageScore float64                        `json:"average_score"`
	Flagged      int                            `json:"flagged_utterances"`
}

// Summarize rolls up finished jobs. Scores are averaged over completed jobs only.
func Summarize(results []types.JobResult) BatchSummary {
	log := logger.New().Component("dataset.summary")

	s := BatchSummary{
		TotalCalls:   len(results),
		ByCompliance: map[types.ComplianceStatus]int{},
		ByRiskLevel:  map[string]int{},
	}
	scoreSum := 0
	for _, r := range results {
		switch r.Job.Status {
		case types.JobComplete:
			s.Completed++
			scoreSum += r.Job.Score
			s.ByCompliance[r.Job.ComplianceStatus]++
			s.ByRiskLevel[r.Report.RiskLevel]++
		case types.JobError:
			s.Failed++
		}
		for _, u := range r.Utterances {
			if u.Flagged {
				s.Flagged++
			}
		}
	}
	if s.Completed > 0 {
		s.AverageScore = float64(scoreSum) / float64(s.Completed)
	}

	log.WithField("total_calls", s.TotalCalls).
		WithField("completed", s.Completed).
		WithField("failed", s.Failed).
		Info("batch summarization complete")
	return s
}
