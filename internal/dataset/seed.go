package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"call-audit-go/internal/actionable"
	"call-audit-go/internal/jobs"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// SeedFile is a fixture of already-audited calls, used to populate a store for demos.
type SeedFile struct {
	CallHistory []SeedCall `json:"callHistory"`
}

type SeedCall struct {
	Agent           string         `json:"agent"`
	Customer        string         `json:"customer"`
	Duration        string         `json:"duration"`
	Score           int            `json:"score"`
	Date            string         `json:"date"`
	Time            string         `json:"time"`
	Transcript      []SeedSegment  `json:"transcript"`
	ComplianceItems []SeedCheck    `json:"complianceItems"`
	Analytics       *SeedAnalytics `json:"analytics"`
}

type SeedSegment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Time    string `json:"time"`
}

type SeedCheck struct {
	Rule        string `json:"rule"`
	Title       string `json:"title"`
	Passed      bool   `json:"passed"`
	Details     string `json:"details"`
	Description string `json:"description"`
}

type SeedAnalytics struct {
	AgentTalkTime     *float64 `json:"agentTalkTime"`
	CustomerTalkTime  *float64 `json:"customerTalkTime"`
	AgentTone         *float64 `json:"agentTone"`
	CustomerSentiment *float64 `json:"customerSentiment"`
	SilencePeriods    *int     `json:"silencePeriods"`
	InterruptionCount *int     `json:"interruptionCount"`
	KeyPhrases        []string `json:"keyPhrases"`
}

// SeedStore is the slice of the job store seeding writes to.
type SeedStore interface {
	jobs.Store
	CreateJob(ctx context.Context, job types.Job) (types.Job, error)
	AddUtterance(ctx context.Context, jobID string, u types.Utterance) error
	SaveComplianceReport(ctx context.Context, jobID string, r types.ComplianceReport) error
	SaveAnalytics(ctx context.Context, jobID string, a types.CallAnalytics) error
}

const seedTimeLayout = "January 2, 2006 15:04"

// LoadSeed decodes a fixture.
func LoadSeed(r io.Reader) (SeedFile, error) {
	var f SeedFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return SeedFile{}, fmt.Errorf("decode seed fixture: %w", err)
	}
	return f, nil
}

// Seed stores every fixture call as a completed job and returns their ids.
// Fixture jobs pass through the same state machine as processed ones.
func Seed(ctx context.Context, st SeedStore, f SeedFile, log *logger.Logger) ([]string, error) {
	log = log.Component("seed")
	ids := make([]string, 0, len(f.CallHistory))
	for i, call := range f.CallHistory {
		id, err := seedCall(ctx, st, call, log)
		if err != nil {
			return ids, fmt.Errorf("seed call %d: %w", i+1, err)
		}
		ids = append(ids, id)
	}
	log.WithField("calls", len(ids)).Info("seed fixture imported")
	return ids, nil
}

func seedCall(ctx context.Context, st SeedStore, call SeedCall, log *logger.Logger) (string, error) {
	job := types.Job{
		AudioFile: "seed",
		Agent:     call.Agent,
		Customer:  call.Customer,
		Duration:  call.Duration,
	}
	if at, err := time.Parse(seedTimeLayout, strings.TrimSpace(call.Date+" "+call.Time)); err == nil {
		job.CreatedAt = at.UTC()
	}
	job, err := st.CreateJob(ctx, job)
	if err != nil {
		return "", err
	}

	for _, seg := range call.Transcript {
		u := types.Utterance{Speaker: seedSpeaker(seg.Speaker), OffsetMs: clockMs(seg.Time), Text: seg.Text}
		if err := st.AddUtterance(ctx, job.ID, u); err != nil {
			return "", err
		}
	}

	report := types.ComplianceReport{
		Checklist:    make([]types.ChecklistItem, 0, len(call.ComplianceItems)),
		RiskLevel:    riskFor(call.Score),
		Score:        call.Score,
		Violations:   []types.Violation{},
		Improvements: []string{},
		Sentiment:    "neutral",
		Summary:      "Compliance report imported from fixture",
	}
	for _, c := range call.ComplianceItems {
		report.Checklist = append(report.Checklist, types.ChecklistItem{
			Rule:    firstNonEmpty(c.Rule, c.Title),
			Passed:  c.Passed,
			Details: firstNonEmpty(c.Details, c.Description),
		})
	}
	report.Recommendations = actionable.Recommendations(report)
	if err := st.SaveComplianceReport(ctx, job.ID, report); err != nil {
		return "", err
	}
	if err := st.SaveAnalytics(ctx, job.ID, seedAnalytics(call.Analytics)); err != nil {
		return "", err
	}

	tracker := jobs.NewTracker(st, nil, job.ID, log)
	if err := tracker.Advance(ctx, 85, "Analytics", "Imported from fixture"); err != nil {
		return "", err
	}
	if err := tracker.Complete(ctx, call.Score); err != nil {
		return "", err
	}
	return job.ID, nil
}

// seedAnalytics fills fields the fixture omits with a typical five-minute call.
func seedAnalytics(a *SeedAnalytics) types.CallAnalytics {
	out := types.CallAnalytics{
		AgentTalkTime:     300,
		CustomerTalkTime:  240,
		AgentTone:         0.8,
		CustomerSentiment: 0.7,
		SilencePeriods:    5,
		InterruptionCount: 2,
		KeyPhrases:        []string{"refund", "policy", "satisfaction"},
	}
	if a == nil {
		return out
	}
	if a.AgentTalkTime != nil {
		out.AgentTalkTime = *a.AgentTalkTime
	}
	if a.CustomerTalkTime != nil {
		out.CustomerTalkTime = *a.CustomerTalkTime
	}
	if a.AgentTone != nil {
		out.AgentTone = *a.AgentTone
	}
	if a.CustomerSentiment != nil {
		out.CustomerSentiment = *a.CustomerSentiment
	}
	if a.SilencePeriods != nil {
		out.SilencePeriods = *a.SilencePeriods
	}
	if a.InterruptionCount != nil {
		out.InterruptionCount = *a.InterruptionCount
	}
	if a.KeyPhrases != nil {
		out.KeyPhrases = a.KeyPhrases
	}
	return out
}

func seedSpeaker(s string) types.Speaker {
	if strings.EqualFold(strings.TrimSpace(s), "agent") {
		return types.SpeakerAgent
	}
	return types.SpeakerCustomer
}

// clockMs parses "mm:ss" or "hh:mm:ss" into milliseconds. Anything else is 0.
func clockMs(v string) int64 {
	var secs int64
	for _, part := range strings.Split(strings.TrimSpace(v), ":") {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		secs = secs*60 + n
	}
	return secs * 1000
}

func riskFor(score int) string {
	switch {
	case score >= 80:
		return "Low"
	case score >= 60:
		return "Medium"
	default:
		return "High"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
