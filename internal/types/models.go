package types

import "time"

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobError
}

type ComplianceStatus string

const (
	Compliant          ComplianceStatus = "compliant"
	ComplianceWarning  ComplianceStatus = "warning"
	ComplianceViolated ComplianceStatus = "violation"
)

type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

// Job is one submitted call recording and its processing state.
type Job struct {
	ID               string           `json:"id"`
	AudioFile        string           `json:"audio_file"`
	Agent            string           `json:"agent"`
	Customer         string           `json:"customer"`
	Duration         string           `json:"duration"`
	Status           JobStatus        `json:"status"`
	Progress         int              `json:"progress"`
	CurrentStep      string           `json:"current_step"`
	StatusMessage    string           `json:"status_message"`
	ErrorMessage     string           `json:"error_message"`
	Score            int              `json:"score"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type Utterance struct {
	Speaker    Speaker `json:"speaker"`
	OffsetMs   int64   `json:"offset_ms"`
	DurationMs int64   `json:"duration_ms"`
	Text       string  `json:"text"`
	Flagged    bool    `json:"flagged"`
	FlagReason string  `json:"flag_reason,omitempty"`
}

// End returns the end offset, or the start when the duration is unknown.
func (u Utterance) End() int64 {
	return u.OffsetMs + u.DurationMs
}

type SentimentRecord struct {
	Utterance  string  `json:"utterance"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

type SafetyFinding struct {
	Utterance string `json:"utterance"`
	Category  string `json:"category"`
	Severity  int    `json:"severity"`
}

type ChecklistItem struct {
	Rule    string `json:"rule"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

type Violation struct {
	Type     string `json:"type"`
	Example  string `json:"example"`
	Severity string `json:"severity"`
}

type ComplianceReport struct {
	Checklist       []ChecklistItem `json:"checklist"`
	RiskLevel       string          `json:"risk_level"`
	Score           int             `json:"score"`
	Recommendations []string        `json:"recommendations"`
	Violations      []Violation     `json:"violations"`
	Improvements    []string        `json:"improvements"`
	Sentiment       string          `json:"sentiment"`
	Summary         string          `json:"summary"`
}

type CallAnalytics struct {
	AgentTalkTime     float64  `json:"agent_talk_time"`
	CustomerTalkTime  float64  `json:"customer_talk_time"`
	AgentTone         float64  `json:"agent_tone"`
	CustomerSentiment float64  `json:"customer_sentiment"`
	SilencePeriods    int      `json:"silence_periods"`
	InterruptionCount int      `json:"interruption_count"`
	KeyPhrases        []string `json:"key_phrases"`
}

// JobResult is the full record returned by the result query.
type JobResult struct {
	Job            Job               `json:"job"`
	Utterances     []Utterance       `json:"utterances"`
	Sentiments     []SentimentRecord `json:"sentiments"`
	SafetyFindings []SafetyFinding   `json:"safety_findings"`
	Report         ComplianceReport  `json:"compliance_report"`
	Analytics      CallAnalytics     `json:"analytics"`
}

// CallRecord is the row shape of the call list.
type CallRecord struct {
	ID       string           `json:"id"`
	Date     string           `json:"date"`
	Time     string           `json:"time"`
	Agent    string           `json:"agent"`
	Customer string           `json:"customer"`
	Duration string           `json:"duration"`
	Status   ComplianceStatus `json:"status"`
	Score    int              `json:"score"`
}

// NewCallRecord builds the list row for a job.
func NewCallRecord(j Job) CallRecord {
	return CallRecord{
		ID:       j.ID,
		Date:     j.CreatedAt.Format("January 02, 2006"),
		Time:     j.CreatedAt.Format("03:04 PM"),
		Agent:    j.Agent,
		Customer: j.Customer,
		Duration: j.Duration,
		Status:   j.ComplianceStatus,
		Score:    j.Score,
	}
}

// EmptyReport is the shape served before the audit stage has produced a report.
func EmptyReport() ComplianceReport {
	return ComplianceReport{
		Checklist:       []ChecklistItem{},
		RiskLevel:       "unknown",
		Recommendations: []string{},
		Violations:      []Violation{},
		Improvements:    []string{},
		Sentiment:       "neutral",
	}
}

// EmptyAnalytics is the shape served before analytics are computed.
func EmptyAnalytics() CallAnalytics {
	return CallAnalytics{KeyPhrases: []string{}}
}
