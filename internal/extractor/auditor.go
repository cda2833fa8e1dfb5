package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"call-audit-go/internal/actionable"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// SchemaValidationError means the reasoning service answered with something
// that is not a valid compliance payload.
type SchemaValidationError struct {
	Reason string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid compliance payload: %s: %v", e.Reason, e.Err)
	}
	return "invalid compliance payload: " + e.Reason
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// Reasoner produces a raw compliance answer for a transcript.
type Reasoner interface {
	Audit(ctx context.Context, transcript string) (string, error)
}

// Chatter is a chat completion backend.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// ChatReasoner asks a chat completion backend for the audit.
type ChatReasoner struct {
	chat Chatter
}

func NewChatReasoner(chat Chatter) *ChatReasoner {
	return &ChatReasoner{chat: chat}
}

func (r *ChatReasoner) Audit(ctx context.Context, transcript string) (string, error) {
	system, user := BuildCompliancePrompt(transcript)
	return r.chat.Chat(ctx, system, user)
}

// DefaultReport is substituted whenever the audit cannot produce a valid report.
func DefaultReport() types.ComplianceReport {
	r := types.EmptyReport()
	r.Summary = "Error generating compliance report"
	return r
}

// Auditor turns a transcript into a validated compliance report.
type Auditor struct {
	reasoner Reasoner
	log      *logger.Logger
}

func NewAuditor(reasoner Reasoner, log *logger.Logger) *Auditor {
	return &Auditor{reasoner: reasoner, log: log.Component("extractor")}
}

// Audit always returns a usable report. A non-nil error explains why the
// default report was substituted; callers log it and continue.
func (a *Auditor) Audit(ctx context.Context, transcript string) (types.ComplianceReport, error) {
	raw, err := a.reasoner.Audit(ctx, transcript)
	if err != nil {
		a.log.WithError(err).Warn("compliance reasoning failed, using default report")
		return DefaultReport(), fmt.Errorf("compliance reasoning: %w", err)
	}
	a.log.Debug("compliance raw:\n" + raw)

	report, err := ParseReport(raw)
	if err != nil {
		a.log.WithError(err).Warn("compliance payload rejected, using default report")
		return DefaultReport(), err
	}
	a.log.WithField("score", report.Score).WithField("risk_level", report.RiskLevel).Info("compliance audit complete")
	return report, nil
}

// payload mirrors the wire shape before normalization.
type payload struct {
	Checklist       []types.ChecklistItem `json:"checklist"`
	RiskLevel       string                `json:"risk_level"`
	Score           float64               `json:"score"`
	Violations      []json.RawMessage     `json:"violations"`
	Improvements    []string              `json:"improvements"`
	Recommendations []string              `json:"recommendations"`
	Sentiment       string                `json:"sentiment"`
	Summary         string                `json:"summary"`
}

// ParseReport extracts, validates and normalizes a raw reasoning answer.
func ParseReport(raw string) (types.ComplianceReport, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return types.ComplianceReport{}, &SchemaValidationError{Reason: "no JSON object in response"}
	}

	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return types.ComplianceReport{}, &SchemaValidationError{Reason: "decode", Err: err}
	}
	if rl, ok := doc["risk_level"].(string); ok {
		doc["risk_level"] = canonicalRisk(rl)
	}
	if err := validatePayload(doc); err != nil {
		return types.ComplianceReport{}, &SchemaValidationError{Reason: "schema", Err: err}
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return types.ComplianceReport{}, &SchemaValidationError{Reason: "encode", Err: err}
	}
	var p payload
	if err := json.Unmarshal(normalized, &p); err != nil {
		return types.ComplianceReport{}, &SchemaValidationError{Reason: "decode", Err: err}
	}

	report := types.EmptyReport()
	report.RiskLevel = p.RiskLevel
	report.Score = int(math.Round(p.Score))
	report.Sentiment = strings.ToLower(strings.TrimSpace(p.Sentiment))
	if report.Sentiment == "" {
		report.Sentiment = "neutral"
	}
	report.Summary = p.Summary
	if p.Checklist != nil {
		report.Checklist = p.Checklist
	}
	for _, s := range p.Improvements {
		if s = strings.TrimSpace(s); s != "" {
			report.Improvements = append(report.Improvements, s)
		}
	}
	for _, rawV := range p.Violations {
		v, err := decodeViolation(rawV)
		if err != nil {
			return types.ComplianceReport{}, &SchemaValidationError{Reason: "violation", Err: err}
		}
		report.Violations = append(report.Violations, v)
	}

	if len(p.Recommendations) > 0 {
		report.Recommendations = p.Recommendations
	} else {
		report.Recommendations = actionable.Recommendations(report)
	}
	return report, nil
}

// canonicalRisk fixes capitalization only; unknown values still fail validation.
func canonicalRisk(s string) string {
	for _, level := range RiskLevels {
		if strings.EqualFold(strings.TrimSpace(s), level) {
			return level
		}
	}
	return s
}

// decodeViolation accepts a bare description string or a violation object.
func decodeViolation(raw json.RawMessage) (types.Violation, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return types.Violation{}, err
		}
		return types.Violation{Type: s, Severity: "medium"}, nil
	}

	var obj struct {
		Type     string `json:"type"`
		Example  string `json:"example"`
		Severity any    `json:"severity"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return types.Violation{}, err
	}
	v := types.Violation{Type: obj.Type, Example: obj.Example}
	switch sev := obj.Severity.(type) {
	case string:
		v.Severity = strings.ToLower(strings.TrimSpace(sev))
	case float64:
		v.Severity = numericSeverity(sev)
	case nil:
	default:
		return types.Violation{}, errors.New("unsupported severity type")
	}
	if v.Severity == "" {
		v.Severity = "medium"
	}
	return v, nil
}

func numericSeverity(f float64) string {
	switch {
	case f >= 4:
		return "high"
	case f >= 2:
		return "medium"
	default:
		return "low"
	}
}
