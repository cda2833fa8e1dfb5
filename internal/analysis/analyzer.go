package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// Fallbacks used when a provider call fails for one utterance.
const (
	DefaultSentiment  = "neutral"
	DefaultConfidence = 0.7
	SafeCategory      = "safe"
)

// TransientProviderError wraps a single failed sentiment or safety call.
// It is recovered locally and only ever logged.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// Outcome is everything derived from one utterance.
type Outcome struct {
	Utterance types.Utterance
	Sentiment types.SentimentRecord
	Findings  []types.SafetyFinding
	// Errors holds the provider failures that were replaced by defaults.
	Errors []error
}

// Analyzer runs sentiment and content safety over single utterances.
type Analyzer struct {
	sentiment SentimentProvider
	safety    SafetyProvider
	log       *logger.Logger
}

func NewAnalyzer(sentiment SentimentProvider, safety SafetyProvider, log *logger.Logger) *Analyzer {
	return &Analyzer{sentiment: sentiment, safety: safety, log: log.Component("analysis")}
}

// Analyze never fails. A failing provider is replaced by its documented default.
func (a *Analyzer) Analyze(ctx context.Context, u types.Utterance) Outcome {
	out := Outcome{Utterance: u}

	label, confidence, err := a.analyzeSentiment(ctx, u.Text)
	if err != nil {
		perr := &TransientProviderError{Provider: "sentiment", Err: err}
		a.log.WithError(perr).WithField("offset_ms", u.OffsetMs).Warn("sentiment failed, using default")
		out.Errors = append(out.Errors, perr)
		label, confidence = DefaultSentiment, DefaultConfidence
	}
	out.Sentiment = types.SentimentRecord{Utterance: u.Text, Sentiment: label, Confidence: confidence}

	severities, err := a.safety.AnalyzeSafety(ctx, u.Text)
	if err != nil {
		perr := &TransientProviderError{Provider: "content safety", Err: err}
		a.log.WithError(perr).WithField("offset_ms", u.OffsetMs).Warn("content safety failed, treating as safe")
		out.Errors = append(out.Errors, perr)
		severities = map[string]int{SafeCategory: 0}
	}
	out.Findings = findings(u.Text, severities)

	if len(out.Findings) > 0 {
		reasons := make([]string, 0, len(out.Findings))
		for _, f := range out.Findings {
			reasons = append(reasons, fmt.Sprintf("%s (severity %d)", f.Category, f.Severity))
		}
		out.Utterance.Flagged = true
		out.Utterance.FlagReason = strings.Join(reasons, ", ")
	}
	return out
}

func (a *Analyzer) analyzeSentiment(ctx context.Context, text string) (string, float64, error) {
	res, err := a.sentiment.AnalyzeSentiment(ctx, text)
	if err != nil {
		return "", 0, err
	}
	label := strings.ToLower(strings.TrimSpace(res.Sentiment))
	if label == "" {
		return "", 0, fmt.Errorf("empty sentiment label")
	}
	confidence, ok := res.ConfidenceScores[label]
	if !ok {
		// mixed has no score of its own; use the strongest component
		for _, v := range res.ConfidenceScores {
			if v > confidence {
				confidence = v
			}
		}
	}
	return label, clamp01(confidence), nil
}

// findings keeps categories with severity above zero, sorted by name.
func findings(text string, severities map[string]int) []types.SafetyFinding {
	out := []types.SafetyFinding{}
	for category, severity := range severities {
		if severity > 0 {
			out = append(out, types.SafetyFinding{Utterance: text, Category: category, Severity: severity})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
