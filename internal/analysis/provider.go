package analysis

import "context"

// SentimentResult is a provider's label for one text plus its per-label scores.
type SentimentResult struct {
	Sentiment        string
	ConfidenceScores map[string]float64
}

type SentimentProvider interface {
	AnalyzeSentiment(ctx context.Context, text string) (SentimentResult, error)
}

// SafetyProvider returns severity per harm category.
type SafetyProvider interface {
	AnalyzeSafety(ctx context.Context, text string) (map[string]int, error)
}
