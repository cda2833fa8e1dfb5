package aggregator

import (
	"context"
	"strings"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

const (
	silenceGapMs      = 2000
	interruptWindowMs = 1000
	maxKeyPhrases     = 5
	defaultConfidence = 0.7
)

type KeyPhraseExtractor interface {
	ExtractKeyPhrases(ctx context.Context, text string) ([]string, error)
}

// Aggregator computes call-level analytics from the per-utterance results.
type Aggregator struct {
	phrases KeyPhraseExtractor
	log     *logger.Logger
}

func New(phrases KeyPhraseExtractor, log *logger.Logger) *Aggregator {
	return &Aggregator{phrases: phrases, log: log.Component("aggregator")}
}

// Summarize never fails; a key phrase failure leaves the phrase list empty.
// sentiments[i] is expected to describe utterances[i].
func (a *Aggregator) Summarize(ctx context.Context, utterances []types.Utterance, sentiments []types.SentimentRecord) types.CallAnalytics {
	out := Aggregate(utterances, sentiments)
	if a.phrases == nil || len(utterances) == 0 {
		return out
	}

	texts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		texts = append(texts, u.Text)
	}
	phrases, err := a.phrases.ExtractKeyPhrases(ctx, strings.Join(texts, " "))
	if err != nil {
		a.log.WithError(err).Warn("key phrase extraction failed")
		return out
	}
	out.KeyPhrases = topPhrases(phrases, maxKeyPhrases)
	return out
}

// Aggregate computes the timing and sentiment figures without any remote calls.
func Aggregate(utterances []types.Utterance, sentiments []types.SentimentRecord) types.CallAnalytics {
	out := types.EmptyAnalytics()

	talk := map[types.Speaker]int64{}
	for i, u := range utterances {
		talk[u.Speaker] += spokenMs(utterances, i)
	}
	out.AgentTalkTime = float64(talk[types.SpeakerAgent]) / 1000
	out.CustomerTalkTime = float64(talk[types.SpeakerCustomer]) / 1000

	sum := map[types.Speaker]float64{}
	count := map[types.Speaker]int{}
	for i, s := range sentiments {
		if i >= len(utterances) {
			break
		}
		sp := utterances[i].Speaker
		sum[sp] += s.Confidence
		count[sp]++
	}
	out.AgentTone = mean(sum[types.SpeakerAgent], count[types.SpeakerAgent])
	out.CustomerSentiment = mean(sum[types.SpeakerCustomer], count[types.SpeakerCustomer])

	for i := 1; i < len(utterances); i++ {
		prev, cur := utterances[i-1], utterances[i]
		if prev.DurationMs > 0 && cur.OffsetMs-prev.End() > silenceGapMs {
			out.SilencePeriods++
		}
		if prev.DurationMs == 0 && cur.OffsetMs-prev.OffsetMs > silenceGapMs {
			out.SilencePeriods++
		}
		if cur.Speaker != prev.Speaker && interrupts(prev, cur) {
			out.InterruptionCount++
		}
	}
	return out
}

// spokenMs is the utterance duration, or the gap to the next start when unknown.
func spokenMs(utterances []types.Utterance, i int) int64 {
	u := utterances[i]
	if u.DurationMs > 0 {
		return u.DurationMs
	}
	if i+1 < len(utterances) {
		if gap := utterances[i+1].OffsetMs - u.OffsetMs; gap > 0 {
			return gap
		}
	}
	return 0
}

func interrupts(prev, cur types.Utterance) bool {
	if prev.DurationMs > 0 {
		return cur.OffsetMs < prev.End()
	}
	return cur.OffsetMs-prev.OffsetMs < interruptWindowMs
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return defaultConfidence
	}
	return sum / float64(n)
}

// topPhrases keeps the first n distinct, non-empty phrases.
func topPhrases(phrases []string, n int) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out
}
