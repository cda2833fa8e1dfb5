package transcription

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"call-audit-go/internal/types"
)

// agentSpeaker is the diarization label assigned to the agent; everyone else is the customer.
const agentSpeaker = 1

const ticksPerMs = 10000

type alternative struct {
	Confidence float64 `json:"confidence"`
	Display    string  `json:"display"`
	Lexical    string  `json:"lexical"`
}

type recognizedPhrase struct {
	RecognitionStatus string        `json:"recognitionStatus"`
	Speaker           int           `json:"speaker"`
	Offset            string        `json:"offset"`
	Duration          string        `json:"duration"`
	OffsetInTicks     float64       `json:"offsetInTicks"`
	DurationInTicks   float64       `json:"durationInTicks"`
	NBest             []alternative `json:"nBest"`
}

type transcriptContent struct {
	RecognizedPhrases []recognizedPhrase `json:"recognizedPhrases"`
}

// Normalize turns a transcription document into utterances ordered by start offset.
func Normalize(content []byte) ([]types.Utterance, error) {
	var doc transcriptContent
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("decode transcription: %w", err)
	}

	out := make([]types.Utterance, 0, len(doc.RecognizedPhrases))
	for _, p := range doc.RecognizedPhrases {
		if p.RecognitionStatus != "" && !strings.EqualFold(p.RecognitionStatus, "Success") {
			continue
		}
		best, ok := bestAlternative(p.NBest)
		if !ok {
			continue
		}
		text := strings.TrimSpace(best.Display)
		if text == "" {
			text = strings.TrimSpace(best.Lexical)
		}
		if text == "" {
			continue
		}

		speaker := types.SpeakerCustomer
		if p.Speaker == agentSpeaker {
			speaker = types.SpeakerAgent
		}
		out = append(out, types.Utterance{
			Speaker:    speaker,
			OffsetMs:   toMillis(p.OffsetInTicks, p.Offset),
			DurationMs: toMillis(p.DurationInTicks, p.Duration),
			Text:       text,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].OffsetMs < out[j].OffsetMs })
	return out, nil
}

func bestAlternative(alts []alternative) (alternative, bool) {
	if len(alts) == 0 {
		return alternative{}, false
	}
	best := alts[0]
	for _, a := range alts[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}
	return best, true
}

func toMillis(ticks float64, iso string) int64 {
	if ticks > 0 {
		return int64(math.Round(ticks / ticksPerMs))
	}
	return parseISODuration(iso)
}

var isoDurationRe = regexp.MustCompile(`^P(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// parseISODuration handles the PT#H#M#S form; anything else yields 0.
func parseISODuration(s string) int64 {
	m := isoDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	var total float64
	for i, unit := range []float64{3600000, 60000, 1000} {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0
		}
		total += v * unit
	}
	return int64(math.Round(total))
}
