package extractor

import (
	"fmt"
	"strings"

	"call-audit-go/internal/types"
)

const systemPrompt = `You are a compliance auditor for recorded customer support calls. ` +
	`You check calls against GDPR, HIPAA, PCI-DSS and professional conduct standards ` +
	`and you answer with a single JSON object only.`

// FormatTranscript renders utterances as "speaker: text" lines in start-offset order.
func FormatTranscript(utterances []types.Utterance) string {
	var b strings.Builder
	for i, u := range utterances {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(u.Speaker))
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}

// BuildCompliancePrompt returns the system and user messages for one transcript.
func BuildCompliancePrompt(transcript string) (string, string) {
	prompt := `Audit the customer support call transcript below.

Evaluate each rule and record it in the checklist:
- GDPR: personal data is collected only with consent and is not disclosed unnecessarily.
- HIPAA: health information is discussed only after identity verification.
- PCI-DSS: full card numbers, CVV codes and PINs are never requested or repeated verbally.
- Professional Conduct: the agent is courteous, does not interrupt, and resolves or escalates properly.

----------------------------------------------------------------------
RESPONSE FORMAT (STRICT - RETURN ONLY JSON)
{
  "checklist": [{"rule": "", "passed": true, "details": ""}],
  "risk_level": "Low | Medium | High",
  "score": 0,
  "violations": [{"type": "", "example": "", "severity": "low | medium | high"}],
  "improvements": [""],
  "sentiment": "Positive | Neutral | Negative",
  "summary": ""
}
----------------------------------------------------------------------

GUIDELINES:
1. score is an integer from 0 (severe breaches) to 100 (fully compliant).
2. Quote the transcript in violation examples; do not invent events.
3. If no violations exist return an empty violations array.
4. DO NOT wrap the JSON in backticks and DO NOT add commentary.

TRANSCRIPT:
%s
`
	return systemPrompt, fmt.Sprintf(prompt, transcript)
}
