package actionable

import (
	"fmt"
	"strings"

	"call-audit-go/internal/types"
)

const (
	compliantThreshold = 80
	warningThreshold   = 60
)

// ComplianceStatus buckets an audit score.
func ComplianceStatus(score int) types.ComplianceStatus {
	switch {
	case score >= compliantThreshold:
		return types.Compliant
	case score >= warningThreshold:
		return types.ComplianceWarning
	default:
		return types.ComplianceViolated
	}
}

// checked in order; the first rule keyword found wins
var ruleActions = []struct{ key, action string }{
	{"gdpr", "Confirm consent before collecting personal data and avoid reading it back in full"},
	{"hipaa", "Verify identity before discussing health information and limit disclosure to the minimum necessary"},
	{"pci", "Move card details to the secure payment IVR instead of taking them verbally"},
	{"professional", "Coach the agent on courteous language and active listening"},
}

// Recommendations derives actions from failed checklist rules and the
// improvements the auditor suggested. Duplicates are dropped, order is kept.
func Recommendations(report types.ComplianceReport) []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, item := range report.Checklist {
		if item.Passed {
			continue
		}
		add(actionFor(item.Rule))
	}
	for _, v := range report.Violations {
		if strings.EqualFold(v.Severity, "high") {
			add(fmt.Sprintf("Review the %s violation with the agent", v.Type))
		}
	}
	for _, imp := range report.Improvements {
		add(imp)
	}
	return out
}

func actionFor(rule string) string {
	l := strings.ToLower(rule)
	for _, ra := range ruleActions {
		if strings.Contains(l, ra.key) {
			return ra.action
		}
	}
	return fmt.Sprintf("Address failed check: %s", rule)
}
