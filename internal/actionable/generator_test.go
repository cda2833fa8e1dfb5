package actionable

import (
	"reflect"
	"testing"

	"call-audit-go/internal/types"
)

func TestComplianceStatus(t *testing.T) {
	cases := []struct {
		score int
		want  types.ComplianceStatus
	}{
		{100, types.Compliant},
		{80, types.Compliant},
		{79, types.ComplianceWarning},
		{60, types.ComplianceWarning},
		{59, types.ComplianceViolated},
		{0, types.ComplianceViolated},
	}
	for _, c := range cases {
		if got := ComplianceStatus(c.score); got != c.want {
			t.Fatalf("ComplianceStatus(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestRecommendations(t *testing.T) {
	report := types.ComplianceReport{
		Checklist: []types.ChecklistItem{
			{Rule: "GDPR", Passed: true},
			{Rule: "PCI-DSS", Passed: false},
			{Rule: "Escalation policy", Passed: false},
		},
		Violations: []types.Violation{
			{Type: "PCI-DSS", Severity: "High"},
			{Type: "Professional Conduct", Severity: "low"},
		},
		Improvements: []string{"Summarize next steps", "  ", "Summarize next steps"},
	}

	want := []string{
		ruleActions[2].action,
		"Address failed check: Escalation policy",
		"Review the PCI-DSS violation with the agent",
		"Summarize next steps",
	}
	if got := Recommendations(report); !reflect.DeepEqual(got, want) {
		t.Fatalf("Recommendations() = %#v, want %#v", got, want)
	}
}

func TestRecommendationsEmptyReport(t *testing.T) {
	got := Recommendations(types.EmptyReport())
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}
