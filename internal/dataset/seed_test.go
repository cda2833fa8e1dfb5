package dataset

import (
	"context"
	"strings"
	"testing"
	"time"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/store"
	"call-audit-go/internal/types"
)

const fixture = `{"callHistory": [
 {"agent": "Sarah Johnson", "customer": "Michael Brown", "duration": "04:12", "status": "compliant",
  "score": 91, "date": "March 15, 2025", "time": "14:30",
  "transcript": [
   {"speaker": "Agent", "text": "Thank you for calling.", "time": "00:00"},
   {"speaker": "Customer", "text": "I need help with my bill.", "time": "00:04"},
   {"speaker": "agent", "text": "Let me pull that up.", "time": "01:02:03"}
  ],
  "complianceItems": [
   {"title": "Greeting", "passed": true, "description": "Standard greeting used"},
   {"rule": "PCI-DSS", "passed": false, "details": "Card number read aloud"}
  ],
  "analytics": {"agentTalkTime": 120, "interruptionCount": 0}},
 {"agent": "Tom", "customer": "Ann", "duration": "01:00", "score": 42, "date": "", "time": "",
  "transcript": [], "complianceItems": []}
]}`

func TestSeedImportsCompletedJobs(t *testing.T) {
	f, err := LoadSeed(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	st := store.NewMemory()
	ctx := context.Background()

	ids, err := Seed(ctx, st, f, logger.NewNop())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}

	res, err := st.Result(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	job := res.Job
	if job.Status != types.JobComplete || job.Progress != 100 || job.Score != 91 || job.ComplianceStatus != types.Compliant {
		t.Fatalf("job = %+v", job)
	}
	if want := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC); !job.CreatedAt.Equal(want) {
		t.Fatalf("created = %v, want %v", job.CreatedAt, want)
	}
	if len(res.Utterances) != 3 || res.Utterances[1].Speaker != types.SpeakerCustomer ||
		res.Utterances[1].OffsetMs != 4000 || res.Utterances[2].OffsetMs != 3723000 || res.Utterances[2].Speaker != types.SpeakerAgent {
		t.Fatalf("utterances = %+v", res.Utterances)
	}
	if len(res.Report.Checklist) != 2 || res.Report.Checklist[0].Rule != "Greeting" ||
		res.Report.Checklist[0].Details != "Standard greeting used" || res.Report.RiskLevel != "Low" {
		t.Fatalf("report = %+v", res.Report)
	}
	if len(res.Report.Recommendations) == 0 {
		t.Fatal("failed checklist item produced no recommendation")
	}
	a := res.Analytics
	if a.AgentTalkTime != 120 || a.InterruptionCount != 0 || a.CustomerTalkTime != 240 || len(a.KeyPhrases) != 3 {
		t.Fatalf("analytics = %+v", a)
	}

	low, _ := st.Result(ctx, ids[1])
	if low.Job.ComplianceStatus != types.ComplianceViolated || low.Report.RiskLevel != "High" || low.Analytics.SilencePeriods != 5 {
		t.Fatalf("second call = %+v", low)
	}
}

func TestLoadSeedRejectsMalformedFixture(t *testing.T) {
	if _, err := LoadSeed(strings.NewReader(`{"callHistory": [`)); err == nil {
		t.Fatal("expected decode error")
	}
}
