package transcription

import (
	"testing"

	"call-audit-go/internal/types"
)

func TestNormalizeSkipsUnusablePhrases(t *testing.T) {
	doc := `{"recognizedPhrases":[
	 {"recognitionStatus":"NoMatch","speaker":1,"offsetInTicks":10000,"nBest":[{"confidence":0.9,"display":"noise"}]},
	 {"recognitionStatus":"Success","speaker":1,"offsetInTicks":20000,"nBest":[]},
	 {"recognitionStatus":"Success","speaker":2,"offsetInTicks":30000,"nBest":[{"confidence":0.9,"display":"  ","lexical":"hello there"}]},
	 {"recognitionStatus":"Success","speaker":2,"offsetInTicks":40000,"nBest":[{"confidence":0.9,"display":""}]}
	]}`
	got, err := Normalize([]byte(doc))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(got) != 1 || got[0].Text != "hello there" || got[0].Speaker != types.SpeakerCustomer || got[0].OffsetMs != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestNormalizeKeepsOrderForEqualOffsets(t *testing.T) {
	doc := `{"recognizedPhrases":[
	 {"speaker":1,"offsetInTicks":50000000,"nBest":[{"display":"b"}]},
	 {"speaker":2,"offsetInTicks":10000000,"nBest":[{"display":"a"}]},
	 {"speaker":2,"offsetInTicks":50000000,"nBest":[{"display":"c"}]}
	]}`
	got, err := Normalize([]byte(doc))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got[0].Text != "a" || got[1].Text != "b" || got[2].Text != "c" {
		t.Fatalf("order = %+v", got)
	}
}

func TestNormalizeRejectsInvalidJSON(t *testing.T) {
	if _, err := Normalize([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseISODuration(t *testing.T) {
	cases := map[string]int64{
		"PT1.5S":     1500,
		"PT2M3S":     123000,
		"PT1H":       3600000,
		"PT0.04S":    40,
		"":           0,
		"garbage":    0,
		"P":          0,
		"PT1H1M1.1S": 3661100,
	}
	for in, want := range cases {
		if got := parseISODuration(in); got != want {
			t.Fatalf("parseISODuration(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMIMEAllowed(t *testing.T) {
	if !MIMEAllowed("wav", "audio/x-wav") || !MIMEAllowed("mp3", "application/octet-stream") || !MIMEAllowed("mp3", "") {
		t.Fatalf("expected allowed")
	}
	if MIMEAllowed("wav", "text/plain; charset=utf-8") {
		t.Fatalf("text/plain must be rejected")
	}
}

func TestExtension(t *testing.T) {
	if got := Extension("/tmp/Call.MP3"); got != "mp3" {
		t.Fatalf("Extension = %q", got)
	}
}
