package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"call-audit-go/internal/logger"
	"call-audit-go/internal/transcription"
)

const speechAPI = "/speechtotext/v3.2/transcriptions"

// Speech is the batch transcription client.
type Speech struct {
	client
	endpoint string
	key      string
}

func NewSpeech(endpoint, key string, httpClient *http.Client, log *logger.Logger) *Speech {
	return &Speech{
		client:   newClient(httpClient, log.Component("azure.speech")),
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
	}
}

func (s *Speech) headers() map[string]string {
	return map[string]string{"Ocp-Apim-Subscription-Key": s.key}
}

type speakerRange struct {
	MinCount int `json:"minCount"`
	MaxCount int `json:"maxCount"`
}

type diarization struct {
	Speakers speakerRange `json:"speakers"`
}

type transcriptionRequest struct {
	ContentURLs []string `json:"contentUrls"`
	Locale      string   `json:"locale"`
	DisplayName string   `json:"displayName"`
	Properties  struct {
		DiarizationEnabled         bool         `json:"diarizationEnabled"`
		Diarization                *diarization `json:"diarization,omitempty"`
		WordLevelTimestampsEnabled bool         `json:"wordLevelTimestampsEnabled"`
		PunctuationMode            string       `json:"punctuationMode,omitempty"`
		ProfanityFilterMode        string       `json:"profanityFilterMode,omitempty"`
		PIIRedactionEnabled        bool         `json:"piiRedactionEnabled"`
		SentimentAnalysisEnabled   bool         `json:"sentimentAnalysisEnabled"`
		TimeToLive                 string       `json:"timeToLive"`
		Channels                   []int        `json:"channels"`
	} `json:"properties"`
}

type transcriptionResponse struct {
	Self       string `json:"self"`
	Status     string `json:"status"`
	Properties struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"properties"`
}

// Submit creates a transcription and returns the id parsed from its self link.
func (s *Speech) Submit(ctx context.Context, audioURL string, cfg transcription.Config) (string, error) {
	var body transcriptionRequest
	body.ContentURLs = []string{audioURL}
	body.Locale = cfg.Locale
	body.DisplayName = cfg.DisplayName
	if body.DisplayName == "" {
		body.DisplayName = "call-audit"
	}
	p := &body.Properties
	p.DiarizationEnabled = cfg.Diarization
	if cfg.Diarization && cfg.Speakers > 0 {
		p.Diarization = &diarization{Speakers: speakerRange{MinCount: cfg.Speakers, MaxCount: cfg.Speakers}}
	}
	p.WordLevelTimestampsEnabled = cfg.WordLevelTimestamps
	p.PunctuationMode = cfg.PunctuationMode
	p.ProfanityFilterMode = cfg.ProfanityFilterMode
	p.PIIRedactionEnabled = cfg.PIIRedaction
	p.SentimentAnalysisEnabled = cfg.Sentiment
	p.TimeToLive = isoDuration(cfg.TTL)
	p.Channels = []int{0}

	var resp transcriptionResponse
	if err := s.do(ctx, jsonRequest(http.MethodPost, s.endpoint+speechAPI, body, s.headers()), &resp); err != nil {
		return "", fmt.Errorf("submit transcription: %w", err)
	}
	s.log.WithField("self", resp.Self).Info("transcription submitted")
	return handleFromSelf(resp.Self), nil
}

// handleFromSelf returns the last path segment of the self link.
func handleFromSelf(self string) string {
	u, err := url.Parse(self)
	if err != nil || u.Path == "" {
		return ""
	}
	return path.Base(strings.TrimRight(u.Path, "/"))
}

func (s *Speech) jobURL(handle string) string {
	return s.endpoint + speechAPI + "/" + url.PathEscape(handle)
}

func (s *Speech) Poll(ctx context.Context, handle string) (transcription.PollResult, error) {
	var resp transcriptionResponse
	if err := s.do(ctx, jsonRequest(http.MethodGet, s.jobURL(handle), nil, s.headers()), &resp); err != nil {
		return transcription.PollResult{}, fmt.Errorf("poll transcription: %w", err)
	}
	return transcription.PollResult{
		Status:  normalizeStatus(resp.Status),
		Message: resp.Properties.Error.Message,
	}, nil
}

func normalizeStatus(s string) transcription.Status {
	switch strings.ToLower(s) {
	case "succeeded":
		return transcription.StatusSucceeded
	case "failed":
		return transcription.StatusFailed
	case "running":
		return transcription.StatusRunning
	default:
		return transcription.StatusNotStarted
	}
}

type filesResponse struct {
	Values []struct {
		Kind  string `json:"kind"`
		Name  string `json:"name"`
		Links struct {
			ContentURL string `json:"contentUrl"`
		} `json:"links"`
	} `json:"values"`
}

func (s *Speech) FetchResult(ctx context.Context, handle string) (transcription.Manifest, error) {
	var resp filesResponse
	if err := s.do(ctx, jsonRequest(http.MethodGet, s.jobURL(handle)+"/files", nil, s.headers()), &resp); err != nil {
		return transcription.Manifest{}, fmt.Errorf("list transcription files: %w", err)
	}
	m := transcription.Manifest{}
	for _, v := range resp.Values {
		m.Files = append(m.Files, transcription.ResultFile{Kind: v.Kind, Name: v.Name, ContentURL: v.Links.ContentURL})
	}
	return m, nil
}

// FetchContent downloads a result file. Content URLs are pre-signed, so no key is sent.
func (s *Speech) FetchContent(ctx context.Context, contentURL string) ([]byte, error) {
	var raw rawBody
	if err := s.do(ctx, jsonRequest(http.MethodGet, contentURL, nil, nil), &raw); err != nil {
		return nil, fmt.Errorf("download transcription: %w", err)
	}
	return raw, nil
}

func (s *Speech) Delete(ctx context.Context, handle string) error {
	if err := s.do(ctx, jsonRequest(http.MethodDelete, s.jobURL(handle), nil, s.headers()), nil); err != nil {
		return fmt.Errorf("delete transcription: %w", err)
	}
	return nil
}

// rawBody keeps the undecoded JSON document.
type rawBody []byte

func (r *rawBody) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}
