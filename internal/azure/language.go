package azure

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"call-audit-go/internal/analysis"
	"call-audit-go/internal/logger"
)

const (
	languageAPI = "/text/analytics/v3.1"
	// documents over this size are rejected by the service
	maxDocumentChars = 5120
)

// Language wraps the Text Analytics sentiment and key phrase endpoints.
type Language struct {
	client
	endpoint string
	key      string
	language string
}

func NewLanguage(endpoint, key string, httpClient *http.Client, log *logger.Logger) *Language {
	return &Language{
		client:   newClient(httpClient, log.Component("azure.language")),
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		language: "en",
	}
}

type document struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

type documentsRequest struct {
	Documents []document `json:"documents"`
}

type documentError struct {
	ID    string `json:"id"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (l *Language) post(ctx context.Context, op, text string, target any) error {
	req := documentsRequest{Documents: []document{{ID: "1", Language: l.language, Text: truncate(text, maxDocumentChars)}}}
	headers := map[string]string{"Ocp-Apim-Subscription-Key": l.key}
	return l.do(ctx, jsonRequest(http.MethodPost, l.endpoint+languageAPI+"/"+op, req, headers), target)
}

func (l *Language) AnalyzeSentiment(ctx context.Context, text string) (analysis.SentimentResult, error) {
	var resp struct {
		Documents []struct {
			Sentiment        string             `json:"sentiment"`
			ConfidenceScores map[string]float64 `json:"confidenceScores"`
		} `json:"documents"`
		Errors []documentError `json:"errors"`
	}
	if err := l.post(ctx, "sentiment", text, &resp); err != nil {
		return analysis.SentimentResult{}, fmt.Errorf("sentiment: %w", err)
	}
	if len(resp.Errors) > 0 {
		return analysis.SentimentResult{}, fmt.Errorf("sentiment: %s", resp.Errors[0].Error.Message)
	}
	if len(resp.Documents) == 0 {
		return analysis.SentimentResult{}, fmt.Errorf("sentiment: empty response")
	}
	d := resp.Documents[0]
	return analysis.SentimentResult{Sentiment: d.Sentiment, ConfidenceScores: d.ConfidenceScores}, nil
}

// ExtractKeyPhrases runs key phrase extraction over the whole transcript.
func (l *Language) ExtractKeyPhrases(ctx context.Context, text string) ([]string, error) {
	var resp struct {
		Documents []struct {
			KeyPhrases []string `json:"keyPhrases"`
		} `json:"documents"`
		Errors []documentError `json:"errors"`
	}
	if err := l.post(ctx, "keyPhrases", text, &resp); err != nil {
		return nil, fmt.Errorf("key phrases: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("key phrases: %s", resp.Errors[0].Error.Message)
	}
	if len(resp.Documents) == 0 {
		return []string{}, nil
	}
	return resp.Documents[0].KeyPhrases, nil
}
