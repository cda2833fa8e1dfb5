package azure

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"call-audit-go/internal/logger"
)

const (
	safetyAPI      = "/contentsafety/text:analyze?api-version=2024-09-01"
	maxSafetyChars = 10000
)

var safetyCategories = []string{"Hate", "SelfHarm", "Sexual", "Violence"}

// ContentSafety classifies text into harm categories.
type ContentSafety struct {
	client
	endpoint string
	key      string
}

func NewContentSafety(endpoint, key string, httpClient *http.Client, log *logger.Logger) *ContentSafety {
	return &ContentSafety{
		client:   newClient(httpClient, log.Component("azure.safety")),
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
	}
}

// AnalyzeSafety returns the severity (0, 2, 4 or 6) for every category the service reported.
func (c *ContentSafety) AnalyzeSafety(ctx context.Context, text string) (map[string]int, error) {
	body := map[string]any{
		"text":       truncate(text, maxSafetyChars),
		"categories": safetyCategories,
		"outputType": "FourSeverityLevels",
	}
	var resp struct {
		CategoriesAnalysis []struct {
			Category string `json:"category"`
			Severity int    `json:"severity"`
		} `json:"categoriesAnalysis"`
	}
	headers := map[string]string{"Ocp-Apim-Subscription-Key": c.key}
	if err := c.do(ctx, jsonRequest(http.MethodPost, c.endpoint+safetyAPI, body, headers), &resp); err != nil {
		return nil, fmt.Errorf("content safety: %w", err)
	}

	out := make(map[string]int, len(resp.CategoriesAnalysis))
	for _, ca := range resp.CategoriesAnalysis {
		out[ca.Category] = ca.Severity
	}
	return out, nil
}
