package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"call-audit-go/internal/logger"
)

// OpenAI calls a chat completions deployment.
type OpenAI struct {
	client
	endpoint    string
	key         string
	deployment  string
	apiVersion  string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

type OpenAIOptions struct {
	Endpoint    string
	Key         string
	Deployment  string
	APIVersion  string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

func NewOpenAI(opts OpenAIOptions, httpClient *http.Client, log *logger.Logger) *OpenAI {
	c := newClient(httpClient, log.Component("azure.openai"))
	c.maxElapsed = 45 * time.Second
	if opts.APIVersion == "" {
		opts.APIVersion = "2024-10-21"
	}
	return &OpenAI{
		client:      c,
		endpoint:    strings.TrimRight(opts.Endpoint, "/"),
		key:         opts.Key,
		deployment:  opts.Deployment,
		apiVersion:  opts.APIVersion,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat sends a system and user message and returns the first choice's content.
// The deployment is asked for a JSON object response.
func (o *OpenAI) Chat(ctx context.Context, system, user string) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	body := map[string]any{
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature":     o.temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	if o.maxTokens > 0 {
		body["max_tokens"] = o.maxTokens
	}

	u := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		o.endpoint, url.PathEscape(o.deployment), url.QueryEscape(o.apiVersion))
	var raw json.RawMessage
	if err := o.do(ctx, jsonRequest(http.MethodPost, u, body, map[string]string{"api-key": o.key}), &raw); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	content := contentFromChoices(raw)
	if content == "" {
		return "", errors.New("chat completion: no content in choices")
	}
	o.log.WithField("content_len", len(content)).Debug("chat completion received")
	return content, nil
}

// contentFromChoices reads choices[0].message.content.
func contentFromChoices(body []byte) string {
	var obj struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &obj); err != nil || len(obj.Choices) == 0 {
		return ""
	}
	return obj.Choices[0].Message.Content
}
