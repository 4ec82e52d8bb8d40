package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Completer runs one chat completion constrained by a JSON schema and returns the raw JSON text.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]interface{}) (string, error)
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OpenAICompleter calls an OpenAI-compatible /chat/completions endpoint at temperature 0.
type OpenAICompleter struct {
	httpClient *http.Client
	cfg        OpenAIConfig
}

func NewOpenAICompleter(cfg OpenAIConfig, httpClient *http.Client) *OpenAICompleter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAICompleter{httpClient: httpClient, cfg: cfg}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string                 `json:"model"`
	Temperature    float64                `json:"temperature"`
	Messages       []chatMessage          `json:"messages"`
	ResponseFormat map[string]interface{} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAICompleter) Complete(ctx context.Context, model, systemPrompt, userPrompt string, schema map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "prescription_draft",
				"strict": true,
				"schema": schema,
			},
		},
	})
	if err != nil {
		return "", &Error{Reason: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := "model call failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "model call timed out"
		}
		return "", &Error{Reason: reason, Unavailable: true, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &Error{Reason: "read model response", Unavailable: true, Err: err}
	}

	var parsed chatResponse
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(payload, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		unavailable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", &Error{Reason: fmt.Sprintf("model returned status %d", resp.StatusCode), Unavailable: unavailable, Err: errors.New(msg)}
	}

	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", &Error{Reason: "decode model response", Raw: string(payload), Err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Reason: "model returned no choices", Raw: string(payload)}
	}
	msg := parsed.Choices[0].Message
	if msg.Refusal != nil && *msg.Refusal != "" {
		return "", &Error{Reason: "model refused", Raw: *msg.Refusal}
	}
	if msg.Content == nil {
		return "", &Error{Reason: "model returned no content", Raw: string(payload)}
	}
	return *msg.Content, nil
}
