package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Dimensions is the vector size stored in the knowledge base.
const Dimensions = 1536

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Error is returned for every failure talking to the embedding API.
type Error struct {
	Op      string
	Status  int
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("embedding %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int { return http.StatusServiceUnavailable }

func (e *Error) PublicMessage() string {
	return "Serviço de IA indisponível no momento. Tente novamente."
}

// Temporary marks failures a bulk caller may retry (timeouts, throttling, 5xx).
func (e *Error) Temporary() bool {
	return e.Timeout || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = Dimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{httpClient: httpClient, cfg: cfg}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &Error{Op: "validate", Err: errors.New("empty input")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: "call", Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &Error{Op: "read", Timeout: isTimeout(err), Err: err}
	}

	var parsed embeddingResponse
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(payload, &parsed) == nil && parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, &Error{Op: "call", Status: resp.StatusCode, Err: errors.New(msg)}
	}

	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	if len(parsed.Data) == 0 {
		return nil, &Error{Op: "decode", Err: errors.New("response carried no embedding")}
	}

	vector := parsed.Data[0].Embedding
	if len(vector) != c.cfg.Dimensions {
		return nil, &Error{Op: "decode", Err: fmt.Errorf("expected %d dimensions, got %d", c.cfg.Dimensions, len(vector))}
	}
	return vector, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
