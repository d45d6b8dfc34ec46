// Package ai holds the completion capability, the runner that processes
// tasks moved into AI-enabled columns and the background plumbing connecting
// the two.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"flowboard-api/domain"
)

const (
	defaultBaseURL    = "https://api.groq.com/openai/v1"
	defaultModel      = "llama-3.3-70b-versatile"
	defaultMaxRetries = 3
	retryInitialDelay = 1 * time.Second
)

// Completer produces text for a conversation transcript. The runner depends
// on this interface so tests can substitute a fake.
type Completer interface {
	Complete(ctx context.Context, transcript []domain.Message) (string, error)
}

// ProviderError reports a failed or unusable completion. The runner converts
// it into a failed iteration; it never propagates further.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion provider: %s (status %d)", e.Message, e.StatusCode)
	}
	return "completion provider: " + e.Message
}

// ClientConfig carries the provider settings. All values are injected at
// construction so nothing reads ambient process state.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	MaxRetries int
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
}

// NewClient creates a completion client. Zero-value config fields fall back
// to the Groq defaults the board was originally built against.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
	}
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete sends the transcript and returns the generated text. Transient
// provider failures (429, 5xx) are retried with backoff; anything else fails
// immediately. An empty completion is an error: the caller must always get
// either text or a reason.
func (c *Client) Complete(ctx context.Context, transcript []domain.Message) (string, error) {
	if c.apiKey == "" {
		return "", &ProviderError{Message: "api key not configured"}
	}
	if len(transcript) == 0 {
		return "", &ProviderError{Message: "empty transcript"}
	}

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: transcript})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryInitialDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		text, retryable, err := c.post(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (text string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", true, &ProviderError{Message: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		msg := providerMessage(data)
		perr := &ProviderError{StatusCode: resp.StatusCode, Message: msg}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, perr
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, &ProviderError{Message: "decode response: " + err.Error()}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", false, &ProviderError{StatusCode: resp.StatusCode, Message: "empty response from AI"}
	}
	return parsed.Choices[0].Message.Content, false, nil
}

func providerMessage(data []byte) string {
	var envelope errorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return "request failed"
}
