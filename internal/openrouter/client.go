// ABOUTME: OpenRouter chat-completions client for the sonar-matrix bot
// ABOUTME: Issues bounded-wait completion calls and surfaces typed status errors

package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/sonar-matrix/internal/config"
)

const (
	defaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"

	// requestTimeout bounds each completion call. There is no retry; a
	// timed-out call surfaces as an error outcome.
	requestTimeout = 60 * time.Second

	// Attribution headers OpenRouter asks apps to send.
	appReferer = "https://github.com/2389/sonar-matrix"
	appTitle   = "Sonar Matrix Bot"
)

// StatusError is returned when the provider answers with a non-2xx status.
// The body is captured for the error log.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter returned status %d", e.Code)
}

// Client calls the OpenRouter chat-completions API.
type Client struct {
	cfg      config.OpenRouterConfig
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// New creates a Client from the openrouter config section.
func New(cfg config.OpenRouterConfig) *Client {
	return &Client{
		cfg:      cfg,
		endpoint: defaultEndpoint,
		http:     &http.Client{Timeout: requestTimeout},
		logger:   slog.Default().With("component", "openrouter"),
	}
}

// completionRequest is the chat-completions request body. MaxTokens and
// Temperature are omitted unless explicitly configured so the provider
// defaults apply; a Temperature of 0.0 is a valid explicit value.
type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the query as a single user message and returns the first
// choice's content. Non-2xx responses return a *StatusError; transport and
// decode failures return ordinary errors.
func (c *Client) Complete(ctx context.Context, query string) (string, error) {
	reqID := uuid.NewString()

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    []message{{Role: "user", Content: query}},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("HTTP-Referer", appReferer)
	req.Header.Set("X-Title", appTitle)

	c.logger.Debug("sending completion request",
		"request_id", reqID, "model", c.cfg.Model, "query_len", len(query))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("completion request failed", "request_id", reqID, "error", err)
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		c.logger.Debug("completion request rejected",
			"request_id", reqID, "status", resp.StatusCode)
		return "", &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}

	answer := parsed.Choices[0].Message.Content
	c.logger.Debug("completion request succeeded",
		"request_id", reqID, "answer_len", len(answer))
	return answer, nil
}
