// Package llm provides the chat-completion transport used for agent decisions.
//
// The transport is deliberately opaque to the rest of the system: callers
// hand it a conversation history and get back either a text reply or an
// error. Retry-with-backoff and the request timeout live here; the decision
// layer treats any transport failure as final and degrades to a neutral
// default instead of retrying again.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/stockagent/internal/domain"
)

// Transport sends a conversation history to a language model and returns its
// text reply.
type Transport interface {
	Chat(ctx context.Context, history []domain.Message) (string, error)
}

// Config holds client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	rc          *resty.Client
	model       string
	temperature float64
	maxRetries  int
	log         zerolog.Logger
}

// NewClient creates a new chat client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	rc := resty.New()
	rc.SetBaseURL(cfg.BaseURL)
	rc.SetTimeout(cfg.Timeout)
	rc.SetAuthToken(cfg.APIKey)

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &Client{
		rc:          rc,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  retries,
		log:         log.With().Str("component", "llm").Logger(),
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat sends the history and returns the assistant's reply. Failed calls are
// retried with linear backoff up to MaxRetries times; after that the error is
// reported upward rather than blocking the caller further.
func (c *Client) Chat(ctx context.Context, history []domain.Message) (string, error) {
	if len(history) == 0 {
		return "", fmt.Errorf("empty conversation history")
	}

	body := chatRequest{
		Model:       c.model,
		Messages:    history,
		Temperature: c.temperature,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		reply, err := c.send(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Chat request failed")
	}

	return "", fmt.Errorf("chat failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) send(ctx context.Context, body chatRequest) (string, error) {
	var out chatResponse

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("failed to send chat request: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("chat endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != nil {
		return "", fmt.Errorf("chat endpoint error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat endpoint returned empty message content")
	}

	return out.Choices[0].Message.Content, nil
}
