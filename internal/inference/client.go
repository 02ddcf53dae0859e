// Package inference provides the client for the remote inference endpoint:
// one prompt in, one reply out, with bounded retry and exponential backoff.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Kind classifies an inference failure once retries are exhausted.
type Kind int

const (
	// KindStatus means the endpoint was reachable but answered with an error
	// status.
	KindStatus Kind = iota
	// KindNoResponse means no response was received at all.
	KindNoResponse
	// KindRequest means the request could not be constructed or sent.
	KindRequest
)

// Error is the classified failure returned after the final attempt.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("inference: endpoint returned status %d", e.StatusCode)
	case KindNoResponse:
		return fmt.Sprintf("inference: no response: %v", e.Err)
	default:
		return fmt.Sprintf("inference: request failed: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// BotText renders the human-readable diagnostic that is persisted to the
// transcript as a bot-authored message when inference fails.
func BotText(err error) string {
	var infErr *Error
	if !errors.As(err, &infErr) {
		return "An error occurred while getting a response from InterviewSIM."
	}
	switch infErr.Kind {
	case KindStatus:
		return fmt.Sprintf("InterviewSIM: Failed to get a response (Code: %d). Please check the AI backend.", infErr.StatusCode)
	case KindNoResponse:
		return "InterviewSIM: No response from the AI server. Is the AI backend running?"
	default:
		return fmt.Sprintf("InterviewSIM: Error sending request: %v", infErr.Err)
	}
}

// Config holds inference client configuration.
type Config struct {
	Endpoint string
	// Token is attached as a Bearer header when non-empty.
	Token string
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the first backoff delay; it doubles per retry.
	BaseDelay time.Duration
	Timeout   time.Duration
}

// Client calls the remote inference endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates an inference client.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		sleep:      sleepCtx,
	}
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type promptResponse struct {
	Response string `json:"response"`
}

// Ask sends the prompt and returns the reply. On failure it retries up to
// MaxRetries additional times, doubling the delay each attempt, then returns
// the final failure as an *Error.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	delay := c.cfg.BaseDelay

	var lastErr error
	for attempt := 0; ; attempt++ {
		reply, err := c.call(ctx, prompt)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if attempt >= c.cfg.MaxRetries {
			return "", lastErr
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("maxRetries", c.cfg.MaxRetries).
			Dur("delay", delay).
			Msg("Inference call failed, retrying")

		if err := c.sleep(ctx, delay); err != nil {
			return "", &Error{Kind: KindNoResponse, Err: err}
		}
		delay *= 2
	}
}

func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: prompt})
	if err != nil {
		return "", &Error{Kind: KindRequest, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindNoResponse, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &Error{Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	var parsed promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &Error{Kind: KindNoResponse, Err: fmt.Errorf("decode response: %w", err)}
	}
	return parsed.Response, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
