package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	envAPIKey    = "ANTHROPIC_API_KEY"
	envModel     = "ANTHROPIC_MODEL"
	defaultModel = "claude-sonnet-4-5-20250929"

	apiURL      = "https://api.anthropic.com/v1/messages"
	apiVersion  = "2023-06-01"
	maxTokens   = 1024
	jsonPrefill = "{"
	timeoutSecs = 60

	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
	maxRequestSize = 200000 // ~200KB limit for safety
)

type anthropicClient struct {
	apiKey    string
	model     string
	endpoint  string
	http      *http.Client
	logger    zerolog.Logger
	baseDelay time.Duration
}

func NewAnthropicFromEnv() (Client, error) {
	key := strings.TrimSpace(os.Getenv(envAPIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envAPIKey)
	}
	model := strings.TrimSpace(os.Getenv(envModel))
	if model == "" {
		model = defaultModel
	}
	return newAnthropic(key, strings.Trim(model, "\"'"), apiURL, zerolog.Nop()), nil
}

// NewAnthropicWithLogger creates client with logger for detailed tracing
func NewAnthropicWithLogger(logger zerolog.Logger) (Client, error) {
	client, err := NewAnthropicFromEnv()
	if err != nil {
		return nil, err
	}
	if ac, ok := client.(*anthropicClient); ok {
		ac.logger = logger
	}
	return client, nil
}

func newAnthropic(key, model, endpoint string, logger zerolog.Logger) *anthropicClient {
	return &anthropicClient{
		apiKey:   key,
		model:    model,
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeoutSecs * time.Second,
		},
		logger:    logger,
		baseDelay: retryBaseDelay,
	}
}

func (c *anthropicClient) Name() string { return c.model }

func (c *anthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxRequestSize {
			c.logger.Warn().Int("message_idx", i).Int("size", len(m.Content)).Msg("message too large, truncating")
			req.Messages[i].Content = m.Content[:maxRequestSize] + "... [truncated]"
		}
	}
	if len(req.System) > maxRequestSize {
		c.logger.Warn().Int("size", len(req.System)).Msg("system prompt too large, truncating")
		req.System = req.System[:maxRequestSize] + "... [truncated]"
	}

	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = maxTokens
	}
	payload := anthropicPayload{
		Model:       c.model,
		System:      req.System,
		MaxTokens:   tokens,
		Temperature: float64(req.Temperature),
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}
	// JSON mode prefills the assistant turn with an opening brace; the reply
	// continues from it.
	prefill := ""
	if req.JSON && req.Messages[len(req.Messages)-1].Role == "user" {
		prefill = jsonPrefill
		payload.Messages = append(payload.Messages, anthropicMessage{
			Role:    "assistant",
			Content: []anthropicContent{{Type: "text", Text: prefill}},
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying Anthropic API call")
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		c.logger.Debug().
			Str("model", c.model).
			Int("messages", len(payload.Messages)).
			Int("payload_size", len(body)).
			Int("max_tokens", payload.MaxTokens).
			Msg("Anthropic API request")

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return Response{}, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", apiVersion)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if ctx.Err() != nil {
				return Response{}, lastErr
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		c.logger.Debug().
			Int("status", resp.StatusCode).
			Int("response_size", len(data)).
			Msg("Anthropic API response")

		if resp.StatusCode >= 400 {
			var envelope struct {
				Error anthropicError `json:"error"`
			}
			_ = json.Unmarshal(data, &envelope)
			apiErr := envelope.Error
			msg := apiErr.Error()
			if msg == "" {
				msg = truncateString(string(data), 500)
			}
			lastErr = fmt.Errorf("anthropic %d: %s (type: %s)", resp.StatusCode, msg, apiErr.Type)

			c.logger.Error().
				Int("status", resp.StatusCode).
				Str("error_type", apiErr.Type).
				Str("error_msg", apiErr.Message).
				Int("attempt", attempt).
				Msg("Anthropic API error")

			if resp.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, "API usage limits") {
				return Response{}, fmt.Errorf("API usage limit reached: %s", apiErr.Message)
			}
			// Retry on 429 (rate limit) and 5xx errors only.
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return Response{}, lastErr
		}

		var ar anthropicResponse
		if err := json.Unmarshal(data, &ar); err != nil {
			lastErr = fmt.Errorf("parse response: %w", err)
			continue
		}

		var buf bytes.Buffer
		buf.WriteString(prefill)
		for _, content := range ar.Content {
			if content.Type == "text" {
				buf.WriteString(content.Text)
			}
		}

		c.logger.Debug().
			Int("response_length", buf.Len()).
			Str("response_preview", truncateString(buf.String(), 200)).
			Msg("Anthropic API success")

		return Response{Text: buf.String()}, nil
	}

	return Response{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type anthropicPayload struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e anthropicError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Type
}
