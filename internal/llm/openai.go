package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	envOpenAIAPIKey    = "OPENAI_API_KEY"
	envOpenAIModel     = "OPENAI_MODEL"
	envOpenAIBaseURL   = "OPENAI_BASE_URL"
	defaultOpenAIModel = "gpt-4o-mini"
	openAIMaxTokens    = 1024
)

type openAIClient struct {
	api    *openai.Client
	model  string
	logger zerolog.Logger
}

func NewOpenAIFromEnv() (Client, error) {
	key := strings.TrimSpace(os.Getenv(envOpenAIAPIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIAPIKey)
	}
	model := strings.TrimSpace(os.Getenv(envOpenAIModel))
	if model == "" {
		model = defaultOpenAIModel
	}
	cfg := openai.DefaultConfig(key)
	if base := strings.TrimSpace(os.Getenv(envOpenAIBaseURL)); base != "" {
		cfg.BaseURL = base
	}
	return &openAIClient{
		api:    openai.NewClientWithConfig(cfg),
		model:  strings.Trim(model, "\"'"),
		logger: zerolog.Nop(),
	}, nil
}

func NewOpenAIWithLogger(logger zerolog.Logger) (Client, error) {
	client, err := NewOpenAIFromEnv()
	if err != nil {
		return nil, err
	}
	if oc, ok := client.(*openAIClient); ok {
		oc.logger = logger
	}
	return client, nil
}

func (c *openAIClient) Name() string {
	return c.model
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Messages) == 0 {
		return Response{}, errors.New("no messages")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	tokens := req.MaxTokens
	if tokens <= 0 {
		tokens = openAIMaxTokens
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   tokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(messages)).
		Bool("json", req.JSON).
		Msg("OpenAI API request")

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Error().
				Int("status", apiErr.HTTPStatusCode).
				Str("error_type", apiErr.Type).
				Str("error_msg", apiErr.Message).
				Msg("OpenAI API error")
		}
		return Response{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	text := choice.Message.Content
	if text == "" {
		return Response{}, fmt.Errorf("empty response content")
	}

	c.logger.Debug().
		Str("finish_reason", string(choice.FinishReason)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("response_preview", truncateString(text, 200)).
		Msg("OpenAI API success")

	return Response{Text: text}, nil
}
