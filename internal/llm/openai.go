package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/guidechat/internal/provider"
	"github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// ChatStreamAPI is the part of *openai.Client the model uses.
type ChatStreamAPI interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAIModel streams from an OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client      ChatStreamAPI
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// OpenAIModelConfig holds generation parameters. Zero values leave the server default.
type OpenAIModelConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// NewOpenAIModel creates a chat model backed by client.
func NewOpenAIModel(client ChatStreamAPI, cfg OpenAIModelConfig) *OpenAIModel {
	return &OpenAIModel{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
}

// Name returns the model identifier.
func (m *OpenAIModel) Name() string {
	return m.model
}

// StreamChat streams a completion, classifying provider failures as *provider.Error.
func (m *OpenAIModel) StreamChat(ctx context.Context, msgs []Message, onDelta func(string) error) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:               m.model,
		Messages:            toOpenAIMessages(msgs),
		Temperature:         m.temperature,
		MaxCompletionTokens: m.maxTokens,
		Stream:              true,
	}
	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", provider.Classify(providerName, "chat", err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return full.String(), ctx.Err()
			}
			return full.String(), provider.Classify(providerName, "chat", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return full.String(), err
		}
	}
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
