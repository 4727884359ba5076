package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIClient completes prompts with an OpenAI-compatible chat completions
// endpoint, such as Groq's.
type OpenAIClient struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAIClient creates a client for model. An empty baseURL uses the SDK
// default.
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int64) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAIClient) params(system, user string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
}

// Complete implements Completer.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.params(system, user))
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.model, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", c.model)
	}
	return completion.Choices[0].Message.Content, nil
}

// CompleteStream implements StreamCompleter.
func (c *OpenAIClient) CompleteStream(ctx context.Context, system, user string, onDelta func(string)) (string, error) {
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(system, user))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), fmt.Errorf("%s stream: %w", c.model, err)
	}
	return b.String(), nil
}
