package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	CerebrasBaseURL = "https://api.cerebras.ai/v1/"

	defaultOpenAIModel   = "gpt-4o"
	defaultCerebrasModel = "gpt-oss-120b"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	provider    string
	apiKey      string
	model       string
	maxTokens   int64
	temperature float64
	client      openai.Client
}

// NewOpenAIClient returns a client for api.openai.com, or for baseURL when set.
func NewOpenAIClient(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	return newCompatClient("openai", apiKey, baseURL, model, opts...)
}

// NewCerebrasClient returns a client for the Cerebras inference API.
func NewCerebrasClient(apiKey, model string, opts ...option.RequestOption) *OpenAIClient {
	if model == "" {
		model = defaultCerebrasModel
	}
	return newCompatClient("cerebras", apiKey, CerebrasBaseURL, model, opts...)
}

func newCompatClient(provider, apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIClient {
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)
	return &OpenAIClient{
		provider:    provider,
		apiKey:      apiKey,
		model:       model,
		maxTokens:   400,
		temperature: 0.6,
		client:      openai.NewClient(all...),
	}
}

// WithMaxTokens bounds conversational reply length. JSON replies keep their
// own larger bound. n <= 0 keeps the default.
func (c *OpenAIClient) WithMaxTokens(n int64) *OpenAIClient {
	if n > 0 {
		c.maxTokens = n
	}
	return c
}

// Generate returns the assistant reply to msgs.
func (c *OpenAIClient) Generate(ctx context.Context, msgs []Message) (string, error) {
	return c.complete(ctx, msgs, false)
}

// GenerateJSON asks for a JSON object reply.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, msgs []Message) (string, error) {
	return c.complete(ctx, msgs, true)
}

func (c *OpenAIClient) complete(ctx context.Context, msgs []Message, jsonMode bool) (string, error) {
	if c.apiKey == "" {
		return "", genErr(c.provider, "api key missing")
	}
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    toOpenAIMessages(msgs),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}
	if jsonMode {
		params.MaxTokens = openai.Int(1500)
		params.Temperature = openai.Float(0.5)
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: c.provider, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", genErr(c.provider, "empty choices")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", genErr(c.provider, "empty reply")
	}
	return answer, nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		}
	}
	return out
}
