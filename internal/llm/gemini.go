package llm

import (
	"context"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient generates replies with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient connects to the Gemini API with apiKey.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, genErr("gemini", "api key missing")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, &Error{Provider: "gemini", Err: err}
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, msgs []Message) (string, error) {
	return g.generate(ctx, msgs, false)
}

func (g *GeminiClient) GenerateJSON(ctx context.Context, msgs []Message) (string, error) {
	return g.generate(ctx, msgs, true)
}

func (g *GeminiClient) generate(ctx context.Context, msgs []Message, jsonMode bool) (string, error) {
	cfg, contents := toGeminiContents(msgs)
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", &Error{Provider: "gemini", Err: err}
	}
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", genErr("gemini", "empty reply")
	}
	return answer, nil
}

// toGeminiContents moves system messages into the system instruction and
// merges consecutive messages of the same role.
func toGeminiContents(msgs []Message) (*genai.GenerateContentConfig, []*genai.Content) {
	cfg := &genai.GenerateContentConfig{}
	var system []*genai.Part
	var contents []*genai.Content
	for _, m := range msgs {
		role := "user"
		switch m.Role {
		case RoleSystem:
			system = append(system, genai.NewPartFromText(m.Content))
			continue
		case RoleAssistant:
			role = "model"
		case RoleUser:
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.NewPartFromText(m.Content))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	return cfg, contents
}
