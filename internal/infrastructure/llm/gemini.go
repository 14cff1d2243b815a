package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"ResearchBrief/internal/config"
	"ResearchBrief/internal/ports"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements ports.Generator on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

var _ ports.Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini API client. A non-empty cfg.Endpoint
// replaces the service base URL.
func NewGeminiClient(ctx context.Context, cfg config.GenerationConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini client misconfigured: api key is required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" && !strings.Contains(endpoint, "openai.com") {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: endpoint}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate runs one GenerateContent call under the request's own deadline.
func (g *GeminiClient) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout(req.Timeout))
	defer cancel()

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxOutputTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.UserPrompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
