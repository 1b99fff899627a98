package core

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/mohammad-safakhou/carebrief/config"
)

// NewLLMProvider creates a new LLM provider based on configuration
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	// Use the first configured provider
	for _, provider := range cfg.Providers {
		switch provider.Type {
		case "openai":
			return NewOpenAIProvider(provider), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
		}
	}

	return nil, fmt.Errorf("no valid LLM providers found")
}

// OpenAIProvider implements LLMProvider for OpenAI
type OpenAIProvider struct {
	config    config.LLMProvider
	models    map[string]ModelInfo
	rawModels map[string]config.LLMModel
	http      *HTTPClient
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	provider := &OpenAIProvider{
		config:    cfg,
		models:    make(map[string]ModelInfo),
		rawModels: cfg.Models,
		http:      NewHTTPClient(cfg.Timeout, cfg.MaxRetries, 0),
	}

	// Initialize model information
	for key, model := range cfg.Models {
		provider.models[key] = ModelInfo{
			Name:            model.Name,
			Provider:        "openai",
			MaxTokens:       model.MaxTokens,
			CostPer1KInput:  model.CostPer1K,
			CostPer1KOutput: model.CostPer1KOutput,
			Description:     fmt.Sprintf("OpenAI %s model", model.Name),
		}
	}

	return provider
}

func (p *OpenAIProvider) apiKey() (string, error) {
	key := p.config.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}
	return key, nil
}

func (p *OpenAIProvider) baseURL() string {
	if p.config.BaseURL != "" {
		return p.config.BaseURL
	}
	return "https://api.openai.com/v1"
}

// Generate generates text using OpenAI
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := p.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

// GenerateWithTokens generates text and returns token usage
func (p *OpenAIProvider) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	apiKey, err := p.apiKey()
	if err != nil {
		return "", 0, 0, err
	}

	m, ok := p.rawModels[model]
	if !ok {
		return "", 0, 0, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	temperature := m.Temperature
	if t, ok := options["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens := m.MaxTokens
	if mt, ok := options["max_tokens"].(int); ok {
		maxTokens = mt
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	err = p.http.DoJSON(ctx, http.MethodPost, p.baseURL()+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + apiKey},
		chatReq{
			Model:       apiModel,
			Messages:    []chatMsg{{Role: "user", Content: prompt}},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, &out)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices")
	}

	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// Embed generates embeddings for the provided inputs using the
// configured embedding model (or the model argument when set).
func (p *OpenAIProvider) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	apiKey, err := p.apiKey()
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = p.config.EmbeddingModel
	}
	if model == "" {
		model = "text-embedding-3-small"
	}

	type embReq struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	err = p.http.DoJSON(ctx, http.MethodPost, p.baseURL()+"/embeddings",
		map[string]string{"Authorization": "Bearer " + apiKey},
		embReq{Model: model, Input: input}, &out)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(out.Data) != len(input) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(input), len(out.Data))
	}

	vectors := make([][]float32, len(input))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(input) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// GetAvailableModels returns available models
func (p *OpenAIProvider) GetAvailableModels() []string {
	var models []string
	for name := range p.models {
		models = append(models, name)
	}
	return models
}

// GetModelInfo returns information about a specific model
func (p *OpenAIProvider) GetModelInfo(model string) (ModelInfo, error) {
	info, exists := p.models[model]
	if !exists {
		return ModelInfo{}, fmt.Errorf("model not found: %s", model)
	}
	return info, nil
}

// CalculateCost calculates the cost for a given number of tokens
func (p *OpenAIProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	info, err := p.GetModelInfo(model)
	if err != nil {
		return 0.0
	}

	inputCost := float64(inputTokens) / 1000.0 * info.CostPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * info.CostPer1KOutput
	return inputCost + outputCost
}
