package core

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/carebrief/config"
	"github.com/mohammad-safakhou/carebrief/internal/agent/telemetry"
)

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	return "stub", nil
}

func (stubLLM) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	return "stub", 1, 1, nil
}

func (stubLLM) Embed(ctx context.Context, model string, input []string) ([][]float32, error) {
	return make([][]float32, len(input)), nil
}

func (stubLLM) GetAvailableModels() []string { return []string{"stub"} }

func (stubLLM) GetModelInfo(model string) (ModelInfo, error) { return ModelInfo{Name: model}, nil }

func (stubLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 { return 0 }

// scriptedLLM routes each GenerateWithTokens call through a respond
// func so tests can answer per prompt.
type scriptedLLM struct {
	stubLLM
	respond func(prompt, model string) (string, error)
}

func (s scriptedLLM) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	out, _, _, err := s.GenerateWithTokens(ctx, prompt, model, options)
	return out, err
}

func (s scriptedLLM) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	out, err := s.respond(prompt, model)
	return out, 1, 1, err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline = cfg.Pipeline.Normalize()
	cfg.LLM.Routing.Fallback = "stub"
	return cfg
}

func testTelemetry(t *testing.T) *telemetry.Telemetry {
	t.Helper()
	tel, err := telemetry.New(config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("telemetry.New: %v", err)
	}
	return tel
}

func TestNewLLMProviderRequiresProviders(t *testing.T) {
	if _, err := NewLLMProvider(config.LLMConfig{}); err == nil {
		t.Fatalf("expected error with no providers configured")
	}
}

func TestNewLLMProviderRejectsUnknownType(t *testing.T) {
	cfg := config.LLMConfig{Providers: map[string]config.LLMProvider{
		"main": {Type: "mystery"},
	}}
	if _, err := NewLLMProvider(cfg); err == nil {
		t.Fatalf("expected error for unknown provider type")
	}
}

func TestOpenAIProviderModelInfoAndCost(t *testing.T) {
	p := NewOpenAIProvider(config.LLMProvider{
		Type: "openai",
		Models: map[string]config.LLMModel{
			"writer": {Name: "gpt-4o-mini", MaxTokens: 4096, CostPer1K: 0.15, CostPer1KOutput: 0.60},
		},
	})

	info, err := p.GetModelInfo("writer")
	if err != nil {
		t.Fatalf("GetModelInfo: %v", err)
	}
	if info.Name != "gpt-4o-mini" || info.Provider != "openai" {
		t.Fatalf("unexpected model info: %+v", info)
	}

	cost := p.CalculateCost(1000, 1000, "writer")
	if cost != 0.75 {
		t.Fatalf("expected cost 0.75, got %v", cost)
	}
	if p.CalculateCost(1000, 1000, "missing") != 0 {
		t.Fatalf("expected zero cost for unknown model")
	}
}

func TestOpenAIProviderRejectsUnconfiguredModel(t *testing.T) {
	p := NewOpenAIProvider(config.LLMProvider{Type: "openai", APIKey: "k"})
	if _, _, _, err := p.GenerateWithTokens(context.Background(), "hi", "missing", nil); err == nil {
		t.Fatalf("expected error for unconfigured model")
	}
}
