package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	deepseekModel "github.com/cloudwego/eino-ext/components/model/deepseek"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
)

func buildGenerateOptions(opts Options) []model.Option {
	var genOpts []model.Option
	if opts.Temperature != nil {
		genOpts = append(genOpts, model.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens != nil {
		genOpts = append(genOpts, model.WithMaxTokens(*opts.MaxTokens))
	}
	return genOpts
}

// VendorConfig describes one configured chat model: the agent-facing
// api_identifier maps to a vendor + underlying model name + key.
type VendorConfig struct {
	APIIdentifier string
	Vendor        string // "openai" | "deepseek"
	ModelName     string
	APIKey        string
	BaseURL       string
	Temperature   float32
}

// StaticRegistry resolves api_identifier strings to lazily
// constructed chat models, generalizing the teacher's single
// package-level ChatModel (pkg/eino/infrastructure.go) into a
// per-identifier cache.
type StaticRegistry struct {
	mu      sync.Mutex
	configs map[string]VendorConfig
	cache   map[string]model.ToolCallingChatModel
}

// NewStaticRegistry builds a registry from the given vendor configs,
// keyed by APIIdentifier.
func NewStaticRegistry(configs []VendorConfig) *StaticRegistry {
	byID := make(map[string]VendorConfig, len(configs))
	for _, c := range configs {
		byID[c.APIIdentifier] = c
	}
	return &StaticRegistry{configs: byID, cache: make(map[string]model.ToolCallingChatModel)}
}

// Resolve returns the chat model for apiIdentifier, constructing and
// caching it on first use.
func (r *StaticRegistry) Resolve(apiIdentifier string) (model.ToolCallingChatModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cm, ok := r.cache[apiIdentifier]; ok {
		return cm, nil
	}

	cfg, ok := r.configs[apiIdentifier]
	if !ok {
		return nil, fmt.Errorf("unknown model api_identifier: %s", apiIdentifier)
	}

	cm, err := buildChatModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("build chat model for %s: %w", apiIdentifier, err)
	}

	r.cache[apiIdentifier] = cm
	return cm, nil
}

func buildChatModel(cfg VendorConfig) (model.ToolCallingChatModel, error) {
	ctx := context.Background()

	switch cfg.Vendor {
	case "deepseek":
		return deepseekModel.NewChatModel(ctx, &deepseekModel.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
		})
	case "openai":
		return openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.ModelName,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported vendor: %s", cfg.Vendor)
	}
}

// ResearchModelFor maps a trading model's api_identifier to its
// paired, cheaper research model via a static vendor-family mapping
// (spec §4.3 "Model selection"). Unknown trading models default to
// themselves.
func ResearchModelFor(tradingModel string, pairing map[string]string) string {
	if research, ok := pairing[tradingModel]; ok {
		return research
	}
	return tradingModel
}
