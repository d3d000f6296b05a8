package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/telemetry"
	"mcpchat/internal/infra/telemetry/diagnostics"
)

const systemPrompt = "You are a helpful assistant that can use external tools when they are offered to you. Follow the requested response format exactly."

// Options configures the generator.
type Options struct {
	Logger  *zap.Logger
	Probe   diagnostics.Probe
	Metrics domain.Metrics
}

// Generator answers prompts through an OpenAI-compatible chat model. A
// baseURL override points it at local runtimes such as Ollama.
type Generator struct {
	model    model.BaseChatModel
	provider string
	name     string
	logger   *zap.Logger
	probe    diagnostics.Probe
	metrics  domain.Metrics
}

// New builds a Generator from the LLM configuration.
func New(ctx context.Context, cfg domain.LLMConfig, opts Options) (*Generator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := opts.Probe
	if probe == nil {
		probe = diagnostics.NoopProbe{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	chatModel, err := buildModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Generator{
		model:    chatModel,
		provider: cfg.Provider,
		name:     cfg.Model,
		logger:   logger.Named("llm"),
		probe:    probe,
		metrics:  metrics,
	}, nil
}

func buildModel(ctx context.Context, cfg domain.LLMConfig) (model.BaseChatModel, error) {
	apiKey, err := resolveAPIKey(cfg)
	if err != nil {
		return nil, err
	}

	provider := cfg.Provider
	if provider == "" {
		provider = domain.DefaultLLMProvider
	}
	switch provider {
	case "openai":
		modelCfg := &openai.ChatModelConfig{
			Model:  cfg.Model,
			APIKey: apiKey,
		}
		if cfg.BaseURL != "" {
			modelCfg.BaseURL = cfg.BaseURL
		}
		return openai.NewChatModel(ctx, modelCfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

// resolveAPIKey prefers the literal key, then the named env var. Local
// OpenAI-compatible endpoints often accept any key, so with a baseURL set
// a missing key degrades to a placeholder instead of failing.
func resolveAPIKey(cfg domain.LLMConfig) (string, error) {
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		return key, nil
	}
	if envVar := strings.TrimSpace(cfg.APIKeyEnvVar); envVar != "" {
		if key := os.Getenv(envVar); key != "" {
			return key, nil
		}
		if cfg.BaseURL == "" {
			return "", fmt.Errorf("API key not found in env var %s", envVar)
		}
	}
	if cfg.BaseURL != "" {
		return "local", nil
	}
	return "", fmt.Errorf("API key is required: set llm.apiKey or llm.apiKeyEnvVar")
}

// Generate sends one prompt and returns the model's textual reply. An
// empty reply is an error: callers degrade explicitly instead of passing
// empty strings around.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(prompt),
	}

	started := time.Now()
	response, err := g.model.Generate(ctx, messages)
	g.metrics.ObserveModelLatency(g.provider, g.name, time.Since(started))
	if err != nil {
		g.probe.Record(diagnostics.Event{
			Category: diagnostics.CategoryModel,
			Message:  "generate failed",
			Error:    err.Error(),
		})
		return "", fmt.Errorf("llm generate: %w", err)
	}
	g.observeTokenUsage(response)

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", domain.ErrModelUnavailable
	}
	g.logger.Debug("model reply",
		zap.Int("prompt_len", len(prompt)),
		zap.Int("reply_len", len(content)),
		telemetry.DurationField(time.Since(started)),
	)
	return content, nil
}

func (g *Generator) observeTokenUsage(response *schema.Message) {
	if response == nil || response.ResponseMeta == nil || response.ResponseMeta.Usage == nil {
		return
	}
	tokens := response.ResponseMeta.Usage.TotalTokens
	if tokens <= 0 {
		return
	}
	g.metrics.ObserveModelTokens(g.provider, g.name, tokens)
}

var _ domain.Generator = (*Generator)(nil)
