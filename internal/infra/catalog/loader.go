package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mcpchat/internal/domain"
)

// Loader reads and validates the provider registry file.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		return &Loader{logger: zap.NewNop()}
	}
	return &Loader{logger: logger.Named("catalog")}
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.callTimeoutSeconds", domain.DefaultCallTimeoutSeconds)
	v.SetDefault("runtime.handshakeTimeoutSeconds", domain.DefaultHandshakeTimeoutSeconds)
	v.SetDefault("runtime.terminateGraceSeconds", domain.DefaultTerminateGraceSeconds)
	v.SetDefault("runtime.aggregationConcurrency", domain.DefaultAggregationConcurrency)
	v.SetDefault("runtime.pingIntervalSeconds", domain.DefaultPingIntervalSeconds)
	v.SetDefault("runtime.observability.listenAddress", domain.DefaultObservabilityListenAddress)
	v.SetDefault("llm.provider", domain.DefaultLLMProvider)
	v.SetDefault("llm.model", domain.DefaultLLMModel)
}

type rawConfig struct {
	Providers []rawProviderSpec `mapstructure:"providers"`
	Runtime   rawRuntimeConfig  `mapstructure:"runtime"`
	LLM       rawLLMConfig      `mapstructure:"llm"`
}

type rawProviderSpec struct {
	Name       string            `mapstructure:"name"`
	Cmd        []string          `mapstructure:"cmd"`
	Env        map[string]string `mapstructure:"env"`
	Cwd        string            `mapstructure:"cwd"`
	Activation string            `mapstructure:"activation"`
}

type rawRuntimeConfig struct {
	CallTimeoutSeconds      int                    `mapstructure:"callTimeoutSeconds"`
	HandshakeTimeoutSeconds int                    `mapstructure:"handshakeTimeoutSeconds"`
	TerminateGraceSeconds   int                    `mapstructure:"terminateGraceSeconds"`
	AggregationConcurrency  int                    `mapstructure:"aggregationConcurrency"`
	PingIntervalSeconds     int                    `mapstructure:"pingIntervalSeconds"`
	Observability           rawObservabilityConfig `mapstructure:"observability"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
}

type rawLLMConfig struct {
	Provider     string `mapstructure:"provider"`
	Model        string `mapstructure:"model"`
	APIKey       string `mapstructure:"apiKey"`
	APIKeyEnvVar string `mapstructure:"apiKeyEnvVar"`
	BaseURL      string `mapstructure:"baseURL"`
}

// Load reads path, expands environment references, validates and returns
// the configuration. Validation findings are joined into one error so a
// broken file surfaces every problem at once.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	if path == "" {
		return domain.Config{}, errors.New("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded, missing, err := expandEnvRefs(data)
	if err != nil {
		return domain.Config{}, err
	}
	if len(missing) > 0 {
		l.logger.Warn("missing environment variables in config",
			zap.String("path", path),
			zap.Strings("missing", missing),
		)
	}

	v := newConfigViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.Config{}, fmt.Errorf("parse config: %w", err)
	}
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}

	cfg, findings := normalize(raw)
	if len(findings) > 0 {
		return domain.Config{}, errors.New(strings.Join(findings, "; "))
	}
	return cfg, nil
}

func normalize(raw rawConfig) (domain.Config, []string) {
	var findings []string

	providers := make([]domain.ProviderSpec, 0, len(raw.Providers))
	seen := make(map[string]struct{})
	for i, spec := range raw.Providers {
		normalized, errs := normalizeProvider(spec, i)
		if _, dup := seen[normalized.Name]; dup {
			errs = append(errs, fmt.Sprintf("providers[%d]: duplicate name %q", i, normalized.Name))
		} else if normalized.Name != "" {
			seen[normalized.Name] = struct{}{}
		}
		if len(errs) > 0 {
			findings = append(findings, errs...)
			continue
		}
		providers = append(providers, normalized)
	}

	findings = append(findings, validateRuntime(raw.Runtime)...)

	return domain.Config{
		Providers: providers,
		Runtime: domain.RuntimeConfig{
			CallTimeoutSeconds:      raw.Runtime.CallTimeoutSeconds,
			HandshakeTimeoutSeconds: raw.Runtime.HandshakeTimeoutSeconds,
			TerminateGraceSeconds:   raw.Runtime.TerminateGraceSeconds,
			AggregationConcurrency:  raw.Runtime.AggregationConcurrency,
			PingIntervalSeconds:     raw.Runtime.PingIntervalSeconds,
			Observability: domain.ObservabilityConfig{
				ListenAddress: raw.Runtime.Observability.ListenAddress,
			},
		},
		LLM: domain.LLMConfig{
			Provider:     raw.LLM.Provider,
			Model:        raw.LLM.Model,
			APIKey:       raw.LLM.APIKey,
			APIKeyEnvVar: raw.LLM.APIKeyEnvVar,
			BaseURL:      raw.LLM.BaseURL,
		},
	}, findings
}

func normalizeProvider(spec rawProviderSpec, index int) (domain.ProviderSpec, []string) {
	var errs []string
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		errs = append(errs, fmt.Sprintf("providers[%d]: name is required", index))
	}
	if len(spec.Cmd) == 0 || strings.TrimSpace(spec.Cmd[0]) == "" {
		errs = append(errs, fmt.Sprintf("providers[%d]: cmd is required", index))
	}

	activation := domain.ActivationMode(strings.TrimSpace(spec.Activation))
	switch activation {
	case "":
		activation = domain.ActivationOnDemand
	case domain.ActivationOnDemand, domain.ActivationResident:
	default:
		errs = append(errs, fmt.Sprintf("providers[%d]: unknown activation %q", index, spec.Activation))
	}

	return domain.ProviderSpec{
		Name:       name,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		Cwd:        spec.Cwd,
		Activation: activation,
	}, errs
}

func validateRuntime(raw rawRuntimeConfig) []string {
	var errs []string
	if raw.CallTimeoutSeconds < 0 {
		errs = append(errs, "runtime.callTimeoutSeconds must not be negative")
	}
	if raw.HandshakeTimeoutSeconds < 0 {
		errs = append(errs, "runtime.handshakeTimeoutSeconds must not be negative")
	}
	if raw.TerminateGraceSeconds < 0 {
		errs = append(errs, "runtime.terminateGraceSeconds must not be negative")
	}
	if raw.AggregationConcurrency < 0 {
		errs = append(errs, "runtime.aggregationConcurrency must not be negative")
	}
	if raw.PingIntervalSeconds < 0 {
		errs = append(errs, "runtime.pingIntervalSeconds must not be negative")
	}
	return errs
}
