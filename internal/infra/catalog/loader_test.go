package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mcpchat/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: files
    cmd: ["mcp-files", "--root", "/data"]
    env:
      LOG_LEVEL: debug
    cwd: /data
    activation: resident
  - name: calc
    cmd: ["mcp-calc"]
runtime:
  callTimeoutSeconds: 45
  handshakeTimeoutSeconds: 5
  observability:
    listenAddress: "127.0.0.1:9090"
llm:
  provider: openai
  model: gpt-4o-mini
  apiKeyEnvVar: OPENAI_API_KEY
  baseURL: http://localhost:11434/v1
`)

	cfg, err := NewLoader(zap.NewNop()).Load(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 2)
	expect := domain.ProviderSpec{
		Name:       "files",
		Cmd:        []string{"mcp-files", "--root", "/data"},
		Env:        map[string]string{"LOG_LEVEL": "debug"},
		Cwd:        "/data",
		Activation: domain.ActivationResident,
	}
	if diff := cmp.Diff(expect, cfg.Providers[0]); diff != "" {
		t.Fatalf("provider mismatch (-want +got):\n%s", diff)
	}
	// Activation defaults to on-demand.
	require.Equal(t, domain.ActivationOnDemand, cfg.Providers[1].Activation)

	require.Equal(t, 45*time.Second, cfg.Runtime.CallTimeout())
	require.Equal(t, 5*time.Second, cfg.Runtime.HandshakeTimeout())
	// Unset values fall back to defaults.
	require.Equal(t, domain.DefaultTerminateGraceSeconds*time.Second, cfg.Runtime.TerminateGrace())
	require.Equal(t, "127.0.0.1:9090", cfg.Runtime.Observability.ListenAddress)

	require.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	require.Equal(t, "OPENAI_API_KEY", cfg.LLM.APIKeyEnvVar)
}

func TestLoadDefaultsWithoutRuntimeSection(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: calc
    cmd: ["mcp-calc"]
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultCallTimeoutSeconds, cfg.Runtime.CallTimeoutSeconds)
	require.Equal(t, domain.DefaultAggregationConcurrency, cfg.Runtime.AggregationConcurrency)
	require.Equal(t, domain.DefaultLLMProvider, cfg.LLM.Provider)
	require.Equal(t, domain.DefaultLLMModel, cfg.LLM.Model)
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_ROOT", "/srv/data")
	t.Setenv("MCPCHAT_TEST_TIMEOUT", "60")

	path := writeConfig(t, `
providers:
  - name: files
    cmd: ["mcp-files", "--root", "$MCPCHAT_TEST_ROOT"]
runtime:
  callTimeoutSeconds: $MCPCHAT_TEST_TIMEOUT
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "/srv/data", cfg.Providers[0].Cmd[2])
	require.Equal(t, 60, cfg.Runtime.CallTimeoutSeconds)
}

func TestLoadJoinsAllValidationErrors(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: ""
    cmd: []
  - name: files
    cmd: ["mcp-files"]
  - name: files
    cmd: ["mcp-files-again"]
  - name: odd
    cmd: ["x"]
    activation: sometimes
runtime:
  callTimeoutSeconds: -1
`)

	_, err := NewLoader(nil).Load(context.Background(), path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "providers[0]: name is required")
	require.Contains(t, err.Error(), "providers[0]: cmd is required")
	require.Contains(t, err.Error(), `providers[2]: duplicate name "files"`)
	require.Contains(t, err.Error(), `providers[3]: unknown activation "sometimes"`)
	require.Contains(t, err.Error(), "runtime.callTimeoutSeconds must not be negative")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), "")
	require.Error(t, err)
}

func TestExpandEnvRefsReportsMissing(t *testing.T) {
	expanded, missing, err := expandEnvRefs([]byte("key: $MCPCHAT_DEFINITELY_UNSET_VAR\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"MCPCHAT_DEFINITELY_UNSET_VAR"}, missing)
	require.Contains(t, expanded, `key: ""`)
}

func TestExpandEnvRefsQuotedStaysString(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_NUM", "42")
	expanded, _, err := expandEnvRefs([]byte(`key: "$MCPCHAT_TEST_NUM"` + "\n"))
	require.NoError(t, err)
	require.Contains(t, expanded, `"42"`)
}
