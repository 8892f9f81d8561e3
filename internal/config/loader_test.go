package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
}

func TestLoad_ValidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  http_port: 9191
  host: 0.0.0.0
engine:
  test_timeout: 90s
  smoke_startup_wait: 20s
  smoke_poll_interval: 500ms
  max_output_bytes: 8192
projects:
  registry_file: /tmp/registry.json
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.HTTPPort)
	assert.Equal(t, "0.0.0.0:9191", cfg.Server.Addr())
	assert.Equal(t, 90*time.Second, cfg.Engine.TestTimeout.Duration())
	assert.Equal(t, 20*time.Second, cfg.Engine.SmokeStartupWait.Duration())
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.SmokePollInterval.Duration())
	assert.Equal(t, 8192, cfg.Engine.MaxOutputBytes)
	assert.Equal(t, "/tmp/registry.json", cfg.Projects.RegistryFile)

	// untouched sections get defaults
	assert.Equal(t, "autopilot", cfg.Observability.ServiceName)
	assert.Equal(t, 5*time.Second, cfg.Engine.KillGracePeriod.Duration())
	assert.Equal(t, "none", cfg.LLM.Provider)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  http_port: 9191\n", 0o600)

	t.Setenv("AUTOPILOT_SERVER_HTTP_PORT", "7070")
	t.Setenv("AUTOPILOT_ENGINE_TEST_TIMEOUT", "45s")
	t.Setenv("AUTOPILOT_GITHUB_TOKEN", "ghp_fromenv")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.Engine.TestTimeout.Duration())
	assert.Equal(t, "ghp_fromenv", cfg.GitHub.Token.Value())
	assert.Equal(t, "[REDACTED]", cfg.GitHub.Token.String())
}

func TestLoad_FallbackSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.True(t, cfg.LLM.APIKey.IsSet())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8600, cfg.Server.HTTPPort)
	assert.Equal(t, 64*1024, cfg.Engine.MaxOutputBytes)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server: [unterminated", 0o600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_ValidationFailure(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "logging:\n  format: xml\n", 0o600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	clearEnv(t)
	path := writeConfig(t, "server:\n  http_port: 9191\n", 0o666)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_FileTooLarge(t *testing.T) {
	clearEnv(t)
	big := make([]byte, maxConfigFileSize+10)
	for i := range big {
		big[i] = '#'
	}
	path := writeConfig(t, string(big), 0o600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"AUTOPILOT_SERVER_HTTP_PORT":           "server.http_port",
		"AUTOPILOT_ENGINE_SMOKE_POLL_INTERVAL": "engine.smoke_poll_interval",
		"AUTOPILOT_LLM_API_KEY":                "llm.api_key",
		"AUTOPILOT_DEBUG":                      "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "y.json"), ExpandHome("~/x/y.json"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}

func TestEngineConfig_Validate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	e := cfg.Engine
	e.SmokePollInterval = e.SmokeStartupWait + 1
	assert.Error(t, e.Validate())

	e = cfg.Engine
	e.MaxOutputBytes = 10
	assert.Error(t, e.Validate())
}

func TestConfig_ValidateAnthropicNeedsKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "anthropic"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.api_key")
}
