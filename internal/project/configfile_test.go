package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/governance"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig_Full(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `
stack: python-fastapi
runtime:
  install: pip install -r requirements.txt
  test: python -m pytest -q tests
  env:
    APP_ENV: test
  smoke:
    command: uvicorn app.main:app --port {port}
    port: 8123
    health_path: /healthz
    startup_wait: 20s
governance:
  forbidden_paths: ["secrets/", "*.sqlite"]
  require_tests: true
  dependency_allowlist: [fastapi, uvicorn]
  scan_secrets: true
  severity:
    require_tests: error
`)
	writeFile(t, dir, ".gitleaks.toml", "[allowlist]\npaths = ['''^fixtures/''']\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, StackPythonFastAPI, cfg.Stack)
	assert.Equal(t, "python -m pytest -q tests", cfg.Runtime.Test)
	assert.Equal(t, map[string]string{"APP_ENV": "test"}, cfg.Runtime.Env)
	assert.Equal(t, 8123, cfg.Runtime.Smoke.Port)
	assert.Equal(t, "/healthz", cfg.Runtime.Smoke.HealthPath)
	assert.Equal(t, 20*time.Second, cfg.Runtime.Smoke.StartupWait.Duration())

	assert.Equal(t, []string{"secrets/", "*.sqlite"}, cfg.Governance.ForbiddenPaths)
	assert.True(t, cfg.Governance.RequireTests)
	assert.True(t, cfg.Governance.ScanSecrets)
	assert.Equal(t, []string{"fastapi", "uvicorn"}, cfg.Governance.DependencyAllowlist)
	assert.Equal(t, workflow.SeverityError, cfg.Governance.SeverityFor(governance.RuleRequireTests))

	require.NotNil(t, cfg.Governance.SecretAllowlist)
	assert.Equal(t, []string{"^fixtures/"}, cfg.Governance.SecretAllowlist.Paths)
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Stack)
	assert.False(t, cfg.Governance.RequireTests)
	assert.NotNil(t, cfg.Governance.SecretAllowlist)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":          "stack: [",
		"bad port":          "runtime:\n  smoke:\n    port: 70000\n",
		"relative health":   "runtime:\n  smoke:\n    health_path: health\n",
		"unknown stack":     "stack: cobol\n",
		"unknown severity":  "governance:\n  severity:\n    require_tests: fatal\n",
		"forbidden lowered": "governance:\n  severity:\n    forbidden_path: warning\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, ConfigFile, content)
			_, err := LoadConfig(dir)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig_UnknownStackWithExplicitTest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, "stack: rust\nruntime:\n  test: cargo test\n")
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "cargo test", (&Project{Config: cfg}).TestCommand())
}
