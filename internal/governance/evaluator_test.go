package governance

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/autopilot/internal/secrets"
	"github.com/fyrsmithlabs/autopilot/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Detect(content string) []secrets.Leak {
	args := m.Called(content)
	return args.Get(0).([]secrets.Leak)
}

func rules(vs []workflow.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestEvaluate_EnvAlwaysFails(t *testing.T) {
	policies := []Policy{
		{},
		{RequireTests: true},
		{ForbiddenPaths: []string{"secrets/"}},
		{DependencyAllowlist: []string{"*"}},
		{ForbiddenPaths: []string{"!.env"}},
		{ForbiddenPaths: []string{"!*", "!.env"}},
	}
	for _, policy := range policies {
		res, err := NewEvaluator().Evaluate(context.Background(), addedFileDiff(".env", "TOKEN=x"), policy)
		require.NoError(t, err)
		assert.False(t, res.OK)
		require.Len(t, res.Errors(), 1)
		assert.Equal(t, RuleForbiddenPath, res.Errors()[0].Rule)
		assert.Equal(t, ".env", res.Errors()[0].Path)
	}
}

func TestEvaluate_ForbiddenPaths(t *testing.T) {
	tests := []struct {
		name      string
		diff      string
		forbidden []string
		wantPath  string
	}{
		{"nested env", addedFileDiff("backend/.env", "A=1"), nil, "backend/.env"},
		{"env variant", addedFileDiff("config/.env.production", "A=1"), nil, "config/.env.production"},
		{"pem", addedFileDiff("certs/server.pem", "x"), nil, "certs/server.pem"},
		{"ssh key", addedFileDiff("id_rsa.pub", "ssh-rsa AAAA"), nil, "id_rsa.pub"},
		{"deleted file still counts", deletedFileDiff("credentials.json", "{}"), nil, "credentials.json"},
		{"configured dir", addedFileDiff("secrets/db.yaml", "a: b"), []string{"secrets/"}, "secrets/db.yaml"},
		{"configured anchored glob", addedFileDiff("deploy/prod.tfvars", "a = 1"), []string{"/deploy/*.tfvars"}, "deploy/prod.tfvars"},
		{
			"rename into forbidden path",
			"diff --git a/notes.txt b/.env\nsimilarity index 100%\nrename from notes.txt\nrename to .env\n",
			nil, ".env",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewEvaluator().Evaluate(context.Background(), tt.diff, Policy{ForbiddenPaths: tt.forbidden})
			require.NoError(t, err)
			assert.False(t, res.OK)
			require.Len(t, res.Violations, 1)
			assert.Equal(t, tt.wantPath, res.Violations[0].Path)
			assert.Equal(t, workflow.SeverityError, res.Violations[0].Severity)
		})
	}
}

func TestEvaluate_ForbiddenNegation(t *testing.T) {
	diff := addedFileDiff("config/public.yaml", "a: b")
	policy := Policy{ForbiddenPaths: []string{"config/", "!config/public.yaml"}}
	res, err := NewEvaluator().Evaluate(context.Background(), diff, policy)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Violations)

	res, err = NewEvaluator().Evaluate(context.Background(), addedFileDiff("config/private.yaml", "a: b"), policy)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestEvaluate_NegationCannotReallowBuiltin(t *testing.T) {
	diff := addedFileDiff(".env.example", "A=")
	res, err := NewEvaluator().Evaluate(context.Background(), diff, Policy{ForbiddenPaths: []string{"!.env.example"}})
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Violations, 1)
	assert.Contains(t, res.Violations[0].Message, `".env.*"`)
}

func TestEvaluate_ForbiddenPathTraditionalDiff(t *testing.T) {
	diff := "--- a/secrets/prod.yaml\n+++ b/secrets/prod.yaml\n@@ -1 +1 @@\n-k: a\n+k: b\n"
	res, err := NewEvaluator().Evaluate(context.Background(), diff, Policy{ForbiddenPaths: []string{"secrets/**"}})
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, RuleForbiddenPath, res.Violations[0].Rule)
	assert.Equal(t, "secrets/prod.yaml", res.Violations[0].Path)
}

func TestEvaluate_ForbiddenSeverityNotOverridable(t *testing.T) {
	policy := Policy{Severity: map[string]workflow.Severity{RuleForbiddenPath: workflow.SeverityWarning}}
	_, err := NewEvaluator().Evaluate(context.Background(), addedFileDiff(".env", "A=1"), policy)
	assert.Error(t, err)
}

func TestEvaluate_RequireTestsWarning(t *testing.T) {
	diff := addedFileDiff("app/service.py", "def f():", "    return 1")

	res, err := NewEvaluator().Evaluate(context.Background(), diff, Policy{RequireTests: true})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, RuleRequireTests, res.Violations[0].Rule)
	assert.Equal(t, workflow.SeverityWarning, res.Violations[0].Severity)
	assert.Equal(t, "app/service.py", res.Violations[0].Path)
}

func TestEvaluate_RequireTestsSatisfied(t *testing.T) {
	diff := addedFileDiff("app/service.py", "x = 1") + addedFileDiff("tests/test_service.py", "def test_x(): pass")

	res, err := NewEvaluator().Evaluate(context.Background(), diff, Policy{RequireTests: true})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Violations)
}

func TestEvaluate_RequireTestsBlockingWhenConfigured(t *testing.T) {
	policy := Policy{
		RequireTests: true,
		Severity:     map[string]workflow.Severity{RuleRequireTests: workflow.SeverityError},
	}
	res, err := NewEvaluator().Evaluate(context.Background(), addedFileDiff("main.go", "package main"), policy)
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestEvaluate_RequireTestsDisabled(t *testing.T) {
	res, err := NewEvaluator().Evaluate(context.Background(), addedFileDiff("main.go", "package main"), Policy{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Violations)
}

func TestEvaluate_DependencyAllowlist(t *testing.T) {
	diff := addedFileDiff("requirements.txt", "fastapi==0.110.0", "leftpad==1.0")
	policy := Policy{DependencyAllowlist: []string{"fastapi", "uvicorn"}}

	res, err := NewEvaluator().Evaluate(context.Background(), diff, policy)
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, RuleDependencyAllowlist, res.Violations[0].Rule)
	assert.Contains(t, res.Violations[0].Message, "leftpad")
	assert.Equal(t, "requirements.txt", res.Violations[0].Path)
}

func TestEvaluate_DependencyAllowlistAdvisory(t *testing.T) {
	diff := addedFileDiff("requirements.txt", "leftpad==1.0")
	policy := Policy{
		DependencyAllowlist: []string{"fastapi"},
		Severity:            map[string]workflow.Severity{RuleDependencyAllowlist: workflow.SeverityWarning},
	}
	res, err := NewEvaluator().Evaluate(context.Background(), diff, policy)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Len(t, res.Warnings(), 1)
}

func TestEvaluate_SecretScan(t *testing.T) {
	scanner := &mockScanner{}
	scanner.On("Detect", "x = 1\nkey = \"AKIAFAKEFAKEFAKE\"\n").
		Return([]secrets.Leak{{RuleID: "aws-access-token", Line: 1, Match: "AKIAFAKEFAKEFAKE"}})

	diff := modifiedFileDiff("app/settings.py", 10, " import os", "+x = 1", "+key = \"AKIAFAKEFAKEFAKE\"")
	res, err := NewEvaluator(WithSecretScanner(scanner)).Evaluate(context.Background(), diff, Policy{ScanSecrets: true})
	require.NoError(t, err)
	assert.False(t, res.OK)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, RuleSecretScan, res.Violations[0].Rule)
	assert.Contains(t, res.Violations[0].Message, "aws-access-token")
	assert.Contains(t, res.Violations[0].Message, "line 12")
	scanner.AssertExpectations(t)
}

func TestEvaluate_SecretScanAllowlist(t *testing.T) {
	scanner := &mockScanner{}
	scanner.On("Detect", mock.Anything).
		Return([]secrets.Leak{{RuleID: "generic-api-key", Line: 0, Match: "api_key = example"}})

	policy := Policy{
		ScanSecrets:     true,
		SecretAllowlist: &secrets.Allowlist{Paths: []string{`^fixtures/`}, Regexes: []string{`example`}},
	}
	diff := addedFileDiff("fixtures/keys.txt", "token") + addedFileDiff("app/conf.py", "api_key = example")

	res, err := NewEvaluator(WithSecretScanner(scanner)).Evaluate(context.Background(), diff, policy)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.Violations)
	scanner.AssertNumberOfCalls(t, "Detect", 1)
}

func TestEvaluate_SecretScanOffByDefault(t *testing.T) {
	scanner := &mockScanner{}
	res, err := NewEvaluator(WithSecretScanner(scanner)).Evaluate(context.Background(), addedFileDiff("a.txt", "x"), Policy{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	scanner.AssertNotCalled(t, "Detect", mock.Anything)
}

func TestEvaluate_CombinedRules(t *testing.T) {
	diff := addedFileDiff("server.pem", "-----") +
		addedFileDiff("pkg/api.go", "package pkg") +
		modifiedFileDiff("go.mod", 1, " module x", "+require github.com/unknown/lib v1.0.0")
	policy := Policy{RequireTests: true, DependencyAllowlist: []string{"github.com/spf13/..."}}

	res, err := NewEvaluator().Evaluate(context.Background(), diff, policy)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ElementsMatch(t, []string{RuleForbiddenPath, RuleRequireTests, RuleDependencyAllowlist}, rules(res.Violations))
	assert.Len(t, res.Errors(), 2)
	assert.Len(t, res.Warnings(), 1)
}

func TestEvaluate_EmptyDiff(t *testing.T) {
	res, err := NewEvaluator().Evaluate(context.Background(), "", Policy{RequireTests: true})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Empty(t, res.ChangedFiles)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, Policy{Severity: map[string]workflow.Severity{RuleSecretScan: workflow.SeverityWarning}}.Validate())
	assert.Error(t, Policy{Severity: map[string]workflow.Severity{"made_up": workflow.SeverityWarning}}.Validate())
	assert.Error(t, Policy{Severity: map[string]workflow.Severity{RuleRequireTests: "fatal"}}.Validate())
}
