package project

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/governance"
)

// Common errors.
var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrProjectExists    = errors.New("project already exists")
	ErrInvalidProjectID = errors.New("invalid project ID")
	ErrInvalidConfig    = errors.New("invalid project config")
)

// Entry is one registry record.
type Entry struct {
	ProjectID    string         `json:"project_id" validate:"required,max=128,excludesall=/\\ "`
	RepoURL      string         `json:"repo_url" validate:"omitempty,url"`
	Path         string         `json:"path,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	RegisteredAt *time.Time     `json:"registered_at"`
}

// Stack names a runtime family with default commands.
type Stack string

const (
	StackPython        Stack = "python"
	StackPythonFastAPI Stack = "python-fastapi"
	StackGo            Stack = "go"
	StackNode          Stack = "node"
)

// PortPlaceholder is replaced by the smoke port in smoke commands.
const PortPlaceholder = "{port}"

// Default smoke settings.
const (
	DefaultSmokePort       = 8000
	DefaultSmokeHealthPath = "/health"
)

// SmokeConfig describes how to start and probe the service.
type SmokeConfig struct {
	Command     string          `koanf:"command" json:"command,omitempty"`
	Host        string          `koanf:"host" json:"host,omitempty"`
	Port        int             `koanf:"port" json:"port,omitempty"`
	HealthPath  string          `koanf:"health_path" json:"health_path,omitempty"`
	StartupWait config.Duration `koanf:"startup_wait" json:"startup_wait,omitempty"`
	// ProcessName is also terminated by the preflight step when set.
	ProcessName string `koanf:"process_name" json:"process_name,omitempty"`
}

// Runtime is the command table of a project.
type Runtime struct {
	Install string            `koanf:"install" json:"install,omitempty"`
	Test    string            `koanf:"test" json:"test,omitempty"`
	Codegen string            `koanf:"codegen" json:"codegen,omitempty"`
	Smoke   SmokeConfig       `koanf:"smoke" json:"smoke"`
	Env     map[string]string `koanf:"env" json:"env,omitempty"`
}

// Config is the content of a project's autopilot.yaml.
type Config struct {
	Stack      Stack             `koanf:"stack" json:"stack,omitempty"`
	Runtime    Runtime           `koanf:"runtime" json:"runtime"`
	Governance governance.Policy `koanf:"governance" json:"governance"`
}

type stackDefaults struct {
	test  string
	smoke string
}

var defaultsByStack = map[Stack]stackDefaults{
	StackPython:        {test: "python -m pytest -q", smoke: "uvicorn app.main:app --host 127.0.0.1 --port {port}"},
	StackPythonFastAPI: {test: "python -m pytest -q", smoke: "uvicorn app.main:app --host 127.0.0.1 --port {port}"},
	StackGo:            {test: "go test ./..."},
	StackNode:          {test: "npm test", smoke: "npm start"},
}

// Project is a resolved project: where it lives and how to run it.
type Project struct {
	ID      string `json:"project_id"`
	Path    string `json:"path"`
	RepoURL string `json:"repo_url,omitempty"`
	Config  Config `json:"config"`
	// Registered is false for ids resolved through the projects directory.
	Registered bool `json:"registered"`
}

// TestCommand returns the configured test command or the stack default.
func (p *Project) TestCommand() string {
	if cmd := strings.TrimSpace(p.Config.Runtime.Test); cmd != "" {
		return cmd
	}
	return defaultsByStack[p.stack()].test
}

// SmokeCommand returns the smoke command with the port substituted.
func (p *Project) SmokeCommand() string {
	cmd := strings.TrimSpace(p.Config.Runtime.Smoke.Command)
	if cmd == "" {
		cmd = defaultsByStack[p.stack()].smoke
	}
	return strings.ReplaceAll(cmd, PortPlaceholder, strconv.Itoa(p.SmokePort()))
}

// SmokePort returns the port the service listens on.
func (p *Project) SmokePort() int {
	if p.Config.Runtime.Smoke.Port > 0 {
		return p.Config.Runtime.Smoke.Port
	}
	return DefaultSmokePort
}

// HealthPath returns the health endpoint path.
func (p *Project) HealthPath() string {
	if hp := p.Config.Runtime.Smoke.HealthPath; hp != "" {
		return hp
	}
	return DefaultSmokeHealthPath
}

// CodegenCommand returns the configured codegen command, if any.
func (p *Project) CodegenCommand() string {
	return strings.TrimSpace(p.Config.Runtime.Codegen)
}

func (p *Project) stack() Stack {
	return Stack(strings.ToLower(strings.TrimSpace(string(p.Config.Stack))))
}
