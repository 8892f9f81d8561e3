// Package config provides configuration loading for autopilot.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the daemon configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Engine        EngineConfig        `koanf:"engine"`
	Projects      ProjectsConfig      `koanf:"projects"`
	GitHub        GitHubConfig        `koanf:"github"`
	LLM           LLMConfig           `koanf:"llm"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	HTTPPort        int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig selects level and encoding for the daemon logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EngineConfig holds the defaults applied to every workflow run.
// Requests may shorten or lengthen individual timeouts.
type EngineConfig struct {
	TestTimeout       Duration `koanf:"test_timeout"`
	SmokeStartupWait  Duration `koanf:"smoke_startup_wait"`
	SmokePollInterval Duration `koanf:"smoke_poll_interval"`
	SmokeHost         string   `koanf:"smoke_host"`
	SmokePort         int      `koanf:"smoke_port"`
	KillGracePeriod   Duration `koanf:"kill_grace_period"`
	MaxOutputBytes    int      `koanf:"max_output_bytes"`
	RunTimeout        Duration `koanf:"run_timeout"`
	BugfixTimeout     Duration `koanf:"bugfix_timeout"`
	KeepRawOutput     bool     `koanf:"keep_raw_output"`
}

// ProjectsConfig locates the project registry.
type ProjectsConfig struct {
	RegistryFile string `koanf:"registry_file"`
	// ProjectsDir is the fallback root for unregistered project ids.
	ProjectsDir  string `koanf:"projects_dir"`
	DisableWatch bool   `koanf:"disable_watch"`
}

// GitHubConfig configures pull request creation.
type GitHubConfig struct {
	Token      Secret   `koanf:"token"`
	BaseURL    string   `koanf:"base_url"`
	MaxRetries int      `koanf:"max_retries"`
	Timeout    Duration `koanf:"timeout"`
}

// LLMConfig configures the fix-suggestion client.
type LLMConfig struct {
	Provider  string   `koanf:"provider"`
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	MaxTokens int      `koanf:"max_tokens"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be in 1..65535, got %d", c.Server.HTTPPort))
	}
	if c.Observability.EnableTelemetry && c.Observability.Endpoint == "" {
		errs = append(errs, errors.New("observability.endpoint required when telemetry is enabled"))
	}
	switch c.Observability.Protocol {
	case "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("observability.protocol must be grpc or http, got %q", c.Observability.Protocol))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Projects.RegistryFile == "" {
		errs = append(errs, errors.New("projects.registry_file is required"))
	}
	switch c.LLM.Provider {
	case "none", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be none or anthropic, got %q", c.LLM.Provider))
	}
	if c.LLM.Provider == "anthropic" && !c.LLM.APIKey.IsSet() {
		errs = append(errs, errors.New("llm.api_key required for the anthropic provider"))
	}

	return errors.Join(errs...)
}

// Validate checks engine limits.
func (e EngineConfig) Validate() error {
	if e.TestTimeout.Duration() <= 0 {
		return errors.New("engine.test_timeout must be positive")
	}
	if e.SmokeStartupWait.Duration() <= 0 {
		return errors.New("engine.smoke_startup_wait must be positive")
	}
	if e.SmokePollInterval.Duration() <= 0 || e.SmokePollInterval > e.SmokeStartupWait {
		return errors.New("engine.smoke_poll_interval must be positive and not exceed the startup wait")
	}
	if e.MaxOutputBytes < 1024 {
		return fmt.Errorf("engine.max_output_bytes must be at least 1024, got %d", e.MaxOutputBytes)
	}
	if e.SmokePort < 0 || e.SmokePort > 65535 {
		return fmt.Errorf("engine.smoke_port out of range: %d", e.SmokePort)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8600
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "autopilot"
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	e := &cfg.Engine
	if e.TestTimeout == 0 {
		e.TestTimeout = Duration(5 * time.Minute)
	}
	if e.SmokeStartupWait == 0 {
		e.SmokeStartupWait = Duration(60 * time.Second)
	}
	if e.SmokePollInterval == 0 {
		e.SmokePollInterval = Duration(time.Second)
	}
	if e.SmokeHost == "" {
		e.SmokeHost = "127.0.0.1"
	}
	if e.SmokePort == 0 {
		e.SmokePort = 8000
	}
	if e.KillGracePeriod == 0 {
		e.KillGracePeriod = Duration(5 * time.Second)
	}
	if e.MaxOutputBytes == 0 {
		e.MaxOutputBytes = 64 * 1024
	}
	if e.RunTimeout == 0 {
		e.RunTimeout = Duration(30 * time.Minute)
	}
	if e.BugfixTimeout == 0 {
		e.BugfixTimeout = Duration(2 * time.Minute)
	}

	if cfg.Projects.RegistryFile == "" {
		cfg.Projects.RegistryFile = "~/.config/autopilot/projects.json"
	}
	if cfg.Projects.ProjectsDir == "" {
		cfg.Projects.ProjectsDir = "projects"
	}

	if cfg.GitHub.MaxRetries == 0 {
		cfg.GitHub.MaxRetries = 3
	}
	if cfg.GitHub.Timeout == 0 {
		cfg.GitHub.Timeout = Duration(30 * time.Second)
	}

	l := &cfg.LLM
	if l.Provider == "" {
		if l.APIKey.IsSet() {
			l.Provider = "anthropic"
		} else {
			l.Provider = "none"
		}
	}
	if l.Model == "" {
		l.Model = "claude-sonnet-4-5"
	}
	if l.BaseURL == "" {
		l.BaseURL = "https://api.anthropic.com"
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 4096
	}
	if l.Timeout == 0 {
		l.Timeout = Duration(90 * time.Second)
	}
	if l.RateLimit == 0 {
		l.RateLimit = 0.5
	}
	if l.Burst == 0 {
		l.Burst = 1
	}
}
