package project

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/autopilot/internal/secrets"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ConfigFile is the per-project configuration file name.
const ConfigFile = "autopilot.yaml"

const maxConfigFileSize = 256 * 1024

// LoadConfig reads dir/autopilot.yaml and dir/.gitleaks.toml. A missing
// autopilot.yaml yields an empty Config, so stack defaults apply.
func LoadConfig(dir string) (Config, error) {
	var cfg Config

	path := filepath.Join(dir, ConfigFile)
	content, err := readLimited(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	if content != nil {
		k := koanf.New(".")
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}

	allow, err := secrets.LoadAllowlist(dir)
	if err != nil {
		return cfg, err
	}
	cfg.Governance.SecretAllowlist = allow
	return cfg, nil
}

func validateConfig(cfg Config) error {
	smoke := cfg.Runtime.Smoke
	if smoke.Port < 0 || smoke.Port > 65535 {
		return fmt.Errorf("runtime.smoke.port %d out of range", smoke.Port)
	}
	if smoke.HealthPath != "" && smoke.HealthPath[0] != '/' {
		return fmt.Errorf("runtime.smoke.health_path must start with /")
	}
	switch cfg.Stack {
	case "", StackPython, StackPythonFastAPI, StackGo, StackNode:
	default:
		// unknown stacks are allowed when every command is explicit
		if cfg.Runtime.Test == "" {
			return fmt.Errorf("stack %q has no defaults; runtime.test is required", cfg.Stack)
		}
	}
	return cfg.Governance.Validate()
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidConfig, path, maxConfigFileSize)
	}
	return content, nil
}
