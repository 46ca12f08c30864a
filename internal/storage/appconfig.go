package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mihomoctl-go/internal/rules"
)

// AppConfig is the small mutable state in app.yaml: the last
// subscription URL (replayed by --use-last) and the user's quick
// rules.
type AppConfig struct {
	LastSubscriptionURL string            `yaml:"last-subscription-url,omitempty"`
	CustomRules         []rules.QuickRule `yaml:"custom-rules,omitempty"`
}

// LoadAppConfig reads app.yaml, writing an empty default when the file
// is missing.
func LoadAppConfig(paths *AppPaths) (*AppConfig, error) {
	raw, err := os.ReadFile(paths.AppConfigPath())
	if errors.Is(err, fs.ErrNotExist) {
		cfg := &AppConfig{}
		if err := SaveAppConfig(paths, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read app config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse app config: %w", err)
	}
	return &cfg, nil
}

func SaveAppConfig(paths *AppPaths, cfg *AppConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode app config: %w", err)
	}
	if err := os.MkdirAll(paths.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", paths.ConfigDir(), err)
	}
	if err := os.WriteFile(paths.AppConfigPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write app config: %w", err)
	}
	return nil
}
