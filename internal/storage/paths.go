package storage

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// AppPaths resolves every file this tool reads or writes. Mutable
// state lives under ~/.config/mihomoctl, cached subscription payloads
// under ~/.cache/mihomoctl/subscriptions.
type AppPaths struct {
	configDir string
	cacheDir  string
}

func NewAppPaths() (*AppPaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return AppPathsAt(home), nil
}

// AppPathsAt roots the layout at an explicit home directory.
func AppPathsAt(home string) *AppPaths {
	return &AppPaths{
		configDir: filepath.Join(home, ".config", "mihomoctl"),
		cacheDir:  filepath.Join(home, ".cache", "mihomoctl", "subscriptions"),
	}
}

func (p *AppPaths) ConfigDir() string    { return p.configDir }
func (p *AppPaths) CacheDir() string     { return p.cacheDir }
func (p *AppPaths) TemplatesDir() string { return filepath.Join(p.configDir, "templates") }
func (p *AppPaths) ResourcesDir() string { return filepath.Join(p.configDir, "resources") }

func (p *AppPaths) AppConfigPath() string { return filepath.Join(p.configDir, "app.yaml") }
func (p *AppPaths) SubscriptionsFile() string {
	return filepath.Join(p.configDir, "subscriptions.yaml")
}
func (p *AppPaths) OutputConfigPath() string {
	return filepath.Join(p.configDir, "output", "config.yaml")
}
func (p *AppPaths) DefaultTemplatePath() string {
	return filepath.Join(p.TemplatesDir(), "default.yaml")
}

func (p *AppPaths) ResourceFile(name string) string {
	return filepath.Join(p.ResourcesDir(), name)
}

// CacheFile and CacheMetaFile hold one subscription's cached payload
// and validators. The id is percent-escaped so URL ids map to flat
// file names instead of nested directories.
func (p *AppPaths) CacheFile(id string) string {
	return filepath.Join(p.cacheDir, url.PathEscape(id)+".yaml")
}

func (p *AppPaths) CacheMetaFile(id string) string {
	return filepath.Join(p.cacheDir, url.PathEscape(id)+".meta.json")
}

// EnsureRuntimeDirs creates the directory tree this tool expects.
func (p *AppPaths) EnsureRuntimeDirs() error {
	dirs := []string{
		p.configDir,
		p.TemplatesDir(),
		p.ResourcesDir(),
		filepath.Dir(p.OutputConfigPath()),
		p.cacheDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ResolveTemplatePath maps a relative template argument into the
// templates directory when a file of that name exists there; absolute
// paths and misses pass through untouched.
func (p *AppPaths) ResolveTemplatePath(provided string) string {
	if filepath.IsAbs(provided) {
		return provided
	}
	candidate := filepath.Join(p.TemplatesDir(), provided)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return provided
}

// ResolveBaseConfigPath does the same for base-config arguments under
// the config directory.
func (p *AppPaths) ResolveBaseConfigPath(provided string) string {
	if filepath.IsAbs(provided) {
		return provided
	}
	candidate := filepath.Join(p.configDir, provided)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return provided
}

// DefaultBaseConfigPath reports <config>/base-config.yaml when that
// file exists, for callers that did not name a base config.
func (p *AppPaths) DefaultBaseConfigPath() (string, bool) {
	candidate := filepath.Join(p.configDir, "base-config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	return "", false
}
