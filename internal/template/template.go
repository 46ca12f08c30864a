package template

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/John-Robertt/mihomoctl-go/internal/model"
	"github.com/John-Robertt/mihomoctl-go/internal/profile"
)

//go:embed default.yaml
var defaultContent []byte

// Default returns the built-in template text.
func Default() []byte {
	out := make([]byte, len(defaultContent))
	copy(out, defaultContent)
	return out
}

// EnsureDefault installs the built-in template at path when no file
// exists there yet. It reports whether it wrote the file, so callers
// can log the installation once.
func EnsureDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create template dir: %w", err)
	}
	if err := os.WriteFile(path, defaultContent, 0o644); err != nil {
		return false, fmt.Errorf("write default template: %w", err)
	}
	return true, nil
}

// Load reads and parses a template document from path.
func Load(path string) (*model.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return profile.Parse(path, string(raw))
}
