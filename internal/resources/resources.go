package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/mihomoctl-go/internal/fetch"
	"github.com/John-Robertt/mihomoctl-go/internal/storage"
)

// Source is one support file mihomo needs next to its config.
type Source struct {
	Name string
	URL  string
}

// Sources lists the geo databases pulled from MetaCubeX/meta-rules-dat.
var Sources = []Source{
	{"Country.mmdb", "https://github.com/MetaCubeX/meta-rules-dat/releases/download/latest/country.mmdb"},
	{"geoip.dat", "https://github.com/MetaCubeX/meta-rules-dat/releases/download/latest/geoip.dat"},
	{"geosite.dat", "https://github.com/MetaCubeX/meta-rules-dat/releases/download/latest/geosite.dat"},
}

// EnsureAll downloads any missing resource into the resources
// directory. Existing files are never refreshed; delete one to force a
// re-download.
func EnsureAll(ctx context.Context, paths *storage.AppPaths, log *zap.Logger) error {
	return ensure(ctx, paths, Sources, log)
}

func ensure(ctx context.Context, paths *storage.AppPaths, sources []Source, log *zap.Logger) error {
	for _, src := range sources {
		target := paths.ResourceFile(src.Name)
		if _, err := os.Stat(target); err == nil {
			continue
		}

		log.Info("downloading resource", zap.String("resource", src.Name))
		res, err := fetch.FetchWithOptions(ctx, fetch.KindResource, src.URL, fetch.Options{
			// The databases run to tens of megabytes; the regular
			// fetch timeout is sized for subscription payloads.
			Timeout: 5 * time.Minute,
		})
		if err != nil {
			log.Warn("failed to download resource",
				zap.String("resource", src.Name), zap.Error(err))
			return fmt.Errorf("download %s: %w", src.Name, err)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, res.Body, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}
	return nil
}
