package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// CacheMeta stores the validators of a cached subscription payload,
// as JSON next to the payload file.
type CacheMeta struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// LoadCacheMeta returns a zero meta when the file is missing or
// unreadable; stale validators only cost one full refetch.
func LoadCacheMeta(paths *AppPaths, id string) CacheMeta {
	raw, err := os.ReadFile(paths.CacheMetaFile(id))
	if err != nil {
		return CacheMeta{}
	}
	var meta CacheMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return CacheMeta{}
	}
	return meta
}

// SaveCachePayload writes a fetched payload and its validators.
func SaveCachePayload(paths *AppPaths, id, payload string, meta CacheMeta) error {
	if err := os.MkdirAll(paths.CacheDir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", paths.CacheDir(), err)
	}
	if err := os.WriteFile(paths.CacheFile(id), []byte(payload), 0o644); err != nil {
		return fmt.Errorf("write cached subscription: %w", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode cache meta: %w", err)
	}
	if err := os.WriteFile(paths.CacheMetaFile(id), raw, 0o644); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

// LoadCachePayload returns the cached payload for id, reporting
// ok=false when none exists.
func LoadCachePayload(paths *AppPaths, id string) (string, bool, error) {
	raw, err := os.ReadFile(paths.CacheFile(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cached subscription: %w", err)
	}
	return string(raw), true, nil
}
