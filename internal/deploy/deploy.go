package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Deployer writes a finished configuration to its destination.
type Deployer interface {
	Deploy(ctx context.Context, payload []byte) error
}

// File writes the configuration to a path, creating parent
// directories as needed.
type File struct {
	Path string
}

func (f *File) Deploy(_ context.Context, payload []byte) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(f.Path, payload, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// HTTP pushes the configuration into a running mihomo instance through
// its external controller: PUT /configs with the document inline in a
// JSON payload field. mihomo answers 204 on success.
type HTTP struct {
	BaseURL string // controller address, e.g. http://127.0.0.1:9090
	Secret  string // bearer token when the controller has one
	Client  *http.Client
}

func (h *HTTP) Deploy(ctx context.Context, payload []byte) error {
	body, err := json.Marshal(map[string]string{"payload": string(payload)})
	if err != nil {
		return fmt.Errorf("encode reload request: %w", err)
	}

	url := strings.TrimSuffix(h.BaseURL, "/") + "/configs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+h.Secret)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reload config via %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("controller rejected config: %s: %s",
			resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}
