package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"

	"github.com/John-Robertt/mihomoctl-go/internal/storage"
)

func TestSubscriptionFromInput(t *testing.T) {
	s := subscriptionFromInput(0, "https://example.com/sub.yaml")
	if s.URL != "https://example.com/sub.yaml" || s.Path != "" {
		t.Fatalf("url=%q path=%q", s.URL, s.Path)
	}
	if s.Name != "example.com" {
		t.Fatalf("name=%q, want=%q", s.Name, "example.com")
	}
	if s.ID != s.URL {
		t.Fatalf("id=%q, want url", s.ID)
	}

	s = subscriptionFromInput(1, "./extras/local.yaml")
	if s.Path != "./extras/local.yaml" || s.URL != "" {
		t.Fatalf("url=%q path=%q", s.URL, s.Path)
	}
	if s.Name != "local" {
		t.Fatalf("name=%q, want=%q", s.Name, "local")
	}
	if !s.Enabled || s.Kind != storage.KindClash {
		t.Fatalf("enabled=%v kind=%q", s.Enabled, s.Kind)
	}
}

func TestShouldRemerge(t *testing.T) {
	tests := []struct {
		name string
		evt  fsnotify.Event
		skip string
		want bool
	}{
		{"yaml write", fsnotify.Event{Name: "/cfg/subs.yaml", Op: fsnotify.Write}, "", true},
		{"txt create", fsnotify.Event{Name: "/cfg/nodes.txt", Op: fsnotify.Create}, "", true},
		{"chmod only", fsnotify.Event{Name: "/cfg/subs.yaml", Op: fsnotify.Chmod}, "", false},
		{"hidden file", fsnotify.Event{Name: "/cfg/.subs.yaml.swp", Op: fsnotify.Write}, "", false},
		{"output skipped", fsnotify.Event{Name: "/cfg/out.yaml", Op: fsnotify.Write}, "/cfg/out.yaml", false},
		{"other extension", fsnotify.Event{Name: "/cfg/notes.md", Op: fsnotify.Write}, "", false},
	}
	for _, tt := range tests {
		if got := shouldRemerge(tt.evt, tt.skip); got != tt.want {
			t.Fatalf("%s: got=%v, want=%v", tt.name, got, tt.want)
		}
	}
}

func TestMergeCommand_DryRunWithLocalSubscription(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	paths := storage.AppPathsAt(home)
	if err := paths.EnsureRuntimeDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	// Pre-seed geo resources so no download is attempted.
	for _, name := range []string{"Country.mmdb", "geoip.dat", "geosite.dat"} {
		if err := os.WriteFile(paths.ResourceFile(name), []byte("x"), 0o644); err != nil {
			t.Fatalf("seed resource: %v", err)
		}
	}

	subPath := filepath.Join(home, "nodes.txt")
	if err := os.WriteFile(subPath, []byte("trojan://pw@hk.example:443#hk-1\n"), 0o644); err != nil {
		t.Fatalf("write subscription: %v", err)
	}

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"merge", "-s", subPath, "--dry-run", "--dev-rules-show"})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "dry-run summary:") {
		t.Fatalf("missing summary header:\n%s", out)
	}
	if !strings.Contains(out, "- proxies: 1, groups: 5, rules: 34") {
		t.Fatalf("unexpected counts line:\n%s", out)
	}
	if !strings.Contains(out, "- fake-ip: mode=<none>, filter+=0 (requested), total=6") {
		t.Fatalf("unexpected fake-ip line:\n%s", out)
	}
	if !strings.Contains(out, "- dev-rules: enabled=true, via=🚀 节点选择, added=28") {
		t.Fatalf("unexpected dev-rules line:\n%s", out)
	}
	if !strings.Contains(out, "- external-controller: 127.0.0.1:9090, secret=unset") {
		t.Fatalf("unexpected controller line:\n%s", out)
	}
	if !strings.Contains(out, "(suppressed by --dry-run)") {
		t.Fatalf("missing output line:\n%s", out)
	}

	if !strings.Contains(stderr.String(), "dev-rule: DOMAIN-SUFFIX,github.com,🚀 节点选择") {
		t.Fatalf("dev listing missing from stderr:\n%s", stderr.String())
	}

	// Dry run must not produce the output file.
	if _, err := os.Stat(paths.OutputConfigPath()); err == nil {
		t.Fatalf("output file written despite --dry-run")
	}
}
