package deploy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFile_Deploy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output", "config.yaml")
	d := &File{Path: path}

	if err := d.Deploy(context.Background(), []byte("port: 7890\n")); err != nil {
		t.Fatalf("deploy error: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "port: 7890\n" {
		t.Fatalf("content=%q", raw)
	}
}

func TestHTTP_Deploy(t *testing.T) {
	var (
		gotMethod  string
		gotPath    string
		gotAuth    string
		gotPayload string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		_ = json.Unmarshal(raw, &body)
		gotPayload = body["payload"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	d := &HTTP{BaseURL: ts.URL, Secret: "s3cret"}
	if err := d.Deploy(context.Background(), []byte("port: 7890\n")); err != nil {
		t.Fatalf("deploy error: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method=%q, want=PUT", gotMethod)
	}
	if gotPath != "/configs" {
		t.Fatalf("path=%q, want=/configs", gotPath)
	}
	if gotAuth != "Bearer s3cret" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if gotPayload != "port: 7890\n" {
		t.Fatalf("payload=%q", gotPayload)
	}
}

func TestHTTP_DeployRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid config"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	d := &HTTP{BaseURL: ts.URL}
	err := d.Deploy(context.Background(), []byte("bogus"))
	if err == nil {
		t.Fatalf("expected error for rejected config")
	}
}
