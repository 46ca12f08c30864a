package resources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/John-Robertt/mihomoctl-go/internal/storage"
)

func TestEnsure_DownloadsMissingAndSkipsExisting(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte{0xde, 0xad, 0xbe, 0xef})
	}))
	defer ts.Close()

	paths := storage.AppPathsAt(t.TempDir())
	sources := []Source{
		{Name: "geoip.dat", URL: ts.URL + "/geoip.dat"},
		{Name: "geosite.dat", URL: ts.URL + "/geosite.dat"},
	}

	if err := ensure(context.Background(), paths, sources, zap.NewNop()); err != nil {
		t.Fatalf("ensure error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("hits=%d, want=2", hits)
	}
	raw, err := os.ReadFile(paths.ResourceFile("geoip.dat"))
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	if len(raw) != 4 {
		t.Fatalf("len=%d, want=4", len(raw))
	}

	// A second run must not refetch anything.
	if err := ensure(context.Background(), paths, sources, zap.NewNop()); err != nil {
		t.Fatalf("ensure error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("hits=%d after second run, want=2", hits)
	}
}

func TestEnsure_FailureIsFatal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer ts.Close()

	paths := storage.AppPathsAt(t.TempDir())
	sources := []Source{{Name: "Country.mmdb", URL: ts.URL}}

	if err := ensure(context.Background(), paths, sources, zap.NewNop()); err == nil {
		t.Fatalf("expected error for failed download")
	}
	if _, err := os.Stat(paths.ResourceFile("Country.mmdb")); err == nil {
		t.Fatalf("partial resource written on failure")
	}
}
