package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/khanhnv2901/seca-trust/internal/platform"
)

func TestListenWithRetry(t *testing.T) {
	l, err := listenWithRetry(context.Background(), "127.0.0.1:0", zap.NewNop())
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer l.Close()

	// The port is taken now; a cancelled context stops the retries.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := listenWithRetry(ctx, l.Addr().String(), zap.NewNop()); err == nil {
		t.Fatal("expected an error for a busy address")
	}
}

func TestHealthHandler(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	storage, err := platform.NewFileStorage(dir, storageFileName)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	health := newHealthHandler(dir, storage)

	for _, path := range []string{"/live", "/ready"} {
		rec := httptest.NewRecorder()
		health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("failed to remove results dir: %v", err)
	}
	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once the results dir is gone, got %d", rec.Code)
	}
}
