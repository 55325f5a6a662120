package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/config"
	"github.com/podbrief/podbrief/internal/database"
)

func testServer(t *testing.T, store FeedStore, legacyPath string) http.Handler {
	t.Helper()
	cfg := &config.Config{
		HTTPAddr:       ":0",
		LegacyFeedPath: legacyPath,
	}
	srv := NewServer(cfg, store, "test", time.Now(), zerolog.Nop())
	return srv.http.Handler
}

func TestServerRoutes(t *testing.T) {
	store := &fakeFeedStore{
		rows:    feedSettingRows(),
		digests: []database.Digest{publishedDigest()},
	}
	h := testServer(t, store, "/feeds/daily.xml")

	for _, path := range []string{"/daily-digest.xml", "/feeds/daily.xml"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := testServer(t, &fakeFeedStore{}, "")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "healthy" || body.Checks["database"] != "ok" {
			t.Errorf("body = %+v", body)
		}
	})

	t.Run("database_down", func(t *testing.T) {
		h := testServer(t, &fakeFeedStore{healthErr: errors.New("pool closed")}, "")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var body HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Status != "unhealthy" || body.Checks["database"] != "error" {
			t.Errorf("body = %+v", body)
		}
	})
}
