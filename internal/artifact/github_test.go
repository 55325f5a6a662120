package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHost wires a GitHubHost at a fake API server.
func newTestHost(srv *httptest.Server) *GitHubHost {
	h := NewGitHubHost("test-token", "owner/digests", zerolog.Nop())
	h.apiURL = srv.URL
	h.uploadURL = srv.URL
	return h
}

func TestEnsureTagExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.Equal(t, "/repos/owner/digests/releases/tags/daily-2026-08-25", r.URL.Path)
		json.NewEncoder(w).Encode(ghRelease{ID: 11, TagName: "daily-2026-08-25"})
	}))
	defer srv.Close()

	tag, err := newTestHost(srv).EnsureTag(context.Background(), time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "daily-2026-08-25", tag)
}

func TestEnsureTagCreates(t *testing.T) {
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			http.NotFound(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/owner/digests/releases":
			created = true
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "daily-2026-08-25", body["tag_name"])
			json.NewEncoder(w).Encode(ghRelease{ID: 12, TagName: "daily-2026-08-25"})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	tag, err := newTestHost(srv).EnsureTag(context.Background(), time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "daily-2026-08-25", tag)
	assert.True(t, created)
}

func TestEnsureTagRaceTreatedAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		// Another worker created the release between GET and POST.
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"Validation Failed"}`)
	}))
	defer srv.Close()

	tag, err := newTestHost(srv).EnsureTag(context.Background(), time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "daily-2026-08-25", tag)
}

func TestUploadAsset(t *testing.T) {
	mp3 := filepath.Join(t.TempDir(), "ai_20260825_063000.mp3")
	require.NoError(t, os.WriteFile(mp3, []byte("mp3 bytes"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(ghRelease{ID: 7, TagName: "daily-2026-08-25"})
		case r.Method == http.MethodPost:
			assert.Equal(t, "/repos/owner/digests/releases/7/assets", r.URL.Path)
			assert.Equal(t, "ai_20260825_063000.mp3", r.URL.Query().Get("name"))
			assert.Equal(t, "audio/mpeg", r.Header.Get("Content-Type"))
			json.NewEncoder(w).Encode(ghAsset{
				ID:                 1,
				Name:               "ai_20260825_063000.mp3",
				Size:               9,
				BrowserDownloadURL: "https://github.com/owner/digests/releases/download/daily-2026-08-25/ai_20260825_063000.mp3",
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	asset, err := newTestHost(srv).UploadAsset(context.Background(), "daily-2026-08-25", mp3, "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, int64(9), asset.SizeBytes)
	assert.Contains(t, asset.URL, "daily-2026-08-25")
}

func TestUploadAssetReplacesExisting(t *testing.T) {
	mp3 := filepath.Join(t.TempDir(), "ai.mp3")
	require.NoError(t, os.WriteFile(mp3, []byte("new bytes"), 0o644))

	var deletedAsset bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(ghRelease{
				ID:      7,
				TagName: "daily-2026-08-25",
				Assets:  []ghAsset{{ID: 99, Name: "ai.mp3"}},
			})
		case r.Method == http.MethodDelete:
			assert.Equal(t, "/repos/owner/digests/releases/assets/99", r.URL.Path)
			deletedAsset = true
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(ghAsset{Name: "ai.mp3", Size: 9, BrowserDownloadURL: "https://example.com/ai.mp3"})
		}
	}))
	defer srv.Close()

	_, err := newTestHost(srv).UploadAsset(context.Background(), "daily-2026-08-25", mp3, "audio/mpeg")
	require.NoError(t, err)
	assert.True(t, deletedAsset, "stale asset not replaced")
}

func TestListTagsFiltersNonDaily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]ghRelease{
			{ID: 1, TagName: "daily-2026-08-20"},
			{ID: 2, TagName: "v1.2.0"},
			{ID: 3, TagName: "daily-2026-08-21"},
		})
	}))
	defer srv.Close()

	tags, err := newTestHost(srv).ListTags(context.Background())
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "daily-2026-08-20", tags[0].Name)
	assert.Equal(t, "daily-2026-08-21", tags[1].Name)
}

func TestDeleteTag(t *testing.T) {
	var deletedRelease, deletedRef bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(ghRelease{ID: 5, TagName: "daily-2026-08-01"})
		case r.Method == http.MethodDelete && r.URL.Path == "/repos/owner/digests/releases/5":
			deletedRelease = true
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/repos/owner/digests/git/refs/tags/daily-2026-08-01":
			deletedRef = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	require.NoError(t, newTestHost(srv).DeleteTag(context.Background(), "daily-2026-08-01"))
	assert.True(t, deletedRelease)
	assert.True(t, deletedRef)
}
