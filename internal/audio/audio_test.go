package audio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDownload(t *testing.T) {
	payload := []byte("fake mp3 bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(payload)
	}))
	defer srv.Close()

	p := NewProcessor(5*time.Second, zerolog.Nop())
	dest := filepath.Join(t.TempDir(), "episode.mp3")

	if err := p.Download(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("downloaded %d bytes, want %d", len(got), len(payload))
	}
}

func TestDownloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			"server_error",
			func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			"empty_body",
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewProcessor(5*time.Second, zerolog.Nop())
			dest := filepath.Join(t.TempDir(), "episode.mp3")
			if err := p.Download(context.Background(), srv.URL, dest); err == nil {
				t.Error("Download succeeded, want error")
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Error("failed download left a file behind")
			}
		})
	}
}

func TestParseProbeOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    Info
		wantErr bool
	}{
		{
			"valid",
			`{"format":{"duration":"612.480000","size":"9799680"}}`,
			Info{DurationSeconds: 612.48, SizeBytes: 9799680},
			false,
		},
		{
			"zero_duration",
			`{"format":{"duration":"0.000000","size":"128"}}`,
			Info{},
			true,
		},
		{
			"missing_format",
			`{}`,
			Info{},
			true,
		},
		{
			"not_json",
			`Invalid data found when processing input`,
			Info{},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeOutput([]byte(tt.out))
			if tt.wantErr {
				if err == nil {
					t.Fatal("parseProbeOutput succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseProbeOutput: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseProbeOutput = %+v, want %+v", got, tt.want)
			}
		})
	}
}
