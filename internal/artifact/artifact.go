// Package artifact publishes digest MP3s to an external artifact host and
// sweeps aged assets. Hosts are addressed through daily tags: one tag per
// calendar day, holding that day's MP3 assets. The default backend is GitHub
// releases; an S3-compatible store is available for deployments without a
// public repository.
package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/config"
)

// tagPrefix namespaces daily tags on the host.
const tagPrefix = "daily-"

// Asset is an uploaded MP3's public identity.
type Asset struct {
	URL       string
	SizeBytes int64
}

// Tag is a daily tag listed from the host.
type Tag struct {
	Name      string
	CreatedAt time.Time
}

// Host is the artifact host contract. EnsureTag is get-or-create; calling it
// twice for the same date is safe and returns the same handle.
type Host interface {
	EnsureTag(ctx context.Context, date time.Time) (string, error)
	UploadAsset(ctx context.Context, tag, localPath, contentType string) (Asset, error)
	ListTags(ctx context.Context) ([]Tag, error)
	DeleteTag(ctx context.Context, tag string) error
	Type() string
}

// New builds the configured artifact host backend.
func New(cfg *config.Config, log zerolog.Logger) (Host, error) {
	switch cfg.ArtifactBackend {
	case "github":
		if cfg.GitHubToken == "" || cfg.GitHubRepo == "" {
			return nil, fmt.Errorf("github artifact backend requires GITHUB_TOKEN and GITHUB_REPO")
		}
		return NewGitHubHost(cfg.GitHubToken, cfg.GitHubRepo, log), nil
	case "s3":
		if cfg.S3.Bucket == "" || cfg.S3.PublicBaseURL == "" {
			return nil, fmt.Errorf("s3 artifact backend requires S3_BUCKET and S3_PUBLIC_BASE_URL")
		}
		return NewS3Host(cfg.S3, log)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q (github or s3)", cfg.ArtifactBackend)
	}
}

// TagName derives the daily tag for a date: daily-YYYY-MM-DD.
func TagName(date time.Time) string {
	return tagPrefix + date.Format("2006-01-02")
}

// ParseTagDate extracts the date from a daily tag name. Tags outside the
// daily namespace return an error; retention skips them.
func ParseTagDate(tag string) (time.Time, error) {
	if len(tag) <= len(tagPrefix) || tag[:len(tagPrefix)] != tagPrefix {
		return time.Time{}, fmt.Errorf("not a daily tag: %q", tag)
	}
	d, err := time.Parse("2006-01-02", tag[len(tagPrefix):])
	if err != nil {
		return time.Time{}, fmt.Errorf("not a daily tag: %q", tag)
	}
	return d, nil
}
