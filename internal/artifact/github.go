package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// GitHubHost stores MP3s as release assets: one release per daily tag.
// Release assets on a public repository are served from a CDN-backed URL,
// which is what the RSS enclosures point at.
type GitHubHost struct {
	token     string
	repo      string // "owner/name"
	apiURL    string
	uploadURL string
	http      *http.Client
	log       zerolog.Logger
}

// NewGitHubHost creates a GitHub releases backend for the given repo.
func NewGitHubHost(token, repo string, log zerolog.Logger) *GitHubHost {
	return &GitHubHost{
		token:     token,
		repo:      repo,
		apiURL:    "https://api.github.com",
		uploadURL: "https://uploads.github.com",
		http:      &http.Client{Timeout: 5 * time.Minute},
		log:       log.With().Str("component", "artifact").Str("backend", "github").Logger(),
	}
}

// Type returns the backend name.
func (g *GitHubHost) Type() string { return "github" }

type ghRelease struct {
	ID        int64     `json:"id"`
	TagName   string    `json:"tag_name"`
	CreatedAt time.Time `json:"created_at"`
	Assets    []ghAsset `json:"assets"`
}

type ghAsset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (g *GitHubHost) do(ctx context.Context, method, url string, body io.Reader, contentType string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("github API error (status %d): %s", resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode github response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// EnsureTag gets or creates the release for the given date and returns its
// tag name. Racing creators are resolved by re-fetching on conflict.
func (g *GitHubHost) EnsureTag(ctx context.Context, date time.Time) (string, error) {
	tag := TagName(date)

	var rel ghRelease
	status, err := g.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/releases/tags/%s", g.apiURL, g.repo, tag), nil, "", &rel)
	if err == nil {
		return tag, nil
	}
	if status != http.StatusNotFound {
		return "", fmt.Errorf("look up release %s: %w", tag, err)
	}

	payload, _ := json.Marshal(map[string]any{
		"tag_name": tag,
		"name":     "Daily digests " + date.Format("2006-01-02"),
		"body":     "Generated daily digest audio.",
	})
	status, err = g.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/repos/%s/releases", g.apiURL, g.repo),
		bytes.NewReader(payload), "application/json", &rel)
	if err != nil {
		// 422 means another worker created it between our GET and POST.
		if status == http.StatusUnprocessableEntity {
			return tag, nil
		}
		return "", fmt.Errorf("create release %s: %w", tag, err)
	}

	g.log.Info().Str("tag", tag).Msg("release created")
	return tag, nil
}

func (g *GitHubHost) releaseByTag(ctx context.Context, tag string) (*ghRelease, error) {
	var rel ghRelease
	_, err := g.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/releases/tags/%s", g.apiURL, g.repo, tag), nil, "", &rel)
	if err != nil {
		return nil, fmt.Errorf("look up release %s: %w", tag, err)
	}
	return &rel, nil
}

// UploadAsset uploads localPath as a release asset under tag and returns its
// public download URL. Re-uploading the same filename replaces the existing
// asset so re-runs do not accumulate duplicates.
func (g *GitHubHost) UploadAsset(ctx context.Context, tag, localPath, contentType string) (Asset, error) {
	rel, err := g.releaseByTag(ctx, tag)
	if err != nil {
		return Asset{}, err
	}

	name := filepath.Base(localPath)
	for _, a := range rel.Assets {
		if a.Name == name {
			if _, err := g.do(ctx, http.MethodDelete,
				fmt.Sprintf("%s/repos/%s/releases/assets/%d", g.apiURL, g.repo, a.ID), nil, "", nil); err != nil {
				return Asset{}, fmt.Errorf("replace existing asset %s: %w", name, err)
			}
			break
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open asset file: %w", err)
	}
	defer f.Close()

	var uploaded ghAsset
	uploadURL := fmt.Sprintf("%s/repos/%s/releases/%d/assets?name=%s",
		g.uploadURL, g.repo, rel.ID, url.QueryEscape(name))
	if _, err := g.do(ctx, http.MethodPost, uploadURL, f, contentType, &uploaded); err != nil {
		return Asset{}, fmt.Errorf("upload asset %s: %w", name, err)
	}

	g.log.Info().Str("tag", tag).Str("asset", name).Int64("bytes", uploaded.Size).Msg("asset uploaded")
	return Asset{URL: uploaded.BrowserDownloadURL, SizeBytes: uploaded.Size}, nil
}

// ListTags returns the daily tags present on the host, skipping releases
// outside the daily namespace.
func (g *GitHubHost) ListTags(ctx context.Context) ([]Tag, error) {
	var releases []ghRelease
	_, err := g.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/releases?per_page=100", g.apiURL, g.repo), nil, "", &releases)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	var tags []Tag
	for _, rel := range releases {
		if _, err := ParseTagDate(rel.TagName); err != nil {
			continue
		}
		tags = append(tags, Tag{Name: rel.TagName, CreatedAt: rel.CreatedAt})
	}
	return tags, nil
}

// DeleteTag removes the release and its git tag, cascading all assets.
func (g *GitHubHost) DeleteTag(ctx context.Context, tag string) error {
	rel, err := g.releaseByTag(ctx, tag)
	if err != nil {
		return err
	}

	if _, err := g.do(ctx, http.MethodDelete,
		fmt.Sprintf("%s/repos/%s/releases/%d", g.apiURL, g.repo, rel.ID), nil, "", nil); err != nil {
		return fmt.Errorf("delete release %s: %w", tag, err)
	}
	// The git ref outlives the release object; remove it too so the tag
	// namespace stays clean. A missing ref is fine.
	if status, err := g.do(ctx, http.MethodDelete,
		fmt.Sprintf("%s/repos/%s/git/refs/tags/%s", g.apiURL, g.repo, tag), nil, "", nil); err != nil && status != http.StatusNotFound {
		return fmt.Errorf("delete tag ref %s: %w", tag, err)
	}

	g.log.Info().Str("tag", tag).Msg("release deleted")
	return nil
}
