// Package audio downloads episode source audio and splits it into
// fixed-duration chunks on disk. Splitting uses ffmpeg with stream copy, so
// chunking an hour-long episode costs disk I/O, not CPU. Probing uses
// ffprobe. Both binaries must be on PATH.
package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Processor downloads and chunks episode audio.
type Processor struct {
	http *http.Client
	log  zerolog.Logger
}

// NewProcessor returns a processor with the given download timeout.
func NewProcessor(downloadTimeout time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		http: &http.Client{Timeout: downloadTimeout},
		log:  log.With().Str("component", "audio").Logger(),
	}
}

// CheckFFmpeg reports whether the ffmpeg and ffprobe binaries are available.
func CheckFFmpeg() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found in PATH", bin)
		}
	}
	return nil
}

// Download streams the audio at url to dest. The body is copied straight to
// disk; memory stays constant regardless of episode size.
func (p *Processor) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download audio: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("write audio file: %w", err)
	}
	if n == 0 {
		os.Remove(dest)
		return fmt.Errorf("download audio: empty body")
	}

	p.log.Debug().Str("url", url).Int64("bytes", n).Msg("audio downloaded")
	return nil
}

// Chunk splits src into fixed-duration segments under dir and returns their
// paths in playback order. maxChunks > 0 drops everything past the cap
// (test runs); 0 means unbounded.
func (p *Processor) Chunk(ctx context.Context, src, dir string, chunkDuration time.Duration, maxChunks int) ([]string, error) {
	pattern := filepath.Join(dir, "chunk_%04d.mp3")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", src,
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", int(chunkDuration.Seconds())),
		"-c", "copy",
		"-y",
		pattern,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg segment: %w: %s", err, string(out))
	}

	chunks, err := filepath.Glob(filepath.Join(dir, "chunk_*.mp3"))
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ffmpeg produced no chunks")
	}
	sort.Strings(chunks)

	if maxChunks > 0 && len(chunks) > maxChunks {
		for _, extra := range chunks[maxChunks:] {
			os.Remove(extra)
		}
		chunks = chunks[:maxChunks]
	}

	p.log.Debug().Str("src", filepath.Base(src)).Int("chunks", len(chunks)).Msg("audio chunked")
	return chunks, nil
}
