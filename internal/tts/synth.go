package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/renameio/v2"

	"github.com/podbrief/podbrief/internal/audio"
)

// Result describes a committed MP3.
type Result struct {
	DurationSeconds int
	SizeBytes       int64
}

// SynthesizeToFile renders text to finalPath atomically. The audio is
// written to a pending temp file in finalPath's directory, probed, and only
// renamed into place once it passes validation. minDuration rejects
// implausibly short output (a truncated or empty render); pass a small value
// for scripts that are legitimately short.
//
// On any error the pending file is removed and finalPath does not exist.
// The caller owns the committed file: if its follow-up state-store write
// fails, it must delete finalPath to keep file and row in step.
func (c *Client) SynthesizeToFile(ctx context.Context, text, voiceID, model, finalPath string, minDuration time.Duration) (Result, error) {
	pending, err := renameio.NewPendingFile(finalPath)
	if err != nil {
		return Result{}, fmt.Errorf("create pending mp3: %w", err)
	}
	// Cleanup is a no-op after a successful CloseAtomicallyReplace.
	defer func() {
		if err := pending.Cleanup(); err != nil {
			c.log.Debug().Err(err).Msg("cleanup pending mp3")
		}
	}()

	if err := c.Synthesize(ctx, text, voiceID, model, pending); err != nil {
		return Result{}, err
	}

	info, err := audio.Probe(ctx, pending.Name())
	if err != nil {
		return Result{}, fmt.Errorf("probe synthesized mp3: %w", err)
	}
	if dur := time.Duration(info.DurationSeconds * float64(time.Second)); dur < minDuration {
		return Result{}, fmt.Errorf("synthesized mp3 too short: %s < %s", dur.Round(time.Millisecond), minDuration)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return Result{}, fmt.Errorf("commit mp3: %w", err)
	}

	return Result{
		DurationSeconds: int(info.DurationSeconds + 0.5),
		SizeBytes:       info.SizeBytes,
	}, nil
}
