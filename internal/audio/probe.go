package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Info is the probed shape of an audio file.
type Info struct {
	DurationSeconds float64
	SizeBytes       int64
}

// Probe inspects path with ffprobe and returns its duration and size.
// A file ffprobe cannot frame as audio is an error, as is a zero duration;
// the TTS commit protocol relies on this to reject truncated output.
func Probe(ctx context.Context, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration,size",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}
	return parseProbeOutput(out)
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

func parseProbeOutput(out []byte) (Info, error) {
	var pf probeFormat
	if err := json.Unmarshal(out, &pf); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	dur, err := strconv.ParseFloat(pf.Format.Duration, 64)
	if err != nil || dur <= 0 {
		return Info{}, fmt.Errorf("ffprobe reported invalid duration %q", pf.Format.Duration)
	}
	size, err := strconv.ParseInt(pf.Format.Size, 10, 64)
	if err != nil || size <= 0 {
		return Info{}, fmt.Errorf("ffprobe reported invalid size %q", pf.Format.Size)
	}

	return Info{DurationSeconds: dur, SizeBytes: size}, nil
}
