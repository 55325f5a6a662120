// Package pipeline orchestrates the six digest phases: discovery, audio,
// digest, tts, publishing, retention. Each phase reads its work from the
// state store, so any phase can be run alone and a crashed run's leftovers
// are picked up by the next one.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/podbrief/podbrief/internal/artifact"
	"github.com/podbrief/podbrief/internal/config"
	"github.com/podbrief/podbrief/internal/metrics"
	"github.com/podbrief/podbrief/internal/settings"
)

// Canonical phase names in execution order.
const (
	PhaseDiscovery  = "discovery"
	PhaseAudio      = "audio"
	PhaseDigest     = "digest"
	PhaseTTS        = "tts"
	PhasePublishing = "publishing"
	PhaseRetention  = "retention"
)

var phaseOrder = []string{
	PhaseDiscovery, PhaseAudio, PhaseDigest, PhaseTTS, PhasePublishing, PhaseRetention,
}

// ParsePhases validates a comma-separated phase selection and returns it in
// canonical order. An empty selection means every phase.
func ParsePhases(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return phaseOrder, nil
	}

	requested := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		known := false
		for _, p := range phaseOrder {
			if p == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown phase %q (valid: %s)", name, strings.Join(phaseOrder, ", "))
		}
		requested[name] = true
	}
	if len(requested) == 0 {
		return phaseOrder, nil
	}

	var selected []string
	for _, p := range phaseOrder {
		if requested[p] {
			selected = append(selected, p)
		}
	}
	return selected, nil
}

// Options controls one pipeline run.
type Options struct {
	Phases []string // canonical-order subset; nil/empty = all
	Limit  int      // caps per-phase item selection; 0 = settings defaults
	DryRun bool     // plan only: selection queries run, nothing mutates
}

// Deps carries everything a pipeline run operates on.
type Deps struct {
	Store       Store
	Settings    *settings.Settings
	Config      *config.Config
	Feeds       FeedFetcher
	Audio       AudioProcessor
	Transcriber Transcriber
	LLM         LLM
	TTS         Synthesizer
	Host        artifact.Host
	Log         zerolog.Logger
}

// Orchestrator runs pipeline phases in their fixed order.
type Orchestrator struct {
	store       Store
	set         *settings.Settings
	cfg         *config.Config
	feeds       FeedFetcher
	audio       AudioProcessor
	transcriber Transcriber
	llm         LLM
	tts         Synthesizer
	host        artifact.Host
	log         zerolog.Logger

	now func() time.Time
}

// New creates an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		store:       d.Store,
		set:         d.Settings,
		cfg:         d.Config,
		feeds:       d.Feeds,
		audio:       d.Audio,
		transcriber: d.Transcriber,
		llm:         d.LLM,
		tts:         d.TTS,
		host:        d.Host,
		log:         d.Log.With().Str("component", "pipeline").Logger(),
		now:         time.Now,
	}
}

// Run executes the selected phases in canonical order. A phase failure skips
// every later phase except retention, which always runs when selected so disk
// and row cleanup cannot be starved by a flaky upstream dependency. The
// report covers every selected phase either way.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunReport, error) {
	phases := opts.Phases
	if len(phases) == 0 {
		phases = phaseOrder
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: o.now().UTC(),
		DryRun:    opts.DryRun,
	}

	log := o.log.With().Str("run_id", report.RunID).Logger()
	log.Info().Strs("phases", phases).Bool("dry_run", opts.DryRun).Msg("pipeline run starting")

	var runErr error
	for _, phase := range phases {
		rep := newPhaseReport(phase)
		report.Phases = append(report.Phases, rep)

		if runErr != nil && phase != PhaseRetention {
			rep.Skipped = true
			continue
		}

		rep.StartedAt = o.now().UTC()
		err := o.runPhase(ctx, phase, opts, rep)
		rep.EndedAt = o.now().UTC()
		metrics.PhaseDuration.WithLabelValues(phase).Observe(rep.EndedAt.Sub(rep.StartedAt).Seconds())

		ev := log.Info().Str("phase", phase).Dur("took", rep.EndedAt.Sub(rep.StartedAt))
		for k, v := range rep.Counts {
			ev = ev.Int(k, v)
		}
		if err != nil {
			rep.Error = err.Error()
			if runErr == nil {
				runErr = fmt.Errorf("phase %s: %w", phase, err)
				report.Failed = phase
			}
			log.Error().Err(err).Str("phase", phase).Msg("phase failed")
			ev.Discard()
			continue
		}
		ev.Msg("phase complete")
	}

	report.EndedAt = o.now().UTC()
	return report, runErr
}

func (o *Orchestrator) runPhase(ctx context.Context, phase string, opts Options, rep *PhaseReport) error {
	switch phase {
	case PhaseDiscovery:
		return o.runDiscovery(ctx, o.store, opts, rep)
	case PhaseAudio:
		return o.runAudio(ctx, o.store, opts, rep)
	case PhaseDigest:
		return o.runDigest(ctx, o.store, opts, rep)
	case PhaseTTS:
		return o.runTTS(ctx, o.store, opts, rep)
	case PhasePublishing:
		return o.runPublishing(ctx, o.store, opts, rep)
	case PhaseRetention:
		return o.runRetention(ctx, o.store, opts, rep)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// today returns midnight of the current day in the display timezone,
// normalized to UTC for use as a DATE value.
func (o *Orchestrator) today() time.Time {
	loc := o.set.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := o.now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// itemLimit applies the CLI --limit cap on top of a settings default.
func itemLimit(settingsLimit, optsLimit int) int {
	if optsLimit > 0 && (settingsLimit <= 0 || optsLimit < settingsLimit) {
		return optsLimit
	}
	return settingsLimit
}
