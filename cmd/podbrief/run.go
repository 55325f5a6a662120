package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	podbrief "github.com/podbrief/podbrief"
	"github.com/podbrief/podbrief/internal/artifact"
	"github.com/podbrief/podbrief/internal/audio"
	"github.com/podbrief/podbrief/internal/config"
	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/feeds"
	"github.com/podbrief/podbrief/internal/llm"
	"github.com/podbrief/podbrief/internal/pipeline"
	"github.com/podbrief/podbrief/internal/settings"
	"github.com/podbrief/podbrief/internal/transcribe"
	"github.com/podbrief/podbrief/internal/tts"
)

func newRunCmd() *cobra.Command {
	var (
		phasesFlag string
		limit      int
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute pipeline phases and print a JSON run report",
		Long: `Run executes the selected pipeline phases in their fixed order:
discovery, audio, digest, tts, publishing, retention. Every phase is
idempotent, so re-running after a crash or partial failure picks up
exactly the work that is left.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			phases, err := pipeline.ParsePhases(phasesFlag)
			if err != nil {
				return fmt.Errorf("%w: %v", errBadConfig, err)
			}
			return runPipeline(pipeline.Options{Phases: phases, Limit: limit, DryRun: dryRun})
		},
	}
	cmd.Flags().StringVar(&phasesFlag, "phases", "", "comma-separated phase subset (default: all)")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap items per phase (0 = settings default)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would happen without mutating anything")
	return cmd
}

func runPipeline(opts pipeline.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Structured logs go to stderr and a per-day file; stdout stays
	// reserved for the machine-readable run report.
	logW := io.Writer(os.Stderr)
	if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
		name := filepath.Join(cfg.LogDir, "pipeline-"+time.Now().Format("20060102")+".log")
		if f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			defer f.Close()
			logW = io.MultiWriter(os.Stderr, f)
		}
	}
	log := newLogger(logW, cfg.LogLevel)
	log.Info().Str("version", version).Bool("dry_run", opts.DryRun).Msg("podbrief run starting")

	if err := audio.CheckFFmpeg(); err != nil {
		return fmt.Errorf("%w: %v", errBadConfig, err)
	}
	if err := checkPhaseCredentials(cfg, opts.Phases); err != nil {
		return err
	}
	for _, dir := range []string{cfg.StagingDir, cfg.AudioCacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx, podbrief.SchemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	rows, err := db.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	set, err := settings.Load(rows)
	if err != nil {
		return err
	}

	provider, err := transcribeProvider(cfg)
	if err != nil {
		return err
	}

	llmClient, err := llm.NewClient(ctx, cfg.GeminiAPIKey, log)
	if err != nil {
		return fmt.Errorf("%w: create llm client: %v", errBadConfig, err)
	}

	host, err := artifact.New(cfg, log)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadConfig, err)
	}

	orch := pipeline.New(pipeline.Deps{
		Store:       db,
		Settings:    set,
		Config:      cfg,
		Feeds:       feeds.NewClient(cfg.FeedTimeout),
		Audio:       audio.NewProcessor(cfg.DownloadTimeout, log),
		Transcriber: transcribe.NewEpisodeTranscriber(provider, db, log),
		LLM:         llmClient,
		TTS:         tts.NewClient(cfg.ElevenLabsAPIKey, cfg.TTSTimeout, cfg.TTSRequestsPerMinute, log),
		Host:        host,
		Log:         log,
	})

	report, runErr := orch.Run(ctx, opts)
	if err := report.WriteJSON(os.Stdout); err != nil {
		log.Error().Err(err).Msg("write run report")
	}
	return runErr
}

// checkPhaseCredentials fails fast on secrets a selected phase cannot run
// without, instead of surfacing them mid-run as per-item failures.
func checkPhaseCredentials(cfg *config.Config, phases []string) error {
	for _, p := range phases {
		if p == pipeline.PhaseTTS && cfg.ElevenLabsAPIKey == "" {
			return fmt.Errorf("%w: ELEVENLABS_API_KEY is required for the tts phase", errBadConfig)
		}
	}
	return nil
}

// transcribeProvider selects the configured transcription backend.
func transcribeProvider(cfg *config.Config) (transcribe.Provider, error) {
	switch cfg.TranscribeProvider {
	case "whisper":
		return transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout), nil
	case "deepinfra":
		if cfg.DeepInfraAPIKey == "" {
			return nil, fmt.Errorf("%w: DEEPINFRA_API_KEY is required for the deepinfra provider", errBadConfig)
		}
		return transcribe.NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, cfg.WhisperTimeout), nil
	default:
		return nil, fmt.Errorf("%w: unknown transcribe provider %q", errBadConfig, cfg.TranscribeProvider)
	}
}
