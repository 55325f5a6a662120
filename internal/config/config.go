package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the infrastructure bootstrap read from the environment:
// connection strings, credentials, directories, listen addresses.
// Pipeline tunables never live here; those come from the web_settings
// table (see the settings package).
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`

	TranscribeProvider string        `env:"TRANSCRIBE_PROVIDER" envDefault:"whisper"`
	WhisperURL         string        `env:"WHISPER_URL" envDefault:"http://localhost:9000/v1/audio/transcriptions"`
	WhisperModel       string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	WhisperTimeout     time.Duration `env:"WHISPER_TIMEOUT" envDefault:"10m"`
	DeepInfraAPIKey    string        `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel     string        `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`

	FeedTimeout          time.Duration `env:"FEED_TIMEOUT" envDefault:"1m"`
	DownloadTimeout      time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"10m"`
	TTSTimeout           time.Duration `env:"TTS_TIMEOUT" envDefault:"5m"`
	TTSRequestsPerMinute int           `env:"TTS_REQUESTS_PER_MINUTE" envDefault:"30"`

	ArtifactBackend string   `env:"ARTIFACT_BACKEND" envDefault:"github"`
	GitHubToken     string   `env:"GITHUB_TOKEN"`
	GitHubRepo      string   `env:"GITHUB_REPO"`
	S3              S3Config `envPrefix:"S3_"`

	StagingDir    string `env:"STAGING_DIR" envDefault:"./staging"`
	AudioCacheDir string `env:"AUDIO_CACHE_DIR" envDefault:"./audio-cache"`
	LogDir        string `env:"LOG_DIR" envDefault:"./logs"`

	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	LegacyFeedPath string        `env:"LEGACY_FEED_PATH"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// S3Config configures the S3 artifact backend. PublicBaseURL is the
// externally reachable prefix enclosure URLs are built from; the bucket
// must be publicly readable under it.
type S3Config struct {
	Endpoint      string `env:"ENDPOINT"`
	Region        string `env:"REGION" envDefault:"us-east-1"`
	Bucket        string `env:"BUCKET"`
	Prefix        string `env:"PREFIX"`
	AccessKey     string `env:"ACCESS_KEY"`
	SecretKey     string `env:"SECRET_KEY"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	DatabaseURL string
	HTTPAddr    string
	LogLevel    string
	StagingDir  string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.StagingDir != "" {
		cfg.StagingDir = overrides.StagingDir
	}

	return cfg, nil
}
