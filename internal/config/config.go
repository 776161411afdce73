// Package config loads service settings from the environment, with an optional
// YAML file for pipeline tuning.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv         string `env:"APP_ENV" envDefault:"development"`
	Port           string `env:"PORT" envDefault:"8083"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173"`

	// STORE_TYPE selects the record store: postgres, mongo or memory.
	StoreType     string        `env:"STORE_TYPE" envDefault:"postgres"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	MongoURI      string        `env:"MONGODB_URI"`
	MongoDatabase string        `env:"MONGODB_DATABASE" envDefault:"visualizer"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// STORAGE_TYPE selects where generated artifacts are published: local or s3.
	StorageType string `env:"STORAGE_TYPE" envDefault:"local"`
	ArtifactDir string `env:"ARTIFACT_DIR" envDefault:"./artifacts"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8083"`
	AWSBucket   string `env:"AWS_BUCKET"`
	AWSRegion   string `env:"AWS_REGION"`

	JWTSecret string `env:"AUTH_JWT_SECRET"`

	// Nested sections are pointers so env.Parse descends into them.
	Log      *LogConfig
	Pipeline *PipelineConfig
	// PipelineFile is a YAML file whose values override Pipeline.
	PipelineFile string `env:"PIPELINE_CONFIG"`
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"text"`
	Output     string `env:"LOG_OUTPUT" envDefault:"stdout"`
	Path       string `env:"LOG_PATH" envDefault:"./logs"`
	MaxSize    int    `env:"LOG_MAX_SIZE" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	MaxAge     int    `env:"LOG_MAX_AGE" envDefault:"30"`
	Compress   bool   `env:"LOG_COMPRESS" envDefault:"true"`
}

// PipelineConfig tunes the generation stages.
type PipelineConfig struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY" yaml:"-"`
	ScriptModel  string `env:"SCRIPT_MODEL" envDefault:"gemini-1.5-flash" yaml:"script_model"`

	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY" yaml:"-"`
	ElevenLabsBaseURL string `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io" yaml:"elevenlabs_base_url"`
	DefaultVoice      string `env:"ELEVENLABS_VOICE_ID" envDefault:"21m00Tcm4TlvDq8AMTkR" yaml:"default_voice"`
	SpeechModel       string `env:"ELEVENLABS_MODEL" envDefault:"eleven_multilingual_v2" yaml:"speech_model"`

	CodeAPIKey  string `env:"OPENROUTER_API_KEY" yaml:"-"`
	CodeBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1" yaml:"code_base_url"`
	CodeModel   string `env:"CODE_MODEL" envDefault:"openai/gpt-4o" yaml:"code_model"`

	RenderURL   string `env:"RENDER_SERVICE_URL" envDefault:"http://localhost:8000" yaml:"render_url"`
	RenderToken string `env:"RENDER_SERVICE_TOKEN" yaml:"-"`

	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg" yaml:"ffmpeg_path"`

	DefaultAudioDurationSeconds float64 `env:"DEFAULT_AUDIO_DURATION_SECONDS" envDefault:"60" yaml:"default_audio_duration_seconds"`
	WordsPerMinute              float64 `env:"NARRATION_WORDS_PER_MINUTE" envDefault:"150" yaml:"narration_words_per_minute"`

	ScriptTimeout  time.Duration `env:"SCRIPT_TIMEOUT" envDefault:"60s" yaml:"script_timeout"`
	AudioTimeout   time.Duration `env:"AUDIO_TIMEOUT" envDefault:"60s" yaml:"audio_timeout"`
	CodeTimeout    time.Duration `env:"CODE_TIMEOUT" envDefault:"90s" yaml:"code_timeout"`
	RenderTimeout  time.Duration `env:"RENDER_TIMEOUT" envDefault:"300s" yaml:"render_timeout"`
	CombineTimeout time.Duration `env:"COMBINE_TIMEOUT" envDefault:"120s" yaml:"combine_timeout"`
	LeaseGrace     time.Duration `env:"LEASE_GRACE" envDefault:"30s" yaml:"lease_grace"`

	Workers   int `env:"PIPELINE_WORKERS" envDefault:"4" yaml:"workers"`
	QueueSize int `env:"PIPELINE_QUEUE_SIZE" envDefault:"8" yaml:"queue_size"`

	ResumeInterval   time.Duration `env:"RESUME_INTERVAL" envDefault:"1m" yaml:"resume_interval"`
	ResumeStaleAfter time.Duration `env:"RESUME_STALE_AFTER" envDefault:"2m" yaml:"resume_stale_after"`
	ResumeBatchSize  int           `env:"RESUME_BATCH_SIZE" envDefault:"50" yaml:"resume_batch_size"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads .env (outside production), parses the environment, applies the
// YAML pipeline overlay and validates the result.
func Load() (*Config, error) {
	// Production injects env vars through infra, so .env is a dev convenience.
	if os.Getenv("APP_ENV") != "production" {
		godotenv.Load()
	}

	cfg := &Config{Log: &LogConfig{}, Pipeline: &PipelineConfig{}}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.PipelineFile != "" {
		if err := cfg.Pipeline.overlay(cfg.PipelineFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay replaces fields present in the YAML file; absent keys keep their
// environment values.
func (p *PipelineConfig) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StoreType {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_TYPE=postgres")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_TYPE=mongo")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.StoreType)
	}

	switch c.StorageType {
	case "local":
	case "s3":
		if c.AWSBucket == "" || c.AWSRegion == "" {
			return fmt.Errorf("AWS_BUCKET and AWS_REGION are required when STORAGE_TYPE=s3")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.StorageType)
	}

	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS must be positive")
	}
	if c.Pipeline.DefaultAudioDurationSeconds <= 0 {
		return fmt.Errorf("DEFAULT_AUDIO_DURATION_SECONDS must be positive")
	}
	return nil
}
