// Package config reads the process environment into one validated
// struct. A .env file in the working directory is loaded first when
// present, so local runs do not need exported variables.
package config

import (
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// Config carries every knob both binaries read. Durations are already
// converted from the second/hour granularity of the environment.
type Config struct {
	HTTPAddr    string `validate:"required"`
	DatabaseURL string `validate:"required"`
	RedisURL    string `validate:"required"`

	S3Endpoint  string `validate:"required"`
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string `validate:"required"`
	S3UseSSL    bool
	PresignTTL  time.Duration `validate:"gt=0"`

	Concurrency     int           `validate:"min=1"`
	MaxRetries      int           `validate:"min=0"`
	BackoffFactor   float64       `validate:"gt=0"`
	JobTimeout      time.Duration `validate:"gt=0"`
	ArtifactTTL     time.Duration `validate:"min=0"` // 0 keeps artifacts forever
	JanitorSchedule string

	LogLevel  string
	LogPretty bool
}

// Load builds the Config from the environment with the documented
// defaults. Only DATABASE_URL has no default.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:    envStr("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    envStr("REDIS_URL", "redis://localhost:6379/0"),

		S3Endpoint:  envStr("S3_ENDPOINT", "localhost:9000"),
		S3Region:    envStr("S3_REGION", "us-east-1"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    envStr("S3_BUCKET", "artifacts"),
		S3UseSSL:    envBool("S3_USE_SSL", false),
		PresignTTL:  time.Duration(envInt("S3_PRESIGNED_TTL_SECONDS", 900)) * time.Second,

		Concurrency:     envInt("WORKER_CONCURRENCY", 1),
		MaxRetries:      envInt("MAX_RETRIES", 3),
		BackoffFactor:   envFloat("BACKOFF_FACTOR", 2),
		JobTimeout:      time.Duration(envInt("JOB_TIMEOUT_SECONDS", 300)) * time.Second,
		ArtifactTTL:     time.Duration(envInt("ARTIFACT_TTL_HOURS", 0)) * time.Hour,
		JanitorSchedule: envStr("JANITOR_INTERVAL", "@hourly"),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogPretty: envBool("LOG_PRETTY", false),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, model.WrapErr(model.FailureInvalidInput, err, "config")
	}
	return cfg, nil
}

// Logger builds the process logger: console writer when pretty, JSON
// to stderr otherwise. Unknown levels fall back to info.
func (c Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if c.LogPretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Debug reports whether SQL echo and other verbose paths should be on.
func (c Config) Debug() bool {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "trace":
		return true
	}
	return false
}

// RedactedDatabaseURL hides the password for boot logs.
func (c Config) RedactedDatabaseURL() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil || u.Scheme == "" {
		return c.DatabaseURL
	}
	return u.Redacted()
}

// Malformed values fall back to the default; range checks happen in
// Load through the struct tags.

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
