// Package config loads assistant settings from a .env file, the process
// environment and command-line flags, in that order of increasing priority.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDeepgramAPIKey  = "DEEPGRAM_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvDeepgramURL     = "ASSIST_DEEPGRAM_URL"
	EnvModel           = "ASSIST_MODEL"
	EnvLanguage        = "ASSIST_LANGUAGE"
	EnvSampleRate      = "ASSIST_SAMPLE_RATE"
	EnvEndpointing     = "ASSIST_ENDPOINTING_MS"
	EnvKeepAliveEvery  = "ASSIST_KEEPALIVE_EVERY"
	EnvFinalizeTimeout = "ASSIST_FINALIZE_TIMEOUT"
	EnvCloseTimeout    = "ASSIST_CLOSE_TIMEOUT"
	EnvLoopback        = "ASSIST_LOOPBACK"
	EnvDevice          = "ASSIST_DEVICE"
	EnvRecordDir       = "ASSIST_RECORD_DIR"
	EnvChatModel       = "ASSIST_CHAT_MODEL"
	EnvOpenAIBaseURL   = "ASSIST_OPENAI_BASE_URL"
	EnvLogFile         = "ASSIST_LOG_FILE"
	EnvLogLevel        = "ASSIST_LOG_LEVEL"
)

var envKeys = []string{
	EnvDeepgramAPIKey, EnvOpenAIAPIKey, EnvDeepgramURL,
	EnvModel, EnvLanguage, EnvSampleRate, EnvEndpointing, EnvKeepAliveEvery,
	EnvFinalizeTimeout, EnvCloseTimeout,
	EnvLoopback, EnvDevice, EnvRecordDir,
	EnvChatModel, EnvOpenAIBaseURL,
	EnvLogFile, EnvLogLevel,
}

// Config holds configurable parameters. Tags name the environment variable
// each field is read from.
type Config struct {
	DeepgramAPIKey string `mapstructure:"DEEPGRAM_API_KEY"`
	OpenAIAPIKey   string `mapstructure:"OPENAI_API_KEY"`
	DeepgramURL    string `mapstructure:"ASSIST_DEEPGRAM_URL"`

	Model           string        `mapstructure:"ASSIST_MODEL"`
	Language        string        `mapstructure:"ASSIST_LANGUAGE"`
	SampleRate      int           `mapstructure:"ASSIST_SAMPLE_RATE"`
	EndpointingMs   int           `mapstructure:"ASSIST_ENDPOINTING_MS"`
	KeepAliveEvery  int           `mapstructure:"ASSIST_KEEPALIVE_EVERY"`
	FinalizeTimeout time.Duration `mapstructure:"ASSIST_FINALIZE_TIMEOUT"`
	CloseTimeout    time.Duration `mapstructure:"ASSIST_CLOSE_TIMEOUT"`

	Loopback  bool   `mapstructure:"ASSIST_LOOPBACK"`
	Device    string `mapstructure:"ASSIST_DEVICE"`
	RecordDir string `mapstructure:"ASSIST_RECORD_DIR"`

	ChatModel     string `mapstructure:"ASSIST_CHAT_MODEL"`
	OpenAIBaseURL string `mapstructure:"ASSIST_OPENAI_BASE_URL"`

	LogFile  string `mapstructure:"ASSIST_LOG_FILE"`
	LogLevel string `mapstructure:"ASSIST_LOG_LEVEL"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DeepgramURL:     "wss://api.deepgram.com/v1/listen",
		Model:           "nova-2",
		Language:        "en-US",
		SampleRate:      16000,
		EndpointingMs:   10000,
		KeepAliveEvery:  5,
		FinalizeTimeout: 2 * time.Second,
		CloseTimeout:    5 * time.Second,
		Loopback:        true,
		ChatModel:       "gpt-4o-mini",
		LogFile:         "debug.log",
		LogLevel:        "debug",
	}
}

// Load reads envFile (a missing file is not an error) into the process
// environment and builds a Config from defaults overridden by the
// environment. Variables already set in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from defaults overridden by getenv. Values are
// decoded by viper, so durations take time.ParseDuration syntax.
func FromEnv(getenv func(string) string) (Config, error) {
	v := viper.New()
	for _, key := range envKeys {
		if val := strings.TrimSpace(getenv(key)); val != "" {
			v.Set(key, val)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// BindFlags registers a flag for every setting, using the current values of
// cfg as defaults, so flags parsed afterwards override the environment.
func BindFlags(flags *flag.FlagSet, cfg *Config) {
	flags.StringVar(&cfg.DeepgramAPIKey, "deepgram-key", cfg.DeepgramAPIKey, "Deepgram API key (or "+EnvDeepgramAPIKey+")")
	flags.StringVar(&cfg.OpenAIAPIKey, "openai-key", cfg.OpenAIAPIKey, "OpenAI API key (or "+EnvOpenAIAPIKey+")")
	flags.StringVar(&cfg.DeepgramURL, "deepgram-url", cfg.DeepgramURL, "Deepgram live endpoint")
	flags.StringVar(&cfg.Model, "model", cfg.Model, "Deepgram model")
	flags.StringVar(&cfg.Language, "language", cfg.Language, "Transcription language")
	flags.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Capture sample rate in Hz")
	flags.IntVar(&cfg.EndpointingMs, "endpointing", cfg.EndpointingMs, "Silence in ms that ends an utterance (negative disables)")
	flags.IntVar(&cfg.KeepAliveEvery, "keepalive-every", cfg.KeepAliveEvery, "Send KeepAlive every N audio chunks (negative disables)")
	flags.DurationVar(&cfg.FinalizeTimeout, "finalize-timeout", cfg.FinalizeTimeout, "Wait for the finalized result on stop")
	flags.DurationVar(&cfg.CloseTimeout, "close-timeout", cfg.CloseTimeout, "Wait for the server to close the stream on stop")
	flags.BoolVar(&cfg.Loopback, "loopback", cfg.Loopback, "Capture system output instead of the microphone")
	flags.StringVar(&cfg.Device, "device", cfg.Device, "Capture device name (default device if empty)")
	flags.StringVar(&cfg.RecordDir, "record-dir", cfg.RecordDir, "Directory for WAV copies of each call")
	flags.StringVar(&cfg.ChatModel, "chat-model", cfg.ChatModel, "OpenAI chat model")
	flags.StringVar(&cfg.OpenAIBaseURL, "openai-url", cfg.OpenAIBaseURL, "OpenAI API base URL")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Rotating debug log file (empty disables)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
}

// Validate verifies config fields and returns an error if any value is invalid.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.DeepgramAPIKey == "" {
		errs = append(errs, fmt.Errorf("missing Deepgram API key (set %s or -deepgram-key)", EnvDeepgramAPIKey))
	}
	if cfg.OpenAIAPIKey == "" {
		errs = append(errs, fmt.Errorf("missing OpenAI API key (set %s or -openai-key)", EnvOpenAIAPIKey))
	}
	if cfg.SampleRate < 8000 || cfg.SampleRate > 48000 {
		errs = append(errs, fmt.Errorf("invalid sample rate: %d (allowed 8000..48000)", cfg.SampleRate))
	}
	if cfg.FinalizeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid finalize timeout: %s (must be > 0)", cfg.FinalizeTimeout))
	}
	if cfg.CloseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid close timeout: %s (must be > 0)", cfg.CloseTimeout))
	}
	if !strings.HasPrefix(cfg.DeepgramURL, "ws://") && !strings.HasPrefix(cfg.DeepgramURL, "wss://") {
		errs = append(errs, fmt.Errorf("invalid Deepgram URL: %q (must be ws:// or wss://)", cfg.DeepgramURL))
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q", name)
	}
	return level, nil
}
