package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the pushcall device agent.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string        // log output format: "text" or "json"
	CallTimeout time.Duration // how long an unanswered call prompt stays up
	Ringtone    string        // path to a G.711 WAV ringtone; synthesized if empty
	AudioDevice string        // audio sink path; ringing is silent if empty
	RedisAddr   string        // shared claim store for multi-process hosts
	ClaimTTL    time.Duration // how long a resolved call id stays claimed
	Foreground  bool          // start with the app in the foreground
}

// defaults
const (
	defaultDataDir     = "./data"
	defaultHTTPPort    = 8090
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
	defaultCallTimeout = 30 * time.Second
	defaultClaimTTL    = 10 * time.Minute
)

// envPrefix is the prefix for all pushcall environment variables.
const envPrefix = "PUSHCALL_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with an explicit argument list.
func LoadArgs(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("pushcall", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the notification history database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP API listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", defaultCallTimeout, "time before an unanswered call resolves as timed out")
	fs.StringVar(&cfg.Ringtone, "ringtone", "", "path to a G.711 u-law/a-law 8kHz mono WAV ringtone (default: synthesized ring)")
	fs.StringVar(&cfg.AudioDevice, "audio-device", "", "path of the audio sink the ringer writes to (empty disables audio)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for cross-process call resolution claims (empty uses in-memory claims)")
	fs.DurationVar(&cfg.ClaimTTL, "claim-ttl", defaultClaimTTL, "how long a resolved call id is remembered")
	fs.BoolVar(&cfg.Foreground, "foreground", false, "start with the app in the foreground (calls use in-app screens)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":     envPrefix + "DATA_DIR",
		"http-port":    envPrefix + "HTTP_PORT",
		"log-level":    envPrefix + "LOG_LEVEL",
		"log-format":   envPrefix + "LOG_FORMAT",
		"call-timeout": envPrefix + "CALL_TIMEOUT",
		"ringtone":     envPrefix + "RINGTONE",
		"audio-device": envPrefix + "AUDIO_DEVICE",
		"redis-addr":   envPrefix + "REDIS_ADDR",
		"claim-ttl":    envPrefix + "CLAIM_TTL",
		"foreground":   envPrefix + "FOREGROUND",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "call-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.CallTimeout = v
			}
		case "ringtone":
			cfg.Ringtone = val
		case "audio-device":
			cfg.AudioDevice = val
		case "redis-addr":
			cfg.RedisAddr = val
		case "claim-ttl":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.ClaimTTL = v
			}
		case "foreground":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.Foreground = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call-timeout must be positive, got %s", c.CallTimeout)
	}
	// A claim must outlive the prompt it arbitrates, otherwise a late tap on a
	// timed-out call could win a second time.
	if c.ClaimTTL < c.CallTimeout {
		return fmt.Errorf("claim-ttl (%s) must not be shorter than call-timeout (%s)", c.ClaimTTL, c.CallTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
