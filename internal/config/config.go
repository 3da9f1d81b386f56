package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "vapai.db"
	defaultComfyURL     = "http://127.0.0.1:8188"
	defaultMediaDir     = "media"
	defaultPollInterval = 3 * time.Second
	defaultMaxWait      = 10 * time.Minute
	defaultFeedTTL      = 30 * time.Second

	envListenAddr   = "VAPAI_LISTEN_ADDR"
	envDBPath       = "VAPAI_DB_PATH"
	envLogLevel     = "VAPAI_LOG_LEVEL"
	envComfyURL     = "VAPAI_COMFY_URL"
	envAuthURL      = "VAPAI_AUTH_URL"
	envRefreshToken = "VAPAI_REFRESH_TOKEN"
	envMediaDir     = "VAPAI_MEDIA_DIR"
	envPollInterval = "VAPAI_POLL_INTERVAL_S"
	envMaxWait      = "VAPAI_MAX_WAIT_S"
	envFeedTTL      = "VAPAI_FEED_TTL_S"
)

// Config holds application configuration. Defaults are overridden by an
// optional TOML file, which is in turn overridden by environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	ComfyURL     string
	AuthURL      string
	RefreshToken string
	MediaDir     string
	PollInterval time.Duration
	MaxWait      time.Duration
	// MaxWaitByKind overrides the budget per job kind; video generation is
	// given longer than single images.
	MaxWaitByKind map[string]time.Duration
	FeedTTL       time.Duration
}

// fileConfig is the TOML representation. Durations are whole seconds.
type fileConfig struct {
	ListenAddr     string         `toml:"listen_addr"`
	DBPath         string         `toml:"db_path"`
	LogLevel       string         `toml:"log_level"`
	ComfyURL       string         `toml:"comfy_url"`
	AuthURL        string         `toml:"auth_url"`
	RefreshToken   string         `toml:"refresh_token"`
	MediaDir       string         `toml:"media_dir"`
	PollIntervalS  int            `toml:"poll_interval_s"`
	MaxWaitS       int            `toml:"max_wait_s"`
	MaxWaitByKindS map[string]int `toml:"max_wait_by_kind_s"`
	FeedTTLS       int            `toml:"feed_ttl_s"`
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		ComfyURL:     defaultComfyURL,
		MediaDir:     defaultMediaDir,
		PollInterval: defaultPollInterval,
		MaxWait:      defaultMaxWait,
		FeedTTL:      defaultFeedTTL,
	}

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.ComfyURL != "" {
		cfg.ComfyURL = fc.ComfyURL
	}
	if fc.AuthURL != "" {
		cfg.AuthURL = fc.AuthURL
	}
	if fc.RefreshToken != "" {
		cfg.RefreshToken = fc.RefreshToken
	}
	if fc.MediaDir != "" {
		cfg.MediaDir = fc.MediaDir
	}
	if fc.PollIntervalS > 0 {
		cfg.PollInterval = time.Duration(fc.PollIntervalS) * time.Second
	}
	if fc.MaxWaitS > 0 {
		cfg.MaxWait = time.Duration(fc.MaxWaitS) * time.Second
	}
	if fc.FeedTTLS > 0 {
		cfg.FeedTTL = time.Duration(fc.FeedTTLS) * time.Second
	}
	if len(fc.MaxWaitByKindS) > 0 {
		cfg.MaxWaitByKind = make(map[string]time.Duration, len(fc.MaxWaitByKindS))
		for kind, s := range fc.MaxWaitByKindS {
			cfg.MaxWaitByKind[kind] = time.Duration(s) * time.Second
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envComfyURL); v != "" {
		cfg.ComfyURL = v
	}
	if v := os.Getenv(envAuthURL); v != "" {
		cfg.AuthURL = v
	}
	if v := os.Getenv(envRefreshToken); v != "" {
		cfg.RefreshToken = v
	}
	if v := os.Getenv(envMediaDir); v != "" {
		cfg.MediaDir = v
	}
	if d := envSeconds(envPollInterval); d > 0 {
		cfg.PollInterval = d
	}
	if d := envSeconds(envMaxWait); d > 0 {
		cfg.MaxWait = d
	}
	if d := envSeconds(envFeedTTL); d > 0 {
		cfg.FeedTTL = d
	}
}

func envSeconds(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	s, err := strconv.Atoi(v)
	if err != nil || s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
