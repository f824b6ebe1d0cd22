package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"alert-relay/internal/catalog"
	"alert-relay/internal/schedule"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Feed struct {
		URL                string
		RejectUnauthorized bool
		World              int
		RetryBackoff       time.Duration
	}
	Chat struct {
		Token          string
		ChannelID      string
		DebugChannelID string
		PingUser       string
		RateLimit      int
	}
	Window struct {
		Start    schedule.TimeOfDay
		End      schedule.TimeOfDay
		Location *time.Location
	}
	Alerts struct {
		ExcludedIDs []int
		TypesFile   string
		StaleGrace  time.Duration
		DisplayZone *time.Location
	}
	API struct {
		Addr string
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	var cfg Config
	var problems []string

	// Validate required settings
	missing := []string{}
	require := func(key string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	cfg.Feed.URL = require("SOCKET_URL")
	cfg.Chat.Token = require("TOKEN")
	cfg.Chat.ChannelID = require("CHANNEL")
	cfg.Chat.DebugChannelID = require("DEBUG_CHANNEL")
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	cfg.Chat.PingUser = strings.TrimSpace(getenv("PING_USER"))

	cfg.Feed.RejectUnauthorized = true
	if v := getenv("REJECT_UNAUTHORIZED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("REJECT_UNAUTHORIZED: %v", err))
		}
		cfg.Feed.RejectUnauthorized = b
	}

	world := withDefault(getenv("WORLD"), "13")
	if id, err := catalog.ResolveWorld(world); err != nil {
		problems = append(problems, fmt.Sprintf("WORLD: %v", err))
	} else {
		cfg.Feed.World = id
	}

	cfg.Feed.RetryBackoff = parseDuration(getenv, "RETRY_BACKOFF", 10*time.Minute, &problems)
	cfg.Alerts.StaleGrace = parseDuration(getenv, "STALE_GRACE", time.Hour+35*time.Minute, &problems)

	var err error
	if cfg.Window.Start, err = schedule.ParseTimeOfDay(withDefault(getenv("WINDOW_START"), "17:30")); err != nil {
		problems = append(problems, fmt.Sprintf("WINDOW_START: %v", err))
	}
	if cfg.Window.End, err = schedule.ParseTimeOfDay(withDefault(getenv("WINDOW_END"), "22:00")); err != nil {
		problems = append(problems, fmt.Sprintf("WINDOW_END: %v", err))
	}
	if cfg.Window.Location, err = time.LoadLocation(withDefault(getenv("WINDOW_TZ"), "UTC")); err != nil {
		problems = append(problems, fmt.Sprintf("WINDOW_TZ: %v", err))
	}
	if cfg.Alerts.DisplayZone, err = time.LoadLocation(withDefault(getenv("DISPLAY_TZ"), "Europe/Berlin")); err != nil {
		problems = append(problems, fmt.Sprintf("DISPLAY_TZ: %v", err))
	}

	if v := getenv("EXCLUDED_EVENT_IDS"); v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("EXCLUDED_EVENT_IDS: %v", err))
		}
		cfg.Alerts.ExcludedIDs = ids
	}
	cfg.Alerts.TypesFile = getenv("ALERT_TYPES_FILE")

	cfg.Chat.RateLimit = 1
	if v := getenv("TELEGRAM_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			problems = append(problems, fmt.Sprintf("TELEGRAM_RATE_LIMIT: must be a positive integer, got %q", v))
		}
		cfg.Chat.RateLimit = n
	}

	// Apply defaults
	cfg.API.Addr = withDefault(getenv("HEALTH_ADDR"), ":8080")
	cfg.Logging.Dir = withDefault(getenv("LOG_DIR"), "logs")
	cfg.Logging.Level = withDefault(getenv("LOG_LEVEL"), "info")

	if len(problems) > 0 {
		return Config{}, fmt.Errorf("invalid configurations: %s", strings.Join(problems, "; "))
	}
	if _, err := schedule.NewWindow(cfg.Window.Start, cfg.Window.End, cfg.Window.Location); err != nil {
		return Config{}, fmt.Errorf("invalid configurations: %w", err)
	}
	return cfg, nil
}

// TrackingWindow returns the configured daily window.
func (c Config) TrackingWindow() (schedule.Window, error) {
	return schedule.NewWindow(c.Window.Start, c.Window.End, c.Window.Location)
}

func withDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func parseDuration(getenv func(string) string, key string, def time.Duration, problems *[]string) time.Duration {
	v := getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s: must be a positive duration, got %q", key, v))
		return def
	}
	return d
}

func parseIDs(v string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid event id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
