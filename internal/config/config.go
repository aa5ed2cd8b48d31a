package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds every knob of the unsubscribe agent. Values come from the
// environment (optionally seeded from .env by the caller).
type Config struct {
	AppEnv string

	Headless          bool
	BrowserWSEndpoint string
	SlowMo            time.Duration
	NavTimeout        time.Duration
	ActionTimeout     time.Duration
	ScreenshotDir     string

	DatabasePath     string
	DefaultUserEmail string

	BulkDelay         time.Duration
	BulkMaxConcurrent int
	RetryMaxAttempts  int
	RetryDelay        time.Duration

	HTTPAddr string
	LogLevel string
	LogJSON  bool
}

// Production reports whether the lean production browser profile applies.
func (c Config) Production() bool {
	return c.AppEnv == EnvProduction
}

func FromEnv() Config {
	appEnv := strings.ToLower(stringEnv("APP_ENV", EnvDevelopment))
	if appEnv != EnvProduction {
		appEnv = EnvDevelopment
	}
	return Config{
		AppEnv:            appEnv,
		Headless:          boolEnv("AGENT_HEADLESS", appEnv == EnvProduction),
		BrowserWSEndpoint: stringEnv("BROWSER_WS_ENDPOINT", ""),
		SlowMo:            time.Duration(intEnv("BROWSER_SLOWMO_MS", 100)) * time.Millisecond,
		NavTimeout:        durationEnv("NAV_TIMEOUT", 30*time.Second),
		ActionTimeout:     durationEnv("ACTION_TIMEOUT", 3*time.Second),
		ScreenshotDir:     stringEnv("SCREENSHOT_DIR", "screenshots"),
		DatabasePath:      stringEnv("DATABASE_PATH", "unsubscribe.db"),
		DefaultUserEmail:  stringEnv("DEFAULT_USER_EMAIL", ""),
		BulkDelay:         time.Duration(intEnv("BULK_DELAY_MS", 2000)) * time.Millisecond,
		BulkMaxConcurrent: intEnv("BULK_MAX_CONCURRENT", 3),
		RetryMaxAttempts:  intEnv("RETRY_MAX_ATTEMPTS", 3),
		RetryDelay:        durationEnv("RETRY_DELAY", 3*time.Second),
		HTTPAddr:          stringEnv("HTTP_ADDR", ":8080"),
		LogLevel:          stringEnv("LOG_LEVEL", "info"),
		LogJSON:           boolEnv("LOG_JSON", false),
	}
}

func stringEnv(name, def string) string {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	return strings.Trim(val, "\"'")
}

func boolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func intEnv(name string, def int) int {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// durationEnv accepts Go durations ("45s") or bare milliseconds ("45000").
func durationEnv(name string, def time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
