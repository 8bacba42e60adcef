package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRequestTimeout     = 10 * time.Second
	DefaultFetchRetries       = 3
	DefaultFetchRetryDelay    = 5 * time.Second
	DefaultFetchBackoff       = BackoffFixed
	DefaultPostRetries        = 3
	DefaultPostBackoff        = 2 * time.Second
	DefaultDigestThreshold    = 5
	DefaultLookback           = 6 * time.Hour
	DefaultMaxPostLength      = 10000
	DefaultPostPause          = 1 * time.Second
	DefaultFetchWorkers       = 4
	DefaultDestinationWorkers = 1
	DefaultJournalPath        = ".feedcaster/journal.db"
	DefaultJournalRetainDays  = 90
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "console"

	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"

	// JournalOff disables the run journal when used as the journal path.
	JournalOff = "off"

	envPrefix = "FEEDCASTER_"
)

// Settings holds the process-wide tunables. They come from the environment,
// never from the sections file.
type Settings struct {
	RequestTimeout     time.Duration // every feed fetch and posting call
	FetchRetries       int
	FetchRetryDelay    time.Duration
	FetchBackoff       string
	PostRetries        int
	PostBackoff        time.Duration
	DigestThreshold    int
	Lookback           time.Duration
	MaxPostLength      int
	PostPause          time.Duration
	FetchWorkers       int
	DestinationWorkers int
	JournalPath        string
	JournalRetainDays  int
	LogLevel           zerolog.Level
	LogFormat          string
}

// DefaultSettings returns the tunables with hardcoded defaults.
func DefaultSettings() Settings {
	level, _ := zerolog.ParseLevel(DefaultLogLevel)

	return Settings{
		RequestTimeout:     DefaultRequestTimeout,
		FetchRetries:       DefaultFetchRetries,
		FetchRetryDelay:    DefaultFetchRetryDelay,
		FetchBackoff:       DefaultFetchBackoff,
		PostRetries:        DefaultPostRetries,
		PostBackoff:        DefaultPostBackoff,
		DigestThreshold:    DefaultDigestThreshold,
		Lookback:           DefaultLookback,
		MaxPostLength:      DefaultMaxPostLength,
		PostPause:          DefaultPostPause,
		FetchWorkers:       DefaultFetchWorkers,
		DestinationWorkers: DefaultDestinationWorkers,
		JournalPath:        DefaultJournalPath,
		JournalRetainDays:  DefaultJournalRetainDays,
		LogLevel:           level,
		LogFormat:          DefaultLogFormat,
	}
}

// SettingsFromEnv returns the defaults overridden by FEEDCASTER_* variables.
func SettingsFromEnv() Settings {
	d := DefaultSettings()
	// FETCH_TIMEOUT is the older name of REQUEST_TIMEOUT.
	timeout := GetEnvDuration(envPrefix+"FETCH_TIMEOUT", d.RequestTimeout)

	return Settings{
		RequestTimeout:     GetEnvDuration(envPrefix+"REQUEST_TIMEOUT", timeout),
		FetchRetries:       GetEnvInt(envPrefix+"FETCH_RETRIES", d.FetchRetries),
		FetchRetryDelay:    GetEnvDuration(envPrefix+"FETCH_RETRY_DELAY", d.FetchRetryDelay),
		FetchBackoff:       strings.ToLower(GetEnvString(envPrefix+"FETCH_BACKOFF", d.FetchBackoff)),
		PostRetries:        GetEnvInt(envPrefix+"POST_RETRIES", d.PostRetries),
		PostBackoff:        GetEnvDuration(envPrefix+"POST_BACKOFF", d.PostBackoff),
		DigestThreshold:    GetEnvInt(envPrefix+"DIGEST_THRESHOLD", d.DigestThreshold),
		Lookback:           GetEnvDuration(envPrefix+"LOOKBACK", d.Lookback),
		MaxPostLength:      GetEnvInt(envPrefix+"MAX_POST_LENGTH", d.MaxPostLength),
		PostPause:          GetEnvDuration(envPrefix+"POST_PAUSE", d.PostPause),
		FetchWorkers:       GetEnvInt(envPrefix+"FETCH_WORKERS", d.FetchWorkers),
		DestinationWorkers: GetEnvInt(envPrefix+"DESTINATION_WORKERS", d.DestinationWorkers),
		JournalPath:        GetEnvString(envPrefix+"JOURNAL_PATH", d.JournalPath),
		JournalRetainDays:  GetEnvInt(envPrefix+"JOURNAL_RETAIN_DAYS", d.JournalRetainDays),
		LogLevel:           GetEnvLogLevel(envPrefix+"LOG_LEVEL", d.LogLevel),
		LogFormat:          strings.ToLower(GetEnvString(envPrefix+"LOG_FORMAT", d.LogFormat)),
	}
}

// Validate rejects tunables that would make a run misbehave.
func (s Settings) Validate() error {
	if s.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if s.FetchRetries < 1 {
		return fmt.Errorf("fetch retries must be at least 1, got %d", s.FetchRetries)
	}
	if s.FetchRetryDelay < 0 {
		return errors.New("fetch retry delay must not be negative")
	}
	switch s.FetchBackoff {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("fetch backoff: unknown policy %q (want fixed or exponential)", s.FetchBackoff)
	}
	if s.PostRetries < 1 {
		return fmt.Errorf("post retries must be at least 1, got %d", s.PostRetries)
	}
	if s.PostBackoff < 0 {
		return errors.New("post backoff must not be negative")
	}
	if s.DigestThreshold < 1 {
		return fmt.Errorf("digest threshold must be at least 1, got %d", s.DigestThreshold)
	}
	if s.MaxPostLength < 100 {
		return fmt.Errorf("max post length must be at least 100, got %d", s.MaxPostLength)
	}
	if s.PostPause < 0 {
		return errors.New("post pause must not be negative")
	}
	if s.FetchWorkers < 1 || s.DestinationWorkers < 1 {
		return errors.New("worker counts must be at least 1")
	}
	if s.JournalRetainDays < 0 {
		return errors.New("journal retention must not be negative")
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format: unknown format %q (want console or json)", s.LogFormat)
	}
	return nil
}

// JournalEnabled reports whether run history should be recorded.
func (s Settings) JournalEnabled() bool {
	p := strings.TrimSpace(s.JournalPath)
	return p != "" && !strings.EqualFold(p, JournalOff)
}

// GetEnvString retrieves a string from environment variables or returns the default value.
func GetEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves an integer from environment variables or returns the default value.
func GetEnvInt(key string, defaultValue int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

// GetEnvDuration retrieves a duration from environment variables or returns the default value.
// Go duration strings ("90s", "6h") are parsed as such; a bare integer is read as seconds.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valStr := strings.TrimSpace(os.Getenv(key))
	if valStr == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(valStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	val, err := time.ParseDuration(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

// GetEnvLogLevel retrieves a log level from environment variables or returns the default value.
func GetEnvLogLevel(key string, defaultValue zerolog.Level) zerolog.Level {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}

	level, err := zerolog.ParseLevel(valStr)
	if err != nil {
		return defaultValue
	}
	return level
}
