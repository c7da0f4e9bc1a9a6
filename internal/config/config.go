package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultFeedURL is the USGS daily M2.5+ Atom feed.
const DefaultFeedURL = "http://earthquake.usgs.gov/eqcenter/catalogs/1day-M2.5.xml"

// Config holds all service settings, populated from environment variables.
type Config struct {
	FeedURL     string
	Preferences Preferences
	// PreferencesFile, when set, is read at startup and rewritten when
	// preferences change at runtime.
	PreferencesFile string

	DatabasePath    string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	FetchTimeout       time.Duration
	FetchMaxBytes      int64
	FetchRetries       int
	FetchRetryInterval time.Duration

	NotifyBuffer int

	// Kafka sink configuration.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults where
// unset, then overlays PREFERENCES_FILE when it exists.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	prefs, err := preferencesFromEnv()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	retryInterval, err := parsePositiveDuration("FETCH_RETRY_INTERVAL", "2s")
	if err != nil {
		return nil, err
	}
	maxBytes, err := parseInt("FETCH_MAX_BYTES", 10<<20)
	if err != nil || maxBytes <= 0 {
		return nil, errors.New("invalid FETCH_MAX_BYTES")
	}
	retries, err := parseInt("FETCH_RETRIES", 2)
	if err != nil || retries < 0 || retries > 10 {
		return nil, errors.New("invalid FETCH_RETRIES: must be between 0 and 10")
	}
	notifyBuffer, err := parseInt("NOTIFY_BUFFER", 64)
	if err != nil || notifyBuffer <= 0 {
		return nil, errors.New("invalid NOTIFY_BUFFER")
	}

	brokersRaw := os.Getenv("KAFKA_BROKERS")
	kafkaEnabled := brokersRaw != ""
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		FeedURL:         sharedcfg.EnvOrDefault("FEED_URL", DefaultFeedURL),
		Preferences:     prefs,
		PreferencesFile: os.Getenv("PREFERENCES_FILE"),

		DatabasePath:    sharedcfg.EnvOrDefault("DATABASE_PATH", "quakes.db"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FetchTimeout:       fetchTimeout,
		FetchMaxBytes:      int64(maxBytes),
		FetchRetries:       retries,
		FetchRetryInterval: retryInterval,

		NotifyBuffer: notifyBuffer,

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "seismic-quakes"),
	}

	if cfg.PreferencesFile != "" {
		if err := cfg.overlayPreferencesFile(); err != nil {
			return nil, err
		}
	}

	if cfg.FeedURL == "" {
		return nil, errors.New("FEED_URL is required")
	}
	if cfg.DatabasePath == "" {
		return nil, errors.New("DATABASE_PATH is required")
	}
	if cfg.KafkaEnabled && brokersRaw == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}
	if err := cfg.Preferences.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) overlayPreferencesFile() error {
	prefs, err := LoadPreferences(c.PreferencesFile, c.Preferences)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	c.Preferences = prefs
	return nil
}

func preferencesFromEnv() (Preferences, error) {
	prefs := DefaultPreferences()

	if v := os.Getenv("AUTO_UPDATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Preferences{}, errors.New("invalid AUTO_UPDATE: must be true or false")
		}
		prefs.AutoUpdate = b
	}

	minutes, err := parseInt("POLL_INTERVAL_MINUTES", int(prefs.PollInterval/time.Minute))
	if err != nil {
		return Preferences{}, errors.New("invalid POLL_INTERVAL_MINUTES")
	}
	if prefs.PollInterval, err = PollIntervalFromMinutes(minutes); err != nil {
		return Preferences{}, fmt.Errorf("invalid POLL_INTERVAL_MINUTES: %w", err)
	}

	if v := os.Getenv("MIN_MAGNITUDE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Preferences{}, errors.New("invalid MIN_MAGNITUDE")
		}
		prefs.MinimumMagnitude = f
	}

	return prefs, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
