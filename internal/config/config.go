package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	// Lookup coordinator tunables.
	MinRequestDelay time.Duration
	MinQueryLength  int
	CacheSize       int

	// SessionIdleTimeout drops sessions without updates; zero disables it.
	SessionIdleTimeout time.Duration

	// Mapbox geocoding configuration.
	MapboxToken       string
	MapboxTimeout     time.Duration
	MapboxResultLimit int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	minDelay, err := time.ParseDuration(sharedcfg.EnvOrDefault("LOOKUP_MIN_REQUEST_DELAY", "1s"))
	if err != nil || minDelay < 0 {
		return nil, errors.New("invalid LOOKUP_MIN_REQUEST_DELAY")
	}

	minLength, err := strconv.Atoi(sharedcfg.EnvOrDefault("LOOKUP_MIN_QUERY_LENGTH", "2"))
	if err != nil || minLength < 0 {
		return nil, errors.New("invalid LOOKUP_MIN_QUERY_LENGTH")
	}

	cacheSize, err := strconv.Atoi(sharedcfg.EnvOrDefault("LOOKUP_CACHE_SIZE", "1000"))
	if err != nil || cacheSize <= 0 {
		return nil, errors.New("invalid LOOKUP_CACHE_SIZE")
	}

	idleTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("SESSION_IDLE_TIMEOUT", "30m"))
	if err != nil || idleTimeout < 0 {
		return nil, errors.New("invalid SESSION_IDLE_TIMEOUT")
	}

	mapboxTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s"))
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	resultLimit, err := strconv.Atoi(sharedcfg.EnvOrDefault("MAPBOX_RESULT_LIMIT", "5"))
	if err != nil || resultLimit < 1 || resultLimit > 10 {
		return nil, errors.New("invalid MAPBOX_RESULT_LIMIT: must be between 1 and 10")
	}

	cfg := &Config{
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "place-query-updates"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "place-lookup-results"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "place-lookup"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,

		MinRequestDelay: minDelay,
		MinQueryLength:  minLength,
		CacheSize:       cacheSize,

		SessionIdleTimeout: idleTimeout,

		MapboxToken:       os.Getenv("MAPBOX_TOKEN"),
		MapboxTimeout:     mapboxTimeout,
		MapboxResultLimit: resultLimit,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	if cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_TOKEN is required")
	}

	return cfg, nil
}
