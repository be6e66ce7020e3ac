package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Brain   BrainConfig
	AI      AIConfig
	Sweep   SweepConfig
	History HistoryConfig
}

// Load builds the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	brain, err := loadBrainConfig()
	if err != nil {
		return nil, err
	}

	history, err := loadHistoryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Store:   store,
		Brain:   brain,
		AI:      loadAIConfig(),
		Sweep:   loadSweepConfig(),
		History: history,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreConfig selects the session store backend. An empty RedisAddr keeps the
// in-memory store.
type StoreConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func loadStoreConfig() (StoreConfig, error) {
	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return StoreConfig{}, err
	}
	redisDB := 0
	if db != nil {
		redisDB = *db
	}

	return StoreConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
	}, nil
}

// BrainConfig describes the external reply-generation endpoint.
type BrainConfig struct {
	URL     string
	Timeout time.Duration
}

// Enabled reports whether a brain endpoint is configured.
func (c BrainConfig) Enabled() bool {
	return c.URL != ""
}

func loadBrainConfig() (BrainConfig, error) {
	timeout, err := parseDurationEnv("BRAIN_TIMEOUT", 60*time.Second)
	if err != nil {
		return BrainConfig{}, err
	}

	return BrainConfig{
		URL:     strings.TrimSpace(os.Getenv("BRAIN_URL")),
		Timeout: timeout,
	}, nil
}

// AIConfig describes the optional in-process Ark chat model.
type AIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// NewChatModel creates a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY and ARK_MODEL")
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Model:   c.Model,
	})
}

func loadAIConfig() AIConfig {
	return AIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		Model:   strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL: getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
	}
}

// SweepConfig drives the session aging sweeper. A misconfiguration disables
// sweeping instead of killing the process: parse failures are logged here and
// yield a zero config that the sweeper constructor rejects.
type SweepConfig struct {
	Interval   time.Duration
	IdleAfter  time.Duration
	CloseAfter time.Duration
}

func loadSweepConfig() SweepConfig {
	interval, err := parseDurationEnv("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		log.Printf("invalid sweep configuration: %v", err)
		return SweepConfig{}
	}

	idleAfter, err := parseDurationEnv("SESSION_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		log.Printf("invalid sweep configuration: %v", err)
		return SweepConfig{}
	}

	closeAfter, err := parseDurationEnv("SESSION_CLOSE_TIMEOUT", 15*time.Minute)
	if err != nil {
		log.Printf("invalid sweep configuration: %v", err)
		return SweepConfig{}
	}

	return SweepConfig{
		Interval:   interval,
		IdleAfter:  idleAfter,
		CloseAfter: closeAfter,
	}
}

// HistoryConfig bounds history replay and the responder trailing window.
type HistoryConfig struct {
	PageSize int
}

func loadHistoryConfig() (HistoryConfig, error) {
	size, err := parseOptionalIntEnv("HISTORY_PAGE_SIZE")
	if err != nil {
		return HistoryConfig{}, err
	}
	pageSize := 50
	if size != nil {
		if *size < 1 {
			return HistoryConfig{}, fmt.Errorf("invalid HISTORY_PAGE_SIZE value %d: must be positive", *size)
		}
		pageSize = *size
	}
	return HistoryConfig{PageSize: pageSize}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
