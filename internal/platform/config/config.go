package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration, built from environment variables
// so main stays lean.
type Config struct {
	Addr            string
	OperatorKeyHash string

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	Sync      SyncConfig
	Evidence  EvidenceConfig
	Ledger    LedgerConfig
	Enrich    EnrichConfig
	Providers ProvidersConfig
}

// RedisConfig controls the shared Redis client. An empty URL disables Redis;
// the token store then falls back to its in-memory implementation.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig controls the lifecycle event publisher. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SyncConfig controls the sync scheduler.
type SyncConfig struct {
	Interval          time.Duration
	MaxConcurrentJobs int
	PageSize          int
	FetchTimeout      time.Duration
	MaxFetchAttempts  int
	MaxDurationHours  float64
}

// EvidenceConfig points at the content-addressed storage gateway.
type EvidenceConfig struct {
	GatewayURL string
	AccessKey  string
	Timeout    time.Duration
}

// LedgerConfig controls the ledger write queue.
type LedgerConfig struct {
	URL           string
	Timeout       time.Duration
	Workers       int
	QueueDepth    int
	SweepInterval time.Duration
}

// EnrichConfig controls the enrichment pipeline.
type EnrichConfig struct {
	URL             string
	ExtractTimeout  time.Duration
	AnalysisTimeout time.Duration
	Workers         int
}

// ProviderConfig holds one adapter's credentials and endpoint. WebhookSecret
// signs inbound push deliveries; empty disables the provider's webhook.
type ProviderConfig struct {
	Enabled       bool
	BaseURL       string
	IssuerID      string
	ClientID      string
	ClientSecret  string
	APIKey        string
	WebhookSecret string
}

// ProvidersConfig holds per-adapter configuration keyed by provider name.
type ProvidersConfig struct {
	NSDC  ProviderConfig
	SIH   ProviderConfig
	Udemy ProviderConfig
}

// FromEnv builds the configuration from environment variables.
func FromEnv() Config {
	return Config{
		Addr:            envStr("CREDSYNC_ADDR", ":8080"),
		OperatorKeyHash: os.Getenv("OPERATOR_KEY_HASH"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDur("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDur("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDur("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envStr("KAFKA_EVENTS_TOPIC", "credsync.events"),
		},
		Sync: SyncConfig{
			Interval:          envDur("SYNC_INTERVAL", time.Hour),
			MaxConcurrentJobs: envInt("SYNC_MAX_CONCURRENT_JOBS", 3),
			PageSize:          envInt("SYNC_PAGE_SIZE", 20),
			FetchTimeout:      envDur("SYNC_FETCH_TIMEOUT", 10*time.Second),
			MaxFetchAttempts:  envInt("SYNC_MAX_FETCH_ATTEMPTS", 5),
			MaxDurationHours:  envFloat("SYNC_MAX_DURATION_HOURS", 1000),
		},
		Evidence: EvidenceConfig{
			GatewayURL: os.Getenv("EVIDENCE_GATEWAY_URL"),
			AccessKey:  os.Getenv("EVIDENCE_ACCESS_KEY"),
			Timeout:    envDur("EVIDENCE_TIMEOUT", 15*time.Second),
		},
		Ledger: LedgerConfig{
			URL:           os.Getenv("LEDGER_SERVICE_URL"),
			Timeout:       envDur("LEDGER_TIMEOUT", 30*time.Second),
			Workers:       envInt("LEDGER_WORKERS", 4),
			QueueDepth:    envInt("LEDGER_QUEUE_DEPTH", 256),
			SweepInterval: envDur("LEDGER_SWEEP_INTERVAL", 10*time.Minute),
		},
		Enrich: EnrichConfig{
			URL:             os.Getenv("ENRICH_SERVICE_URL"),
			ExtractTimeout:  envDur("ENRICH_EXTRACT_TIMEOUT", 30*time.Second),
			AnalysisTimeout: envDur("ENRICH_ANALYSIS_TIMEOUT", 30*time.Second),
			Workers:         envInt("ENRICH_WORKERS", 4),
		},
		Providers: ProvidersConfig{
			NSDC:  providerFromEnv("NSDC"),
			SIH:   providerFromEnv("SIH"),
			Udemy: providerFromEnv("UDEMY"),
		},
	}
}

func providerFromEnv(prefix string) ProviderConfig {
	return ProviderConfig{
		Enabled:       os.Getenv(prefix+"_ENABLED") == "true",
		BaseURL:       os.Getenv(prefix + "_BASE_URL"),
		IssuerID:      os.Getenv(prefix + "_ISSUER_ID"),
		ClientID:      os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret:  os.Getenv(prefix + "_CLIENT_SECRET"),
		APIKey:        os.Getenv(prefix + "_API_KEY"),
		WebhookSecret: os.Getenv(prefix + "_WEBHOOK_SECRET"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
