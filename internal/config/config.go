// Package config provides runtime configuration values for the reconciler.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration knobs for the HTTP server, database, transport
// and reconciliation workers.
type Config struct {
	ServiceName     string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DatabaseUser     string
	DatabasePassword string
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string

	KafkaBrokers  []string
	KafkaGroupID  string
	WorkerCount   int
	AuditQueueLen int
	AuditWorkers  int

	CompanyID string

	// Marketplace is the home marketplace of this instance; the operator
	// API's sync and backfill endpoints act on its adapter.
	Marketplace string

	OzonBaseURL      string
	OzonWarehouses   map[string]string
	YandexBaseURL    string
	YandexCampaignID string
	YandexWarehouses map[string]string
	APITimeout       time.Duration

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMultiplier  float64

	// SecretKey encrypts marketplace credentials at rest. 16, 24 or 32 bytes.
	SecretKey string

	OTLPEndpoint string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	return time.Duration(atoienv(key, defMs)) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

// mapenv parses "internal1=external1,internal2=external2" pairs.
func mapenv(key string) map[string]string {
	v := getenv(key, "")
	if v == "" {
		return nil
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			m[parts[0]] = parts[1]
		}
	}
	return m
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		ServiceName:     getenv("SERVICE_NAME", "stock-reconciler"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: durenvs("SHUTDOWN_TIMEOUT", 15),

		DatabaseUser:     getenv("DATABASE_USER", "root"),
		DatabasePassword: getenv("DATABASE_PASSWORD", "pass"),
		DatabaseHost:     getenv("DATABASE_HOST", "localhost"),
		DatabasePort:     getenv("DATABASE_PORT", "5432"),
		DatabaseName:     getenv("DATABASE_NAME", "stock_db"),

		KafkaBrokers:  strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaGroupID:  getenv("KAFKA_GROUP_ID", "stock-reconciler"),
		WorkerCount:   atoienv("WORKER_COUNT", 3),
		AuditQueueLen: atoienv("AUDIT_QUEUE_LEN", 256),
		AuditWorkers:  atoienv("AUDIT_WORKERS", 2),

		CompanyID:   getenv("COMPANY_ID", ""),
		Marketplace: getenv("MARKETPLACE", "OZON"),

		OzonBaseURL:      getenv("OZON_BASE_URL", "https://api-seller.ozon.ru"),
		OzonWarehouses:   mapenv("OZON_WAREHOUSE_MAP"),
		YandexBaseURL:    getenv("YANDEX_BASE_URL", "https://api.partner.market.yandex.ru"),
		YandexCampaignID: getenv("YANDEX_CAMPAIGN_ID", ""),
		YandexWarehouses: mapenv("YANDEX_WAREHOUSE_MAP"),
		APITimeout:       durenvs("API_TIMEOUT", 30),

		RetryMaxAttempts: atoienv("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   durenvms("RETRY_BASE_DELAY_MS", 500),
		RetryMultiplier:  float64(atoienv("RETRY_MULTIPLIER", 2)),

		SecretKey: getenv("CREDENTIALS_SECRET_KEY", ""),

		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}
}
