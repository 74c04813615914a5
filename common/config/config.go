package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/modelmux/modelmux/common/logger"
)

// Orchestration toggles. Each selects the real sink or its null variant.
var (
	DebugEnabled            bool
	EnableQuotaManagement   bool
	EnableAuditLogging      bool
	EnableCaching           bool
	EnableMetricsCollection bool
	EnablePrometheusMetrics bool
)

// FallbackOrder overrides the default priority ordering of the registry when
// non-empty; names not present in the registry are ignored at wiring time.
var FallbackOrder []string

// Storage backends.
var (
	// SQLDSN selects the database for the SQL-backed sinks. Empty means the
	// in-memory/null variants are used regardless of the enable toggles.
	SQLDSN string
	// RedisConnString selects the Redis response cache when set.
	RedisConnString string
)

// Transport settings.
var (
	// InsecureSkipVerify disables TLS certificate validation on the shared
	// outbound transport. Off by default.
	InsecureSkipVerify bool
	// MaxIdleConnsPerHost bounds the per-host connection pool.
	MaxIdleConnsPerHost int
)

// QuotaLimitsJSON is the raw QUOTA_LIMITS document parsed by the quota
// manager at wiring time.
var QuotaLimitsJSON string

// MaxInlineMediaSizeMB caps inline image and audio payloads per request.
var MaxInlineMediaSizeMB int

// Port is the listen port of the HTTP surface.
var Port string

// LoadConfig reads the environment (with optional .env file) into the typed
// globals above. Must run before any component is constructed.
func LoadConfig() {
	_ = godotenv.Load()

	DebugEnabled = envBool("DEBUG", false)
	EnableQuotaManagement = envBool("ENABLE_QUOTA_MANAGEMENT", false)
	EnableAuditLogging = envBool("ENABLE_AUDIT_LOGGING", false)
	EnableCaching = envBool("ENABLE_CACHING", true)
	EnableMetricsCollection = envBool("ENABLE_METRICS_COLLECTION", false)
	EnablePrometheusMetrics = envBool("ENABLE_PROMETHEUS_METRICS", false)

	FallbackOrder = envStringSlice("FALLBACK_ORDER")

	SQLDSN = os.Getenv("SQL_DSN")
	RedisConnString = os.Getenv("REDIS_CONN_STRING")

	InsecureSkipVerify = envBool("INSECURE_SKIP_VERIFY", false)
	MaxIdleConnsPerHost = envInt("MAX_IDLE_CONNS_PER_HOST", 100)

	QuotaLimitsJSON = os.Getenv("QUOTA_LIMITS")
	MaxInlineMediaSizeMB = envInt("MAX_INLINE_MEDIA_SIZE_MB", 20)

	Port = os.Getenv("PORT")
	if Port == "" {
		Port = "3000"
	}

	logger.SetupLogger(DebugEnabled)
}

func envBool(name string, defaultValue bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func envInt(name string, defaultValue int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func envStringSlice(name string) []string {
	v := os.Getenv(name)
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
