package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr string

	EtcdEndpoints     []string
	LeaderElectionTTL int

	APIPort string

	// Blob archive for oversized step raw_result payloads.
	S3Bucket                   string
	S3Endpoint                 string
	S3Region                   string
	RawResultArchiveThresholdBytes int

	// Auth settings
	JWTSecret   string
	JWTIssuer   string
	AuthEnabled bool

	// SMTP settings for the Notifier
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	LogLevel string
	LogFile  string

	DefaultTimezone        string
	SeedFile               string
	RecoveryStaleThreshold string
	EnableCronOnStartup    bool

	// Distributed tracing (OTLP/HTTP exporter)
	TracingEnabled bool
	OTLPEndpoint   string
}

func LoadConfig() *Config {
	return &Config{
		// An empty DB_HOST means no store is configured: the
		// orchestrator starts in API-only mode with the scheduler
		// disabled.
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "leadforge"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "leadforge"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		EtcdEndpoints:     splitCSV(getEnv("ETCD_ENDPOINTS", "localhost:2379")),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort: getEnv("API_PORT", "3020"),

		S3Bucket:                       getEnv("S3_BUCKET", ""),
		S3Endpoint:                     getEnv("S3_ENDPOINT", ""),
		S3Region:                       getEnv("S3_REGION", "us-east-1"),
		RawResultArchiveThresholdBytes: getEnvAsInt("RAW_RESULT_ARCHIVE_THRESHOLD_BYTES", 16384),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "leadforge"),
		AuthEnabled: getEnvAsBool("AUTH_ENABLED", false),

		SMTPHost: getEnv("SMTP_HOST", ""),
		SMTPPort: getEnv("SMTP_PORT", "587"),
		SMTPUser: getEnv("SMTP_USER", ""),
		SMTPPass: getEnv("SMTP_PASS", ""),
		SMTPFrom: getEnv("SMTP_FROM", "noreply@leadforge.local"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DefaultTimezone:        getEnv("DEFAULT_TIMEZONE", "UTC"),
		SeedFile:               getEnv("SEED_FILE", ""),
		RecoveryStaleThreshold: getEnv("RECOVERY_STALE_THRESHOLD", "20m"),
		EnableCronOnStartup:    getEnvAsBool("ENABLE_CRON_ON_STARTUP", true),

		TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
