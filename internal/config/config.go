package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the health server

	Env      string // "dev" | "prod"
	LogLevel string

	// Persistence
	Backend  string // memory | sqlite | redis
	DBPath   string // e.g. "./data/accessctl.db"
	RedisURL string

	// Entity directory. Empty means the backend's own directory.
	DirectoryFile  string
	StrictEntities bool

	// Audit retention
	AuditCapacity      int
	AuditRetentionDays int // 0 = count cap only
	PruneIntervalHours int

	// HTTP
	JWTSigningKey  string // empty: actor comes from X-Actor
	RateLimitRPS   int
	RateLimitBurst int

	// Event forwarding. No brokers disables it.
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv reads ACCESSCTL_* variables. Outside prod a .env file in the
// working directory is loaded first if present; real environment variables
// win over it.
func FromEnv() Config {
	if !strings.EqualFold(os.Getenv("ACCESSCTL_ENV"), "prod") {
		_ = godotenv.Load()
	}

	env := strings.ToLower(getenvDefault("ACCESSCTL_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	backend := strings.ToLower(getenvDefault("ACCESSCTL_BACKEND", BackendMemory))
	switch backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		backend = BackendMemory
	}

	return Config{
		HTTPAddr: getenvDefault("ACCESSCTL_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvAllowEmpty("ACCESSCTL_GRPC_ADDR", ":9090"),
		Env:      env,
		LogLevel: getenvDefault("ACCESSCTL_LOG_LEVEL", "info"),

		Backend:  backend,
		DBPath:   getenvDefault("ACCESSCTL_DB_PATH", "./data/accessctl.db"),
		RedisURL: getenvDefault("ACCESSCTL_REDIS_URL", "redis://localhost:6379/0"),

		DirectoryFile:  strings.TrimSpace(os.Getenv("ACCESSCTL_DIRECTORY_FILE")),
		StrictEntities: getenvBool("ACCESSCTL_STRICT_ENTITIES"),

		AuditCapacity:      getenvInt("ACCESSCTL_AUDIT_CAPACITY", 1000),
		AuditRetentionDays: getenvInt("ACCESSCTL_AUDIT_RETENTION_DAYS", 0),
		PruneIntervalHours: getenvInt("ACCESSCTL_PRUNE_INTERVAL_HOURS", 6),

		JWTSigningKey:  os.Getenv("ACCESSCTL_JWT_SIGNING_KEY"),
		RateLimitRPS:   getenvInt("ACCESSCTL_RATE_LIMIT_RPS", 10),
		RateLimitBurst: getenvInt("ACCESSCTL_RATE_LIMIT_BURST", 20),

		KafkaBrokers: splitCSV(os.Getenv("ACCESSCTL_KAFKA_BROKERS")),
		KafkaTopic:   getenvDefault("ACCESSCTL_KAFKA_TOPIC", "access-control-events"),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// getenvAllowEmpty distinguishes unset (default) from set-but-empty.
func getenvAllowEmpty(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
