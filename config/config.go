// Package config loads server settings from the environment, an optional
// .env file, and command-line flags, in increasing order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port             int
	Store            string
	SQLitePath       string
	DatabaseURL      string
	RedisAddr        string // empty disables the shared promo cache
	Timezone         string
	Currency         string
	RefundPolicyFile string // empty uses the default policy
	LogFormat        string // json or console

	// StatusInterval is how often stored promo statuses are reconciled
	// with their date windows. Zero disables the job.
	StatusInterval time.Duration
}

// Load reads .env (if present), then the environment, then args.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	interval, err := time.ParseDuration(getEnv("STATUS_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("STATUS_INTERVAL: %w", err)
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fs.StringVar(&cfg.Store, "store", getEnv("STORE", StoreSQLite), "storage backend: sqlite, postgres or memory")
	fs.StringVar(&cfg.SQLitePath, "db", getEnv("SQLITE_PATH", "enrollment.db"), "SQLite database path (\":memory:\" for in-memory)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", ""), "PostgreSQL connection URL")
	fs.StringVar(&cfg.RedisAddr, "redis", getEnv("REDIS_ADDR", ""), "Redis address for the promo cache")
	fs.StringVar(&cfg.Timezone, "tz", getEnv("TIMEZONE", "UTC"), "timezone of record for calendar-day rules")
	fs.StringVar(&cfg.Currency, "currency", getEnv("CURRENCY", "USD"), "deployment currency (ISO-4217)")
	fs.StringVar(&cfg.RefundPolicyFile, "refund-policy", getEnv("REFUND_POLICY_FILE", ""), "refund policy JSON file")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "json"), "log format: json or console")
	fs.DurationVar(&cfg.StatusInterval, "status-interval", interval, "promo status reconciliation interval (0 disables)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency %q is not an ISO-4217 code", c.Currency)
	}
	if c.StatusInterval < 0 {
		return fmt.Errorf("status interval %s is negative", c.StatusInterval)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
