package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Device
	CourtNumber int    `env:"COURT_NUMBER" envDefault:"1"`
	DataDir     string `env:"DATA_DIR" envDefault:"./data"`
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"3200"`

	// Remote store
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"scorekeeper"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"scorekeeper"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"scorekeeper"`

	// Schedule collaborator
	ScheduleBaseURL string `env:"SCHEDULE_BASE_URL" envDefault:"http://localhost:3300"`

	// Match timing. Changes take effect only for matches started after
	// the change; running matches keep their construction-time values.
	SetDuration      time.Duration `env:"SET_DURATION" envDefault:"14m"`
	BreakDuration    time.Duration `env:"BREAK_DURATION" envDefault:"60s"`
	ResultsDuration  time.Duration `env:"RESULTS_DURATION" envDefault:"50s"`
	SyncInterval     time.Duration `env:"SYNC_INTERVAL" envDefault:"30s"`
	StoreIdleTimeout time.Duration `env:"STORE_IDLE_TIMEOUT" envDefault:"60s"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for configuration that cannot run a court.
func (c *Config) Validate() error {
	if c.CourtNumber <= 0 {
		return fmt.Errorf("COURT_NUMBER must be positive, got %d", c.CourtNumber)
	}
	if c.SetDuration <= 0 || c.BreakDuration <= 0 || c.ResultsDuration <= 0 {
		return fmt.Errorf("match durations must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
