package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DB    Database
	Redis Redis
	HTTP  HTTP

	JWTSecret string `env:"JWT_SECRET"`
	JWTAud    string `env:"JWT_AUD"`
	JWTIss    string `env:"JWT_ISS"`
	CronKey   string `env:"CRON_KEY"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SweepLockTTL      time.Duration `env:"SWEEP_LOCK_TTL" envDefault:"5m"`
	TermDays          int           `env:"TERM_DAYS" envDefault:"30"`
	DailyInterestRate string        `env:"DAILY_INTEREST_RATE" envDefault:"0.01"`
	ReferralRate      string        `env:"REFERRAL_RATE" envDefault:"0.05"`
	MatchMaxAttempts  uint          `env:"MATCH_MAX_ATTEMPTS" envDefault:"5"`
	NotifyBuffer      int           `env:"NOTIFY_BUFFER" envDefault:"256"`
	NotifyChannel     string        `env:"NOTIFY_CHANNEL" envDefault:"loans:notifications"`
}

type Database struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"mysql"`
	DSN             string        `env:"DB_DSN"`
	Host            string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port            string        `env:"DB_PORT" envDefault:"3306"`
	User            string        `env:"DB_USER" envDefault:"root"`
	Pass            string        `env:"DB_PASS"`
	Name            string        `env:"DB_NAME" envDefault:"loans"`
	Params          string        `env:"DB_PARAMS" envDefault:"charset=utf8mb4&parseTime=True&loc=UTC"`
	TLS             string        `env:"DB_TLS" envDefault:"false"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"loans.db"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnectRetries  int           `env:"DB_CONNECT_RETRIES" envDefault:"5"`
}

type HTTP struct {
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	RequestTimeout time.Duration `env:"REQ_TIMEOUT" envDefault:"10s"`
	TrustedProxies []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	CronRateLimit  int           `env:"RATE_CRON_PER_HOUR" envDefault:"1000"`
	HSTS           bool          `env:"SEC_HSTS" envDefault:"false"`
}

type Redis struct {
	Addr string `env:"REDIS_ADDR"`
	Pass string `env:"REDIS_PASS"`
	DB   int    `env:"REDIS_DB" envDefault:"0"`
}

// LoadDotEnv copies .env entries into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	envMap, err := godotenv.Read(paths...)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read .env: %w", err)
	}
	for k, v := range envMap {
		if os.Getenv(k) == "" {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

func (c Config) Validate() error {
	if !c.IsDevelopment() {
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required outside development")
		}
		if c.CronKey == "" {
			return errors.New("CRON_KEY is required outside development")
		}
	}
	switch strings.ToLower(c.DB.Driver) {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.TermDays <= 0 {
		return fmt.Errorf("TERM_DAYS must be positive, got %d", c.TermDays)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepLockTTL <= 0 {
		return fmt.Errorf("SWEEP_LOCK_TTL must be positive, got %s", c.SweepLockTTL)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.HTTP.MaxBodyBytes)
	}
	if c.MatchMaxAttempts == 0 {
		return errors.New("MATCH_MAX_ATTEMPTS must be at least 1")
	}
	if _, err := c.InterestRate(); err != nil {
		return err
	}
	if _, err := c.ReferralShare(); err != nil {
		return err
	}
	return nil
}

// InterestRate is the daily interest rate used for return reporting.
func (c Config) InterestRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.DailyInterestRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DAILY_INTEREST_RATE: %w", err)
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("DAILY_INTEREST_RATE must not be negative, got %s", rate)
	}
	return rate, nil
}

// ReferralShare is the part of each confirmed payment credited to the
// payer's referrer.
func (c Config) ReferralShare() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.ReferralRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("REFERRAL_RATE: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("REFERRAL_RATE must be between 0 and 1, got %s", rate)
	}
	return rate, nil
}

// Term is the default maturation countdown.
func (c Config) Term() time.Duration {
	return time.Duration(c.TermDays) * 24 * time.Hour
}
