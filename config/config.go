package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Booking  BookingConfig  `yaml:"booking"`
	Payment  PaymentConfig  `yaml:"payment"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
	API      APIConfig      `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type HTTPConfig struct {
	Address    string `yaml:"address"`
	SwaggerDir string `yaml:"swagger_dir"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

type StorageConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type BookingConfig struct {
	HoldTTLMinutes    int `yaml:"hold_ttl_minutes"`
	ReferenceAttempts int `yaml:"reference_attempts"`
	LockTimeoutMillis int `yaml:"lock_timeout_ms"`
	NotifyTimeoutSecs int `yaml:"notify_timeout_seconds"`
}

func (b BookingConfig) HoldTTL() time.Duration {
	return time.Duration(b.HoldTTLMinutes) * time.Minute
}

func (b BookingConfig) LockTimeout() time.Duration {
	return time.Duration(b.LockTimeoutMillis) * time.Millisecond
}

func (b BookingConfig) NotifyTimeout() time.Duration {
	return time.Duration(b.NotifyTimeoutSecs) * time.Second
}

const (
	PaymentSandbox = "sandbox"
	PaymentHTTP    = "http"
)

type PaymentConfig struct {
	Driver         string `yaml:"driver"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// WebhookSecret authenticates the provider's confirmation callbacks.
	// The webhook route is not mounted while it is empty.
	WebhookSecret string `yaml:"webhook_secret"`
}

func (p PaymentConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type WorkerConfig struct {
	ExpirationSweepSeconds int  `yaml:"expiration_sweep_seconds"`
	RefundRetrySeconds     int  `yaml:"refund_retry_seconds"`
	BatchSize              int  `yaml:"batch_size"`
	SweepLock              bool `yaml:"sweep_lock"`
	MaxRefundAttempts      int  `yaml:"max_refund_attempts"`
}

func (w WorkerConfig) SweepInterval() time.Duration {
	return time.Duration(w.ExpirationSweepSeconds) * time.Second
}

func (w WorkerConfig) RefundRetryInterval() time.Duration {
	return time.Duration(w.RefundRetrySeconds) * time.Second
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RPS         float64 `yaml:"rps"`
	Burst       int     `yaml:"burst"`
	IdleSeconds int     `yaml:"idle_seconds"`
}

// IdleTimeout is how long a caller's limiter is kept after its last request.
func (r RateLimitConfig) IdleTimeout() time.Duration {
	return time.Duration(r.IdleSeconds) * time.Second
}

// LoadConfig reads a YAML file, expanding ${VAR} references from the
// environment and an optional .env file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			return errors.New("database host and name are required for postgres storage")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Payment.Driver {
	case PaymentSandbox:
	case PaymentHTTP:
		if c.Payment.BaseURL == "" {
			return errors.New("payment.base_url is required for the http payment driver")
		}
	default:
		return fmt.Errorf("unknown payment driver %q", c.Payment.Driver)
	}

	if c.Booking.HoldTTLMinutes <= 0 {
		return errors.New("booking.hold_ttl_minutes must be positive")
	}
	if c.API.RateLimit.RPS < 0 || c.API.RateLimit.Burst < 0 || c.API.RateLimit.IdleSeconds < 0 {
		return errors.New("api.rate_limit values must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bookingcore"
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":8081"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "booking-notifications"
	}
	if c.Booking.HoldTTLMinutes == 0 {
		c.Booking.HoldTTLMinutes = 15
	}
	if c.Booking.ReferenceAttempts == 0 {
		c.Booking.ReferenceAttempts = 5
	}
	if c.Booking.LockTimeoutMillis == 0 {
		c.Booking.LockTimeoutMillis = 2000
	}
	if c.Booking.NotifyTimeoutSecs == 0 {
		c.Booking.NotifyTimeoutSecs = 3
	}
	if c.Payment.Driver == "" {
		c.Payment.Driver = PaymentSandbox
	}
	if c.Payment.TimeoutSeconds == 0 {
		c.Payment.TimeoutSeconds = 10
	}
	if c.Worker.ExpirationSweepSeconds == 0 {
		c.Worker.ExpirationSweepSeconds = 60
	}
	if c.Worker.RefundRetrySeconds == 0 {
		c.Worker.RefundRetrySeconds = 30
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 100
	}
	if c.Worker.MaxRefundAttempts == 0 {
		c.Worker.MaxRefundAttempts = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}
	if c.API.RateLimit.IdleSeconds == 0 {
		c.API.RateLimit.IdleSeconds = 600
	}
}
