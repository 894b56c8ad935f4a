package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Billing    BillingConfig    `validate:"required"`
	Stripe     StripeConfig
	Paddle     PaddleConfig
	Workers    WorkersConfig
}

type DeploymentConfig struct {
	Mode string `validate:"required,oneof=local dev prod"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level string `validate:"required,oneof=debug info warn error"`
}

type PostgresConfig struct {
	Host                   string `validate:"required"`
	Port                   int    `validate:"required"`
	User                   string `validate:"required"`
	Password               string
	DBName                 string `validate:"required"`
	SSLMode                string
	MaxOpenConns           int
	MaxIdleConns           int
	ConnMaxLifetimeMinutes int
}

// BillingConfig carries the core engine tunables
type BillingConfig struct {
	// ActiveProvider is the provider new checkouts are created against
	ActiveProvider string `validate:"required,oneof=stripe paddle"`

	// WebhookMaxBodyBytes bounds the raw webhook body size
	WebhookMaxBodyBytes int64

	// PendingLeaseTTL bounds how long an idempotency lease is held before a
	// crashed caller's work may be reclaimed
	PendingLeaseTTL time.Duration

	// MaxRecoveryAttempts bounds lease reclaims before a row goes failed
	MaxRecoveryAttempts int

	// MaxRemediationAttempts bounds duplicate-cancel attempts before dead letter
	MaxRemediationAttempts int

	// MaxOutboxAttempts bounds outbox job attempts before dead letter
	MaxOutboxAttempts int

	// WorkerLeaseTTL is the lease TTL for outbox/remediation/reconciliation rows
	WorkerLeaseTTL time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type PaddleConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
}

// WorkersConfig holds cron schedules for the background workers
type WorkersConfig struct {
	OutboxSchedule           string
	RemediationSchedule      string
	ReconciliationSchedule   string
	BalanceRecomputeSchedule string
	CheckoutExpirySchedule   string
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func NewConfig() (*Configuration, error) {
	// local development convenience; absence of a .env file is not an error
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/reckon")

	v.SetEnvPrefix("RECKON")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", "local")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.maxopenconns", 20)
	v.SetDefault("postgres.maxidleconns", 5)
	v.SetDefault("postgres.connmaxlifetimeminutes", 30)
	v.SetDefault("billing.activeprovider", "stripe")
	v.SetDefault("billing.webhookmaxbodybytes", 1<<20)
	v.SetDefault("billing.pendingleasettl", "2m")
	v.SetDefault("billing.maxrecoveryattempts", 3)
	v.SetDefault("billing.maxremediationattempts", 5)
	v.SetDefault("billing.maxoutboxattempts", 8)
	v.SetDefault("billing.workerleasettl", "5m")
	v.SetDefault("workers.outboxschedule", "@every 10s")
	v.SetDefault("workers.remediationschedule", "@every 30s")
	v.SetDefault("workers.reconciliationschedule", "@every 10m")
	v.SetDefault("workers.balancerecomputeschedule", "@every 1m")
	v.SetDefault("workers.checkoutexpiryschedule", "@every 5m")
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// and tests. This is useful for running non-web entrypoints.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: "local"},
		Logging:    LoggingConfig{Level: "debug"},
		Billing: BillingConfig{
			ActiveProvider:         "stripe",
			WebhookMaxBodyBytes:    1 << 20,
			PendingLeaseTTL:        2 * time.Minute,
			MaxRecoveryAttempts:    3,
			MaxRemediationAttempts: 5,
			MaxOutboxAttempts:      8,
			WorkerLeaseTTL:         5 * time.Minute,
		},
	}
}
