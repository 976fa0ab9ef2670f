// Package config defines the process configuration for the notification
// engine. Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Secret Files via *_FILE (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"avisos/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"avisos"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Mail          MailConfig
	Scheduler     SchedulerConfig
	Jobs          JobsConfig
	Lock          LockConfig
	Observability ObservabilityConfig
	Security      SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5m"` // covers a synchronous manual trigger
	ShutdownGrace  time.Duration `envconfig:"SHUTDOWN_GRACE" default:"30s"`
}

// DatabaseConfig holds the record store and ledger connection settings.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`

	// LedgerBackend selects where dispatch outcomes are recorded. "memory" is
	// only suitable for local runs; it forgets everything on restart.
	LedgerBackend string `envconfig:"LEDGER_BACKEND" default:"postgres" validate:"oneof=postgres memory"`
}

// MailConfig holds the delivery channel settings. Credentials are not
// validated here: a missing relay is a channel construction error, reported
// by the scheduler, not a startup failure.
type MailConfig struct {
	Provider string `envconfig:"MAIL_PROVIDER" default:"smtp" validate:"oneof=smtp sendgrid"`

	SMTPHost     string       `envconfig:"SMTP_HOST"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587" validate:"min=1,max=65535"`
	SMTPUser     string       `envconfig:"SMTP_USER"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`
	// SMTPSecure selects implicit TLS (port 465 style); otherwise STARTTLS is
	// negotiated when offered.
	SMTPSecure bool `envconfig:"SMTP_SECURE" default:"false"`
	// SMTPRequireTLS refuses to send when STARTTLS is not available.
	SMTPRequireTLS bool `envconfig:"SMTP_REQUIRE_TLS" default:"false"`

	SendGridAPIKey  SecretString `envconfig:"SENDGRID_API_KEY"`
	SendGridBaseURL string       `envconfig:"SENDGRID_BASE_URL"`

	FromAddress       string        `envconfig:"MAIL_FROM_ADDRESS" default:"avisos@localhost" validate:"required,email"`
	FromName          string        `envconfig:"MAIL_FROM_NAME" default:"Administradora"`
	OperationsMailbox string        `envconfig:"OPERATIONS_MAILBOX" validate:"omitempty,email"`
	SendTimeout       time.Duration `envconfig:"MAIL_SEND_TIMEOUT" default:"10s"`
}

// SchedulerConfig holds dispatch and rule settings shared by all jobs.
type SchedulerConfig struct {
	Timezone         string        `envconfig:"SCHEDULER_TIMEZONE" default:"America/Sao_Paulo" validate:"timezone"`
	AutoStart        bool          `envconfig:"SCHEDULER_AUTOSTART" default:"false"`
	Concurrency      int           `envconfig:"DISPATCH_CONCURRENCY" default:"5" validate:"min=1,max=64"`
	RetryCap         int           `envconfig:"RETRY_CAP" default:"3" validate:"min=1"`
	ManualRunTimeout time.Duration `envconfig:"MANUAL_RUN_TIMEOUT" default:"4m"`

	RentDueLeadDays        int           `envconfig:"RENT_DUE_LEAD_DAYS" default:"7" validate:"min=0"`
	ContractExpiryLeadDays int           `envconfig:"CONTRACT_EXPIRY_LEAD_DAYS" default:"60" validate:"min=0"`
	ReadjustmentLeadDays   int           `envconfig:"READJUSTMENT_LEAD_DAYS" default:"30" validate:"min=0"`
	WelcomeLookback        time.Duration `envconfig:"WELCOME_LOOKBACK" default:"168h"`
}

// JobsConfig holds the cadence of every job and the set disabled at boot.
type JobsConfig struct {
	Birthdays      string   `envconfig:"JOB_BIRTHDAYS_CADENCE" default:"daily 08:00" validate:"cadence"`
	Welcome        string   `envconfig:"JOB_WELCOME_CADENCE" default:"daily 09:00" validate:"cadence"`
	RentDue        string   `envconfig:"JOB_RENT_DUE_CADENCE" default:"daily 09:00" validate:"cadence"`
	Readjustment   string   `envconfig:"JOB_READJUSTMENT_CADENCE" default:"daily 10:00" validate:"cadence"`
	ContractExpiry string   `envconfig:"JOB_CONTRACT_EXPIRY_CADENCE" default:"daily 10:00" validate:"cadence"`
	WeeklyReport   string   `envconfig:"JOB_WEEKLY_REPORT_CADENCE" default:"weekly mon 08:00" validate:"cadence"`
	Disabled       []string `envconfig:"JOBS_DISABLED"`
}

// LockConfig selects the cross-instance run lock.
type LockConfig struct {
	Backend  string        `envconfig:"LOCK_BACKEND" default:"none" validate:"oneof=none redis postgres"`
	RedisURL SecretString  `envconfig:"REDIS_URL"`
	TTL      time.Duration `envconfig:"LOCK_TTL" default:"15m"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Avisos"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"sa-east-1"`
	AWSEndpointURL  string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	// AdminAPIKey may be plaintext or a bcrypt hash ("$2a$..."). Empty disables
	// authentication, which is only accepted in local mode.
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a *_FILE secret could not be read.
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into its
	// target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
