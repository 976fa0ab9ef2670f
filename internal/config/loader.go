// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Load .env file via godotenv (non-fatal if absent).
//  2. For each secret variable that is unset, resolve <NAME>_FILE via the
//     SecretProvider and inject the value back into the environment.
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"avisos/internal/types"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// secretFileSuffix marks pointer variables: SMTP_PASSWORD_FILE=/run/secrets/smtp
// resolves SMTP_PASSWORD from the file contents.
const secretFileSuffix = "_FILE"

// secretVars are the only variables that accept a _FILE pointer.
var secretVars = []string{
	"DATABASE_URL",
	"SMTP_PASSWORD",
	"SENDGRID_API_KEY",
	"REDIS_URL",
	"ADMIN_API_KEY",
}

const localEnv = "local"

type envLookup func(key string) (string, bool)

type envSet func(key, value string) error

// loaderDeps holds the injectable dependencies for the loader.
type loaderDeps struct {
	lookupEnv envLookup
	setEnv    envSet
	dotenv    func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		dotenv:    func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the configuration. A nil provider falls back
// to FileSecretProvider.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// godotenv does not override variables already present in the environment.
	_ = deps.dotenv()

	if provider == nil {
		provider = NewFileSecretProvider()
	}
	if err := resolveSecretFiles(provider, deps); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := newValidator().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := checkCrossFieldRules(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// newValidator returns a validator with the "cadence" tag registered.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cadence", func(fl validator.FieldLevel) bool {
		_, err := types.ParseCadence(fl.Field().String())
		return err == nil
	})
	return v
}

// checkCrossFieldRules enforces rules that span sections.
func checkCrossFieldRules(cfg *Config) error {
	if cfg.Environment != localEnv && !cfg.Security.AdminAPIKey.IsSet() {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "ADMIN_API_KEY is required outside local mode",
		}
	}
	if cfg.Lock.Backend == "redis" && !cfg.Lock.RedisURL.IsSet() {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "REDIS_URL is required when LOCK_BACKEND=redis",
		}
	}
	if cfg.Database.LedgerBackend == "memory" && cfg.Environment == "prod" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "LEDGER_BACKEND=memory is not allowed in prod",
		}
	}
	return nil
}

// resolveSecretFiles reads <NAME>_FILE for every name in secretVars whose
// value is not already set, and injects the file contents as <NAME>. Other
// *_FILE variables (SSL_CERT_FILE and the like) are never touched.
func resolveSecretFiles(provider SecretProvider, deps loaderDeps) error {
	targetToPath := make(map[string]string)
	var targets, paths []string
	seenPath := make(map[string]bool)

	for _, target := range secretVars {
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		path, ok := deps.lookupEnv(target + secretFileSuffix)
		if !ok || path == "" {
			continue
		}
		targetToPath[target] = path
		targets = append(targets, target)
		if !seenPath[path] {
			seenPath[path] = true
			paths = append(paths, path)
		}
	}

	if len(paths) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("failed to resolve %d secret files", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, target := range targets {
		value, ok := resolved[targetToPath[target]]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSecretResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSecretResolution,
			Message: fmt.Sprintf("secret files not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
