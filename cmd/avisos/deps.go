package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"

	"avisos/internal/config"
	"avisos/internal/core"
	"avisos/internal/db"
	"avisos/internal/external"
	"avisos/internal/locks"
	nfcore "avisos/internal/notifications/core"
	"avisos/internal/notifications/email"
	"avisos/internal/scheduler"
	"avisos/internal/types"
)

const (
	metricsNone       = "none"
	metricsCloudWatch = "cloudwatch"

	ledgerMemory = "memory"

	lockRedis    = "redis"
	lockPostgres = "postgres"

	mailSendGrid = "sendgrid"
)

// dbPool is the part of *pgxpool.Pool the wiring uses.
type dbPool interface {
	db.DBTX
	Ping(ctx context.Context) error
	Close()
}

// slogAdapter wraps *slog.Logger to implement types.Logger, whose With must
// return types.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func newSlogAdapter(logger *slog.Logger) types.Logger {
	return &slogAdapter{logger: logger}
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// buildChannel creates the email provider selected by MAIL_PROVIDER and wraps
// it in a delivery channel. Errors carry config_mail_unavailable.
func buildChannel(cfg *config.Config, logger *slog.Logger, appLogger types.Logger) (*email.Channel, error) {
	var (
		provider external.EmailProvider
		err      error
	)
	switch cfg.Mail.Provider {
	case mailSendGrid:
		provider, err = external.NewSendGridClient(&http.Client{Timeout: cfg.Mail.SendTimeout}, external.SendGridClientConfig{
			APIKey:    cfg.Mail.SendGridAPIKey,
			BaseURL:   cfg.Mail.SendGridBaseURL,
			UserAgent: cfg.Build.UserAgent(cfg.Service),
			Logger:    logger.With("component", "sendgrid"),
		})
	default:
		provider, err = external.NewSMTPClient(external.SMTPConfig{
			Host:        cfg.Mail.SMTPHost,
			Port:        cfg.Mail.SMTPPort,
			Username:    cfg.Mail.SMTPUser,
			Password:    cfg.Mail.SMTPPassword,
			ImplicitTLS: cfg.Mail.SMTPSecure,
			RequireTLS:  cfg.Mail.SMTPRequireTLS,
			Timeout:     cfg.Mail.SendTimeout,
			Logger:      logger.With("component", "smtp"),
		})
	}
	if err != nil {
		return nil, err
	}

	return email.NewChannel(email.ChannelConfig{
		Provider:    provider,
		From:        types.SenderIdentity{Address: cfg.Mail.FromAddress, Name: cfg.Mail.FromName},
		SendTimeout: cfg.Mail.SendTimeout,
		Logger:      appLogger.With("component", "email_channel"),
	})
}

// ledgerStore is what both the coordinator and the status endpoint need from
// the ledger.
type ledgerStore interface {
	nfcore.Ledger
	scheduler.AttentionSource
}

func buildLedger(cfg *config.Config, pool dbPool, clock types.Clock) ledgerStore {
	if cfg.Database.LedgerBackend == ledgerMemory {
		return nfcore.NewMemoryLedger(clock)
	}
	return db.NewLedgerRepository(pool)
}

// buildNotificationMetrics selects the delivery metrics sink. HTTP metrics
// always go to the Prometheus registry unless metrics are disabled.
func buildNotificationMetrics(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger types.Logger) (nfcore.NotificationMetrics, error) {
	switch cfg.Observability.MetricsBackend {
	case metricsNone:
		return nfcore.NopMetrics{}, nil
	case metricsCloudWatch:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Observability.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.Observability.AWSEndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.Observability.AWSEndpointURL)
			}
		})
		return nfcore.NewCloudWatchNotificationMetrics(client, cfg.Observability.MetricNamespace, logger.With("component", "metrics")), nil
	default:
		return nfcore.NewPrometheusNotificationMetrics(reg), nil
	}
}

// buildRunLock returns the cross-instance run lock, or nil for a single
// instance. The returned closer may be nil.
func buildRunLock(ctx context.Context, cfg *config.Config, pool dbPool) (scheduler.RunLock, func() error, error) {
	switch cfg.Lock.Backend {
	case lockRedis:
		client, err := locks.NewRedisClient(ctx, cfg.Lock.RedisURL.Unmask())
		if err != nil {
			return nil, nil, fmt.Errorf("connecting run lock: %w", err)
		}
		return locks.NewRedisLock(client, locks.WorkerID()), client.Close, nil
	case lockPostgres:
		return locks.NewPostgresLock(db.NewJobLockRepository(pool), locks.WorkerID()), nil, nil
	default:
		return nil, nil, nil
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthProbes lists the dependencies reported by /health. The mail probe
// reports the construction error; it never dials the relay.
func healthProbes(pool dbPool, ledger ledgerStore, unavailable error) []core.HealthProbe {
	probes := []core.HealthProbe{
		core.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
	}
	if p, ok := ledger.(pinger); ok {
		probes = append(probes, core.ProbeFunc{ProbeName: "ledger", Fn: p.Ping})
	}
	probes = append(probes, core.ProbeFunc{ProbeName: "mail", Fn: func(context.Context) error {
		return unavailable
	}})
	return probes
}
