package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/wneessen/go-mail"

	"avisos/internal/types"
)

// SMTPConfig configures an SMTPClient.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password types.SecretString
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when offered, or required when RequireTLS is set.
	ImplicitTLS bool
	RequireTLS  bool
	Timeout     time.Duration
	Logger      *slog.Logger
}

// mailSender is the subset of *mail.Client used for delivery.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPClient implements EmailProvider over an SMTP relay using go-mail. A new
// connection is dialed per message; volumes are a few dozen per run.
type SMTPClient struct {
	host    string
	dial    func() (mailSender, error)
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewSMTPClient validates the relay settings. A missing host is a
// configuration error surfaced as config_mail_unavailable.
func NewSMTPClient(cfg SMTPConfig) (*SMTPClient, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, types.NewAppError(types.ErrCodeConfigMailUnavailable, "SMTP_HOST is not set", nil)
	}
	if cfg.Username != "" && !cfg.Password.IsSet() {
		return nil, types.NewAppError(types.ErrCodeConfigMailUnavailable, "SMTP_USER is set without SMTP_PASSWORD", nil)
	}

	opts := smtpOptions(cfg)
	// Fail fast on option errors instead of at the first send.
	if _, err := mail.NewClient(cfg.Host, opts...); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigMailUnavailable, "invalid SMTP configuration", err)
	}

	c := newSMTPClient(cfg.Host, func() (mailSender, error) {
		return mail.NewClient(cfg.Host, opts...)
	})
	if cfg.Logger != nil {
		c.logger = cfg.Logger
	}
	return c, nil
}

func newSMTPClient(host string, dial func() (mailSender, error)) *SMTPClient {
	return &SMTPClient{
		host:    host,
		dial:    dial,
		breaker: newSMTPBreaker(host),
		logger:  slog.Default(),
	}
}

func smtpOptions(cfg SMTPConfig) []mail.Option {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	switch {
	case cfg.ImplicitTLS:
		opts = append(opts, mail.WithSSL())
	case cfg.RequireTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password.Unmask()),
		)
	}
	return opts
}

// newSMTPBreaker trips after five consecutive transient failures. Rejections
// of a single recipient or message do not count against the relay.
func newSMTPBreaker(host string) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "smtp:" + host,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var appErr *types.AppError
			return errors.As(err, &appErr) && appErr.Code.IsPermanentDelivery()
		},
	})
}

// Name implements EmailProvider.
func (c *SMTPClient) Name() string { return "smtp" }

// Send builds a multipart/alternative message and delivers it.
func (c *SMTPClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	msg, msgID, err := buildMessage(input)
	if err != nil {
		return "", err
	}

	_, err = c.breaker.Execute(func() (struct{}, error) {
		client, dialErr := c.dial()
		if dialErr != nil {
			return struct{}{}, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to create SMTP client", dialErr)
		}
		return struct{}{}, classifySMTPError(ctx, client.DialAndSendWithContext(ctx, msg))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("smtp breaker open, send skipped", "host", c.host)
			return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "SMTP circuit breaker open", err)
		}
		return "", err
	}
	return msgID, nil
}

// buildMessage assembles the go-mail message. Invalid addresses are permanent.
func buildMessage(input types.SendInput) (*mail.Msg, string, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(input.From.Name, input.From.Address); err != nil {
		return nil, "", types.NewAppError(types.ErrCodeConfigMailUnavailable, "invalid sender address", err)
	}
	if err := msg.AddToFormat(input.To.Name, input.To.Address); err != nil {
		return nil, "", types.NewAppError(types.ErrCodeEmailInvalidRecipient, "invalid recipient address", err)
	}
	msg.Subject(input.Subject)
	msg.SetDate()

	msgID := fmt.Sprintf("%s@%s", uuid.NewString(), senderDomain(input.From.Address))
	msg.SetGenHeader(mail.HeaderMessageID, "<"+msgID+">")
	if input.ReferenceID != "" {
		msg.SetGenHeader(mail.Header("X-Avisos-Reference"), input.ReferenceID)
	}

	switch {
	case input.BodyText != "" && input.BodyHTML != "":
		msg.SetBodyString(mail.TypeTextPlain, input.BodyText)
		msg.AddAlternativeString(mail.TypeTextHTML, input.BodyHTML)
	case input.BodyHTML != "":
		msg.SetBodyString(mail.TypeTextHTML, input.BodyHTML)
	default:
		msg.SetBodyString(mail.TypeTextPlain, input.BodyText)
	}
	return msg, msgID, nil
}

func senderDomain(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 && at < len(addr)-1 {
		return addr[at+1:]
	}
	return "localhost"
}

// classifySMTPError maps go-mail failures to AppErrors. 4xx replies, dial and
// network failures are transient; 5xx replies to RCPT, MAIL or DATA are
// permanent.
func classifySMTPError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeUpstreamTimeout, "SMTP send timed out", err)
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SMTP temporary failure", err)
		}
		switch sendErr.Reason {
		case mail.ErrSMTPRcptTo, mail.ErrGetRcpts:
			return types.NewAppError(types.ErrCodeEmailInvalidRecipient, "SMTP relay rejected recipient", err)
		case mail.ErrSMTPMailFrom:
			return types.NewAppError(types.ErrCodeEmailBlocked, "SMTP relay rejected sender", err)
		case mail.ErrSMTPData, mail.ErrSMTPDataClose:
			return types.NewAppError(types.ErrCodeEmailContentRejected, "SMTP relay rejected message", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SMTP send failed", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewAppError(types.ErrCodeUpstreamTimeout, "SMTP connection timed out", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SMTP delivery failed", err)
}

var _ EmailProvider = (*SMTPClient)(nil)
