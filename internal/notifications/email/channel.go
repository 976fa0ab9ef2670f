package email

import (
	"context"
	"strings"
	"time"

	"avisos/internal/external"
	"avisos/internal/types"
)

const defaultSendTimeout = 10 * time.Second

// Channel delivers rendered messages through an EmailProvider. It performs a
// single attempt per call; retrying is the dispatch coordinator's decision.
type Channel struct {
	provider external.EmailProvider
	from     types.SenderIdentity
	timeout  time.Duration
	logger   types.Logger
}

// ChannelConfig holds the dependencies of a Channel.
type ChannelConfig struct {
	Provider    external.EmailProvider
	From        types.SenderIdentity
	SendTimeout time.Duration
	Logger      types.Logger
}

// NewChannel validates the configuration. Failures carry
// config_mail_unavailable so callers can refuse to schedule.
func NewChannel(cfg ChannelConfig) (*Channel, error) {
	if cfg.Provider == nil {
		return nil, types.NewAppError(types.ErrCodeConfigMailUnavailable, "no email provider configured", nil)
	}
	if strings.TrimSpace(cfg.From.Address) == "" {
		return nil, types.NewAppError(types.ErrCodeConfigMailUnavailable, "sender address is empty", nil)
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = types.NopLogger{}
	}
	return &Channel{
		provider: cfg.Provider,
		from:     cfg.From,
		timeout:  cfg.SendTimeout,
		logger:   cfg.Logger,
	}, nil
}

// ProviderName identifies the underlying transport.
func (c *Channel) ProviderName() string { return c.provider.Name() }

// Send delivers msg to the recipient within the configured timeout. Errors
// are folded into the result; Send itself never fails.
func (c *Channel) Send(ctx context.Context, to types.Recipient, msg *types.RenderedMessage, referenceID string) types.DeliveryResult {
	if strings.TrimSpace(to.Address) == "" {
		return types.DeliveryResult{
			Class:  types.FailurePermanent,
			Code:   types.ErrCodeEmailInvalidRecipient,
			Reason: "recipient address is empty",
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	msgID, err := c.provider.Send(sendCtx, types.SendInput{
		To:          to,
		From:        c.from,
		Subject:     msg.Subject,
		BodyHTML:    msg.BodyHTML,
		BodyText:    msg.BodyText,
		ReferenceID: referenceID,
	})
	if err != nil {
		class, code := Classify(err)
		c.logger.Warn("email delivery failed",
			"dest", RedactEmail(to.Address),
			"reference", referenceID,
			"class", string(class),
			"code", string(code),
			"error", err.Error(),
		)
		return types.DeliveryResult{Class: class, Code: code, Reason: err.Error()}
	}

	c.logger.Info("email delivered",
		"dest", RedactEmail(to.Address),
		"reference", referenceID,
		"provider", c.provider.Name(),
		"message_id", msgID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return types.DeliveryResult{Delivered: true, MessageID: msgID}
}
