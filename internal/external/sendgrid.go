package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"avisos/internal/types"
)

const (
	sendGridAPIBase  = "https://api.sendgrid.com"
	defaultUserAgent = "avisos"
)

// SendGridClientConfig configures a SendGridClient.
type SendGridClientConfig struct {
	APIKey  types.SecretString
	BaseURL string // defaults to sendGridAPIBase
	// UserAgent defaults to defaultUserAgent.
	UserAgent string
	Logger    *slog.Logger
}

// SendGridClient implements EmailProvider over the SendGrid v3 Mail Send API
// with inline content. Requests go through BaseClient without in-call retries.
type SendGridClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient creates a SendGridClient. An empty API key is a
// configuration error.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) (*SendGridClient, error) {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	base := NewBaseClient(httpClient, "sendgrid", NoRetryPolicy(), ua)
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient over a caller-provided
// BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) (*SendGridClient, error) {
	if !cfg.APIKey.IsSet() {
		return nil, types.NewAppError(types.ErrCodeConfigMailUnavailable, "SENDGRID_API_KEY is not set", nil)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Name implements EmailProvider.
func (s *SendGridClient) Name() string { return "sendgrid" }

// Send posts one message. SendGrid answers 202 with the message ID in
// X-Message-Id.
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(buildSendGridPayload(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal SendGrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey.Unmask())

	resp, err := s.base.Do(req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return "", appErr
		}
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SendGrid request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.handleErrorResponse(resp)
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// buildSendGridPayload orders content text/plain first, as the API requires.
func buildSendGridPayload(input types.SendInput) sendGridMailPayload {
	p := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{
			To: []sendGridAddress{{Email: input.To.Address, Name: input.To.Name}},
		}},
		From:    sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Subject: input.Subject,
	}
	if input.BodyText != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		p.Content = append(p.Content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}
	if input.ReferenceID != "" {
		p.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}
	return p
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid returned %d with unreadable body", resp.StatusCode), err)
	}

	msg, field := string(body), ""
	var sgErr sendGridErrorResponse
	if json.Unmarshal(body, &sgErr) == nil && len(sgErr.Errors) > 0 {
		msg, field = sgErr.Errors[0].Message, sgErr.Errors[0].Field
	}
	return mapSendGridStatus(resp.StatusCode, field, msg)
}

// mapSendGridStatus classifies non-2xx answers. Anything the API will reject
// again on the next attempt maps to an email_* code.
func mapSendGridStatus(status int, field, message string) error {
	switch {
	case status == http.StatusForbidden:
		return types.NewAppError(types.ErrCodeEmailBlocked, "SendGrid blocked delivery: "+message, nil)
	case status == http.StatusBadRequest && strings.Contains(field, "to"):
		return types.NewAppError(types.ErrCodeEmailInvalidRecipient, "SendGrid rejected recipient: "+message, nil)
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge:
		return types.NewAppError(types.ErrCodeEmailContentRejected, "SendGrid rejected message: "+message, nil)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SendGrid rate limit exceeded", nil)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SendGrid server error: "+message, nil)
	default:
		// 401 and friends: credentials may be rotated before the next run.
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid error (%d): %s", status, message), nil)
	}
}

var _ EmailProvider = (*SendGridClient)(nil)
