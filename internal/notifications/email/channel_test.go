package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"avisos/internal/types"
)

type mockEmailProvider struct {
	calls    int
	input    types.SendInput
	msgID    string
	err      error
	deadline bool
}

func (m *mockEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	m.calls++
	m.input = input
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return "", m.err
	}
	return m.msgID, nil
}

func (m *mockEmailProvider) Name() string { return "mock" }

func newTestChannel(t *testing.T, p *mockEmailProvider) *Channel {
	t.Helper()
	ch, err := NewChannel(ChannelConfig{
		Provider:    p,
		From:        types.SenderIdentity{Address: "avisos@imob.com.br", Name: "Administradora"},
		SendTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewChannel() error: %v", err)
	}
	return ch
}

var testMessage = &types.RenderedMessage{Subject: "Assunto", BodyHTML: "<p>x</p>", BodyText: "x"}

func TestChannelSend_Delivered(t *testing.T) {
	p := &mockEmailProvider{msgID: "m-1"}
	res := newTestChannel(t, p).Send(context.Background(),
		types.Recipient{Name: "Ana", Address: "ana@example.com"}, testMessage, "birthday/t1/birthday:2025")

	if !res.Delivered || res.MessageID != "m-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if p.input.From.Address != "avisos@imob.com.br" || p.input.Subject != "Assunto" {
		t.Errorf("provider got %+v", p.input)
	}
	if p.input.ReferenceID != "birthday/t1/birthday:2025" {
		t.Errorf("reference = %q", p.input.ReferenceID)
	}
	if !p.deadline {
		t.Error("send context has no deadline")
	}
}

func TestChannelSend_Classification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class types.FailureClass
		code  types.ErrorCode
	}{
		{"blocked", types.NewAppError(types.ErrCodeEmailBlocked, "x", nil), types.FailurePermanent, types.ErrCodeEmailBlocked},
		{"bad recipient", types.NewAppError(types.ErrCodeEmailInvalidRecipient, "x", nil), types.FailurePermanent, types.ErrCodeEmailInvalidRecipient},
		{"relay down", types.NewAppError(types.ErrCodeUpstreamUnavailable, "x", nil), types.FailureTransient, types.ErrCodeUpstreamUnavailable},
		{"timeout", context.DeadlineExceeded, types.FailureTransient, types.ErrCodeUpstreamTimeout},
		{"unknown", errors.New("boom"), types.FailureTransient, types.ErrCodeUpstreamUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := newTestChannel(t, &mockEmailProvider{err: tc.err}).Send(context.Background(),
				types.Recipient{Address: "ana@example.com"}, testMessage, "ref")
			if res.Delivered {
				t.Fatal("expected failure")
			}
			if res.Class != tc.class || res.Code != tc.code {
				t.Errorf("got (%s, %s), want (%s, %s)", res.Class, res.Code, tc.class, tc.code)
			}
			if res.Reason == "" {
				t.Error("reason is empty")
			}
		})
	}
}

func TestChannelSend_EmptyRecipient(t *testing.T) {
	p := &mockEmailProvider{}
	res := newTestChannel(t, p).Send(context.Background(), types.Recipient{}, testMessage, "ref")
	if res.Class != types.FailurePermanent {
		t.Errorf("class = %s", res.Class)
	}
	if p.calls != 0 {
		t.Error("provider called for empty recipient")
	}
}

func TestNewChannel_Unavailable(t *testing.T) {
	_, err := NewChannel(ChannelConfig{From: types.SenderIdentity{Address: "a@b.c"}})
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeConfigMailUnavailable {
		t.Fatalf("expected config_mail_unavailable, got %v", err)
	}

	_, err = NewChannel(ChannelConfig{Provider: &mockEmailProvider{}})
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeConfigMailUnavailable {
		t.Fatalf("expected config_mail_unavailable, got %v", err)
	}
}

func TestRedactEmail(t *testing.T) {
	cases := map[string]string{
		"maria@imob.com.br": "m***@imob.com.br",
		"élio@x.com":        "é***@x.com",
		"@x.com":            "***@x.com",
		"noatsign":          "***",
		"":                  "",
	}
	for in, want := range cases {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
