// Package handlers contains the HTTP handlers of the notification control
// surface mounted under /notificacoes.
package handlers

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"avisos/internal/core"
	"avisos/internal/notifications/email"
	"avisos/internal/rules"
	"avisos/internal/types"
)

// SchedulerControl is the part of the scheduler the handler drives.
type SchedulerControl interface {
	Start(ctx context.Context) (types.SchedulerState, error)
	Stop(ctx context.Context) (types.SchedulerState, error)
	Status(ctx context.Context) types.SchedulerState
	SetEnabled(ctx context.Context, id string, enabled bool) (types.JobStatus, error)
	TriggerManual(ctx context.Context) ([]types.RunReport, error)
}

// Renderer renders one notification.
type Renderer interface {
	Render(kind types.NotificationKind, payload types.Payload) (*types.RenderedMessage, error)
}

// Sender delivers one rendered notification.
type Sender interface {
	Send(ctx context.Context, to types.Recipient, msg *types.RenderedMessage, referenceID string) types.DeliveryResult
}

// NotificationHandlerConfig holds the collaborators of NotificationHandler.
type NotificationHandlerConfig struct {
	Scheduler SchedulerControl
	Renderer  Renderer
	// Sender is nil when the delivery channel could not be built; Unavailable
	// then carries the reason.
	Sender      Sender
	Unavailable error
	Validator   *core.Validator
	// Today returns the current calendar day in the scheduler's timezone.
	Today func() time.Time
	// ManualRunTimeout bounds a synchronous trigger. Zero means no bound
	// beyond the request context.
	ManualRunTimeout time.Duration
	Logger           *slog.Logger
}

// NotificationHandler maps the control endpoints onto the scheduler and the
// test-send path.
type NotificationHandler struct {
	sched       SchedulerControl
	renderer    Renderer
	sender      Sender
	unavailable error
	validator   *core.Validator
	today       func() time.Time
	runTimeout  time.Duration
	logger      *slog.Logger
}

// NewNotificationHandler applies defaults for the optional fields.
func NewNotificationHandler(cfg NotificationHandlerConfig) *NotificationHandler {
	h := &NotificationHandler{
		sched:       cfg.Scheduler,
		renderer:    cfg.Renderer,
		sender:      cfg.Sender,
		unavailable: cfg.Unavailable,
		validator:   cfg.Validator,
		today:       cfg.Today,
		runTimeout:  cfg.ManualRunTimeout,
		logger:      cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.validator == nil {
		h.validator = core.NewValidator(h.logger)
	}
	if h.today == nil {
		h.today = func() time.Time { return types.DayStart(time.Now()) }
	}
	if h.sender == nil && h.unavailable == nil {
		h.unavailable = types.NewAppError(types.ErrCodeConfigMailUnavailable, "mail delivery is not configured", nil)
	}
	return h
}

// RegisterRoutes mounts the endpoints. Authentication is applied by the
// caller.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notificacoes", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/iniciar", h.HandleStart)
		r.Post("/parar", h.HandleStop)
		r.Post("/verificar", h.HandleTrigger)
		r.Post("/testar/{kind}", h.HandleTestSend)
		r.Put("/jobs/{id}", h.HandleSetEnabled)
	})
}

// HandleStatus handles GET /notificacoes/status.
func (h *NotificationHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	core.Data(w, r, http.StatusOK, h.sched.Status(r.Context()))
}

// HandleStart handles POST /notificacoes/iniciar.
func (h *NotificationHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	state, err := h.sched.Start(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "scheduler start refused", "error", err)
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "scheduler started via API")
	core.Data(w, r, http.StatusOK, state)
}

// HandleStop handles POST /notificacoes/parar.
func (h *NotificationHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	state, err := h.sched.Stop(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "scheduler stop did not drain in-flight runs", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "scheduler stopped before in-flight runs finished", err))
		return
	}
	h.logger.InfoContext(r.Context(), "scheduler stopped via API")
	core.Data(w, r, http.StatusOK, state)
}

type triggerResponse struct {
	Reports []types.RunReport `json:"reports"`
}

// HandleTrigger handles POST /notificacoes/verificar. It runs every enabled
// job once and answers when all of them finished.
func (h *NotificationHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}
	reports, err := h.sched.TriggerManual(ctx)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, triggerResponse{Reports: reports})
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// HandleSetEnabled handles PUT /notificacoes/jobs/{id}.
func (h *NotificationHandler) HandleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req setEnabledRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	job, err := h.sched.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, job)
}

type testSendRequest struct {
	Name         string  `json:"name"`
	Email        string  `json:"email" validate:"required,email"`
	Amount       float64 `json:"amount" validate:"gte=0"` // reais
	Date         string  `json:"date" validate:"omitempty,calendar_date"`
	Address      string  `json:"address"`
	Index        string  `json:"index"`
	ContractCode string  `json:"contractCode"`
}

// HandleTestSend handles POST /notificacoes/testar/{kind}. It renders and
// sends one message straight through the channel, bypassing evaluation and
// the ledger.
func (h *NotificationHandler) HandleTestSend(w http.ResponseWriter, r *http.Request) {
	kind := types.NotificationKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidKind,
			"unknown notification kind "+string(kind), nil,
			map[string]any{"allowed": types.AllKinds}))
		return
	}
	if h.unavailable != nil {
		core.Error(w, r, h.unavailable)
		return
	}

	var req testSendRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	payload := h.testPayload(kind, req)
	msg, err := h.renderer.Render(kind, payload)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ref := "test/" + string(kind) + "/" + uuid.NewString()
	result := h.sender.Send(r.Context(), types.Recipient{Name: req.Name, Address: req.Email}, msg, ref)

	logger := h.logger.With("kind", kind, "reference", ref, "to", email.RedactEmail(req.Email))
	if result.Delivered {
		logger.InfoContext(r.Context(), "test notification delivered", "message_id", result.MessageID)
	} else {
		logger.WarnContext(r.Context(), "test notification failed", "class", result.Class, "code", result.Code, "reason", result.Reason)
	}
	core.Data(w, r, http.StatusOK, result)
}

// testPayload maps the request onto a payload. A weekly report gets an empty
// summary of the current week so the template can be previewed.
func (h *NotificationHandler) testPayload(kind types.NotificationKind, req testSendRequest) types.Payload {
	p := types.Payload{
		Name:              req.Name,
		Email:             req.Email,
		AmountCents:       int64(math.Round(req.Amount * 100)),
		PropertyAddress:   req.Address,
		ContractCode:      req.ContractCode,
		ReadjustmentIndex: req.Index,
	}
	if req.Date != "" {
		// Format already checked by the calendar_date tag.
		p.Date, _ = time.Parse(time.DateOnly, req.Date)
	}
	if kind == types.KindWeeklyReport {
		day := p.Date
		if day.IsZero() {
			day = h.today()
		}
		start, end := rules.WeekBounds(day)
		p.Summary = &types.WeeklySummary{WeekStart: start, WeekEnd: end}
	}
	return p
}
