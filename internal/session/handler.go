package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/bissquit/nudge/internal/notifications"
	"github.com/bissquit/nudge/internal/pkg/httputil"
	"github.com/bissquit/nudge/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Engine is the per-user engine the handler drives.
type Engine interface {
	Submit(ctx context.Context, userID string, req domain.NotificationRequest, opts notifications.SubmitOptions) (notifications.Result, error)
	RecordResponse(ctx context.Context, userID, notificationID string, opened, actionTaken bool, latencySeconds float64) (notifications.ResponseOutcome, error)
	RemoveQueued(ctx context.Context, userID, notificationID string) bool
	RecordActivity(ctx context.Context, userID string)
	SetStudySession(ctx context.Context, userID string, active bool)
	QueueStats(ctx context.Context, userID string) queue.Stats
	ModelStats(ctx context.Context, userID string) notifications.ModelStats
	RunBurnoutCheck(ctx context.Context, userID string) (notifications.BurnoutCheck, error)
	RunPeakTimeCheck(ctx context.Context, userID string) (notifications.PeakTimeCheck, error)
}

// Handler handles HTTP requests of the authenticated user.
type Handler struct {
	engine    Engine
	validator *validator.Validate
}

// NewHandler creates a new session handler.
func NewHandler(engine Engine) *Handler {
	return &Handler{
		engine:    engine,
		validator: notifications.NewValidator(),
	}
}

// RegisterRoutes registers the user's routes. They must be mounted behind
// httputil.AuthMiddleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Post("/{id}/response", h.RecordResponse)
		r.Delete("/{id}", h.RemoveQueued)
	})
	r.Post("/activity", h.RecordActivity)
	r.Get("/queue", h.QueueStats)
	r.Get("/model", h.ModelStats)
	r.Post("/burnout-check", h.BurnoutCheck)
	r.Post("/peak-time-check", h.PeakTimeCheck)
}

// SubmitRequest represents the request body for submitting a notification.
type SubmitRequest struct {
	ID             string                  `json:"id" validate:"omitempty,max=128"`
	Type           domain.NotificationType `json:"type" validate:"required,notification_type"`
	Priority       domain.Priority         `json:"priority" validate:"required,oneof=critical high medium low"`
	Title          string                  `json:"title" validate:"required,max=200"`
	Body           string                  `json:"body" validate:"max=2000"`
	TaskID         string                  `json:"task_id"`
	Data           map[string]string       `json:"data"`
	Hints          *domain.SchedulingHints `json:"hints"`
	CanDelay       *bool                   `json:"can_delay"`
	MaxDelayHours  int                     `json:"max_delay_hours" validate:"min=0,max=48"`
	ForceImmediate bool                    `json:"force_immediate"`
}

// ToDomain converts the request to a domain model for userID.
func (r *SubmitRequest) ToDomain(userID string) domain.NotificationRequest {
	return domain.NotificationRequest{
		ID:       r.ID,
		UserID:   userID,
		Type:     r.Type,
		Priority: r.Priority,
		Title:    r.Title,
		Body:     r.Body,
		TaskID:   r.TaskID,
		Data:     r.Data,
		Hints:    r.Hints,
	}
}

// Options returns the submit options. Requests are delayable unless
// can_delay is false.
func (r *SubmitRequest) Options() notifications.SubmitOptions {
	canDelay := true
	if r.CanDelay != nil {
		canDelay = *r.CanDelay
	}
	return notifications.SubmitOptions{
		CanDelay:       canDelay,
		MaxDelayHours:  r.MaxDelayHours,
		ForceImmediate: r.ForceImmediate,
	}
}

// ResponseRequest represents the user's reaction to a notification.
type ResponseRequest struct {
	Opened         bool    `json:"opened"`
	ActionTaken    bool    `json:"action_taken"`
	LatencySeconds float64 `json:"latency_seconds" validate:"min=0"`
}

// ActivityRequest records app activity. StudySession, when present, starts
// or ends a study session.
type ActivityRequest struct {
	StudySession *bool `json:"study_session"`
}

// Submit handles POST /notifications request.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	userID := httputil.GetUserID(r.Context())
	res, err := h.engine.Submit(r.Context(), userID, req.ToDomain(userID), req.Options())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, submitStatusCode(res.Status), res)
}

func submitStatusCode(s notifications.Status) int {
	switch s {
	case notifications.StatusSent:
		return http.StatusCreated
	case notifications.StatusFailed:
		return http.StatusBadGateway
	default:
		return http.StatusAccepted
	}
}

// RecordResponse handles POST /notifications/{id}/response request.
func (h *Handler) RecordResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	out, err := h.engine.RecordResponse(r.Context(), httputil.GetUserID(r.Context()), id,
		req.Opened, req.ActionTaken, req.LatencySeconds)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	httputil.Success(w, http.StatusOK, out)
}

// RemoveQueued handles DELETE /notifications/{id} request.
func (h *Handler) RemoveQueued(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.engine.RemoveQueued(r.Context(), httputil.GetUserID(r.Context()), id) {
		httputil.Error(w, http.StatusNotFound, "notification not queued")
		return
	}

	httputil.NoContent(w)
}

// RecordActivity handles POST /activity request.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	userID := httputil.GetUserID(r.Context())
	if req.StudySession != nil {
		h.engine.SetStudySession(r.Context(), userID, *req.StudySession)
	} else {
		h.engine.RecordActivity(r.Context(), userID)
	}

	httputil.NoContent(w)
}

// QueueStats handles GET /queue request.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.engine.QueueStats(r.Context(), httputil.GetUserID(r.Context())))
}

// ModelStats handles GET /model request.
func (h *Handler) ModelStats(w http.ResponseWriter, r *http.Request) {
	httputil.Success(w, http.StatusOK, h.engine.ModelStats(r.Context(), httputil.GetUserID(r.Context())))
}

// BurnoutCheck handles POST /burnout-check request.
func (h *Handler) BurnoutCheck(w http.ResponseWriter, r *http.Request) {
	check, err := h.engine.RunBurnoutCheck(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, check)
}

// PeakTimeCheck handles POST /peak-time-check request.
func (h *Handler) PeakTimeCheck(w http.ResponseWriter, r *http.Request) {
	check, err := h.engine.RunPeakTimeCheck(r.Context(), httputil.GetUserID(r.Context()))
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	httputil.Success(w, http.StatusOK, check)
}

var errorMappings = []httputil.ErrorMapping{
	{Error: notifications.ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: notifications.ErrHistoryUnavailable, Status: http.StatusServiceUnavailable, Message: "study history unavailable"},
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, notifications.ErrInvalidRequest) {
		httputil.ValidationError(w, err)
		return
	}
	httputil.HandleError(ctx, w, err, errorMappings)
}
