package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/engine"
	"github.com/projectpulse/beacon/internal/metrics"
	"github.com/projectpulse/beacon/internal/notify"
	"github.com/projectpulse/beacon/internal/redis"
)

// Engine is the notification engine surface the API exposes.
type Engine interface {
	Create(ctx context.Context, req notify.CreateRequest) (*notify.Notification, notify.ChannelSet, error)
	Get(ctx context.Context, id uuid.UUID) (*notify.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkUnread(ctx context.Context, id uuid.UUID) error
	Pin(ctx context.Context, id uuid.UUID) error
	Unpin(ctx context.Context, id uuid.UUID) error
	Archive(ctx context.Context, id uuid.UUID) error
	Unarchive(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	Feed(ctx context.Context, recipientID string, q engine.FeedQuery) *engine.Snapshot
	StatsFor(ctx context.Context, recipientID string) *engine.Stats
	Subscribe(ctx context.Context, recipientID string) *engine.Subscriber
}

// Preferences is the per-recipient settings store surface.
type Preferences interface {
	Get(ctx context.Context, recipientID string) (*notify.Settings, error)
	Update(ctx context.Context, recipientID string, patch *notify.SettingsPatch) (*notify.Settings, error)
}

// CreateResponse is returned after creating a notification.
type CreateResponse struct {
	ID       string   `json:"id"`
	Channels []string `json:"channels"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	engine      Engine
	prefs       Preferences
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, eng Engine, prefs Preferences) *Handler {
	return &Handler{
		logger: logger,
		engine: eng,
		prefs:  prefs,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotency support
func NewHandlerWithIdempotency(logger *zap.Logger, eng Engine, prefs Preferences, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		engine:      eng,
		prefs:       prefs,
		idempotency: idempotency,
	}
}

// Routes mounts the v1 API onto the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/notifications", h.CreateNotification)
		r.Route("/notifications/{id}", func(r chi.Router) {
			r.Get("/", h.GetNotification)
			r.Delete("/", h.DeleteNotification)
			r.Post("/read", h.lifecycle("read"))
			r.Post("/unread", h.lifecycle("unread"))
			r.Post("/pin", h.lifecycle("pin"))
			r.Post("/unpin", h.lifecycle("unpin"))
			r.Post("/archive", h.lifecycle("archive"))
			r.Post("/unarchive", h.lifecycle("unarchive"))
		})
		r.Route("/recipients/{recipientID}", func(r chi.Router) {
			r.Get("/feed", h.GetFeed)
			r.Get("/feed/stream", h.StreamFeed)
			r.Get("/stats", h.GetStats)
			r.Get("/settings", h.GetSettings)
			r.Patch("/settings", h.UpdateSettings)
		})
	})
}

// CreateNotification handles POST /v1/notifications
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req notify.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	// Idempotency keys are scoped per recipient, so the recipient must be
	// known before the key can be checked.
	if idempotencyKey != "" && h.idempotency != nil && req.RecipientID != "" {
		cachedResult, err := h.idempotency.CheckOrReserve(ctx, req.RecipientID, idempotencyKey)

		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cachedResult != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cachedResult.StatusCode)
			_ = json.NewEncoder(w).Encode(CreateResponse{
				ID:       cachedResult.NotificationID,
				Channels: cachedResult.Channels,
			})
			return
		}
	}

	n, channels, err := h.engine.Create(ctx, req)
	if err != nil {
		if notify.IsValidation(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", err.Error())
			return
		}
		h.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("recipient_id", req.RecipientID),
			zap.String("type", string(req.Type)),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create notification", "")
		return
	}

	h.logger.Info("notification created",
		zap.String("id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID),
		zap.String("type", string(n.Type)),
		zap.String("channels", channels.String()),
	)

	channelNames := make([]string, 0, len(channels))
	for _, c := range channels.Slice() {
		channelNames = append(channelNames, string(c))
	}

	resp := CreateResponse{
		ID:       n.ID.String(),
		Channels: channelNames,
	}

	if idempotencyKey != "" && h.idempotency != nil && req.RecipientID != "" {
		result := &redis.IdempotencyResult{
			NotificationID: resp.ID,
			Channels:       resp.Channels,
			StatusCode:     http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, req.RecipientID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	notifID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	n, err := h.engine.Get(ctx, notifID)
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("id", notifID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to get notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(n)
}

// lifecycle returns a handler for POST /v1/notifications/{id}/{action}.
// All lifecycle transitions are idempotent, so a repeated action still
// answers 200.
func (h *Handler) lifecycle(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		notifID, ok := h.parseID(w, r)
		if !ok {
			return
		}

		var err error
		switch action {
		case "read":
			err = h.engine.MarkRead(ctx, notifID)
		case "unread":
			err = h.engine.MarkUnread(ctx, notifID)
		case "pin":
			err = h.engine.Pin(ctx, notifID)
		case "unpin":
			err = h.engine.Unpin(ctx, notifID)
		case "archive":
			err = h.engine.Archive(ctx, notifID)
		case "unarchive":
			err = h.engine.Unarchive(ctx, notifID)
		default:
			err = fmt.Errorf("unknown lifecycle action %q", action)
		}

		if err != nil {
			if errors.Is(err, notify.ErrNotFound) {
				h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
				return
			}
			h.logger.Error("lifecycle transition failed",
				zap.Error(err),
				zap.String("id", notifID.String()),
				zap.String("action", action),
			)
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to apply transition", "")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     notifID.String(),
			"status": action,
		})
	}
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	notifID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.engine.Delete(ctx, notifID); err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to delete notification",
			zap.Error(err),
			zap.String("id", notifID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete notification", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetFeed handles GET /v1/recipients/{recipientID}/feed?include=archived|all
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipientID := chi.URLParam(r, "recipientID")
	if recipientID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient ID", "")
		return
	}

	var q engine.FeedQuery
	switch include := r.URL.Query().Get("include"); include {
	case "":
		q = engine.FeedDefault
	case "archived":
		q = engine.FeedArchived
	case "all":
		q = engine.FeedAll
	default:
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid include parameter",
			"include must be archived or all")
		return
	}

	snap := h.engine.Feed(ctx, recipientID, q)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(snap)
}

// StreamFeed handles GET /v1/recipients/{recipientID}/feed/stream as a
// server-sent event stream. The first event is the current snapshot;
// later events follow engine mutations.
func (h *Handler) StreamFeed(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	if recipientID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient ID", "")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming_unsupported",
			"Streaming unsupported", "response writer does not support flushing")
		return
	}

	sub := h.engine.Subscribe(r.Context(), recipientID)
	defer sub.Close()

	metrics.FeedSubscriberConnected()
	defer metrics.FeedSubscriberDisconnected()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-sub.C():
			if !open {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("failed to marshal snapshot",
					zap.Error(err),
					zap.String("recipient_id", recipientID),
				)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Seq, payload)
			flusher.Flush()
		}
	}
}

// GetStats handles GET /v1/recipients/{recipientID}/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipientID := chi.URLParam(r, "recipientID")
	if recipientID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient ID", "")
		return
	}

	stats := h.engine.StatsFor(ctx, recipientID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}

// GetSettings handles GET /v1/recipients/{recipientID}/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipientID := chi.URLParam(r, "recipientID")
	if recipientID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient ID", "")
		return
	}

	settings, err := h.prefs.Get(ctx, recipientID)
	if err != nil {
		h.logger.Error("failed to load settings",
			zap.Error(err),
			zap.String("recipient_id", recipientID),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load settings", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(settings)
}

// UpdateSettings handles PATCH /v1/recipients/{recipientID}/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipientID := chi.URLParam(r, "recipientID")
	if recipientID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient ID", "")
		return
	}

	var patch notify.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	settings, err := h.prefs.Update(ctx, recipientID, &patch)
	if err != nil {
		if notify.IsValidation(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", err.Error())
			return
		}
		h.logger.Error("failed to update settings",
			zap.Error(err),
			zap.String("recipient_id", recipientID),
		)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to update settings", "")
		return
	}

	h.logger.Info("settings updated",
		zap.String("recipient_id", recipientID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(settings)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	notifID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return notifID, true
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
