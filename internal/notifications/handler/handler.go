package handler

import (
	"context"
	"errors"
	"net/http"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// NotificationsProcessor is the processor surface the handler depends on.
type NotificationsProcessor interface {
	State(ctx context.Context) (store.NotificationsState, error)
	Save(ctx context.Context, digest store.DailyDigest, instant store.InstantAlerts, revision int, actor auth.Actor) (store.NotificationsState, error)
	Log(ctx context.Context, limit int) ([]store.NotificationEntry, error)
}

type Handler struct {
	processor NotificationsProcessor
	logger    *observability.Logger
}

func New(processor NotificationsProcessor, logger *observability.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// SaveRequest updates the alerting configuration.
type SaveRequest struct {
	DailyDigest struct {
		Enabled  bool   `json:"enabled"`
		Time     string `json:"time" binding:"omitempty,datetime=15:04"`
		Channels struct {
			Email    bool `json:"email"`
			WhatsApp bool `json:"whatsapp"`
		} `json:"channels"`
	} `json:"dailyDigest"`
	Instant struct {
		Email    bool `json:"email"`
		WhatsApp bool `json:"whatsapp"`
	} `json:"instant"`
	Revision int `json:"revision"`
}

// HandleState returns the alerting configuration and recent alerts.
func (h *Handler) HandleState(c *gin.Context, _ auth.Actor) {
	ctx := c.Request.Context()

	state, err := h.processor.State(ctx)
	if err != nil {
		h.handleError(c, err)
		return
	}
	entries, err := h.processor.Log(ctx, 10)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state, "log": entries, "revision": state.Revision})
}

// HandleSave updates the alerting configuration.
func (h *Handler) HandleSave(c *gin.Context, actor auth.Actor) {
	var req SaveRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	saved, err := h.processor.Save(c.Request.Context(), store.DailyDigest{
		Enabled: req.DailyDigest.Enabled,
		Time:    req.DailyDigest.Time,
		Channels: store.DigestChannels{
			Email:    req.DailyDigest.Channels.Email,
			WhatsApp: req.DailyDigest.Channels.WhatsApp,
		},
	}, store.InstantAlerts{
		Email:    req.Instant.Email,
		WhatsApp: req.Instant.WhatsApp,
	}, req.Revision, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": saved, "revision": saved.Revision})
}

// HandleLog returns the most recent alerts.
func (h *Handler) HandleLog(c *gin.Context, _ auth.Actor) {
	entries, err := h.processor.Log(c.Request.Context(), 50)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": entries})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrRevisionConflict):
		apierrors.Conflict(c, "Notification settings were changed by someone else. Reload and try again.")
	default:
		apierrors.InternalError(c, err)
	}
}
