package handler

import (
	"context"
	"errors"
	"net/http"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	"marketing-server/internal/connectors/processor"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// ConnectorProcessor is the processor surface the handler depends on.
type ConnectorProcessor interface {
	Connect(ctx context.Context, platform string, fields map[string]string, actor auth.Actor) (processor.ConnectResult, error)
	Test(ctx context.Context, platform string, actor auth.Actor) (processor.ConnectResult, error)
	Disable(ctx context.Context, platform string, actor auth.Actor) (processor.ConnectorView, error)
	Delete(ctx context.Context, platform string, actor auth.Actor) error
	List(ctx context.Context) ([]processor.ConnectorView, error)
	AuditTrail(ctx context.Context, limit int) ([]store.IntegrationAuditEntry, error)
}

type Handler struct {
	processor ConnectorProcessor
	logger    *observability.Logger
}

func New(processor ConnectorProcessor, logger *observability.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// ConnectRequest submits credentials for one platform. Secret fields may
// carry the placeholder to keep what is already stored.
type ConnectRequest struct {
	Platform string            `json:"platform" binding:"required"`
	Fields   map[string]string `json:"fields" binding:"required"`
}

// PlatformRequest names a platform for test, disable and delete.
type PlatformRequest struct {
	Platform string `json:"platform" binding:"required"`
}

// HandleConnect saves credentials and validates them.
func (h *Handler) HandleConnect(c *gin.Context, actor auth.Actor) {
	ctx := c.Request.Context()

	var req ConnectRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "platform", Value: req.Platform})

	result, err := h.processor.Connect(ctx, req.Platform, req.Fields, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.writeResult(c, result)
}

// HandleTest re-validates stored credentials.
func (h *Handler) HandleTest(c *gin.Context, actor auth.Actor) {
	var req PlatformRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	result, err := h.processor.Test(c.Request.Context(), req.Platform, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.writeResult(c, result)
}

// HandleDisable takes a platform out of rotation without losing its
// credentials.
func (h *Handler) HandleDisable(c *gin.Context, actor auth.Actor) {
	var req PlatformRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	view, err := h.processor.Disable(c.Request.Context(), req.Platform, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "connector": view})
}

// HandleDelete wipes a platform's credentials.
func (h *Handler) HandleDelete(c *gin.Context, actor auth.Actor) {
	var req PlatformRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	if err := h.processor.Delete(c.Request.Context(), req.Platform, actor); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandleList returns the masked state of every platform.
func (h *Handler) HandleList(c *gin.Context, _ auth.Actor) {
	views, err := h.processor.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "connectors": views})
}

// HandleAudit returns the developer-facing integration log.
func (h *Handler) HandleAudit(c *gin.Context, _ auth.Actor) {
	entries, err := h.processor.AuditTrail(c.Request.Context(), 50)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": entries})
}

func (h *Handler) writeResult(c *gin.Context, result processor.ConnectResult) {
	response := gin.H{"ok": result.OK, "connector": result.View}
	if !result.OK {
		response["error"] = result.Message
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrUnknownPlatform):
		apierrors.NotFound(c, "Unknown platform.")
	case errors.Is(err, processor.ErrNotConnected):
		apierrors.Conflict(c, "This platform is not connected.")
	case errors.Is(err, processor.ErrMissingFields):
		apierrors.BadRequest(c, "Some required credential fields are missing.")
	default:
		apierrors.InternalError(c, err)
	}
}
