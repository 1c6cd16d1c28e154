package handler

import (
	"context"
	"errors"
	"net/http"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/settings/processor"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// SettingsProcessor is the processor surface the handler depends on.
type SettingsProcessor interface {
	ReadSection(ctx context.Context, section string) (processor.SectionView, error)
	ListSections(ctx context.Context) ([]processor.SectionView, error)
	SaveSection(ctx context.Context, section string, updates map[string]any, expectedRevision int, actor auth.Actor) (processor.SaveResult, error)
	TestSection(ctx context.Context, section string, updates map[string]any) (processor.SaveResult, error)
	RevertSection(ctx context.Context, section string, actor auth.Actor) (processor.SectionView, error)
	AuditTrail(ctx context.Context, limit int) ([]store.SettingsAuditEntry, error)
}

type Handler struct {
	processor SettingsProcessor
	logger    *observability.Logger
}

func New(processor SettingsProcessor, logger *observability.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// ReadRequest asks for one section by key.
type ReadRequest struct {
	Section string `json:"section" binding:"required"`
}

// SaveRequest carries a section update with its expected revision. A
// missing revision skips the optimistic concurrency check.
type SaveRequest struct {
	Section  string         `json:"section" binding:"required"`
	Record   map[string]any `json:"record" binding:"required"`
	Revision *int           `json:"revision"`
}

// RevertRequest restores the previous version of a section.
type RevertRequest struct {
	Section string `json:"section" binding:"required"`
}

// HandleRead returns one section merged over defaults, secrets masked.
func (h *Handler) HandleRead(c *gin.Context, _ auth.Actor) {
	ctx := c.Request.Context()

	var req ReadRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	view, err := h.processor.ReadSection(ctx, req.Section)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"section":  view.Section,
		"record":   view.Data,
		"revision": view.Revision,
	})
}

// HandleList returns every section's masked view.
func (h *Handler) HandleList(c *gin.Context, _ auth.Actor) {
	views, err := h.processor.ListSections(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "sections": views})
}

// HandleSave validates and persists a section update.
func (h *Handler) HandleSave(c *gin.Context, actor auth.Actor) {
	ctx := c.Request.Context()

	var req SaveRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "settings_section", Value: req.Section})

	expectedRevision := -1
	if req.Revision != nil {
		expectedRevision = *req.Revision
	}

	result, err := h.processor.SaveSection(ctx, req.Section, req.Record, expectedRevision, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if !result.OK {
		apierrors.UnprocessableEntity(c, result.Messages)
		return
	}
	response := gin.H{
		"ok":       true,
		"section":  result.View.Section,
		"record":   result.View.Data,
		"revision": result.View.Revision,
	}
	if len(result.Messages) > 0 {
		response["messages"] = result.Messages
	}
	c.JSON(http.StatusOK, response)
}

// HandleTest runs save validation without persisting anything.
func (h *Handler) HandleTest(c *gin.Context, _ auth.Actor) {
	var req SaveRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	result, err := h.processor.TestSection(c.Request.Context(), req.Section, req.Record)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if !result.OK {
		apierrors.UnprocessableEntity(c, result.Messages)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "messages": result.Messages})
}

// HandleRevert restores the previous saved version of a section.
func (h *Handler) HandleRevert(c *gin.Context, actor auth.Actor) {
	var req RevertRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	view, err := h.processor.RevertSection(c.Request.Context(), req.Section, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"section":  view.Section,
		"record":   view.Data,
		"revision": view.Revision,
	})
}

// HandleAudit returns the most recent settings changes, newest first.
func (h *Handler) HandleAudit(c *gin.Context, _ auth.Actor) {
	entries, err := h.processor.AuditTrail(c.Request.Context(), 50)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": entries})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrUnknownSection):
		apierrors.NotFound(c, "Unknown settings section.")
	case errors.Is(err, processor.ErrNothingToRevert):
		apierrors.Conflict(c, "There is no previous version to revert to.")
	case errors.Is(err, store.ErrRevisionConflict):
		apierrors.Conflict(c, "Settings were changed by someone else. Reload and try again.")
	default:
		apierrors.InternalError(c, err)
	}
}
