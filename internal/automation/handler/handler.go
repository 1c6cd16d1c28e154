package handler

import (
	"context"
	"errors"
	"net/http"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	"marketing-server/internal/automation/processor"
	campaignsprocessor "marketing-server/internal/campaigns/processor"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// AutomationProcessor is the processor surface the handler depends on.
type AutomationProcessor interface {
	State(ctx context.Context) (store.OptimizationState, error)
	SaveRules(ctx context.Context, rules map[string]store.AutoRule, revision int) (store.OptimizationState, error)
	Sweep(ctx context.Context, actor auth.Actor) (processor.SweepResult, error)
	RunPlaybook(ctx context.Context, playbook string, campaignID uuid.UUID, name, hypothesis string, actor auth.Actor) (store.OptimizationEvent, error)
	History(ctx context.Context, limit int) ([]store.OptimizationEvent, error)
}

type Handler struct {
	processor AutomationProcessor
	logger    *observability.Logger
}

func New(processor AutomationProcessor, logger *observability.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// RulesRequest replaces the automation rule configuration.
type RulesRequest struct {
	Rules    map[string]store.AutoRule `json:"rules" binding:"required"`
	Revision int                       `json:"revision"`
}

// PlaybookRequest runs one named playbook.
type PlaybookRequest struct {
	Playbook   string `json:"playbook" binding:"required,oneof=promote_creative duplicate_campaign schedule_test"`
	CampaignID string `json:"campaignId" binding:"omitempty,uuid"`
	Name       string `json:"name"`
	Hypothesis string `json:"hypothesis"`
}

// HandleState returns the automation configuration and learning state.
func (h *Handler) HandleState(c *gin.Context, _ auth.Actor) {
	state, err := h.processor.State(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state, "revision": state.Revision})
}

// HandleSaveRules replaces the rule configuration.
func (h *Handler) HandleSaveRules(c *gin.Context, _ auth.Actor) {
	var req RulesRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	state, err := h.processor.SaveRules(c.Request.Context(), req.Rules, req.Revision)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state, "revision": state.Revision})
}

// HandleSweep runs one automation pass over the launched campaigns.
func (h *Handler) HandleSweep(c *gin.Context, actor auth.Actor) {
	result, err := h.processor.Sweep(c.Request.Context(), actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"evaluated": result.Evaluated,
		"applied":   result.Applied,
		"skipped":   result.Skipped,
	})
}

// HandlePlaybook runs one named playbook.
func (h *Handler) HandlePlaybook(c *gin.Context, actor auth.Actor) {
	ctx := c.Request.Context()

	var req PlaybookRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "playbook", Value: req.Playbook})

	var campaignID uuid.UUID
	if req.CampaignID != "" {
		campaignID = uuid.MustParse(req.CampaignID)
	}
	event, err := h.processor.RunPlaybook(ctx, req.Playbook, campaignID, req.Name, req.Hypothesis, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "event": event})
}

// HandleHistory returns applied automation actions, newest first.
func (h *Handler) HandleHistory(c *gin.Context, _ auth.Actor) {
	events, err := h.processor.History(c.Request.Context(), 100)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "events": events})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrUnknownRule):
		apierrors.BadRequest(c, "Unknown automation rule.")
	case errors.Is(err, processor.ErrUnknownPlaybook):
		apierrors.BadRequest(c, "Unknown playbook or missing playbook input.")
	case errors.Is(err, campaignsprocessor.ErrCampaignNotFound):
		apierrors.NotFound(c, "Campaign not found.")
	case errors.Is(err, store.ErrRevisionConflict):
		apierrors.Conflict(c, "Automation rules were changed by someone else. Reload and try again.")
	default:
		apierrors.InternalError(c, err)
	}
}
