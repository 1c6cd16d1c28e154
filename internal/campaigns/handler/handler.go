package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	"marketing-server/internal/campaigns/processor"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// CampaignProcessor is the processor surface the handler depends on.
type CampaignProcessor interface {
	Launch(ctx context.Context, run store.BrainRun, campaignTypes []string, landing processor.LandingOptions, actor auth.Actor) ([]store.Campaign, error)
	Pause(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (store.Campaign, error)
	Resume(ctx context.Context, id uuid.UUID, actor auth.Actor) (store.Campaign, error)
	IngestMetrics(ctx context.Context, id uuid.UUID, update processor.MetricsUpdate, actor auth.Actor) (store.Campaign, error)
	UpdateBudget(ctx context.Context, id uuid.UUID, budget store.CampaignBudget, actor auth.Actor) (store.Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (store.Campaign, error)
	List(ctx context.Context) ([]store.Campaign, error)
}

// RunReader loads runs so launches can reference their plan.
type RunReader interface {
	Get(ctx context.Context, runID int) (store.BrainRun, error)
}

type Handler struct {
	processor CampaignProcessor
	runs      RunReader
	logger    *observability.Logger
}

func New(processor CampaignProcessor, runs RunReader, logger *observability.Logger) *Handler {
	return &Handler{processor: processor, runs: runs, logger: logger}
}

// LaunchRequest starts campaigns of the requested types from a run's
// plan, with an optional landing page choice.
type LaunchRequest struct {
	RunID         int      `json:"runId" binding:"required,gt=0"`
	CampaignTypes []string `json:"campaignTypes" binding:"required,min=1,dive,required"`
	Landing       struct {
		Mode     string `json:"mode" binding:"omitempty,oneof=existing auto"`
		URL      string `json:"url"`
		Headline string `json:"headline"`
		Offer    string `json:"offer"`
		CTA      string `json:"cta"`
		Contact  string `json:"contact"`
	} `json:"landing"`
}

// CampaignRequest names one campaign.
type CampaignRequest struct {
	CampaignID string `json:"campaignId" binding:"required,uuid"`
	Reason     string `json:"reason"`
}

// MetricsRequest is a cumulative metric snapshot for one campaign.
type MetricsRequest struct {
	CampaignID  string           `json:"campaignId" binding:"required,uuid"`
	Impressions int64            `json:"impressions" binding:"gte=0"`
	Clicks      int64            `json:"clicks" binding:"gte=0"`
	Spend       float64          `json:"spend" binding:"gte=0"`
	Frequency   float64          `json:"frequency" binding:"gte=0"`
	Leads       []map[string]any `json:"leads"`
}

// BudgetRequest replaces a campaign's spend limits.
type BudgetRequest struct {
	CampaignID string  `json:"campaignId" binding:"required,uuid"`
	Daily      float64 `json:"daily" binding:"required,gt=0"`
	Monthly    float64 `json:"monthly" binding:"required,gt=0"`
}

// HandleLaunch starts the requested campaigns from a run.
func (h *Handler) HandleLaunch(c *gin.Context, actor auth.Actor) {
	ctx := c.Request.Context()

	var req LaunchRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	run, err := h.runs.Get(ctx, req.RunID)
	if err != nil {
		apierrors.NotFound(c, "Run not found.")
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "campaign_types", Value: strings.Join(req.CampaignTypes, ",")})

	landing := processor.LandingOptions{
		Mode:     req.Landing.Mode,
		URL:      req.Landing.URL,
		Headline: req.Landing.Headline,
		Offer:    req.Landing.Offer,
		CTA:      req.Landing.CTA,
		Contact:  req.Landing.Contact,
	}
	launched, err := h.processor.Launch(ctx, run, req.CampaignTypes, landing, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "launched": launched})
}

// HandlePause pauses one launched campaign.
func (h *Handler) HandlePause(c *gin.Context, actor auth.Actor) {
	var req CampaignRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	campaign, err := h.processor.Pause(c.Request.Context(), uuid.MustParse(req.CampaignID), req.Reason, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "campaign": campaign})
}

// HandleResume resumes one paused campaign.
func (h *Handler) HandleResume(c *gin.Context, actor auth.Actor) {
	var req CampaignRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	campaign, err := h.processor.Resume(c.Request.Context(), uuid.MustParse(req.CampaignID), actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "campaign": campaign})
}

// HandleMetricsIngest applies a metric snapshot and new leads.
func (h *Handler) HandleMetricsIngest(c *gin.Context, actor auth.Actor) {
	var req MetricsRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	campaign, err := h.processor.IngestMetrics(c.Request.Context(), uuid.MustParse(req.CampaignID), processor.MetricsUpdate{
		Impressions: req.Impressions,
		Clicks:      req.Clicks,
		Spend:       req.Spend,
		Frequency:   req.Frequency,
		Leads:       req.Leads,
	}, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "campaign": campaign})
}

// HandleBudget replaces a campaign's spend limits.
func (h *Handler) HandleBudget(c *gin.Context, actor auth.Actor) {
	var req BudgetRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	campaign, err := h.processor.UpdateBudget(c.Request.Context(), uuid.MustParse(req.CampaignID), store.CampaignBudget{
		Daily:   req.Daily,
		Monthly: req.Monthly,
	}, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "campaign": campaign})
}

// HandleGet returns one campaign with its audit trail.
func (h *Handler) HandleGet(c *gin.Context, _ auth.Actor) {
	var req CampaignRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	campaign, err := h.processor.Get(c.Request.Context(), uuid.MustParse(req.CampaignID))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "campaign": campaign})
}

// HandleList returns every campaign.
func (h *Handler) HandleList(c *gin.Context, _ auth.Actor) {
	campaigns, err := h.processor.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "campaigns": campaigns})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrCampaignNotFound):
		apierrors.NotFound(c, "Campaign not found.")
	case errors.Is(err, processor.ErrUnknownCampaignType):
		apierrors.BadRequest(c, "Unknown campaign type.")
	case errors.Is(err, processor.ErrNoCampaignTypes):
		apierrors.BadRequest(c, "At least one campaign type is required.")
	case errors.Is(err, processor.ErrInvalidStatusChange):
		apierrors.Conflict(c, "That action is not allowed in the campaign's current state.")
	case errors.Is(err, processor.ErrEmergencyStopActive):
		apierrors.Conflict(c, "Emergency stop is active. Release it before launching or resuming.")
	case errors.Is(err, processor.ErrNothingLaunched):
		apierrors.Conflict(c, "No campaigns could be launched. Check connector status.")
	default:
		apierrors.InternalError(c, err)
	}
}
