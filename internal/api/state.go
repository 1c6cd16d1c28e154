package api

import (
	"context"
	"net/http"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	connectorsprocessor "marketing-server/internal/connectors/processor"
	"marketing-server/internal/observability"
	settingsprocessor "marketing-server/internal/settings/processor"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
)

// SettingsSource feeds the snapshot's settings block.
type SettingsSource interface {
	ListSections(ctx context.Context) ([]settingsprocessor.SectionView, error)
	AuditTrail(ctx context.Context, limit int) ([]store.SettingsAuditEntry, error)
}

// ConnectorsSource feeds the snapshot's connectors block.
type ConnectorsSource interface {
	List(ctx context.Context) ([]connectorsprocessor.ConnectorView, error)
}

// RunsSource feeds the snapshot's runs block.
type RunsSource interface {
	List(ctx context.Context) ([]store.BrainRun, error)
}

// CampaignsSource feeds the snapshot's campaigns block.
type CampaignsSource interface {
	List(ctx context.Context) ([]store.Campaign, error)
}

// AutomationSource feeds the snapshot's automation block.
type AutomationSource interface {
	State(ctx context.Context) (store.OptimizationState, error)
	History(ctx context.Context, limit int) ([]store.OptimizationEvent, error)
}

// GovernanceSource feeds the snapshot's governance block.
type GovernanceSource interface {
	State(ctx context.Context) (store.GovernanceState, error)
	Log(ctx context.Context, limit int) ([]store.GovernanceLogEntry, error)
}

// NotificationsSource feeds the snapshot's notifications block.
type NotificationsSource interface {
	State(ctx context.Context) (store.NotificationsState, error)
	Log(ctx context.Context, limit int) ([]store.NotificationEntry, error)
}

// StateHandler serves the single read-side snapshot the admin UI boots
// from, aggregated across every module.
type StateHandler struct {
	settings      SettingsSource
	connectors    ConnectorsSource
	runs          RunsSource
	campaigns     CampaignsSource
	automation    AutomationSource
	governance    GovernanceSource
	notifications NotificationsSource
	logger        *observability.Logger
}

func NewStateHandler(
	settings SettingsSource,
	connectors ConnectorsSource,
	runs RunsSource,
	campaigns CampaignsSource,
	automation AutomationSource,
	governance GovernanceSource,
	notifications NotificationsSource,
	logger *observability.Logger,
) *StateHandler {
	return &StateHandler{
		settings:      settings,
		connectors:    connectors,
		runs:          runs,
		campaigns:     campaigns,
		automation:    automation,
		governance:    governance,
		notifications: notifications,
		logger:        logger,
	}
}

// HandleState assembles the full admin snapshot. Secrets are already
// masked by the per-module views.
func (h *StateHandler) HandleState(c *gin.Context, _ auth.Actor) {
	ctx := c.Request.Context()

	sections, err := h.settings.ListSections(ctx)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	settingsAudit, err := h.settings.AuditTrail(ctx, 20)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	connectors, err := h.connectors.List(ctx)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	runs, err := h.runs.List(ctx)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	campaigns, err := h.campaigns.List(ctx)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	automationState, err := h.automation.State(ctx)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	automationHistory, err := h.automation.History(ctx, 20)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	governanceState, err := h.governance.State(ctx)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	governanceLog, err := h.governance.Log(ctx, 20)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	notificationsState, err := h.notifications.State(ctx)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	notificationsLog, err := h.notifications.Log(ctx, 10)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"settings":      sections,
		"settingsAudit": settingsAudit,
		"connectors":    connectors,
		"runs":          runs,
		"campaigns":     campaigns,
		"automation": gin.H{
			"state":    automationState,
			"history":  automationHistory,
			"revision": automationState.Revision,
		},
		"governance": gin.H{
			"state":    governanceState,
			"log":      governanceLog,
			"revision": governanceState.Revision,
		},
		"notifications": gin.H{
			"state":    notificationsState,
			"log":      notificationsLog,
			"revision": notificationsState.Revision,
		},
	})
}
