package api

import (
	"net/http"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	automationHandler "marketing-server/internal/automation/handler"
	brainHandler "marketing-server/internal/brain/handler"
	campaignsHandler "marketing-server/internal/campaigns/handler"
	connectorsHandler "marketing-server/internal/connectors/handler"
	governanceHandler "marketing-server/internal/governance/handler"
	notificationsHandler "marketing-server/internal/notifications/handler"
	"marketing-server/internal/observability"
	settingsHandler "marketing-server/internal/settings/handler"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// actionFunc is the shared shape of every dispatched handler method.
type actionFunc func(c *gin.Context, actor auth.Actor)

type API struct {
	router        *gin.RouterGroup
	auth          auth.Service
	settings      *settingsHandler.Handler
	connectors    *connectorsHandler.Handler
	brain         *brainHandler.Handler
	campaigns     *campaignsHandler.Handler
	automation    *automationHandler.Handler
	governance    *governanceHandler.Handler
	notifications *notificationsHandler.Handler
	state         *StateHandler
	logger        *observability.Logger

	actions map[string]actionFunc
}

func New(
	router *gin.RouterGroup,
	authService auth.Service,
	settings *settingsHandler.Handler,
	connectors *connectorsHandler.Handler,
	brain *brainHandler.Handler,
	campaigns *campaignsHandler.Handler,
	automation *automationHandler.Handler,
	governance *governanceHandler.Handler,
	notifications *notificationsHandler.Handler,
	state *StateHandler,
	logger *observability.Logger,
) *API {
	a := &API{
		router:        router,
		auth:          authService,
		settings:      settings,
		connectors:    connectors,
		brain:         brain,
		campaigns:     campaigns,
		automation:    automation,
		governance:    governance,
		notifications: notifications,
		state:         state,
		logger:        logger,
	}
	a.actions = map[string]actionFunc{
		"state": a.state.HandleState,

		"read-settings":   a.settings.HandleRead,
		"list-settings":   a.settings.HandleList,
		"save-settings":   a.settings.HandleSave,
		"test-settings":   a.settings.HandleTest,
		"revert-settings": a.settings.HandleRevert,
		"settings-audit":  a.settings.HandleAudit,

		"integration-save":    a.connectors.HandleConnect,
		"integration-test":    a.connectors.HandleTest,
		"integration-disable": a.connectors.HandleDisable,
		"integration-delete":  a.connectors.HandleDelete,
		"integration-list":    a.connectors.HandleList,
		"integration-audit":   a.connectors.HandleAudit,

		"generate-plan":     a.brain.HandleGenerate,
		"update-run-status": a.brain.HandleUpdateStatus,
		"approve-plan":      a.brain.HandleApprove,
		"get-run":           a.brain.HandleGet,
		"list-runs":         a.brain.HandleList,

		"campaign-launch": a.campaigns.HandleLaunch,
		"campaign-pause":  a.campaigns.HandlePause,
		"campaign-resume": a.campaigns.HandleResume,
		"campaign-budget": a.campaigns.HandleBudget,
		"campaign-get":    a.campaigns.HandleGet,
		"campaign-list":   a.campaigns.HandleList,
		"metrics-ingest":  a.campaigns.HandleMetricsIngest,

		"automation-state":      a.automation.HandleState,
		"automation-rules-save": a.automation.HandleSaveRules,
		"automation-run":        a.automation.HandleSweep,
		"automation-history":    a.automation.HandleHistory,
		"playbook-run":          a.automation.HandlePlaybook,

		"governance-state":          a.governance.HandleState,
		"governance-budget-lock":    a.governance.HandleBudgetLock,
		"governance-emergency-stop": a.governance.HandleEmergencyStop,
		"governance-release":        a.governance.HandleRelease,
		"governance-policy-save":    a.governance.HandlePolicy,
		"governance-data-request":   a.governance.HandleDataRequest,
		"governance-log":            a.governance.HandleLog,
		"kill-switch":               a.governance.HandleEmergencyStop,

		"notifications-state": a.notifications.HandleState,
		"notifications-save":  a.notifications.HandleSave,
		"notifications-log":   a.notifications.HandleLog,
	}
	return a
}

func (a *API) RegisterRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	apiGroup := a.router.Group("/api", a.auth.Middleware())
	apiGroup.GET("/csrf", a.handleCSRF)
	apiGroup.POST("/marketing/action", a.handleAction)
}

// actionEnvelope carries the fields the dispatcher itself needs. The
// dispatched handler re-binds the cached body for its own request type.
type actionEnvelope struct {
	Action       string `json:"action" binding:"required"`
	CSRFToken    string `json:"csrfToken"`
	CSRFTokenAlt string `json:"csrf_token"`
}

func (a *API) handleCSRF(c *gin.Context) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		apierrors.Unauthorized(c, "Authentication required.")
		return
	}
	token, err := a.auth.IssueCSRFToken(c.Request.Context(), actor.ID)
	if err != nil {
		apierrors.InternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "csrfToken": token})
}

func (a *API) handleAction(c *gin.Context) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		apierrors.Unauthorized(c, "Authentication required.")
		return
	}

	var envelope actionEnvelope
	if err := c.ShouldBindBodyWith(&envelope, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	token := envelope.CSRFToken
	if token == "" {
		token = envelope.CSRFTokenAlt
	}
	if err := a.auth.VerifyCSRFToken(token, actor.ID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{
			"ok":    false,
			"error": "Session expired. Refresh the page and try again.",
		})
		return
	}

	handle, known := a.actions[envelope.Action]
	if !known {
		apierrors.BadRequest(c, "Unknown action: "+envelope.Action)
		return
	}

	ctx := observability.WithFields(c.Request.Context(),
		observability.Field{Key: "action", Value: envelope.Action})
	c.Request = c.Request.WithContext(ctx)

	handle(c, actor)
}
