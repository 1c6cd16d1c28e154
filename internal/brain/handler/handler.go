package handler

import (
	"context"
	"errors"
	"net/http"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	"marketing-server/internal/brain/processor"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// BrainProcessor is the processor surface the handler depends on.
type BrainProcessor interface {
	Generate(ctx context.Context, inputs store.RunInputs, actor auth.Actor) (processor.GenerateResult, error)
	Approve(ctx context.Context, runID int, actor auth.Actor) (processor.GenerateResult, error)
	Halt(ctx context.Context, runID int) (store.BrainRun, error)
	Discard(ctx context.Context, runID int) (store.BrainRun, error)
	Submit(ctx context.Context, runID int) (store.BrainRun, error)
	Get(ctx context.Context, runID int) (store.BrainRun, error)
	List(ctx context.Context) ([]store.BrainRun, error)
}

type Handler struct {
	processor BrainProcessor
	logger    *observability.Logger
}

func New(processor BrainProcessor, logger *observability.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// GenerateRequest is the planning brief.
type GenerateRequest struct {
	Goals         []string        `json:"goals" binding:"required,min=1"`
	Regions       []string        `json:"regions"`
	Products      []string        `json:"products"`
	Languages     []string        `json:"languages"`
	DailyBudget   float64         `json:"dailyBudget" binding:"required,gt=0"`
	MonthlyBudget float64         `json:"monthlyBudget"`
	MinBid        float64         `json:"minBid"`
	CPAGuardrail  float64         `json:"cpaGuardrail"`
	AutonomyMode  string          `json:"autonomyMode" binding:"required,oneof=draft review auto"`
	Notes         string          `json:"notes"`
	Compliance    map[string]bool `json:"compliance"`
}

// RunRequest names a run for the lifecycle actions.
type RunRequest struct {
	RunID int `json:"runId" binding:"required,gt=0"`
}

// UpdateStatusRequest moves a run to a target status.
type UpdateStatusRequest struct {
	RunID  int    `json:"runId" binding:"required,gt=0"`
	Status string `json:"status" binding:"required,oneof=live pending draft halted"`
}

// HandleGenerate creates a plan from a brief.
func (h *Handler) HandleGenerate(c *gin.Context, actor auth.Actor) {
	ctx := c.Request.Context()

	var req GenerateRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "autonomy_mode", Value: req.AutonomyMode})

	result, err := h.processor.Generate(ctx, store.RunInputs{
		Goals:         req.Goals,
		Regions:       req.Regions,
		Products:      req.Products,
		Languages:     req.Languages,
		DailyBudget:   req.DailyBudget,
		MonthlyBudget: req.MonthlyBudget,
		MinBid:        req.MinBid,
		CPAGuardrail:  req.CPAGuardrail,
		AutonomyMode:  req.AutonomyMode,
		Notes:         req.Notes,
		Compliance:    req.Compliance,
	}, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.writeResult(c, result)
}

// HandleApprove moves a pending run live and launches it.
func (h *Handler) HandleApprove(c *gin.Context, actor auth.Actor) {
	var req RunRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	result, err := h.processor.Approve(c.Request.Context(), req.RunID, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.writeResult(c, result)
}

// HandleHalt stops a live run.
func (h *Handler) HandleHalt(c *gin.Context, _ auth.Actor) {
	h.runTransition(c, h.processor.Halt)
}

// HandleDiscard sends a pending or halted run back to draft.
func (h *Handler) HandleDiscard(c *gin.Context, _ auth.Actor) {
	h.runTransition(c, h.processor.Discard)
}

// HandleSubmit queues a draft run for approval.
func (h *Handler) HandleSubmit(c *gin.Context, _ auth.Actor) {
	h.runTransition(c, h.processor.Submit)
}

// HandleUpdateStatus maps a target status onto the matching lifecycle
// transition. live approves (and launches), pending submits, draft
// discards, halted halts.
func (h *Handler) HandleUpdateStatus(c *gin.Context, actor auth.Actor) {
	var req UpdateStatusRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	if req.Status == "live" {
		result, err := h.processor.Approve(c.Request.Context(), req.RunID, actor)
		if err != nil {
			h.handleError(c, err)
			return
		}
		h.writeResult(c, result)
		return
	}

	var transition func(context.Context, int) (store.BrainRun, error)
	switch req.Status {
	case "pending":
		transition = h.processor.Submit
	case "draft":
		transition = h.processor.Discard
	case "halted":
		transition = h.processor.Halt
	}

	run, err := transition(c.Request.Context(), req.RunID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": run})
}

// HandleGet returns one run with its plan.
func (h *Handler) HandleGet(c *gin.Context, _ auth.Actor) {
	var req RunRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	run, err := h.processor.Get(c.Request.Context(), req.RunID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": run})
}

// HandleList returns all runs, newest first.
func (h *Handler) HandleList(c *gin.Context, _ auth.Actor) {
	runs, err := h.processor.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "runs": runs})
}

func (h *Handler) runTransition(c *gin.Context, transition func(context.Context, int) (store.BrainRun, error)) {
	var req RunRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	run, err := transition(c.Request.Context(), req.RunID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "run": run})
}

func (h *Handler) writeResult(c *gin.Context, result processor.GenerateResult) {
	response := gin.H{"ok": true, "run": result.Run}
	if len(result.Launched) > 0 {
		response["launched"] = result.Launched
	}
	if result.LaunchErr != "" {
		response["launchError"] = result.LaunchErr
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrRunNotFound):
		apierrors.NotFound(c, "Run not found.")
	case errors.Is(err, processor.ErrInvalidBrief):
		apierrors.BadRequest(c, "The brief is incomplete. Check goals, budgets and autonomy mode.")
	case errors.Is(err, processor.ErrInvalidTransition):
		apierrors.Conflict(c, "That action is not allowed in the run's current state.")
	case errors.Is(err, processor.ErrEmergencyStopActive):
		apierrors.Conflict(c, "Emergency stop is active. Release it before planning or launching.")
	case errors.Is(err, processor.ErrGenerationFailed):
		apierrors.ServiceUnavailable(c, "The planning model is unavailable. Try again in a moment.", err)
	default:
		apierrors.InternalError(c, err)
	}
}
