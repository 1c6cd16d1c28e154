package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"marketing-server/internal/apierrors"
	"marketing-server/internal/auth"
	"marketing-server/internal/governance/processor"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// GovernanceProcessor is the processor surface the handler depends on.
type GovernanceProcessor interface {
	State(ctx context.Context) (store.GovernanceState, error)
	SaveBudgetLock(ctx context.Context, enabled bool, lockCap float64, revision int, actor auth.Actor) (store.GovernanceState, error)
	EngageEmergencyStop(ctx context.Context, reason string, actor auth.Actor) (processor.StopResult, error)
	ReleaseEmergencyStop(ctx context.Context, actor auth.Actor) (store.GovernanceState, error)
	SavePolicyChecklist(ctx context.Context, checklist store.PolicyChecklist, revision int, actor auth.Actor) (store.GovernanceState, error)
	DataExport(ctx context.Context, email, phone string, actor auth.Actor) ([]map[string]any, error)
	DataErase(ctx context.Context, email, phone string, actor auth.Actor) (int, error)
	Log(ctx context.Context, limit int) ([]store.GovernanceLogEntry, error)
}

type Handler struct {
	processor GovernanceProcessor
	logger    *observability.Logger
}

func New(processor GovernanceProcessor, logger *observability.Logger) *Handler {
	return &Handler{processor: processor, logger: logger}
}

// BudgetLockRequest updates the monthly budget lock.
type BudgetLockRequest struct {
	Enabled  bool    `json:"enabled"`
	Cap      float64 `json:"cap" binding:"gte=0"`
	Revision int     `json:"revision"`
}

// StopRequest engages the emergency stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// PolicyRequest records a compliance review.
type PolicyRequest struct {
	PMSuryaClaims    bool   `json:"pmSuryaClaims"`
	EthicalMessaging bool   `json:"ethicalMessaging"`
	DisclaimerPlaced bool   `json:"disclaimerPlaced"`
	DataAccuracy     bool   `json:"dataAccuracy"`
	Notes            string `json:"notes"`
	Revision         int    `json:"revision"`
}

// DataRequest is a privacy export or erasure request.
type DataRequest struct {
	Kind  string `json:"kind" binding:"required,oneof=export erase"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone"`
}

// HandleState returns the governance configuration.
func (h *Handler) HandleState(c *gin.Context, _ auth.Actor) {
	state, err := h.processor.State(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state, "revision": state.Revision})
}

// HandleBudgetLock updates the monthly budget lock.
func (h *Handler) HandleBudgetLock(c *gin.Context, actor auth.Actor) {
	var req BudgetLockRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	state, err := h.processor.SaveBudgetLock(c.Request.Context(), req.Enabled, req.Cap, req.Revision, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state, "revision": state.Revision})
}

// HandleEmergencyStop engages the kill switch.
func (h *Handler) HandleEmergencyStop(c *gin.Context, actor auth.Actor) {
	ctx := c.Request.Context()

	var req StopRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	result, err := h.processor.EngageEmergencyStop(ctx, req.Reason, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"state":  result.State,
		"paused": len(result.Paused),
	})
}

// HandleRelease lifts the emergency stop.
func (h *Handler) HandleRelease(c *gin.Context, actor auth.Actor) {
	state, err := h.processor.ReleaseEmergencyStop(c.Request.Context(), actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state, "revision": state.Revision})
}

// HandlePolicy records a compliance review.
func (h *Handler) HandlePolicy(c *gin.Context, actor auth.Actor) {
	var req PolicyRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	state, err := h.processor.SavePolicyChecklist(c.Request.Context(), store.PolicyChecklist{
		PMSuryaClaims:    req.PMSuryaClaims,
		EthicalMessaging: req.EthicalMessaging,
		DisclaimerPlaced: req.DisclaimerPlaced,
		DataAccuracy:     req.DataAccuracy,
		Notes:            req.Notes,
	}, req.Revision, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state, "revision": state.Revision})
}

// HandleDataRequest serves a privacy export or erasure.
func (h *Handler) HandleDataRequest(c *gin.Context, actor auth.Actor) {
	ctx := c.Request.Context()

	var req DataRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		apierrors.ValidationError(c, err)
		return
	}

	ctx = observability.WithFields(ctx, observability.Field{Key: "data_request_kind", Value: req.Kind})

	if req.Kind == "export" {
		records, err := h.processor.DataExport(ctx, req.Email, req.Phone, actor)
		if err != nil {
			h.handleError(c, err)
			return
		}
		file := fmt.Sprintf("marketing-export-%s.json", time.Now().UTC().Format("20060102-150405"))
		c.JSON(http.StatusOK, gin.H{"ok": true, "file": file, "records": records})
		return
	}

	erased, err := h.processor.DataErase(ctx, req.Email, req.Phone, actor)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "erased": erased})
}

// HandleLog returns the governance event log.
func (h *Handler) HandleLog(c *gin.Context, _ auth.Actor) {
	entries, err := h.processor.Log(c.Request.Context(), 100)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "entries": entries})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, processor.ErrStopAlreadyActive):
		apierrors.Conflict(c, "Emergency stop is already active.")
	case errors.Is(err, processor.ErrStopNotActive):
		apierrors.Conflict(c, "Emergency stop is not active.")
	case errors.Is(err, processor.ErrEmptySubject):
		apierrors.BadRequest(c, "A data request needs an email or phone number.")
	case errors.Is(err, processor.ErrLockAboveMonthlyCap):
		apierrors.BadRequest(c, "Budget lock cap cannot exceed the configured monthly budget cap.")
	case errors.Is(err, store.ErrRevisionConflict):
		apierrors.Conflict(c, "Governance settings were changed by someone else. Reload and try again.")
	default:
		apierrors.InternalError(c, err)
	}
}
