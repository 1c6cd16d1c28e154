package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	settingsprocessor "marketing-server/internal/settings/processor"
	"marketing-server/internal/store"

	"github.com/google/uuid"
)

var (
	ErrStopAlreadyActive   = errors.New("emergency stop is already active")
	ErrStopNotActive       = errors.New("emergency stop is not active")
	ErrEmptySubject        = errors.New("data request needs an email or phone")
	ErrLockAboveMonthlyCap = errors.New("budget lock cap is above the configured monthly cap")
)

// GovernanceStore is the persistence surface for governance state, its
// event log and the lead data the privacy requests operate on.
type GovernanceStore interface {
	GetGovernanceState(ctx context.Context) (store.GovernanceState, error)
	SaveGovernanceState(ctx context.Context, state store.GovernanceState) (store.GovernanceState, error)
	AppendGovernanceLog(ctx context.Context, event string, logContext map[string]any, user string) (store.GovernanceLogEntry, error)
	ListGovernanceLog(ctx context.Context, limit int) ([]store.GovernanceLogEntry, error)
	ListCampaigns(ctx context.Context) ([]store.Campaign, error)
	ReplaceCampaignLeads(ctx context.Context, id uuid.UUID, leads []map[string]any) (store.Campaign, error)
}

// CampaignPauser pauses every running campaign when the stop fires.
type CampaignPauser interface {
	PauseAll(ctx context.Context, reason string, actor auth.Actor) ([]store.Campaign, error)
}

// KillSwitch flips the goals kill-switch flag in settings.
type KillSwitch interface {
	EngageKillSwitch(ctx context.Context, actor auth.Actor) error
}

// BudgetReader exposes the budget section so an enabled lock can be
// checked against the configured monthly cap.
type BudgetReader interface {
	ReadSection(ctx context.Context, section string) (settingsprocessor.SectionView, error)
}

// Notifier fans governance events out to the alerting channels.
type Notifier interface {
	Push(ctx context.Context, notificationType, message string, channels []string) (store.NotificationEntry, error)
}

type Processor struct {
	store      GovernanceStore
	campaigns  CampaignPauser
	killSwitch KillSwitch
	budget     BudgetReader
	notifier   Notifier
	logger     *observability.Logger
}

func NewProcessor(st GovernanceStore, campaigns CampaignPauser, killSwitch KillSwitch, budget BudgetReader, notifier Notifier, logger *observability.Logger) *Processor {
	return &Processor{store: st, campaigns: campaigns, killSwitch: killSwitch, budget: budget, notifier: notifier, logger: logger}
}

// State returns the governance configuration.
func (p *Processor) State(ctx context.Context) (store.GovernanceState, error) {
	state, err := p.store.GetGovernanceState(ctx)
	if err != nil {
		return store.GovernanceState{}, fmt.Errorf("read governance state: %w", err)
	}
	return state, nil
}

// SaveBudgetLock updates the monthly budget lock. The lock constrains
// future budget saves; it does not retroactively shrink a monthly cap
// that is already above it.
func (p *Processor) SaveBudgetLock(ctx context.Context, enabled bool, lockCap float64, revision int, actor auth.Actor) (store.GovernanceState, error) {
	state, err := p.State(ctx)
	if err != nil {
		return store.GovernanceState{}, err
	}
	if enabled {
		monthlyCap := p.monthlyCap(ctx)
		if lockCap == 0 {
			// No explicit cap snapshots the configured one.
			lockCap = monthlyCap
		}
		if monthlyCap > 0 && lockCap > monthlyCap {
			return store.GovernanceState{}, fmt.Errorf("%w: %g over %g", ErrLockAboveMonthlyCap, lockCap, monthlyCap)
		}
	}
	now := time.Now().UTC()
	state.BudgetLock = store.BudgetLock{Enabled: enabled, Cap: lockCap, UpdatedAt: &now}
	state.Revision = revision
	saved, err := p.store.SaveGovernanceState(ctx, state)
	if err != nil {
		return store.GovernanceState{}, fmt.Errorf("save governance state: %w", err)
	}
	p.log(ctx, "budget_lock_updated", map[string]any{"enabled": enabled, "cap": lockCap}, actor)
	return saved, nil
}

// monthlyCap reads the budget section's monthly cap. Missing settings
// degrade to zero, which leaves the lock cap unconstrained.
func (p *Processor) monthlyCap(ctx context.Context) float64 {
	view, err := p.budget.ReadSection(ctx, settingsprocessor.SectionBudget)
	if err != nil {
		p.logger.Warn(ctx, "could not read budget settings for lock check")
		return 0
	}
	monthlyCap, _ := view.Data["monthlyCap"].(float64)
	return monthlyCap
}

// StopResult reports what the emergency stop did.
type StopResult struct {
	State  store.GovernanceState `json:"state"`
	Paused []store.Campaign      `json:"paused"`
}

// EngageEmergencyStop halts everything: every launched campaign is
// paused with its own audit entry, the goals kill switch is flipped,
// and new launches are blocked until the stop is released.
func (p *Processor) EngageEmergencyStop(ctx context.Context, reason string, actor auth.Actor) (StopResult, error) {
	state, err := p.State(ctx)
	if err != nil {
		return StopResult{}, err
	}
	if state.EmergencyStop.Active {
		return StopResult{}, ErrStopAlreadyActive
	}

	now := time.Now().UTC()
	state.EmergencyStop = store.EmergencyStop{Active: true, TriggeredAt: &now, TriggeredBy: actor.Name}
	saved, err := p.store.SaveGovernanceState(ctx, state)
	if err != nil {
		return StopResult{}, fmt.Errorf("save governance state: %w", err)
	}

	paused, err := p.campaigns.PauseAll(ctx, "emergency stop", actor)
	if err != nil {
		p.logger.Error(ctx, "emergency stop could not pause all campaigns", err)
	}
	if err := p.killSwitch.EngageKillSwitch(ctx, actor); err != nil {
		p.logger.Error(ctx, "emergency stop could not engage kill switch", err)
	}

	logContext := map[string]any{"pausedCampaigns": len(paused)}
	if reason != "" {
		logContext["reason"] = reason
	}
	p.log(ctx, "emergency_stop_engaged", logContext, actor)
	p.notify(ctx, fmt.Sprintf("Emergency stop engaged by %s. %d campaigns paused.", actor.Name, len(paused)))
	return StopResult{State: saved, Paused: paused}, nil
}

// ReleaseEmergencyStop lifts the stop. Paused campaigns stay paused;
// resuming them is a deliberate per-campaign action.
func (p *Processor) ReleaseEmergencyStop(ctx context.Context, actor auth.Actor) (store.GovernanceState, error) {
	state, err := p.State(ctx)
	if err != nil {
		return store.GovernanceState{}, err
	}
	if !state.EmergencyStop.Active {
		return store.GovernanceState{}, ErrStopNotActive
	}
	state.EmergencyStop = store.EmergencyStop{Active: false}
	saved, err := p.store.SaveGovernanceState(ctx, state)
	if err != nil {
		return store.GovernanceState{}, fmt.Errorf("save governance state: %w", err)
	}
	p.log(ctx, "emergency_stop_released", nil, actor)
	p.notify(ctx, "Emergency stop released by "+actor.Name+". Campaigns remain paused until resumed.")
	return saved, nil
}

// SavePolicyChecklist records a compliance review.
func (p *Processor) SavePolicyChecklist(ctx context.Context, checklist store.PolicyChecklist, revision int, actor auth.Actor) (store.GovernanceState, error) {
	state, err := p.State(ctx)
	if err != nil {
		return store.GovernanceState{}, err
	}
	now := time.Now().UTC()
	checklist.LastReviewed = &now
	state.PolicyChecklist = checklist
	state.Revision = revision
	saved, err := p.store.SaveGovernanceState(ctx, state)
	if err != nil {
		return store.GovernanceState{}, fmt.Errorf("save governance state: %w", err)
	}
	p.log(ctx, "policy_reviewed", map[string]any{
		"pmSuryaClaims":    checklist.PMSuryaClaims,
		"ethicalMessaging": checklist.EthicalMessaging,
		"disclaimerPlaced": checklist.DisclaimerPlaced,
		"dataAccuracy":     checklist.DataAccuracy,
	}, actor)
	return saved, nil
}

// DataExport collects every stored lead matching the subject's email or
// phone across all campaigns.
func (p *Processor) DataExport(ctx context.Context, email, phone string, actor auth.Actor) ([]map[string]any, error) {
	if email == "" && phone == "" {
		return nil, ErrEmptySubject
	}
	campaigns, err := p.store.ListCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	var matched []map[string]any
	for _, campaign := range campaigns {
		for _, lead := range campaign.Leads {
			if leadMatches(lead, email, phone) {
				record := make(map[string]any, len(lead)+1)
				for k, v := range lead {
					record[k] = v
				}
				record["campaignId"] = campaign.ID.String()
				matched = append(matched, record)
			}
		}
	}
	p.log(ctx, "data_export", map[string]any{"records": len(matched)}, actor)
	p.notify(ctx, fmt.Sprintf("Data export served: %d lead records.", len(matched)))
	return matched, nil
}

// DataErase removes every stored lead matching the subject's email or
// phone across all campaigns.
func (p *Processor) DataErase(ctx context.Context, email, phone string, actor auth.Actor) (int, error) {
	if email == "" && phone == "" {
		return 0, ErrEmptySubject
	}
	campaigns, err := p.store.ListCampaigns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list campaigns: %w", err)
	}
	erased := 0
	for _, campaign := range campaigns {
		var kept []map[string]any
		removed := 0
		for _, lead := range campaign.Leads {
			if leadMatches(lead, email, phone) {
				removed++
				continue
			}
			kept = append(kept, lead)
		}
		if removed == 0 {
			continue
		}
		if _, err := p.store.ReplaceCampaignLeads(ctx, campaign.ID, kept); err != nil {
			return erased, fmt.Errorf("erase leads on campaign %s: %w", campaign.ID, err)
		}
		erased += removed
	}
	p.log(ctx, "data_erase", map[string]any{"records": erased}, actor)
	p.notify(ctx, fmt.Sprintf("Data erasure completed: %d lead records removed.", erased))
	return erased, nil
}

// Log returns the governance event log, newest first.
func (p *Processor) Log(ctx context.Context, limit int) ([]store.GovernanceLogEntry, error) {
	return p.store.ListGovernanceLog(ctx, limit)
}

func (p *Processor) log(ctx context.Context, event string, logContext map[string]any, actor auth.Actor) {
	if _, err := p.store.AppendGovernanceLog(ctx, event, logContext, actor.Name); err != nil {
		p.logger.Error(ctx, "failed to append governance log", err)
	}
}

func (p *Processor) notify(ctx context.Context, message string) {
	if _, err := p.notifier.Push(ctx, "governance", message, []string{"email", "whatsapp"}); err != nil {
		p.logger.Error(ctx, "failed to push governance alert", err)
	}
}

func leadMatches(lead map[string]any, email, phone string) bool {
	if email != "" {
		if value, _ := lead["email"].(string); value != "" && strings.EqualFold(value, email) {
			return true
		}
	}
	if phone != "" {
		if value, _ := lead["phone"].(string); value != "" && normalisePhone(value) == normalisePhone(phone) {
			return true
		}
	}
	return false
}

func normalisePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
