package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/google/uuid"
)

var (
	ErrUnknownRule     = errors.New("unknown automation rule")
	ErrUnknownPlaybook = errors.New("unknown playbook")
)

// Playbook keys.
const (
	PlaybookPromoteCreative   = "promote_creative"
	PlaybookDuplicateCampaign = "duplicate_campaign"
	PlaybookScheduleTest      = "schedule_test"
)

// AutomationStore is the persistence surface for automation state and
// history.
type AutomationStore interface {
	GetOptimizationState(ctx context.Context) (store.OptimizationState, error)
	SaveOptimizationState(ctx context.Context, state store.OptimizationState) (store.OptimizationState, error)
	AppendOptimizationHistory(ctx context.Context, rule, campaignID, message string) (store.OptimizationEvent, error)
	ListOptimizationHistory(ctx context.Context, limit int) ([]store.OptimizationEvent, error)
	CreateCampaign(ctx context.Context, campaign store.Campaign) (store.Campaign, error)
}

// CampaignOps is what the sweep and playbooks can do to campaigns. It
// is satisfied by the campaigns processor so every action is audited.
type CampaignOps interface {
	List(ctx context.Context) ([]store.Campaign, error)
	Get(ctx context.Context, id uuid.UUID) (store.Campaign, error)
	Pause(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (store.Campaign, error)
	UpdateBudget(ctx context.Context, id uuid.UUID, budget store.CampaignBudget, actor auth.Actor) (store.Campaign, error)
}

// Notifier fans applied sweep actions out to the alerting channels.
type Notifier interface {
	Push(ctx context.Context, notificationType, message string, channels []string) (store.NotificationEntry, error)
}

type Processor struct {
	store     AutomationStore
	campaigns CampaignOps
	notifier  Notifier
	logger    *observability.Logger
}

func NewProcessor(st AutomationStore, campaigns CampaignOps, notifier Notifier, logger *observability.Logger) *Processor {
	return &Processor{store: st, campaigns: campaigns, notifier: notifier, logger: logger}
}

// State returns the automation configuration, with defaults filled in
// for rules the operator never touched.
func (p *Processor) State(ctx context.Context) (store.OptimizationState, error) {
	state, err := p.store.GetOptimizationState(ctx)
	if err != nil {
		return store.OptimizationState{}, fmt.Errorf("read optimization state: %w", err)
	}
	if state.AutoRules == nil {
		state.AutoRules = DefaultRules()
		return state, nil
	}
	for key, defaults := range DefaultRules() {
		if _, configured := state.AutoRules[key]; !configured {
			state.AutoRules[key] = defaults
		}
	}
	return state, nil
}

// SaveRules replaces the rule configuration under optimistic
// concurrency. Unknown rule keys are rejected.
func (p *Processor) SaveRules(ctx context.Context, rules map[string]store.AutoRule, revision int) (store.OptimizationState, error) {
	for key := range rules {
		if _, known := defaultThresholds[key]; !known {
			return store.OptimizationState{}, fmt.Errorf("%w: %s", ErrUnknownRule, key)
		}
	}
	state, err := p.State(ctx)
	if err != nil {
		return store.OptimizationState{}, err
	}
	for key, rule := range rules {
		state.AutoRules[key] = rule
	}
	state.Revision = revision
	saved, err := p.store.SaveOptimizationState(ctx, state)
	if err != nil {
		return store.OptimizationState{}, fmt.Errorf("save optimization state: %w", err)
	}
	return saved, nil
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	Evaluated int                       `json:"evaluated"`
	Applied   []store.OptimizationEvent `json:"applied"`
	Skipped   []string                  `json:"skippedRules"`
}

// Sweep evaluates every enabled rule against the launched campaigns, in
// declaration order. Disabled rules are skipped entirely, including
// their evaluation. Actions are applied through the campaigns module so
// each one lands in the campaign's audit trail too.
func (p *Processor) Sweep(ctx context.Context, actor auth.Actor) (SweepResult, error) {
	state, err := p.State(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	all, err := p.campaigns.List(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list campaigns: %w", err)
	}
	launched := make([]store.Campaign, 0, len(all))
	for _, campaign := range all {
		if campaign.Status == store.CampaignStatusLaunched {
			launched = append(launched, campaign)
		}
	}

	result := SweepResult{Evaluated: len(launched)}
	pausedThisSweep := make(map[string]bool)
	for _, ruleKey := range RuleOrder {
		rule := state.AutoRules[ruleKey]
		if !rule.Enabled {
			result.Skipped = append(result.Skipped, ruleKey)
			continue
		}

		// Later rules must not act on campaigns paused earlier in the
		// same sweep.
		eligible := make([]store.Campaign, 0, len(launched))
		for _, campaign := range launched {
			if !pausedThisSweep[campaign.ID.String()] {
				eligible = append(eligible, campaign)
			}
		}

		for _, action := range ruleEvaluators[ruleKey](rule, eligible) {
			if err := p.apply(ctx, action, actor); err != nil {
				p.logger.Error(ctx, "automation action failed", err)
				continue
			}
			if action.Pause {
				pausedThisSweep[action.CampaignID] = true
			}
			event, histErr := p.store.AppendOptimizationHistory(ctx, action.Rule, action.CampaignID, action.Message)
			if histErr != nil {
				p.logger.Error(ctx, "failed to append optimization history", histErr)
				continue
			}
			result.Applied = append(result.Applied, event)
		}
	}

	if len(result.Applied) > 0 {
		now := time.Now().UTC()
		state.LastActionAt = &now
		if _, err := p.store.SaveOptimizationState(ctx, state); err != nil {
			p.logger.Error(ctx, "failed to stamp last action time", err)
		}
		message := fmt.Sprintf("Automation sweep applied %d actions across %d campaigns.", len(result.Applied), result.Evaluated)
		if _, err := p.notifier.Push(ctx, "automation", message, []string{"email", "whatsapp"}); err != nil {
			p.logger.Error(ctx, "failed to push automation alert", err)
		}
	}
	return result, nil
}

// RunPlaybook executes one named playbook.
func (p *Processor) RunPlaybook(ctx context.Context, playbook string, campaignID uuid.UUID, name, hypothesis string, actor auth.Actor) (store.OptimizationEvent, error) {
	switch playbook {
	case PlaybookPromoteCreative:
		campaign, err := p.campaigns.Get(ctx, campaignID)
		if err != nil {
			return store.OptimizationEvent{}, err
		}
		message := fmt.Sprintf("promoted winning creative on %s", campaign.Type)
		return p.record(ctx, playbook, campaign.ID.String(), message)

	case PlaybookDuplicateCampaign:
		campaign, err := p.campaigns.Get(ctx, campaignID)
		if err != nil {
			return store.OptimizationEvent{}, err
		}
		duplicate := campaign
		duplicate.ID = uuid.New()
		duplicate.Metrics = store.CampaignMetrics{}
		duplicate.Leads = []map[string]any{}
		duplicate.AuditTrail = nil
		if duplicate.Canonical == nil {
			duplicate.Canonical = map[string]any{}
		}
		duplicate.Canonical["duplicatedFrom"] = campaign.ID.String()
		created, err := p.store.CreateCampaign(ctx, duplicate)
		if err != nil {
			return store.OptimizationEvent{}, fmt.Errorf("duplicate campaign: %w", err)
		}
		message := fmt.Sprintf("duplicated %s as %s", campaign.ID, created.ID)
		return p.record(ctx, playbook, created.ID.String(), message)

	case PlaybookScheduleTest:
		if name == "" {
			return store.OptimizationEvent{}, fmt.Errorf("%w: a test needs a name", ErrUnknownPlaybook)
		}
		state, err := p.State(ctx)
		if err != nil {
			return store.OptimizationEvent{}, err
		}
		state.Learning.Tests = append(state.Learning.Tests, store.LearningTest{
			Timestamp:  time.Now().UTC(),
			Name:       name,
			Hypothesis: hypothesis,
			Notes:      "scheduled by " + actor.Name,
		})
		state.Learning.NextBestAction = "run test: " + name
		if _, err := p.store.SaveOptimizationState(ctx, state); err != nil {
			return store.OptimizationEvent{}, fmt.Errorf("save learning test: %w", err)
		}
		return p.record(ctx, playbook, "", "scheduled test: "+name)

	default:
		return store.OptimizationEvent{}, ErrUnknownPlaybook
	}
}

// History returns the applied automation actions, newest first.
func (p *Processor) History(ctx context.Context, limit int) ([]store.OptimizationEvent, error) {
	return p.store.ListOptimizationHistory(ctx, limit)
}

func (p *Processor) apply(ctx context.Context, action ruleAction, actor auth.Actor) error {
	id, err := uuid.Parse(action.CampaignID)
	if err != nil {
		return fmt.Errorf("bad campaign id in action: %w", err)
	}
	if action.Pause {
		if _, err := p.campaigns.Pause(ctx, id, action.Message, actor); err != nil {
			return err
		}
	}
	if action.NewBudget != nil {
		if _, err := p.campaigns.UpdateBudget(ctx, id, *action.NewBudget, actor); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) record(ctx context.Context, rule, campaignID, message string) (store.OptimizationEvent, error) {
	event, err := p.store.AppendOptimizationHistory(ctx, rule, campaignID, message)
	if err != nil {
		return store.OptimizationEvent{}, fmt.Errorf("append optimization history: %w", err)
	}
	return event, nil
}
