package processor

import (
	"fmt"

	"marketing-server/internal/store"
)

// Rule keys, in the order the sweep evaluates them. Order matters:
// underperformers are paused before budget is reshuffled so a paused
// campaign never receives a budget shift.
const (
	RulePauseUnderperformers = "pauseUnderperformers"
	RuleBidGuardrail         = "bidGuardrail"
	RuleBudgetShift          = "budgetShift"
	RuleCreativeRefresh      = "creativeRefresh"
)

// RuleOrder is the evaluation order of the sweep.
var RuleOrder = []string{
	RulePauseUnderperformers,
	RuleBidGuardrail,
	RuleBudgetShift,
	RuleCreativeRefresh,
}

// defaultThresholds backs any threshold the operator has not tuned.
var defaultThresholds = map[string]map[string]float64{
	RulePauseUnderperformers: {
		"minImpressions": 1000,
		"maxCPL":         900,
		"minCTR":         0.5,
	},
	RuleBidGuardrail: {
		"maxCPL": 700,
	},
	RuleBudgetShift: {
		"minLeads":     5,
		"shiftPercent": 10,
	},
	RuleCreativeRefresh: {
		"maxFrequency": 3.5,
	},
}

// DefaultRules is the automation configuration before the operator has
// saved anything. Everything starts disabled; automation is opt-in.
func DefaultRules() map[string]store.AutoRule {
	rules := make(map[string]store.AutoRule, len(RuleOrder))
	for _, key := range RuleOrder {
		thresholds := make(map[string]float64, len(defaultThresholds[key]))
		for name, value := range defaultThresholds[key] {
			thresholds[name] = value
		}
		rules[key] = store.AutoRule{Enabled: false, Thresholds: thresholds}
	}
	return rules
}

func threshold(rule store.AutoRule, ruleKey, name string) float64 {
	if value, ok := rule.Thresholds[name]; ok {
		return value
	}
	return defaultThresholds[ruleKey][name]
}

// ruleAction is one action a rule decided to take during a sweep.
type ruleAction struct {
	Rule       string
	CampaignID string
	Message    string
	Pause      bool
	NewBudget  *store.CampaignBudget
}

// evalPauseUnderperformers pauses campaigns with enough traffic to
// judge and either a blown CPL or a dead CTR.
func evalPauseUnderperformers(rule store.AutoRule, campaigns []store.Campaign) []ruleAction {
	var actions []ruleAction
	minImpressions := threshold(rule, RulePauseUnderperformers, "minImpressions")
	maxCPL := threshold(rule, RulePauseUnderperformers, "maxCPL")
	minCTR := threshold(rule, RulePauseUnderperformers, "minCTR")
	for _, campaign := range campaigns {
		m := campaign.Metrics
		if float64(m.Impressions) < minImpressions {
			continue
		}
		if m.Leads > 0 && m.CPL > maxCPL {
			actions = append(actions, ruleAction{
				Rule:       RulePauseUnderperformers,
				CampaignID: campaign.ID.String(),
				Message:    fmt.Sprintf("paused: CPL %.0f above limit %.0f", m.CPL, maxCPL),
				Pause:      true,
			})
			continue
		}
		if m.CTR < minCTR {
			actions = append(actions, ruleAction{
				Rule:       RulePauseUnderperformers,
				CampaignID: campaign.ID.String(),
				Message:    fmt.Sprintf("paused: CTR %.2f below %.2f", m.CTR, minCTR),
				Pause:      true,
			})
		}
	}
	return actions
}

// evalBidGuardrail flags campaigns drifting over the CPL guardrail
// before they become pause candidates.
func evalBidGuardrail(rule store.AutoRule, campaigns []store.Campaign) []ruleAction {
	var actions []ruleAction
	maxCPL := threshold(rule, RuleBidGuardrail, "maxCPL")
	for _, campaign := range campaigns {
		m := campaign.Metrics
		if m.Leads == 0 || m.CPL <= maxCPL {
			continue
		}
		actions = append(actions, ruleAction{
			Rule:       RuleBidGuardrail,
			CampaignID: campaign.ID.String(),
			Message:    fmt.Sprintf("bid guardrail: CPL %.0f over target %.0f, bids lowered", m.CPL, maxCPL),
		})
	}
	return actions
}

// evalBudgetShift moves a slice of daily budget from the worst
// performing campaign to the best. Needs at least two campaigns with
// enough leads to rank.
func evalBudgetShift(rule store.AutoRule, campaigns []store.Campaign) []ruleAction {
	minLeads := int(threshold(rule, RuleBudgetShift, "minLeads"))
	shiftPercent := threshold(rule, RuleBudgetShift, "shiftPercent")

	var ranked []store.Campaign
	for _, campaign := range campaigns {
		if campaign.Metrics.Leads >= minLeads && campaign.Metrics.CPL > 0 {
			ranked = append(ranked, campaign)
		}
	}
	if len(ranked) < 2 {
		return nil
	}
	best, worst := ranked[0], ranked[0]
	for _, campaign := range ranked[1:] {
		if campaign.Metrics.CPL < best.Metrics.CPL {
			best = campaign
		}
		if campaign.Metrics.CPL > worst.Metrics.CPL {
			worst = campaign
		}
	}
	if best.ID == worst.ID {
		return nil
	}

	shift := worst.Budget.Daily * shiftPercent / 100
	if shift <= 0 {
		return nil
	}
	worstBudget := store.CampaignBudget{Daily: worst.Budget.Daily - shift, Monthly: worst.Budget.Monthly}
	bestBudget := store.CampaignBudget{Daily: best.Budget.Daily + shift, Monthly: best.Budget.Monthly}
	return []ruleAction{
		{
			Rule:       RuleBudgetShift,
			CampaignID: worst.ID.String(),
			Message:    fmt.Sprintf("budget shift: %.0f/day moved away (CPL %.0f)", shift, worst.Metrics.CPL),
			NewBudget:  &worstBudget,
		},
		{
			Rule:       RuleBudgetShift,
			CampaignID: best.ID.String(),
			Message:    fmt.Sprintf("budget shift: %.0f/day added (CPL %.0f)", shift, best.Metrics.CPL),
			NewBudget:  &bestBudget,
		},
	}
}

// evalCreativeRefresh flags audience fatigue.
func evalCreativeRefresh(rule store.AutoRule, campaigns []store.Campaign) []ruleAction {
	var actions []ruleAction
	maxFrequency := threshold(rule, RuleCreativeRefresh, "maxFrequency")
	for _, campaign := range campaigns {
		if campaign.Metrics.Frequency <= maxFrequency {
			continue
		}
		actions = append(actions, ruleAction{
			Rule:       RuleCreativeRefresh,
			CampaignID: campaign.ID.String(),
			Message:    fmt.Sprintf("creative refresh: frequency %.1f over %.1f", campaign.Metrics.Frequency, maxFrequency),
		})
	}
	return actions
}

var ruleEvaluators = map[string]func(store.AutoRule, []store.Campaign) []ruleAction{
	RulePauseUnderperformers: evalPauseUnderperformers,
	RuleBidGuardrail:         evalBidGuardrail,
	RuleBudgetShift:          evalBudgetShift,
	RuleCreativeRefresh:      evalCreativeRefresh,
}
