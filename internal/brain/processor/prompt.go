package processor

import (
	"encoding/json"
	"fmt"
	"strings"

	"marketing-server/internal/store"
)

// buildPrompt renders the brief into the planning prompt. The model is
// asked for strict JSON so the plan can be stored structured.
func buildPrompt(inputs store.RunInputs) string {
	var b strings.Builder
	b.WriteString("You are a performance marketing planner for a rooftop solar installation company in India.\n")
	b.WriteString("Design a full-funnel campaign plan for the brief below.\n\n")

	b.WriteString("Brief:\n")
	fmt.Fprintf(&b, "- Goals: %s\n", strings.Join(inputs.Goals, ", "))
	fmt.Fprintf(&b, "- Regions: %s\n", strings.Join(inputs.Regions, ", "))
	fmt.Fprintf(&b, "- Products: %s\n", strings.Join(inputs.Products, ", "))
	fmt.Fprintf(&b, "- Languages: %s\n", strings.Join(inputs.Languages, ", "))
	fmt.Fprintf(&b, "- Daily budget: %.0f INR\n", inputs.DailyBudget)
	fmt.Fprintf(&b, "- Monthly budget: %.0f INR\n", inputs.MonthlyBudget)
	if inputs.MinBid > 0 {
		fmt.Fprintf(&b, "- Minimum bid: %.2f INR\n", inputs.MinBid)
	}
	if inputs.CPAGuardrail > 0 {
		fmt.Fprintf(&b, "- Cost-per-acquisition guardrail: %.0f INR\n", inputs.CPAGuardrail)
	}
	if inputs.Notes != "" {
		fmt.Fprintf(&b, "- Notes: %s\n", inputs.Notes)
	}
	if len(inputs.Compliance) > 0 {
		b.WriteString("- Compliance constraints:\n")
		for key, acknowledged := range inputs.Compliance {
			fmt.Fprintf(&b, "  - %s: %t\n", key, acknowledged)
		}
	}

	b.WriteString("\nRespond with a single JSON object and nothing else, using exactly these keys:\n")
	b.WriteString(`{
  "channelPlan": {"meta": "...", "google": "...", "whatsapp": "...", "email": "..."},
  "audiencePlan": {"segments": ["..."], "targeting": "..."},
  "creativePlan": {"themes": ["..."], "hooks": ["..."]},
  "landingPlan": {"approach": "...", "keySections": ["..."]},
  "budgetAllocation": {"meta": 0, "google": 0, "whatsapp": 0, "email": 0},
  "kpiTargets": {"leads": 0, "cpl": 0, "ctr": 0},
  "optimisationLoop": ["..."]
}`)
	b.WriteString("\nBudget allocation values are INR per day and must sum to the daily budget.\n")
	return b.String()
}

type planPayload struct {
	ChannelPlan      map[string]any     `json:"channelPlan"`
	AudiencePlan     map[string]any     `json:"audiencePlan"`
	CreativePlan     map[string]any     `json:"creativePlan"`
	LandingPlan      map[string]any     `json:"landingPlan"`
	BudgetAllocation map[string]float64 `json:"budgetAllocation"`
	KPITargets       map[string]any     `json:"kpiTargets"`
	OptimisationLoop []string           `json:"optimisationLoop"`
}

// parsePlan extracts the structured plan from a model response. Models
// wrap JSON in prose or code fences often enough that we cut from the
// first brace to the last. An unparseable response degrades to a
// raw-text plan instead of failing the run.
func parsePlan(responseText string) store.RunPlan {
	plan := store.RunPlan{RawText: responseText}

	start := strings.Index(responseText, "{")
	end := strings.LastIndex(responseText, "}")
	if start < 0 || end <= start {
		return plan
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(responseText[start:end+1]), &payload); err != nil {
		return plan
	}

	plan.ChannelPlan = payload.ChannelPlan
	plan.AudiencePlan = payload.AudiencePlan
	plan.CreativePlan = payload.CreativePlan
	plan.LandingPlan = payload.LandingPlan
	plan.BudgetAllocation = payload.BudgetAllocation
	plan.KPITargets = payload.KPITargets
	plan.OptimisationLoop = payload.OptimisationLoop
	return plan
}
