package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStore_CreateBrainRunTrimsToCap(t *testing.T) {
	testDB := SetupTestDB(t)
	testDB.Truncate(t, "brain_runs")

	ctx := context.Background()

	inputs := RunInputs{
		Goals:       []string{"leads"},
		Regions:     []string{"Gujarat"},
		DailyBudget: 2000,
	}
	for i := 0; i < brainRunCap+2; i++ {
		if _, err := testDB.Store.CreateBrainRun(ctx, RunStatusDraft, inputs, RunPlan{}, fmt.Sprintf("plan %d", i+1)); err != nil {
			t.Fatalf("failed to create run %d: %v", i+1, err)
		}
	}

	runs, err := testDB.Store.ListBrainRuns(ctx)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != brainRunCap {
		t.Fatalf("expected %d retained runs, got %d", brainRunCap, len(runs))
	}
	// Newest first, and the trimmed ids are the oldest ones.
	if runs[0].ID != brainRunCap+2 {
		t.Fatalf("expected newest run id %d, got %d", brainRunCap+2, runs[0].ID)
	}
	if runs[len(runs)-1].ID != 3 {
		t.Fatalf("expected oldest retained run id 3, got %d", runs[len(runs)-1].ID)
	}

	// The trimmed run is unreachable by id.
	if _, err := testDB.Store.GetBrainRun(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for trimmed run, got %v", err)
	}
}

func TestStore_BrainRunLifecycle(t *testing.T) {
	testDB := SetupTestDB(t)
	testDB.Truncate(t, "brain_runs")

	ctx := context.Background()

	created, err := testDB.Store.CreateBrainRun(ctx, RunStatusDraft, RunInputs{
		Goals:        []string{"leads", "awareness"},
		Regions:      []string{"Gujarat", "Rajasthan"},
		DailyBudget:  2000,
		AutonomyMode: "copilot",
	}, RunPlan{
		BudgetAllocation: map[string]float64{"googleAds": 700},
		RawText:          "channel plan",
	}, "raw response")
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if created.Status != RunStatusDraft {
		t.Fatalf("expected draft status, got %q", created.Status)
	}

	live, err := testDB.Store.UpdateBrainRunStatus(ctx, created.ID, RunStatusLive)
	if err != nil {
		t.Fatalf("failed to update run status: %v", err)
	}
	if live.Status != RunStatusLive {
		t.Fatalf("expected live status, got %q", live.Status)
	}
	if live.Inputs.AutonomyMode != "copilot" {
		t.Fatalf("inputs must survive a status update, got autonomy %q", live.Inputs.AutonomyMode)
	}
	if live.Plan.BudgetAllocation["googleAds"] != 700 {
		t.Fatalf("plan must survive a status update, got allocation %v", live.Plan.BudgetAllocation)
	}
}
