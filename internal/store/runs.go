package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run status values. A run moves draft -> pending -> live, live -> halted, halted -> draft.
const (
	RunStatusDraft   = "draft"
	RunStatusPending = "pending"
	RunStatusLive    = "live"
	RunStatusHalted  = "halted"
)

const brainRunCap = 20

// RunInputs is the normalized marketing brief a run was generated from.
type RunInputs struct {
	Goals         []string        `json:"goals"`
	Regions       []string        `json:"regions"`
	Products      []string        `json:"products"`
	Languages     []string        `json:"languages"`
	DailyBudget   float64         `json:"dailyBudget"`
	MonthlyBudget float64         `json:"monthlyBudget"`
	MinBid        float64         `json:"minBid"`
	CPAGuardrail  float64         `json:"cpaGuardrail"`
	AutonomyMode  string          `json:"autonomyMode"`
	Notes         string          `json:"notes,omitempty"`
	Compliance    map[string]bool `json:"compliance,omitempty"`
}

// RunPlan is the structured campaign plan drafted for a run. When the generator
// returns unstructured output only RawText is set.
type RunPlan struct {
	ChannelPlan      map[string]any     `json:"channel_plan,omitempty"`
	AudiencePlan     map[string]any     `json:"audience_plan,omitempty"`
	CreativePlan     map[string]any     `json:"creative_plan,omitempty"`
	LandingPlan      map[string]any     `json:"landing_plan,omitempty"`
	BudgetAllocation map[string]float64 `json:"budget_allocation,omitempty"`
	KPITargets       map[string]any     `json:"kpi_targets,omitempty"`
	OptimisationLoop []string           `json:"optimisation_loop,omitempty"`
	RawText          string             `json:"rawText,omitempty"`
}

// BrainRun is one invocation of the campaign brain with its lifecycle status.
type BrainRun struct {
	ID           int       `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Status       string    `json:"status"`
	Inputs       RunInputs `json:"inputs"`
	Plan         RunPlan   `json:"plan"`
	ResponseText string    `json:"response_text,omitempty"`
}

type brainRunRow struct {
	ID           int       `db:"id"`
	CreatedAt    time.Time `db:"created_at"`
	Status       string    `db:"status"`
	Inputs       []byte    `db:"inputs"`
	Plan         []byte    `db:"plan"`
	ResponseText string    `db:"response_text"`
}

func (r brainRunRow) toRun() (BrainRun, error) {
	run := BrainRun{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		Status:       r.Status,
		ResponseText: r.ResponseText,
	}
	if err := json.Unmarshal(r.Inputs, &run.Inputs); err != nil {
		return BrainRun{}, fmt.Errorf("failed to decode run inputs: %w", err)
	}
	if err := json.Unmarshal(r.Plan, &run.Plan); err != nil {
		return BrainRun{}, fmt.Errorf("failed to decode run plan: %w", err)
	}
	return run, nil
}

const sqlCreateBrainRun = `
INSERT INTO brain_runs (id, created_at, status, inputs, plan, response_text)
VALUES ((SELECT COALESCE(MAX(id), 0) + 1 FROM brain_runs), NOW(), $1, $2, $3, $4)
RETURNING id, created_at, status, inputs, plan, response_text
`

const sqlTrimBrainRuns = `
DELETE FROM brain_runs
WHERE id NOT IN (SELECT id FROM brain_runs ORDER BY id DESC LIMIT $1)
`

// CreateBrainRun allocates the next monotonic run id, stores the run and trims
// the run list to the configured cap.
func (s *Store) CreateBrainRun(ctx context.Context, status string, inputs RunInputs, plan RunPlan, responseText string) (BrainRun, error) {
	encodedInputs, err := json.Marshal(inputs)
	if err != nil {
		return BrainRun{}, fmt.Errorf("failed to encode run inputs: %w", err)
	}
	encodedPlan, err := json.Marshal(plan)
	if err != nil {
		return BrainRun{}, fmt.Errorf("failed to encode run plan: %w", err)
	}

	var row brainRunRow
	err = s.db.GetContext(ctx, &row, sqlCreateBrainRun, status, encodedInputs, encodedPlan, responseText)
	if err != nil {
		s.logger.Error(ctx, "failed to create brain run", err)
		return BrainRun{}, fmt.Errorf("failed to create brain run: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlTrimBrainRuns, brainRunCap); err != nil {
		s.logger.Error(ctx, "failed to trim brain runs", err)
		return BrainRun{}, fmt.Errorf("failed to trim brain runs: %w", err)
	}
	return row.toRun()
}

const sqlGetBrainRun = `
SELECT id, created_at, status, inputs, plan, response_text
FROM brain_runs
WHERE id = $1
`

// GetBrainRun retrieves one run by id.
func (s *Store) GetBrainRun(ctx context.Context, id int) (BrainRun, error) {
	var row brainRunRow
	err := s.db.GetContext(ctx, &row, sqlGetBrainRun, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BrainRun{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get brain run", err)
		return BrainRun{}, fmt.Errorf("failed to get brain run: %w", err)
	}
	return row.toRun()
}

const sqlListBrainRuns = `
SELECT id, created_at, status, inputs, plan, response_text
FROM brain_runs
ORDER BY id DESC
`

// ListBrainRuns returns all retained runs, newest first.
func (s *Store) ListBrainRuns(ctx context.Context) ([]BrainRun, error) {
	var rows []brainRunRow
	if err := s.db.SelectContext(ctx, &rows, sqlListBrainRuns); err != nil {
		s.logger.Error(ctx, "failed to list brain runs", err)
		return nil, fmt.Errorf("failed to list brain runs: %w", err)
	}
	runs := make([]BrainRun, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

const sqlUpdateBrainRunStatus = `
UPDATE brain_runs
SET status = $2
WHERE id = $1
RETURNING id, created_at, status, inputs, plan, response_text
`

// UpdateBrainRunStatus sets the lifecycle status of a run.
func (s *Store) UpdateBrainRunStatus(ctx context.Context, id int, status string) (BrainRun, error) {
	var row brainRunRow
	err := s.db.GetContext(ctx, &row, sqlUpdateBrainRunStatus, id, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BrainRun{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update brain run status", err)
		return BrainRun{}, fmt.Errorf("failed to update brain run status: %w", err)
	}
	return row.toRun()
}
