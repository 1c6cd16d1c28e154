package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	optimizationHistoryCap = 100
	learningTestCap        = 25
)

// AutoRule is one configured optimization rule.
type AutoRule struct {
	Enabled    bool               `json:"enabled"`
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

// LearningTest is one scheduled experiment recorded by the playbooks.
type LearningTest struct {
	Timestamp  time.Time `json:"timestamp"`
	Name       string    `json:"name"`
	Hypothesis string    `json:"hypothesis,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// LearningState holds the engine's suggested next action and scheduled tests.
type LearningState struct {
	NextBestAction string         `json:"nextBestAction,omitempty"`
	Tests          []LearningTest `json:"tests"`
}

// OptimizationState is the singleton automation configuration.
type OptimizationState struct {
	AutoRules    map[string]AutoRule `json:"autoRules"`
	Learning     LearningState       `json:"learning"`
	LastActionAt *time.Time          `json:"lastActionAt,omitempty"`
	Revision     int                 `json:"-"`
}

// OptimizationEvent is one applied automation or playbook action.
type OptimizationEvent struct {
	Timestamp  time.Time `db:"ts" json:"timestamp"`
	Rule       string    `db:"rule" json:"rule"`
	CampaignID string    `db:"campaign_id" json:"campaign_id,omitempty"`
	Message    string    `db:"message" json:"message"`
}

const sqlGetOptimizationState = `
SELECT auto_rules, learning, last_action_at, revision
FROM optimization_state
WHERE id = 1
`

// GetOptimizationState retrieves the automation configuration. A zero state with
// revision 0 is returned when nothing has been saved yet.
func (s *Store) GetOptimizationState(ctx context.Context) (OptimizationState, error) {
	var row struct {
		AutoRules    []byte       `db:"auto_rules"`
		Learning     []byte       `db:"learning"`
		LastActionAt sql.NullTime `db:"last_action_at"`
		Revision     int          `db:"revision"`
	}
	err := s.db.GetContext(ctx, &row, sqlGetOptimizationState)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OptimizationState{AutoRules: map[string]AutoRule{}, Learning: LearningState{Tests: []LearningTest{}}}, nil
		}
		s.logger.Error(ctx, "failed to get optimization state", err)
		return OptimizationState{}, fmt.Errorf("failed to get optimization state: %w", err)
	}

	state := OptimizationState{Revision: row.Revision}
	if err := json.Unmarshal(row.AutoRules, &state.AutoRules); err != nil {
		return OptimizationState{}, fmt.Errorf("failed to decode auto rules: %w", err)
	}
	if err := json.Unmarshal(row.Learning, &state.Learning); err != nil {
		return OptimizationState{}, fmt.Errorf("failed to decode learning state: %w", err)
	}
	if row.LastActionAt.Valid {
		t := row.LastActionAt.Time
		state.LastActionAt = &t
	}
	if state.Learning.Tests == nil {
		state.Learning.Tests = []LearningTest{}
	}
	return state, nil
}

const sqlSaveOptimizationState = `
INSERT INTO optimization_state (id, auto_rules, learning, last_action_at, revision)
VALUES (1, $1, $2, $3, 1)
ON CONFLICT (id) DO UPDATE
SET auto_rules = EXCLUDED.auto_rules,
    learning = EXCLUDED.learning,
    last_action_at = EXCLUDED.last_action_at,
    revision = optimization_state.revision + 1
WHERE optimization_state.revision = $4
RETURNING revision
`

// SaveOptimizationState persists the automation configuration with a
// compare-and-swap on its revision. Learning tests are trimmed to their cap.
func (s *Store) SaveOptimizationState(ctx context.Context, state OptimizationState) (OptimizationState, error) {
	if len(state.Learning.Tests) > learningTestCap {
		state.Learning.Tests = state.Learning.Tests[len(state.Learning.Tests)-learningTestCap:]
	}
	encodedRules, err := json.Marshal(state.AutoRules)
	if err != nil {
		return OptimizationState{}, fmt.Errorf("failed to encode auto rules: %w", err)
	}
	encodedLearning, err := json.Marshal(state.Learning)
	if err != nil {
		return OptimizationState{}, fmt.Errorf("failed to encode learning state: %w", err)
	}
	var lastAction sql.NullTime
	if state.LastActionAt != nil {
		lastAction = sql.NullTime{Time: *state.LastActionAt, Valid: true}
	}

	var revision int
	err = s.db.GetContext(ctx, &revision, sqlSaveOptimizationState,
		encodedRules, encodedLearning, lastAction, state.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OptimizationState{}, ErrRevisionConflict
		}
		s.logger.Error(ctx, "failed to save optimization state", err)
		return OptimizationState{}, fmt.Errorf("failed to save optimization state: %w", err)
	}
	state.Revision = revision
	return state, nil
}

const sqlAppendOptimizationHistory = `
INSERT INTO optimization_history (ts, rule, campaign_id, message)
VALUES (NOW(), $1, $2, $3)
RETURNING ts, rule, campaign_id, message
`

const sqlTrimOptimizationHistory = `
DELETE FROM optimization_history
WHERE id NOT IN (SELECT id FROM optimization_history ORDER BY id DESC LIMIT $1)
`

// AppendOptimizationHistory records one applied action and trims history to its cap.
func (s *Store) AppendOptimizationHistory(ctx context.Context, rule, campaignID, message string) (OptimizationEvent, error) {
	var event OptimizationEvent
	err := s.db.GetContext(ctx, &event, sqlAppendOptimizationHistory, rule, campaignID, message)
	if err != nil {
		s.logger.Error(ctx, "failed to append optimization history", err)
		return OptimizationEvent{}, fmt.Errorf("failed to append optimization history: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlTrimOptimizationHistory, optimizationHistoryCap); err != nil {
		s.logger.Error(ctx, "failed to trim optimization history", err)
		return OptimizationEvent{}, fmt.Errorf("failed to trim optimization history: %w", err)
	}
	return event, nil
}

const sqlListOptimizationHistory = `
SELECT ts, rule, campaign_id, message
FROM optimization_history
ORDER BY id DESC
LIMIT $1
`

// ListOptimizationHistory returns the most recent applied actions, newest first.
func (s *Store) ListOptimizationHistory(ctx context.Context, limit int) ([]OptimizationEvent, error) {
	if limit <= 0 || limit > optimizationHistoryCap {
		limit = optimizationHistoryCap
	}
	var events []OptimizationEvent
	if err := s.db.SelectContext(ctx, &events, sqlListOptimizationHistory, limit); err != nil {
		s.logger.Error(ctx, "failed to list optimization history", err)
		return nil, fmt.Errorf("failed to list optimization history: %w", err)
	}
	return events, nil
}
