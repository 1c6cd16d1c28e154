package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const governanceLogCap = 100

// BudgetLock caps the monthly budget regardless of settings changes.
type BudgetLock struct {
	Enabled   bool       `json:"enabled"`
	Cap       float64    `json:"cap"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// EmergencyStop records the kill-switch trigger state.
type EmergencyStop struct {
	Active      bool       `json:"active"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`
	TriggeredBy string     `json:"triggeredBy,omitempty"`
}

// PolicyChecklist tracks the compliance review items.
type PolicyChecklist struct {
	PMSuryaClaims    bool       `json:"pmSuryaClaims"`
	EthicalMessaging bool       `json:"ethicalMessaging"`
	DisclaimerPlaced bool       `json:"disclaimerPlaced"`
	DataAccuracy     bool       `json:"dataAccuracy"`
	Notes            string     `json:"notes,omitempty"`
	LastReviewed     *time.Time `json:"lastReviewed,omitempty"`
}

// GovernanceState is the singleton governance configuration.
type GovernanceState struct {
	BudgetLock      BudgetLock      `json:"budgetLock"`
	EmergencyStop   EmergencyStop   `json:"emergencyStop"`
	PolicyChecklist PolicyChecklist `json:"policyChecklist"`
	Revision        int             `json:"-"`
}

// GovernanceLogEntry is one append-only governance event.
type GovernanceLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Context   map[string]any `json:"context,omitempty"`
	User      string         `json:"user"`
}

const sqlGetGovernanceState = `
SELECT budget_lock, emergency_stop, policy_checklist, revision
FROM governance_state
WHERE id = 1
`

// GetGovernanceState retrieves the governance configuration. A zero state with
// revision 0 is returned when nothing has been saved yet.
func (s *Store) GetGovernanceState(ctx context.Context) (GovernanceState, error) {
	var row struct {
		BudgetLock      []byte `db:"budget_lock"`
		EmergencyStop   []byte `db:"emergency_stop"`
		PolicyChecklist []byte `db:"policy_checklist"`
		Revision        int    `db:"revision"`
	}
	err := s.db.GetContext(ctx, &row, sqlGetGovernanceState)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GovernanceState{}, nil
		}
		s.logger.Error(ctx, "failed to get governance state", err)
		return GovernanceState{}, fmt.Errorf("failed to get governance state: %w", err)
	}

	state := GovernanceState{Revision: row.Revision}
	if err := json.Unmarshal(row.BudgetLock, &state.BudgetLock); err != nil {
		return GovernanceState{}, fmt.Errorf("failed to decode budget lock: %w", err)
	}
	if err := json.Unmarshal(row.EmergencyStop, &state.EmergencyStop); err != nil {
		return GovernanceState{}, fmt.Errorf("failed to decode emergency stop: %w", err)
	}
	if err := json.Unmarshal(row.PolicyChecklist, &state.PolicyChecklist); err != nil {
		return GovernanceState{}, fmt.Errorf("failed to decode policy checklist: %w", err)
	}
	return state, nil
}

const sqlSaveGovernanceState = `
INSERT INTO governance_state (id, budget_lock, emergency_stop, policy_checklist, revision)
VALUES (1, $1, $2, $3, 1)
ON CONFLICT (id) DO UPDATE
SET budget_lock = EXCLUDED.budget_lock,
    emergency_stop = EXCLUDED.emergency_stop,
    policy_checklist = EXCLUDED.policy_checklist,
    revision = governance_state.revision + 1
WHERE governance_state.revision = $4
RETURNING revision
`

// SaveGovernanceState persists the governance configuration with a
// compare-and-swap on its revision.
func (s *Store) SaveGovernanceState(ctx context.Context, state GovernanceState) (GovernanceState, error) {
	encodedLock, err := json.Marshal(state.BudgetLock)
	if err != nil {
		return GovernanceState{}, fmt.Errorf("failed to encode budget lock: %w", err)
	}
	encodedStop, err := json.Marshal(state.EmergencyStop)
	if err != nil {
		return GovernanceState{}, fmt.Errorf("failed to encode emergency stop: %w", err)
	}
	encodedChecklist, err := json.Marshal(state.PolicyChecklist)
	if err != nil {
		return GovernanceState{}, fmt.Errorf("failed to encode policy checklist: %w", err)
	}

	var revision int
	err = s.db.GetContext(ctx, &revision, sqlSaveGovernanceState,
		encodedLock, encodedStop, encodedChecklist, state.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GovernanceState{}, ErrRevisionConflict
		}
		s.logger.Error(ctx, "failed to save governance state", err)
		return GovernanceState{}, fmt.Errorf("failed to save governance state: %w", err)
	}
	state.Revision = revision
	return state, nil
}

const sqlAppendGovernanceLog = `
INSERT INTO governance_log (ts, event, context, actor)
VALUES (NOW(), $1, $2, $3)
RETURNING ts, event, context, actor
`

const sqlTrimGovernanceLog = `
DELETE FROM governance_log
WHERE id NOT IN (SELECT id FROM governance_log ORDER BY id DESC LIMIT $1)
`

// AppendGovernanceLog appends one governance event and trims the log to its cap.
func (s *Store) AppendGovernanceLog(ctx context.Context, event string, logContext map[string]any, user string) (GovernanceLogEntry, error) {
	encoded, err := json.Marshal(logContext)
	if err != nil {
		return GovernanceLogEntry{}, fmt.Errorf("failed to encode log context: %w", err)
	}

	var row struct {
		Timestamp time.Time `db:"ts"`
		Event     string    `db:"event"`
		Context   []byte    `db:"context"`
		Actor     string    `db:"actor"`
	}
	err = s.db.GetContext(ctx, &row, sqlAppendGovernanceLog, event, encoded, user)
	if err != nil {
		s.logger.Error(ctx, "failed to append governance log", err)
		return GovernanceLogEntry{}, fmt.Errorf("failed to append governance log: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlTrimGovernanceLog, governanceLogCap); err != nil {
		s.logger.Error(ctx, "failed to trim governance log", err)
		return GovernanceLogEntry{}, fmt.Errorf("failed to trim governance log: %w", err)
	}

	entry := GovernanceLogEntry{Timestamp: row.Timestamp, Event: row.Event, User: row.Actor}
	if len(row.Context) > 0 {
		if err := json.Unmarshal(row.Context, &entry.Context); err != nil {
			return GovernanceLogEntry{}, fmt.Errorf("failed to decode log context: %w", err)
		}
	}
	return entry, nil
}

const sqlListGovernanceLog = `
SELECT ts, event, context, actor
FROM governance_log
ORDER BY id DESC
LIMIT $1
`

// ListGovernanceLog returns the most recent governance events, newest first.
func (s *Store) ListGovernanceLog(ctx context.Context, limit int) ([]GovernanceLogEntry, error) {
	if limit <= 0 || limit > governanceLogCap {
		limit = governanceLogCap
	}
	var rows []struct {
		Timestamp time.Time `db:"ts"`
		Event     string    `db:"event"`
		Context   []byte    `db:"context"`
		Actor     string    `db:"actor"`
	}
	if err := s.db.SelectContext(ctx, &rows, sqlListGovernanceLog, limit); err != nil {
		s.logger.Error(ctx, "failed to list governance log", err)
		return nil, fmt.Errorf("failed to list governance log: %w", err)
	}
	entries := make([]GovernanceLogEntry, 0, len(rows))
	for _, row := range rows {
		entry := GovernanceLogEntry{Timestamp: row.Timestamp, Event: row.Event, User: row.Actor}
		if len(row.Context) > 0 {
			if err := json.Unmarshal(row.Context, &entry.Context); err != nil {
				return nil, fmt.Errorf("failed to decode log context: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
