package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	settingsAuditCap    = 50
	integrationAuditCap = 50
)

// SettingsAuditEntry records one settings save, attributed to an actor.
type SettingsAuditEntry struct {
	ID         int64     `db:"id" json:"-"`
	Timestamp  time.Time `db:"ts" json:"timestamp"`
	Section    string    `db:"section" json:"section"`
	ActorName  string    `db:"actor_name" json:"-"`
	ActorEmail string    `db:"actor_email" json:"-"`
	Changes    []string  `db:"-" json:"changes"`
}

type settingsAuditRow struct {
	ID         int64     `db:"id"`
	Timestamp  time.Time `db:"ts"`
	Section    string    `db:"section"`
	ActorName  string    `db:"actor_name"`
	ActorEmail string    `db:"actor_email"`
	Changes    []byte    `db:"changes"`
}

const sqlAppendSettingsAudit = `
INSERT INTO settings_audit (ts, section, actor_name, actor_email, changes)
VALUES (NOW(), $1, $2, $3, $4)
RETURNING id, ts, section, actor_name, actor_email, changes
`

const sqlTrimSettingsAudit = `
DELETE FROM settings_audit
WHERE id NOT IN (SELECT id FROM settings_audit ORDER BY id DESC LIMIT $1)
`

// AppendSettingsAudit appends one audit entry and trims the log to its cap.
func (s *Store) AppendSettingsAudit(ctx context.Context, section, actorName, actorEmail string, changes []string) (SettingsAuditEntry, error) {
	encoded, err := json.Marshal(changes)
	if err != nil {
		return SettingsAuditEntry{}, fmt.Errorf("failed to encode changes: %w", err)
	}

	var row settingsAuditRow
	err = s.db.GetContext(ctx, &row, sqlAppendSettingsAudit, section, actorName, actorEmail, encoded)
	if err != nil {
		s.logger.Error(ctx, "failed to append settings audit", err)
		return SettingsAuditEntry{}, fmt.Errorf("failed to append settings audit: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlTrimSettingsAudit, settingsAuditCap); err != nil {
		s.logger.Error(ctx, "failed to trim settings audit", err)
		return SettingsAuditEntry{}, fmt.Errorf("failed to trim settings audit: %w", err)
	}
	return row.toEntry()
}

func (r settingsAuditRow) toEntry() (SettingsAuditEntry, error) {
	entry := SettingsAuditEntry{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Section:    r.Section,
		ActorName:  r.ActorName,
		ActorEmail: r.ActorEmail,
	}
	if err := json.Unmarshal(r.Changes, &entry.Changes); err != nil {
		return SettingsAuditEntry{}, fmt.Errorf("failed to decode changes: %w", err)
	}
	return entry, nil
}

const sqlListSettingsAudit = `
SELECT id, ts, section, actor_name, actor_email, changes
FROM settings_audit
ORDER BY id DESC
LIMIT $1
`

// ListSettingsAudit returns the most recent audit entries, newest first.
func (s *Store) ListSettingsAudit(ctx context.Context, limit int) ([]SettingsAuditEntry, error) {
	if limit <= 0 || limit > settingsAuditCap {
		limit = settingsAuditCap
	}
	var rows []settingsAuditRow
	if err := s.db.SelectContext(ctx, &rows, sqlListSettingsAudit, limit); err != nil {
		s.logger.Error(ctx, "failed to list settings audit", err)
		return nil, fmt.Errorf("failed to list settings audit: %w", err)
	}
	entries := make([]SettingsAuditEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// IntegrationAuditEntry records one connector lifecycle action.
type IntegrationAuditEntry struct {
	ID               int64          `db:"-" json:"-"`
	Timestamp        time.Time      `db:"-" json:"timestamp"`
	Platform         string         `db:"-" json:"platform"`
	Action           string         `db:"-" json:"action"`
	Admin            string         `db:"-" json:"admin"`
	DeveloperMessage string         `db:"-" json:"developer_message"`
	Context          map[string]any `db:"-" json:"context,omitempty"`
}

type integrationAuditRow struct {
	ID               int64     `db:"id"`
	Timestamp        time.Time `db:"ts"`
	Platform         string    `db:"platform"`
	Action           string    `db:"action"`
	Admin            string    `db:"admin"`
	DeveloperMessage string    `db:"developer_message"`
	Context          []byte    `db:"context"`
}

func (r integrationAuditRow) toEntry() (IntegrationAuditEntry, error) {
	entry := IntegrationAuditEntry{
		ID:               r.ID,
		Timestamp:        r.Timestamp,
		Platform:         r.Platform,
		Action:           r.Action,
		Admin:            r.Admin,
		DeveloperMessage: r.DeveloperMessage,
	}
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &entry.Context); err != nil {
			return IntegrationAuditEntry{}, fmt.Errorf("failed to decode audit context: %w", err)
		}
	}
	return entry, nil
}

const sqlAppendIntegrationAudit = `
INSERT INTO integration_audit (ts, platform, action, admin, developer_message, context)
VALUES (NOW(), $1, $2, $3, $4, $5)
RETURNING id, ts, platform, action, admin, developer_message, context
`

const sqlTrimIntegrationAudit = `
DELETE FROM integration_audit
WHERE id NOT IN (SELECT id FROM integration_audit ORDER BY id DESC LIMIT $1)
`

// AppendIntegrationAudit appends one connector lifecycle entry and trims the log to its cap.
func (s *Store) AppendIntegrationAudit(ctx context.Context, entry IntegrationAuditEntry) (IntegrationAuditEntry, error) {
	encoded, err := json.Marshal(entry.Context)
	if err != nil {
		return IntegrationAuditEntry{}, fmt.Errorf("failed to encode audit context: %w", err)
	}

	var row integrationAuditRow
	err = s.db.GetContext(ctx, &row, sqlAppendIntegrationAudit,
		entry.Platform, entry.Action, entry.Admin, entry.DeveloperMessage, encoded)
	if err != nil {
		s.logger.Error(ctx, "failed to append integration audit", err)
		return IntegrationAuditEntry{}, fmt.Errorf("failed to append integration audit: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlTrimIntegrationAudit, integrationAuditCap); err != nil {
		s.logger.Error(ctx, "failed to trim integration audit", err)
		return IntegrationAuditEntry{}, fmt.Errorf("failed to trim integration audit: %w", err)
	}
	return row.toEntry()
}

const sqlListIntegrationAudit = `
SELECT id, ts, platform, action, admin, developer_message, context
FROM integration_audit
ORDER BY id DESC
LIMIT $1
`

// ListIntegrationAudit returns the most recent connector lifecycle entries, newest first.
func (s *Store) ListIntegrationAudit(ctx context.Context, limit int) ([]IntegrationAuditEntry, error) {
	if limit <= 0 || limit > integrationAuditCap {
		limit = integrationAuditCap
	}
	var rows []integrationAuditRow
	if err := s.db.SelectContext(ctx, &rows, sqlListIntegrationAudit, limit); err != nil {
		s.logger.Error(ctx, "failed to list integration audit", err)
		return nil, fmt.Errorf("failed to list integration audit: %w", err)
	}
	entries := make([]IntegrationAuditEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
