package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SettingsRecord is one independently versioned settings section.
type SettingsRecord struct {
	Section   string
	Data      map[string]any
	Revision  int
	UpdatedAt time.Time
}

type settingsRow struct {
	Section   string    `db:"section"`
	Data      []byte    `db:"data"`
	Revision  int       `db:"revision"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r settingsRow) toRecord() (SettingsRecord, error) {
	rec := SettingsRecord{
		Section:   r.Section,
		Revision:  r.Revision,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Data, &rec.Data); err != nil {
		return SettingsRecord{}, fmt.Errorf("failed to decode settings data: %w", err)
	}
	return rec, nil
}

const sqlGetSettingsSection = `
SELECT section, data, revision, updated_at
FROM marketing_settings
WHERE section = $1
`

// GetSettingsSection retrieves one settings section.
func (s *Store) GetSettingsSection(ctx context.Context, section string) (SettingsRecord, error) {
	var row settingsRow
	err := s.db.GetContext(ctx, &row, sqlGetSettingsSection, section)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SettingsRecord{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get settings section", err)
		return SettingsRecord{}, fmt.Errorf("failed to get settings section: %w", err)
	}
	return row.toRecord()
}

const sqlListSettingsSections = `
SELECT section, data, revision, updated_at
FROM marketing_settings
ORDER BY section
`

// ListSettingsSections retrieves all persisted settings sections.
func (s *Store) ListSettingsSections(ctx context.Context) ([]SettingsRecord, error) {
	var rows []settingsRow
	if err := s.db.SelectContext(ctx, &rows, sqlListSettingsSections); err != nil {
		s.logger.Error(ctx, "failed to list settings sections", err)
		return nil, fmt.Errorf("failed to list settings sections: %w", err)
	}
	records := make([]SettingsRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

const sqlUpsertSettingsSection = `
INSERT INTO marketing_settings (section, data, revision, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (section) DO UPDATE
SET data = EXCLUDED.data,
    revision = marketing_settings.revision + 1,
    updated_at = NOW()
WHERE marketing_settings.revision = $3
RETURNING section, data, revision, updated_at
`

const sqlInsertSettingsHistory = `
INSERT INTO settings_history (section, data, saved_at)
VALUES ($1, $2, NOW())
`

// SaveSettingsSection persists a section with a compare-and-swap on its revision.
// The previously persisted record is kept in settings_history so a revert can restore it.
// expectedRevision must be 0 when the section has never been saved.
func (s *Store) SaveSettingsSection(ctx context.Context, section string, data map[string]any, expectedRevision int) (SettingsRecord, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return SettingsRecord{}, fmt.Errorf("failed to encode settings data: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return SettingsRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prev settingsRow
	err = tx.GetContext(ctx, &prev, sqlGetSettingsSection+" FOR UPDATE", section)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error(ctx, "failed to read settings section", err)
		return SettingsRecord{}, fmt.Errorf("failed to read settings section: %w", err)
	}
	if exists && prev.Revision != expectedRevision {
		return SettingsRecord{}, ErrRevisionConflict
	}
	if !exists && expectedRevision != 0 {
		return SettingsRecord{}, ErrRevisionConflict
	}

	if exists {
		if _, err := tx.ExecContext(ctx, sqlInsertSettingsHistory, section, prev.Data); err != nil {
			s.logger.Error(ctx, "failed to record settings history", err)
			return SettingsRecord{}, fmt.Errorf("failed to record settings history: %w", err)
		}
	}

	var row settingsRow
	err = tx.GetContext(ctx, &row, sqlUpsertSettingsSection, section, encoded, expectedRevision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SettingsRecord{}, ErrRevisionConflict
		}
		s.logger.Error(ctx, "failed to save settings section", err)
		return SettingsRecord{}, fmt.Errorf("failed to save settings section: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SettingsRecord{}, fmt.Errorf("failed to commit settings save: %w", err)
	}
	return row.toRecord()
}

const sqlLatestSettingsHistory = `
SELECT id, data
FROM settings_history
WHERE section = $1
ORDER BY id DESC
LIMIT 1
`

const sqlDeleteSettingsHistory = `DELETE FROM settings_history WHERE id = $1`

const sqlRestoreSettingsSection = `
UPDATE marketing_settings
SET data = $2, revision = revision + 1, updated_at = NOW()
WHERE section = $1
RETURNING section, data, revision, updated_at
`

// RevertSettingsSection restores the immediately-prior persisted record for a section.
// Returns ErrNotFound when there is nothing to revert to.
func (s *Store) RevertSettingsSection(ctx context.Context, section string) (SettingsRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return SettingsRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var hist struct {
		ID   int64  `db:"id"`
		Data []byte `db:"data"`
	}
	err = tx.GetContext(ctx, &hist, sqlLatestSettingsHistory, section)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SettingsRecord{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to read settings history", err)
		return SettingsRecord{}, fmt.Errorf("failed to read settings history: %w", err)
	}

	var row settingsRow
	err = tx.GetContext(ctx, &row, sqlRestoreSettingsSection, section, hist.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SettingsRecord{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to restore settings section", err)
		return SettingsRecord{}, fmt.Errorf("failed to restore settings section: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlDeleteSettingsHistory, hist.ID); err != nil {
		s.logger.Error(ctx, "failed to trim settings history", err)
		return SettingsRecord{}, fmt.Errorf("failed to trim settings history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SettingsRecord{}, fmt.Errorf("failed to commit settings revert: %w", err)
	}
	return row.toRecord()
}
