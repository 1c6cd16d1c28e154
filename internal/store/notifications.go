package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const notificationLogCap = 50

// DigestChannels selects which channels receive the daily digest.
type DigestChannels struct {
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
}

// DailyDigest is the digest alerting configuration.
type DailyDigest struct {
	Enabled  bool           `json:"enabled"`
	Time     string         `json:"time"`
	Channels DigestChannels `json:"channels"`
}

// InstantAlerts selects which channels receive instant alerts.
type InstantAlerts struct {
	Email    bool `json:"email"`
	WhatsApp bool `json:"whatsapp"`
}

// NotificationsState is the singleton alerting configuration.
type NotificationsState struct {
	DailyDigest DailyDigest   `json:"dailyDigest"`
	Instant     InstantAlerts `json:"instant"`
	Revision    int           `json:"-"`
}

// NotificationEntry is one logged alert.
type NotificationEntry struct {
	Timestamp time.Time `db:"ts" json:"timestamp"`
	Type      string    `db:"type" json:"type"`
	Message   string    `db:"message" json:"message"`
}

const sqlGetNotificationsState = `
SELECT daily_digest, instant, revision
FROM notifications_state
WHERE id = 1
`

// GetNotificationsState retrieves the alerting configuration. A zero state with
// revision 0 is returned when nothing has been saved yet.
func (s *Store) GetNotificationsState(ctx context.Context) (NotificationsState, error) {
	var row struct {
		DailyDigest []byte `db:"daily_digest"`
		Instant     []byte `db:"instant"`
		Revision    int    `db:"revision"`
	}
	err := s.db.GetContext(ctx, &row, sqlGetNotificationsState)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotificationsState{}, nil
		}
		s.logger.Error(ctx, "failed to get notifications state", err)
		return NotificationsState{}, fmt.Errorf("failed to get notifications state: %w", err)
	}

	state := NotificationsState{Revision: row.Revision}
	if err := json.Unmarshal(row.DailyDigest, &state.DailyDigest); err != nil {
		return NotificationsState{}, fmt.Errorf("failed to decode daily digest: %w", err)
	}
	if err := json.Unmarshal(row.Instant, &state.Instant); err != nil {
		return NotificationsState{}, fmt.Errorf("failed to decode instant alerts: %w", err)
	}
	return state, nil
}

const sqlSaveNotificationsState = `
INSERT INTO notifications_state (id, daily_digest, instant, revision)
VALUES (1, $1, $2, 1)
ON CONFLICT (id) DO UPDATE
SET daily_digest = EXCLUDED.daily_digest,
    instant = EXCLUDED.instant,
    revision = notifications_state.revision + 1
WHERE notifications_state.revision = $3
RETURNING revision
`

// SaveNotificationsState persists the alerting configuration with a
// compare-and-swap on its revision.
func (s *Store) SaveNotificationsState(ctx context.Context, state NotificationsState) (NotificationsState, error) {
	encodedDigest, err := json.Marshal(state.DailyDigest)
	if err != nil {
		return NotificationsState{}, fmt.Errorf("failed to encode daily digest: %w", err)
	}
	encodedInstant, err := json.Marshal(state.Instant)
	if err != nil {
		return NotificationsState{}, fmt.Errorf("failed to encode instant alerts: %w", err)
	}

	var revision int
	err = s.db.GetContext(ctx, &revision, sqlSaveNotificationsState, encodedDigest, encodedInstant, state.Revision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotificationsState{}, ErrRevisionConflict
		}
		s.logger.Error(ctx, "failed to save notifications state", err)
		return NotificationsState{}, fmt.Errorf("failed to save notifications state: %w", err)
	}
	state.Revision = revision
	return state, nil
}

const sqlAppendNotification = `
INSERT INTO notification_log (ts, type, message)
VALUES (NOW(), $1, $2)
RETURNING ts, type, message
`

const sqlTrimNotificationLog = `
DELETE FROM notification_log
WHERE id NOT IN (SELECT id FROM notification_log ORDER BY id DESC LIMIT $1)
`

// AppendNotification logs one alert and trims the log to its cap.
func (s *Store) AppendNotification(ctx context.Context, notificationType, message string) (NotificationEntry, error) {
	var entry NotificationEntry
	err := s.db.GetContext(ctx, &entry, sqlAppendNotification, notificationType, message)
	if err != nil {
		s.logger.Error(ctx, "failed to append notification", err)
		return NotificationEntry{}, fmt.Errorf("failed to append notification: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlTrimNotificationLog, notificationLogCap); err != nil {
		s.logger.Error(ctx, "failed to trim notification log", err)
		return NotificationEntry{}, fmt.Errorf("failed to trim notification log: %w", err)
	}
	return entry, nil
}

const sqlListNotifications = `
SELECT ts, type, message
FROM notification_log
ORDER BY id DESC
LIMIT $1
`

// ListNotifications returns the most recent alerts, newest first.
func (s *Store) ListNotifications(ctx context.Context, limit int) ([]NotificationEntry, error) {
	if limit <= 0 || limit > notificationLogCap {
		limit = notificationLogCap
	}
	var entries []NotificationEntry
	if err := s.db.SelectContext(ctx, &entries, sqlListNotifications, limit); err != nil {
		s.logger.Error(ctx, "failed to list notifications", err)
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return entries, nil
}
