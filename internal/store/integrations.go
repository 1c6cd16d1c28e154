package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Connector status values.
const (
	IntegrationStatusConnected    = "connected"
	IntegrationStatusWarning      = "warning"
	IntegrationStatusError        = "error"
	IntegrationStatusDisabled     = "disabled"
	IntegrationStatusDisconnected = "disconnected"
	IntegrationStatusUnknown      = "unknown"
)

// IntegrationCredential is one connector credential entry keyed by platform id.
// Secret fields inside Details are sealed before they reach this layer.
type IntegrationCredential struct {
	Platform        string            `json:"platform"`
	Status          string            `json:"status"`
	Details         map[string]string `json:"-"`
	LastValidatedAt *time.Time        `json:"lastValidatedAt,omitempty"`
	ValidatedBy     string            `json:"validatedBy,omitempty"`
	Message         string            `json:"message,omitempty"`
	UpdatedAt       time.Time         `json:"-"`
}

type integrationRow struct {
	Platform        string       `db:"platform"`
	Status          string       `db:"status"`
	Details         []byte       `db:"details"`
	LastValidatedAt sql.NullTime `db:"last_validated_at"`
	ValidatedBy     string       `db:"validated_by"`
	Message         string       `db:"message"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

func (r integrationRow) toCredential() (IntegrationCredential, error) {
	cred := IntegrationCredential{
		Platform:    r.Platform,
		Status:      r.Status,
		ValidatedBy: r.ValidatedBy,
		Message:     r.Message,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LastValidatedAt.Valid {
		t := r.LastValidatedAt.Time
		cred.LastValidatedAt = &t
	}
	if err := json.Unmarshal(r.Details, &cred.Details); err != nil {
		return IntegrationCredential{}, fmt.Errorf("failed to decode integration details: %w", err)
	}
	return cred, nil
}

const sqlGetIntegration = `
SELECT platform, status, details, last_validated_at, validated_by, message, updated_at
FROM integration_credentials
WHERE platform = $1
`

// GetIntegration retrieves one connector credential entry.
func (s *Store) GetIntegration(ctx context.Context, platform string) (IntegrationCredential, error) {
	var row integrationRow
	err := s.db.GetContext(ctx, &row, sqlGetIntegration, platform)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IntegrationCredential{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get integration", err)
		return IntegrationCredential{}, fmt.Errorf("failed to get integration: %w", err)
	}
	return row.toCredential()
}

const sqlListIntegrations = `
SELECT platform, status, details, last_validated_at, validated_by, message, updated_at
FROM integration_credentials
ORDER BY platform
`

// ListIntegrations retrieves all connector credential entries.
func (s *Store) ListIntegrations(ctx context.Context) ([]IntegrationCredential, error) {
	var rows []integrationRow
	if err := s.db.SelectContext(ctx, &rows, sqlListIntegrations); err != nil {
		s.logger.Error(ctx, "failed to list integrations", err)
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	creds := make([]IntegrationCredential, 0, len(rows))
	for _, row := range rows {
		cred, err := row.toCredential()
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

const sqlUpsertIntegration = `
INSERT INTO integration_credentials (platform, status, details, last_validated_at, validated_by, message, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (platform) DO UPDATE
SET status = EXCLUDED.status,
    details = EXCLUDED.details,
    last_validated_at = EXCLUDED.last_validated_at,
    validated_by = EXCLUDED.validated_by,
    message = EXCLUDED.message,
    updated_at = NOW()
RETURNING platform, status, details, last_validated_at, validated_by, message, updated_at
`

// UpsertIntegration writes the full credential entry for a platform.
func (s *Store) UpsertIntegration(ctx context.Context, cred IntegrationCredential) (IntegrationCredential, error) {
	if cred.Details == nil {
		cred.Details = map[string]string{}
	}
	encoded, err := json.Marshal(cred.Details)
	if err != nil {
		return IntegrationCredential{}, fmt.Errorf("failed to encode integration details: %w", err)
	}

	var lastValidated sql.NullTime
	if cred.LastValidatedAt != nil {
		lastValidated = sql.NullTime{Time: *cred.LastValidatedAt, Valid: true}
	}

	var row integrationRow
	err = s.db.GetContext(ctx, &row, sqlUpsertIntegration,
		cred.Platform, cred.Status, encoded, lastValidated, cred.ValidatedBy, cred.Message)
	if err != nil {
		s.logger.Error(ctx, "failed to upsert integration", err)
		return IntegrationCredential{}, fmt.Errorf("failed to upsert integration: %w", err)
	}
	return row.toCredential()
}

const sqlClearIntegration = `
UPDATE integration_credentials
SET status = $2, details = '{}', last_validated_at = NULL, validated_by = '', message = $3, updated_at = NOW()
WHERE platform = $1
RETURNING platform, status, details, last_validated_at, validated_by, message, updated_at
`

// ClearIntegration wipes credentials for a platform and resets it to disconnected.
func (s *Store) ClearIntegration(ctx context.Context, platform, message string) (IntegrationCredential, error) {
	var row integrationRow
	err := s.db.GetContext(ctx, &row, sqlClearIntegration, platform, IntegrationStatusDisconnected, message)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IntegrationCredential{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to clear integration", err)
		return IntegrationCredential{}, fmt.Errorf("failed to clear integration: %w", err)
	}
	return row.toCredential()
}
