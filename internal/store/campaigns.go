package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Campaign status values. Campaigns are never deleted, only status-transitioned.
const (
	CampaignStatusLaunched = "launched"
	CampaignStatusPaused   = "paused"
)

// CampaignBudget holds the per-campaign spend limits.
type CampaignBudget struct {
	Daily   float64 `json:"daily"`
	Monthly float64 `json:"monthly"`
}

// CampaignLanding references the landing page a campaign drives traffic to.
type CampaignLanding struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// CampaignMetrics is the read-side metric snapshot fed by the analytics ingest.
type CampaignMetrics struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
	CPL         float64 `json:"cpl"`
	Spend       float64 `json:"spend"`
	Leads       int     `json:"leads"`
	Frequency   float64 `json:"frequency"`
}

// CampaignAuditEntry is one append-only per-campaign lifecycle event.
type CampaignAuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Context   map[string]any `json:"context,omitempty"`
}

// Campaign is one per-channel campaign record created by the launch pipeline.
type Campaign struct {
	ID         uuid.UUID                    `json:"id"`
	RunID      int                          `json:"run_id"`
	Type       string                       `json:"type"`
	Status     string                       `json:"status"`
	Budget     CampaignBudget               `json:"budget"`
	Connectors map[string]map[string]string `json:"connectors"`
	Landing    CampaignLanding              `json:"landing"`
	Canonical  map[string]any               `json:"canonical,omitempty"`
	Metrics    CampaignMetrics              `json:"metrics"`
	Leads      []map[string]any             `json:"leads"`
	AuditTrail []CampaignAuditEntry         `json:"audit_trail"`
	CreatedAt  time.Time                    `json:"created_at"`
}

type campaignRow struct {
	ID         uuid.UUID `db:"id"`
	RunID      int       `db:"run_id"`
	Type       string    `db:"type"`
	Status     string    `db:"status"`
	Budget     []byte    `db:"budget"`
	Connectors []byte    `db:"connectors"`
	Landing    []byte    `db:"landing"`
	Canonical  []byte    `db:"canonical"`
	Metrics    []byte    `db:"metrics"`
	Leads      []byte    `db:"leads"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r campaignRow) toCampaign() (Campaign, error) {
	campaign := Campaign{
		ID:        r.ID,
		RunID:     r.RunID,
		Type:      r.Type,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{r.Budget, &campaign.Budget},
		{r.Connectors, &campaign.Connectors},
		{r.Landing, &campaign.Landing},
		{r.Canonical, &campaign.Canonical},
		{r.Metrics, &campaign.Metrics},
		{r.Leads, &campaign.Leads},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return Campaign{}, fmt.Errorf("failed to decode campaign column: %w", err)
		}
	}
	if campaign.Leads == nil {
		campaign.Leads = []map[string]any{}
	}
	return campaign, nil
}

func encodeCampaign(campaign Campaign) (budget, connectors, landing, canonical, metrics, leads []byte, err error) {
	if budget, err = json.Marshal(campaign.Budget); err != nil {
		return
	}
	if connectors, err = json.Marshal(campaign.Connectors); err != nil {
		return
	}
	if landing, err = json.Marshal(campaign.Landing); err != nil {
		return
	}
	if canonical, err = json.Marshal(campaign.Canonical); err != nil {
		return
	}
	if metrics, err = json.Marshal(campaign.Metrics); err != nil {
		return
	}
	leads, err = json.Marshal(campaign.Leads)
	return
}

const sqlCreateCampaign = `
INSERT INTO campaigns (id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
RETURNING id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
`

// CreateCampaign persists a new campaign record.
func (s *Store) CreateCampaign(ctx context.Context, campaign Campaign) (Campaign, error) {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	if campaign.Leads == nil {
		campaign.Leads = []map[string]any{}
	}
	budget, connectors, landing, canonical, metrics, leads, err := encodeCampaign(campaign)
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to encode campaign: %w", err)
	}

	var row campaignRow
	err = s.db.GetContext(ctx, &row, sqlCreateCampaign,
		campaign.ID, campaign.RunID, campaign.Type, campaign.Status,
		budget, connectors, landing, canonical, metrics, leads)
	if err != nil {
		s.logger.Error(ctx, "failed to create campaign", err)
		return Campaign{}, fmt.Errorf("failed to create campaign: %w", err)
	}
	return row.toCampaign()
}

const sqlGetCampaign = `
SELECT id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
FROM campaigns
WHERE id = $1
`

// GetCampaign retrieves one campaign with its audit trail.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (Campaign, error) {
	var row campaignRow
	err := s.db.GetContext(ctx, &row, sqlGetCampaign, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get campaign", err)
		return Campaign{}, fmt.Errorf("failed to get campaign: %w", err)
	}
	campaign, err := row.toCampaign()
	if err != nil {
		return Campaign{}, err
	}
	if campaign.AuditTrail, err = s.listCampaignAudit(ctx, campaign.ID); err != nil {
		return Campaign{}, err
	}
	return campaign, nil
}

const sqlListCampaigns = `
SELECT id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
FROM campaigns
ORDER BY created_at DESC
`

const sqlListCampaignsByStatus = `
SELECT id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
FROM campaigns
WHERE status = $1
ORDER BY created_at DESC
`

// ListCampaigns returns all campaigns with audit trails, newest first.
func (s *Store) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	var rows []campaignRow
	if err := s.db.SelectContext(ctx, &rows, sqlListCampaigns); err != nil {
		s.logger.Error(ctx, "failed to list campaigns", err)
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return s.rowsToCampaigns(ctx, rows)
}

// ListCampaignsByStatus returns campaigns in the given status, newest first.
func (s *Store) ListCampaignsByStatus(ctx context.Context, status string) ([]Campaign, error) {
	var rows []campaignRow
	if err := s.db.SelectContext(ctx, &rows, sqlListCampaignsByStatus, status); err != nil {
		s.logger.Error(ctx, "failed to list campaigns by status", err)
		return nil, fmt.Errorf("failed to list campaigns by status: %w", err)
	}
	return s.rowsToCampaigns(ctx, rows)
}

func (s *Store) rowsToCampaigns(ctx context.Context, rows []campaignRow) ([]Campaign, error) {
	campaigns := make([]Campaign, 0, len(rows))
	for _, row := range rows {
		campaign, err := row.toCampaign()
		if err != nil {
			return nil, err
		}
		if campaign.AuditTrail, err = s.listCampaignAudit(ctx, campaign.ID); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, nil
}

const sqlUpdateCampaignStatus = `
UPDATE campaigns
SET status = $2
WHERE id = $1
RETURNING id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
`

// UpdateCampaignStatus transitions a campaign between launched and paused.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string) (Campaign, error) {
	var row campaignRow
	err := s.db.GetContext(ctx, &row, sqlUpdateCampaignStatus, id, status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update campaign status", err)
		return Campaign{}, fmt.Errorf("failed to update campaign status: %w", err)
	}
	return row.toCampaign()
}

const sqlUpdateCampaignMetrics = `
UPDATE campaigns
SET metrics = $2
WHERE id = $1
RETURNING id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
`

// UpdateCampaignMetrics replaces the metric snapshot for a campaign.
func (s *Store) UpdateCampaignMetrics(ctx context.Context, id uuid.UUID, metrics CampaignMetrics) (Campaign, error) {
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to encode metrics: %w", err)
	}
	var row campaignRow
	err = s.db.GetContext(ctx, &row, sqlUpdateCampaignMetrics, id, encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update campaign metrics", err)
		return Campaign{}, fmt.Errorf("failed to update campaign metrics: %w", err)
	}
	return row.toCampaign()
}

const sqlUpdateCampaignBudget = `
UPDATE campaigns
SET budget = $2
WHERE id = $1
RETURNING id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
`

// UpdateCampaignBudget replaces the spend limits for a campaign.
func (s *Store) UpdateCampaignBudget(ctx context.Context, id uuid.UUID, budget CampaignBudget) (Campaign, error) {
	encoded, err := json.Marshal(budget)
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to encode budget: %w", err)
	}
	var row campaignRow
	err = s.db.GetContext(ctx, &row, sqlUpdateCampaignBudget, id, encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update campaign budget", err)
		return Campaign{}, fmt.Errorf("failed to update campaign budget: %w", err)
	}
	return row.toCampaign()
}

const sqlUpdateCampaignLeads = `
UPDATE campaigns
SET leads = $2
WHERE id = $1
RETURNING id, run_id, type, status, budget, connectors, landing, canonical, metrics, leads, created_at
`

// ReplaceCampaignLeads overwrites a campaign's lead list. Used by data
// erasure requests.
func (s *Store) ReplaceCampaignLeads(ctx context.Context, id uuid.UUID, leads []map[string]any) (Campaign, error) {
	if leads == nil {
		leads = []map[string]any{}
	}
	encoded, err := json.Marshal(leads)
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to encode leads: %w", err)
	}
	var row campaignRow
	err = s.db.GetContext(ctx, &row, sqlUpdateCampaignLeads, id, encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to replace campaign leads", err)
		return Campaign{}, fmt.Errorf("failed to replace campaign leads: %w", err)
	}
	return row.toCampaign()
}

// AppendCampaignLeads adds captured leads to a campaign's lead list.
func (s *Store) AppendCampaignLeads(ctx context.Context, id uuid.UUID, leads []map[string]any) (Campaign, error) {
	campaign, err := s.GetCampaign(ctx, id)
	if err != nil {
		return Campaign{}, err
	}
	combined := append(campaign.Leads, leads...)
	encoded, err := json.Marshal(combined)
	if err != nil {
		return Campaign{}, fmt.Errorf("failed to encode leads: %w", err)
	}
	var row campaignRow
	err = s.db.GetContext(ctx, &row, sqlUpdateCampaignLeads, id, encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to update campaign leads", err)
		return Campaign{}, fmt.Errorf("failed to update campaign leads: %w", err)
	}
	return row.toCampaign()
}

const sqlAppendCampaignAudit = `
INSERT INTO campaign_audit (campaign_id, ts, action, context)
VALUES ($1, NOW(), $2, $3)
`

// AppendCampaignAudit appends one entry to a campaign's audit trail.
func (s *Store) AppendCampaignAudit(ctx context.Context, campaignID uuid.UUID, action string, auditContext map[string]any) error {
	encoded, err := json.Marshal(auditContext)
	if err != nil {
		return fmt.Errorf("failed to encode audit context: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlAppendCampaignAudit, campaignID, action, encoded); err != nil {
		s.logger.Error(ctx, "failed to append campaign audit", err)
		return fmt.Errorf("failed to append campaign audit: %w", err)
	}
	return nil
}

const sqlListCampaignAudit = `
SELECT ts, action, context
FROM campaign_audit
WHERE campaign_id = $1
ORDER BY id
`

func (s *Store) listCampaignAudit(ctx context.Context, campaignID uuid.UUID) ([]CampaignAuditEntry, error) {
	var rows []struct {
		Timestamp time.Time `db:"ts"`
		Action    string    `db:"action"`
		Context   []byte    `db:"context"`
	}
	if err := s.db.SelectContext(ctx, &rows, sqlListCampaignAudit, campaignID); err != nil {
		s.logger.Error(ctx, "failed to list campaign audit", err)
		return nil, fmt.Errorf("failed to list campaign audit: %w", err)
	}
	entries := make([]CampaignAuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := CampaignAuditEntry{Timestamp: row.Timestamp, Action: row.Action}
		if len(row.Context) > 0 {
			if err := json.Unmarshal(row.Context, &entry.Context); err != nil {
				return nil, fmt.Errorf("failed to decode audit context: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
