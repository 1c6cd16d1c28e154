package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	settingsprocessor "marketing-server/internal/settings/processor"
	"marketing-server/internal/store"

	"github.com/google/uuid"
)

var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrUnknownCampaignType = errors.New("unknown campaign type")
	ErrInvalidStatusChange = errors.New("invalid campaign status change")
	ErrEmergencyStopActive = errors.New("emergency stop is active")
	ErrNothingLaunched     = errors.New("no campaigns could be launched")
	ErrNoCampaignTypes     = errors.New("no campaign types requested")
)

// publicRefs are the credential fields safe to copy onto a campaign
// record for display. Everything else stays sealed in the registry.
var publicRefs = map[string][]string{
	"googleAds": {"customerId"},
	"meta":      {"adAccountId", "pageId"},
	"whatsapp":  {"whatsappNumber"},
	"email":     {"fromEmail"},
}

// CampaignStore is the persistence surface the launch pipeline needs.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, campaign store.Campaign) (store.Campaign, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (store.Campaign, error)
	ListCampaigns(ctx context.Context) ([]store.Campaign, error)
	ListCampaignsByStatus(ctx context.Context, status string) ([]store.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string) (store.Campaign, error)
	UpdateCampaignMetrics(ctx context.Context, id uuid.UUID, metrics store.CampaignMetrics) (store.Campaign, error)
	UpdateCampaignBudget(ctx context.Context, id uuid.UUID, budget store.CampaignBudget) (store.Campaign, error)
	AppendCampaignLeads(ctx context.Context, id uuid.UUID, leads []map[string]any) (store.Campaign, error)
	AppendCampaignAudit(ctx context.Context, campaignID uuid.UUID, action string, auditContext map[string]any) error
	GetGovernanceState(ctx context.Context) (store.GovernanceState, error)
}

// CredentialSource hands out decrypted connector credentials for
// connected platforms.
type CredentialSource interface {
	Credentials(ctx context.Context, platform string) (map[string]string, error)
}

// CopyGenerator writes landing page copy.
type CopyGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// SettingsReader exposes the masked settings views.
type SettingsReader interface {
	ReadSection(ctx context.Context, section string) (settingsprocessor.SectionView, error)
}

type Processor struct {
	store       CampaignStore
	credentials CredentialSource
	generator   CopyGenerator
	settings    SettingsReader
	logger      *observability.Logger
}

func NewProcessor(st CampaignStore, credentials CredentialSource, generator CopyGenerator, settings SettingsReader, logger *observability.Logger) *Processor {
	return &Processor{
		store:       st,
		credentials: credentials,
		generator:   generator,
		settings:    settings,
		logger:      logger,
	}
}

// LaunchFromRun creates one campaign per type the run's goals call for.
// A platform that is not connected gets its campaign recorded as paused
// with an auto_launch_failed audit entry instead of silently vanishing.
// Repeat launches from the same run are allowed and create new records.
func (p *Processor) LaunchFromRun(ctx context.Context, run store.BrainRun, actor auth.Actor) ([]store.Campaign, error) {
	if err := p.checkEmergencyStop(ctx); err != nil {
		return nil, err
	}

	return p.launchTypes(ctx, run, typesForGoals(run.Inputs.Goals), LandingOptions{}, actor)
}

// Launch creates campaigns of the requested types against a run, with
// the caller's landing choice applied to each.
func (p *Processor) Launch(ctx context.Context, run store.BrainRun, campaignTypes []string, landing LandingOptions, actor auth.Actor) ([]store.Campaign, error) {
	if len(campaignTypes) == 0 {
		return nil, ErrNoCampaignTypes
	}
	for _, campaignType := range campaignTypes {
		if _, ok := campaignCatalog[campaignType]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCampaignType, campaignType)
		}
	}
	if err := p.checkEmergencyStop(ctx); err != nil {
		return nil, err
	}
	return p.launchTypes(ctx, run, campaignTypes, landing, actor)
}

func (p *Processor) launchTypes(ctx context.Context, run store.BrainRun, campaignTypes []string, landing LandingOptions, actor auth.Actor) ([]store.Campaign, error) {
	var launched []store.Campaign
	var failures []string
	for _, campaignType := range campaignTypes {
		campaign, err := p.launchOne(ctx, run, campaignCatalog[campaignType], landing, actor)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", campaignType, err))
			continue
		}
		launched = append(launched, campaign)
	}

	if len(launched) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingLaunched, strings.Join(failures, "; "))
	}
	if len(failures) > 0 {
		return launched, fmt.Errorf("some campaigns could not start: %s", strings.Join(failures, "; "))
	}
	return launched, nil
}

func (p *Processor) launchOne(ctx context.Context, run store.BrainRun, spec CampaignSpec, landingOpts LandingOptions, actor auth.Actor) (store.Campaign, error) {
	id := uuid.New()
	budget := p.budgetFor(ctx, run, spec)
	landing, landingCopy := p.landingFor(ctx, spec, run.Inputs, id.String()[:8], landingOpts)

	canonical := map[string]any{
		"label":     spec.Label,
		"objective": run.Inputs.Goals,
		"regions":   run.Inputs.Regions,
		"languages": run.Inputs.Languages,
	}
	if run.Plan.AudiencePlan != nil {
		canonical["audience"] = run.Plan.AudiencePlan
	}
	if run.Plan.CreativePlan != nil {
		canonical["creative"] = run.Plan.CreativePlan
	}
	if landingCopy != "" {
		canonical["landingCopy"] = landingCopy
	}

	campaign := store.Campaign{
		ID:        id,
		RunID:     run.ID,
		Type:      spec.Type,
		Budget:    budget,
		Landing:   landing,
		Canonical: canonical,
		Leads:     []map[string]any{},
	}

	creds, credErr := p.credentials.Credentials(ctx, spec.Platform)
	if credErr != nil {
		// Record the campaign anyway so the failed launch is visible
		// and recoverable from the UI.
		campaign.Status = store.CampaignStatusPaused
		campaign.Connectors = map[string]map[string]string{}
		created, err := p.store.CreateCampaign(ctx, campaign)
		if err != nil {
			return store.Campaign{}, fmt.Errorf("create campaign: %w", err)
		}
		p.audit(ctx, created.ID, "auto_launch_failed", map[string]any{
			"platform": spec.Platform,
			"reason":   credErr.Error(),
			"by":       actor.Name,
		})
		return store.Campaign{}, fmt.Errorf("platform %s: %w", spec.Platform, credErr)
	}

	campaign.Status = store.CampaignStatusLaunched
	campaign.Connectors = map[string]map[string]string{
		spec.Platform: refsFor(spec.Platform, creds),
	}
	created, err := p.store.CreateCampaign(ctx, campaign)
	if err != nil {
		return store.Campaign{}, fmt.Errorf("create campaign: %w", err)
	}
	p.audit(ctx, created.ID, "launched", map[string]any{
		"run_id":   run.ID,
		"platform": spec.Platform,
		"by":       actor.Name,
	})
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "campaign_id", Value: created.ID.String()},
		observability.Field{Key: "campaign_type", Value: created.Type},
	)
	p.logger.Info(ctx, "campaign launched")
	return created, nil
}

// Pause takes a launched campaign out of delivery.
func (p *Processor) Pause(ctx context.Context, id uuid.UUID, reason string, actor auth.Actor) (store.Campaign, error) {
	return p.setStatus(ctx, id, store.CampaignStatusLaunched, store.CampaignStatusPaused, "paused", reason, actor)
}

// Resume puts a paused campaign back into delivery.
func (p *Processor) Resume(ctx context.Context, id uuid.UUID, actor auth.Actor) (store.Campaign, error) {
	if err := p.checkEmergencyStop(ctx); err != nil {
		return store.Campaign{}, err
	}
	return p.setStatus(ctx, id, store.CampaignStatusPaused, store.CampaignStatusLaunched, "resumed", "", actor)
}

// PauseAll pauses every launched campaign. Used by the emergency stop.
// Each campaign gets its own audit entry naming the reason.
func (p *Processor) PauseAll(ctx context.Context, reason string, actor auth.Actor) ([]store.Campaign, error) {
	running, err := p.store.ListCampaignsByStatus(ctx, store.CampaignStatusLaunched)
	if err != nil {
		return nil, fmt.Errorf("list launched campaigns: %w", err)
	}
	paused := make([]store.Campaign, 0, len(running))
	for _, campaign := range running {
		updated, err := p.store.UpdateCampaignStatus(ctx, campaign.ID, store.CampaignStatusPaused)
		if err != nil {
			p.logger.Error(ctx, "failed to pause campaign", err)
			continue
		}
		p.audit(ctx, campaign.ID, "paused", map[string]any{"reason": reason, "by": actor.Name})
		paused = append(paused, updated)
	}
	return paused, nil
}

// MetricsUpdate is a cumulative metric snapshot plus newly captured
// leads. Rates are derived here, never trusted from the caller.
type MetricsUpdate struct {
	Impressions int64
	Clicks      int64
	Spend       float64
	Frequency   float64
	Leads       []map[string]any
}

// IngestMetrics applies a metric snapshot to a campaign and appends any
// new leads.
func (p *Processor) IngestMetrics(ctx context.Context, id uuid.UUID, update MetricsUpdate, actor auth.Actor) (store.Campaign, error) {
	campaign, err := p.getCampaign(ctx, id)
	if err != nil {
		return store.Campaign{}, err
	}

	metrics := store.CampaignMetrics{
		Impressions: update.Impressions,
		Clicks:      update.Clicks,
		Spend:       update.Spend,
		Frequency:   update.Frequency,
		Leads:       campaign.Metrics.Leads + len(update.Leads),
	}
	if metrics.Impressions > 0 {
		metrics.CTR = float64(metrics.Clicks) / float64(metrics.Impressions) * 100
	}
	if metrics.Leads > 0 {
		metrics.CPL = metrics.Spend / float64(metrics.Leads)
	}

	if len(update.Leads) > 0 {
		if _, err := p.store.AppendCampaignLeads(ctx, id, update.Leads); err != nil {
			return store.Campaign{}, fmt.Errorf("append leads: %w", err)
		}
	}
	updated, err := p.store.UpdateCampaignMetrics(ctx, id, metrics)
	if err != nil {
		return store.Campaign{}, fmt.Errorf("update metrics: %w", err)
	}
	p.audit(ctx, id, "metrics_ingested", map[string]any{
		"impressions": update.Impressions,
		"clicks":      update.Clicks,
		"spend":       update.Spend,
		"new_leads":   len(update.Leads),
		"by":          actor.Name,
	})
	return updated, nil
}

// UpdateBudget replaces a campaign's spend limits.
func (p *Processor) UpdateBudget(ctx context.Context, id uuid.UUID, budget store.CampaignBudget, actor auth.Actor) (store.Campaign, error) {
	if _, err := p.getCampaign(ctx, id); err != nil {
		return store.Campaign{}, err
	}
	updated, err := p.store.UpdateCampaignBudget(ctx, id, budget)
	if err != nil {
		return store.Campaign{}, fmt.Errorf("update budget: %w", err)
	}
	p.audit(ctx, id, "budget_changed", map[string]any{
		"daily":   budget.Daily,
		"monthly": budget.Monthly,
		"by":      actor.Name,
	})
	return updated, nil
}

func (p *Processor) Get(ctx context.Context, id uuid.UUID) (store.Campaign, error) {
	return p.getCampaign(ctx, id)
}

func (p *Processor) List(ctx context.Context) ([]store.Campaign, error) {
	campaigns, err := p.store.ListCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

func (p *Processor) setStatus(ctx context.Context, id uuid.UUID, from, to, action, reason string, actor auth.Actor) (store.Campaign, error) {
	campaign, err := p.getCampaign(ctx, id)
	if err != nil {
		return store.Campaign{}, err
	}
	if campaign.Status != from {
		return store.Campaign{}, fmt.Errorf("%w: %s is %s", ErrInvalidStatusChange, id, campaign.Status)
	}
	updated, err := p.store.UpdateCampaignStatus(ctx, id, to)
	if err != nil {
		return store.Campaign{}, fmt.Errorf("update campaign status: %w", err)
	}
	auditContext := map[string]any{"by": actor.Name}
	if reason != "" {
		auditContext["reason"] = reason
	}
	p.audit(ctx, id, action, auditContext)
	return updated, nil
}

func (p *Processor) getCampaign(ctx context.Context, id uuid.UUID) (store.Campaign, error) {
	campaign, err := p.store.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Campaign{}, ErrCampaignNotFound
	}
	if err != nil {
		return store.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return campaign, nil
}

// budgetFor sizes a campaign. The plan's per-platform allocation wins,
// then the budget settings' platform split, then the catalog share of
// the daily budget.
func (p *Processor) budgetFor(ctx context.Context, run store.BrainRun, spec CampaignSpec) store.CampaignBudget {
	platformShare := catalogShare(spec.Platform)
	share := spec.ShareOfDaily

	if split := p.platformSplit(ctx); platformShare > 0 {
		if pct, ok := split[splitKey[spec.Platform]]; ok && pct > 0 {
			// The split is a platform percentage; divide it across the
			// platform's campaign types by their catalog shares.
			share = (pct / 100) * (spec.ShareOfDaily / platformShare)
		}
	}

	daily := run.Inputs.DailyBudget * share
	if allocation, ok := run.Plan.BudgetAllocation[allocationKey[spec.Platform]]; ok && allocation > 0 && platformShare > 0 {
		daily = allocation * (spec.ShareOfDaily / platformShare)
	}
	monthly := run.Inputs.MonthlyBudget * share
	if monthly == 0 {
		monthly = daily * 30
	}
	return store.CampaignBudget{Daily: daily, Monthly: monthly}
}

// platformSplit reads the configured platform split from the budget
// section. Missing settings degrade to nil so the catalog share applies.
func (p *Processor) platformSplit(ctx context.Context) map[string]float64 {
	view, err := p.settings.ReadSection(ctx, settingsprocessor.SectionBudget)
	if err != nil {
		p.logger.Warn(ctx, "could not read budget settings for platform split")
		return nil
	}
	switch raw := view.Data["platformSplit"].(type) {
	case map[string]float64:
		return raw
	case map[string]any:
		split := make(map[string]float64, len(raw))
		for key, value := range raw {
			if pct, ok := value.(float64); ok {
				split[key] = pct
			}
		}
		return split
	}
	return nil
}

// catalogShare sums the catalog daily shares of one platform's types.
func catalogShare(platform string) float64 {
	var share float64
	for _, other := range campaignCatalog {
		if other.Platform == platform {
			share += other.ShareOfDaily
		}
	}
	return share
}

func (p *Processor) checkEmergencyStop(ctx context.Context) error {
	governance, err := p.store.GetGovernanceState(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read governance state: %w", err)
	}
	if governance.EmergencyStop.Active {
		return ErrEmergencyStopActive
	}
	return nil
}

func (p *Processor) audit(ctx context.Context, id uuid.UUID, action string, auditContext map[string]any) {
	if err := p.store.AppendCampaignAudit(ctx, id, action, auditContext); err != nil {
		p.logger.Error(ctx, "failed to append campaign audit", err)
	}
}

func refsFor(platform string, creds map[string]string) map[string]string {
	refs := make(map[string]string)
	for _, key := range publicRefs[platform] {
		if value := creds[key]; value != "" {
			refs[key] = value
		}
	}
	return refs
}
