package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	settingsprocessor "marketing-server/internal/settings/processor"
	"marketing-server/internal/store"

	"github.com/google/uuid"
)

type fakeCampaignStore struct {
	campaigns  map[uuid.UUID]store.Campaign
	audit      map[uuid.UUID][]store.CampaignAuditEntry
	governance store.GovernanceState
	hasGovern  bool
}

func newFakeCampaignStore() *fakeCampaignStore {
	return &fakeCampaignStore{
		campaigns: make(map[uuid.UUID]store.Campaign),
		audit:     make(map[uuid.UUID][]store.CampaignAuditEntry),
	}
}

func (f *fakeCampaignStore) CreateCampaign(_ context.Context, campaign store.Campaign) (store.Campaign, error) {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	campaign.CreatedAt = time.Now()
	f.campaigns[campaign.ID] = campaign
	return campaign, nil
}

func (f *fakeCampaignStore) GetCampaign(_ context.Context, id uuid.UUID) (store.Campaign, error) {
	campaign, ok := f.campaigns[id]
	if !ok {
		return store.Campaign{}, store.ErrNotFound
	}
	campaign.AuditTrail = f.audit[id]
	return campaign, nil
}

func (f *fakeCampaignStore) ListCampaigns(_ context.Context) ([]store.Campaign, error) {
	out := make([]store.Campaign, 0, len(f.campaigns))
	for _, campaign := range f.campaigns {
		out = append(out, campaign)
	}
	return out, nil
}

func (f *fakeCampaignStore) ListCampaignsByStatus(_ context.Context, status string) ([]store.Campaign, error) {
	var out []store.Campaign
	for _, campaign := range f.campaigns {
		if campaign.Status == status {
			out = append(out, campaign)
		}
	}
	return out, nil
}

func (f *fakeCampaignStore) UpdateCampaignStatus(_ context.Context, id uuid.UUID, status string) (store.Campaign, error) {
	campaign, ok := f.campaigns[id]
	if !ok {
		return store.Campaign{}, store.ErrNotFound
	}
	campaign.Status = status
	f.campaigns[id] = campaign
	return campaign, nil
}

func (f *fakeCampaignStore) UpdateCampaignMetrics(_ context.Context, id uuid.UUID, metrics store.CampaignMetrics) (store.Campaign, error) {
	campaign, ok := f.campaigns[id]
	if !ok {
		return store.Campaign{}, store.ErrNotFound
	}
	campaign.Metrics = metrics
	f.campaigns[id] = campaign
	return campaign, nil
}

func (f *fakeCampaignStore) UpdateCampaignBudget(_ context.Context, id uuid.UUID, budget store.CampaignBudget) (store.Campaign, error) {
	campaign, ok := f.campaigns[id]
	if !ok {
		return store.Campaign{}, store.ErrNotFound
	}
	campaign.Budget = budget
	f.campaigns[id] = campaign
	return campaign, nil
}

func (f *fakeCampaignStore) AppendCampaignLeads(_ context.Context, id uuid.UUID, leads []map[string]any) (store.Campaign, error) {
	campaign, ok := f.campaigns[id]
	if !ok {
		return store.Campaign{}, store.ErrNotFound
	}
	campaign.Leads = append(campaign.Leads, leads...)
	f.campaigns[id] = campaign
	return campaign, nil
}

func (f *fakeCampaignStore) AppendCampaignAudit(_ context.Context, campaignID uuid.UUID, action string, auditContext map[string]any) error {
	f.audit[campaignID] = append(f.audit[campaignID], store.CampaignAuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Context:   auditContext,
	})
	return nil
}

func (f *fakeCampaignStore) GetGovernanceState(_ context.Context) (store.GovernanceState, error) {
	if !f.hasGovern {
		return store.GovernanceState{}, store.ErrNotFound
	}
	return f.governance, nil
}

type stubCredentials struct {
	connected map[string]map[string]string
}

func (s *stubCredentials) Credentials(_ context.Context, platform string) (map[string]string, error) {
	creds, ok := s.connected[platform]
	if !ok {
		return nil, errors.New("not connected")
	}
	return creds, nil
}

type stubCopyGenerator struct {
	response string
	err      error
	prompt   string
}

func (s *stubCopyGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.response, s.err
}

type stubSettings struct {
	business map[string]any
	budget   map[string]any
}

func (s *stubSettings) ReadSection(_ context.Context, section string) (settingsprocessor.SectionView, error) {
	switch {
	case section == "business" && s.business != nil:
		return settingsprocessor.SectionView{Section: section, Data: s.business}, nil
	case section == "budget" && s.budget != nil:
		return settingsprocessor.SectionView{Section: section, Data: s.budget}, nil
	}
	return settingsprocessor.SectionView{}, errors.New("not found")
}

func allConnected() *stubCredentials {
	return &stubCredentials{connected: map[string]map[string]string{
		"meta":      {"accessToken": "tok", "adAccountId": "act_1", "pageId": "p1"},
		"googleAds": {"developerToken": "dev", "customerId": "123-456-7890"},
		"whatsapp":  {"accountSid": "AC1", "authToken": "t", "whatsappNumber": "+911234567890"},
		"email":     {"apiKey": "re_1", "fromEmail": "hello@example.com"},
	}}
}

func leadGenRun() store.BrainRun {
	return store.BrainRun{
		ID:     1,
		Status: store.RunStatusLive,
		Inputs: store.RunInputs{
			Goals:         []string{"lead_generation"},
			Regions:       []string{"Pune"},
			DailyBudget:   2000,
			MonthlyBudget: 60000,
			AutonomyMode:  "review",
		},
		Plan: store.RunPlan{
			BudgetAllocation: map[string]float64{"meta": 1000, "google": 700, "whatsapp": 300},
		},
	}
}

func campaignActor() auth.Actor {
	return auth.Actor{ID: uuid.New(), Name: "Asha Rao", Email: "asha@example.com"}
}

func newCampaignProcessor(st CampaignStore, creds CredentialSource, gen CopyGenerator, settings SettingsReader) *Processor {
	return NewProcessor(st, creds, gen, settings, observability.NewLogger())
}

func TestLaunchFromRunCreatesFullFunnel(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "Great copy"}, &stubSettings{})

	launched, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(launched) != 4 {
		t.Fatalf("expected 4 campaigns for lead generation, got %d", len(launched))
	}
	types := make(map[string]bool)
	for _, campaign := range launched {
		types[campaign.Type] = true
		if campaign.Status != store.CampaignStatusLaunched {
			t.Errorf("campaign %s not launched: %s", campaign.Type, campaign.Status)
		}
		if campaign.RunID != 1 {
			t.Errorf("campaign %s missing run link", campaign.Type)
		}
	}
	for _, want := range []string{TypeLeadGenSearch, TypeLeadGenSocial, TypeRemarketing, TypeWhatsAppNurture} {
		if !types[want] {
			t.Errorf("missing campaign type %s", want)
		}
	}
}

func TestLaunchFromRunAllowsDuplicates(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})
	ctx := context.Background()
	actor := campaignActor()

	if _, err := p.LaunchFromRun(ctx, leadGenRun(), actor); err != nil {
		t.Fatalf("first launch failed: %v", err)
	}
	if _, err := p.LaunchFromRun(ctx, leadGenRun(), actor); err != nil {
		t.Fatalf("second launch failed: %v", err)
	}
	if len(fake.campaigns) != 8 {
		t.Errorf("expected 8 campaigns after double launch, got %d", len(fake.campaigns))
	}
}

func TestLaunchRecordsFailedCampaignWithAudit(t *testing.T) {
	fake := newFakeCampaignStore()
	creds := allConnected()
	delete(creds.connected, "whatsapp")
	p := newCampaignProcessor(fake, creds, &stubCopyGenerator{response: "copy"}, &stubSettings{})

	launched, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor())
	if err == nil {
		t.Fatal("expected a partial failure error")
	}
	if len(launched) != 3 {
		t.Fatalf("expected 3 launched campaigns, got %d", len(launched))
	}
	// The failed campaign is still recorded, paused, with the audit entry.
	var failed *store.Campaign
	for id := range fake.campaigns {
		campaign := fake.campaigns[id]
		if campaign.Type == TypeWhatsAppNurture {
			failed = &campaign
		}
	}
	if failed == nil {
		t.Fatal("failed campaign must still be recorded")
	}
	if failed.Status != store.CampaignStatusPaused {
		t.Errorf("failed campaign must be paused, got %s", failed.Status)
	}
	entries := fake.audit[failed.ID]
	if len(entries) != 1 || entries[0].Action != "auto_launch_failed" {
		t.Errorf("expected auto_launch_failed audit, got %v", entries)
	}
}

func TestLaunchFromRunAllPlatformsDown(t *testing.T) {
	p := newCampaignProcessor(newFakeCampaignStore(), &stubCredentials{connected: map[string]map[string]string{}}, &stubCopyGenerator{response: "copy"}, &stubSettings{})

	_, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor())
	if !errors.Is(err, ErrNothingLaunched) {
		t.Fatalf("expected ErrNothingLaunched, got %v", err)
	}
}

func TestLaunchBlockedByEmergencyStop(t *testing.T) {
	fake := newFakeCampaignStore()
	fake.hasGovern = true
	fake.governance = store.GovernanceState{EmergencyStop: store.EmergencyStop{Active: true}}
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})

	if _, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor()); !errors.Is(err, ErrEmergencyStopActive) {
		t.Fatalf("expected ErrEmergencyStopActive, got %v", err)
	}
}

func TestLaunchUsesExistingWebsiteWhenSet(t *testing.T) {
	fake := newFakeCampaignStore()
	settings := &stubSettings{business: map[string]any{
		"companyName": "Surya Solar",
		"website":     "https://suryasolar.example.com",
	}}
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, settings)

	launched, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, campaign := range launched {
		if campaign.Landing.Type != "existing" || campaign.Landing.URL != "https://suryasolar.example.com" {
			t.Errorf("expected existing landing, got %+v", campaign.Landing)
		}
	}
}

func TestLaunchGeneratesLandingCopyWhenNoWebsite(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "Generated headline and bullets"}, &stubSettings{business: map[string]any{"companyName": "Surya Solar"}})

	launched, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	campaign := launched[0]
	if campaign.Landing.Type != "auto" {
		t.Errorf("expected auto landing, got %s", campaign.Landing.Type)
	}
	if campaign.Canonical["landingCopy"] != "Generated headline and bullets" {
		t.Errorf("expected generated copy on canonical payload, got %v", campaign.Canonical["landingCopy"])
	}
}

func TestLaunchFallsBackToTemplateCopy(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{err: errors.New("model down")}, &stubSettings{business: map[string]any{"companyName": "Surya Solar"}})

	launched, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor())
	if err != nil {
		t.Fatalf("launch must survive a copy model outage: %v", err)
	}
	copyText, _ := launched[0].Canonical["landingCopy"].(string)
	if copyText == "" {
		t.Fatal("expected template copy")
	}
	if want := "Surya Solar"; !strings.Contains(copyText, want) {
		t.Errorf("template copy must mention %q", want)
	}
}

func TestBudgetUsesPlanAllocation(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})

	launched, err := p.LaunchFromRun(context.Background(), leadGenRun(), campaignActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, campaign := range launched {
		if campaign.Type == TypeLeadGenSearch {
			// google allocation is 700 and search is googleAds' only type.
			if campaign.Budget.Daily != 700 {
				t.Errorf("expected 700 daily from plan allocation, got %g", campaign.Budget.Daily)
			}
		}
		if campaign.Budget.Monthly <= 0 {
			t.Errorf("campaign %s has no monthly budget", campaign.Type)
		}
	}
}

func TestLaunchValidatesRequestedTypes(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})
	ctx := context.Background()

	if _, err := p.Launch(ctx, leadGenRun(), nil, LandingOptions{}, campaignActor()); !errors.Is(err, ErrNoCampaignTypes) {
		t.Fatalf("expected ErrNoCampaignTypes, got %v", err)
	}
	types := []string{TypeLeadGenSearch, "tiktok_spark"}
	if _, err := p.Launch(ctx, leadGenRun(), types, LandingOptions{}, campaignActor()); !errors.Is(err, ErrUnknownCampaignType) {
		t.Fatalf("expected ErrUnknownCampaignType, got %v", err)
	}
	if len(fake.campaigns) != 0 {
		t.Errorf("rejected launch must not store campaigns, got %d", len(fake.campaigns))
	}
}

func TestLaunchAutoLandingOverridesWebsite(t *testing.T) {
	fake := newFakeCampaignStore()
	gen := &stubCopyGenerator{response: "generated page copy"}
	settings := &stubSettings{business: map[string]any{
		"companyName": "Surya Solar",
		"website":     "https://suryasolar.example.com",
	}}
	p := newCampaignProcessor(fake, allConnected(), gen, settings)

	landing := LandingOptions{
		Mode:     LandingModeAuto,
		Headline: "Zero down payment solar",
		Offer:    "Free site survey",
		CTA:      "Book now",
	}
	launched, err := p.Launch(context.Background(), leadGenRun(), []string{TypeLeadGenSocial}, landing, campaignActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if launched[0].Landing.Type != LandingModeAuto {
		t.Errorf("auto mode must generate even with a website, got %s", launched[0].Landing.Type)
	}
	for _, want := range []string{"Zero down payment solar", "Free site survey", "Book now"} {
		if !strings.Contains(gen.prompt, want) {
			t.Errorf("landing prompt must carry %q", want)
		}
	}
}

func TestLaunchExistingLandingUsesSuppliedURL(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})

	landing := LandingOptions{Mode: LandingModeExisting, URL: "https://offers.example.com/solar"}
	launched, err := p.Launch(context.Background(), leadGenRun(), []string{TypeLeadGenSearch}, landing, campaignActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := launched[0].Landing
	if got.Type != LandingModeExisting || got.URL != "https://offers.example.com/solar" {
		t.Errorf("expected supplied existing page, got %+v", got)
	}
}

func TestBudgetUsesSettingsSplit(t *testing.T) {
	fake := newFakeCampaignStore()
	settings := &stubSettings{budget: map[string]any{
		"platformSplit": map[string]any{"google": float64(50)},
	}}
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, settings)

	run := leadGenRun()
	run.Plan.BudgetAllocation = nil
	launched, err := p.Launch(context.Background(), run, []string{TypeLeadGenSearch}, LandingOptions{}, campaignActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Search is googleAds' only type, so it takes the full 50% of 2000.
	if launched[0].Budget.Daily != 1000 {
		t.Errorf("expected 1000 daily from the settings split, got %g", launched[0].Budget.Daily)
	}
}

func TestPauseAndResume(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})
	ctx := context.Background()
	actor := campaignActor()

	launched, err := p.LaunchFromRun(ctx, leadGenRun(), actor)
	if err != nil {
		t.Fatalf("seed launch failed: %v", err)
	}
	id := launched[0].ID

	paused, err := p.Pause(ctx, id, "underperforming", actor)
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if paused.Status != store.CampaignStatusPaused {
		t.Errorf("expected paused, got %s", paused.Status)
	}
	// Pausing twice is rejected.
	if _, err := p.Pause(ctx, id, "", actor); !errors.Is(err, ErrInvalidStatusChange) {
		t.Fatalf("expected ErrInvalidStatusChange, got %v", err)
	}

	resumed, err := p.Resume(ctx, id, actor)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Status != store.CampaignStatusLaunched {
		t.Errorf("expected launched, got %s", resumed.Status)
	}
}

func TestPauseAllAuditsEachCampaign(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})
	ctx := context.Background()
	actor := campaignActor()

	if _, err := p.LaunchFromRun(ctx, leadGenRun(), actor); err != nil {
		t.Fatalf("seed launch failed: %v", err)
	}

	paused, err := p.PauseAll(ctx, "emergency stop", actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paused) != 4 {
		t.Fatalf("expected 4 paused campaigns, got %d", len(paused))
	}
	for _, campaign := range paused {
		entries := fake.audit[campaign.ID]
		var found bool
		for _, entry := range entries {
			if entry.Action == "paused" && entry.Context["reason"] == "emergency stop" {
				found = true
			}
		}
		if !found {
			t.Errorf("campaign %s missing pause audit entry", campaign.ID)
		}
	}
}

func TestIngestMetricsDerivesRates(t *testing.T) {
	fake := newFakeCampaignStore()
	p := newCampaignProcessor(fake, allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})
	ctx := context.Background()
	actor := campaignActor()

	launched, err := p.LaunchFromRun(ctx, leadGenRun(), actor)
	if err != nil {
		t.Fatalf("seed launch failed: %v", err)
	}
	id := launched[0].ID

	updated, err := p.IngestMetrics(ctx, id, MetricsUpdate{
		Impressions: 10000,
		Clicks:      250,
		Spend:       4500,
		Leads: []map[string]any{
			{"name": "Prakash", "phone": "+919812345678"},
			{"name": "Meera", "phone": "+919898765432"},
		},
	}, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Metrics.CTR != 2.5 {
		t.Errorf("expected CTR 2.5, got %g", updated.Metrics.CTR)
	}
	if updated.Metrics.Leads != 2 {
		t.Errorf("expected 2 leads, got %d", updated.Metrics.Leads)
	}
	if updated.Metrics.CPL != 2250 {
		t.Errorf("expected CPL 2250, got %g", updated.Metrics.CPL)
	}
	stored := fake.campaigns[id]
	if len(stored.Leads) != 2 {
		t.Errorf("expected 2 stored leads, got %d", len(stored.Leads))
	}
}

func TestIngestMetricsUnknownCampaign(t *testing.T) {
	p := newCampaignProcessor(newFakeCampaignStore(), allConnected(), &stubCopyGenerator{response: "copy"}, &stubSettings{})

	if _, err := p.IngestMetrics(context.Background(), uuid.New(), MetricsUpdate{}, campaignActor()); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}
