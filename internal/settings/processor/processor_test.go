package processor

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/secrets"
	"marketing-server/internal/store"

	"github.com/google/uuid"
)

const testBoxKey = "5a0e853f9c1b2d4e6f8091a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6"

type fakeSettingsStore struct {
	sections   map[string]store.SettingsRecord
	history    map[string][]map[string]any
	audit      []store.SettingsAuditEntry
	governance store.GovernanceState
	hasGovern  bool
}

func newFakeSettingsStore() *fakeSettingsStore {
	return &fakeSettingsStore{
		sections: make(map[string]store.SettingsRecord),
		history:  make(map[string][]map[string]any),
	}
}

func (f *fakeSettingsStore) GetSettingsSection(_ context.Context, section string) (store.SettingsRecord, error) {
	record, ok := f.sections[section]
	if !ok {
		return store.SettingsRecord{}, store.ErrNotFound
	}
	return record, nil
}

func (f *fakeSettingsStore) ListSettingsSections(_ context.Context) ([]store.SettingsRecord, error) {
	out := make([]store.SettingsRecord, 0, len(f.sections))
	for _, record := range f.sections {
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeSettingsStore) SaveSettingsSection(_ context.Context, section string, data map[string]any, expectedRevision int) (store.SettingsRecord, error) {
	current, exists := f.sections[section]
	if exists {
		if current.Revision != expectedRevision {
			return store.SettingsRecord{}, store.ErrRevisionConflict
		}
		f.history[section] = append(f.history[section], current.Data)
	} else if expectedRevision != 0 {
		return store.SettingsRecord{}, store.ErrRevisionConflict
	}
	record := store.SettingsRecord{
		Section:   section,
		Data:      data,
		Revision:  expectedRevision + 1,
		UpdatedAt: time.Now(),
	}
	f.sections[section] = record
	return record, nil
}

func (f *fakeSettingsStore) RevertSettingsSection(_ context.Context, section string) (store.SettingsRecord, error) {
	versions := f.history[section]
	if len(versions) == 0 {
		return store.SettingsRecord{}, store.ErrNotFound
	}
	previous := versions[len(versions)-1]
	f.history[section] = versions[:len(versions)-1]
	record := f.sections[section]
	record.Data = previous
	record.Revision++
	f.sections[section] = record
	return record, nil
}

func (f *fakeSettingsStore) AppendSettingsAudit(_ context.Context, section, actorName, actorEmail string, changes []string) (store.SettingsAuditEntry, error) {
	entry := store.SettingsAuditEntry{
		Timestamp:  time.Now(),
		Section:    section,
		ActorName:  actorName,
		ActorEmail: actorEmail,
		Changes:    changes,
	}
	f.audit = append(f.audit, entry)
	return entry, nil
}

func (f *fakeSettingsStore) ListSettingsAudit(_ context.Context, limit int) ([]store.SettingsAuditEntry, error) {
	if limit > 0 && limit < len(f.audit) {
		return f.audit[len(f.audit)-limit:], nil
	}
	return f.audit, nil
}

func (f *fakeSettingsStore) GetGovernanceState(_ context.Context) (store.GovernanceState, error) {
	if !f.hasGovern {
		return store.GovernanceState{}, store.ErrNotFound
	}
	return f.governance, nil
}

func newTestProcessor(t *testing.T, st SettingsStore) *Processor {
	t.Helper()
	if _, err := hex.DecodeString(testBoxKey); err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	box, err := secrets.NewBox(testBoxKey)
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	return NewProcessor(st, box, observability.NewLogger())
}

func testActor() auth.Actor {
	return auth.Actor{ID: uuid.New(), Name: "Asha Rao", Email: "asha@example.com"}
}

func TestReadSectionReturnsDefaultsWhenUnsaved(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	view, err := p.ReadSection(context.Background(), SectionGoals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Revision != 0 {
		t.Errorf("expected revision 0, got %d", view.Revision)
	}
	if view.Data["primaryGoal"] != "lead_generation" {
		t.Errorf("expected default primaryGoal, got %v", view.Data["primaryGoal"])
	}
	if view.Data["autonomyMode"] != "review" {
		t.Errorf("expected default autonomyMode, got %v", view.Data["autonomyMode"])
	}
}

func TestReadSectionUnknownSection(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	if _, err := p.ReadSection(context.Background(), "nonsense"); err != ErrUnknownSection {
		t.Errorf("expected ErrUnknownSection, got %v", err)
	}
}

func TestSaveSectionMergesOverDefaults(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)

	result, err := p.SaveSection(context.Background(), SectionBusiness, map[string]any{
		"companyName":  "Surya Solar",
		"unknownField": "dropped",
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected save to succeed, messages: %v", result.Messages)
	}
	if result.View.Data["companyName"] != "Surya Solar" {
		t.Errorf("expected saved companyName, got %v", result.View.Data["companyName"])
	}
	if _, present := result.View.Data["unknownField"]; present {
		t.Error("unknown field should have been dropped")
	}
	if result.View.Data["tagline"] != "" {
		t.Errorf("expected default tagline, got %v", result.View.Data["tagline"])
	}
	if result.View.Revision != 1 {
		t.Errorf("expected revision 1, got %d", result.View.Revision)
	}
}

func TestSaveSectionRevisionConflict(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)
	ctx := context.Background()
	actor := testActor()

	if _, err := p.SaveSection(ctx, SectionGoals, map[string]any{"monthlyLeadTarget": 80}, 0, actor); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	_, err := p.SaveSection(ctx, SectionGoals, map[string]any{"monthlyLeadTarget": 90}, 0, actor)
	if err == nil || !strings.Contains(err.Error(), store.ErrRevisionConflict.Error()) {
		t.Fatalf("expected revision conflict, got %v", err)
	}
}

func TestSaveSectionRejectsOutOfRangeNumber(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	result, err := p.SaveSection(context.Background(), SectionGoals, map[string]any{
		"responseSLAMinutes": 0,
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected validation failure")
	}
	if len(result.Messages) == 0 {
		t.Fatal("expected a validation message")
	}
}

func TestSaveSectionRejectsUnknownEnumValue(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	result, err := p.SaveSection(context.Background(), SectionGoals, map[string]any{
		"autonomyMode": "yolo",
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected validation failure for enum value")
	}
}

func TestSaveBudgetSplitSumWarnsButSaves(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)

	result, err := p.SaveSection(context.Background(), SectionBudget, map[string]any{
		"platformSplit": map[string]any{"meta": 50, "google": 30},
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("split sum should warn, not fail: %v", result.Messages)
	}
	if len(result.Messages) != 1 || !strings.Contains(result.Messages[0], "100%") {
		t.Errorf("expected a split-sum warning, got %v", result.Messages)
	}
	if _, stored := fake.sections[SectionBudget]; !stored {
		t.Error("expected the section to be persisted despite the warning")
	}
}

func TestSaveBudgetSplitOutOfRangeFails(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	result, err := p.SaveSection(context.Background(), SectionBudget, map[string]any{
		"platformSplit": map[string]any{"meta": 140},
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected out-of-range split to fail")
	}
}

func TestSaveBudgetBlockedByGovernanceLock(t *testing.T) {
	fake := newFakeSettingsStore()
	fake.hasGovern = true
	fake.governance = store.GovernanceState{
		BudgetLock: store.BudgetLock{Enabled: true, Cap: 50000},
	}
	p := newTestProcessor(t, fake)

	result, err := p.SaveSection(context.Background(), SectionBudget, map[string]any{
		"monthlyCap": 90000,
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected budget lock to block the save")
	}
	if len(result.Messages) == 0 || !strings.Contains(result.Messages[0], "budget lock") {
		t.Errorf("expected a budget lock message, got %v", result.Messages)
	}
	if _, stored := fake.sections[SectionBudget]; stored {
		t.Error("blocked save must not persist")
	}
}

func TestSaveBudgetUnderGovernanceLockSucceeds(t *testing.T) {
	fake := newFakeSettingsStore()
	fake.hasGovern = true
	fake.governance = store.GovernanceState{
		BudgetLock: store.BudgetLock{Enabled: true, Cap: 50000},
	}
	p := newTestProcessor(t, fake)

	result, err := p.SaveSection(context.Background(), SectionBudget, map[string]any{
		"monthlyCap": 45000,
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected save under lock cap to succeed: %v", result.Messages)
	}
}

func TestSecretFieldMaskedOnReadAndPlaceholderKeepsStored(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)
	ctx := context.Background()
	actor := testActor()

	first, err := p.SaveSection(ctx, SectionIntegrations, map[string]any{
		"crmAPIKey": "sk-live-abc123",
	}, 0, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.View.Data["crmAPIKey"] != secrets.Placeholder {
		t.Errorf("expected masked secret, got %v", first.View.Data["crmAPIKey"])
	}
	sealedBefore, _ := fake.sections[SectionIntegrations].Data["crmAPIKey"].(string)
	if sealedBefore == "" || sealedBefore == "sk-live-abc123" {
		t.Fatal("secret must be sealed at rest")
	}

	// Saving the placeholder back must keep the stored ciphertext.
	second, err := p.SaveSection(ctx, SectionIntegrations, map[string]any{
		"crmAPIKey":       secrets.Placeholder,
		"autoSyncEnabled": true,
	}, 1, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.OK {
		t.Fatalf("expected save to succeed: %v", second.Messages)
	}
	sealedAfter, _ := fake.sections[SectionIntegrations].Data["crmAPIKey"].(string)
	if sealedAfter != sealedBefore {
		t.Error("placeholder save must not overwrite the stored secret")
	}

	revealed, err := p.RevealSecret(ctx, SectionIntegrations, "crmAPIKey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revealed != "sk-live-abc123" {
		t.Errorf("expected original secret back, got %q", revealed)
	}
}

func TestSecretFieldClearedByEmptyString(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)
	ctx := context.Background()
	actor := testActor()

	if _, err := p.SaveSection(ctx, SectionIntegrations, map[string]any{"crmAPIKey": "secret"}, 0, actor); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}
	result, err := p.SaveSection(ctx, SectionIntegrations, map[string]any{"crmAPIKey": ""}, 1, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.View.Data["crmAPIKey"] != "" {
		t.Errorf("expected cleared secret, got %v", result.View.Data["crmAPIKey"])
	}
}

func TestScheduleListParsesTextLines(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	result, err := p.SaveSection(context.Background(), SectionBusiness, map[string]any{
		"workingHours": "Mon-Fri 09:00-18:00\nSat 10:00-14:00",
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected save to succeed: %v", result.Messages)
	}
	entries, ok := result.View.Data["workingHours"].([]map[string]string)
	if !ok || len(entries) != 2 {
		t.Fatalf("expected 2 schedule entries, got %v", result.View.Data["workingHours"])
	}
	if entries[0]["days"] != "Mon-Fri" || entries[0]["start"] != "09:00" || entries[0]["end"] != "18:00" {
		t.Errorf("unexpected first entry: %v", entries[0])
	}
}

func TestScheduleListRejectsMalformedLine(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	result, err := p.SaveSection(context.Background(), SectionBusiness, map[string]any{
		"workingHours": "whenever we feel like it",
	}, 0, testActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK {
		t.Fatal("expected malformed schedule to fail validation")
	}
}

func TestTestSectionDoesNotPersist(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)

	result, err := p.TestSection(context.Background(), SectionGoals, map[string]any{
		"monthlyLeadTarget": 120,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected validation to pass: %v", result.Messages)
	}
	if len(fake.sections) != 0 {
		t.Error("test must not write any section")
	}
}

func TestRevertSectionRestoresPreviousVersion(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)
	ctx := context.Background()
	actor := testActor()

	if _, err := p.SaveSection(ctx, SectionGoals, map[string]any{"monthlyLeadTarget": 60}, 0, actor); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if _, err := p.SaveSection(ctx, SectionGoals, map[string]any{"monthlyLeadTarget": 75}, 1, actor); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	view, err := p.RevertSection(ctx, SectionGoals, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Data["monthlyLeadTarget"] != float64(60) {
		t.Errorf("expected reverted value 60, got %v", view.Data["monthlyLeadTarget"])
	}
}

func TestRevertSectionWithoutHistory(t *testing.T) {
	p := newTestProcessor(t, newFakeSettingsStore())

	if _, err := p.RevertSection(context.Background(), SectionGoals, testActor()); err != ErrNothingToRevert {
		t.Errorf("expected ErrNothingToRevert, got %v", err)
	}
}

func TestSaveAppendsAuditWithChangedFields(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)
	actor := testActor()

	if _, err := p.SaveSection(context.Background(), SectionBusiness, map[string]any{
		"companyName": "Surya Solar",
		"phone":       "+91 98765 43210",
	}, 0, actor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.audit) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(fake.audit))
	}
	entry := fake.audit[0]
	if entry.Section != SectionBusiness || entry.ActorEmail != actor.Email {
		t.Errorf("unexpected audit entry: %+v", entry)
	}
	if len(entry.Changes) != 2 {
		t.Errorf("expected 2 changed fields, got %v", entry.Changes)
	}
}

func TestNoAuditWhenNothingChanged(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)
	ctx := context.Background()
	actor := testActor()

	if _, err := p.SaveSection(ctx, SectionAudience, map[string]any{"languages": []any{"en", "hi"}}, 0, actor); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}
	auditCount := len(fake.audit)

	if _, err := p.SaveSection(ctx, SectionAudience, map[string]any{"languages": []any{"en", "hi"}}, 1, actor); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.audit) != auditCount {
		t.Error("unchanged save must not append audit")
	}
}

func TestEngageKillSwitch(t *testing.T) {
	fake := newFakeSettingsStore()
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	if err := p.EngageKillSwitch(ctx, testActor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view, err := p.ReadSection(ctx, SectionGoals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Data["killSwitchEngaged"] != true {
		t.Error("expected kill switch flag to be set")
	}
}
