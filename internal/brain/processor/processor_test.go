package processor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"

	"github.com/google/uuid"
)

type fakeBrainStore struct {
	runs       map[int]store.BrainRun
	nextID     int
	governance store.GovernanceState
	hasGovern  bool
}

func newFakeBrainStore() *fakeBrainStore {
	return &fakeBrainStore{runs: make(map[int]store.BrainRun)}
}

func (f *fakeBrainStore) CreateBrainRun(_ context.Context, status string, inputs store.RunInputs, plan store.RunPlan, responseText string) (store.BrainRun, error) {
	f.nextID++
	run := store.BrainRun{
		ID:           f.nextID,
		CreatedAt:    time.Now(),
		Status:       status,
		Inputs:       inputs,
		Plan:         plan,
		ResponseText: responseText,
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeBrainStore) GetBrainRun(_ context.Context, id int) (store.BrainRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return store.BrainRun{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeBrainStore) ListBrainRuns(_ context.Context) ([]store.BrainRun, error) {
	out := make([]store.BrainRun, 0, len(f.runs))
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out, nil
}

func (f *fakeBrainStore) UpdateBrainRunStatus(_ context.Context, id int, status string) (store.BrainRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return store.BrainRun{}, store.ErrNotFound
	}
	run.Status = status
	f.runs[id] = run
	return run, nil
}

func (f *fakeBrainStore) GetGovernanceState(_ context.Context) (store.GovernanceState, error) {
	if !f.hasGovern {
		return store.GovernanceState{}, store.ErrNotFound
	}
	return f.governance, nil
}

type stubGenerator struct {
	response string
	err      error
	prompts  []string
}

func (s *stubGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.response, s.err
}

type stubLauncher struct {
	campaigns []store.Campaign
	err       error
	calls     int
}

func (s *stubLauncher) LaunchFromRun(_ context.Context, _ store.BrainRun, _ auth.Actor) ([]store.Campaign, error) {
	s.calls++
	return s.campaigns, s.err
}

const planJSON = `Here is your plan:
{
  "channelPlan": {"meta": "Lead forms for residential rooftops"},
  "audiencePlan": {"segments": ["homeowners 30-55"]},
  "creativePlan": {"themes": ["bill savings"]},
  "landingPlan": {"approach": "single page with subsidy calculator"},
  "budgetAllocation": {"meta": 1200, "google": 800},
  "kpiTargets": {"leads": 40, "cpl": 450},
  "optimisationLoop": ["review CPL every 48h"]
}`

func validBrief(mode string) store.RunInputs {
	return store.RunInputs{
		Goals:         []string{"lead_generation"},
		Regions:       []string{"Pune", "Nashik"},
		Languages:     []string{"en", "mr"},
		DailyBudget:   2000,
		MonthlyBudget: 60000,
		AutonomyMode:  mode,
	}
}

func brainActor() auth.Actor {
	return auth.Actor{ID: uuid.New(), Name: "Asha Rao", Email: "asha@example.com"}
}

func newBrainProcessor(st BrainStore, gen Generator, launcher Launcher) *Processor {
	return NewProcessor(st, gen, launcher, observability.NewLogger())
}

func TestGenerateParsesStructuredPlan(t *testing.T) {
	fake := newFakeBrainStore()
	p := newBrainProcessor(fake, &stubGenerator{response: planJSON}, &stubLauncher{})

	result, err := p.Generate(context.Background(), validBrief("draft"), brainActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run := result.Run
	if run.Status != store.RunStatusDraft {
		t.Errorf("draft mode must park the run, got %s", run.Status)
	}
	if run.Plan.BudgetAllocation["meta"] != 1200 {
		t.Errorf("expected parsed budget allocation, got %v", run.Plan.BudgetAllocation)
	}
	if len(run.Plan.OptimisationLoop) != 1 {
		t.Errorf("expected parsed optimisation loop, got %v", run.Plan.OptimisationLoop)
	}
	if run.ResponseText != planJSON {
		t.Error("raw response text must be kept on the run")
	}
}

func TestGenerateUnparseableResponseKeepsRawText(t *testing.T) {
	fake := newFakeBrainStore()
	p := newBrainProcessor(fake, &stubGenerator{response: "I had some thoughts about solar."}, &stubLauncher{})

	result, err := p.Generate(context.Background(), validBrief("draft"), brainActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.Plan.RawText == "" {
		t.Error("unparseable response must survive as raw text")
	}
	if result.Run.Plan.ChannelPlan != nil {
		t.Error("unparseable response must not fabricate a structured plan")
	}
}

func TestGeneratePromptCarriesBrief(t *testing.T) {
	gen := &stubGenerator{response: planJSON}
	p := newBrainProcessor(newFakeBrainStore(), gen, &stubLauncher{})

	if _, err := p.Generate(context.Background(), validBrief("draft"), brainActor()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gen.prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(gen.prompts))
	}
	prompt := gen.prompts[0]
	for _, want := range []string{"Pune", "lead_generation", "2000", "60000"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
}

func TestGenerateReviewModeQueuesPending(t *testing.T) {
	launcher := &stubLauncher{}
	p := newBrainProcessor(newFakeBrainStore(), &stubGenerator{response: planJSON}, launcher)

	result, err := p.Generate(context.Background(), validBrief("review"), brainActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.Status != store.RunStatusPending {
		t.Errorf("review mode must queue for approval, got %s", result.Run.Status)
	}
	if launcher.calls != 0 {
		t.Error("review mode must not launch")
	}
}

func TestGenerateAutoModeLaunchesImmediately(t *testing.T) {
	launcher := &stubLauncher{campaigns: []store.Campaign{{Type: "lead_gen_search"}}}
	p := newBrainProcessor(newFakeBrainStore(), &stubGenerator{response: planJSON}, launcher)

	result, err := p.Generate(context.Background(), validBrief("auto"), brainActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.Status != store.RunStatusLive {
		t.Errorf("auto mode must go live, got %s", result.Run.Status)
	}
	if launcher.calls != 1 {
		t.Errorf("expected one launch, got %d", launcher.calls)
	}
	if len(result.Launched) != 1 {
		t.Errorf("expected launched campaigns in the result, got %d", len(result.Launched))
	}
}

func TestGenerateAutoModeSurfacesLaunchFailure(t *testing.T) {
	launcher := &stubLauncher{err: errors.New("meta not connected")}
	p := newBrainProcessor(newFakeBrainStore(), &stubGenerator{response: planJSON}, launcher)

	result, err := p.Generate(context.Background(), validBrief("auto"), brainActor())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.Status != store.RunStatusLive {
		t.Errorf("run stays live even when launch fails, got %s", result.Run.Status)
	}
	if result.LaunchErr == "" {
		t.Error("launch failure must be surfaced")
	}
}

func TestGenerateRejectsInvalidBrief(t *testing.T) {
	p := newBrainProcessor(newFakeBrainStore(), &stubGenerator{response: planJSON}, &stubLauncher{})

	brief := validBrief("review")
	brief.Goals = nil
	brief.DailyBudget = 0
	if _, err := p.Generate(context.Background(), brief, brainActor()); !errors.Is(err, ErrInvalidBrief) {
		t.Fatalf("expected ErrInvalidBrief, got %v", err)
	}
}

func TestGenerateRejectsEmptyRegions(t *testing.T) {
	fake := newFakeBrainStore()
	p := newBrainProcessor(fake, &stubGenerator{response: planJSON}, &stubLauncher{})

	brief := validBrief("draft")
	brief.Regions = nil
	if _, err := p.Generate(context.Background(), brief, brainActor()); !errors.Is(err, ErrInvalidBrief) {
		t.Fatalf("expected ErrInvalidBrief, got %v", err)
	}
	if len(fake.runs) != 0 {
		t.Errorf("rejected brief must not store a run, got %d", len(fake.runs))
	}
}

func TestGenerateRejectsMonthlyBelowDaily(t *testing.T) {
	p := newBrainProcessor(newFakeBrainStore(), &stubGenerator{response: planJSON}, &stubLauncher{})

	brief := validBrief("review")
	brief.MonthlyBudget = 500
	if _, err := p.Generate(context.Background(), brief, brainActor()); !errors.Is(err, ErrInvalidBrief) {
		t.Fatalf("expected ErrInvalidBrief, got %v", err)
	}
}

func TestGenerateBlockedByEmergencyStop(t *testing.T) {
	fake := newFakeBrainStore()
	fake.hasGovern = true
	fake.governance = store.GovernanceState{EmergencyStop: store.EmergencyStop{Active: true}}
	p := newBrainProcessor(fake, &stubGenerator{response: planJSON}, &stubLauncher{})

	if _, err := p.Generate(context.Background(), validBrief("review"), brainActor()); !errors.Is(err, ErrEmergencyStopActive) {
		t.Fatalf("expected ErrEmergencyStopActive, got %v", err)
	}
}

func TestGenerateModelFailure(t *testing.T) {
	fake := newFakeBrainStore()
	p := newBrainProcessor(fake, &stubGenerator{err: errors.New("quota exceeded")}, &stubLauncher{})

	if _, err := p.Generate(context.Background(), validBrief("review"), brainActor()); !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if len(fake.runs) != 1 {
		t.Fatalf("model failure must still keep the brief as a run, got %d runs", len(fake.runs))
	}
	kept := fake.runs[1]
	if kept.Status != store.RunStatusDraft {
		t.Errorf("failed run must park as draft, got %s", kept.Status)
	}
	if len(kept.Inputs.Goals) == 0 || len(kept.Inputs.Regions) == 0 {
		t.Error("failed run must keep the brief inputs")
	}
	if !strings.Contains(kept.ResponseText, "quota exceeded") {
		t.Errorf("failed run must record the failure, got %q", kept.ResponseText)
	}
}

func TestApproveLaunchesPendingRun(t *testing.T) {
	fake := newFakeBrainStore()
	launcher := &stubLauncher{}
	p := newBrainProcessor(fake, &stubGenerator{response: planJSON}, launcher)
	ctx := context.Background()
	actor := brainActor()

	seed, err := p.Generate(ctx, validBrief("review"), actor)
	if err != nil {
		t.Fatalf("seed generate failed: %v", err)
	}

	result, err := p.Approve(ctx, seed.Run.ID, actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Run.Status != store.RunStatusLive {
		t.Errorf("expected live run, got %s", result.Run.Status)
	}
	if launcher.calls != 1 {
		t.Errorf("expected one launch, got %d", launcher.calls)
	}
}

func TestApproveRejectsDraftRun(t *testing.T) {
	fake := newFakeBrainStore()
	p := newBrainProcessor(fake, &stubGenerator{response: planJSON}, &stubLauncher{})
	ctx := context.Background()
	actor := brainActor()

	seed, err := p.Generate(ctx, validBrief("draft"), actor)
	if err != nil {
		t.Fatalf("seed generate failed: %v", err)
	}
	if _, err := p.Approve(ctx, seed.Run.ID, actor); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRunLifecycleTransitions(t *testing.T) {
	fake := newFakeBrainStore()
	p := newBrainProcessor(fake, &stubGenerator{response: planJSON}, &stubLauncher{})
	ctx := context.Background()
	actor := brainActor()

	seed, err := p.Generate(ctx, validBrief("draft"), actor)
	if err != nil {
		t.Fatalf("seed generate failed: %v", err)
	}
	runID := seed.Run.ID

	run, err := p.Submit(ctx, runID)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if run.Status != store.RunStatusPending {
		t.Fatalf("expected pending, got %s", run.Status)
	}

	if _, err := p.Approve(ctx, runID, actor); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	run, err = p.Halt(ctx, runID)
	if err != nil {
		t.Fatalf("halt failed: %v", err)
	}
	if run.Status != store.RunStatusHalted {
		t.Fatalf("expected halted, got %s", run.Status)
	}

	run, err = p.Discard(ctx, runID)
	if err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if run.Status != store.RunStatusDraft {
		t.Fatalf("expected draft, got %s", run.Status)
	}

	// Halting a draft run is not a thing.
	if _, err := p.Halt(ctx, runID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDiscardPendingRun(t *testing.T) {
	fake := newFakeBrainStore()
	p := newBrainProcessor(fake, &stubGenerator{response: planJSON}, &stubLauncher{})
	ctx := context.Background()

	seed, err := p.Generate(ctx, validBrief("review"), brainActor())
	if err != nil {
		t.Fatalf("seed generate failed: %v", err)
	}
	run, err := p.Discard(ctx, seed.Run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != store.RunStatusDraft {
		t.Errorf("expected draft, got %s", run.Status)
	}
}

func TestGetUnknownRun(t *testing.T) {
	p := newBrainProcessor(newFakeBrainStore(), &stubGenerator{}, &stubLauncher{})

	if _, err := p.Get(context.Background(), 42); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
