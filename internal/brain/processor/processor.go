package processor

import (
	"context"
	"errors"
	"fmt"

	"marketing-server/internal/auth"
	"marketing-server/internal/observability"
	"marketing-server/internal/store"
)

var (
	ErrRunNotFound         = errors.New("run not found")
	ErrInvalidBrief        = errors.New("invalid brief")
	ErrInvalidTransition   = errors.New("invalid run status transition")
	ErrEmergencyStopActive = errors.New("emergency stop is active")
	ErrGenerationFailed    = errors.New("plan generation failed")
)

// Legal run transitions. Draft runs re-enter the pipeline through a new
// generate, not a transition.
var allowedTransitions = map[string][]string{
	store.RunStatusDraft:   {store.RunStatusPending},
	store.RunStatusPending: {store.RunStatusLive, store.RunStatusDraft},
	store.RunStatusLive:    {store.RunStatusHalted},
	store.RunStatusHalted:  {store.RunStatusDraft},
}

// BrainStore is the persistence surface the planner needs.
type BrainStore interface {
	CreateBrainRun(ctx context.Context, status string, inputs store.RunInputs, plan store.RunPlan, responseText string) (store.BrainRun, error)
	GetBrainRun(ctx context.Context, id int) (store.BrainRun, error)
	ListBrainRuns(ctx context.Context) ([]store.BrainRun, error)
	UpdateBrainRunStatus(ctx context.Context, id int, status string) (store.BrainRun, error)
	GetGovernanceState(ctx context.Context) (store.GovernanceState, error)
}

// Generator produces the plan text for a prompt.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Launcher turns an approved run's plan into live campaigns.
type Launcher interface {
	LaunchFromRun(ctx context.Context, run store.BrainRun, actor auth.Actor) ([]store.Campaign, error)
}

type Processor struct {
	store     BrainStore
	generator Generator
	launcher  Launcher
	logger    *observability.Logger
}

func NewProcessor(st BrainStore, generator Generator, launcher Launcher, logger *observability.Logger) *Processor {
	return &Processor{store: st, generator: generator, launcher: launcher, logger: logger}
}

// GenerateResult carries the new run plus what happened to it on the way
// out of generation (auto mode can take it straight to live).
type GenerateResult struct {
	Run       store.BrainRun   `json:"run"`
	Launched  []store.Campaign `json:"launched,omitempty"`
	LaunchErr string           `json:"launchError,omitempty"`
}

// Generate validates a brief, asks the model for a plan and records the
// run. Autonomy mode decides how far the run travels: draft parks it,
// review queues it for approval, auto launches immediately.
func (p *Processor) Generate(ctx context.Context, inputs store.RunInputs, actor auth.Actor) (GenerateResult, error) {
	if err := p.checkEmergencyStop(ctx); err != nil {
		return GenerateResult{}, err
	}
	if err := validateBrief(inputs); err != nil {
		return GenerateResult{}, err
	}

	responseText, err := p.generator.GenerateText(ctx, buildPrompt(inputs))
	if err != nil {
		p.logger.Error(ctx, "plan generation failed", err)
		// Keep the brief as a draft run so the admin can regenerate
		// later instead of retyping it.
		if _, saveErr := p.store.CreateBrainRun(ctx, store.RunStatusDraft, inputs, store.RunPlan{}, "generation failed: "+err.Error()); saveErr != nil {
			p.logger.Error(ctx, "failed to record failed run", saveErr)
		}
		return GenerateResult{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	plan := parsePlan(responseText)

	status := store.RunStatusDraft
	if inputs.AutonomyMode == "review" || inputs.AutonomyMode == "auto" {
		status = store.RunStatusPending
	}
	run, err := p.store.CreateBrainRun(ctx, status, inputs, plan, responseText)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("create run: %w", err)
	}
	ctx = observability.WithFields(ctx, observability.Field{Key: "run_id", Value: run.ID})
	p.logger.Info(ctx, "brain run created")

	if inputs.AutonomyMode != "auto" {
		return GenerateResult{Run: run}, nil
	}

	// Full autonomy: approve and launch without waiting for a human.
	approved, launched, launchErr := p.approve(ctx, run, actor)
	result := GenerateResult{Run: approved, Launched: launched}
	if launchErr != nil {
		result.LaunchErr = launchErr.Error()
	}
	return result, nil
}

// Approve moves a pending run live and launches its campaigns.
func (p *Processor) Approve(ctx context.Context, runID int, actor auth.Actor) (GenerateResult, error) {
	if err := p.checkEmergencyStop(ctx); err != nil {
		return GenerateResult{}, err
	}
	run, err := p.getRun(ctx, runID)
	if err != nil {
		return GenerateResult{}, err
	}
	if err := checkTransition(run.Status, store.RunStatusLive); err != nil {
		return GenerateResult{}, err
	}
	approved, launched, launchErr := p.approve(ctx, run, actor)
	result := GenerateResult{Run: approved, Launched: launched}
	if launchErr != nil {
		result.LaunchErr = launchErr.Error()
	}
	return result, nil
}

// Halt takes a live run out of rotation. Its campaigns are paused by
// the caller through the campaigns module.
func (p *Processor) Halt(ctx context.Context, runID int) (store.BrainRun, error) {
	return p.transition(ctx, runID, store.RunStatusHalted)
}

// Discard sends a pending or halted run back to draft.
func (p *Processor) Discard(ctx context.Context, runID int) (store.BrainRun, error) {
	return p.transition(ctx, runID, store.RunStatusDraft)
}

// Submit queues a draft run for approval.
func (p *Processor) Submit(ctx context.Context, runID int) (store.BrainRun, error) {
	return p.transition(ctx, runID, store.RunStatusPending)
}

func (p *Processor) Get(ctx context.Context, runID int) (store.BrainRun, error) {
	return p.getRun(ctx, runID)
}

func (p *Processor) List(ctx context.Context) ([]store.BrainRun, error) {
	runs, err := p.store.ListBrainRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// approve flips the run live and launches. A launch failure does not
// roll the run back; the failure is surfaced and recorded against the
// campaigns that could not start.
func (p *Processor) approve(ctx context.Context, run store.BrainRun, actor auth.Actor) (store.BrainRun, []store.Campaign, error) {
	live, err := p.store.UpdateBrainRunStatus(ctx, run.ID, store.RunStatusLive)
	if err != nil {
		return run, nil, fmt.Errorf("update run status: %w", err)
	}
	launched, launchErr := p.launcher.LaunchFromRun(ctx, live, actor)
	if launchErr != nil {
		p.logger.Error(ctx, "campaign launch from run failed", launchErr)
	}
	return live, launched, launchErr
}

func (p *Processor) transition(ctx context.Context, runID int, target string) (store.BrainRun, error) {
	run, err := p.getRun(ctx, runID)
	if err != nil {
		return store.BrainRun{}, err
	}
	if err := checkTransition(run.Status, target); err != nil {
		return store.BrainRun{}, err
	}
	updated, err := p.store.UpdateBrainRunStatus(ctx, runID, target)
	if err != nil {
		return store.BrainRun{}, fmt.Errorf("update run status: %w", err)
	}
	return updated, nil
}

func (p *Processor) getRun(ctx context.Context, runID int) (store.BrainRun, error) {
	run, err := p.store.GetBrainRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return store.BrainRun{}, ErrRunNotFound
	}
	if err != nil {
		return store.BrainRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
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

func checkTransition(from, to string) error {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

func validateBrief(inputs store.RunInputs) error {
	var problems []string
	if len(inputs.Goals) == 0 {
		problems = append(problems, "at least one goal is required")
	}
	if len(inputs.Regions) == 0 {
		problems = append(problems, "at least one region is required")
	}
	if inputs.DailyBudget <= 0 {
		problems = append(problems, "daily budget must be above zero")
	}
	if inputs.MonthlyBudget > 0 && inputs.MonthlyBudget < inputs.DailyBudget {
		problems = append(problems, "monthly budget cannot be below the daily budget")
	}
	switch inputs.AutonomyMode {
	case "draft", "review", "auto":
	default:
		problems = append(problems, "autonomy mode must be draft, review or auto")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidBrief, problems)
	}
	return nil
}
