// Package execution implements ExecutionManager, the single entry point
// that owns a goal's lifecycle: claim → plan → execute → validate →
// complete/fail, emitting a structured event stream throughout (spec
// §4.8).
package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lbliii/sunwell/internal/backlog"
	"github.com/lbliii/sunwell/internal/eventbus"
	"github.com/lbliii/sunwell/internal/goal"
	"github.com/lbliii/sunwell/internal/lens"
	"github.com/lbliii/sunwell/internal/memory"
	"github.com/lbliii/sunwell/internal/patterns"
	"github.com/lbliii/sunwell/internal/planner"
)

// defaultRetryLimit bounds the resonance loop (spec §4.8 step 6 "bounded
// by retry_limit").
const defaultRetryLimit = 2

// defaultParallelismCap bounds how many tasks within one wave run
// concurrently (spec §5 "bounded by a configurable parallelism cap").
const defaultParallelismCap = 4

// PatternSelector assigns a Compound Pattern to an artifact (spec §4.8
// step 6 "run its assigned Compound Pattern").
type PatternSelector func(artifact *goal.Artifact) patterns.Pattern

// Result is the outcome ExecutionManager.RunGoal returns to its caller
// (spec §4.8).
type Result struct {
	Success    bool
	Error      string
	GoalResult goal.GoalResult
}

// Manager wires Backlog, Memory, Planner, Compound Patterns, and the
// EventBus into the single run_goal contract (spec §4.8).
type Manager struct {
	Backlog *backlog.Backlog
	Memory  *memory.Simulacrum
	Planner *planner.Planner
	Lens    *lens.Lens
	Bus     eventbus.Bus
	Select  PatternSelector

	RetryLimit     int
	ParallelismCap int
}

// New constructs a Manager with spec defaults for RetryLimit and
// ParallelismCap.
func New(bl *backlog.Backlog, sim *memory.Simulacrum, pl *planner.Planner, l *lens.Lens, bus eventbus.Bus, selector PatternSelector) *Manager {
	return &Manager{
		Backlog:        bl,
		Memory:         sim,
		Planner:        pl,
		Lens:           l,
		Bus:            bus,
		Select:         selector,
		RetryLimit:     defaultRetryLimit,
		ParallelismCap: defaultParallelismCap,
	}
}

// RunGoal implements the ordered eight-step lifecycle from spec §4.8.
// runID correlates every event this call emits to a single run, distinct
// from goalID, which stays a stable hash so two runs of the same
// description share a goal.
func (m *Manager) RunGoal(ctx context.Context, g *goal.Goal, goalID string) (*Result, error) {
	runID := uuid.NewString()

	// step 1: _ensure_goal
	if goalID == "" {
		goalID = goal.ID(g.Description)
	}
	g.ID = goalID
	if err := m.Backlog.AddGoal(g); err != nil {
		return nil, fmt.Errorf("execution: ensure goal: %w", err)
	}
	m.emit(ctx, runID, eventbus.KindBacklogGoalAdded, goalID, nil)

	// step 2: claim
	claimed, err := m.Backlog.ClaimGoal(goalID, nil)
	if err != nil {
		return nil, fmt.Errorf("execution: claim: %w", err)
	}
	if !claimed {
		return &Result{Success: false, Error: "already being executed"}, nil
	}
	m.emit(ctx, runID, eventbus.KindBacklogGoalStarted, goalID, nil)

	// step 8: finally, always unclaim
	defer func() { _ = m.Backlog.UnclaimGoal(goalID) }()

	start := time.Now()

	// step 3: build_context
	existingGoals := m.Backlog.GetPendingGoals()
	completedArtifacts := m.Backlog.GetCompletedArtifacts()
	ctxView, err := m.Memory.BuildContext(ctx, g, existingGoals, completedArtifacts, "")
	if err != nil {
		return nil, fmt.Errorf("execution: build_context: %w", err)
	}

	// step 4: plan
	m.emit(ctx, runID, eventbus.KindPlanStart, goalID, nil)
	plan, err := m.Planner.Plan(ctx, g, ctxView, m.Lens)
	if err != nil {
		result := goal.GoalResult{Success: false, FailureReason: err.Error(), DurationSeconds: time.Since(start).Seconds()}
		return m.fail(ctx, runID, goalID, result)
	}

	if plan.ReusedGoal != nil {
		artifacts := []string{"reused:" + plan.ReusedGoal.ID}
		m.emit(ctx, runID, eventbus.KindPlanWinner, goalID, eventbus.PlanWinnerPayload{TaskCount: 0})
		result := goal.GoalResult{
			Success:          true,
			Summary:          "reused existing goal " + plan.ReusedGoal.ID,
			ArtifactsCreated: artifacts,
			DurationSeconds:  time.Since(start).Seconds(),
		}
		return m.complete(ctx, runID, goalID, result)
	}

	m.emit(ctx, runID, eventbus.KindPlanWinner, goalID, eventbus.PlanWinnerPayload{TaskCount: len(plan.Artifacts)})

	// step 5 & 6: execute waves, running each task's pattern then validators
	var created, failed, filesChanged []string
	for _, wave := range planner.ExecutionWaves(plan.Artifacts) {
		waveCreated, waveFailed := m.runWave(ctx, runID, wave)
		created = append(created, waveCreated...)
		failed = append(failed, waveFailed...)
	}
	sort.Strings(created)
	sort.Strings(failed)

	// step 7: classify outcome
	result := goal.GoalResult{
		Success:          goal.ComputeSuccess(created, failed),
		ArtifactsCreated: created,
		ArtifactsFailed:  failed,
		FilesChanged:     filesChanged,
		DurationSeconds:  time.Since(start).Seconds(),
	}
	if len(created) > 0 {
		return m.complete(ctx, runID, goalID, result)
	}
	result.FailureReason = "no artifacts created"
	return m.fail(ctx, runID, goalID, result)
}

func (m *Manager) runWave(ctx context.Context, runID string, wave []*goal.Artifact) (created, failed []string) {
	retryLimit := m.RetryLimit
	if retryLimit <= 0 {
		retryLimit = defaultRetryLimit
	}
	parallelism := m.ParallelismCap
	if parallelism <= 0 {
		parallelism = defaultParallelismCap
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, parallelism)

	for _, artifact := range wave {
		wg.Add(1)
		sem <- struct{}{}
		go func(a *goal.Artifact) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := m.runTaskWithResonance(ctx, runID, a, retryLimit)
			mu.Lock()
			if ok {
				created = append(created, a.ID)
			} else {
				failed = append(failed, a.ID)
			}
			mu.Unlock()
		}(artifact)
	}
	wg.Wait()
	return created, failed
}

// runTaskWithResonance runs artifact's assigned pattern, retrying with
// critic feedback injected as context when validators fail, bounded by
// retryLimit (spec §4.8 step 6 "resonance loop").
func (m *Manager) runTaskWithResonance(ctx context.Context, runID string, a *goal.Artifact, retryLimit int) bool {
	pattern := m.Select(a)
	if pattern == nil {
		m.emit(ctx, runID, eventbus.KindTaskFailed, "", eventbus.TaskPayload{TaskID: a.ID, Error: "no pattern assigned"})
		return false
	}

	question := a.Description
	for attempt := 0; attempt <= retryLimit; attempt++ {
		result, err := pattern.Run(ctx, question, m.Lens, m.Memory)
		if err != nil {
			m.emit(ctx, runID, eventbus.KindTaskFailed, "", eventbus.TaskPayload{TaskID: a.ID, Error: err.Error()})
			return false
		}
		if !result.Escalate {
			m.emit(ctx, runID, eventbus.KindTaskComplete, "", eventbus.TaskPayload{TaskID: a.ID})
			return true
		}
		m.emit(ctx, runID, eventbus.KindGateFail, "", eventbus.GateFailPayload{
			TaskID: a.ID, Validator: result.PatternUsed, Reason: "confidence below threshold",
		})
		question = fmt.Sprintf("%s\n\nPrevious attempt scored low confidence (%.2f); critic feedback: improve grounding and address weaknesses.", a.Description, result.Confidence)
	}
	m.emit(ctx, runID, eventbus.KindTaskFailed, "", eventbus.TaskPayload{TaskID: a.ID, Error: "exhausted retry_limit"})
	return false
}

func (m *Manager) complete(ctx context.Context, runID, goalID string, result goal.GoalResult) (*Result, error) {
	if err := m.Backlog.CompleteGoal(goalID, result); err != nil {
		return nil, fmt.Errorf("execution: complete_goal: %w", err)
	}
	m.emit(ctx, runID, eventbus.KindBacklogGoalCompleted, goalID, eventbus.BacklogGoalCompletedPayload{
		Partial:   goal.IsPartial(result.ArtifactsCreated, result.ArtifactsFailed),
		Artifacts: result.ArtifactsCreated,
	})
	return &Result{Success: true, GoalResult: result}, nil
}

func (m *Manager) fail(ctx context.Context, runID, goalID string, result goal.GoalResult) (*Result, error) {
	if err := m.Backlog.MarkFailed(goalID, result.FailureReason); err != nil {
		return nil, fmt.Errorf("execution: mark_failed: %w", err)
	}
	m.emit(ctx, runID, eventbus.KindBacklogGoalFailed, goalID, nil)
	return &Result{Success: false, Error: result.FailureReason, GoalResult: result}, nil
}

func (m *Manager) emit(ctx context.Context, runID string, kind eventbus.Kind, goalID string, payload any) {
	if m.Bus == nil {
		return
	}
	_ = m.Bus.Publish(ctx, eventbus.Event{Kind: kind, GoalID: goalID, RunID: runID, Timestamp: time.Now(), Payload: payload})
}
