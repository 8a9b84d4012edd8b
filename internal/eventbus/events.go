package eventbus

import "time"

// Kind is the closed taxonomy of event types the kernel emits (spec §4.1,
// §5). New kinds are added here, never invented ad hoc at call sites.
type Kind string

const (
	KindBacklogGoalAdded     Kind = "backlog_goal_added"
	KindBacklogGoalStarted   Kind = "backlog_goal_started"
	KindBacklogGoalCompleted Kind = "backlog_goal_completed"
	KindBacklogGoalFailed    Kind = "backlog_goal_failed"
	KindBacklogRefreshed     Kind = "backlog_refreshed"

	KindPlanStart  Kind = "plan_start"
	KindPlanWinner Kind = "plan_winner"

	KindTaskComplete Kind = "task_complete"
	KindTaskFailed   Kind = "task_failed"
	KindGateFail     Kind = "gate_fail"

	KindModelCallStarted   Kind = "model_call_started"
	KindModelCallCompleted Kind = "model_call_completed"
	KindModelCallFailed    Kind = "model_call_failed"

	KindMemoryHit Kind = "memory_hit"

	KindErrorOccurred Kind = "error.occurred"
)

// Event is the envelope published on the Bus. GoalID is empty for
// process-level events (e.g. backlog_refreshed). Payload holds the
// kind-specific fields described below.
type Event struct {
	Kind      Kind
	GoalID    string
	RunID     string
	Timestamp time.Time
	Payload   any
}

// BacklogGoalCompletedPayload is the payload for KindBacklogGoalCompleted.
// Partial reports the partial-success classification rule (spec §4.8):
// true when at least one artifact was produced but not every planned task
// succeeded.
type BacklogGoalCompletedPayload struct {
	Partial   bool
	Artifacts []string
}

// PlanWinnerPayload is the payload for KindPlanWinner.
type PlanWinnerPayload struct {
	TaskCount int
}

// TaskPayload is the payload for KindTaskComplete/KindTaskFailed.
type TaskPayload struct {
	TaskID string
	Error  string
}

// GateFailPayload is the payload for KindGateFail.
type GateFailPayload struct {
	TaskID    string
	Validator string
	Reason    string
}

// ModelCallPayload is the payload for the model_call_* events.
type ModelCallPayload struct {
	Provider   string
	Model      string
	TaskID     string
	DurationMs int64
	TokensUsed int
	Error      string
}

// MemoryHitPayload is the payload for KindMemoryHit.
type MemoryHitPayload struct {
	Partition string
	Query     string
	Score     float64
}

// ErrorPayload is the payload for KindErrorOccurred, mirroring the
// structured error schema (spec §6, §7) so subscribers never need to
// type-assert into sunerr.Error directly.
type ErrorPayload struct {
	ErrorID     string
	Code        int
	Category    string
	Message     string
	Recoverable bool
}
