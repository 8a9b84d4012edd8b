// Package patterns implements the compound reasoning strategies —
// GroundedDebate, IterativeRefinement, VotingEnsemble — that amplify
// small-model quality through structured multi-call flows parameterised by
// a domain Lens (spec §4.5).
package patterns

import (
	"context"

	"github.com/lbliii/sunwell/internal/lens"
	"github.com/lbliii/sunwell/internal/memory"
	"github.com/lbliii/sunwell/internal/model"
)

// Signal is the confidence-bucketed verdict a caller uses to decide how
// much scrutiny a result needs before it is trusted (spec §4.5).
type Signal int

const (
	SignalSafe Signal = iota
	SignalReview
	SignalUncertain
)

// SignalFor maps a confidence score onto its Signal bucket (spec §4.5:
// "confidence ≥ 0.85 → safe, 0.7 ≤ confidence < 0.85 → review, < 0.7 →
// uncertain").
func SignalFor(confidence float64) Signal {
	switch {
	case confidence >= 0.85:
		return SignalSafe
	case confidence >= 0.7:
		return SignalReview
	default:
		return SignalUncertain
	}
}

// PatternResult is the uniform output every compound pattern returns (spec
// §4.5).
type PatternResult struct {
	Answer      string
	Confidence  float64
	Escalate    bool
	PatternUsed string
	Calls       int
}

// finalize sets Escalate per spec §4.5 ("confidence < 0.7 → escalate=true,
// best-available answer still surfaced") and is called once by every
// pattern just before returning.
func finalize(result PatternResult) PatternResult {
	result.Escalate = result.Confidence < 0.7
	return result
}

// Pattern is the shared contract every compound reasoning strategy
// implements (spec §4.5).
type Pattern interface {
	Run(ctx context.Context, question string, l *lens.Lens, sim *memory.Simulacrum) (PatternResult, error)
}

// Completer is the narrow model capability patterns depend on: one-shot
// text completion against a chosen category, letting ExecutionManager wire
// in a model.Router without patterns knowing about provider selection.
type Completer interface {
	Complete(ctx context.Context, category model.TaskCategory, prompt string) (string, error)
}

// Validator scores a candidate answer in [0,1] (spec §4.5 heuristic and
// deterministic validators are both modeled this way — a deterministic
// validator simply returns 0 or 1).
type Validator interface {
	Validate(ctx context.Context, answer string) (float64, error)
}
