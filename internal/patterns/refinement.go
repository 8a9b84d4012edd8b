package patterns

import (
	"context"
	"fmt"
	"strings"

	"github.com/lbliii/sunwell/internal/lens"
	"github.com/lbliii/sunwell/internal/memory"
	"github.com/lbliii/sunwell/internal/model"
)

const patternIterativeRefinement = "iterative_refinement"

// defaultMaxAttempts is the spec-default draft/critique/revise bound
// (spec §4.5 "bounded by max_attempts (default 3)").
const defaultMaxAttempts = 3

// passingValidatorScore is the score at or above which validators are
// considered passed and refinement stops early (spec §4.5).
const passingValidatorScore = 0.85

// IterativeRefinement implements draft → critique → revise, stopping
// early once validators pass (spec §4.5).
type IterativeRefinement struct {
	Completer   Completer
	Registry    ValidatorRegistry
	MaxAttempts int
}

// NewIterativeRefinement constructs an IterativeRefinement with the
// spec-default attempt bound.
func NewIterativeRefinement(completer Completer, registry ValidatorRegistry) *IterativeRefinement {
	return &IterativeRefinement{Completer: completer, Registry: registry, MaxAttempts: defaultMaxAttempts}
}

func (p *IterativeRefinement) Run(ctx context.Context, question string, l *lens.Lens, sim *memory.Simulacrum) (PatternResult, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var calls int
	draftPrompt := fmt.Sprintf("Question: %s\n\nProduce a first draft answer.", question)
	draft, err := p.Completer.Complete(ctx, model.CategoryCodeGen, draftPrompt)
	if err != nil {
		return PatternResult{}, fmt.Errorf("iterative_refinement: draft: %w", err)
	}
	calls++

	current := draft
	var confidence float64
	validatorRefs := append(append([]lens.ValidatorRef{}, l.DeterministicValidators...), l.HeuristicValidators...)
	names := validatorNames(validatorRefs)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		confidence, err = RunAll(ctx, p.Registry, names, current)
		if err != nil {
			return PatternResult{}, fmt.Errorf("iterative_refinement: validate: %w", err)
		}
		if confidence >= passingValidatorScore {
			break
		}
		if attempt == maxAttempts-1 {
			break
		}

		critiquePrompt := fmt.Sprintf(
			"Critique the following answer against these anti-patterns to avoid: %s\n\nAnswer:\n%s",
			strings.Join(l.AntiHeuristicsText(), "; "), current,
		)
		critique, err := p.Completer.Complete(ctx, model.CategoryCodeGen, critiquePrompt)
		if err != nil {
			return PatternResult{}, fmt.Errorf("iterative_refinement: critique: %w", err)
		}
		calls++

		revisePrompt := fmt.Sprintf("Answer:\n%s\n\nCritique:\n%s\n\nRevise the answer to address the critique.", current, critique)
		revised, err := p.Completer.Complete(ctx, model.CategoryCodeGen, revisePrompt)
		if err != nil {
			return PatternResult{}, fmt.Errorf("iterative_refinement: revise: %w", err)
		}
		calls++
		current = revised
	}

	return finalize(PatternResult{
		Answer:      current,
		Confidence:  confidence,
		PatternUsed: patternIterativeRefinement,
		Calls:       calls,
	}), nil
}
