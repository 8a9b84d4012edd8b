package patterns

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lbliii/sunwell/internal/lens"
	"github.com/lbliii/sunwell/internal/memory"
	"github.com/lbliii/sunwell/internal/model"
)

const patternVotingEnsemble = "voting_ensemble"

// VotingEnsemble generates one candidate per persona in parallel, scores
// each with the Lens's validators, and returns the highest-scoring
// candidate, ties broken by persona priority (spec §4.5).
type VotingEnsemble struct {
	Completer Completer
	Registry  ValidatorRegistry
}

// NewVotingEnsemble constructs a VotingEnsemble.
func NewVotingEnsemble(completer Completer, registry ValidatorRegistry) *VotingEnsemble {
	return &VotingEnsemble{Completer: completer, Registry: registry}
}

type candidate struct {
	answer   string
	score    float64
	priority int
}

func (p *VotingEnsemble) Run(ctx context.Context, question string, l *lens.Lens, sim *memory.Simulacrum) (PatternResult, error) {
	if len(l.Personas) == 0 {
		return PatternResult{}, fmt.Errorf("voting_ensemble: lens has no personas")
	}

	candidates := make([]candidate, len(l.Personas))
	g, gctx := errgroup.WithContext(ctx)

	validatorNames := append(validatorNames(l.DeterministicValidators), validatorNames(l.HeuristicValidators)...)

	for i, persona := range l.Personas {
		i, persona := i, persona
		g.Go(func() error {
			prompt := fmt.Sprintf(
				"As %s (%s), goals: %v, answer the question: %s",
				persona.Name, persona.Description, persona.Goals, question,
			)
			answer, err := p.Completer.Complete(gctx, model.CategoryAnalysis, prompt)
			if err != nil {
				return fmt.Errorf("voting_ensemble: persona %s: %w", persona.Name, err)
			}
			score, err := RunAll(gctx, p.Registry, validatorNames, answer)
			if err != nil {
				return fmt.Errorf("voting_ensemble: validate persona %s: %w", persona.Name, err)
			}
			candidates[i] = candidate{answer: answer, score: score, priority: persona.Priority}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return PatternResult{}, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].priority > candidates[j].priority
	})

	winner := candidates[0]
	return finalize(PatternResult{
		Answer:      winner.answer,
		Confidence:  winner.score,
		PatternUsed: patternVotingEnsemble,
		Calls:       len(l.Personas),
	}), nil
}
