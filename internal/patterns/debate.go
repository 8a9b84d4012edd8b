package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lbliii/sunwell/internal/lens"
	"github.com/lbliii/sunwell/internal/memory"
	"github.com/lbliii/sunwell/internal/model"
)

const patternGroundedDebate = "grounded_debate"

// GroundedDebate implements the thesis/antithesis/synthesis pattern (spec
// §4.5): episodic short-circuit, grounding from heuristics and RAG,
// adversarial critique from a persona with attack vectors, synthesis
// against the Lens framework, heuristic validation, and conditional
// memory writes.
type GroundedDebate struct {
	Completer Completer
	Registry  ValidatorRegistry

	// EpisodicThreshold overrides Simulacrum.EpisodicThreshold for this
	// pattern (spec §9 Open Question decision: debate defaults to 0.92
	// since its answers are most sensitive to near-duplicates).
	EpisodicThreshold float64
}

// NewGroundedDebate constructs a GroundedDebate with its decided episodic
// threshold override.
func NewGroundedDebate(completer Completer, registry ValidatorRegistry) *GroundedDebate {
	return &GroundedDebate{Completer: completer, Registry: registry, EpisodicThreshold: 0.92}
}

func (p *GroundedDebate) Run(ctx context.Context, question string, l *lens.Lens, sim *memory.Simulacrum) (PatternResult, error) {
	var calls int

	threshold := p.EpisodicThreshold
	if threshold == 0 {
		threshold = 0.92
	}

	// (a) episodic cache check
	if sim != nil && sim.Episodic != nil {
		if hit, ok, err := sim.Episodic.Lookup(ctx, question, threshold); err != nil {
			return PatternResult{}, fmt.Errorf("grounded_debate: episodic lookup: %w", err)
		} else if ok {
			return finalize(PatternResult{
				Answer:      hit.Answer,
				Confidence:  hit.Confidence,
				PatternUsed: patternGroundedDebate,
				Calls:       0,
			}), nil
		}
	}

	// (b) grounding from heuristics examples + retrieved RAG passages
	grounding := buildGrounding(l, sim, question)

	// (c) thesis
	thesisPrompt := fmt.Sprintf("Question: %s\n\nGrounding:\n%s\n\nPropose a thesis answer.", question, grounding)
	thesis, err := p.Completer.Complete(ctx, model.CategoryDeepReasoning, thesisPrompt)
	if err != nil {
		return PatternResult{}, fmt.Errorf("grounded_debate: thesis: %w", err)
	}
	calls++

	// (d) antithesis from a persona with attack vectors
	antithesis := thesis
	if persona, ok := findAttackingPersona(l); ok {
		antithesisPrompt := fmt.Sprintf(
			"As %s, attack the following thesis using these attack vectors: %s\n\nThesis: %s",
			persona.Name, strings.Join(persona.AttackVectors, "; "), thesis,
		)
		antithesis, err = p.Completer.Complete(ctx, model.CategoryDeepReasoning, antithesisPrompt)
		if err != nil {
			return PatternResult{}, fmt.Errorf("grounded_debate: antithesis: %w", err)
		}
		calls++
	}

	// (e) synthesis, using lens.framework if present
	synthesisPrompt := fmt.Sprintf("Thesis:\n%s\n\nAntithesis:\n%s\n\nReconcile into a single answer.", thesis, antithesis)
	if l.Framework != "" {
		synthesisPrompt += fmt.Sprintf("\n\nApply the %s framework.", l.Framework)
	}
	synthesis, err := p.Completer.Complete(ctx, model.CategoryDeepReasoning, synthesisPrompt)
	if err != nil {
		return PatternResult{}, fmt.Errorf("grounded_debate: synthesis: %w", err)
	}
	calls++

	// (f) heuristic validators
	confidence, err := RunAll(ctx, p.Registry, validatorNames(l.HeuristicValidators), synthesis)
	if err != nil {
		return PatternResult{}, fmt.Errorf("grounded_debate: validate: %w", err)
	}

	result := finalize(PatternResult{
		Answer:      synthesis,
		Confidence:  confidence,
		PatternUsed: patternGroundedDebate,
		Calls:       calls,
	})

	if sim != nil {
		// (g) store attempt in episodic memory when confidence > 0.7
		if confidence > 0.7 {
			if err := sim.AddAttempt(ctx, question, patternGroundedDebate, synthesis, true, confidence); err != nil {
				return PatternResult{}, fmt.Errorf("grounded_debate: add_attempt: %w", err)
			}
		}
		// (h) store long-term learning about pattern effectiveness when confidence > 0.8
		if confidence > 0.8 {
			learning := fmt.Sprintf("grounded_debate produced a high-confidence answer (%.2f) for: %s", confidence, question)
			if err := sim.StoreLearning(ctx, learning, patternGroundedDebate, confidence); err != nil {
				return PatternResult{}, fmt.Errorf("grounded_debate: store_learning: %w", err)
			}
		}
	}

	return result, nil
}

func buildGrounding(l *lens.Lens, sim *memory.Simulacrum, question string) string {
	var b strings.Builder
	for _, h := range l.HeuristicsByPriority() {
		for _, ex := range h.Examples.Good {
			fmt.Fprintf(&b, "- [%s] %s\n", h.Name, ex)
		}
	}
	if sim != nil && sim.Semantic != nil {
		if passages, err := sim.Semantic.Search(context.Background(), question, sim.TopK); err == nil {
			for _, p := range passages {
				fmt.Fprintf(&b, "- (from %s) %s\n", p.Source, p.Text)
			}
		}
	}
	return b.String()
}

func findAttackingPersona(l *lens.Lens) (lens.Persona, bool) {
	candidates := make([]lens.Persona, 0, len(l.Personas))
	for _, p := range l.Personas {
		if len(p.AttackVectors) > 0 {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return lens.Persona{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })
	return candidates[0], true
}

func validatorNames(refs []lens.ValidatorRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Name
	}
	return out
}
