// Package planner decomposes a goal into an Artifact DAG, guided by a
// Lens's framework when present, and partitions the DAG into independent
// topological execution waves (spec §4.6).
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lbliii/sunwell/internal/goal"
	"github.com/lbliii/sunwell/internal/lens"
	"github.com/lbliii/sunwell/internal/memory"
	"github.com/lbliii/sunwell/internal/model"
)

// maxCycleRetries bounds retries when decomposition yields a cyclic graph
// (spec §4.6 "detect and retry up to 3 times").
const maxCycleRetries = 3

// Completer is the narrow model capability the Planner depends on.
type Completer interface {
	Complete(ctx context.Context, category model.TaskCategory, prompt string) (string, error)
}

// Plan is the output of decomposition: an Artifact DAG plus the goal it
// was reused from, if any (spec §4.6 "has_similar_goal").
type Plan struct {
	Artifacts  []*goal.Artifact
	ReusedGoal *goal.Goal
}

// Planner produces an Artifact DAG from a goal and memory context (spec
// §4.6).
type Planner struct {
	Completer Completer
}

// New constructs a Planner.
func New(completer Completer) *Planner {
	return &Planner{Completer: completer}
}

type decompositionArtifact struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Requires     []string `json:"requires"`
	ProducesFile string   `json:"produces_file"`
	DomainType   string   `json:"domain_type"`
}

// Plan decomposes g into an Artifact DAG. It first checks
// context.has_similar_goal (spec §4.6) and returns the existing goal by
// reference when a near-duplicate exists, skipping decomposition entirely.
func (p *Planner) Plan(ctx context.Context, g *goal.Goal, ctxView *memory.Context, l *lens.Lens) (*Plan, error) {
	if ctxView != nil {
		if existing, ok := ctxView.HasSimilarGoal(g.Description, 0.8); ok {
			return &Plan{ReusedGoal: existing}, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxCycleRetries; attempt++ {
		artifacts, err := p.decompose(ctx, g, ctxView, l)
		if err != nil {
			return nil, err
		}
		if !hasCycle(artifacts) {
			return &Plan{Artifacts: reuseCompleted(artifacts, ctxView)}, nil
		}
		lastErr = fmt.Errorf("planner: decomposition produced a cyclic graph (attempt %d)", attempt+1)
	}
	return nil, lastErr
}

func (p *Planner) decompose(ctx context.Context, g *goal.Goal, ctxView *memory.Context, l *lens.Lens) ([]*goal.Artifact, error) {
	prompt := fmt.Sprintf("Decompose the following goal into a JSON array of artifacts with fields id, description, requires (array of artifact ids), produces_file, domain_type.\n\nGoal: %s", g.Description)
	if l != nil && l.Framework != "" {
		prompt += fmt.Sprintf("\n\nUse the %s decomposition framework.", l.Framework)
	}
	if ctxView != nil {
		prompt += fmt.Sprintf("\n\nAlready completed artifacts: %v", keys(ctxView.CompletedArtifacts))
	}

	raw, err := p.Completer.Complete(ctx, model.CategoryAnalysis, prompt)
	if err != nil {
		return nil, fmt.Errorf("planner: decompose: %w", err)
	}

	var decoded []decompositionArtifact
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("planner: parse decomposition: %w", err)
	}

	artifacts := make([]*goal.Artifact, len(decoded))
	for i, d := range decoded {
		artifacts[i] = &goal.Artifact{
			ID:           d.ID,
			Description:  d.Description,
			Requires:     d.Requires,
			ProducesFile: d.ProducesFile,
			DomainType:   d.DomainType,
		}
	}
	return artifacts, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// reuseCompleted drops artifacts already present in
// context.completed_artifacts rather than regenerating them (spec §4.6).
func reuseCompleted(artifacts []*goal.Artifact, ctxView *memory.Context) []*goal.Artifact {
	if ctxView == nil || len(ctxView.CompletedArtifacts) == 0 {
		return artifacts
	}
	filtered := make([]*goal.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if ctxView.CompletedArtifacts[a.ID] {
			continue
		}
		filtered = append(filtered, a)
	}
	return filtered
}

// hasCycle reports whether artifacts form a cyclic graph via DFS (spec
// §4.6 "never produce a cyclic graph").
func hasCycle(artifacts []*goal.Artifact) bool {
	byID := make(map[string]*goal.Artifact, len(artifacts))
	for _, a := range artifacts {
		byID[a.ID] = a
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(artifacts))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		for _, dep := range byID[id].Requires {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if visit(dep) {
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, a := range artifacts {
		if color[a.ID] == white && visit(a.ID) {
			return true
		}
	}
	return false
}

// ExecutionWaves partitions artifacts into topological layers where wave
// i+1 depends only on artifacts in waves ≤ i (spec §4.6).
func ExecutionWaves(artifacts []*goal.Artifact) [][]*goal.Artifact {
	byID := make(map[string]*goal.Artifact, len(artifacts))
	remaining := make(map[string]bool, len(artifacts))
	for _, a := range artifacts {
		byID[a.ID] = a
		remaining[a.ID] = true
	}

	var waves [][]*goal.Artifact
	done := make(map[string]bool, len(artifacts))

	for len(remaining) > 0 {
		var wave []*goal.Artifact
		for id := range remaining {
			a := byID[id]
			ready := true
			for _, dep := range a.Requires {
				if _, exists := byID[dep]; exists && !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, a)
			}
		}
		if len(wave) == 0 {
			// Cyclic or unresolvable remainder; surface everything left
			// as one final wave rather than looping forever.
			for id := range remaining {
				wave = append(wave, byID[id])
			}
		}
		sort.Slice(wave, func(i, j int) bool { return wave[i].ID < wave[j].ID })
		for _, a := range wave {
			done[a.ID] = true
			delete(remaining, a.ID)
		}
		waves = append(waves, wave)
	}
	return waves
}
