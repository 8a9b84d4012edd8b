// Package lens loads and represents the domain-expertise container used by
// every compound pattern (spec §3, §4.5, §6). A Lens is an immutable value
// object once loaded; patterns contain no domain logic of their own.
package lens

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lbliii/sunwell/internal/model"
)

type (
	// Lens is the parsed, read-only domain expertise container (spec §3).
	Lens struct {
		Metadata                Metadata               `yaml:"metadata"`
		Heuristics              []Heuristic            `yaml:"heuristics"`
		AntiHeuristics          []Heuristic            `yaml:"anti_heuristics"`
		Personas                []Persona              `yaml:"personas"`
		DeterministicValidators []ValidatorRef          `yaml:"deterministic_validators"`
		HeuristicValidators     []ValidatorRef          `yaml:"heuristic_validators"`
		Framework               string                 `yaml:"framework"`
		Workflows               []Workflow             `yaml:"workflows"`
		Refiners                []string               `yaml:"refiners"`
		ModelRouting            ModelRoutingConfig      `yaml:"model_routing"`
	}

	// Metadata is free-form descriptive information about the Lens.
	Metadata struct {
		Name        string `yaml:"name"`
		Version     string `yaml:"version"`
		Description string `yaml:"description"`
	}

	// Heuristic is a named principle with supporting examples (spec §3, §6).
	Heuristic struct {
		Name     string   `yaml:"name"`
		Rule     string   `yaml:"rule"`
		Always   []string `yaml:"always"`
		Never    []string `yaml:"never"`
		Examples Examples `yaml:"examples"`
		Priority int      `yaml:"priority"`
	}

	// Examples groups good/bad illustrations for a Heuristic.
	Examples struct {
		Good []string `yaml:"good"`
		Bad  []string `yaml:"bad"`
	}

	// Persona is a point of view used by VotingEnsemble candidates and the
	// GroundedDebate antithesis step (spec §3, §4.5).
	Persona struct {
		Name           string   `yaml:"name"`
		Description    string   `yaml:"description"`
		Goals          []string `yaml:"goals"`
		FrictionPoints []string `yaml:"friction_points"`
		AttackVectors  []string `yaml:"attack_vectors"`
		Priority       int      `yaml:"priority"`
	}

	// ValidatorRef names a validator that patterns run against candidate
	// answers. Its kind (deterministic or heuristic) follows from the Lens
	// list it appears in.
	ValidatorRef struct {
		Name string `yaml:"name"`
		Spec string `yaml:"spec"`
	}

	// Workflow is a named sequence of steps carried by a Lens. The Planner
	// does not read Workflows; its decomposition uses only Framework.
	Workflow struct {
		Name  string   `yaml:"name"`
		Steps []string `yaml:"steps"`
	}

	// ModelRoutingConfig mirrors the Lens YAML's model_routing section
	// (spec §4.3, §6) and converts directly into a model.RoutingConfig.
	ModelRoutingConfig struct {
		Enabled     bool                          `yaml:"enabled"`
		Preferences map[string]RoutingPreference  `yaml:"preferences"`
		Privacy     PrivacyConfig                 `yaml:"privacy"`
	}

	// RoutingPreference is one model_routing.preferences[category] entry.
	RoutingPreference struct {
		Model     string `yaml:"model"`
		Rationale string `yaml:"rationale"`
	}

	// PrivacyConfig mirrors the Lens YAML's model_routing.privacy section.
	PrivacyConfig struct {
		LocalOnly bool     `yaml:"local_only"`
		KeepLocal []string `yaml:"keep_local"`
	}
)

// Load parses a Lens file at path. Unknown top-level keys are rejected,
// matching the strict-decode rule applied to configuration (spec §9).
func Load(path string) (*Lens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lens: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw Lens YAML, rejecting unknown keys.
func Parse(data []byte) (*Lens, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var l Lens
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("lens: decode: %w", err)
	}
	return &l, nil
}

// RoutingConfig converts the Lens's model_routing section into the
// model.RoutingConfig shape the ModelRouter consumes (spec §4.3).
func (l *Lens) RoutingConfig() model.RoutingConfig {
	prefs := make(map[model.TaskCategory]model.Preference, len(l.ModelRouting.Preferences))
	for cat, p := range l.ModelRouting.Preferences {
		prefs[model.TaskCategory(cat)] = model.Preference{Model: p.Model, Rationale: p.Rationale}
	}
	keepLocal := make(map[model.TaskCategory]bool, len(l.ModelRouting.Privacy.KeepLocal))
	for _, cat := range l.ModelRouting.Privacy.KeepLocal {
		keepLocal[model.TaskCategory(cat)] = true
	}
	return model.RoutingConfig{
		Enabled:     l.ModelRouting.Enabled,
		Preferences: prefs,
		LocalOnly:   l.ModelRouting.Privacy.LocalOnly,
		KeepLocal:   keepLocal,
	}
}

// AntiHeuristicsText flattens AntiHeuristics into short "name: rule"
// strings for prompting a critique step (spec §4.5 IterativeRefinement
// critique uses lens.anti_heuristics).
func (l *Lens) AntiHeuristicsText() []string {
	out := make([]string, len(l.AntiHeuristics))
	for i, h := range l.AntiHeuristics {
		out[i] = h.Name + ": " + h.Rule
	}
	return out
}

// HeuristicsByPriority returns Heuristics sorted descending by Priority,
// the order grounding should be presented to a thesis/antithesis/synthesis
// step (spec §4.5 step b).
func (l *Lens) HeuristicsByPriority() []Heuristic {
	out := make([]Heuristic, len(l.Heuristics))
	copy(out, l.Heuristics)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Priority < out[j].Priority; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
