// Package identity implements the two-tier fact/behavior extractor and
// adaptive digest that builds a learned interaction-style profile of the
// user across a session and across sessions (spec §4.10).
package identity

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// digestConfidenceGate is the minimum confidence a freshly synthesised
// digest must clear to be kept (spec §4.10 "rejected if confidence < 0.6").
const digestConfidenceGate = 0.6

// minPromptLen is the other half of the injection gate (spec §6
// "confidence >= 0.6 AND len(prompt) >= 10").
const minPromptLen = 10

// maxDigestChars bounds a synthesised digest (spec §4.10 "short (<=500
// chars) second-person interaction guide").
const maxDigestChars = 500

// globalRetention is how many recent observations the global identity
// keeps on session exit (spec §4.10 "recent 100 observations retained").
const globalRetention = 100

// Observation is one extracted behavior, timestamped and scored (spec §3
// "Session identity: observations (timestamp, text, confidence)").
type Observation struct {
	Timestamp  time.Time `yaml:"timestamp"`
	Text       string    `yaml:"text"`
	Confidence float64   `yaml:"confidence"`
}

// SessionIdentity is the per-session identity file (spec §3, §6 storage
// path "<root>/.sunwell/memory/sessions/<session>_identity.yaml").
type SessionIdentity struct {
	Observations      []Observation `yaml:"observations"`
	Digest            string        `yaml:"digest"`
	Confidence        float64       `yaml:"confidence"`
	TurnCountAtDigest int           `yaml:"turn_count_at_digest"`
	InheritsFrom      string        `yaml:"inherits_from"`

	turnCount            int
	behaviorsSinceDigest int
}

// GlobalIdentity is the cross-session cumulative identity file (spec §3,
// §6 storage path "<home>/.sunwell/global_identity.yaml").
type GlobalIdentity struct {
	Prompt       string        `yaml:"prompt"`
	Observations []Observation `yaml:"observations"`
}

// Synthesizer produces a digest prompt and confidence from a set of
// observations. Grounded implementations call out to a Completer; this
// package stays model-agnostic (spec §4.10 is silent on the exact model
// used for digestion).
type Synthesizer interface {
	Synthesize(observations []Observation) (prompt string, confidence float64, err error)
}

// Extractor produces (facts, behaviors) from a single user message (spec
// §4.10 "Two-tier extractor").
type Extractor interface {
	Extract(message string) (facts []string, behaviors []string, err error)
}

// Tracker owns one session's identity lifecycle: extraction, adaptive
// digestion, and the eventual merge into GlobalIdentity (spec §4.10).
type Tracker struct {
	Extractor   Extractor
	Synthesizer Synthesizer
	LearningLog func(fact string) error // feeds facts into the DAG learning log (spec §4.10)

	Session SessionIdentity
}

// NewTracker constructs a Tracker, optionally inheriting a prior session's
// digest (spec §3 "inherits_from pointer").
func NewTracker(extractor Extractor, synth Synthesizer, learningLog func(string) error, inheritsFrom string) *Tracker {
	return &Tracker{
		Extractor:   extractor,
		Synthesizer: synth,
		LearningLog: learningLog,
		Session:     SessionIdentity{InheritsFrom: inheritsFrom},
	}
}

// Observe processes one user message: facts go to the learning log,
// behaviors accumulate as Observations, and the digest is re-synthesised
// when an adaptive trigger fires (spec §4.10).
func (t *Tracker) Observe(message string) error {
	t.Session.turnCount++

	facts, behaviors, err := t.Extractor.Extract(message)
	if err != nil {
		return fmt.Errorf("identity: extract: %w", err)
	}

	for _, fact := range facts {
		if t.LearningLog != nil {
			if err := t.LearningLog(fact); err != nil {
				return fmt.Errorf("identity: learning log: %w", err)
			}
		}
	}

	for _, b := range behaviors {
		t.Session.Observations = append(t.Session.Observations, Observation{
			Timestamp:  time.Now(),
			Text:       b,
			Confidence: 1.0,
		})
		t.Session.behaviorsSinceDigest++
	}

	if t.shouldDigest() {
		return t.digest()
	}
	return nil
}

// shouldDigest implements the four adaptive triggers (spec §4.10): at
// least 3 behaviours with no digest yet, 5+ behaviours since the last
// accepted digest (counted over all turns since then, not a window of
// recent turns), 10 turns since the last digest, or session end (session
// end is driven explicitly via Finalize, not this check).
func (t *Tracker) shouldDigest() bool {
	if t.Session.Digest == "" && len(t.Session.Observations) >= 3 {
		return true
	}
	if t.Session.behaviorsSinceDigest >= 5 {
		return true
	}
	if t.Session.Digest != "" && t.Session.turnCount-t.Session.TurnCountAtDigest >= 10 {
		return true
	}
	return false
}

func (t *Tracker) digest() error {
	prompt, confidence, err := t.Synthesizer.Synthesize(t.Session.Observations)
	if err != nil {
		return fmt.Errorf("identity: synthesize: %w", err)
	}
	if len(prompt) > maxDigestChars {
		prompt = prompt[:maxDigestChars]
	}
	if confidence < digestConfidenceGate {
		// Rejected digest: leave the prior one (if any) in place (spec
		// §4.10 "rejected if confidence < 0.6").
		return nil
	}
	t.Session.Digest = prompt
	t.Session.Confidence = confidence
	t.Session.TurnCountAtDigest = t.Session.turnCount
	t.Session.behaviorsSinceDigest = 0
	return nil
}

// Finalize runs the session-end digest trigger unconditionally (spec
// §4.10 "(d) session end"), then returns the session's current state for
// persistence.
func (t *Tracker) Finalize() (SessionIdentity, error) {
	if err := t.digest(); err != nil {
		return t.Session, err
	}
	return t.Session, nil
}

// InjectPrompt reports whether the session's digest clears the injection
// gate and, if so, returns it (spec §6 "confidence >= 0.6 AND len(prompt)
// >= 10").
func (t *Tracker) InjectPrompt() (string, bool) {
	if t.Session.Confidence >= digestConfidenceGate && len(t.Session.Digest) >= minPromptLen {
		return t.Session.Digest, true
	}
	return "", false
}

// MergeIntoGlobal folds a finished session's observations into
// GlobalIdentity, retaining only the most recent globalRetention
// observations and replacing the cumulative prompt with the session's
// digest when the session produced one (spec §4.10 "Global identity
// receives session learnings on graceful exit").
func MergeIntoGlobal(global GlobalIdentity, session SessionIdentity) GlobalIdentity {
	merged := append(append([]Observation{}, global.Observations...), session.Observations...)
	if len(merged) > globalRetention {
		merged = merged[len(merged)-globalRetention:]
	}
	global.Observations = merged
	if session.Digest != "" {
		global.Prompt = session.Digest
	}
	return global
}

// LoadGlobal reads the global identity file from <home>/.sunwell, or
// returns an empty GlobalIdentity if it does not yet exist (spec §6).
func LoadGlobal(home string) (GlobalIdentity, error) {
	path := globalPath(home)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return GlobalIdentity{}, nil
	}
	if err != nil {
		return GlobalIdentity{}, fmt.Errorf("identity: read global: %w", err)
	}
	var g GlobalIdentity
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return GlobalIdentity{}, fmt.Errorf("identity: parse global: %w", err)
	}
	return g, nil
}

// SaveGlobal writes the global identity file, creating parent
// directories as needed (spec §6).
func SaveGlobal(home string, g GlobalIdentity) error {
	return saveYAML(globalPath(home), g)
}

// LoadSession reads a session identity file under
// <root>/.sunwell/memory/sessions (spec §6), or returns an empty
// SessionIdentity if it does not yet exist.
func LoadSession(root, session string) (SessionIdentity, error) {
	path := sessionPath(root, session)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return SessionIdentity{}, nil
	}
	if err != nil {
		return SessionIdentity{}, fmt.Errorf("identity: read session: %w", err)
	}
	var s SessionIdentity
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return SessionIdentity{}, fmt.Errorf("identity: parse session: %w", err)
	}
	return s, nil
}

// SaveSession writes a session identity file.
func SaveSession(root, session string, s SessionIdentity) error {
	return saveYAML(sessionPath(root, session), s)
}

func globalPath(home string) string {
	return filepath.Join(home, ".sunwell", "global_identity.yaml")
}

func sessionPath(root, session string) string {
	return filepath.Join(root, ".sunwell", "memory", "sessions", session+"_identity.yaml")
}

func saveYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("identity: mkdir: %w", err)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("identity: write: %w", err)
	}
	return nil
}
