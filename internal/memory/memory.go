// Package memory implements the Simulacrum: five partitions (working,
// episodic, semantic, procedural, long-term) sharing a common build_context
// read path and an add_attempt/store_learning write path (spec §3, §4.4).
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"sync"

	"github.com/lbliii/sunwell/internal/goal"
)

// EntityOverlapBonus is added per matching entity during re-ranking (spec
// §4.4).
const EntityOverlapBonus = 0.15

// CoOccurrenceDecay is the per-hop decay applied during BFS co-occurrence
// expansion (spec §4.4).
const CoOccurrenceDecay = 0.5

// CoOccurrenceMaxDepth bounds the BFS expansion (spec §4.4).
const CoOccurrenceMaxDepth = 2

// RAGPassage is one hit from the semantic retrieval path.
type RAGPassage struct {
	ID      string
	Text    string
	Score   float64
	Source  string
}

// EpisodicResult is a past (result, confidence) pair returned when an
// episodic cache hit clears the similarity threshold (spec §4.4).
type EpisodicResult struct {
	Pattern    string
	Answer     string
	Success    bool
	Confidence float64
}

// Context is the read-side output of build_context (spec §4.4).
type Context struct {
	ExistingGoals      []*goal.Goal
	CompletedArtifacts map[string]bool
	InProgress         string
	RAGPassages        []RAGPassage
	EpisodicHit        *EpisodicResult
}

// HasSimilarGoal reports whether any ExistingGoals description overlaps
// description by at least threshold Jaccard word similarity (spec §4.6),
// returning the matching goal when found.
func (c *Context) HasSimilarGoal(description string, threshold float64) (*goal.Goal, bool) {
	target := wordSet(description)
	for _, g := range c.ExistingGoals {
		if jaccard(target, wordSet(g.Description)) >= threshold {
			return g, true
		}
	}
	return nil, false
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 0 {
			out[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()
	return out
}

// CosineSimilarity scores two embedding vectors in [0, 1] for
// non-negative embeddings (the common case for text embedding models),
// and is the similarity metric both the semantic and episodic partitions
// use in place of lexical overlap (spec §3, §4.4, §8 "semantic
// similarity"). Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// EpisodicStore is the durable attempt cache (spec §3, §4.4).
type EpisodicStore interface {
	// Lookup returns the best match for question if its similarity clears
	// threshold, else ok is false.
	Lookup(ctx context.Context, question string, threshold float64) (result EpisodicResult, ok bool, err error)
	// AddAttempt is idempotent on (hash(question), pattern) (spec §4.4).
	AddAttempt(ctx context.Context, question, pattern, answer string, success bool, confidence float64) error
}

// SemanticStore is the RAG document/passage store (spec §3, §4.4).
type SemanticStore interface {
	Search(ctx context.Context, query string, topK int) ([]RAGPassage, error)
}

// LongTermStore records per-pattern and per-model effectiveness statistics
// and identity observations (spec §3).
type LongTermStore interface {
	StoreLearning(ctx context.Context, content, source string, confidence float64) error
}

// Procedural holds the heuristics from the active Lens plus learned ones
// (spec §3). It is intentionally just string content: patterns read it as
// grounding text, they do not interpret its structure.
type Procedural struct {
	mu         sync.RWMutex
	heuristics []string
}

// NewProcedural constructs a Procedural partition seeded with the active
// Lens's heuristics.
func NewProcedural(seed []string) *Procedural {
	p := &Procedural{heuristics: append([]string(nil), seed...)}
	return p
}

// Learn appends a newly learned heuristic.
func (p *Procedural) Learn(heuristic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heuristics = append(p.heuristics, heuristic)
}

// All returns a snapshot of every heuristic, seeded plus learned.
func (p *Procedural) All() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.heuristics))
	copy(out, p.heuristics)
	return out
}

// Working is the bounded, per-turn scratch partition (spec §3). It is
// evicted at turn end by the caller invoking Reset.
type Working struct {
	mu      sync.Mutex
	entries []string
	maxSize int
}

// NewWorking constructs a Working partition bounded to maxSize entries.
func NewWorking(maxSize int) *Working {
	if maxSize <= 0 {
		maxSize = 32
	}
	return &Working{maxSize: maxSize}
}

// Add appends an entry, evicting the oldest when over capacity.
func (w *Working) Add(entry string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	if len(w.entries) > w.maxSize {
		w.entries = w.entries[len(w.entries)-w.maxSize:]
	}
}

// Reset clears all scratch entries (turn end, spec §3).
func (w *Working) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}

// Snapshot returns a copy of the current scratch entries.
func (w *Working) Snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.entries))
	copy(out, w.entries)
	return out
}

// Simulacrum composes the five memory partitions behind the single
// build_context/add_attempt/store_learning contract (spec §4.4).
type Simulacrum struct {
	Episodic   EpisodicStore
	Semantic   SemanticStore
	LongTerm   LongTermStore
	Procedural *Procedural
	Working    *Working

	// EpisodicThreshold is the default episodic similarity cutoff (spec §3
	// "0.9"), overridable per pattern (spec §9 open question decision).
	EpisodicThreshold float64

	// TopK bounds the number of RAG passages returned per query.
	TopK int
}

// New constructs a Simulacrum with the spec's default episodic threshold.
func New(episodic EpisodicStore, semantic SemanticStore, longTerm LongTermStore, procedural *Procedural) *Simulacrum {
	return &Simulacrum{
		Episodic:          episodic,
		Semantic:          semantic,
		LongTerm:          longTerm,
		Procedural:        procedural,
		Working:           NewWorking(32),
		EpisodicThreshold: 0.9,
		TopK:              5,
	}
}

// BuildContext assembles the read-side view the Planner and compound
// patterns consume (spec §4.4).
func (s *Simulacrum) BuildContext(ctx context.Context, g *goal.Goal, existingGoals []*goal.Goal, completedArtifacts []string, inProgress string) (*Context, error) {
	completed := make(map[string]bool, len(completedArtifacts))
	for _, a := range completedArtifacts {
		completed[a] = true
	}

	c := &Context{
		ExistingGoals:      existingGoals,
		CompletedArtifacts: completed,
		InProgress:         inProgress,
	}

	if s.Semantic != nil {
		passages, err := s.Semantic.Search(ctx, g.Description, s.TopK)
		if err != nil {
			return nil, err
		}
		c.RAGPassages = passages
	}

	if s.Episodic != nil {
		if hit, ok, err := s.Episodic.Lookup(ctx, g.Description, s.EpisodicThreshold); err != nil {
			return nil, err
		} else if ok {
			c.EpisodicHit = &hit
		}
	}

	return c, nil
}

// AddAttempt writes to episodic memory (spec §4.4). Idempotent on
// (hash(question), pattern) — enforced by the EpisodicStore implementation.
func (s *Simulacrum) AddAttempt(ctx context.Context, question, pattern, answer string, success bool, confidence float64) error {
	if s.Episodic == nil {
		return nil
	}
	return s.Episodic.AddAttempt(ctx, question, pattern, answer, success, confidence)
}

// StoreLearning writes to long-term memory (spec §4.4). Idempotent on
// (hash(content), source) — enforced by the LongTermStore implementation.
func (s *Simulacrum) StoreLearning(ctx context.Context, content, source string, confidence float64) error {
	if s.LongTerm == nil {
		return nil
	}
	return s.LongTerm.StoreLearning(ctx, content, source, confidence)
}

// HashContent computes the idempotence key used by episodic/long-term
// stores: hash(content) (spec §4.4, §8 "episodic idempotence").
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RerankWithEntityOverlap re-scores passages by adding EntityOverlapBonus
// per entity shared between queryEntities and a passage's own entities
// (spec §4.4). Passages are returned sorted descending by adjusted score.
func RerankWithEntityOverlap(passages []RAGPassage, queryEntities []string, passageEntities map[string][]string) []RAGPassage {
	querySet := make(map[string]bool, len(queryEntities))
	for _, e := range queryEntities {
		querySet[e] = true
	}

	out := make([]RAGPassage, len(passages))
	copy(out, passages)
	for i := range out {
		overlap := 0
		for _, e := range passageEntities[out[i].ID] {
			if querySet[e] {
				overlap++
			}
		}
		out[i].Score += float64(overlap) * EntityOverlapBonus
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
