// Package episodic implements memory.EpisodicStore on top of Redis,
// durably caching (question_embedding, pattern_used, result, success,
// confidence) attempts for similarity short-circuiting (spec §3, §4.4).
package episodic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lbliii/sunwell/internal/memory"
)

// Embedder produces a vector embedding for a piece of text, the same
// narrow capability semantic.Store depends on (internal/memory/semantic,
// spec §4.4), so both partitions compare questions by the same cosine
// similarity instead of one doing lexical matching and the other vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Store implements memory.EpisodicStore backed by one Redis string key
// (a JSON-encoded attempt) per question/pattern pair, keyed so AddAttempt
// is idempotent on
// (hash(question), pattern) (spec §4.4).
type Store struct {
	rdb      *redis.Client
	prefix   string
	embedder Embedder
}

// New constructs an episodic Store. prefix namespaces keys (e.g. per Lens
// or per project) so multiple Simulacrums can share one Redis instance.
// embedder is required: Lookup compares questions by cosine similarity
// over embeddings, matching the 0.9/0.92 thresholds spec §4.4 and §8's
// worked example ("double the amount" vs "twice the amount") are defined
// against, not lexical word overlap.
func New(rdb *redis.Client, prefix string, embedder Embedder) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("episodic: embedder is required")
	}
	if prefix == "" {
		prefix = "sunwell:episodic"
	}
	return &Store{rdb: rdb, prefix: prefix, embedder: embedder}, nil
}

type record struct {
	Question   string    `json:"question"`
	Embedding  []float64 `json:"embedding"`
	Pattern    string    `json:"pattern"`
	Answer     string    `json:"answer"`
	Success    bool      `json:"success"`
	Confidence float64   `json:"confidence"`
}

func (s *Store) key(questionHash, pattern string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, pattern, questionHash)
}

// AddAttempt writes (or overwrites) the attempt keyed by
// (hash(question), pattern), satisfying idempotence under repeated calls
// with identical content (spec §4.4, §8 "episodic idempotence").
func (s *Store) AddAttempt(ctx context.Context, question, pattern, answer string, success bool, confidence float64) error {
	embedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("episodic: embed question: %w", err)
	}
	hash := memory.HashContent(question)
	rec := record{Question: question, Embedding: embedding, Pattern: pattern, Answer: answer, Success: success, Confidence: confidence}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("episodic: marshal record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(hash, pattern), data, 0).Err(); err != nil {
		return fmt.Errorf("episodic: set: %w", err)
	}
	return nil
}

// Lookup scans stored attempts for the closest question by embedding
// cosine similarity (spec §3, §4.4, §8: "double the amount" stored must
// match "twice the amount" queried at 0.9, 0.92 for GroundedDebate) and
// returns it if it clears threshold.
func (s *Store) Lookup(ctx context.Context, question string, threshold float64) (memory.EpisodicResult, bool, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return memory.EpisodicResult{}, false, fmt.Errorf("episodic: embed question: %w", err)
	}

	pattern := s.prefix + ":*"
	var bestScore float64
	var best *record

	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return memory.EpisodicResult{}, false, fmt.Errorf("episodic: get: %w", err)
		}
		var rec record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		score := memory.CosineSimilarity(queryEmbedding, rec.Embedding)
		if score > bestScore {
			bestScore = score
			r := rec
			best = &r
		}
	}
	if err := iter.Err(); err != nil {
		return memory.EpisodicResult{}, false, fmt.Errorf("episodic: scan: %w", err)
	}

	if best == nil || bestScore < threshold {
		return memory.EpisodicResult{}, false, nil
	}
	return memory.EpisodicResult{
		Pattern:    best.Pattern,
		Answer:     best.Answer,
		Success:    best.Success,
		Confidence: best.Confidence,
	}, true, nil
}
