// Package semantic implements memory.SemanticStore as a hybrid vector +
// BM25 RAG store over MongoDB (spec §3, §4.4), with optional cross-encoder
// re-ranking of the top 3x candidates that degrades gracefully when no
// re-ranker is configured.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lbliii/sunwell/internal/memory"
)

const (
	defaultCollection = "semantic_passages"
	defaultTimeout     = 5 * time.Second
)

// Embedder produces a vector embedding for a piece of text. Kept as a
// narrow interface so tests can supply a deterministic stub instead of a
// live embedding model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Reranker scores a (query, passage) pair, used for optional cross-encoder
// re-ranking of the top 3x candidates (spec §4.4). Implementations MAY
// return an error to signal unavailability; callers fall back to the
// unranked vector+BM25 score.
type Reranker interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

type passageDoc struct {
	ID        string    `bson:"_id"`
	Text      string    `bson:"text"`
	Source    string    `bson:"source"`
	Embedding []float64 `bson:"embedding"`
	Entities  []string  `bson:"entities"`
}

// Store implements memory.SemanticStore backed by a MongoDB collection.
// Retrieval is hybrid: cosine similarity over Embedding plus a BM25-style
// term overlap score, optionally re-ranked by a cross-encoder (spec §4.4).
type Store struct {
	coll     *mongo.Collection
	embedder Embedder
	reranker Reranker
	timeout  time.Duration
}

// New constructs a Store over database/collection using client. embedder is
// required; reranker may be nil (re-ranking degrades gracefully, spec
// §4.4).
func New(client *mongo.Client, database, collection string, embedder Embedder, reranker Reranker) (*Store, error) {
	if client == nil {
		return nil, errors.New("semantic: mongo client is required")
	}
	if embedder == nil {
		return nil, errors.New("semantic: embedder is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &Store{
		coll:     client.Database(database).Collection(collection),
		embedder: embedder,
		reranker: reranker,
		timeout:  defaultTimeout,
	}, nil
}

// Index stores or replaces a passage. Entities seeds the entity-overlap
// bonus computed by memory.RerankWithEntityOverlap for callers that pull
// entities out separately.
func (s *Store) Index(ctx context.Context, id, text, source string, entities []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("semantic: embed: %w", err)
	}

	doc := passageDoc{ID: id, Text: text, Source: source, Embedding: embedding, Entities: entities}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("semantic: replace: %w", err)
	}
	return nil
}

// Search implements memory.SemanticStore.Search: hybrid vector cosine +
// BM25-style term overlap, with optional cross-encoder re-ranking of the
// top 3*topK candidates (spec §4.4).
func (s *Store) Search(ctx context.Context, query string, topK int) ([]memory.RAGPassage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	cursor, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("semantic: find: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []passageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("semantic: decode: %w", err)
	}

	candidates := make([]memory.RAGPassage, 0, len(docs))
	for _, d := range docs {
		score := 0.6*memory.CosineSimilarity(queryEmbedding, d.Embedding) + 0.4*bm25Overlap(query, d.Text)
		candidates = append(candidates, memory.RAGPassage{ID: d.ID, Text: d.Text, Source: d.Source, Score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	rerankWindow := topK * 3
	if rerankWindow > len(candidates) {
		rerankWindow = len(candidates)
	}

	if s.reranker != nil && rerankWindow > 0 {
		for i := 0; i < rerankWindow; i++ {
			rescored, err := s.reranker.Score(ctx, query, candidates[i].Text)
			if err == nil {
				candidates[i].Score = rescored
			}
			// reranker unavailable: keep the vector+BM25 score (graceful degrade).
		}
		sort.Slice(candidates[:rerankWindow], func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	}

	if topK > len(candidates) {
		topK = len(candidates)
	}
	return candidates[:topK], nil
}

func bm25Overlap(query, text string) float64 {
	qterms := termSet(query)
	tterms := termSet(text)
	if len(qterms) == 0 {
		return 0
	}
	matches := 0
	for t := range qterms {
		if tterms[t] {
			matches++
		}
	}
	return float64(matches) / float64(len(qterms))
}

func termSet(s string) map[string]bool {
	out := make(map[string]bool)
	word := make([]rune, 0, 16)
	flush := func() {
		if len(word) > 0 {
			out[string(word)] = true
			word = word[:0]
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == ',' || r == '.' {
			flush()
			continue
		}
		word = append(word, r)
	}
	flush()
	return out
}
