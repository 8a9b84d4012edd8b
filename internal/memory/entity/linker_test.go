package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractFindsFilePathsSymbolsAndTech(t *testing.T) {
	l := New(nil)
	entities := l.Extract("Refactor ExecutionManager in internal/execution/manager.go to use Redis instead of postgres")

	require.Contains(t, entities, "internal/execution/manager.go")
	require.Contains(t, entities, "ExecutionManager")
	require.Contains(t, entities, "redis")
	require.Contains(t, entities, "postgres")
}

func TestResolveMergesSimilarSurfaceForms(t *testing.T) {
	l := New(nil)
	l.SimilarityThreshold = 0.8

	canonical := l.Resolve("ExecutionManager")
	merged := l.Resolve("ExecutionMangaer") // one-hop typo, within threshold

	require.Equal(t, canonical, merged)
}

func TestResolveKeepsDissimilarFormsDistinct(t *testing.T) {
	l := New(nil)

	a := l.Resolve("ExecutionManager")
	b := l.Resolve("Backlog")

	require.NotEqual(t, a, b)
}

func TestLinkToLearningIsManyToMany(t *testing.T) {
	l := New(nil)
	canonical := l.Resolve("Backlog")

	l.LinkToLearning(canonical, "learning-1")
	l.LinkToLearning(canonical, "learning-2")

	require.ElementsMatch(t, []string{"learning-1", "learning-2"}, l.LearningsFor(canonical))
}

func TestExpandAppliesDecayAcrossHops(t *testing.T) {
	l := New(nil)
	l.RecordCoOccurrence([]string{"A", "B"})
	l.RecordCoOccurrence([]string{"B", "C"})

	scores := l.Expand([]string{"A"}, 2, 0.5)

	require.Contains(t, scores, "B")
	require.Contains(t, scores, "C")
	require.Greater(t, scores["B"], scores["C"]) // closer hop scores higher
}

func TestExpandRespectsMaxDepth(t *testing.T) {
	l := New(nil)
	l.RecordCoOccurrence([]string{"A", "B"})
	l.RecordCoOccurrence([]string{"B", "C"})

	scores := l.Expand([]string{"A"}, 1, 0.5)

	require.Contains(t, scores, "B")
	require.NotContains(t, scores, "C")
}
