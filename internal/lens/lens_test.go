package lens

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lbliii/sunwell/internal/model"
)

const sampleYAML = `
metadata:
  name: backend-go
  version: "1.0"
heuristics:
  - name: explicit-errors
    rule: return errors, do not panic
    priority: 5
  - name: small-interfaces
    rule: prefer small interfaces
    priority: 9
personas:
  - name: security-reviewer
    attack_vectors: ["injection", "path traversal"]
framework: hexagonal
model_routing:
  enabled: true
  preferences:
    code_generation:
      model: claude-sonnet
      rationale: best at go idioms
  privacy:
    local_only: false
    keep_local: ["introspection"]
`

func TestParseLens(t *testing.T) {
	l, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "backend-go", l.Metadata.Name)
	require.Len(t, l.Heuristics, 2)
	require.Equal(t, "hexagonal", l.Framework)
}

func TestParseLensRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("bogus_top_level_key: true\n"))
	require.Error(t, err)
}

func TestHeuristicsByPriorityDescending(t *testing.T) {
	l, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	ordered := l.HeuristicsByPriority()
	require.Equal(t, "small-interfaces", ordered[0].Name)
	require.Equal(t, "explicit-errors", ordered[1].Name)
}

func TestRoutingConfigConversion(t *testing.T) {
	l, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	cfg := l.RoutingConfig()
	require.True(t, cfg.Enabled)
	require.Equal(t, "claude-sonnet", cfg.Preferences[model.CategoryCodeGen].Model)
	require.True(t, cfg.KeepLocal[model.CategoryIntrospection])
}
