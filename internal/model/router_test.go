package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name string
	resp *Response
	err  error
}

func (s *stubClient) Provider() string { return s.name }

func (s *stubClient) Complete(_ context.Context, _ *Request) (*Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func TestSelectModelExplicitOverrideWins(t *testing.T) {
	r := NewRouter(map[string]Client{"anthropic": &stubClient{name: "anthropic"}}, "gpt-4o-mini")
	got := r.SelectModel(CategoryCodeGen, "claude-opus", RoutingConfig{})
	require.Equal(t, "claude-opus", got)
}

func TestSelectModelLensPreferenceBeatsDefault(t *testing.T) {
	r := NewRouter(map[string]Client{"anthropic": &stubClient{name: "anthropic"}}, "gpt-4o-mini")
	cfg := RoutingConfig{
		Enabled:     true,
		Preferences: map[TaskCategory]Preference{CategoryCodeGen: {Model: "claude-sonnet"}},
	}
	require.Equal(t, "claude-sonnet", r.SelectModel(CategoryCodeGen, "", cfg))
	require.Equal(t, "gpt-4o-mini", r.SelectModel(CategoryQuickAnalysis, "", cfg))
}

func TestSelectModelFallsBackToSessionDefault(t *testing.T) {
	r := NewRouter(map[string]Client{"anthropic": &stubClient{name: "anthropic"}}, "gpt-4o-mini")
	require.Equal(t, "gpt-4o-mini", r.SelectModel(CategoryConversation, "", RoutingConfig{}))
}

func TestPerformanceTrackerBestModel(t *testing.T) {
	tr := NewPerformanceTracker()
	for i := 0; i < 5; i++ {
		tr.Record(Observation{Model: "model-a", Category: CategoryAnalysis, Success: true})
	}
	for i := 0; i < 5; i++ {
		tr.Record(Observation{Model: "model-b", Category: CategoryAnalysis, Success: i < 2})
	}
	best, ok := tr.GetBestModel(CategoryAnalysis, 5)
	require.True(t, ok)
	require.Equal(t, "model-a", best)
}

func TestPerformanceTrackerRequiresMinSamples(t *testing.T) {
	tr := NewPerformanceTracker()
	tr.Record(Observation{Model: "model-a", Category: CategoryAnalysis, Success: true})
	_, ok := tr.GetBestModel(CategoryAnalysis, 5)
	require.False(t, ok)
}

func TestCompleteRejectsKeepLocalToCloudProvider(t *testing.T) {
	r := NewRouter(map[string]Client{"anthropic": &stubClient{name: "anthropic"}}, "anthropic/claude-haiku")
	cfg := RoutingConfig{KeepLocal: map[TaskCategory]bool{CategoryIntrospection: true}}
	_, err := r.Complete(context.Background(), CategoryIntrospection, "", cfg, &Request{})
	require.Error(t, err)
}
