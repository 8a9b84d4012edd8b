package model

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lbliii/sunwell/internal/sunerr"
)

// TaskCategory is the closed set of labels used by the router (spec §4.3).
type TaskCategory string

const (
	CategoryIntrospection TaskCategory = "introspection"
	CategoryAnalysis      TaskCategory = "analysis"
	CategoryCodeGen       TaskCategory = "code_generation"
	CategoryQuickAnalysis TaskCategory = "quick_analysis"
	CategoryDeepReasoning TaskCategory = "deep_reasoning"
	CategoryConversation  TaskCategory = "conversation"
	CategoryDefault       TaskCategory = "default"
)

// Preference is a Lens model_routing.preferences[category] entry.
type Preference struct {
	Model     string
	Rationale string
}

// RoutingConfig is the subset of Lens/session configuration the router
// consults (spec §4.3, §6).
type RoutingConfig struct {
	Enabled     bool
	Preferences map[TaskCategory]Preference
	LocalOnly   bool
	KeepLocal   map[TaskCategory]bool
}

// Observation is one recorded (model, category, success, latency, edited)
// tuple fed to the Performance Tracker (spec §4.3).
type Observation struct {
	Model      string
	Category   TaskCategory
	Success    bool
	LatencyMs  int64
	UserEdited bool
}

// PerformanceTracker records per-(model,category) outcomes and exposes the
// best historical performer (spec §4.3).
type PerformanceTracker struct {
	mu   sync.Mutex
	obs  map[TaskCategory]map[string][]Observation
}

// NewPerformanceTracker constructs an empty tracker.
func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{obs: make(map[TaskCategory]map[string][]Observation)}
}

// Record appends an observation.
func (t *PerformanceTracker) Record(o Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.obs[o.Category] == nil {
		t.obs[o.Category] = make(map[string][]Observation)
	}
	t.obs[o.Category][o.Model] = append(t.obs[o.Category][o.Model], o)
}

// GetBestModel returns the model with the highest score for category among
// models with at least minSamples observations. Score = (1 - user_edit_rate)
// * success_rate (spec §4.3). Returns ("", false) when no model qualifies.
func (t *PerformanceTracker) GetBestModel(category TaskCategory, minSamples int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byModel := t.obs[category]
	bestModel := ""
	bestScore := -1.0
	for m, observations := range byModel {
		if len(observations) < minSamples {
			continue
		}
		var successes, edits int
		for _, o := range observations {
			if o.Success {
				successes++
			}
			if o.UserEdited {
				edits++
			}
		}
		n := float64(len(observations))
		successRate := float64(successes) / n
		editRate := float64(edits) / n
		score := (1 - editRate) * successRate
		if score > bestScore {
			bestScore = score
			bestModel = m
		}
	}
	return bestModel, bestModel != ""
}

// Router selects a model/provider per task category per the ordered
// selection rule in spec §4.3.
type Router struct {
	clients map[string]Client

	sessionDefault string
	minSamples     int
	tracker        *PerformanceTracker

	// limiter paces all outbound calls, one limiter shared by every
	// provider, to stay ahead of rate-limit
	// errors rather than only reacting to them after the fact.
	limiter *rate.Limiter
}

// NewRouter constructs a Router with the given provider clients (keyed by
// Client.Provider()) and a session-default model.
func NewRouter(clients map[string]Client, sessionDefault string) *Router {
	return &Router{
		clients:        clients,
		sessionDefault: sessionDefault,
		minSamples:     5,
		tracker:        NewPerformanceTracker(),
		limiter:        rate.NewLimiter(rate.Limit(10), 10),
	}
}

// Tracker exposes the router's performance tracker for recording outcomes.
func (r *Router) Tracker() *PerformanceTracker { return r.tracker }

// SelectModel implements the ordered selection rule: explicit override >
// Lens preference > best historical performer > session default.
func (r *Router) SelectModel(category TaskCategory, override string, cfg RoutingConfig) string {
	if override != "" {
		return override
	}
	if cfg.Enabled {
		if pref, ok := cfg.Preferences[category]; ok && pref.Model != "" {
			return pref.Model
		}
	}
	if best, ok := r.tracker.GetBestModel(category, r.minSamples); ok {
		return best
	}
	return r.sessionDefault
}

// Complete selects a model and client for category, enforces the keep_local
// privacy constraint (spec §4.3 "MUST NOT route to cloud providers"), and
// performs the call with rate-limit backoff (spec §5, up to 3 retries).
func (r *Router) Complete(ctx context.Context, category TaskCategory, override string, cfg RoutingConfig, req *Request) (*Response, error) {
	modelID := r.SelectModel(category, override, cfg)
	providerName := providerOf(modelID, r.clients)

	if cfg.KeepLocal[category] && providerName != "local" && providerName != "ollama" {
		return nil, sunerr.New(sunerr.CategoryModel, sunerr.CodeModelUnavailable,
			fmt.Sprintf("category %q is keep_local but resolved provider %q is not local", category, providerName)).
			WithRecoverable(false)
	}

	client, ok := r.clients[providerName]
	if !ok {
		return nil, sunerr.New(sunerr.CategoryModel, sunerr.CodeModelUnavailable,
			fmt.Sprintf("no client registered for provider %q", providerName))
	}

	req.Model = modelID
	return completeWithRetry(ctx, r.limiter, client, req)
}

// providerOf maps a model id to a registered provider name. Real routing
// would consult a model->provider table; this picks the sole client when
// only one is registered, otherwise matches by prefix convention
// "<provider>/<model>".
func providerOf(modelID string, clients map[string]Client) string {
	for i := 0; i < len(modelID); i++ {
		if modelID[i] == '/' {
			return modelID[:i]
		}
	}
	if len(clients) == 1 {
		for name := range clients {
			return name
		}
	}
	return ""
}

const maxRetries = 3

// completeWithRetry implements spec §5's rate-limit backoff: exponential
// backoff with jitter, up to 3 retries, after which the error propagates.
// limiter paces calls before they are attempted so well-behaved callers
// rarely hit a provider rate limit in the first place.
func completeWithRetry(ctx context.Context, limiter *rate.Limiter, client Client, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		se := sunerr.From(err)
		if se.Code != sunerr.CodeModelRateLimited || attempt == maxRetries {
			return nil, err
		}
		backoff := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return nil, lastErr
}
