// Package backlog implements the durable goal ledger: atomic claim/complete
// and an append-only completion history (spec §4.2, §6). State is kept in
// memory and mirrored to disk on every mutation using write-temp-rename, the
// same durability pattern the teacher's audit logger uses for its append-only
// log (theRebelliousNerd-codenerd internal/logging/audit.go), generalized
// here to cover the primary state file as well as the history log.
package backlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lbliii/sunwell/internal/goal"
)

// Backlog is the durable goal ledger described in spec §4.2. All exported
// methods are safe for concurrent use.
type Backlog struct {
	mu    sync.Mutex
	root  string
	goals map[string]*goal.Goal

	history []goal.CompletionEntry

	// ClaimTimeout bounds how long a claim may be held before ReclaimStale
	// considers it abandoned (spec §9 open question: "timeout-based
	// reclaim... implementers must choose"). Zero disables reclaim.
	ClaimTimeout time.Duration

	historyFile *os.File
}

type diskState struct {
	Goals map[string]*goal.Goal `json:"goals"`
}

// Open loads (or initializes) a Backlog rooted at dir, per the on-disk
// layout `<root>/.backlog/{state.json,completed.jsonl}` (spec §6).
func Open(dir string) (*Backlog, error) {
	backlogDir := filepath.Join(dir, ".backlog")
	if err := os.MkdirAll(backlogDir, 0o755); err != nil {
		return nil, fmt.Errorf("backlog: create dir: %w", err)
	}

	b := &Backlog{root: backlogDir, goals: make(map[string]*goal.Goal)}

	if data, err := os.ReadFile(filepath.Join(backlogDir, "state.json")); err == nil {
		var state diskState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("backlog: parse state.json: %w", err)
		}
		if state.Goals != nil {
			b.goals = state.Goals
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backlog: read state.json: %w", err)
	}

	if data, err := os.ReadFile(filepath.Join(backlogDir, "completed.jsonl")); err == nil {
		b.history = decodeHistory(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backlog: read completed.jsonl: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(backlogDir, "completed.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backlog: open completed.jsonl: %w", err)
	}
	b.historyFile = f

	return b, nil
}

// Close releases the open history file handle.
func (b *Backlog) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyFile != nil {
		return b.historyFile.Close()
	}
	return nil
}

func decodeHistory(data []byte) []goal.CompletionEntry {
	var entries []goal.CompletionEntry
	start := 0
	for i, b := range data {
		if b == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var e goal.CompletionEntry
			if err := json.Unmarshal(line, &e); err == nil {
				entries = append(entries, e)
			}
		}
	}
	return entries
}

// AddGoal inserts g if absent. Idempotent by g.ID.
func (b *Backlog) AddGoal(g *goal.Goal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.goals[g.ID]; exists {
		return nil
	}
	b.goals[g.ID] = g
	return b.persistStateLocked()
}

// ClaimGoal performs an atomic compare-and-set on claimed_by (spec §4.2,
// §8 "atomic claim"): of any two concurrent calls for the same goal id,
// exactly one returns true. worker nil maps to goal.SingleInstanceWorker.
func (b *Backlog) ClaimGoal(goalID string, worker *int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.goals[goalID]
	if !ok {
		return false, fmt.Errorf("backlog: unknown goal %q", goalID)
	}
	if g.IsClaimed() {
		return false, nil
	}

	w := goal.SingleInstanceWorker
	if worker != nil {
		w = *worker
	}
	g.ClaimedBy = &w
	g.ClaimedAt = time.Now()
	return true, b.persistStateLocked()
}

// UnclaimGoal clears the claim on goalID. Always safe to call, including
// when the goal is already unclaimed (spec §4.2 "always called on exit").
func (b *Backlog) UnclaimGoal(goalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.goals[goalID]
	if !ok {
		return nil
	}
	g.ClaimedBy = nil
	g.ClaimedAt = time.Time{}
	return b.persistStateLocked()
}

// CompleteGoal records a successful (possibly partial) outcome by
// appending a CompletionEntry to the history file (spec §4.2). It does not
// rewrite state.json; the goal stays in the state file as it was.
func (b *Backlog) CompleteGoal(goalID string, result goal.GoalResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.goals[goalID]; !ok {
		return fmt.Errorf("backlog: unknown goal %q", goalID)
	}
	entry := goal.CompletionEntry{GoalID: goalID, Timestamp: time.Now(), Result: result}
	b.history = append(b.history, entry)
	return b.appendHistoryLocked(entry)
}

// MarkFailed records a total-failure terminal outcome (spec §4.2).
func (b *Backlog) MarkFailed(goalID, reason string) error {
	return b.CompleteGoal(goalID, goal.GoalResult{
		Success:       false,
		FailureReason: reason,
	})
}

// GetPendingGoals returns goals with no completion entry yet, ordered by ID
// for determinism.
func (b *Backlog) GetPendingGoals() []*goal.Goal {
	b.mu.Lock()
	defer b.mu.Unlock()

	completed := make(map[string]bool, len(b.history))
	for _, e := range b.history {
		completed[e.GoalID] = true
	}

	var pending []*goal.Goal
	for id, g := range b.goals {
		if !completed[id] {
			pending = append(pending, g)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending
}

// GetCompletedArtifacts returns the set of artifact ids created across all
// completion history, in history order.
func (b *Backlog) GetCompletedArtifacts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]bool)
	var artifacts []string
	for _, e := range b.history {
		for _, a := range e.Result.ArtifactsCreated {
			if !seen[a] {
				seen[a] = true
				artifacts = append(artifacts, a)
			}
		}
	}
	return artifacts
}

// ReclaimStale unclaims any goal whose claim has exceeded ClaimTimeout,
// deciding the open question left unresolved by spec §9. Returns the ids
// reclaimed. No-op when ClaimTimeout is zero.
func (b *Backlog) ReclaimStale(now time.Time) ([]string, error) {
	if b.ClaimTimeout <= 0 {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var reclaimed []string
	for id, g := range b.goals {
		if g.IsClaimed() && now.Sub(g.ClaimedAt) > b.ClaimTimeout {
			g.ClaimedBy = nil
			g.ClaimedAt = time.Time{}
			reclaimed = append(reclaimed, id)
		}
	}
	if len(reclaimed) > 0 {
		sort.Strings(reclaimed)
		if err := b.persistStateLocked(); err != nil {
			return reclaimed, err
		}
	}
	return reclaimed, nil
}

// persistStateLocked writes state.json atomically (write-temp-rename, spec
// §4.2 "All writes MUST be atomic"). Caller must hold b.mu.
func (b *Backlog) persistStateLocked() error {
	state := diskState{Goals: b.goals}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("backlog: marshal state: %w", err)
	}

	final := filepath.Join(b.root, "state.json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("backlog: write temp state: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("backlog: rename state: %w", err)
	}
	return nil
}

// appendHistoryLocked appends entry as one JSON line and flushes (spec §4.2
// "history file flushed on append"). Caller must hold b.mu.
func (b *Backlog) appendHistoryLocked(entry goal.CompletionEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("backlog: marshal completion entry: %w", err)
	}
	if _, err := b.historyFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("backlog: append history: %w", err)
	}
	return b.historyFile.Sync()
}
