// Package mirror implements self-introspection: reading the kernel's own
// source modules, current Lens, recent tool calls and memory contents,
// proposing improvements, and applying them behind safety gates (spec
// §4.9).
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Stage is a step in the mandatory analyse → propose → confirm → apply →
// test → validate pipeline (spec §4.9). Direct modification — skipping a
// stage — is forbidden.
type Stage int

const (
	StageAnalysed Stage = iota
	StageProposed
	StageConfirmed
	StageApplied
	StageTested
	StageValidated
	StageRolledBack
)

// Proposal is one candidate self-modification moving through the Mirror
// pipeline (spec §4.9).
type Proposal struct {
	ID          string
	TargetPath  string
	Description string
	Diff        string
	Stage       Stage
}

// Tester runs the self-test suite after an apply, before validate (spec
// §4.9 "apply → test → validate").
type Tester interface {
	RunSelfTest(ctx context.Context) (passed bool, details string, err error)
}

// defaultProposalsPerHour and defaultApplicationsPerDay are the rate
// limits guarding Mirror applications (spec §4.9 "rate limits
// (proposals/hour, applications/day)").
const (
	defaultProposalsPerHour   = 6
	defaultApplicationsPerDay = 3
)

// Mirror guards every self-modification behind immutable modules, rate
// limits, and a mandatory rollback point (spec §4.9).
type Mirror struct {
	mu sync.Mutex

	// ImmutableModules is the hard-coded blocklist of paths that can never
	// be a TargetPath (spec §4.9 "hard-coded immutable modules: core
	// runtime and safety policy itself").
	ImmutableModules map[string]bool

	// Blocklist additionally forbids modifying trust levels, rate limits,
	// and the blocklist itself (spec §4.9).
	Blocklist map[string]bool

	Tester Tester

	proposalLimiter    *rate.Limiter
	applicationLimiter *rate.Limiter

	backupDir string
}

// New constructs a Mirror. backupDir holds pre-apply snapshots for
// rollback (spec §4.9 "mandatory rollback point before apply").
func New(backupDir string, tester Tester) *Mirror {
	return &Mirror{
		ImmutableModules: map[string]bool{
			"internal/execution/manager.go": true,
			"internal/mirror/mirror.go":     true,
		},
		Blocklist: map[string]bool{
			"internal/tools/executor.go": true, // trust levels live here
		},
		Tester:             tester,
		proposalLimiter:    rate.NewLimiter(rate.Every(time.Hour/defaultProposalsPerHour), defaultProposalsPerHour),
		applicationLimiter: rate.NewLimiter(rate.Every(24*time.Hour/defaultApplicationsPerDay), defaultApplicationsPerDay),
		backupDir:          backupDir,
	}
}

// Propose registers a new Proposal against targetPath, subject to the
// proposals/hour rate limit and the immutable-module/blocklist checks
// (spec §4.9).
func (m *Mirror) Propose(ctx context.Context, id, targetPath, description, diff string) (*Proposal, error) {
	if m.ImmutableModules[targetPath] {
		return nil, fmt.Errorf("mirror: %s is an immutable module", targetPath)
	}
	if m.Blocklist[targetPath] {
		return nil, fmt.Errorf("mirror: %s is on the modification blocklist", targetPath)
	}
	if !m.proposalLimiter.Allow() {
		return nil, fmt.Errorf("mirror: proposals/hour rate limit exceeded")
	}
	return &Proposal{ID: id, TargetPath: targetPath, Description: description, Diff: diff, Stage: StageProposed}, nil
}

// Confirm advances a Proposal from proposed to confirmed; this is the
// point at which a human or policy explicitly accepts the proposal
// (spec §4.9 "propose → confirm").
func (p *Proposal) Confirm() error {
	if p.Stage != StageProposed {
		return fmt.Errorf("mirror: proposal %s is not in proposed stage", p.ID)
	}
	p.Stage = StageConfirmed
	return nil
}

// Apply writes the proposal's new content to TargetPath after snapshotting
// the current content for rollback, subject to the applications/day rate
// limit (spec §4.9). newContent is the full file content after the diff
// is applied; Mirror does not interpret diff syntax itself.
func (m *Mirror) Apply(ctx context.Context, p *Proposal, newContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.Stage != StageConfirmed {
		return fmt.Errorf("mirror: proposal %s is not confirmed", p.ID)
	}
	if !m.applicationLimiter.Allow() {
		return fmt.Errorf("mirror: applications/day rate limit exceeded")
	}

	backupPath, err := m.snapshot(p.TargetPath)
	if err != nil {
		return fmt.Errorf("mirror: snapshot before apply: %w", err)
	}

	if err := os.WriteFile(p.TargetPath, []byte(newContent), 0o644); err != nil {
		return fmt.Errorf("mirror: write %s: %w", p.TargetPath, err)
	}
	p.Stage = StageApplied

	if m.Tester != nil {
		passed, _, err := m.Tester.RunSelfTest(ctx)
		if err != nil || !passed {
			if rbErr := m.rollback(p.TargetPath, backupPath); rbErr != nil {
				return fmt.Errorf("mirror: self-test failed and rollback failed: %w", rbErr)
			}
			p.Stage = StageRolledBack
			if err != nil {
				return fmt.Errorf("mirror: self-test error, rolled back: %w", err)
			}
			return fmt.Errorf("mirror: self-test failed, rolled back")
		}
		p.Stage = StageTested
	}

	p.Stage = StageValidated
	return nil
}

func (m *Mirror) snapshot(targetPath string) (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", err
	}
	data, err := os.ReadFile(targetPath)
	if err != nil {
		return "", err
	}
	backupPath := filepath.Join(m.backupDir, filepath.Base(targetPath)+".bak")
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (m *Mirror) rollback(targetPath, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	return os.WriteFile(targetPath, data, 0o644)
}
