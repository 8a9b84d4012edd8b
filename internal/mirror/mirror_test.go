package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedTester struct {
	passed bool
}

func (f *fixedTester) RunSelfTest(ctx context.Context) (bool, string, error) {
	return f.passed, "", nil
}

func TestProposeRejectsImmutableModule(t *testing.T) {
	m := New(t.TempDir(), nil)
	_, err := m.Propose(context.Background(), "p1", "internal/execution/manager.go", "d", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "immutable")
}

func TestProposeRejectsBlocklistedModule(t *testing.T) {
	m := New(t.TempDir(), nil)
	_, err := m.Propose(context.Background(), "p1", "internal/tools/executor.go", "d", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "blocklist")
}

func TestApplyRequiresConfirmedStage(t *testing.T) {
	m := New(t.TempDir(), nil)
	p, err := m.Propose(context.Background(), "p1", "internal/foo.go", "d", "")
	require.NoError(t, err)

	err = m.Apply(context.Background(), p, "package foo")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not confirmed")
}

func TestApplyWritesFileAndValidatesOnSelfTestPass(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "foo.go")
	require.NoError(t, os.WriteFile(target, []byte("package foo\n\nvar old = true\n"), 0o644))

	m := New(filepath.Join(dir, "backups"), &fixedTester{passed: true})
	p, err := m.Propose(context.Background(), "p1", target, "tighten foo", "")
	require.NoError(t, err)
	require.NoError(t, p.Confirm())

	err = m.Apply(context.Background(), p, "package foo\n\nvar newer = true\n")
	require.NoError(t, err)
	require.Equal(t, StageValidated, p.Stage)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Contains(t, string(data), "newer")
}

func TestApplyRollsBackOnSelfTestFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "foo.go")
	original := "package foo\n\nvar old = true\n"
	require.NoError(t, os.WriteFile(target, []byte(original), 0o644))

	m := New(filepath.Join(dir, "backups"), &fixedTester{passed: false})
	p, err := m.Propose(context.Background(), "p1", target, "break foo", "")
	require.NoError(t, err)
	require.NoError(t, p.Confirm())

	err = m.Apply(context.Background(), p, "package foo\n\nvar broken = true\n")
	require.Error(t, err)
	require.Equal(t, StageRolledBack, p.Stage)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, original, string(data), "rollback should restore the pre-apply content")
}

func TestApplyRateLimitsApplications(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "foo.go")
	require.NoError(t, os.WriteFile(target, []byte("package foo\n"), 0o644))

	m := New(filepath.Join(dir, "backups"), &fixedTester{passed: true})

	for i := 0; i < defaultApplicationsPerDay; i++ {
		p, err := m.Propose(context.Background(), "p", target, "d", "")
		require.NoError(t, err)
		require.NoError(t, p.Confirm())
		require.NoError(t, m.Apply(context.Background(), p, "package foo\n"))
	}

	p, err := m.Propose(context.Background(), "p", target, "d", "")
	require.NoError(t, err)
	require.NoError(t, p.Confirm())
	err = m.Apply(context.Background(), p, "package foo\n")
	require.Error(t, err)
	require.Contains(t, err.Error(), "applications/day")
}
