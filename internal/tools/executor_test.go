package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadFileRejectsPathOutsideAllowedPaths(t *testing.T) {
	dir := t.TempDir()
	e := New(TrustReadOnly, []string{dir})

	result := e.Exec(context.Background(), Call{Name: "read_file", Args: map[string]string{"path": "/etc/passwd"}})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "outside allowed_paths")
}

func TestReadFileSucceedsWithinAllowedPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	e := New(TrustReadOnly, []string{dir})
	result := e.Exec(context.Background(), Call{Name: "read_file", Args: map[string]string{"path": file}})

	require.True(t, result.Success)
	require.Equal(t, "hello", result.Output)
}

func TestWriteFileRejectedUnderReadOnlyTrust(t *testing.T) {
	dir := t.TempDir()
	e := New(TrustReadOnly, []string{dir})

	result := e.Exec(context.Background(), Call{Name: "write_file", Args: map[string]string{
		"path": filepath.Join(dir, "out.txt"), "content": "x",
	}})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "WORKSPACE or SHELL")
}

func TestWriteFileSucceedsUnderWorkspaceTrust(t *testing.T) {
	dir := t.TempDir()
	e := New(TrustWorkspace, []string{dir})
	target := filepath.Join(dir, "out.txt")

	result := e.Exec(context.Background(), Call{Name: "write_file", Args: map[string]string{
		"path": target, "content": "data",
	}})

	require.True(t, result.Success)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "data", string(data))
}

func TestShellRejectedBelowShellTrust(t *testing.T) {
	e := New(TrustWorkspace, []string{t.TempDir()})
	result := e.Exec(context.Background(), Call{Name: "shell", Args: map[string]string{"command": "echo hi"}})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "SHELL trust")
}

func TestShellRunsUnderShellTrust(t *testing.T) {
	e := New(TrustShell, []string{t.TempDir()})
	result := e.Exec(context.Background(), Call{Name: "shell", Args: map[string]string{"command": "echo hi"}})

	require.True(t, result.Success)
	require.Contains(t, result.Output, "hi")
}

func TestOutputIsTruncatedToConfiguredBudget(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(file, []byte(make([]byte, 1000)), 0o644))

	e := New(TrustReadOnly, []string{dir})
	e.MaxOutputBytes = 10
	result := e.Exec(context.Background(), Call{Name: "read_file", Args: map[string]string{"path": file}})

	require.True(t, result.Success)
	require.Len(t, result.Output, 10)
}

func TestExecAllRunsConcurrentlyAndPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	files := make([]string, 5)
	calls := make([]Call, 5)
	for i := range files {
		files[i] = filepath.Join(dir, string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(files[i], []byte(string(rune('a'+i))), 0o644))
		calls[i] = Call{Name: "read_file", Args: map[string]string{"path": files[i]}}
	}

	e := New(TrustReadOnly, []string{dir})
	results := e.ExecAll(context.Background(), calls, 3)

	require.Len(t, results, 5)
	for i, r := range results {
		require.True(t, r.Success)
		require.Equal(t, string(rune('a'+i)), r.Output)
	}
}

func TestUnknownToolReturnsFailure(t *testing.T) {
	e := New(TrustReadOnly, nil)
	result := e.Exec(context.Background(), Call{Name: "nonexistent"})

	require.False(t, result.Success)
	require.Contains(t, result.Error, "unknown tool")
}
