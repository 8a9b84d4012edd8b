package tools

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lbliii/sunwell/internal/sunerr"
)

// defaultMaxOutputBytes bounds total tool output (spec §4.7 "total
// output truncation at a configured byte budget").
const defaultMaxOutputBytes = 64 * 1024

// defaultTimeout bounds every external process (spec §4.7).
const defaultTimeout = 30 * time.Second

// Executor runs tool calls under a trust policy, enforcing path
// restrictions, timeouts, and output truncation (spec §4.7).
type Executor struct {
	Trust          TrustLevel
	AllowedPaths   []string
	Timeout        time.Duration
	MaxOutputBytes int
}

// New constructs an Executor with spec defaults.
func New(trust TrustLevel, allowedPaths []string) *Executor {
	return &Executor{
		Trust:          trust,
		AllowedPaths:   allowedPaths,
		Timeout:        defaultTimeout,
		MaxOutputBytes: defaultMaxOutputBytes,
	}
}

// Exec dispatches a single tool call on the calling goroutine (spec
// §4.7). Only shell observes ctx cancellation; read_file and write_file
// do not check ctx.
func (e *Executor) Exec(ctx context.Context, call Call) Result {
	start := time.Now()
	switch call.Name {
	case "read_file":
		return e.readFile(call.Args["path"], start)
	case "write_file":
		return e.writeFile(call.Args["path"], call.Args["content"], start)
	case "shell":
		return e.shell(ctx, call.Args["command"], start)
	default:
		return Result{Success: false, Error: "unknown tool: " + call.Name, DurationMs: measure(start)}
	}
}

// ExecAll runs every call concurrently, shell calls included, bounded
// by parallelism (spec
// §4.7 "CPU-bound work in parallel threads"). Results are returned in
// call order.
func (e *Executor) ExecAll(ctx context.Context, calls []Call, parallelism int) []Result {
	if parallelism <= 0 {
		parallelism = 4
	}
	results := make([]Result, len(calls))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call Call) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Exec(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (e *Executor) checkPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return sunerr.Wrap(sunerr.CategoryTool, sunerr.CodeSandboxViolation, "cannot resolve path", err).
			WithContext("path", path)
	}
	if len(e.AllowedPaths) == 0 {
		return sunerr.New(sunerr.CategoryTool, sunerr.CodeSandboxViolation, "no allowed paths configured").
			WithContext("path", path)
	}
	for _, allowed := range e.AllowedPaths {
		allowedAbs, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		if abs == allowedAbs || strings.HasPrefix(abs, allowedAbs+string(filepath.Separator)) {
			return nil
		}
	}
	return sunerr.New(sunerr.CategoryTool, sunerr.CodeSandboxViolation, "path outside allowed_paths").
		WithContext("path", path).WithRecoverable(false)
}

func (e *Executor) truncate(output string) string {
	if len(output) <= e.MaxOutputBytes {
		return output
	}
	return output[:e.MaxOutputBytes]
}

func (e *Executor) readFile(path string, start time.Time) Result {
	if err := e.checkPath(path); err != nil {
		return Result{Success: false, Error: err.Error(), DurationMs: measure(start)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Success: false, Error: err.Error(), DurationMs: measure(start)}
	}
	return Result{Success: true, Output: e.truncate(string(data)), DurationMs: measure(start)}
}

func (e *Executor) writeFile(path, content string, start time.Time) Result {
	if e.Trust == TrustReadOnly {
		return Result{Success: false, Error: "write_file requires WORKSPACE or SHELL trust", DurationMs: measure(start)}
	}
	if err := e.checkPath(path); err != nil {
		return Result{Success: false, Error: err.Error(), DurationMs: measure(start)}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Success: false, Error: err.Error(), DurationMs: measure(start)}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Result{Success: false, Error: err.Error(), DurationMs: measure(start)}
	}
	return Result{Success: true, Output: "wrote " + path, DurationMs: measure(start)}
}

func (e *Executor) shell(ctx context.Context, command string, start time.Time) Result {
	if e.Trust != TrustShell {
		return Result{Success: false, Error: "shell tool requires SHELL trust", DurationMs: measure(start)}
	}
	if command == "" {
		return Result{Success: false, Error: "empty command", DurationMs: measure(start)}
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := e.truncate(out.String())
	if err != nil {
		return Result{Success: false, Output: output, Error: err.Error(), DurationMs: measure(start)}
	}
	return Result{Success: true, Output: output, DurationMs: measure(start)}
}
