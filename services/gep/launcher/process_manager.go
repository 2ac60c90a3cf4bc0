// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Command is one process invocation.
type Command struct {
	// Name is the executable path.
	Name string

	// Args are the arguments after Name.
	Args []string

	// Env is the complete environment. Nil inherits the parent's.
	Env []string

	// MaxOutput caps the combined stdout/stderr captured. Zero disables
	// capture.
	MaxOutput int
}

// ProcessResult describes a process that ran to completion or was killed.
type ProcessResult struct {
	// ExitCode is the exit status, or -1 when the process was killed by a
	// signal.
	ExitCode int

	// Output is the captured combined stdout/stderr.
	Output string

	// Truncated is set when output exceeded MaxOutput.
	Truncated bool

	// Duration is the wall time from start to exit.
	Duration time.Duration
}

// ProcessManager runs external processes.
//
// This interface keeps the launcher testable without spawning real
// processes.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ProcessManager interface {
	// Run executes cmd synchronously.
	//
	// # Description
	//
	// Starts the process and blocks until it exits or ctx ends. When ctx
	// ends first the process is killed.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation/timeout
	//   - cmd: The command to run
	//
	// # Outputs
	//
	//   - *ProcessResult: Exit status and captured output; non-nil whenever
	//     the process started, including nonzero exits
	//   - error: ErrLaunchFailed if the process did not start, or ctx.Err()
	//     if ctx ended before the process exited
	//
	// # Examples
	//
	//   res, err := pm.Run(ctx, Command{Name: "/opt/eigen/solve_gep", Args: []string{"-a", "3.9"}})
	//   if err != nil {
	//       return fmt.Errorf("run worker: %w", err)
	//   }
	//   if res.ExitCode != 0 { ... }
	Run(ctx context.Context, cmd Command) (*ProcessResult, error)
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultProcessManager implements ProcessManager using os/exec.
type DefaultProcessManager struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed. Default: 5s
	WaitDelay time.Duration
}

// NewDefaultProcessManager creates a DefaultProcessManager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{WaitDelay: 5 * time.Second}
}

// Run executes a command synchronously and captures its output.
func (pm *DefaultProcessManager) Run(ctx context.Context, c Command) (*ProcessResult, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = c.Env
	cmd.WaitDelay = pm.WaitDelay

	var out bytes.Buffer
	limited := &limitedWriter{w: &out, limit: c.MaxOutput}
	cmd.Stdout = limited
	cmd.Stderr = limited

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, c.Name, err)
	}
	err := cmd.Wait()

	result := &ProcessResult{
		ExitCode:  0,
		Output:    out.String(),
		Truncated: limited.truncated,
		Duration:  time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return result, fmt.Errorf("wait for %s: %w", c.Name, err)
	}
	return result, nil
}

// limitedWriter wraps a writer with a size limit. Writes past the limit
// are discarded, never failed, so the child never sees EPIPE.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.limit {
		if n > 0 {
			lw.truncated = true
		}
		return n, nil
	}
	if remaining := lw.limit - lw.written; len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}
	written, err := lw.w.Write(p)
	lw.written += written
	if err != nil {
		return written, err
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockProcessManager is a test double for ProcessManager.
//
// Set RunFunc before use; calling Run with a nil RunFunc panics.
//
// # Examples
//
//	mock := &MockProcessManager{
//	    RunFunc: func(ctx context.Context, cmd Command) (*ProcessResult, error) {
//	        return &ProcessResult{ExitCode: 0}, nil
//	    },
//	}
type MockProcessManager struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, cmd Command) (*ProcessResult, error)

	// Calls records all invocations for verification
	Calls []Command

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// Run records the call and delegates to RunFunc. RunFunc runs without the
// lock held so it may block.
func (m *MockProcessManager) Run(ctx context.Context, cmd Command) (*ProcessResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		panic("MockProcessManager.RunFunc not set")
	}
	return fn(ctx, cmd)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockProcessManager) GetCalls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Command, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Reset clears all recorded calls.
func (m *MockProcessManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// Compile-time interface compliance check.
var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
