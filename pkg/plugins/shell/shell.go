// Package shell contributes a run_command tool that executes system
// shell commands. Every invocation carries requires_approval, and the
// plugin itself implements the approval hook: unless auto_approve is
// set in the instance config, every call is vetoed.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"axon/pkg/api"
)

// Config holds the safety settings for one shell tool instance.
type Config struct {
	// AutoApprove lets run_command execute without a human in the loop.
	// Off by default; the approval hook vetoes everything until this is
	// explicitly enabled.
	AutoApprove bool `json:"auto_approve"`
	// TimeoutMs bounds each command. Defaults to 30000.
	TimeoutMs int `json:"timeout_ms"`
	// WorkDir is the working directory commands run in. Empty inherits
	// the process working directory.
	WorkDir string `json:"work_dir"`
}

// Shell is a tooling plugin exposing system command execution.
type Shell struct {
	config Config
}

// New builds the tool set from the instance config.
func New(cfg Config) *Shell {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 30000
	}
	return &Shell{config: cfg}
}

// Shutdown implements the plugin lifecycle; nothing to release.
func (s *Shell) Shutdown(_ context.Context) error { return nil }

// Tools declares the tool set.
func (s *Shell) Tools() []api.ToolWithHandler {
	return []api.ToolWithHandler{
		{
			ToolSchema: api.ToolSchema{
				Name:        "run_command",
				Description: fmt.Sprintf("Execute a system shell command (current environment: %s) and return its output.", runtime.GOOS),
				Parameters: []api.ToolParameter{
					{Name: "command", Type: "string", Description: "The shell command line to execute", Required: true},
				},
				RequiresApproval: true,
			},
			Handler: s.runCommand,
		},
	}
}

// RequestApproval implements the approval hook. Without auto_approve the
// answer is always no; the veto reaches the model as a normal tool
// result rather than an error.
func (s *Shell) RequestApproval(_ context.Context, tool api.ToolSchema, input map[string]any, tc api.ToolContext) (bool, error) {
	if s.config.AutoApprove {
		slog.Warn("Auto-approving tool call", "tool", tool.Name, "input", input, "user", tc.UserID)
		return true, nil
	}
	slog.Info("Tool call denied, approval not configured", "tool", tool.Name, "user", tc.UserID)
	return false, nil
}

func (s *Shell) runCommand(ctx context.Context, input map[string]any, _ api.ToolContext) (any, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("missing string parameter 'command'")
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(s.config.TimeoutMs)*time.Millisecond)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(runCtx, "sh", "-c", command)
	}
	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := map[string]any{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %dms", s.config.TimeoutMs)
		}
		result["exit_error"] = err.Error()
	}
	return result, nil
}
