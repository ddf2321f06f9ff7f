// Package agent bridges the runner and the code-generation agent process:
// repository context gathering, prompt file creation, and agent invocation
// with timeout and retry.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/robertgumeny/issuerunner/internal/config"
	"github.com/robertgumeny/issuerunner/internal/log"
	"github.com/robertgumeny/issuerunner/internal/templates"
)

// PromptFileName is the prompt file written into the workspace for each
// invocation and removed afterwards.
const PromptFileName = "issue_prompt.md"

// retryDelay separates consecutive agent attempts.
const retryDelay = 10 * time.Second

var promptTemplate = template.Must(template.New("prompt").Parse(templates.Prompt))

// promptData feeds the embedded prompt template.
type promptData struct {
	RepoContext  string
	IssueContext string
	TestCommand  string
	BuildCommand string
}

// Invoker runs the code-generation agent against the workspace.
type Invoker struct {
	cfg *config.RunnerConfig

	// Sleep is swappable so tests can skip the retry delay.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker creates an Invoker for cfg.
func NewInvoker(cfg *config.RunnerConfig) *Invoker {
	return &Invoker{cfg: cfg, Sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WritePrompt renders the prompt file into the workspace from the embedded
// template and returns its path.
func (inv *Invoker) WritePrompt(issueContext, repoContext string) (string, error) {
	path := filepath.Join(inv.cfg.Workspace, PromptFileName)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create prompt file %s: %w", path, err)
	}
	defer f.Close()

	data := promptData{
		RepoContext:  repoContext,
		IssueContext: issueContext,
		TestCommand:  inv.cfg.TestCommand,
		BuildCommand: inv.cfg.BuildCommand,
	}
	if err := promptTemplate.Execute(f, data); err != nil {
		return "", fmt.Errorf("render prompt file: %w", err)
	}
	return path, nil
}

// Cleanup removes the prompt file. Missing files are fine; the prompt is
// a scratch artifact that must not end up in a commit.
func (inv *Invoker) Cleanup() {
	path := filepath.Join(inv.cfg.Workspace, PromptFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warning(fmt.Sprintf("could not clean up %s: %v", path, err))
	}
}

// Invoke runs the agent command with the prompt file path appended as its
// final argument, bounded by the configured timeout, retrying up to
// cfg.AgentRetries times with a fixed delay between attempts. Any timeout
// or non-zero exit on the final attempt is returned as an error.
func (inv *Invoker) Invoke(ctx context.Context, promptPath string) error {
	attempts := inv.cfg.AgentRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		log.Info(fmt.Sprintf("invoking agent (attempt %d/%d)", attempt, attempts))

		err := inv.runOnce(ctx, promptPath)
		if err == nil {
			log.Success("agent completed")
			return nil
		}
		lastErr = err
		log.Error(fmt.Sprintf("agent attempt %d failed: %v", attempt, err))

		if attempt < attempts {
			log.Info(fmt.Sprintf("retrying in %s", retryDelay))
			if err := inv.Sleep(ctx, retryDelay); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("agent failed after %d attempt(s): %w", attempts, lastErr)
}

// runOnce executes a single agent attempt under the configured timeout.
func (inv *Invoker) runOnce(ctx context.Context, promptPath string) error {
	parts, err := splitShellArgs(strings.TrimSpace(inv.cfg.AgentCommand))
	if err != nil {
		return fmt.Errorf("parse agent command: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("agent command must not be empty")
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.cfg.AgentTimeout)
	defer cancel()

	args := append(parts[1:], promptPath)
	cmd := exec.CommandContext(runCtx, parts[0], args...)
	cmd.Dir = inv.cfg.Workspace
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("agent timed out after %s", inv.cfg.AgentTimeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return fmt.Errorf("agent exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("agent command failed: %w", runErr)
	}
	return nil
}

// splitShellArgs tokenizes s like a POSIX shell, respecting single and
// double quotes and backslash escapes outside quotes. No variable expansion
// or globbing is performed. This allows agent commands in runner.yaml such
// as:
//
//	claude --permission-mode acceptEdits --print
//
// to carry quoted arguments instead of being fragmented by whitespace
// splitting.
func splitShellArgs(s string) ([]string, error) {
	var args []string
	var cur strings.Builder
	inSingle := false
	inDouble := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case inSingle:
			if ch == '\'' {
				inSingle = false
			} else {
				cur.WriteByte(ch)
			}
		case inDouble:
			if ch == '\\' && i+1 < len(s) {
				next := s[i+1]
				// Characters escapable inside double quotes per POSIX
				if next == '"' || next == '\\' || next == '$' || next == '`' || next == '\n' {
					cur.WriteByte(next)
					i++
				} else {
					cur.WriteByte(ch)
				}
			} else if ch == '"' {
				inDouble = false
			} else {
				cur.WriteByte(ch)
			}
		case ch == '\\':
			if i+1 < len(s) {
				cur.WriteByte(s[i+1])
				i++
			}
		case ch == '\'':
			inSingle = true
		case ch == '"':
			inDouble = true
		case ch == ' ' || ch == '\t':
			if cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}

	if inSingle {
		return nil, fmt.Errorf("unterminated single quote in agent command")
	}
	if inDouble {
		return nil, fmt.Errorf("unterminated double quote in agent command")
	}
	if cur.Len() > 0 {
		args = append(args, cur.String())
	}

	return args, nil
}
