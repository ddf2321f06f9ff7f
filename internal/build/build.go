// Package build runs the configured test and build commands that gate a
// cycle's changes before they are committed. Validation is advisory: it
// decides whether the cycle succeeds, it is not a build system.
package build

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Checks holds the validation commands for a workspace. Either command may
// be empty, which means "nothing to validate" and counts as a pass.
type Checks struct {
	Dir          string
	TestCommand  string
	BuildCommand string
}

// NewChecks creates Checks running in dir.
func NewChecks(dir, testCommand, buildCommand string) *Checks {
	return &Checks{Dir: dir, TestCommand: testCommand, BuildCommand: buildCommand}
}

// RunTests executes the configured test command. A missing command passes.
func (c *Checks) RunTests(ctx context.Context) error {
	if c.TestCommand == "" {
		return nil
	}
	if err := c.runShell(ctx, c.TestCommand); err != nil {
		return fmt.Errorf("tests failed: %w", err)
	}
	return nil
}

// RunBuild executes the configured build command. A missing command passes.
func (c *Checks) RunBuild(ctx context.Context) error {
	if c.BuildCommand == "" {
		return nil
	}
	if err := c.runShell(ctx, c.BuildCommand); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}

// runShell executes command through the shell so configured commands can
// use pipes and arguments freely (e.g. "npm test -- --ci").
func (c *Checks) runShell(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = c.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return wrapOutput(err, out)
	}
	return nil
}

// wrapOutput returns an error that includes the last 50 lines of command
// output, enough to diagnose a failure without flooding the log.
func wrapOutput(err error, output []byte) error {
	lines := strings.Split(string(output), "\n")
	if len(lines) > 50 {
		lines = lines[len(lines)-50:]
	}
	return fmt.Errorf("%w\n%s", err, strings.Join(lines, "\n"))
}
