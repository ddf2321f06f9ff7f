// Package git provides the Git operations the runner performs against its
// workspace checkout.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Workspace wraps git operations rooted at a single working directory.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a Workspace for the checkout at dir.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{Dir: dir}
}

// run executes git with args in the workspace and returns trimmed stdout.
func (w *Workspace) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = w.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// SyncDefault brings the workspace up to date with the upstream default
// branch: fetch, checkout, pull.
func (w *Workspace) SyncDefault(ctx context.Context, branch string) error {
	if _, err := w.run(ctx, "fetch", "origin"); err != nil {
		return err
	}
	if _, err := w.run(ctx, "checkout", branch); err != nil {
		return err
	}
	if _, err := w.run(ctx, "pull", "origin", branch); err != nil {
		return err
	}
	return nil
}

// CreateOrCheckout creates and checks out branch, falling back to a plain
// checkout when the branch already exists from an earlier attempt.
func (w *Workspace) CreateOrCheckout(ctx context.Context, branch string) error {
	_, err := w.run(ctx, "checkout", "-b", branch)
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "already exists") {
		_, err = w.run(ctx, "checkout", branch)
	}
	return err
}

// HasChanges reports whether the workspace has uncommitted changes,
// staged or not.
func (w *Workspace) HasChanges(ctx context.Context) (bool, error) {
	out, err := w.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// StageAll stages every change in the workspace.
func (w *Workspace) StageAll(ctx context.Context) error {
	_, err := w.run(ctx, "add", "-A")
	return err
}

// Commit creates a commit with message from the staged changes.
func (w *Workspace) Commit(ctx context.Context, message string) error {
	_, err := w.run(ctx, "commit", "-m", message)
	return err
}

// Push pushes branch to origin, setting the upstream on first push.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	_, err := w.run(ctx, "push", "-u", "origin", branch)
	return err
}

// CurrentBranch returns the name of the checked-out branch.
func (w *Workspace) CurrentBranch(ctx context.Context) (string, error) {
	return w.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}
