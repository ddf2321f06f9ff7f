// Package pr renders and submits the pull request for a completed cycle.
package pr

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/robertgumeny/issuerunner/internal/templates"
	"github.com/robertgumeny/issuerunner/internal/types"
)

var bodyTemplate = template.Must(template.New("pr_body").Parse(templates.PRBody))

// Client is the subset of the GitHub client needed to open a pull request.
type Client interface {
	CreatePullRequest(ctx context.Context, title, body, head, base string) (*types.PullRequest, error)
}

// Submitter opens pull requests for finished issue branches.
type Submitter struct {
	client Client
	base   string
}

// NewSubmitter creates a Submitter that targets base as the merge branch.
func NewSubmitter(client Client, base string) *Submitter {
	return &Submitter{client: client, base: base}
}

// Title builds the pull request title for an issue.
func Title(issue types.Issue) string {
	return fmt.Sprintf("Fix #%d: %s", issue.Number, issue.Title)
}

// Body renders the pull request body from the embedded template.
func Body(issue types.Issue) (string, error) {
	var b strings.Builder
	if err := bodyTemplate.Execute(&b, issue); err != nil {
		return "", fmt.Errorf("render pull request body: %w", err)
	}
	return b.String(), nil
}

// Submit opens a pull request merging branch into the base branch and
// returns the created pull request.
func (s *Submitter) Submit(ctx context.Context, issue types.Issue, branch string) (*types.PullRequest, error) {
	body, err := Body(issue)
	if err != nil {
		return nil, err
	}

	created, err := s.client.CreatePullRequest(ctx, Title(issue), body, branch, s.base)
	if err != nil {
		return nil, fmt.Errorf("create pull request for #%d: %w", issue.Number, err)
	}
	return created, nil
}
