// Package selector implements work-item selection: querying GitHub for
// eligible issues, session-level de-duplication, shape validation, and
// branch-name derivation.
package selector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/robertgumeny/issuerunner/internal/log"
	"github.com/robertgumeny/issuerunner/internal/types"
)

// BranchPrefix marks every branch created by the runner. An open pull
// request with this prefix acts as a repo-wide hold on further work.
const BranchPrefix = "auto/"

// maxTitleLength is the validation cap on issue titles.
const maxTitleLength = 500

// expectedURLPrefix is the host prefix a canonical issue URL must carry.
const expectedURLPrefix = "https://github.com/"

// Client is the subset of the GitHub client the selector needs.
type Client interface {
	SearchEligibleIssues(ctx context.Context, labels ...string) ([]types.Issue, error)
	Issue(ctx context.Context, number int) (types.Issue, error)
	OpenPullRequests(ctx context.Context, headPrefix string) ([]types.PullRequest, error)
}

// Selector finds the next eligible issue to process. The seen set persists
// for the process lifetime: an issue selected once is never selected again
// by this process, regardless of outcome, which prevents infinite retry
// loops on a single poisonous issue.
type Selector struct {
	client     Client
	issueLabel string
	agentLabel string
	seen       map[int]bool
}

// New creates a Selector querying for issues carrying both labels.
func New(client Client, issueLabel, agentLabel string) *Selector {
	return &Selector{
		client:     client,
		issueLabel: issueLabel,
		agentLabel: agentLabel,
		seen:       make(map[int]bool),
	}
}

// FindEligible returns the next issue to work on, or nil when there is
// nothing actionable this poll. Transport errors propagate; failure-to-find
// (open auto/ PRs, empty search, all seen, validation failure) does not.
func (s *Selector) FindEligible(ctx context.Context) (*types.Issue, error) {
	openPRs, err := s.client.OpenPullRequests(ctx, BranchPrefix)
	if err != nil {
		return nil, fmt.Errorf("list open pull requests: %w", err)
	}
	if len(openPRs) > 0 {
		log.Info(fmt.Sprintf("skipping selection — %d open %s pull request(s) outstanding", len(openPRs), BranchPrefix))
		for _, pr := range openPRs {
			log.Info(fmt.Sprintf("   PR #%d: %s (%s)", pr.Number, pr.Title, pr.Head.Ref))
		}
		return nil, nil
	}

	issues, err := s.client.SearchEligibleIssues(ctx, s.issueLabel, s.agentLabel)
	if err != nil {
		return nil, fmt.Errorf("search eligible issues: %w", err)
	}
	if len(issues) == 0 {
		log.Info("no eligible issues found")
		return nil, nil
	}

	var candidate *types.Issue
	for i := range issues {
		if s.seen[issues[i].Number] {
			continue
		}
		candidate = &issues[i]
		break
	}
	if candidate == nil {
		log.Info("no available issues — all matches already processed this session")
		return nil, nil
	}

	// Marked before validation: a failed-validation issue is not retried
	// within this process lifetime.
	s.seen[candidate.Number] = true

	detailed, err := s.client.Issue(ctx, candidate.Number)
	if err != nil {
		return nil, fmt.Errorf("fetch issue #%d: %w", candidate.Number, err)
	}
	if err := Validate(detailed); err != nil {
		log.Warning(fmt.Sprintf("issue #%d failed validation, skipping: %v", candidate.Number, err))
		return nil, nil
	}

	log.Success(fmt.Sprintf("selected issue #%d: %s", detailed.Number, detailed.Title))
	return &detailed, nil
}

// Validate checks the shape of an issue detail record.
func Validate(issue types.Issue) error {
	if issue.Number <= 0 {
		return fmt.Errorf("missing or invalid issue number")
	}
	if issue.Title == "" {
		return fmt.Errorf("empty title")
	}
	if utf8.RuneCountInString(issue.Title) > maxTitleLength {
		return fmt.Errorf("title longer than %d characters", maxTitleLength)
	}
	if !strings.HasPrefix(issue.HTMLURL, expectedURLPrefix) {
		return fmt.Errorf("html_url %q does not start with %q", issue.HTMLURL, expectedURLPrefix)
	}
	if issue.User.Login == "" {
		return fmt.Errorf("missing author login")
	}
	for i, l := range issue.Labels {
		if l.Name == "" {
			return fmt.Errorf("label %d has no name", i)
		}
	}
	return nil
}

var (
	slugDropRe     = regexp.MustCompile(`[^a-z0-9 -]`)
	slugSpaceRe    = regexp.MustCompile(`\s+`)
	trailingDashRe = regexp.MustCompile(`-+$`)

	branchDropRe   = regexp.MustCompile(`[^A-Za-z0-9_./-]`)
	repeatedDashRe = regexp.MustCompile(`-+`)
)

// BranchName derives the workspace branch for an issue:
// auto/<number>-<slug>, where the slug is the lower-cased title stripped to
// [a-z0-9 -], whitespace collapsed to hyphens, truncated to 40 characters
// and trailing hyphens removed. The result is passed through SanitizeBranch
// so a hostile title cannot smuggle shell or git metacharacters into a
// branch name.
func BranchName(issue types.Issue) string {
	slug := strings.ToLower(issue.Title)
	slug = slugDropRe.ReplaceAllString(slug, "")
	slug = slugSpaceRe.ReplaceAllString(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	slug = trailingDashRe.ReplaceAllString(slug, "")

	return SanitizeBranch(fmt.Sprintf("%s%d-%s", BranchPrefix, issue.Number, slug))
}

// SanitizeBranch replaces characters outside [A-Za-z0-9_./-] with hyphens,
// collapses hyphen runs, trims leading and trailing hyphens, and caps the
// result at 100 characters.
func SanitizeBranch(name string) string {
	name = branchDropRe.ReplaceAllString(name, "-")
	name = repeatedDashRe.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

// IssueContext renders the human-readable task brief for an issue, handed
// to the agent as the core of its prompt.
func IssueContext(issue types.Issue) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Issue #%d: %s\n\n", issue.Number, issue.Title)
	fmt.Fprintf(&b, "**Created by:** %s\n", issue.User.Login)
	fmt.Fprintf(&b, "**Created at:** %s\n", issue.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	if names := issue.LabelNames(); len(names) > 0 {
		fmt.Fprintf(&b, "**Labels:** %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\n")

	if issue.Body != "" {
		b.WriteString("## Description\n\n")
		b.WriteString(issue.Body)
		b.WriteString("\n\n")
	}

	b.WriteString("## Acceptance Criteria\n\n")
	b.WriteString("Please implement the feature/fix described above. ")
	b.WriteString("Follow the existing code patterns and conventions in the repository. ")
	b.WriteString("Write clear, atomic commits with conventional commit messages. ")
	b.WriteString("Ensure tests pass if a test command is configured.\n\n")
	fmt.Fprintf(&b, "**Issue URL:** %s\n", issue.HTMLURL)

	return b.String()
}
