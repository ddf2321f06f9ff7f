package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/robertgumeny/issuerunner/internal/types"
)

// searchPageSize caps one search query; the runner only ever acts on the
// oldest result, so a single page is enough.
const searchPageSize = 100

// repoPath returns the /repos/{owner}/{repo} prefix for this client.
func (c *Client) repoPath() string {
	return fmt.Sprintf("/repos/%s/%s", c.Owner, c.Repo)
}

// SearchEligibleIssues returns open, unassigned issues carrying every label
// in labels, oldest-created first, capped at one page.
func (c *Client) SearchEligibleIssues(ctx context.Context, labels ...string) ([]types.Issue, error) {
	parts := []string{
		fmt.Sprintf("repo:%s/%s", c.Owner, c.Repo),
		"is:issue",
		"is:open",
		"no:assignee",
	}
	for _, label := range labels {
		parts = append(parts, "label:"+label)
	}

	query := url.Values{
		"q":        {strings.Join(parts, " ")},
		"sort":     {"created"},
		"order":    {"asc"},
		"per_page": {strconv.Itoa(searchPageSize)},
	}

	var result types.SearchResult
	if err := c.request(ctx, http.MethodGet, "/search/issues", query, nil, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// Issue fetches the full detail record for the issue with the given number.
func (c *Client) Issue(ctx context.Context, number int) (types.Issue, error) {
	var issue types.Issue
	path := fmt.Sprintf("%s/issues/%d", c.repoPath(), number)
	if err := c.request(ctx, http.MethodGet, path, nil, nil, &issue); err != nil {
		return types.Issue{}, err
	}
	return issue, nil
}

// OpenPullRequests lists open pull requests whose head branch starts with
// headPrefix. The prefix filter is applied client-side; the GitHub pulls
// endpoint cannot filter on a branch prefix.
func (c *Client) OpenPullRequests(ctx context.Context, headPrefix string) ([]types.PullRequest, error) {
	query := url.Values{
		"state":    {"open"},
		"per_page": {strconv.Itoa(searchPageSize)},
	}

	var all []types.PullRequest
	if err := c.request(ctx, http.MethodGet, c.repoPath()+"/pulls", query, nil, &all); err != nil {
		return nil, err
	}

	var matched []types.PullRequest
	for _, pr := range all {
		if strings.HasPrefix(pr.Head.Ref, headPrefix) {
			matched = append(matched, pr)
		}
	}
	return matched, nil
}

// RecentCommits fetches up to count commits from the tip of branch.
func (c *Client) RecentCommits(ctx context.Context, branch string, count int) ([]types.Commit, error) {
	query := url.Values{
		"sha":      {branch},
		"per_page": {strconv.Itoa(count)},
	}

	var commits []types.Commit
	if err := c.request(ctx, http.MethodGet, c.repoPath()+"/commits", query, nil, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}

// FileContent fetches the content record for a file at the repository root.
// A missing file returns (nil, nil); absence is not an error for the
// context-gathering callers.
func (c *Client) FileContent(ctx context.Context, path string) (*types.FileContent, error) {
	var content types.FileContent
	err := c.request(ctx, http.MethodGet, c.repoPath()+"/contents/"+path, nil, nil, &content)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &content, nil
}

// createPullRequestBody is the request payload for CreatePullRequest.
type createPullRequestBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// CreatePullRequest opens a pull request merging head into base.
func (c *Client) CreatePullRequest(ctx context.Context, title, body, head, base string) (*types.PullRequest, error) {
	payload := createPullRequestBody{Title: title, Body: body, Head: head, Base: base}

	var pr types.PullRequest
	if err := c.request(ctx, http.MethodPost, c.repoPath()+"/pulls", nil, payload, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}
