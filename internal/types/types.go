// Package types defines the shared structs and typed constants used by the
// issue runner. JSON struct tags on the GitHub entities match the REST v3
// payload field names.
package types

import "time"

// ---------------------------------------------------------------------------
// GitHub API entities
// ---------------------------------------------------------------------------

// User is the author block on an issue or commit.
type User struct {
	Login string `json:"login"`
}

// Label is a single entry in an issue's labels list.
type Label struct {
	Name string `json:"name"`
}

// Issue is a read-only snapshot of a GitHub issue. It is fetched once per
// cycle and passed by value; nothing in the runner mutates it.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      User      `json:"user"`
	Labels    []Label   `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
}

// LabelNames returns the names of all labels on the issue.
func (i Issue) LabelNames() []string {
	names := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// BranchRef is the head/base block on a pull request.
type BranchRef struct {
	Ref string `json:"ref"`
}

// PullRequest is a GitHub pull request, read or created by the runner.
type PullRequest struct {
	Number  int       `json:"number"`
	Title   string    `json:"title"`
	HTMLURL string    `json:"html_url"`
	Head    BranchRef `json:"head"`
}

// CommitDetail is the nested commit block inside a commit list entry.
type CommitDetail struct {
	Message string `json:"message"`
}

// Commit is one entry from the repository commit list endpoint.
type Commit struct {
	SHA    string       `json:"sha"`
	Commit CommitDetail `json:"commit"`
}

// FileContent is the repository contents endpoint payload for a single file.
// Content is base64-encoded when Encoding is "base64".
type FileContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// SearchResult is the issue search endpoint envelope.
type SearchResult struct {
	TotalCount int     `json:"total_count"`
	Items      []Issue `json:"items"`
}

// ---------------------------------------------------------------------------
// Cycle types
// ---------------------------------------------------------------------------

// CycleStatus is the terminal outcome of one processing cycle.
type CycleStatus string

const (
	// StatusUnknown is the transient initial status; every cycle ends in
	// one of the terminal statuses below before its result is recorded.
	StatusUnknown     CycleStatus = "UNKNOWN"
	StatusSuccess     CycleStatus = "SUCCESS"
	StatusNoIssues    CycleStatus = "NO_ISSUES"
	StatusNoChanges   CycleStatus = "NO_CHANGES"
	StatusAgentFailed CycleStatus = "AGENT_FAILED"
	StatusError       CycleStatus = "ERROR"
)

// CycleResult records the outcome of one processing cycle. Results are
// appended to the runner's in-memory history at cycle completion and never
// mutated afterwards.
type CycleResult struct {
	ID       int
	Start    time.Time
	End      time.Time
	Issue    int // 0 when no issue was selected
	Branch   string
	PRNumber int
	Status   CycleStatus
	Err      string
}

// Duration returns the wall-clock time the cycle took.
func (r CycleResult) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// ---------------------------------------------------------------------------
// Runner lifecycle
// ---------------------------------------------------------------------------

// RunnerState is the lifecycle state of the Runner. Transitions:
// STOPPED → STARTING → RUNNING → STOPPING → STOPPED, with STARTING falling
// back to STOPPED when lock acquisition or component setup fails.
type RunnerState string

const (
	RunnerStopped  RunnerState = "STOPPED"
	RunnerStarting RunnerState = "STARTING"
	RunnerRunning  RunnerState = "RUNNING"
	RunnerStopping RunnerState = "STOPPING"
)
