package agent_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/robertgumeny/issuerunner/internal/agent"
	"github.com/robertgumeny/issuerunner/internal/types"
)

// stubContextClient cans FileContent and RecentCommits responses.
type stubContextClient struct {
	files      map[string]string // path -> plain-text content (base64-encoded on the wire)
	fileErr    error
	commits    []types.Commit
	commitsErr error
}

func (s *stubContextClient) FileContent(_ context.Context, path string) (*types.FileContent, error) {
	if s.fileErr != nil {
		return nil, s.fileErr
	}
	text, ok := s.files[path]
	if !ok {
		return nil, nil
	}
	return &types.FileContent{
		Content:  base64.StdEncoding.EncodeToString([]byte(text)),
		Encoding: "base64",
	}, nil
}

func (s *stubContextClient) RecentCommits(_ context.Context, branch string, count int) ([]types.Commit, error) {
	return s.commits, s.commitsErr
}

func TestRepoContext_AllSections(t *testing.T) {
	client := &stubContextClient{
		files: map[string]string{
			"README.md":       "# Widgets\n",
			"CONTRIBUTING.md": "Open a PR.\n",
		},
		commits: []types.Commit{
			{SHA: "abc1234def5678", Commit: types.CommitDetail{Message: "feat: add widgets\n\nlong body"}},
			{SHA: "9876543", Commit: types.CommitDetail{Message: "fix: align labels"}},
		},
	}

	out := agent.RepoContext(context.Background(), client, "main")

	for _, want := range []string{
		"## Repository README",
		"# Widgets",
		"## Contributing Guidelines",
		"Open a PR.",
		"## Recent Commits",
		"- abc1234: feat: add widgets",
		"- 9876543: fix: align labels",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("context missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "long body") {
		t.Error("commit summary includes the message body, want subject only")
	}
}

func TestRepoContext_AbsencesAreSkipped(t *testing.T) {
	client := &stubContextClient{
		files:      map[string]string{},
		commitsErr: errors.New("api down"),
	}

	out := agent.RepoContext(context.Background(), client, "main")
	if out != "" {
		t.Errorf("context = %q, want empty when nothing is available", out)
	}
}

func TestRepoContext_FetchErrorsAreSwallowed(t *testing.T) {
	client := &stubContextClient{fileErr: errors.New("rate limited")}

	// Best-effort gathering: errors must not propagate.
	out := agent.RepoContext(context.Background(), client, "main")
	if strings.Contains(out, "rate limited") {
		t.Errorf("context leaked an error: %q", out)
	}
}
