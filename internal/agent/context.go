package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/robertgumeny/issuerunner/internal/types"
)

// recentCommitCount bounds the history summary in the repo context.
const recentCommitCount = 5

// ContextClient is the subset of the GitHub client used for repository
// context gathering.
type ContextClient interface {
	FileContent(ctx context.Context, path string) (*types.FileContent, error)
	RecentCommits(ctx context.Context, branch string, count int) ([]types.Commit, error)
}

// RepoContext assembles ambient repository context for the agent prompt:
// README, CONTRIBUTING, and a short recent-commit summary. Every fetch is
// best-effort; a missing file or a failed call just omits that section.
func RepoContext(ctx context.Context, client ContextClient, defaultBranch string) string {
	var b strings.Builder

	appendFileSection(ctx, &b, client, "README.md", "Repository README")
	appendFileSection(ctx, &b, client, "CONTRIBUTING.md", "Contributing Guidelines")

	commits, err := client.RecentCommits(ctx, defaultBranch, recentCommitCount)
	if err == nil && len(commits) > 0 {
		b.WriteString("## Recent Commits\n\n")
		for _, c := range commits {
			sha := c.SHA
			if len(sha) > 7 {
				sha = sha[:7]
			}
			subject := strings.SplitN(c.Commit.Message, "\n", 2)[0]
			fmt.Fprintf(&b, "- %s: %s\n", sha, subject)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// appendFileSection fetches a repository-root file and appends it under a
// markdown heading. Absent files and fetch errors are silently skipped.
func appendFileSection(ctx context.Context, b *strings.Builder, client ContextClient, path, heading string) {
	content, err := client.FileContent(ctx, path)
	if err != nil || content == nil {
		return
	}

	text := content.Content
	if content.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(text, "\n", ""))
		if err != nil {
			return
		}
		text = string(decoded)
	}

	fmt.Fprintf(b, "## %s\n\n%s\n\n", heading, text)
}
