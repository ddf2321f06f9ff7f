package git

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/robertgumeny/issuerunner/internal/types"
)

// typeRule maps content keywords to a conventional commit type. Rules are
// evaluated in order; the first rule with a matching keyword wins.
type typeRule struct {
	commitType string
	keywords   []string
}

// typeRules is the priority-ordered classification table for CommitType.
var typeRules = []typeRule{
	{"fix", []string{"fix", "bug", "error", "issue"}},
	{"test", []string{"test", "spec", "testing"}},
	{"docs", []string{"doc", "readme", "documentation"}},
	{"refactor", []string{"refactor", "cleanup", "clean up"}},
	{"perf", []string{"perf", "performance", "optimize"}},
}

// scopeRule maps a label or title keyword to a conventional commit scope.
type scopeRule struct {
	keyword string
	scope   string
}

// scopeRules is the ordered lookup table for CommitScope. Labels are
// consulted before title keywords; within each pass the first match wins.
var scopeRules = []scopeRule{
	{"ui", "ui"},
	{"api", "api"},
	{"auth", "auth"},
	{"database", "db"},
	{"db", "db"},
	{"config", "config"},
	{"deps", "deps"},
	{"dependencies", "deps"},
	{"frontend", "ui"},
	{"backend", "api"},
}

// CommitType infers the conventional commit type from the issue's title and
// body. Falls back to "feat" when no rule matches.
func CommitType(issue types.Issue) string {
	content := strings.ToLower(issue.Title + " " + issue.Body)
	for _, rule := range typeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(content, kw) {
				return rule.commitType
			}
		}
	}
	return "feat"
}

// CommitScope infers the conventional commit scope from the issue's labels
// first (more reliable), then from title keywords. Returns "" when nothing
// matches.
func CommitScope(issue types.Issue) string {
	labels := make(map[string]bool, len(issue.Labels))
	for _, l := range issue.Labels {
		labels[strings.ToLower(l.Name)] = true
	}
	for _, rule := range scopeRules {
		if labels[rule.keyword] {
			return rule.scope
		}
	}

	title := strings.ToLower(issue.Title)
	for _, rule := range scopeRules {
		if strings.Contains(title, rule.keyword) {
			return rule.scope
		}
	}
	return ""
}

// CommitMessage generates a conventional commit message for a completed
// issue: "type(scope): title" header, a Closes reference, the first body
// line when it adds information, and the agent attribution footer.
func CommitMessage(issue types.Issue) string {
	// Lengths are counted in runes so multibyte titles are never split
	// mid-sequence.
	title := issue.Title
	if utf8.RuneCountInString(title) > 50 {
		title = string([]rune(title)[:47]) + "..."
	}

	header := CommitType(issue)
	if scope := CommitScope(issue); scope != "" {
		header += "(" + scope + ")"
	}
	header += ": " + title

	parts := []string{header, "", fmt.Sprintf("Closes #%d", issue.Number)}

	body := strings.TrimSpace(issue.Body)
	if body != "" {
		firstLine := strings.SplitN(body, "\n", 2)[0]
		if firstLine != "" && firstLine != issue.Title {
			parts = append(parts, "", firstLine)
		}
	}

	parts = append(parts, "", "Automated change by issuerunner")

	return SanitizeMessage(strings.Join(parts, "\n"))
}

// SanitizeMessage strips control characters from a commit message and caps
// it at 500 characters, so hostile issue text cannot break the git
// invocation or flood the log.
func SanitizeMessage(message string) string {
	var b strings.Builder
	for _, r := range message {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if utf8.RuneCountInString(out) > 500 {
		out = string([]rune(out)[:500])
	}
	return out
}
