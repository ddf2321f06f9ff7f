// Package metrics aggregates cycle results and prints the end-of-run
// summary for the issue runner.
package metrics

import (
	"fmt"
	"time"

	"github.com/robertgumeny/issuerunner/internal/types"
)

// Summary is the aggregate view over a runner's cycle history.
type Summary struct {
	Total       int
	ByStatus    map[types.CycleStatus]int
	TotalTime   time.Duration
	AverageTime time.Duration
}

// Summarize folds a cycle history into a Summary. It overwrites nothing and
// reads nothing but the slice, making it safe to call on a snapshot at any
// point during the run.
func Summarize(results []types.CycleResult) Summary {
	s := Summary{
		Total:    len(results),
		ByStatus: make(map[types.CycleStatus]int),
	}
	for _, r := range results {
		s.ByStatus[r.Status]++
		s.TotalTime += r.Duration()
	}
	if s.Total > 0 {
		s.AverageTime = s.TotalTime / time.Duration(s.Total)
	}
	return s
}

// SuccessRate returns the fraction of cycles that opened a pull request,
// in [0, 1]. A run with no cycles has a rate of 0.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.ByStatus[types.StatusSuccess]) / float64(s.Total)
}

// PrintSummary prints a box-draw table to stdout summarizing the run:
// per-status cycle counts, success rate, total wall time, and average time
// per cycle.
func PrintSummary(results []types.CycleResult) {
	s := Summarize(results)

	const line = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"
	fmt.Printf("\n%s\n", line)
	fmt.Println("RUN SUMMARY")
	fmt.Printf("%s\n", line)
	fmt.Printf("  %-22s %d\n", "Total Cycles:", s.Total)
	fmt.Printf("  %-22s %d\n", "Pull Requests:", s.ByStatus[types.StatusSuccess])
	fmt.Printf("  %-22s %d\n", "No Issues:", s.ByStatus[types.StatusNoIssues])
	fmt.Printf("  %-22s %d\n", "No Changes:", s.ByStatus[types.StatusNoChanges])
	fmt.Printf("  %-22s %d\n", "Agent Failures:", s.ByStatus[types.StatusAgentFailed])
	fmt.Printf("  %-22s %d\n", "Errors:", s.ByStatus[types.StatusError])
	fmt.Printf("  %-22s %.0f%%\n", "Success Rate:", s.SuccessRate()*100)
	fmt.Printf("  %-22s %s\n", "Total Time:", formatDuration(s.TotalTime))
	fmt.Printf("  %-22s %s per cycle\n", "Average Time:", formatDuration(s.AverageTime))
	fmt.Printf("%s\n\n", line)
}

// formatDuration converts a duration to a human-readable string rounded to
// whole seconds. Examples: "0s", "45s", "3m 15s", "1h 2m 30s".
func formatDuration(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		return "0s"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
