package runner

import (
	"time"

	"github.com/robertgumeny/issuerunner/internal/types"
)

// SetTick replaces the scheduling timer source for tests.
func (r *Runner) SetTick(tick func(d time.Duration) <-chan time.Time) {
	r.tick = tick
}

// SetSummaryPrinter replaces the shutdown summary printer for tests.
func (r *Runner) SetSummaryPrinter(f func(results []types.CycleResult)) {
	r.printSum = f
}
