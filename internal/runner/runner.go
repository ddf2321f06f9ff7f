// Package runner drives the poll → select → implement → validate → submit
// loop. It owns the process lock, the cycle history, and the scheduling
// policy: one cycle at a time, polls that arrive while a cycle is in flight
// are dropped, and shutdown drains the in-flight cycle before releasing
// the lock.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/robertgumeny/issuerunner/internal/config"
	"github.com/robertgumeny/issuerunner/internal/git"
	"github.com/robertgumeny/issuerunner/internal/log"
	"github.com/robertgumeny/issuerunner/internal/metrics"
	"github.com/robertgumeny/issuerunner/internal/selector"
	"github.com/robertgumeny/issuerunner/internal/types"
)

// drainTimeout bounds how long shutdown waits for an in-flight cycle.
const drainTimeout = 30 * time.Second

// issueSource selects the next issue to work on.
type issueSource interface {
	FindEligible(ctx context.Context) (*types.Issue, error)
}

// workspace is the subset of git operations a cycle performs.
type workspace interface {
	SyncDefault(ctx context.Context, branch string) error
	CreateOrCheckout(ctx context.Context, branch string) error
	HasChanges(ctx context.Context) (bool, error)
	StageAll(ctx context.Context) error
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context, branch string) error
}

// agentInvoker writes the prompt and runs the agent.
type agentInvoker interface {
	WritePrompt(issueContext, repoContext string) (string, error)
	Invoke(ctx context.Context, promptPath string) error
	Cleanup()
}

// checker runs the post-agent validation commands.
type checker interface {
	RunTests(ctx context.Context) error
	RunBuild(ctx context.Context) error
}

// submitter opens the pull request for a finished branch.
type submitter interface {
	Submit(ctx context.Context, issue types.Issue, branch string) (*types.PullRequest, error)
}

// processLock is the workspace mutual-exclusion primitive.
type processLock interface {
	Acquire() error
	Release() error
}

// Runner owns one poll loop over one workspace.
type Runner struct {
	cfg      *config.RunnerConfig
	lock     processLock
	issues   issueSource
	git      workspace
	agent    agentInvoker
	checks   checker
	prs      submitter
	repoCtx  func(ctx context.Context) string
	once     bool
	drain    time.Duration
	tick     func(d time.Duration) <-chan time.Time
	printSum func(results []types.CycleResult)

	mu        sync.Mutex
	state     types.RunnerState
	results   []types.CycleResult
	nextID    int
	inFlight  bool
	cycleDone chan struct{}
}

// Deps bundles the runner's collaborators.
type Deps struct {
	Lock        processLock
	Issues      issueSource
	Git         workspace
	Agent       agentInvoker
	Checks      checker
	PRs         submitter
	RepoContext func(ctx context.Context) string
}

// New creates a Runner. Once limits the runner to a single cycle.
func New(cfg *config.RunnerConfig, deps Deps, once bool) *Runner {
	r := &Runner{
		cfg:      cfg,
		lock:     deps.Lock,
		issues:   deps.Issues,
		git:      deps.Git,
		agent:    deps.Agent,
		checks:   deps.Checks,
		prs:      deps.PRs,
		repoCtx:  deps.RepoContext,
		once:     once,
		drain:    drainTimeout,
		tick:     time.After,
		printSum: metrics.PrintSummary,
		state:    types.RunnerStopped,
		nextID:   1,
	}
	if r.repoCtx == nil {
		r.repoCtx = func(context.Context) string { return "" }
	}
	return r
}

// State returns the runner's lifecycle state.
func (r *Runner) State() types.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Results returns a snapshot of the cycle history.
func (r *Runner) Results() []types.CycleResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.CycleResult, len(r.results))
	copy(out, r.results)
	return out
}

func (r *Runner) setState(s types.RunnerState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Start acquires the workspace lock and runs the poll loop until ctx is
// cancelled. The first cycle starts immediately; subsequent cycles start
// every PollInterval. A poll that becomes due while a cycle is still in
// flight is dropped with a warning, never queued.
func (r *Runner) Start(ctx context.Context) error {
	r.setState(types.RunnerStarting)

	if err := r.lock.Acquire(); err != nil {
		r.setState(types.RunnerStopped)
		return fmt.Errorf("acquire workspace lock: %w", err)
	}

	r.setState(types.RunnerRunning)
	log.Info(fmt.Sprintf("runner started — polling %s/%s every %s",
		r.cfg.Owner, r.cfg.Repo, r.cfg.PollInterval))

	// Cycles outlive ctx so shutdown can drain them; cycleCancel abandons
	// a cycle that exceeds the drain timeout.
	cycleCtx, cycleCancel := context.WithCancel(context.Background())
	defer cycleCancel()

	r.launchCycle(cycleCtx)

	if r.once {
		r.mu.Lock()
		done := r.cycleDone
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		return r.shutdown(cycleCancel)
	}

	for {
		select {
		case <-ctx.Done():
			return r.shutdown(cycleCancel)
		case <-r.tick(r.cfg.PollInterval):
			r.launchCycle(cycleCtx)
		}
	}
}

// launchCycle starts one cycle on its own goroutine unless one is already
// in flight, in which case the poll is dropped.
func (r *Runner) launchCycle(ctx context.Context) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		log.Warning("previous cycle still running, skipping this poll")
		return
	}
	id := r.nextID
	r.nextID++
	r.inFlight = true
	done := make(chan struct{})
	r.cycleDone = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		result := r.runCycle(ctx, id)

		r.mu.Lock()
		r.results = append(r.results, result)
		r.inFlight = false
		r.mu.Unlock()

		r.logResult(result)
	}()
}

// shutdown drains the in-flight cycle, releases the lock, and prints the
// run summary. It always brings the runner to STOPPED.
func (r *Runner) shutdown(cycleCancel context.CancelFunc) error {
	r.setState(types.RunnerStopping)

	r.mu.Lock()
	inFlight := r.inFlight
	done := r.cycleDone
	r.mu.Unlock()

	if inFlight && done != nil {
		log.Info(fmt.Sprintf("waiting up to %s for the current cycle to finish", r.drain))
		select {
		case <-done:
		case <-r.tick(r.drain):
			log.Warning("cycle did not finish in time, cancelling it")
			cycleCancel()
			// Every blocking step in a cycle is bound to the cycle context,
			// so the unwind is prompt; waiting for it keeps the cancelled
			// cycle's result in the final summary.
			<-done
		}
	}

	if err := r.lock.Release(); err != nil {
		log.Warning(fmt.Sprintf("could not release lock: %v", err))
	}

	r.printSum(r.Results())
	r.setState(types.RunnerStopped)
	log.Info("runner stopped")
	return nil
}

// runCycle executes one cycle under a recovery boundary: any error or panic
// becomes a terminal status on the result, it never escapes to the loop.
func (r *Runner) runCycle(ctx context.Context, id int) (result types.CycleResult) {
	result = types.CycleResult{ID: id, Start: time.Now(), Status: types.StatusUnknown}
	defer func() {
		if p := recover(); p != nil {
			result.Status = types.StatusError
			result.Err = fmt.Sprintf("panic: %v", p)
		}
		result.End = time.Now()
	}()

	log.Section(fmt.Sprintf("CYCLE %d", id))

	if err := r.executeCycle(ctx, &result); err != nil {
		result.Status = types.StatusError
		result.Err = err.Error()
	}
	return result
}

// executeCycle walks one cycle through selection, workspace preparation,
// agent invocation, validation, commit/push, and submission. Agent and
// validation failures take the preservation path: partial work is committed
// to the issue branch and pushed, no pull request is opened.
func (r *Runner) executeCycle(ctx context.Context, res *types.CycleResult) error {
	issue, err := r.issues.FindEligible(ctx)
	if err != nil {
		return err
	}
	if issue == nil {
		res.Status = types.StatusNoIssues
		return nil
	}
	res.Issue = issue.Number

	if err := r.git.SyncDefault(ctx, r.cfg.DefaultBranch); err != nil {
		return fmt.Errorf("sync %s: %w", r.cfg.DefaultBranch, err)
	}
	branch := selector.BranchName(*issue)
	res.Branch = branch
	if err := r.git.CreateOrCheckout(ctx, branch); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}

	promptPath, err := r.agent.WritePrompt(selector.IssueContext(*issue), r.repoCtx(ctx))
	if err != nil {
		return err
	}
	defer r.agent.Cleanup()

	if err := r.agent.Invoke(ctx, promptPath); err != nil {
		return r.preserveFailure(ctx, res, *issue, branch, err)
	}

	if err := r.checks.RunTests(ctx); err != nil {
		return r.preserveFailure(ctx, res, *issue, branch, err)
	}
	if err := r.checks.RunBuild(ctx); err != nil {
		return r.preserveFailure(ctx, res, *issue, branch, err)
	}

	// The prompt file is a scratch artifact; it must be gone before the
	// workspace is staged.
	r.agent.Cleanup()

	changed, err := r.git.HasChanges(ctx)
	if err != nil {
		return err
	}
	if !changed {
		res.Status = types.StatusNoChanges
		return nil
	}

	if err := r.git.StageAll(ctx); err != nil {
		return err
	}
	if err := r.git.Commit(ctx, git.CommitMessage(*issue)); err != nil {
		return err
	}
	if err := r.git.Push(ctx, branch); err != nil {
		return err
	}

	created, err := r.prs.Submit(ctx, *issue, branch)
	if err != nil {
		return err
	}
	res.PRNumber = created.Number
	res.Status = types.StatusSuccess
	log.Success(fmt.Sprintf("opened pull request #%d for issue #%d", created.Number, issue.Number))
	return nil
}

// preserveFailure handles an agent or validation failure: whatever the
// agent left behind is committed as WIP and pushed so the work survives for
// a human to inspect. No pull request is opened. Preservation is
// best-effort; its own errors are logged, not returned.
func (r *Runner) preserveFailure(ctx context.Context, res *types.CycleResult, issue types.Issue, branch string, cause error) error {
	res.Status = types.StatusAgentFailed
	res.Err = cause.Error()
	log.Error(fmt.Sprintf("cycle failed on issue #%d: %v", issue.Number, cause))

	r.agent.Cleanup()

	changed, err := r.git.HasChanges(ctx)
	if err != nil {
		log.Warning(fmt.Sprintf("could not inspect workspace after failure: %v", err))
		return nil
	}
	if !changed {
		return nil
	}

	message := git.SanitizeMessage(fmt.Sprintf(
		"WIP: Failed implementation for #%d\n\nError: %v", issue.Number, cause))

	if err := r.git.StageAll(ctx); err != nil {
		log.Warning(fmt.Sprintf("could not stage partial work: %v", err))
		return nil
	}
	if err := r.git.Commit(ctx, message); err != nil {
		log.Warning(fmt.Sprintf("could not commit partial work: %v", err))
		return nil
	}
	if err := r.git.Push(ctx, branch); err != nil {
		log.Warning(fmt.Sprintf("could not push partial work: %v", err))
		return nil
	}

	log.Info(fmt.Sprintf("partial work preserved on %s", branch))
	return nil
}

// logResult emits the per-cycle operator log line.
func (r *Runner) logResult(res types.CycleResult) {
	d := res.Duration().Round(time.Second)
	switch res.Status {
	case types.StatusSuccess:
		log.Success(fmt.Sprintf("cycle %d: SUCCESS — issue #%d, PR #%d (%s)", res.ID, res.Issue, res.PRNumber, d))
	case types.StatusNoIssues:
		log.Info(fmt.Sprintf("cycle %d: no eligible issues (%s)", res.ID, d))
	case types.StatusNoChanges:
		log.Warning(fmt.Sprintf("cycle %d: agent made no changes to issue #%d (%s)", res.ID, res.Issue, d))
	case types.StatusAgentFailed:
		log.Error(fmt.Sprintf("cycle %d: agent failed on issue #%d: %s (%s)", res.ID, res.Issue, res.Err, d))
	default:
		log.Error(fmt.Sprintf("cycle %d: error: %s (%s)", res.ID, res.Err, d))
	}
}

// CheckDependencies verifies that every binary the runner shells out to is
// available on PATH: the agent command's executable and git. Returns an
// error naming every missing binary.
func CheckDependencies(cfg *config.RunnerConfig) error {
	agentBin := cfg.AgentCommand
	if fields := strings.Fields(agentBin); len(fields) > 0 {
		agentBin = fields[0]
	}

	var missing []string
	for _, bin := range []string{agentBin, "git"} {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required binaries on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
