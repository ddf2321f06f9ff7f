package runner_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robertgumeny/issuerunner/internal/config"
	"github.com/robertgumeny/issuerunner/internal/runner"
	"github.com/robertgumeny/issuerunner/internal/types"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeLock struct {
	acquireErr error
	acquired   bool
	released   bool
}

func (l *fakeLock) Acquire() error {
	if l.acquireErr != nil {
		return l.acquireErr
	}
	l.acquired = true
	return nil
}

func (l *fakeLock) Release() error {
	l.released = true
	return nil
}

type fakeIssues struct {
	issue *types.Issue
	err   error
}

func (f *fakeIssues) FindEligible(context.Context) (*types.Issue, error) {
	return f.issue, f.err
}

type fakeGit struct {
	mu         sync.Mutex
	hasChanges bool
	syncs      []string
	branches   []string
	commits    []string
	pushes     []string
}

func (g *fakeGit) SyncDefault(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncs = append(g.syncs, branch)
	return nil
}

func (g *fakeGit) CreateOrCheckout(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.branches = append(g.branches, branch)
	return nil
}

func (g *fakeGit) HasChanges(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasChanges, nil
}

func (g *fakeGit) StageAll(context.Context) error { return nil }

func (g *fakeGit) Commit(_ context.Context, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits = append(g.commits, message)
	return nil
}

func (g *fakeGit) Push(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, branch)
	return nil
}

func (g *fakeGit) snapshot() fakeGit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fakeGit{
		syncs:    append([]string(nil), g.syncs...),
		branches: append([]string(nil), g.branches...),
		commits:  append([]string(nil), g.commits...),
		pushes:   append([]string(nil), g.pushes...),
	}
}

type fakeAgent struct {
	invokeErr error
	block     chan struct{} // when set, Invoke waits for close or ctx
	started   chan struct{} // when set, closed once on first Invoke
	mu        sync.Mutex
	invokes   int
	cleanups  int
}

func (a *fakeAgent) WritePrompt(issueContext, repoContext string) (string, error) {
	return "issue_prompt.md", nil
}

func (a *fakeAgent) Invoke(ctx context.Context, promptPath string) error {
	a.mu.Lock()
	a.invokes++
	first := a.invokes == 1
	a.mu.Unlock()

	if a.started != nil && first {
		close(a.started)
	}
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.invokeErr
}

func (a *fakeAgent) Cleanup() {
	a.mu.Lock()
	a.cleanups++
	a.mu.Unlock()
}

type fakeChecks struct {
	testErr  error
	buildErr error
}

func (c *fakeChecks) RunTests(context.Context) error { return c.testErr }
func (c *fakeChecks) RunBuild(context.Context) error { return c.buildErr }

type fakeSubmitter struct {
	pr   *types.PullRequest
	err  error
	head string
}

func (s *fakeSubmitter) Submit(_ context.Context, issue types.Issue, branch string) (*types.PullRequest, error) {
	s.head = branch
	return s.pr, s.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testIssue() *types.Issue {
	return &types.Issue{
		Number:  42,
		Title:   "Fix the login bug",
		Body:    "Login fails on empty password.",
		HTMLURL: "https://github.com/acme/widgets/issues/42",
		User:    types.User{Login: "octocat"},
	}
}

func testConfig() *config.RunnerConfig {
	return &config.RunnerConfig{
		Owner:         "acme",
		Repo:          "widgets",
		DefaultBranch: "main",
		AgentCommand:  "true",
		PollInterval:  time.Minute,
	}
}

type fixture struct {
	lock   *fakeLock
	issues *fakeIssues
	git    *fakeGit
	agent  *fakeAgent
	checks *fakeChecks
	prs    *fakeSubmitter
}

func newFixture() *fixture {
	return &fixture{
		lock:   &fakeLock{},
		issues: &fakeIssues{issue: testIssue()},
		git:    &fakeGit{hasChanges: true},
		agent:  &fakeAgent{},
		checks: &fakeChecks{},
		prs:    &fakeSubmitter{pr: &types.PullRequest{Number: 101}},
	}
}

func newRunner(f *fixture, once bool) *runner.Runner {
	r := runner.New(testConfig(), runner.Deps{
		Lock:   f.lock,
		Issues: f.issues,
		Git:    f.git,
		Agent:  f.agent,
		Checks: f.checks,
		PRs:    f.prs,
	}, once)
	r.SetSummaryPrinter(func([]types.CycleResult) {})
	return r
}

// runOnce drives a single-cycle run to completion and returns its result.
func runOnce(t *testing.T, f *fixture) types.CycleResult {
	t.Helper()
	r := newRunner(f, true)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	results := r.Results()
	if len(results) != 1 {
		t.Fatalf("results len = %d, want 1", len(results))
	}
	if got := r.State(); got != types.RunnerStopped {
		t.Errorf("state after run = %s, want STOPPED", got)
	}
	return results[0]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ---------------------------------------------------------------------------
// Cycle outcomes
// ---------------------------------------------------------------------------

func TestCycle_Success(t *testing.T) {
	f := newFixture()
	res := runOnce(t, f)

	if res.Status != types.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS (err: %s)", res.Status, res.Err)
	}
	if res.ID != 1 {
		t.Errorf("cycle id = %d, want 1", res.ID)
	}
	if res.Issue != 42 {
		t.Errorf("issue = %d, want 42", res.Issue)
	}
	if res.Branch != "auto/42-fix-the-login-bug" {
		t.Errorf("branch = %q", res.Branch)
	}
	if res.PRNumber != 101 {
		t.Errorf("PR number = %d, want 101", res.PRNumber)
	}

	g := f.git.snapshot()
	if len(g.syncs) != 1 || g.syncs[0] != "main" {
		t.Errorf("syncs = %v, want [main]", g.syncs)
	}
	if len(g.branches) != 1 || g.branches[0] != res.Branch {
		t.Errorf("branches = %v", g.branches)
	}
	if len(g.commits) != 1 || !strings.Contains(g.commits[0], "Closes #42") {
		t.Errorf("commits = %v", g.commits)
	}
	if len(g.pushes) != 1 || g.pushes[0] != res.Branch {
		t.Errorf("pushes = %v", g.pushes)
	}
	if f.prs.head != res.Branch {
		t.Errorf("submitted head = %q", f.prs.head)
	}
	if f.agent.cleanups == 0 {
		t.Error("prompt file was never cleaned up")
	}
	if !f.lock.released {
		t.Error("lock was not released on shutdown")
	}
}

func TestCycle_NoIssues(t *testing.T) {
	f := newFixture()
	f.issues.issue = nil

	res := runOnce(t, f)

	if res.Status != types.StatusNoIssues {
		t.Fatalf("status = %s, want NO_ISSUES", res.Status)
	}
	if res.Issue != 0 {
		t.Errorf("issue = %d, want 0", res.Issue)
	}
	g := f.git.snapshot()
	if len(g.syncs)+len(g.commits)+len(g.pushes) != 0 {
		t.Errorf("git was touched with no issue selected: %+v", &g)
	}
}

func TestCycle_NoChanges(t *testing.T) {
	f := newFixture()
	f.git.hasChanges = false

	res := runOnce(t, f)

	if res.Status != types.StatusNoChanges {
		t.Fatalf("status = %s, want NO_CHANGES", res.Status)
	}
	g := f.git.snapshot()
	if len(g.commits) != 0 || len(g.pushes) != 0 {
		t.Errorf("commits/pushes after a no-change cycle: %v %v", g.commits, g.pushes)
	}
	if f.prs.head != "" {
		t.Error("pull request submitted despite no changes")
	}
}

func TestCycle_AgentFailurePreservesWork(t *testing.T) {
	f := newFixture()
	f.agent.invokeErr = errors.New("agent exited with code 1")

	res := runOnce(t, f)

	if res.Status != types.StatusAgentFailed {
		t.Fatalf("status = %s, want AGENT_FAILED", res.Status)
	}
	if !strings.Contains(res.Err, "exited with code 1") {
		t.Errorf("result error = %q", res.Err)
	}

	g := f.git.snapshot()
	if len(g.commits) != 1 {
		t.Fatalf("commits = %v, want one WIP commit", g.commits)
	}
	if !strings.Contains(g.commits[0], "WIP: Failed implementation for #42") {
		t.Errorf("WIP commit = %q", g.commits[0])
	}
	if !strings.Contains(g.commits[0], "Error: agent exited with code 1") {
		t.Errorf("WIP commit does not carry the cause: %q", g.commits[0])
	}
	if len(g.pushes) != 1 {
		t.Errorf("pushes = %v, want the WIP branch pushed", g.pushes)
	}
	if f.prs.head != "" {
		t.Error("pull request opened for a failed cycle")
	}
}

func TestCycle_AgentFailureWithoutChanges(t *testing.T) {
	f := newFixture()
	f.agent.invokeErr = errors.New("agent timed out after 5m0s")
	f.git.hasChanges = false

	res := runOnce(t, f)

	if res.Status != types.StatusAgentFailed {
		t.Fatalf("status = %s, want AGENT_FAILED", res.Status)
	}
	g := f.git.snapshot()
	if len(g.commits) != 0 || len(g.pushes) != 0 {
		t.Errorf("empty workspace was committed: %v %v", g.commits, g.pushes)
	}
}

func TestCycle_ValidationFailurePreservesWork(t *testing.T) {
	f := newFixture()
	f.checks.testErr = errors.New("tests failed: exit status 2")

	res := runOnce(t, f)

	if res.Status != types.StatusAgentFailed {
		t.Fatalf("status = %s, want AGENT_FAILED", res.Status)
	}
	g := f.git.snapshot()
	if len(g.commits) != 1 || !strings.Contains(g.commits[0], "WIP:") {
		t.Errorf("commits = %v, want one WIP commit", g.commits)
	}
	if f.prs.head != "" {
		t.Error("pull request opened despite failing tests")
	}
}

func TestCycle_SelectionErrorIsTerminal(t *testing.T) {
	f := newFixture()
	f.issues.issue = nil
	f.issues.err = errors.New("search eligible issues: 502")

	res := runOnce(t, f)

	if res.Status != types.StatusError {
		t.Fatalf("status = %s, want ERROR", res.Status)
	}
	if !strings.Contains(res.Err, "502") {
		t.Errorf("result error = %q", res.Err)
	}
}

func TestCycle_SubmitErrorIsTerminal(t *testing.T) {
	f := newFixture()
	f.prs.pr = nil
	f.prs.err = errors.New("create pull request for #42: 422")

	res := runOnce(t, f)

	if res.Status != types.StatusError {
		t.Fatalf("status = %s, want ERROR", res.Status)
	}
	// The branch was pushed before submission failed; work is on the remote.
	g := f.git.snapshot()
	if len(g.pushes) != 1 {
		t.Errorf("pushes = %v", g.pushes)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle and scheduling
// ---------------------------------------------------------------------------

func TestStart_LockFailure(t *testing.T) {
	f := newFixture()
	f.lock.acquireErr = fmt.Errorf("runner already active in this workspace: pid 999")

	r := newRunner(f, true)
	err := r.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded with a held lock")
	}
	if !strings.Contains(err.Error(), "pid 999") {
		t.Errorf("error = %q", err)
	}
	if got := r.State(); got != types.RunnerStopped {
		t.Errorf("state = %s, want STOPPED", got)
	}
	if len(r.Results()) != 0 {
		t.Errorf("cycles ran without the lock: %v", r.Results())
	}
}

func TestSchedule_SingleFlightDropsOverlappingPoll(t *testing.T) {
	f := newFixture()
	f.agent.block = make(chan struct{})
	f.agent.started = make(chan struct{})

	r := newRunner(f, false)
	tick := make(chan time.Time)
	// polled signals each time the scheduler arms its timer, i.e. each time
	// it (re-)enters its select; buffered so the drain timer never blocks.
	polled := make(chan struct{}, 8)
	r.SetTick(func(time.Duration) <-chan time.Time {
		polled <- struct{}{}
		return tick
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx) }()

	// First cycle is in flight; a due poll must be dropped, not queued.
	<-f.agent.started
	<-polled
	tick <- time.Time{}
	// The scheduler re-arms only after the drop decision is made; do not
	// unblock the agent before then or the poll could start a real cycle.
	<-polled

	close(f.agent.block)
	waitFor(t, "first cycle to finish", func() bool { return len(r.Results()) == 1 })

	// Second poll starts cycle 2: the dropped poll consumed no cycle id.
	tick <- time.Time{}
	waitFor(t, "second cycle to finish", func() bool { return len(r.Results()) == 2 })

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Start: %v", err)
	}

	results := r.Results()
	if results[0].ID != 1 || results[1].ID != 2 {
		t.Errorf("cycle ids = %d, %d, want 1, 2", results[0].ID, results[1].ID)
	}
}

func TestShutdown_DrainsInFlightCycle(t *testing.T) {
	f := newFixture()
	f.agent.block = make(chan struct{})
	f.agent.started = make(chan struct{})

	r := newRunner(f, false)
	tick := make(chan time.Time)
	r.SetTick(func(time.Duration) <-chan time.Time { return tick })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx) }()

	<-f.agent.started
	cancel()
	waitFor(t, "runner to enter STOPPING", func() bool { return r.State() == types.RunnerStopping })

	// The cycle finishes inside the drain window and is recorded.
	close(f.agent.block)
	if err := <-errCh; err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := r.State(); got != types.RunnerStopped {
		t.Errorf("state = %s, want STOPPED", got)
	}
	results := r.Results()
	if len(results) != 1 || results[0].Status != types.StatusSuccess {
		t.Errorf("results = %+v, want one SUCCESS", results)
	}
	if !f.lock.released {
		t.Error("lock was not released")
	}
}

func TestShutdown_CancelsStuckCycleAndCountsIt(t *testing.T) {
	f := newFixture()
	f.agent.block = make(chan struct{}) // never closed: the agent hangs
	f.agent.started = make(chan struct{})

	r := newRunner(f, false)
	tick := make(chan time.Time)
	r.SetTick(func(time.Duration) <-chan time.Time { return tick })
	var summarized []types.CycleResult
	r.SetSummaryPrinter(func(results []types.CycleResult) { summarized = results })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx) }()

	<-f.agent.started
	cancel()
	waitFor(t, "runner to enter STOPPING", func() bool { return r.State() == types.RunnerStopping })

	// Fire the drain timer: the stuck cycle is cancelled and unwinds.
	tick <- time.Time{}
	if err := <-errCh; err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := r.State(); got != types.RunnerStopped {
		t.Errorf("state = %s, want STOPPED", got)
	}
	if !f.lock.released {
		t.Error("lock was not released after cancelling the cycle")
	}

	// The cancelled cycle still produces a terminal result, and the final
	// summary includes it.
	results := r.Results()
	if len(results) != 1 {
		t.Fatalf("results = %+v, want the cancelled cycle recorded", results)
	}
	if results[0].Status != types.StatusAgentFailed {
		t.Errorf("status = %s, want AGENT_FAILED for the cancelled agent", results[0].Status)
	}
	if len(summarized) != 1 {
		t.Errorf("summary saw %d results, want 1", len(summarized))
	}
}

// ---------------------------------------------------------------------------
// CheckDependencies
// ---------------------------------------------------------------------------

func TestCheckDependencies_AllPresent(t *testing.T) {
	cfg := testConfig()
	cfg.AgentCommand = "sh -c true"
	if err := runner.CheckDependencies(cfg); err != nil {
		t.Errorf("CheckDependencies: %v", err)
	}
}

func TestCheckDependencies_MissingAgent(t *testing.T) {
	cfg := testConfig()
	cfg.AgentCommand = "no-such-agent-binary-on-path"
	err := runner.CheckDependencies(cfg)
	if err == nil {
		t.Fatal("CheckDependencies passed with a missing agent binary")
	}
	if !strings.Contains(err.Error(), "no-such-agent-binary-on-path") {
		t.Errorf("error does not name the missing binary: %v", err)
	}
}
