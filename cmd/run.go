package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/robertgumeny/issuerunner/internal/agent"
	"github.com/robertgumeny/issuerunner/internal/build"
	"github.com/robertgumeny/issuerunner/internal/config"
	"github.com/robertgumeny/issuerunner/internal/git"
	"github.com/robertgumeny/issuerunner/internal/github"
	"github.com/robertgumeny/issuerunner/internal/lock"
	"github.com/robertgumeny/issuerunner/internal/pr"
	"github.com/robertgumeny/issuerunner/internal/runner"
	"github.com/robertgumeny/issuerunner/internal/selector"
)

// runFlags holds CLI flag values that override runner.yaml config settings.
// Only flags explicitly changed by the user are applied (checked via
// cmd.Flags().Changed).
var runFlags struct {
	interval     time.Duration
	agentCommand string
	maxRetries   int
	once         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the issue processing loop",
	Long: "Run the poll loop: select an eligible issue, invoke the agent in the\n" +
		"workspace, validate the result, and open a pull request. Stops on\n" +
		"SIGINT/SIGTERM after draining the cycle in flight.",
	RunE: runLoop,
}

func init() {
	runCmd.Flags().DurationVar(&runFlags.interval, "interval", 0, "override poll_interval from runner.yaml")
	runCmd.Flags().StringVar(&runFlags.agentCommand, "agent", "", "override agent_command from runner.yaml")
	runCmd.Flags().IntVar(&runFlags.maxRetries, "max-retries", 0, "override max_retries from runner.yaml")
	runCmd.Flags().BoolVar(&runFlags.once, "once", false, "run a single cycle and exit")
}

// runLoop implements the "run" subcommand: load and validate config, check
// binaries, assemble the components, and hand control to the runner until a
// shutdown signal arrives.
func runLoop(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// A missing runner.yaml returns sane defaults without error.
	cfg, err := config.Load(filepath.Join(cwd, "runner.yaml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Apply CLI flag overrides — only when the user explicitly set the flag.
	if cmd.Flags().Changed("interval") {
		cfg.PollInterval = runFlags.interval
	}
	if cmd.Flags().Changed("agent") {
		cfg.AgentCommand = runFlags.agentCommand
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.MaxRetries = runFlags.maxRetries
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := runner.CheckDependencies(cfg); err != nil {
		return fmt.Errorf("dependency check failed: %w", err)
	}

	client := github.NewClient(cfg.Owner, cfg.Repo, cfg.Token)
	client.Policy.MaxRetries = cfg.MaxRetries

	deps := runner.Deps{
		Lock:   lock.New(cfg.Workspace),
		Issues: selector.New(client, cfg.IssueLabel, cfg.AgentLabel),
		Git:    git.NewWorkspace(cfg.Workspace),
		Agent:  agent.NewInvoker(cfg),
		Checks: build.NewChecks(cfg.Workspace, cfg.TestCommand, cfg.BuildCommand),
		PRs:    pr.NewSubmitter(client, cfg.DefaultBranch),
		RepoContext: func(ctx context.Context) string {
			return agent.RepoContext(ctx, client, cfg.DefaultBranch)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.New(cfg, deps, runFlags.once).Start(ctx)
}
