// Package config provides RunnerConfig loading and validation.
// Config is read from runner.yaml in the working directory. A missing file
// returns sane defaults without error. CLI flags (bound via cobra) override
// config file values at the highest precedence by mutating the returned
// struct after loading. The GitHub token is never stored in the file; it is
// read from the GITHUB_TOKEN environment variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for RunnerConfig fields.
const (
	DefaultBranch       = "main"
	DefaultIssueLabel   = "auto"
	DefaultAgentLabel   = "agent-help-wanted"
	DefaultAgentCommand = "claude"
	DefaultAgentRetries = 1
	DefaultAgentTimeout = 5 * time.Minute
	DefaultPollInterval = 3 * time.Minute
	DefaultMaxRetries   = 3
)

// Validation floors recovered from operational experience: a shorter agent
// timeout kills runs mid-edit, a shorter poll interval burns API quota.
const (
	MinAgentTimeout = 30 * time.Second
	MinPollInterval = time.Minute
)

// TokenEnvVar is the environment variable holding the GitHub API token.
const TokenEnvVar = "GITHUB_TOKEN"

// RunnerConfig holds all configuration for the issue runner.
// It is read from runner.yaml in the working directory; CLI flags override
// it at the highest precedence by being applied after Load returns.
type RunnerConfig struct {
	Owner         string        `yaml:"owner"`
	Repo          string        `yaml:"repo"`
	DefaultBranch string        `yaml:"default_branch"`
	IssueLabel    string        `yaml:"issue_label"`
	AgentLabel    string        `yaml:"agent_label"`
	TestCommand   string        `yaml:"test_command"`
	BuildCommand  string        `yaml:"build_command"`
	AgentCommand  string        `yaml:"agent_command"`
	AgentTimeout  time.Duration `yaml:"agent_timeout"`
	AgentRetries  int           `yaml:"agent_retries"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	Workspace     string        `yaml:"workspace"`

	// Token is read from the environment, never from runner.yaml.
	Token string `yaml:"-"`
}

// defaults returns a RunnerConfig populated with sane defaults.
func defaults() RunnerConfig {
	return RunnerConfig{
		DefaultBranch: DefaultBranch,
		IssueLabel:    DefaultIssueLabel,
		AgentLabel:    DefaultAgentLabel,
		AgentCommand:  DefaultAgentCommand,
		AgentTimeout:  DefaultAgentTimeout,
		AgentRetries:  DefaultAgentRetries,
		PollInterval:  DefaultPollInterval,
		MaxRetries:    DefaultMaxRetries,
	}
}

// partialConfig is used during YAML parsing to distinguish between a field
// being absent (nil pointer) and a field being explicitly set to its zero value.
type partialConfig struct {
	Owner         *string        `yaml:"owner"`
	Repo          *string        `yaml:"repo"`
	DefaultBranch *string        `yaml:"default_branch"`
	IssueLabel    *string        `yaml:"issue_label"`
	AgentLabel    *string        `yaml:"agent_label"`
	TestCommand   *string        `yaml:"test_command"`
	BuildCommand  *string        `yaml:"build_command"`
	AgentCommand  *string        `yaml:"agent_command"`
	AgentTimeout  *time.Duration `yaml:"agent_timeout"`
	AgentRetries  *int           `yaml:"agent_retries"`
	PollInterval  *time.Duration `yaml:"poll_interval"`
	MaxRetries    *int           `yaml:"max_retries"`
	Workspace     *string        `yaml:"workspace"`
}

// Load reads runner.yaml at path and returns a RunnerConfig.
// If the file does not exist, defaults are returned without error.
// Fields absent from the file are filled with their default values.
// Fields present in the file override the corresponding default.
// The GitHub token is read from GITHUB_TOKEN regardless of the file.
func Load(path string) (*RunnerConfig, error) {
	cfg := defaults()
	cfg.Token = os.Getenv(TokenEnvVar)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}

	var partial partialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return nil, err
	}

	if partial.Owner != nil {
		cfg.Owner = *partial.Owner
	}
	if partial.Repo != nil {
		cfg.Repo = *partial.Repo
	}
	if partial.DefaultBranch != nil {
		cfg.DefaultBranch = *partial.DefaultBranch
	}
	if partial.IssueLabel != nil {
		cfg.IssueLabel = *partial.IssueLabel
	}
	if partial.AgentLabel != nil {
		cfg.AgentLabel = *partial.AgentLabel
	}
	if partial.TestCommand != nil {
		cfg.TestCommand = *partial.TestCommand
	}
	if partial.BuildCommand != nil {
		cfg.BuildCommand = *partial.BuildCommand
	}
	if partial.AgentCommand != nil {
		cfg.AgentCommand = *partial.AgentCommand
	}
	if partial.AgentTimeout != nil {
		cfg.AgentTimeout = *partial.AgentTimeout
	}
	if partial.AgentRetries != nil {
		cfg.AgentRetries = *partial.AgentRetries
	}
	if partial.PollInterval != nil {
		cfg.PollInterval = *partial.PollInterval
	}
	if partial.MaxRetries != nil {
		cfg.MaxRetries = *partial.MaxRetries
	}
	if partial.Workspace != nil {
		cfg.Workspace = *partial.Workspace
	}

	return &cfg, nil
}

// Validate checks the config for values the runner cannot operate with.
// On success the Workspace field is rewritten to an absolute path.
func (c *RunnerConfig) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("config: owner is required")
	}
	if c.Repo == "" {
		return fmt.Errorf("config: repo is required")
	}
	if c.Token == "" {
		return fmt.Errorf("config: %s environment variable is not set", TokenEnvVar)
	}
	if c.AgentTimeout < MinAgentTimeout {
		return fmt.Errorf("config: agent_timeout %s is below the %s minimum", c.AgentTimeout, MinAgentTimeout)
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("config: poll_interval %s is below the %s minimum", c.PollInterval, MinPollInterval)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("config: max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.AgentRetries < 0 {
		return fmt.Errorf("config: agent_retries must not be negative, got %d", c.AgentRetries)
	}
	if c.Workspace == "" {
		return fmt.Errorf("config: workspace is required")
	}

	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("config: resolve workspace path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("config: workspace %s does not exist: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: workspace %s is not a directory", abs)
	}
	c.Workspace = abs

	return nil
}
