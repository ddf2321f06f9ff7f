package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/robertgumeny/issuerunner/internal/log"
	"github.com/robertgumeny/issuerunner/internal/templates"
)

var initFlags struct {
	force bool
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter runner.yaml",
	Long: "Write a commented starter runner.yaml into the current directory.\n" +
		"The GitHub token is read from GITHUB_TOKEN and never stored in the file.",
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initFlags.force, "force", false, "Overwrite an existing runner.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	return initProject(dir, initFlags.force)
}

// initProject is the testable core of the init command. It stamps the
// embedded starter runner.yaml into dir, refusing to overwrite an existing
// file unless force is set.
func initProject(dir string, force bool) error {
	path := filepath.Join(dir, "runner.yaml")

	if !force {
		if _, statErr := os.Stat(path); statErr == nil {
			return fmt.Errorf("runner.yaml already exists — use --force to overwrite")
		}
	}

	if err := os.WriteFile(path, []byte(templates.InitConfig), 0o644); err != nil {
		return fmt.Errorf("write runner.yaml: %w", err)
	}

	log.Success("created runner.yaml")
	log.Info("edit runner.yaml, export GITHUB_TOKEN, then run: issuerunner run")
	return nil
}
