package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "v0.1.0"

var rootCmd = &cobra.Command{
	Use:   "issuerunner",
	Short: "issuerunner automates GitHub issues end to end",
	Long: "issuerunner polls a GitHub repository for labeled issues, hands each\n" +
		"one to a code-generation agent in a local checkout, validates the\n" +
		"result, and opens a pull request.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
}
