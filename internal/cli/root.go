// Package cli wires the cobra command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "ralphd",
	Short: "ralphd — an autonomous build orchestrator",
	Long: `ralphd runs LLM-driven build pipelines: it plans staged work, asks a
developer model to implement each story, gates the output with a syntax
check and a reviewer model (plus optional human approval over Telegram),
and commits every accepted step to git.

State lives in a single JSON document (data/db.json by default); each
project workspace keeps its own plan, agent log, and raw LLM transcripts.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(lessonsCmd)
	rootCmd.AddCommand(settingsCmd)
}
