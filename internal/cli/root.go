package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Parallel autonomous development runs",
	Long: "swarm — runs N isolated AI coding workers through a story backlog,\n" +
		"validates their work, and merges the best result.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(watchRunCmd)
}
