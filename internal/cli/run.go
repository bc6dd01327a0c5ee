package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/run"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a swarm run",
	Long: `Spawns N detached workers, each in its own branch and worktree,
working through the backlog in parallel. A detached watcher waits for
every worker and merges the best result onto the base branch; this
command returns as soon as the workers are launched.

With --follow the command stays in the foreground instead, watching
the workers itself. Interrupting it (Ctrl-C) does NOT stop the
workers; they keep going in the background. Use: swarm stop`,
	RunE: runRun,
}

var (
	runWorkers    int
	runIterations int
	runFollow     bool
)

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "n", 1, "Number of parallel workers (1-10)")
	runCmd.Flags().IntVar(&runIterations, "iterations", 10, "Max story iterations per worker")
	runCmd.Flags().BoolVar(&runFollow, "follow", false, "Stay in the foreground until the run completes")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := mustConfig()
	if err != nil {
		return err
	}
	st, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := run.New(cfg, git.New(wd), st)
	class, err := coord.Run(ctx, run.Options{
		Workers:       runWorkers,
		MaxIterations: runIterations,
		Follow:        runFollow,
	})

	switch class {
	case run.Success:
		return nil
	case run.Interrupted:
		fmt.Printf("%sInterrupted.%s Workers continue in the background.\n", colorYellow, colorReset)
		st.Close()
		os.Exit(class.Code())
		return nil
	default:
		return err
	}
}
