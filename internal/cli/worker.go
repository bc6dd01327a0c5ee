package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imkarma/swarm/internal/board"
	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/worker"
	"github.com/imkarma/swarm/internal/workspace"
	"github.com/spf13/cobra"
)

// workerCmd is the hidden entrypoint the coordinator spawns; one
// detached process per workspace.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	RunE:   runWorker,
}

var (
	workerIndex      int
	workerIterations int
)

func init() {
	workerCmd.Flags().IntVar(&workerIndex, "index", 0, "Workspace index")
	workerCmd.Flags().IntVar(&workerIterations, "iterations", 10, "Max story iterations")
}

func runWorker(cmd *cobra.Command, args []string) error {
	if workerIndex < 1 {
		return fmt.Errorf("worker requires --index")
	}

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

	mgr := workspace.NewManager(git.New(wd))
	ws, err := mgr.Resolve(workerIndex)
	if err != nil {
		return err
	}

	var client *board.Client
	if c := board.NewClient(cfg.Board); c != nil && c.Healthy(cmd.Context()) {
		client = c
	}
	runID := ""
	if run, err := st.ActiveRun(); err == nil && run != nil {
		runID = run.RunID
	}

	w, err := worker.New(cfg, ws, st, board.NewSync(client, st, runID, workerIndex))
	if err != nil {
		return err
	}
	w.MaxIterations = workerIterations

	// SIGTERM from `swarm stop` cancels cleanly between agent calls.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	out, err := w.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("worker %d done: %d/%d stories in %d iterations\n",
		workerIndex, out.StoriesPassed, out.StoriesTotal, out.Iterations)
	return nil
}
