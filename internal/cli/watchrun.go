package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/run"
	"github.com/spf13/cobra"
)

// watchRunCmd is the hidden completion watcher `swarm run` detaches:
// it outlives the launching terminal, waits for every worker, and
// performs selection and merge.
var watchRunCmd = &cobra.Command{
	Use:    "watch-run",
	Hidden: true,
	RunE:   runWatchRun,
}

func runWatchRun(cmd *cobra.Command, args []string) error {
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
	class, err := coord.Finish(ctx)
	if class == run.Interrupted {
		st.Close()
		os.Exit(class.Code())
	}
	return err
}
