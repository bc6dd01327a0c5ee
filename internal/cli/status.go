package cli

import (
	"fmt"
	"os"

	"github.com/imkarma/swarm/internal/backlog"
	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/workspace"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every workspace's progress and liveness",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	statuses := workspace.NewManager(git.New(wd)).Scan()

	if r, err := st.LastRun(); err == nil && r != nil {
		fmt.Printf("%sRun %s%s  (%s, %d workers, %s)\n",
			colorBold, r.RunID, colorReset, r.Mode, r.NWorkers, r.Status)
	}

	if len(statuses) == 0 {
		fmt.Printf("No workspaces. Start one with: %sswarm run%s\n", colorCyan, colorReset)
		return nil
	}

	for _, s := range statuses {
		stateColor := colorYellow
		state := "paused"
		if s.State == workspace.StateActive {
			stateColor = colorGreen
			state = fmt.Sprintf("active (pid %d)", s.PID)
		}

		passed, total := 0, 0
		if bl, err := backlog.Load(s.BacklogPath()); err == nil {
			passed, total = bl.Counts()
		}

		current := ""
		if e, err := st.LastEvent(s.Index); err == nil && e != nil && e.StoryID != "" {
			current = fmt.Sprintf("  %s%s: %s%s", colorDim, e.StoryID, e.Type, colorReset)
		}

		fmt.Printf("  %sloop-%d%s  %s%s%s  %d/%d stories%s\n",
			colorBold, s.Index, colorReset, stateColor, state, colorReset, passed, total, current)

		if snap, err := st.GetSnapshot(s.Index); err == nil && snap != nil {
			fmt.Printf("         score %d (tests %d, coverage %.1f%%)\n",
				snap.Score, snap.TestFileCount, snap.CoveragePct)
		}
	}

	return nil
}
