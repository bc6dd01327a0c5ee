package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/proc"
	"github.com/imkarma/swarm/internal/workspace"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop all running workers",
	Long:  "Sends SIGTERM to every live worker, escalating to SIGKILL after the grace period.\nWorkspaces are kept; resume with: swarm run",
	RunE:  runStop,
}

var stopGrace int

func init() {
	stopCmd.Flags().IntVar(&stopGrace, "grace", 10, "Seconds to wait before SIGKILL")
}

func runStop(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	stopped := 0
	for _, s := range workspace.NewManager(git.New(wd)).Scan() {
		if s.State != workspace.StateActive {
			continue
		}
		fmt.Printf("stopping worker %d (pid %d)...\n", s.Index, s.PID)
		proc.Stop(s.PID, time.Duration(stopGrace)*time.Second)
		ws := s.Workspace
		ws.Unlock()
		stopped++
	}

	if stopped == 0 {
		fmt.Println("No running workers.")
		return nil
	}
	fmt.Printf("%sStopped %d worker(s).%s Workspaces kept; resume with: swarm run\n", colorGreen, stopped, colorReset)
	return nil
}
