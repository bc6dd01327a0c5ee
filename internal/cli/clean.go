package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/workspace"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove all workspaces, branches, and run state",
	Long:  "Destroys every loop branch, worktree, and the recorded run history.\nThe base branch and your backlog are untouched.",
	RunE:  runClean,
}

var cleanForce bool

func init() {
	cleanCmd.Flags().BoolVar(&cleanForce, "force", false, "Skip confirmation prompts")
}

func runClean(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	mgr := workspace.NewManager(git.New(wd))
	statuses := mgr.Scan()

	for _, s := range statuses {
		if s.State == workspace.StateActive {
			return fmt.Errorf("worker %d is still running (pid %d). Stop it first: swarm stop", s.Index, s.PID)
		}
	}

	if !cleanForce {
		fmt.Printf("%sThis deletes %d workspace(s), their branches, and all run history.%s\n",
			colorRed+colorBold, len(statuses), colorReset)
		if !confirm("Continue? [y/N]: ", "y") {
			fmt.Println("Aborted.")
			return nil
		}
		if !confirm("Type 'clean' to confirm: ", "clean") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, s := range statuses {
		ws := s.Workspace
		ws.Unlock()
		if err := mgr.Remove(&ws); err != nil {
			return err
		}
		fmt.Printf("removed loop-%d\n", s.Index)
	}

	st, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Reset(); err != nil {
		return err
	}

	fmt.Printf("%sClean.%s\n", colorGreen, colorReset)
	return nil
}

func confirm(prompt, expected string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), expected)
}
