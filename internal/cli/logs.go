package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/workspace"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <index>",
	Short: "Show a workspace's progress events",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var logsRaw bool

func init() {
	logsCmd.Flags().BoolVar(&logsRaw, "raw", false, "Print the worker's raw output log instead")
}

func runLogs(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid workspace index: %s", args[0])
	}

	st, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if logsRaw {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		ws, err := workspace.NewManager(git.New(wd)).Resolve(index)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(ws.LogPath())
		if err != nil {
			return fmt.Errorf("read worker log: %w", err)
		}
		os.Stdout.Write(data)
		return nil
	}

	events, err := st.GetEvents(index)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No events for loop-%d yet.\n", index)
		return nil
	}

	for _, e := range events {
		color := colorWhite
		switch e.Type {
		case "story_passed", "backlog_complete":
			color = colorGreen
		case "validation_failed", "workflow_violation", "agent_failed", "fix_agent_failed":
			color = colorRed
		case "no_commits", "budget_exhausted":
			color = colorYellow
		}

		line := fmt.Sprintf("%s  %s%-20s%s", e.Timestamp.Local().Format("15:04:05"), color, e.Type, colorReset)
		if e.StoryID != "" {
			line += "  " + e.StoryID
		}
		if e.Content != "" {
			line += fmt.Sprintf("  %s%s%s", colorDim, e.Content, colorReset)
		}
		fmt.Println(line)
	}
	return nil
}
