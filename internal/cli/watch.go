package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/imkarma/swarm/internal/git"
	"github.com/imkarma/swarm/internal/tui"
	"github.com/imkarma/swarm/internal/workspace"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live run dashboard",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	st, err := mustStore()
	if err != nil {
		return err
	}
	defer st.Close()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	model := tui.New(st, workspace.NewManager(git.New(wd)))
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
