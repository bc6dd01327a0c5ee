package cli

import (
	"fmt"
	"os"

	"github.com/imkarma/swarm/internal/config"
	"github.com/imkarma/swarm/internal/store"
	"github.com/imkarma/swarm/internal/workspace"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize swarm in the current repository",
	Long:  "Creates a .swarm/ directory with default config, a backlog template, and the database.",
	RunE:  runInit,
}

const backlogTemplate = `# Stories are worked in order; depends_on gates selection.
stories:
  - id: story-001
    title: Describe your first story
    description: |
      What should be built, in enough detail for an autonomous agent.
    acceptance:
      - Replace this with a verifiable acceptance criterion
`

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(workspace.SwarmDir); err == nil {
		return fmt.Errorf("swarm already initialized in this directory (.swarm/ exists)")
	}

	if err := os.MkdirAll(workspace.SwarmDir, 0755); err != nil {
		return fmt.Errorf("create .swarm: %w", err)
	}

	if err := config.Save(workspace.ConfigFile, config.DefaultConfig()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if err := os.WriteFile(workspace.BacklogFile, []byte(backlogTemplate), 0644); err != nil {
		return fmt.Errorf("write backlog: %w", err)
	}

	// Create the database; migration runs on open.
	s, err := store.New(workspace.DBFile)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	s.Close()

	fmt.Println("Initialized swarm in .swarm/")
	fmt.Println("")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit .swarm/config.yaml for your agent and validation commands")
	fmt.Println("  2. Write your stories in .swarm/backlog.yaml")
	fmt.Println("  3. Add .swarm/ to .gitignore")
	fmt.Println("  4. Run: swarm run --workers 3")

	return nil
}
