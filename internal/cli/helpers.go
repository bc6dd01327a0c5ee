package cli

import (
	"fmt"
	"os"

	"github.com/imkarma/swarm/internal/config"
	"github.com/imkarma/swarm/internal/store"
	"github.com/imkarma/swarm/internal/workspace"
)

// ANSI color codes.
const (
	colorReset   = "\033[0m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
)

// mustStore opens the store, returning an error if swarm is not
// initialized here.
func mustStore() (*store.Store, error) {
	if _, err := os.Stat(workspace.DBFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("swarm not initialized. Run: swarm init")
	}
	return store.New(workspace.DBFile)
}

// mustConfig loads the project config.
func mustConfig() (*config.Config, error) {
	if _, err := os.Stat(workspace.ConfigFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("swarm not initialized. Run: swarm init")
	}
	return config.Load(workspace.ConfigFile)
}
