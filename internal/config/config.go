// Package config loads the swarm project configuration: the coding
// agent command, the validation oracle, the optional judge, and the
// status board endpoint.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a swarm project.
type Config struct {
	Version  int      `yaml:"version"`
	Agent    Agent    `yaml:"agent"`
	Validate Validate `yaml:"validate"`
	Judge    Judge    `yaml:"judge"`
	Board    Board    `yaml:"board"`
}

// Agent describes how to invoke an AI agent, either by spawning a CLI
// process or by calling a provider's HTTP API.
type Agent struct {
	Mode       string   `yaml:"mode"`                  // "cli" or "api"
	Cmd        string   `yaml:"cmd,omitempty"`         // CLI command to spawn
	Args       []string `yaml:"args,omitempty"`        // CLI arguments (default profile)
	CheapArgs  []string `yaml:"cheap_args,omitempty"`  // CLI arguments for the cheap profile
	Provider   string   `yaml:"provider,omitempty"`    // API provider: openai, anthropic, google
	Model      string   `yaml:"model,omitempty"`       // Model name for API mode
	APIKeyEnv  string   `yaml:"api_key_env,omitempty"` // Env var name containing API key
	TimeoutSec int      `yaml:"timeout_sec,omitempty"` // Timeout in seconds (0 = default 300)
	AutoAccept bool     `yaml:"auto_accept,omitempty"` // Auto-accept all agent actions (skip permissions)
}

// Validate describes the external quality oracle. The full command is
// the authoritative pass/fail; the partial command is a faster subset
// used between fix-retry rounds.
type Validate struct {
	Cmd         string   `yaml:"cmd"`
	Args        []string `yaml:"args,omitempty"`
	PartialCmd  string   `yaml:"partial_cmd,omitempty"`
	PartialArgs []string `yaml:"partial_args,omitempty"`
	TimeoutSec  int      `yaml:"timeout_sec,omitempty"` // 0 = default 600
}

// Judge configures the optional LLM-based winner selection. The
// embedded Agent decides how the judge is invoked (cli or api).
type Judge struct {
	Enabled    bool `yaml:"enabled"`
	MaxWorkers int  `yaml:"max_workers,omitempty"` // judge refuses above this (0 = default 5)
	Agent      `yaml:",inline"`
}

// Board points at the external kanban service. Empty URL disables it.
type Board struct {
	URL        string `yaml:"url,omitempty"`
	Project    string `yaml:"project,omitempty"`     // board project name; empty = first project
	TimeoutSec int    `yaml:"timeout_sec,omitempty"` // 0 = default 5
}

// EffectiveArgs returns the final args for a CLI agent, injecting
// non-interactive and auto-accept flags for known CLI tools.
//
// Known tools and their flags:
//   - claude: --print --dangerously-skip-permissions
//   - gemini: --yolo
//   - codex:  --full-auto
//
// Users can always add these flags manually in args if they prefer.
func (a Agent) EffectiveArgs(base []string) []string {
	if a.Mode != "cli" {
		return base
	}

	args := make([]string, len(base))
	copy(args, base)

	switch a.Cmd {
	case "claude":
		if !containsAny(args, "-p", "--print") {
			args = appendFront(args, "--print")
		}
		if a.AutoAccept && !containsAny(args, "--dangerously-skip-permissions", "--permission-mode") {
			args = appendFront(args, "--dangerously-skip-permissions")
		}
	case "gemini":
		if a.AutoAccept && !containsAny(args, "-y", "--yolo") {
			args = appendFront(args, "--yolo")
		}
	case "codex":
		if a.AutoAccept && !containsAny(args, "--full-auto", "--approval-mode") {
			args = appendFront(args, "--full-auto")
		}
	}

	return args
}

// ProfileArgs returns the args for the requested execution profile.
// The cheap profile falls back to the default args when no cheap_args
// are configured.
func (a Agent) ProfileArgs(cheap bool) []string {
	if cheap && len(a.CheapArgs) > 0 {
		return a.EffectiveArgs(a.CheapArgs)
	}
	return a.EffectiveArgs(a.Args)
}

// DefaultTimeout returns the effective timeout for the agent.
func (a Agent) DefaultTimeout() int {
	if a.TimeoutSec > 0 {
		return a.TimeoutSec
	}
	return 300
}

// DefaultTimeout returns the effective timeout for the oracle.
func (v Validate) DefaultTimeout() int {
	if v.TimeoutSec > 0 {
		return v.TimeoutSec
	}
	return 600
}

// DefaultMaxWorkers returns the largest run the judge will rank.
func (j Judge) DefaultMaxWorkers() int {
	if j.MaxWorkers > 0 {
		return j.MaxWorkers
	}
	return 5
}

// DefaultTimeout returns the board request timeout.
func (b Board) DefaultTimeout() int {
	if b.TimeoutSec > 0 {
		return b.TimeoutSec
	}
	return 5
}

// Load reads and parses the config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config with a claude coding agent
// and a make-based oracle.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Agent: Agent{
			Mode:       "cli",
			Cmd:        "claude",
			Args:       []string{"--model", "sonnet"},
			CheapArgs:  []string{"--model", "haiku"},
			TimeoutSec: 1800,
			AutoAccept: true,
		},
		Validate: Validate{
			Cmd:         "make",
			Args:        []string{"validate"},
			PartialCmd:  "make",
			PartialArgs: []string{"test"},
			TimeoutSec:  600,
		},
		Judge: Judge{Enabled: false},
	}
}

func (c *Config) validate() error {
	if err := validateAgent("agent", c.Agent); err != nil {
		return err
	}
	if c.Validate.Cmd == "" {
		return fmt.Errorf("validate: cmd is required")
	}
	if c.Judge.Enabled {
		if err := validateAgent("judge", c.Judge.Agent); err != nil {
			return err
		}
	}
	return nil
}

func validateAgent(section string, a Agent) error {
	if a.Mode != "cli" && a.Mode != "api" {
		return fmt.Errorf("%s: mode must be 'cli' or 'api', got %q", section, a.Mode)
	}
	if a.Mode == "cli" && a.Cmd == "" {
		return fmt.Errorf("%s: cmd is required for cli mode", section)
	}
	if a.Mode == "api" && a.Provider == "" {
		return fmt.Errorf("%s: provider is required for api mode", section)
	}
	return nil
}

// containsAny checks if any of the targets exist in the slice.
func containsAny(slice []string, targets ...string) bool {
	for _, s := range slice {
		for _, t := range targets {
			if s == t {
				return true
			}
		}
	}
	return false
}

// appendFront inserts a value at the beginning of a slice.
func appendFront(slice []string, val string) []string {
	return append([]string{val}, slice...)
}
