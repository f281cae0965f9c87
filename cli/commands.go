package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zot/reactive/internal/config"
	"github.com/zot/reactive/internal/mcp"
	"github.com/zot/reactive/internal/script"
	"github.com/zot/reactive/internal/server"
	"github.com/zot/reactive/state"
)

// newStore builds a store and an empty root, seeded by the configured script
// when scripting is enabled.
func newStore(cfg *config.Config) (*state.Store, *state.Proxy, error) {
	store := state.NewStore(state.WithBatchInterval(cfg.Batch.Interval.Duration()))
	root, _ := store.WrapContainer(map[string]any{})

	if cfg.Script.Enabled && cfg.Script.Path != "" {
		r := script.NewRuntime(cfg, store, root)
		defer r.Close()
		if err := r.RunFile(cfg.Script.Path); err != nil {
			return nil, nil, err
		}
		store.Flush()
	}
	return store, root, nil
}

// runServe starts the devtools server.
func runServe(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	store, root, err := newStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seed script failed: %v\n", err)
		return 1
	}

	srv := server.NewServer(cfg, store, root)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

// runScript executes a Lua script against a fresh store and prints the
// resulting state tree as JSON.
func runScript(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: reactive run <script.lua> [options]")
		return 1
	}
	filename := args[0]

	cfg, err := config.Load(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	store := state.NewStore(state.WithBatchInterval(cfg.Batch.Interval.Duration()))
	root, _ := store.WrapContainer(map[string]any{})

	r := script.NewRuntime(cfg, store, root)
	defer r.Close()
	if err := r.RunFile(filename); err != nil {
		fmt.Fprintf(os.Stderr, "Script error: %v\n", err)
		return 1
	}
	store.Flush()

	data, err := json.MarshalIndent(root.Snapshot(), "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encoding error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// runMCP serves the store over stdio for AI agents.
func runMCP(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	store, root, err := newStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Seed script failed: %v\n", err)
		return 1
	}

	if err := mcp.NewServer(cfg, store, root).ServeStdio(); err != nil {
		fmt.Fprintf(os.Stderr, "MCP error: %v\n", err)
		return 1
	}
	return 0
}
