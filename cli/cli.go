// Package cli provides the command-line interface for reactive.
// It exports Run() and RunWithHooks() to allow extension by wrapper projects.
package cli

import (
	"fmt"
	"os"
)

// Hooks allows extending the CLI with additional commands.
type Hooks struct {
	// BeforeDispatch is called before command dispatch.
	// Return (handled=true, exitCode) to skip normal dispatch.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// CustomHelp returns additional help text to append.
	CustomHelp func() string

	// CustomVersion returns version info to append (optional).
	CustomVersion func() string
}

// Run executes the CLI with the given arguments.
// Returns exit code (0 = success, non-zero = error).
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks executes CLI with extension hooks.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runServe(args)
	}

	command := args[0]
	cmdArgs := args[1:]

	// Let hooks intercept first
	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "serve":
		return runServe(cmdArgs)
	case "run":
		return runScript(cmdArgs)
	case "mcp":
		return runMCP(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		// Bare flags mean serve with options
		if len(command) > 0 && command[0] == '-' {
			return runServe(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Println(`Reactive state container

Usage: reactive [command] [options]

Commands:
  serve           Start the devtools server (default)
  run <script>    Run a Lua script against a fresh store and print the state
  mcp             Serve the store to AI agents over stdio (MCP)

Options:
  --host             Devtools listen address (default: 127.0.0.1)
  --port             Devtools listen port (default: 9180)
  --script           Enable Lua scripting (default: true)
  --script-path      Seed script run at startup
  --batch-interval   Change coalescing window (default: 10ms)
  --config           TOML config file (default: reactive.toml)
  -v, -vv, -vvv      Verbosity

Examples:
  reactive serve --port 9180 --script-path seed.lua
  reactive run todo.lua
  reactive mcp --script-path seed.lua`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Println(hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Println("reactive v0.1.0")
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Println(hooks.CustomVersion())
	}
}
