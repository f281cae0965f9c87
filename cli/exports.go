// Package cli provides the command-line interface for reactive.
// This file re-exports internal packages for embedding projects.
package cli

import (
	"github.com/zot/reactive/internal/mcp"
	"github.com/zot/reactive/internal/script"
	"github.com/zot/reactive/internal/server"
)

// Re-export server types for embedding
type (
	Server      = server.Server
	Endpoint    = server.Endpoint
	Runtime     = script.Runtime
	AgentServer = mcp.Server
)

// Re-export constructors
var (
	NewServer      = server.NewServer
	NewRuntime     = script.NewRuntime
	NewAgentServer = mcp.NewServer
)
