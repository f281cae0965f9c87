// Package mcp exposes a tracked store to AI agents over the Model Context
// Protocol: stdio transport, tools for reading and mutating state, and a
// resource for the full tree.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zot/reactive/internal/config"
	"github.com/zot/reactive/internal/path"
	"github.com/zot/reactive/state"
)

// Version reported during the MCP handshake.
const Version = "0.1.0"

// Server wraps an MCP server bound to one tracked store.
type Server struct {
	config *config.Config
	store  *state.Store
	root   *state.Proxy
	srv    *server.MCPServer
}

// NewServer creates the MCP server with the state tools registered.
func NewServer(cfg *config.Config, store *state.Store, root *state.Proxy) *Server {
	s := &Server{
		config: cfg,
		store:  store,
		root:   root,
		srv: server.NewMCPServer("reactive", Version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio blocks, serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.config.Log(1, "MCP server starting on stdio")
	return server.ServeStdio(s.srv)
}

// registerTools installs the state access tools.
func (s *Server) registerTools() {
	s.srv.AddTool(mcp.NewTool("state_read",
		mcp.WithDescription("Read the value at a dot-separated state path. Empty path reads the whole tree."),
		mcp.WithString("path", mcp.Description("Dot-separated path, e.g. users.0.name")),
	), s.handleRead)

	s.srv.AddTool(mcp.NewTool("state_write",
		mcp.WithDescription("Write a JSON value at a dot-separated state path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Dot-separated path to write")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON-encoded value")),
	), s.handleWrite)

	s.srv.AddTool(mcp.NewTool("state_delete",
		mcp.WithDescription("Delete the value at a dot-separated state path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Dot-separated path to delete")),
	), s.handleDelete)

	s.srv.AddTool(mcp.NewTool("state_keys",
		mcp.WithDescription("List the keys of the container at a dot-separated state path."),
		mcp.WithString("path", mcp.Description("Dot-separated path of a container")),
	), s.handleKeys)
}

// registerResources installs the state tree resource.
func (s *Server) registerResources() {
	s.srv.AddResource(mcp.NewResource("state://root", "State tree",
		mcp.WithResourceDescription("The full tracked state tree as JSON"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.root.Snapshot())
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "state://root",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// resolve parses a tool path argument.
func (s *Server) resolve(pathStr string) (path.Path, error) {
	return path.Parse(pathStr)
}

// handleRead returns the JSON value at a path.
func (s *Server) handleRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pathStr := req.GetString("path", "")
	p, err := s.resolve(pathStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	snap := s.root.Snapshot()
	v, ok := path.ResolveSnapshot(snap, p)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("path %q not found", pathStr)), nil
	}
	if state.IsAbsent(v) {
		return mcp.NewToolResultText("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleWrite writes a JSON value at a path.
func (s *Server) handleWrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pathStr, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	valueStr, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p, err := s.resolve(pathStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var value any
	if err := json.Unmarshal([]byte(valueStr), &value); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("bad value: %v", err)), nil
	}
	if err := path.Write(s.root, p, value); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.config.Log(3, "MCP write: path=%q", pathStr)
	return mcp.NewToolResultText("ok"), nil
}

// handleDelete removes the value at a path.
func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pathStr, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	p, err := s.resolve(pathStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := path.Delete(s.root, p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.config.Log(3, "MCP delete: path=%q", pathStr)
	return mcp.NewToolResultText("ok"), nil
}

// handleKeys lists container keys at a path.
func (s *Server) handleKeys(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pathStr := req.GetString("path", "")
	p, err := s.resolve(pathStr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	v, ok := path.Resolve(s.root, p)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("path %q not found", pathStr)), nil
	}
	node, ok := v.(*state.Proxy)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("path %q is not a container", pathStr)), nil
	}
	data, err := json.Marshal(node.Keys())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
