// Package mcp exposes the engine's session operations as MCP tools so
// agent frontends can drive sessions over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/intakehq/intake/internal/session"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server over the session manager.
type Server struct {
	manager *session.Manager
	mcp     *server.MCPServer
}

// NewServer creates a new MCP server with the given session manager.
func NewServer(manager *session.Manager) *Server {
	s := &Server{manager: manager}

	s.mcp = server.NewMCPServer(
		"intake",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

// registerTools adds all tool definitions and their handlers.
func (s *Server) registerTools() {
	s.mcp.AddTool(createSessionTool, s.handleCreateSession)
	s.mcp.AddTool(submitTurnTool, s.handleSubmitTurn)
	s.mcp.AddTool(checkActionTool, s.handleCheckAction)
	s.mcp.AddTool(getArtifactTool, s.handleGetArtifact)
	s.mcp.AddTool(getSurfaceTool, s.handleGetSurface)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
