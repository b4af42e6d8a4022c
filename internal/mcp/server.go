package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/cadence/internal/engine"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes the engine to agents.
type Server struct {
	engine *engine.Engine
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server over e.
func NewServer(e *engine.Engine) *Server {
	s := &Server{engine: e}

	s.mcp = server.NewMCPServer(
		"cadence",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(captureTool, s.handleCapture)
	s.mcp.AddTool(observeTool, s.handleObserve)
	s.mcp.AddTool(resumptionBriefingTool, s.handleResumptionBriefing)
	s.mcp.AddTool(listTasksTool, s.handleListTasks)
	s.mcp.AddTool(markDoneTool, s.handleMarkDone)
	s.mcp.AddTool(recordFactTool, s.handleRecordFact)
	s.mcp.AddTool(queryFactsTool, s.handleQueryFacts)
	s.mcp.AddTool(memoryContextTool, s.handleMemoryContext)
	s.mcp.AddTool(setIntensityTool, s.handleSetIntensity)
	s.mcp.AddTool(snoozeTool, s.handleSnooze)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
