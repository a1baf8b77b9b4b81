// Package mcp exposes script launches and run results as MCP tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/BKyryl/iesi/internal/engine"
	"github.com/BKyryl/iesi/internal/repository"
	"github.com/BKyryl/iesi/internal/store"
)

// Launcher runs root scripts. Satisfied by *engine.Engine.
type Launcher interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Catalog lists the available scripts. Satisfied by *repository.Repository.
type Catalog interface {
	Scripts() []repository.ScriptInfo
}

// IesiServerDeps holds the dependencies for creating an IesiServer.
type IesiServerDeps struct {
	Launcher Launcher
	Catalog  Catalog
	Results  store.ResultStore
	Logger   *slog.Logger
}

// IesiServer wraps an MCP server with the iesi tool handlers.
type IesiServer struct {
	launcher  Launcher
	catalog   Catalog
	results   store.ResultStore
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewIesiServer creates an IesiServer with its tools registered.
func NewIesiServer(deps IesiServerDeps) *IesiServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &IesiServer{
		launcher: deps.Launcher,
		catalog:  deps.Catalog,
		results:  deps.Results,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"iesi",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("IESI runs scripts of framework actions. Use iesi.scripts to list scripts, iesi.launch to run one and iesi.results to inspect a run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *IesiServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *IesiServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *IesiServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: launchTool(), Handler: s.handleLaunch},
		{Tool: scriptsTool(), Handler: s.handleScripts},
		{Tool: resultsTool(), Handler: s.handleResults},
	}
}

// --- Tool definitions ---

func launchTool() mcp.Tool {
	return mcp.NewTool("iesi.launch",
		mcp.WithDescription("Run a script to completion and return its status"),
		mcp.WithString("script", mcp.Required(), mcp.Description("Name of the script to run")),
		mcp.WithNumber("version", mcp.Description("Script version (default: latest)")),
		mcp.WithString("env", mcp.Description("Environment to run in")),
		mcp.WithString("param_list", mcp.Description("Comma separated name=value pairs set as runtime variables")),
		mcp.WithString("param_file", mcp.Description("Comma separated parameter files")),
		mcp.WithString("from", mcp.Description("Name of the first action to run")),
		mcp.WithString("to", mcp.Description("Name of the last action to run")),
		mcp.WithString("include", mcp.Description("Comma separated action numbers to run")),
		mcp.WithString("exclude", mcp.Description("Comma separated action numbers to skip")),
	)
}

func scriptsTool() mcp.Tool {
	return mcp.NewTool("iesi.scripts",
		mcp.WithDescription("List the available scripts and versions"),
		mcp.WithString("name", mcp.Description("Only list versions of this script")),
	)
}

func resultsTool() mcp.Tool {
	return mcp.NewTool("iesi.results",
		mcp.WithDescription("Get the script and action results of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithNumber("process_id", mcp.Description("Only return this script process and its outputs")),
		mcp.WithString("status", mcp.Description("Only return actions with this status")),
	)
}
