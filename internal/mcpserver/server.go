// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes Othala queries for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/oracle"
)

// Server wraps the MCP server with Othala tools.
type Server struct {
	mcp *server.MCPServer
	svc *oracle.Service
}

// New creates a new MCP server with all query tools registered.
func New(svc *oracle.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("social_distance",
		mcp.WithDescription("Shortest directed follow distance between two pubkeys, "+
			"with path count, mutual-follow flag, and optional bridge nodes."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Origin pubkey (64-char hex)")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target pubkey (64-char hex)")),
		mcp.WithNumber("max_hops", mcp.Description("Hop bound (1-5, default from config)")),
		mcp.WithBoolean("include_bridges", mcp.Description("Also report nodes where shortest paths cross")),
	), s.socialDistance)

	s.mcp.AddTool(mcp.NewTool("shortest_path",
		mcp.WithDescription("One shortest follow path between two pubkeys, as the full pubkey sequence."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Origin pubkey (64-char hex)")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target pubkey (64-char hex)")),
	), s.shortestPath)

	s.mcp.AddTool(mcp.NewTool("list_follows",
		mcp.WithDescription("The complete outgoing follow set of a pubkey."),
		mcp.WithString("pubkey", mcp.Required(), mcp.Description("Pubkey (64-char hex)")),
	), s.listFollows)

	s.mcp.AddTool(mcp.NewTool("graph_stats",
		mcp.WithDescription("Graph, cache, and lock statistics for the running oracle."),
	), s.graphStats)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) socialDistance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := req.GetArguments()
	maxHops := 0
	if v, ok := args["max_hops"].(float64); ok {
		maxHops = int(v)
	}
	includeBridges, _ := args["include_bridges"].(bool)

	result, err := s.svc.Distance(ctx, oracle.DistanceRequest{
		From:           from,
		To:             to,
		MaxHops:        maxHops,
		IncludeBridges: includeBridges,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) shortestPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := s.svc.ShortestPath(ctx, from, to, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(path, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listFollows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pubkey, err := req.RequireString("pubkey")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	follows, err := s.svc.FollowsOf(ctx, pubkey)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(follows, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) graphStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.svc.Stats(ctx), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
