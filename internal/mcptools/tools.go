// Package mcptools exposes read-only chain queries as MCP tools so an agent
// can inspect accounts the same way the dashboard does.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aptospilot/aptospilot/internal/aptos"
	"github.com/aptospilot/aptospilot/internal/log"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	ToolGetBalance    = "aptos_get_balance"
	ToolAccountExists = "aptos_account_exists"
)

// Server wraps an MCP server publishing the chain tools.
type Server struct {
	networks  *aptos.Networks
	mcp       *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
}

// New registers the tools and mounts a streamable HTTP transport at path.
func New(networks *aptos.Networks, version, path string) *Server {
	s := &Server{networks: networks}
	s.mcp = mcpserver.NewMCPServer("aptospilot", version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)

	addressArg := mcp.WithString("address",
		mcp.Required(),
		mcp.Description("Account address, 0x-prefixed hex"),
	)
	networkArg := mcp.WithString("network",
		mcp.Description("Network name such as mainnet, testnet or devnet; defaults to "+networks.DefaultName()),
	)

	s.mcp.AddTool(mcp.NewTool(ToolGetBalance,
		mcp.WithDescription("Get the APT balance of an Aptos account"),
		mcp.WithReadOnlyHintAnnotation(true),
		addressArg, networkArg,
	), s.getBalance)

	s.mcp.AddTool(mcp.NewTool(ToolAccountExists,
		mcp.WithDescription("Check whether an Aptos account exists on chain"),
		mcp.WithReadOnlyHintAnnotation(true),
		addressArg, networkArg,
	), s.accountExists)

	s.transport = mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath(path),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return r.Context()
		}),
	)
	return s
}

func (s *Server) Handler() http.Handler { return s.transport }

// MCPServer returns the underlying server, mostly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcp }

type balanceResult struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Octas   string `json:"octas"`
	APT     string `json:"apt"`
}

type existsResult struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Exists  bool   `json:"exists"`
}

func (s *Server) resolve(req mcp.CallToolRequest) (*aptos.Client, string, string, error) {
	address, err := req.RequireString("address")
	if err != nil {
		return nil, "", "", err
	}
	network := req.GetString("network", "")
	client, err := s.networks.Get(network)
	if err != nil {
		return nil, "", "", err
	}
	if network == "" {
		network = s.networks.DefaultName()
	}
	return client, address, network, nil
}

func (s *Server) getBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, address, network, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	octas, err := client.Balance(ctx, address)
	if err != nil {
		return toolError(ctx, req, err), nil
	}
	addr, _ := aptos.NormalizeAddress(address)
	return jsonResult(balanceResult{
		Address: addr,
		Network: network,
		Octas:   strconv.FormatUint(octas, 10),
		APT:     aptos.FormatAPT(octas),
	})
}

func (s *Server) accountExists(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	client, address, network, err := s.resolve(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exists, err := client.AccountExists(ctx, address)
	if err != nil {
		return toolError(ctx, req, err), nil
	}
	addr, _ := aptos.NormalizeAddress(address)
	return jsonResult(existsResult{Address: addr, Network: network, Exists: exists})
}

func toolError(ctx context.Context, req mcp.CallToolRequest, err error) *mcp.CallToolResult {
	if !errors.Is(err, aptos.ErrInvalidAddress) {
		log.LogWarnCtx(ctx, "mcp", "Chain tool failed", map[string]any{
			"tool":  req.Params.Name,
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
