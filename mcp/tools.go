package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// registerTools registers one MCP tool per catalog endpoint, all sharing the generic handler.
func (s *Server) registerTools() error {
	for _, endpoint := range s.catalog.Endpoints() {
		tool, err := endpointToTool(endpoint, s.asset)
		if err != nil {
			return err
		}
		s.mcpServer.AddTool(tool, s.callTool(endpoint.Name))
		s.logger.Debug("registered tool",
			zap.String("tool", endpoint.Name),
			zap.String("method", endpoint.Method),
			zap.String("path", endpoint.Path),
			zap.String("price", endpoint.Price),
		)
	}
	s.logger.Info("registered tools", zap.Int("count", s.catalog.Len()))
	return nil
}

// callTool returns the handler for one tool. Dispatch failures become error results, never
// protocol errors.
func (s *Server) callTool(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		return resultToMCP(s.invoker.InvokeJSON(ctx, name, args)), nil
	}
}

// ToolNames lists the registered tool names in catalog order.
func (s *Server) ToolNames() []string {
	endpoints := s.catalog.Endpoints()
	names := make([]string, len(endpoints))
	for i, ep := range endpoints {
		names[i] = ep.Name
	}
	return names
}
