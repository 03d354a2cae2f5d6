// Package mcp exposes the endpoint catalog as MCP tools. Each tool call is dispatched to the
// remote API and paid for on demand.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/RidingLiquid/silverback-x402-mcp/catalog"
	"github.com/RidingLiquid/silverback-x402-mcp/dispatch"
	"github.com/RidingLiquid/silverback-x402-mcp/x402"
)

const (
	serverName    = "silverback-x402-mcp"
	serverVersion = "1.0.0"
	infoURI       = "silverback://info"

	// defaultPriceNetwork is Base mainnet, where the Silverback API settles.
	defaultPriceNetwork = "eip155:8453"
)

// Invoker runs one tool call. *dispatch.Dispatcher implements it.
type Invoker interface {
	InvokeJSON(ctx context.Context, name string, args json.RawMessage) dispatch.Result
}

// Server wraps the MCP server with one tool per catalog endpoint.
type Server struct {
	mcpServer *mcp.Server
	catalog   *catalog.Catalog
	invoker   Invoker
	info      Info
	asset     x402.EVMAsset
	logger    *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPriceAsset sets the token used to express tool prices in atomic units.
func WithPriceAsset(asset x402.EVMAsset) Option {
	return func(s *Server) {
		s.asset = asset
	}
}

// NewServer creates an MCP server for the catalog.
func NewServer(c *catalog.Catalog, invoker Invoker, info Info, opts ...Option) (*Server, error) {
	asset, err := x402.DefaultAsset(defaultPriceNetwork)
	if err != nil {
		return nil, err
	}
	s := &Server{
		catalog: c,
		invoker: invoker,
		info:    info,
		asset:   asset,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.info.Tools = c.Len()

	s.mcpServer = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		&mcp.ServerOptions{},
	)

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	s.registerInfoResource()
	return s, nil
}

// Info returns the service descriptor.
func (s *Server) Info() Info {
	return s.info
}

// Run serves MCP over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves one session over transport. Used for in-process clients.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, transport, nil)
}

// Handler returns an http.Handler for the MCP streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return s.HandlerWithOptions(nil)
}

// HandlerWithOptions returns an http.Handler for the MCP streamable HTTP transport
// with custom StreamableHTTPOptions.
func (s *Server) HandlerWithOptions(opts *mcp.StreamableHTTPOptions) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, opts)
}

func (s *Server) registerInfoResource() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         infoURI,
		Name:        "info",
		Description: "Silverback service descriptor",
		MIMEType:    "application/json",
	}, s.readInfo)
}

func (s *Server) readInfo(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req.Params.URI != infoURI {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	data, err := json.Marshal(s.info)
	if err != nil {
		return nil, fmt.Errorf("marshal info: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      infoURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}
