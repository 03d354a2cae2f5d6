package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mcpserver "github.com/RidingLiquid/silverback-x402-mcp/mcp"
	"github.com/RidingLiquid/silverback-x402-mcp/x402"
)

// NewRouter builds the Gin router serving MCP over streamable HTTP plus health and info routes.
func NewRouter(server *mcpserver.Server, logger *zap.Logger) *gin.Engine {
	r := newEngine(logger)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, server.Info())
	})
	registerMCPRoute(r, server)
	return r
}

func registerMCPRoute(r *gin.Engine, server *mcpserver.Server) {
	r.Any("/mcp", gin.WrapH(server.Handler()))
}

func newEngine(logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	attachRequestLogging(r, logger)
	return r
}

func attachRequestLogging(r *gin.Engine, logger *zap.Logger) {
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Bool("payment_signature", c.Request.Header.Get(x402.HeaderPaymentSignature) != ""),
			zap.Bool("x_payment", c.Request.Header.Get(x402.HeaderXPayment) != ""),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
