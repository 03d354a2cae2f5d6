package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RidingLiquid/silverback-x402-mcp/catalog"
	"github.com/RidingLiquid/silverback-x402-mcp/dispatch"
	"github.com/RidingLiquid/silverback-x402-mcp/x402"
)

const (
	// SandboxPayTo receives the simulated sandbox payments.
	SandboxPayTo = "0x8D170Db9aB247E7013d024566093E13dc7b0f181"
	// SandboxNetwork is Base Sepolia.
	SandboxNetwork = "eip155:84532"

	receiptKey = "x402.receipt"
)

// NewSandbox builds a local stand-in for the Silverback API. Every catalog endpoint sits behind
// an x402 paywall and echoes its validated parameters once paid. Settlement is simulated.
func NewSandbox(c *catalog.Catalog, paywall *x402.Paywall, logger *zap.Logger) (*gin.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := newEngine(logger)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sandbox": true})
	})

	for _, endpoint := range c.Endpoints() {
		price, err := endpoint.PriceAtomic(int32(paywall.Asset().Decimals))
		if err != nil {
			return nil, err
		}
		r.Handle(endpoint.Method, endpoint.Path,
			requirePayment(paywall, endpoint, price, logger),
			echoEndpoint(endpoint),
		)
	}
	return r, nil
}

// requirePayment answers unpaid requests with a 402 challenge and lets paid ones through.
func requirePayment(paywall *x402.Paywall, endpoint catalog.Endpoint, amount *big.Int, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		proof := c.GetHeader(x402.HeaderPaymentSignature)
		if proof == "" {
			proof = c.GetHeader(x402.HeaderXPayment)
		}
		if proof == "" {
			required := paywall.PaymentRequired(&x402.ResourceInfo{
				URL:         requestURL(c),
				Description: endpoint.Description,
				MimeType:    "application/json",
			}, amount)
			raw, err := json.Marshal(required)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.Header(x402.HeaderPaymentRequired, base64.StdEncoding.EncodeToString(raw))
			c.AbortWithStatusJSON(http.StatusPaymentRequired, required)
			return
		}

		receipt, err := paywall.Verify(proof, amount)
		if err != nil {
			logger.Warn("x402 payment rejected",
				zap.String("tool", endpoint.Name),
				zap.String("amount", amount.String()),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
			return
		}

		raw, err := json.Marshal(receipt)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header(x402.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(raw))
		c.Set(receiptKey, receipt)
		logger.Info("x402 payment settled",
			zap.String("tool", endpoint.Name),
			zap.String("payer", receipt.Payer),
			zap.String("network", string(receipt.Network)),
		)
		c.Next()
	}
}

func echoEndpoint(endpoint catalog.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, err := requestParams(c, endpoint)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		body := gin.H{
			"tool":      endpoint.Name,
			"method":    endpoint.Method,
			"path":      endpoint.Path,
			"params":    params,
			"sandbox":   true,
			"requestId": uuid.NewString(),
		}
		if value, ok := c.Get(receiptKey); ok {
			if receipt, ok := value.(*x402.SettleResponse); ok {
				body["payer"] = receipt.Payer
				body["transaction"] = receipt.Transaction
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

// requestParams validates the query string of GET calls and the JSON body of the rest.
func requestParams(c *gin.Context, endpoint catalog.Endpoint) (map[string]any, error) {
	if endpoint.Method == http.MethodGet {
		return dispatch.ValidateQuery(endpoint, c.Request.URL.Query())
	}

	args := map[string]any{}
	raw, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return nil, err
		}
	}
	return dispatch.Validate(endpoint, args)
}

func requestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
