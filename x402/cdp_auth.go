package x402

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	cdpjwt "github.com/coinbase/cdp-sdk/go/auth"
)

// correlationContext identifies this client to CDP-hosted endpoints.
const correlationContext = "sdk_language=go,source=silverback-x402-mcp"

// AuthProvider adds authentication headers to outbound API requests.
type AuthProvider interface {
	AuthHeaders(ctx context.Context, method string, target *url.URL) (http.Header, error)
}

// CDPAuthProvider signs each request with a Coinbase Developer Platform API key JWT.
// Without credentials it only adds the correlation header.
type CDPAuthProvider struct {
	apiKeyID     string
	apiKeySecret string
}

// NewCDPAuthProvider builds a provider for CDP-hosted endpoints.
func NewCDPAuthProvider(apiKeyID, apiKeySecret string) *CDPAuthProvider {
	return &CDPAuthProvider{
		apiKeyID:     strings.TrimSpace(apiKeyID),
		apiKeySecret: strings.TrimSpace(apiKeySecret),
	}
}

// AuthHeaders implements AuthProvider.
func (p *CDPAuthProvider) AuthHeaders(ctx context.Context, method string, target *url.URL) (http.Header, error) {
	headers := http.Header{}
	headers.Set("Correlation-Context", correlationContext)

	if p.apiKeyID == "" || p.apiKeySecret == "" {
		return headers, nil
	}

	jwt, err := cdpjwt.GenerateJWT(cdpjwt.JwtOptions{
		KeyID:         p.apiKeyID,
		KeySecret:     p.apiKeySecret,
		RequestMethod: method,
		RequestHost:   target.Host,
		RequestPath:   target.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("generate JWT: %w", err)
	}
	headers.Set("Authorization", "Bearer "+jwt)
	return headers, nil
}
