package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/RidingLiquid/silverback-x402-mcp/catalog"
	"github.com/RidingLiquid/silverback-x402-mcp/dispatch"
	"github.com/RidingLiquid/silverback-x402-mcp/x402"
)

// priceSymbol names the stablecoin every catalog price is quoted in.
const priceSymbol = "USDC"

func endpointToTool(endpoint catalog.Endpoint, asset x402.EVMAsset) (*mcp.Tool, error) {
	atomic, err := endpoint.PriceAtomic(int32(asset.Decimals))
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", endpoint.Name, err)
	}
	return &mcp.Tool{
		Name:        endpoint.Name,
		Description: fmt.Sprintf("%s (%s %s per call)", endpoint.Description, endpoint.Price, priceSymbol),
		InputSchema: inputSchema(endpoint),
		Meta: map[string]any{
			x402.MetaKeyPrice: map[string]any{
				"label":  endpoint.Price,
				"amount": atomic.String(),
				"asset":  priceSymbol,
				"token":  asset.Address,
			},
		},
	}, nil
}

// inputSchema renders the endpoint parameters as a JSON schema object.
func inputSchema(endpoint catalog.Endpoint) map[string]any {
	properties := map[string]any{}
	required := []string{}
	for _, name := range endpoint.ParamNames() {
		param := endpoint.Params[name]
		prop := map[string]any{
			"type": param.Type,
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[name] = prop
		if param.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func resultToMCP(result dispatch.Result) *mcp.CallToolResult {
	if !result.Success {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{
					Text: result.ErrorMessage,
				},
			},
			IsError: true,
		}
	}

	var pretty bytes.Buffer
	text := string(result.Payload)
	if err := json.Indent(&pretty, result.Payload, "", "  "); err == nil {
		text = strings.TrimSpace(pretty.String())
	}

	out := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: text,
			},
		},
	}
	if result.Payment != nil {
		out.Meta = map[string]any{
			x402.MetaKeyPaymentResponse: result.Payment,
		}
	}
	return out
}
