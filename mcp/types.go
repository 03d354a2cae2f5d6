package mcp

// Info is the static service descriptor served as the silverback://info resource.
type Info struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	APIURL       string   `json:"apiUrl"`
	Website      string   `json:"website"`
	Networks     []string `json:"networks"`
	ERC8004Agent string   `json:"erc8004Agent"`
	Wallet       string   `json:"wallet,omitempty"`
	Tools        int      `json:"tools"`
}

// DefaultInfo describes the Silverback service reached through apiURL.
func DefaultInfo(apiURL, wallet string) Info {
	return Info{
		Name: "Silverback DeFi Intelligence",
		Description: "AI-powered DeFi intelligence for the agent economy: swap routing, yield analysis, " +
			"token audits, whale tracking, technical analysis, backtesting, and more. " +
			"Pay per call with USDC on Base.",
		APIURL:       apiURL,
		Website:      "https://silverbackdefi.app",
		Networks:     []string{"Base (EVM)", "Solana", "SKALE Base", "Keeta"},
		ERC8004Agent: "https://8004agents.ai/ethereum/agent/13026",
		Wallet:       wallet,
	}
}
