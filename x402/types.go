package x402

// Wire types of the x402 payment protocol.
// Uses official github.com/coinbase/x402/go types for the v2 shapes and local structs for v1.

import (
	"math/big"
	"time"

	x402sdk "github.com/coinbase/x402/go"
	"github.com/coinbase/x402/go/types"
)

const (
	X402Version = 2

	HeaderPaymentRequired   = "PAYMENT-REQUIRED"
	HeaderPaymentSignature  = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse   = "PAYMENT-RESPONSE"
	HeaderXPayment          = "X-PAYMENT"
	HeaderXPaymentResponse  = "X-PAYMENT-RESPONSE"
	MetaKeyPaymentResponse  = "x402/payment-response"
	MetaKeyPrice            = "x402/price"
	defaultMaxTimeoutSecond = 300
)

// Re-export official types for convenience
type (
	// PaymentRequirements is one accepted payment option of a v2 challenge.
	PaymentRequirements = types.PaymentRequirements

	// PaymentPayload is the v2 proof sent back to the server.
	PaymentPayload = types.PaymentPayload

	// PaymentRequired is the v2 402 response envelope.
	PaymentRequired = types.PaymentRequired

	// ResourceInfo describes the resource requiring payment.
	ResourceInfo = types.ResourceInfo

	// SettleResponse is the settlement receipt returned with a paid response.
	SettleResponse = x402sdk.SettleResponse

	// Network is a CAIP-2 network identifier (or a legacy v1 name).
	Network = x402sdk.Network
)

// paymentRequirementsV1 is one accepted option of a v1 challenge.
type paymentRequirementsV1 struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

type paymentRequiredV1 struct {
	X402Version int                     `json:"x402Version"`
	Error       string                  `json:"error,omitempty"`
	Accepts     []paymentRequirementsV1 `json:"accepts"`
}

type paymentPayloadV1 struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// Requirement is a version-neutral view of one accepted payment option.
type Requirement struct {
	Version           int
	Scheme            string
	Network           string
	Amount            string
	Asset             string
	PayTo             string
	MaxTimeoutSeconds int
	Extra             map[string]any
	Resource          *ResourceInfo
}

// PaymentChallenge is a parsed, supported payment option. It is consumed by exactly one
// authorization and never persisted.
type PaymentChallenge struct {
	Version           int
	Scheme            string
	Network           string
	Amount            *big.Int
	Asset             string
	PayTo             string
	Nonce             string
	ExpiresAt         time.Time
	MaxTimeoutSeconds int
	Extra             map[string]any
	Resource          *ResourceInfo
	Requirement       Requirement
}

// Expired reports whether the challenge can no longer be paid at now.
func (c *PaymentChallenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// v2Requirements rebuilds the accepted requirement as it is echoed back in a v2 proof.
func (r Requirement) v2Requirements() PaymentRequirements {
	return PaymentRequirements{
		Scheme:            r.Scheme,
		Network:           r.Network,
		Amount:            r.Amount,
		Asset:             r.Asset,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra:             r.Extra,
	}
}
