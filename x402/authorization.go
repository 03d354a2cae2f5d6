package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentAuthorization is a signed proof answering one challenge. It may be attached to a
// single request only.
type PaymentAuthorization struct {
	Challenge *PaymentChallenge
	Signer    common.Address
	Signature []byte
	Amount    *big.Int
	ExpiresAt time.Time
	// Payload is the scheme-specific "payload" object of the proof.
	Payload map[string]any

	consumed atomic.Bool
}

// HeaderName is the request header the proof travels in for the challenge's protocol version.
func (a *PaymentAuthorization) HeaderName() string {
	if a.Challenge.Version >= 2 {
		return HeaderPaymentSignature
	}
	return HeaderXPayment
}

// Encode serializes the proof as the base64 JSON header value the remote service expects.
func (a *PaymentAuthorization) Encode() (string, error) {
	var doc any
	if a.Challenge.Version >= 2 {
		doc = PaymentPayload{
			X402Version: a.Challenge.Version,
			Resource:    a.Challenge.Resource,
			Accepted:    a.Challenge.Requirement.v2Requirements(),
			Payload:     a.Payload,
		}
	} else {
		doc = paymentPayloadV1{
			X402Version: 1,
			Scheme:      a.Challenge.Scheme,
			Network:     a.Challenge.Network,
			Payload:     a.Payload,
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Consume marks the proof as attached to a request. A second call fails.
func (a *PaymentAuthorization) Consume() error {
	if !a.consumed.CompareAndSwap(false, true) {
		return ErrAuthorizationConsumed
	}
	return nil
}

// DecodePaymentProof reads a proof header value back into a v2 payload. v1 proofs are
// lifted into the same shape with Accepted holding scheme and network.
func DecodePaymentProof(value string) (*PaymentPayload, error) {
	raw := decodePaymentHeader(value)
	if raw == nil {
		return nil, fmt.Errorf("payment header is not base64 JSON")
	}
	var envelope struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	if envelope.X402Version == 1 {
		var v1 paymentPayloadV1
		if err := json.Unmarshal(raw, &v1); err != nil {
			return nil, fmt.Errorf("decode v1 payment header: %w", err)
		}
		payload := PaymentPayload{X402Version: 1, Payload: v1.Payload}
		payload.Accepted.Scheme = v1.Scheme
		payload.Accepted.Network = v1.Network
		return &payload, nil
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	return &payload, nil
}
