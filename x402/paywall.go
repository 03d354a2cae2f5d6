package x402

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coinbase/x402/go/mechanisms/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Paywall is the seller side of the exact EVM scheme: it issues challenges and verifies the
// proofs that answer them. Settlement is simulated; nothing is submitted on chain.
type Paywall struct {
	payTo             common.Address
	network           string
	chainID           *big.Int
	asset             EVMAsset
	maxTimeoutSeconds int
	now               func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// PaywallOption configures a Paywall.
type PaywallOption func(*Paywall)

// WithPaywallClock overrides time.Now.
func WithPaywallClock(now func() time.Time) PaywallOption {
	return func(p *Paywall) {
		p.now = now
	}
}

// WithMaxTimeout sets maxTimeoutSeconds advertised in challenges.
func WithMaxTimeout(seconds int) PaywallOption {
	return func(p *Paywall) {
		p.maxTimeoutSeconds = seconds
	}
}

// NewPaywall creates a paywall collecting the network's default asset to payTo.
func NewPaywall(payTo, network string, opts ...PaywallOption) (*Paywall, error) {
	if !common.IsHexAddress(payTo) {
		return nil, fmt.Errorf("payTo %q is not an EVM address", payTo)
	}
	asset, err := DefaultAsset(network)
	if err != nil {
		return nil, err
	}
	chainID, err := evm.GetEvmChainId(network)
	if err != nil {
		return nil, fmt.Errorf("unsupported network %q: %w", network, err)
	}
	p := &Paywall{
		payTo:             common.HexToAddress(payTo),
		network:           network,
		chainID:           chainID,
		asset:             asset,
		maxTimeoutSeconds: defaultMaxTimeoutSecond,
		now:               time.Now,
		seen:              make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Asset returns the token the paywall charges in.
func (p *Paywall) Asset() EVMAsset {
	return p.asset
}

// PaymentRequired builds the v2 challenge for a resource priced at amount.
func (p *Paywall) PaymentRequired(resource *ResourceInfo, amount *big.Int) *PaymentRequired {
	return &PaymentRequired{
		X402Version: X402Version,
		Error:       "Payment required to access this resource",
		Resource:    resource,
		Accepts: []PaymentRequirements{
			{
				Scheme:            SchemeExact,
				Network:           p.network,
				Amount:            amount.String(),
				Asset:             p.asset.Address,
				PayTo:             p.payTo.Hex(),
				MaxTimeoutSeconds: p.maxTimeoutSeconds,
				Extra: map[string]any{
					"name":    p.asset.Name,
					"version": p.asset.Version,
				},
			},
		},
	}
}

// Verify checks a PAYMENT-SIGNATURE / X-PAYMENT header value against the price and returns a
// simulated settlement receipt.
func (p *Paywall) Verify(header string, amount *big.Int) (*SettleResponse, error) {
	payment, err := DecodePaymentProof(header)
	if err != nil {
		return nil, err
	}

	accepted := payment.Accepted
	if !strings.EqualFold(accepted.Scheme, SchemeExact) {
		return nil, fmt.Errorf("scheme mismatch: expected %s, got %s", SchemeExact, accepted.Scheme)
	}
	if network := string(accepted.Network); network != p.network {
		return nil, fmt.Errorf("network mismatch: expected %s, got %s", p.network, network)
	}
	if payment.X402Version >= 2 {
		if !strings.EqualFold(accepted.Asset, p.asset.Address) {
			return nil, fmt.Errorf("asset mismatch: expected %s, got %s", p.asset.Address, accepted.Asset)
		}
		if !strings.EqualFold(accepted.PayTo, p.payTo.Hex()) {
			return nil, fmt.Errorf("payTo mismatch: expected %s, got %s", p.payTo.Hex(), accepted.PayTo)
		}
	}

	proof, err := evm.PayloadFromMap(payment.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode exact payload: %w", err)
	}
	auth := proof.Authorization
	if proof.Signature == "" {
		return nil, fmt.Errorf("missing signature in payment payload")
	}
	signature, err := evm.HexToBytes(proof.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return nil, fmt.Errorf("missing authorization in payment payload")
	}
	from := common.HexToAddress(auth.From)
	if to := common.HexToAddress(auth.To); to != p.payTo {
		return nil, fmt.Errorf("recipient mismatch: expected %s, got %s", p.payTo.Hex(), to.Hex())
	}
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Cmp(amount) != 0 {
		return nil, fmt.Errorf("amount mismatch: expected %s, got %s", amount, auth.Value)
	}
	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("authorization.validAfter is not an integer")
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("authorization.validBefore is not an integer")
	}
	now := p.now().Unix()
	if validBefore <= now {
		return nil, fmt.Errorf("authorization expired")
	}
	if validAfter > now {
		return nil, fmt.Errorf("authorization not yet valid")
	}

	digest, err := evm.HashEIP3009Authorization(auth, p.chainID, p.asset.Address, p.asset.Name, p.asset.Version)
	if err != nil {
		return nil, err
	}
	signer, err := RecoverDigestSigner(digest, signature)
	if err != nil {
		return nil, err
	}
	if signer != from {
		return nil, fmt.Errorf("signature does not match payer %s", from.Hex())
	}

	if err := p.markNonce(auth.Nonce, time.Unix(validBefore, 0)); err != nil {
		return nil, err
	}

	return &SettleResponse{
		Success:     true,
		Network:     Network(p.network),
		Payer:       from.Hex(),
		Transaction: hexutil.Encode(crypto.Keccak256(signature)),
	}, nil
}

func (p *Paywall) markNonce(nonce string, expiry time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for n, exp := range p.seen {
		if !now.Before(exp) {
			delete(p.seen, n)
		}
	}
	key := strings.ToLower(nonce)
	if _, ok := p.seen[key]; ok {
		return fmt.Errorf("%w: %s", ErrNonceReused, nonce)
	}
	p.seen[key] = expiry
	return nil
}
