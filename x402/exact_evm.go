package x402

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coinbase/x402/go/mechanisms/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const SchemeExact = "exact"

// EVMAsset is an EIP-3009 token the exact scheme can pay with.
type EVMAsset = evm.AssetInfo

// EVMNetwork is a chain the exact scheme can pay on, with its default token.
type EVMNetwork = evm.NetworkConfig

// DefaultAsset returns the token the exact scheme pays with on network.
func DefaultAsset(network string) (EVMAsset, error) {
	cfg, ok := evm.NetworkConfigs[network]
	if !ok || cfg.DefaultAsset.Address == "" {
		return EVMAsset{}, fmt.Errorf("unsupported network %q", network)
	}
	return cfg.DefaultAsset, nil
}

// validAfterSkew backdates validAfter to tolerate clock drift between client and chain.
const validAfterSkew = 10 * time.Second

// ExactEVMScheme pays exact-amount challenges with EIP-3009 TransferWithAuthorization.
type ExactEVMScheme struct {
	signer   Signer
	networks map[string]EVMNetwork
	now      func() time.Time

	// mu serializes nonce bookkeeping and signing for this signer.
	mu     sync.Mutex
	signed map[string]time.Time
}

// ExactEVMOption configures an ExactEVMScheme.
type ExactEVMOption func(*ExactEVMScheme)

// WithEVMNetworks replaces the supported network table.
func WithEVMNetworks(networks map[string]EVMNetwork) ExactEVMOption {
	return func(s *ExactEVMScheme) {
		s.networks = networks
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ExactEVMOption {
	return func(s *ExactEVMScheme) {
		s.now = now
	}
}

// NewExactEVMScheme creates the exact EVM scheme for signer. It pays on every network in
// evm.NetworkConfigs unless WithEVMNetworks narrows the table.
func NewExactEVMScheme(signer Signer, opts ...ExactEVMOption) *ExactEVMScheme {
	s := &ExactEVMScheme{
		signer:   signer,
		networks: evm.NetworkConfigs,
		now:      time.Now,
		signed:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ExactEVMScheme) Scheme() string {
	return SchemeExact
}

func (s *ExactEVMScheme) Networks() []string {
	out := make([]string, 0, len(s.networks))
	for n := range s.networks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *ExactEVMScheme) Supports(network string) bool {
	_, ok := s.networks[network]
	return ok
}

// Asset returns the token config for asset on network. Only the network's default
// EIP-3009 token is payable.
func (s *ExactEVMScheme) Asset(network, asset string) (EVMAsset, bool) {
	cfg, ok := s.networks[network]
	if !ok || cfg.DefaultAsset.Address == "" {
		return EVMAsset{}, false
	}
	if !strings.EqualFold(cfg.DefaultAsset.Address, asset) {
		return EVMAsset{}, false
	}
	return cfg.DefaultAsset, true
}

func (s *ExactEVMScheme) ParseChallenge(req Requirement, now time.Time) (*PaymentChallenge, error) {
	if !strings.EqualFold(req.Scheme, SchemeExact) {
		return nil, malformed("unsupported scheme %q", req.Scheme)
	}
	if !s.Supports(req.Network) {
		return nil, malformed("unsupported network %q", req.Network)
	}
	challenge, err := newChallenge(req, now)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(challenge.PayTo) {
		return nil, malformed("payTo %q is not an EVM address", challenge.PayTo)
	}
	if _, ok := s.Asset(challenge.Network, challenge.Asset); !ok {
		return nil, malformed("unsupported asset %q on %s", challenge.Asset, challenge.Network)
	}
	return challenge, nil
}

// BuildAuthorization signs a TransferWithAuthorization for challenge. An expired challenge
// fails before the signer is called.
func (s *ExactEVMScheme) BuildAuthorization(ctx context.Context, challenge *PaymentChallenge) (*PaymentAuthorization, error) {
	now := s.now()
	if challenge.Expired(now) {
		return nil, fmt.Errorf("%w: expired at %s", ErrChallengeExpired, challenge.ExpiresAt.UTC().Format(time.RFC3339))
	}
	network, ok := s.networks[challenge.Network]
	if !ok {
		return nil, malformed("unsupported network %q", challenge.Network)
	}
	asset, ok := s.Asset(challenge.Network, challenge.Asset)
	if !ok {
		return nil, malformed("unsupported asset %q on %s", challenge.Asset, challenge.Network)
	}
	name, version := asset.Name, asset.Version
	if v, ok := challenge.Extra["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := challenge.Extra["version"].(string); ok && v != "" {
		version = v
	}

	// validBefore is the challenge expiry; validAfter follows the injected clock.
	from := s.signer.Address()
	auth := evm.ExactEIP3009Authorization{
		From:        from.Hex(),
		To:          common.HexToAddress(challenge.PayTo).Hex(),
		Value:       challenge.Amount.String(),
		ValidAfter:  strconv.FormatInt(now.Add(-validAfterSkew).Unix(), 10),
		ValidBefore: strconv.FormatInt(challenge.ExpiresAt.Unix(), 10),
		Nonce:       challenge.Nonce,
	}
	digest, err := evm.HashEIP3009Authorization(auth, network.ChainID, asset.Address, name, version)
	if err != nil {
		return nil, malformed("encode authorization: %v", err)
	}

	signature, err := s.sign(ctx, challenge, digest, now)
	if err != nil {
		return nil, err
	}

	payload := evm.ExactEIP3009Payload{
		Signature:     hexutil.Encode(signature),
		Authorization: auth,
	}
	return &PaymentAuthorization{
		Challenge: challenge,
		Signer:    from,
		Signature: signature,
		Amount:    new(big.Int).Set(challenge.Amount),
		ExpiresAt: challenge.ExpiresAt,
		Payload:   payload.ToMap(),
	}, nil
}

// sign is the critical section: check the nonce ledger, sign, record the nonce.
func (s *ExactEVMScheme) sign(ctx context.Context, challenge *PaymentChallenge, digest []byte, now time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for nonce, expiry := range s.signed {
		if !now.Before(expiry) {
			delete(s.signed, nonce)
		}
	}
	key := strings.ToLower(challenge.Nonce)
	if _, ok := s.signed[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrNonceReused, challenge.Nonce)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signature, err := s.signer.SignDigest(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}
	s.signed[key] = challenge.ExpiresAt
	return signature, nil
}
