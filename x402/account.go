package x402

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Signer produces signatures on behalf of a wallet address. SignDigest receives a 32-byte
// hash, such as an EIP-712 digest, and may block, for example when the key lives behind a
// remote signer.
type Signer interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// Account is a local secp256k1 wallet. The private key stays inside the struct.
type Account struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewAccount parses a 0x-prefixed 32-byte hex private key.
func NewAccount(privateKey string) (*Account, error) {
	if !privateKeyPattern.MatchString(privateKey) {
		return nil, ErrInvalidKeyFormat
	}
	raw, err := hexutil.Decode(privateKey)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		// zero or out-of-range scalars
		return nil, ErrInvalidKeyFormat
	}
	return &Account{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the wallet address derived from the public key.
func (a *Account) Address() common.Address {
	return a.address
}

// Sign signs keccak256(payload) and returns a 65-byte signature with v in {27, 28}.
func (a *Account) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	return a.SignDigest(ctx, crypto.Keccak256(payload))
}

// SignDigest signs a 32-byte digest and returns a 65-byte signature with v in {27, 28}.
func (a *Account) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(digest) != crypto.DigestLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", crypto.DigestLength, len(digest))
	}
	signature, err := crypto.Sign(digest, a.key)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

// String renders the address only.
func (a *Account) String() string {
	return a.address.Hex()
}

// GoString keeps %#v from dumping the key.
func (a *Account) GoString() string {
	return fmt.Sprintf("x402.Account{address: %s}", a.address.Hex())
}

// RecoverSigner returns the address that produced signature over keccak256(payload).
func RecoverSigner(payload, signature []byte) (common.Address, error) {
	return RecoverDigestSigner(crypto.Keccak256(payload), signature)
}

// RecoverDigestSigner returns the address that produced signature over a 32-byte digest.
func RecoverDigestSigner(digest, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
