package x402

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testNetwork = "eip155:84532"
	testAsset   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testPayTo   = "0x8D170Db9aB247E7013d024566093E13dc7b0f181"
	testNonce   = "0x1111111111111111111111111111111111111111111111111111111111111111"
)

var testNow = time.Unix(1_760_000_000, 0)

// countingSigner records how often the wrapped account is asked to sign.
type countingSigner struct {
	*Account
	calls atomic.Int32
}

func (s *countingSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	s.calls.Add(1)
	return s.Account.SignDigest(ctx, digest)
}

func newCountingSigner(t *testing.T) *countingSigner {
	t.Helper()
	account, err := NewAccount(testPrivateKey)
	require.NoError(t, err)
	return &countingSigner{Account: account}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func requirement(amount string, extra map[string]any) map[string]any {
	req := map[string]any{
		"scheme":            "exact",
		"network":           testNetwork,
		"amount":            amount,
		"asset":             testAsset,
		"payTo":             testPayTo,
		"maxTimeoutSeconds": 60,
	}
	if extra != nil {
		req["extra"] = extra
	}
	return req
}

func challengeBody(t *testing.T, accepts ...map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"x402Version": 2,
		"error":       "payment required",
		"resource": map[string]any{
			"url":         "https://api.example/api/v1/top-pools",
			"description": "top pools",
			"mimeType":    "application/json",
		},
		"accepts": accepts,
	})
	require.NoError(t, err)
	return body
}

func testRegistry(signer Signer, now time.Time) *SchemeRegistry {
	return NewSchemeRegistry(NewExactEVMScheme(signer, WithClock(fixedClock(now))))
}

var _ Signer = (*countingSigner)(nil)
var _ Signer = (*Account)(nil)
