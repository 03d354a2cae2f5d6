package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RidingLiquid/silverback-x402-mcp/catalog"
	"github.com/RidingLiquid/silverback-x402-mcp/x402"
)

const (
	testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testPayTo      = "0x8D170Db9aB247E7013d024566093E13dc7b0f181"
	testNetwork    = "eip155:84532"
)

type countingSigner struct {
	*x402.Account
	calls atomic.Int32
}

func (s *countingSigner) SignDigest(ctx context.Context, digest []byte) ([]byte, error) {
	s.calls.Add(1)
	return s.Account.SignDigest(ctx, digest)
}

type captured struct {
	Method string
	Path   string
	Query  string
	Body   string
	Proof  string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []captured
}

func (f *fakeAPI) record(r *http.Request) captured {
	body, _ := io.ReadAll(r.Body)
	c := captured{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   string(body),
		Proof:  r.Header.Get(x402.HeaderPaymentSignature),
	}
	f.mu.Lock()
	f.requests = append(f.requests, c)
	f.mu.Unlock()
	return c
}

func (f *fakeAPI) all() []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]captured(nil), f.requests...)
}

func newDispatcher(t *testing.T, handler http.HandlerFunc) (*Dispatcher, *countingSigner) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	account, err := x402.NewAccount(testPrivateKey)
	require.NoError(t, err)
	signer := &countingSigner{Account: account}

	c, err := catalog.Default()
	require.NoError(t, err)
	executor := x402.NewExecutor(
		x402.NewSchemeRegistry(x402.NewExactEVMScheme(signer)),
		x402.WithLogger(zaptest.NewLogger(t)),
	)
	return New(c, executor, server.URL+"/", zaptest.NewLogger(t)), signer
}

func okHandler(api *fakeAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	d, _ := newDispatcher(t, okHandler(api))

	result := d.Invoke(context.Background(), "launch_rocket", nil)
	assert.False(t, result.Success)
	assert.Equal(t, `Error calling launch_rocket: unknown tool "launch_rocket"`, result.ErrorMessage)
	assert.Empty(t, api.all())
}

func TestInvokeMissingRequiredField(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	d, _ := newDispatcher(t, okHandler(api))

	result := d.Invoke(context.Background(), "swap_quote", map[string]any{"tokenIn": "USDC", "amountIn": "100"})
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, `invalid parameter "tokenOut"`)
	assert.Empty(t, api.all())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c, err := catalog.Default()
	require.NoError(t, err)
	swap, err := c.Lookup("swap")
	require.NoError(t, err)

	forward := map[string]any{"tokenIn": "USDC", "tokenOut": "WETH", "amountIn": "100"}
	backward := map[string]any{"amountIn": "100", "tokenOut": "WETH", "tokenIn": "USDC"}
	a, err := Validate(swap, forward)
	require.NoError(t, err)
	b, err := Validate(swap, backward)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, json.Number("0.5"), a["slippage"])
	assert.NotContains(t, a, "recipient")

	params, err := Validate(swap, map[string]any{
		"tokenIn": "USDC", "tokenOut": "WETH", "amountIn": "100",
		"slippage": json.Number("1"), "recipient": nil, "extra": "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, json.Number("1"), params["slippage"])
	assert.NotContains(t, params, "recipient")
	assert.NotContains(t, params, "extra")

	_, err = Validate(swap, map[string]any{
		"tokenIn": "USDC", "tokenOut": "WETH", "amountIn": "100", "slippage": "1",
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "slippage", verr.Field)

	_, err = Validate(swap, map[string]any{"tokenIn": "USDC", "tokenOut": "WETH", "amountIn": 100})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amountIn", verr.Field)

	yield, err := c.Lookup("defi_yield")
	require.NoError(t, err)
	_, err = Validate(yield, map[string]any{"riskTolerance": "extreme"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "riskTolerance", verr.Field)
}

func TestValidateFollowsCatalogTypes(t *testing.T) {
	t.Parallel()

	c, err := catalog.Default()
	require.NoError(t, err)

	backtest, err := c.Lookup("backtest")
	require.NoError(t, err)
	params, err := Validate(backtest, map[string]any{"token": "ETH", "days": 7.5})
	require.NoError(t, err)
	assert.Equal(t, json.Number("7.5"), params["days"])

	analysis, err := c.Lookup("technical_analysis")
	require.NoError(t, err)
	params, err = Validate(analysis, map[string]any{"token": "ETH", "timeframe": "15m"})
	require.NoError(t, err)
	assert.Equal(t, "15m", params["timeframe"])
}

func TestInvokeRejectsStringForNumber(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	d, signer := newDispatcher(t, okHandler(api))

	result := d.InvokeJSON(context.Background(), "agent_reputation", json.RawMessage(`{"agentId":"42","chainId":"8453"}`))
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "chainId")
	assert.Empty(t, api.all())
	assert.Zero(t, signer.calls.Load())

	result = d.InvokeJSON(context.Background(), "agent_reputation", json.RawMessage(`{"agentId":"42","chainId":8453}`))
	require.True(t, result.Success, result.ErrorMessage)
	requests := api.all()
	require.Len(t, requests, 1)
	assert.JSONEq(t, `{"agentId":"42","chainId":8453}`, requests[0].Body)
}

func TestValidateQuery(t *testing.T) {
	t.Parallel()

	c, err := catalog.Default()
	require.NoError(t, err)
	pools, err := c.Lookup("top_pools")
	require.NoError(t, err)

	params, err := ValidateQuery(pools, url.Values{"limit": {"3"}, "unknown": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"limit": json.Number("3")}, params)

	params, err = ValidateQuery(pools, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, json.Number("10"), params["limit"])

	_, err = ValidateQuery(pools, url.Values{"limit": {"many"}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "limit", verr.Field)
}

func TestInvokeGETSerializesQuery(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	d, _ := newDispatcher(t, okHandler(api))

	result := d.InvokeJSON(context.Background(), "top_pools", json.RawMessage(`{"limit": 5}`))
	require.True(t, result.Success, result.ErrorMessage)
	assert.JSONEq(t, `{"ok":true}`, string(result.Payload))

	result = d.InvokeJSON(context.Background(), "correlation_matrix", json.RawMessage(`{"tokens": null}`))
	require.True(t, result.Success, result.ErrorMessage)

	requests := api.all()
	require.Len(t, requests, 2)
	assert.Equal(t, http.MethodGet, requests[0].Method)
	assert.Equal(t, "/api/v1/top-pools", requests[0].Path)
	assert.Equal(t, "limit=5", requests[0].Query)
	assert.Empty(t, requests[0].Body)
	assert.Equal(t, "/api/v1/correlation-matrix", requests[1].Path)
	assert.Empty(t, requests[1].Query)
}

func TestInvokePOSTSerializesBody(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	d, _ := newDispatcher(t, okHandler(api))

	result := d.InvokeJSON(context.Background(), "swap_quote", json.RawMessage(`{"tokenIn":"USDC","tokenOut":"ETH","amountIn":"100"}`))
	require.True(t, result.Success, result.ErrorMessage)
	result = d.InvokeJSON(context.Background(), "pool_analysis", nil)
	require.True(t, result.Success, result.ErrorMessage)

	requests := api.all()
	require.Len(t, requests, 2)
	assert.Equal(t, http.MethodPost, requests[0].Method)
	assert.JSONEq(t, `{"tokenIn":"USDC","tokenOut":"ETH","amountIn":"100"}`, requests[0].Body)
	assert.JSONEq(t, `{}`, requests[1].Body)
}

func TestInvokeRemoteError(t *testing.T) {
	t.Parallel()

	d, signer := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"token not found"}`))
	})

	result := d.Invoke(context.Background(), "token_metadata", map[string]any{"token": "NOPE"})
	assert.False(t, result.Success)
	assert.Equal(t, "Error calling token_metadata: API error 404: token not found", result.ErrorMessage)
	assert.Zero(t, signer.calls.Load())
}

func TestInvokeRejectsNonJSONSuccess(t *testing.T) {
	t.Parallel()

	d, _ := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	})

	result := d.Invoke(context.Background(), "gas_price", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "not valid JSON")
}

func TestInvokePaysChallengeEndToEnd(t *testing.T) {
	t.Parallel()

	paywall, err := x402.NewPaywall(testPayTo, testNetwork)
	require.NoError(t, err)
	amount := big.NewInt(100)
	api := &fakeAPI{}

	d, signer := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		req := api.record(r)
		if req.Proof == "" {
			required := paywall.PaymentRequired(&x402.ResourceInfo{URL: r.URL.String()}, amount)
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(required)
			return
		}
		receipt, err := paywall.Verify(req.Proof, amount)
		if err != nil {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		raw, _ := json.Marshal(receipt)
		w.Header().Set(x402.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(raw))
		_, _ = w.Write([]byte(`{"message":"gm"}`))
	})

	result := d.Invoke(context.Background(), "chat", map[string]any{"message": "hello"})
	require.True(t, result.Success, result.ErrorMessage)
	assert.JSONEq(t, `{"message":"gm"}`, string(result.Payload))
	require.NotNil(t, result.Payment)
	assert.True(t, result.Payment.Success)
	assert.EqualValues(t, 1, signer.calls.Load())

	requests := api.all()
	require.Len(t, requests, 2)
	assert.Equal(t, requests[0].Body, requests[1].Body)
	assert.Equal(t, requests[0].Path, requests[1].Path)
}

func TestInvokeExpiredChallengeNeverSigns(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	d, signer := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"x402Version": 2,
			"accepts": []map[string]any{{
				"scheme":            "exact",
				"network":           testNetwork,
				"amount":            "100",
				"asset":             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				"payTo":             testPayTo,
				"maxTimeoutSeconds": 60,
				"extra":             map[string]any{"expiresAt": time.Now().Add(-time.Minute).Unix()},
			}},
		})
	})

	result := d.Invoke(context.Background(), "gas_price", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, x402.ErrChallengeExpired.Error())
	assert.Zero(t, signer.calls.Load())
	assert.Len(t, api.all(), 1)
}

func TestInvokeConcurrentPaidCalls(t *testing.T) {
	t.Parallel()

	paywall, err := x402.NewPaywall(testPayTo, testNetwork)
	require.NoError(t, err)
	amount := big.NewInt(1000)

	d, signer := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		proof := r.Header.Get(x402.HeaderPaymentSignature)
		if proof == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(paywall.PaymentRequired(nil, amount))
			return
		}
		if _, err := paywall.Verify(proof, amount); err != nil {
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_, _ = w.Write([]byte(`{"gwei":1}`))
	})

	const calls = 6
	var wg sync.WaitGroup
	results := make([]Result, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Invoke(context.Background(), "gas_price", nil)
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		assert.True(t, result.Success, result.ErrorMessage)
	}
	assert.EqualValues(t, calls, signer.calls.Load())
}
