package x402

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxResponseBytes = 4 << 20 // 4 MiB

// Request is one logical call to the remote API. Body is reused byte for byte on the retry.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the final 2xx response of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Payment is set when the call was paid for.
	Payment *PaymentAuthorization
	// Settlement is the receipt the server attached to a paid response, if any.
	Settlement *SettleResponse
}

// Executor runs the request -> 402 challenge -> single paid retry cycle.
type Executor struct {
	client    *http.Client
	schemes   *SchemeRegistry
	auth      AuthProvider
	maxAmount *big.Int
	logger    *zap.Logger
	now       func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient sets the client used for both attempts.
func WithHTTPClient(client *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.client = client
	}
}

// WithAuthProvider adds provider headers to every attempt.
func WithAuthProvider(provider AuthProvider) ExecutorOption {
	return func(e *Executor) {
		e.auth = provider
	}
}

// WithMaxAmount refuses challenges above amount (smallest unit). Nil disables the cap.
func WithMaxAmount(amount *big.Int) ExecutorOption {
	return func(e *Executor) {
		e.maxAmount = amount
	}
}

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithExecutorClock overrides time.Now used when parsing challenges.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor that pays with schemes.
func NewExecutor(schemes *SchemeRegistry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client:  &http.Client{},
		schemes: schemes,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do sends req, answers at most one 402 challenge, and returns the final 2xx response.
// It never sends more than two requests.
func (e *Executor) Do(ctx context.Context, req *Request) (*Response, error) {
	logger := e.logger.With(zap.String("method", req.Method), zap.String("url", req.URL))

	first, err := e.attempt(ctx, 1, req, nil)
	if err != nil {
		return nil, err
	}
	logger.Debug("remote response", zap.Int("attempt", 1), zap.Int("status", first.StatusCode))

	switch {
	case isSuccess(first.StatusCode):
		return first, nil
	case first.StatusCode != http.StatusPaymentRequired:
		return nil, &RemoteError{Status: first.StatusCode, Body: first.Body}
	}

	challenge, scheme, err := ParseChallenge(first.StatusCode, first.Header, first.Body, e.schemes, e.now())
	if err != nil {
		logger.Warn("unusable payment challenge", zap.Error(err))
		return nil, &PaymentError{Err: err}
	}
	if e.maxAmount != nil && challenge.Amount.Cmp(e.maxAmount) > 0 {
		return nil, &PaymentError{Err: fmt.Errorf("%w: %s > %s", ErrAmountExceedsLimit, challenge.Amount, e.maxAmount)}
	}

	authorization, err := scheme.BuildAuthorization(ctx, challenge)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn("payment authorization failed", zap.Error(err))
		return nil, &PaymentError{Err: err}
	}
	if err := authorization.Consume(); err != nil {
		return nil, &PaymentError{Err: err}
	}
	value, err := authorization.Encode()
	if err != nil {
		return nil, &PaymentError{Err: err}
	}

	logger.Info("paying for request",
		zap.String("scheme", challenge.Scheme),
		zap.String("network", challenge.Network),
		zap.String("amount", challenge.Amount.String()),
		zap.String("asset", challenge.Asset),
		zap.String("pay_to", challenge.PayTo),
		zap.String("payer", authorization.Signer.Hex()),
	)

	second, err := e.attempt(ctx, 2, req, map[string]string{authorization.HeaderName(): value})
	if err != nil {
		return nil, err
	}
	logger.Debug("remote response", zap.Int("attempt", 2), zap.Int("status", second.StatusCode))

	if !isSuccess(second.StatusCode) {
		return nil, &RemoteError{Status: second.StatusCode, Body: second.Body}
	}
	second.Payment = authorization
	second.Settlement = DecodeSettlement(second.Header)
	if second.Settlement != nil {
		logger.Info("payment settled",
			zap.Bool("success", second.Settlement.Success),
			zap.String("transaction", second.Settlement.Transaction),
		)
	}
	return second, nil
}

// attempt builds and sends one request. Only failures of the round trip itself are
// reported as a TransportError.
func (e *Executor) attempt(ctx context.Context, n int, req *Request, extra map[string]string) (*Response, error) {
	httpReq, err := e.newHTTPRequest(ctx, req, extra)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	resp, err := e.send(httpReq)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, err
		}
		return nil, e.transportError(ctx, n, err)
	}
	return resp, nil
}

// newHTTPRequest builds a fresh http.Request each time so the retry carries the same method,
// URL and body bytes.
func (e *Executor) newHTTPRequest(ctx context.Context, req *Request, extra map[string]string) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if e.auth != nil {
		headers, err := e.auth.AuthHeaders(ctx, req.Method, httpReq.URL)
		if err != nil {
			return nil, fmt.Errorf("auth headers: %w", err)
		}
		for key, values := range headers {
			for _, v := range values {
				httpReq.Header.Set(key, v)
			}
		}
	}
	for key, value := range extra {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func (e *Executor) send(httpReq *http.Request) (*Response, error) {
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(payload) > maxResponseBytes {
		return nil, fmt.Errorf("%w (status %d)", ErrResponseTooLarge, resp.StatusCode)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

func (e *Executor) transportError(ctx context.Context, attempt int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	return &TransportError{Attempt: attempt, Err: err}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
