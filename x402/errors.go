package x402

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKeyFormat is returned when a private key is not 0x followed by 64 hex digits.
	ErrInvalidKeyFormat = errors.New("invalid private key format: expected 0x followed by 64 hex digits")

	// ErrMalformedChallenge is returned when a 402 response cannot be turned into a challenge
	// the client is able to pay.
	ErrMalformedChallenge = errors.New("malformed payment challenge")

	// ErrChallengeExpired is returned when a challenge expiry is not in the future.
	ErrChallengeExpired = errors.New("payment challenge expired")

	// ErrPaymentRequiredButUnresolvable marks a 402 that could not be answered with a proof.
	ErrPaymentRequiredButUnresolvable = errors.New("payment required but unresolvable")

	// ErrAmountExceedsLimit is returned when a challenge asks for more than the spending cap.
	ErrAmountExceedsLimit = errors.New("payment amount exceeds configured limit")

	// ErrNonceReused is returned when a nonce would be signed twice.
	ErrNonceReused = errors.New("payment nonce already used")

	// ErrResponseTooLarge is returned when a response body exceeds 4 MiB.
	ErrResponseTooLarge = errors.New("response exceeds 4 MiB")

	// ErrAuthorizationConsumed is returned when a proof is attached to a second request.
	ErrAuthorizationConsumed = errors.New("payment authorization already consumed")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedChallenge, fmt.Sprintf(format, args...))
}

// PaymentError wraps the reason a payment challenge could not be answered.
type PaymentError struct {
	Err error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPaymentRequiredButUnresolvable, e.Err)
}

func (e *PaymentError) Unwrap() []error {
	return []error{ErrPaymentRequiredButUnresolvable, e.Err}
}

// RemoteError is a terminal non-2xx response from the remote API.
type RemoteError struct {
	Status int
	Body   []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message())
}

// Message returns the remote "error" field when the body is a JSON object carrying one,
// otherwise the raw body.
func (e *RemoteError) Message() string {
	var decoded map[string]any
	if err := json.Unmarshal(e.Body, &decoded); err == nil {
		if msg, ok := decoded["error"].(string); ok && msg != "" {
			return msg
		}
	}
	msg := strings.TrimSpace(string(e.Body))
	if msg == "" {
		return "empty response body"
	}
	return msg
}

// TransportError is a network-level failure on the first or the retried attempt.
type TransportError struct {
	Attempt int
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on attempt %d: %v", e.Attempt, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
