package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coinbase/x402/go/mechanisms/evm"
	x402types "github.com/coinbase/x402/go/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseChallenge turns a remote response into a payable challenge. A status other than 402 is
// not a challenge and yields (nil, nil, nil). The returned Scheme is the one selected to answer it.
func ParseChallenge(
	status int,
	header http.Header,
	body []byte,
	registry *SchemeRegistry,
	now time.Time,
) (*PaymentChallenge, Scheme, error) {
	if status != http.StatusPaymentRequired {
		return nil, nil, nil
	}

	raw := decodePaymentHeader(header.Get(HeaderPaymentRequired))
	if raw == nil {
		raw = body
	}
	if len(raw) == 0 {
		return nil, nil, malformed("empty 402 response")
	}

	requirements, err := decodeRequirements(raw)
	if err != nil {
		return nil, nil, err
	}
	if len(requirements) == 0 {
		return nil, nil, malformed("no payment requirements in response")
	}

	offered := make([]string, 0, len(requirements))
	for _, req := range requirements {
		scheme, ok := registry.Lookup(req.Scheme, req.Network)
		if !ok {
			offered = append(offered, req.Scheme+"@"+req.Network)
			continue
		}
		challenge, err := scheme.ParseChallenge(req, now)
		if err != nil {
			return nil, nil, err
		}
		return challenge, scheme, nil
	}
	return nil, nil, malformed("no supported payment option (offered: %s)", strings.Join(offered, ", "))
}

func decodeRequirements(raw []byte) ([]Requirement, error) {
	version, err := x402types.DetectVersion(raw)
	if err != nil {
		var generic map[string]any
		if jsonErr := json.Unmarshal(raw, &generic); jsonErr != nil {
			return nil, malformed("invalid JSON: %v", jsonErr)
		}
		v, ok := normalizeX402Version(generic["x402Version"])
		if !ok {
			return nil, malformed("missing x402Version")
		}
		version = v
	}

	switch version {
	case 1:
		var envelope paymentRequiredV1
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, malformed("invalid v1 challenge: %v", err)
		}
		out := make([]Requirement, 0, len(envelope.Accepts))
		for _, accept := range envelope.Accepts {
			req := Requirement{
				Version:           1,
				Scheme:            accept.Scheme,
				Network:           accept.Network,
				Amount:            accept.MaxAmountRequired,
				Asset:             accept.Asset,
				PayTo:             accept.PayTo,
				MaxTimeoutSeconds: accept.MaxTimeoutSeconds,
				Extra:             accept.Extra,
			}
			if accept.Resource != "" {
				req.Resource = &ResourceInfo{
					URL:         accept.Resource,
					Description: accept.Description,
					MimeType:    accept.MimeType,
				}
			}
			out = append(out, req)
		}
		return out, nil
	case 2:
		var envelope PaymentRequired
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, malformed("invalid v2 challenge: %v", err)
		}
		out := make([]Requirement, 0, len(envelope.Accepts))
		for _, accept := range envelope.Accepts {
			out = append(out, Requirement{
				Version:           2,
				Scheme:            accept.Scheme,
				Network:           string(accept.Network),
				Amount:            accept.Amount,
				Asset:             accept.Asset,
				PayTo:             accept.PayTo,
				MaxTimeoutSeconds: accept.MaxTimeoutSeconds,
				Extra:             accept.Extra,
				Resource:          envelope.Resource,
			})
		}
		return out, nil
	default:
		return nil, malformed("unsupported x402Version %d", version)
	}
}

// newChallenge checks the fields every scheme needs and fixes nonce and expiry.
func newChallenge(req Requirement, now time.Time) (*PaymentChallenge, error) {
	switch {
	case req.Scheme == "":
		return nil, malformed("missing scheme")
	case req.Network == "":
		return nil, malformed("missing network")
	case req.Asset == "":
		return nil, malformed("missing asset")
	case req.PayTo == "":
		return nil, malformed("missing payTo")
	case req.Amount == "":
		return nil, malformed("missing amount")
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, malformed("invalid amount %q", req.Amount)
	}

	nonce, err := challengeNonce(req.Extra)
	if err != nil {
		return nil, err
	}

	timeout := req.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultMaxTimeoutSecond
	}
	expiresAt := now.Add(time.Duration(timeout) * time.Second)
	if raw, ok := req.Extra["expiresAt"]; ok {
		expiresAt, err = parseExpiry(raw)
		if err != nil {
			return nil, err
		}
	}

	return &PaymentChallenge{
		Version:           req.Version,
		Scheme:            req.Scheme,
		Network:           req.Network,
		Amount:            amount,
		Asset:             req.Asset,
		PayTo:             req.PayTo,
		Nonce:             nonce,
		ExpiresAt:         expiresAt,
		MaxTimeoutSeconds: timeout,
		Extra:             req.Extra,
		Resource:          req.Resource,
		Requirement:       req,
	}, nil
}

func challengeNonce(extra map[string]any) (string, error) {
	if raw, ok := extra["nonce"]; ok {
		s, ok := raw.(string)
		if !ok {
			return "", malformed("nonce must be a hex string")
		}
		b, err := hexutil.Decode(s)
		if err != nil || len(b) != 32 {
			return "", malformed("nonce must be 32 bytes of 0x-prefixed hex")
		}
		return hexutil.Encode(b), nil
	}
	nonce, err := evm.CreateNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

func parseExpiry(raw any) (time.Time, error) {
	var secs int64
	switch v := raw.(type) {
	case float64:
		secs = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, malformed("invalid expiresAt %q", v)
		}
		secs = n
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			t, terr := time.Parse(time.RFC3339, v)
			if terr != nil {
				return time.Time{}, malformed("invalid expiresAt %q", v)
			}
			return t, nil
		}
		secs = n
	default:
		return time.Time{}, malformed("invalid expiresAt %v", raw)
	}
	return time.Unix(secs, 0), nil
}

func normalizeX402Version(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(parsed), true
	default:
		return 0, false
	}
}

// decodePaymentHeader returns the JSON carried base64-encoded in a payment header, or nil.
func decodePaymentHeader(raw string) []byte {
	if raw == "" {
		return nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		payload, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil
		}
	}
	if !json.Valid(payload) {
		return nil
	}
	return payload
}

// DecodeSettlement reads the settlement receipt of a paid response, if any.
func DecodeSettlement(header http.Header) *SettleResponse {
	raw := decodePaymentHeader(header.Get(HeaderPaymentResponse))
	if raw == nil {
		raw = decodePaymentHeader(header.Get(HeaderXPaymentResponse))
	}
	if raw == nil {
		return nil
	}
	var settlement SettleResponse
	if err := json.Unmarshal(raw, &settlement); err != nil {
		return nil
	}
	return &settlement
}
