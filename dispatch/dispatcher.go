package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RidingLiquid/silverback-x402-mcp/catalog"
	"github.com/RidingLiquid/silverback-x402-mcp/x402"
)

// Executor sends one logical request, paying for it when challenged.
type Executor interface {
	Do(ctx context.Context, req *x402.Request) (*x402.Response, error)
}

// Result is the outcome of one tool invocation. Exactly one of Payload and ErrorMessage is set.
type Result struct {
	Success      bool
	Payload      json.RawMessage
	ErrorMessage string
	// Payment is the settlement receipt of a paid call, when the server sent one.
	Payment *x402.SettleResponse
}

// ValidationError reports an argument that does not match the endpoint's parameters.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

// Dispatcher turns tool invocations into HTTP calls against the catalog's endpoints.
type Dispatcher struct {
	catalog  *catalog.Catalog
	executor Executor
	baseURL  string
	logger   *zap.Logger
}

// New creates a dispatcher calling endpoints under baseURL.
func New(c *catalog.Catalog, executor Executor, baseURL string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		catalog:  c,
		executor: executor,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// InvokeJSON decodes raw tool arguments and invokes the named tool.
func (d *Dispatcher) InvokeJSON(ctx context.Context, name string, raw json.RawMessage) Result {
	args := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&args); err != nil {
			return failure(name, fmt.Errorf("arguments must be a JSON object: %w", err))
		}
	}
	return d.Invoke(ctx, name, args)
}

// Invoke resolves, validates, sends and wraps one call. Failures are returned as a Result,
// never as an error or panic.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args map[string]any) (result Result) {
	start := time.Now()
	logger := d.logger.With(zap.String("tool", name), zap.String("call_id", uuid.NewString()))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool call panicked", zap.Any("panic", r))
			result = failure(name, fmt.Errorf("internal error: %v", r))
		}
	}()

	payload, resp, err := d.call(ctx, logger, name, args)
	if err != nil {
		logger.Warn("tool call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return failure(name, err)
	}
	logger.Info("tool call succeeded",
		zap.Int("status", resp.StatusCode),
		zap.Bool("paid", resp.Payment != nil),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Success: true, Payload: payload, Payment: resp.Settlement}
}

func (d *Dispatcher) call(ctx context.Context, logger *zap.Logger, name string, args map[string]any) (json.RawMessage, *x402.Response, error) {
	endpoint, err := d.catalog.Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	params, err := Validate(endpoint, args)
	if err != nil {
		return nil, nil, err
	}
	for key := range args {
		if _, known := endpoint.Params[key]; !known {
			logger.Debug("dropping unknown argument", zap.String("field", key))
		}
	}

	req, err := d.buildRequest(endpoint, params)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("calling endpoint", zap.String("method", req.Method), zap.String("path", endpoint.Path))

	resp, err := d.executor.Do(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, nil, fmt.Errorf("empty response body (status %d)", resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, nil, fmt.Errorf("response is not valid JSON (status %d)", resp.StatusCode)
	}
	return json.RawMessage(body), resp, nil
}

// Validate checks args against the endpoint's parameters, applies defaults and drops
// unknown keys. Explicit null counts as absent.
func Validate(endpoint catalog.Endpoint, args map[string]any) (map[string]any, error) {
	params := make(map[string]any, len(endpoint.Params))
	for _, name := range endpoint.ParamNames() {
		param := endpoint.Params[name]
		value, present := args[name]
		if !present || value == nil {
			switch {
			case param.Default != nil:
				params[name] = param.Default
			case param.Required:
				return nil, &ValidationError{Field: name, Reason: "required field missing"}
			}
			continue
		}
		coerced, err := param.Coerce(value)
		if err != nil {
			return nil, &ValidationError{Field: name, Reason: err.Error()}
		}
		params[name] = coerced
	}
	return params, nil
}

// ValidateQuery is Validate for a decoded query string. Values of declared parameters are
// parsed from text first; the last value of a repeated key wins.
func ValidateQuery(endpoint catalog.Endpoint, query url.Values) (map[string]any, error) {
	args := make(map[string]any, len(query))
	for name, values := range query {
		param, ok := endpoint.Params[name]
		if !ok || len(values) == 0 {
			continue
		}
		value, err := param.CoerceString(values[len(values)-1])
		if err != nil {
			return nil, &ValidationError{Field: name, Reason: err.Error()}
		}
		args[name] = value
	}
	return Validate(endpoint, args)
}

func (d *Dispatcher) buildRequest(endpoint catalog.Endpoint, params map[string]any) (*x402.Request, error) {
	target := d.baseURL + endpoint.Path
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	req := &x402.Request{Method: endpoint.Method, URL: target, Header: header}
	switch endpoint.Method {
	case http.MethodGet:
		if query := EncodeQuery(params); query != "" {
			req.URL = target + "?" + query
		}
	default:
		body, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		req.Body = body
	}
	return req, nil
}

// EncodeQuery renders validated params as a query string with sorted keys, skipping nulls.
func EncodeQuery(params map[string]any) string {
	values := url.Values{}
	for key, value := range params {
		if value == nil {
			continue
		}
		values.Set(key, catalog.Format(value))
	}
	return values.Encode()
}

func failure(name string, err error) Result {
	return Result{ErrorMessage: fmt.Sprintf("Error calling %s: %v", name, err)}
}
