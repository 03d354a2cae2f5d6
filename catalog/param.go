package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Parameter types understood by the catalog.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// Param describes one named argument of an endpoint.
type Param struct {
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Coerce converts a decoded JSON value to the parameter's canonical Go value:
// string, json.Number (minimal decimal form), int64 or bool. The JSON kind must match the
// declared type; a numeric string is not a number.
func (p Param) Coerce(value any) (any, error) {
	var (
		out any
		err error
	)
	switch p.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", jsonKind(value))
		}
		out = s
	case TypeNumber:
		var d decimal.Decimal
		if d, err = toDecimal(value); err != nil {
			return nil, fmt.Errorf("expected number, got %s", jsonKind(value))
		}
		out = json.Number(d.String())
	case TypeInteger:
		d, derr := toDecimal(value)
		if derr != nil || !d.IsInteger() {
			return nil, fmt.Errorf("expected integer, got %s", jsonKind(value))
		}
		if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
			return nil, fmt.Errorf("integer %s out of range", d)
		}
		out = d.IntPart()
	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %s", jsonKind(value))
		}
		out = b
	default:
		return nil, fmt.Errorf("unknown parameter type %q", p.Type)
	}

	if len(p.Enum) > 0 {
		rendered := Format(out)
		for _, allowed := range p.Enum {
			if allowed == rendered {
				return out, nil
			}
		}
		return nil, fmt.Errorf("must be one of [%s], got %q", strings.Join(p.Enum, ", "), rendered)
	}
	return out, nil
}

// CoerceString converts a query-string value to the parameter's canonical Go value.
// Query strings carry no JSON kinds, so numbers and booleans are parsed from text.
func (p Param) CoerceString(raw string) (any, error) {
	switch p.Type {
	case TypeNumber, TypeInteger:
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("expected %s, got %q", p.Type, raw)
		}
		return p.Coerce(json.Number(d.String()))
	case TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return p.Coerce(true)
		case "false":
			return p.Coerce(false)
		}
		return nil, fmt.Errorf("expected boolean, got %q", raw)
	default:
		return p.Coerce(raw)
	}
}

// Format renders a coerced value the way it travels in a query string.
func Format(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int64:
		return fmt.Sprintf("%d", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, fmt.Errorf("not finite")
		}
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("not numeric")
	}
}

func jsonKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}
