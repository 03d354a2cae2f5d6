package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

//go:embed endpoints.json
var defaultEndpoints []byte

// ErrUnknownTool is returned when a tool name has no catalog entry.
var ErrUnknownTool = errors.New("unknown tool")

// UnknownToolError names the tool that was not found.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}

// Endpoint describes one metered remote operation exposed as a tool.
type Endpoint struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Path        string           `json:"path"`
	Method      string           `json:"method"`
	Price       string           `json:"price"`
	Params      map[string]Param `json:"params"`
}

// ParamNames returns the parameter names in sorted order.
func (e Endpoint) ParamNames() []string {
	names := make([]string, 0, len(e.Params))
	for name := range e.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PriceDecimal parses the price label ("$0.002") as a USDC amount.
func (e Endpoint) PriceDecimal() (decimal.Decimal, error) {
	label := strings.TrimPrefix(strings.TrimSpace(e.Price), "$")
	d, err := decimal.NewFromString(label)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price %q: %w", e.Price, err)
	}
	return d, nil
}

// PriceAtomic converts the price label to the token's smallest unit.
func (e Endpoint) PriceAtomic(decimals int32) (*big.Int, error) {
	d, err := e.PriceDecimal()
	if err != nil {
		return nil, err
	}
	atomic := d.Shift(decimals)
	if !atomic.IsInteger() {
		return nil, fmt.Errorf("price %q has more than %d decimals", e.Price, decimals)
	}
	return atomic.BigInt(), nil
}

func (e Endpoint) clone() Endpoint {
	params := make(map[string]Param, len(e.Params))
	for name, p := range e.Params {
		p.Enum = append([]string(nil), p.Enum...)
		params[name] = p
	}
	e.Params = params
	return e
}

// Catalog is an immutable, ordered set of endpoints keyed by tool name.
type Catalog struct {
	endpoints []Endpoint
	byName    map[string]int
}

// New validates endpoints and builds a catalog. Defaults are normalized through Param.Coerce.
func New(endpoints []Endpoint) (*Catalog, error) {
	c := &Catalog{
		endpoints: make([]Endpoint, 0, len(endpoints)),
		byName:    make(map[string]int, len(endpoints)),
	}
	for _, ep := range endpoints {
		ep = ep.clone()
		if ep.Name == "" {
			return nil, fmt.Errorf("endpoint with path %q has no name", ep.Path)
		}
		if _, dup := c.byName[ep.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint %q", ep.Name)
		}
		if !strings.HasPrefix(ep.Path, "/") {
			return nil, fmt.Errorf("endpoint %q: path %q must start with /", ep.Name, ep.Path)
		}
		ep.Method = strings.ToUpper(ep.Method)
		if ep.Method != http.MethodGet && ep.Method != http.MethodPost {
			return nil, fmt.Errorf("endpoint %q: unsupported method %q", ep.Name, ep.Method)
		}
		if _, err := ep.PriceDecimal(); err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", ep.Name, err)
		}
		for name, p := range ep.Params {
			switch p.Type {
			case TypeString, TypeNumber, TypeInteger, TypeBoolean:
			default:
				return nil, fmt.Errorf("endpoint %q param %q: unknown type %q", ep.Name, name, p.Type)
			}
			if p.Default == nil {
				continue
			}
			normalized, err := p.Coerce(p.Default)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q param %q default: %w", ep.Name, name, err)
			}
			p.Default = normalized
			ep.Params[name] = p
		}
		c.byName[ep.Name] = len(c.endpoints)
		c.endpoints = append(c.endpoints, ep)
	}
	return c, nil
}

// Lookup returns a copy of the named endpoint.
func (c *Catalog) Lookup(name string) (Endpoint, error) {
	idx, ok := c.byName[name]
	if !ok {
		return Endpoint{}, &UnknownToolError{Name: name}
	}
	return c.endpoints[idx].clone(), nil
}

// Endpoints returns copies of all endpoints in declaration order.
func (c *Catalog) Endpoints() []Endpoint {
	out := make([]Endpoint, len(c.endpoints))
	for i, ep := range c.endpoints {
		out[i] = ep.clone()
	}
	return out
}

// Len reports the number of endpoints.
func (c *Catalog) Len() int {
	return len(c.endpoints)
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the built-in Silverback catalog.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		endpoints, err := Parse(defaultEndpoints)
		if err != nil {
			defaultErr = fmt.Errorf("parse endpoints: %w", err)
			return
		}
		defaultCatalog, defaultErr = New(endpoints)
	})
	return defaultCatalog, defaultErr
}

// Parse decodes a JSON array of endpoints, keeping numbers as json.Number.
func Parse(data []byte) ([]Endpoint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var endpoints []Endpoint
	if err := dec.Decode(&endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}
