package catalog

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 19, c.Len())

	endpoints := c.Endpoints()
	assert.Equal(t, "swap_quote", endpoints[0].Name)
	assert.Equal(t, "chat", endpoints[len(endpoints)-1].Name)

	for _, ep := range endpoints {
		assert.True(t, strings.HasPrefix(ep.Path, "/api/v1/"), ep.Name)
		assert.Contains(t, []string{"GET", "POST"}, ep.Method, ep.Name)
		_, err := ep.PriceAtomic(6)
		assert.NoError(t, err, ep.Name)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	ep, err := c.Lookup("top_pools")
	require.NoError(t, err)
	assert.Equal(t, "GET", ep.Method)
	assert.Equal(t, "/api/v1/top-pools", ep.Path)
	assert.Equal(t, TypeNumber, ep.Params["limit"].Type)
	assert.Equal(t, json.Number("10"), ep.Params["limit"].Default)

	_, err = c.Lookup("launch_rocket")
	assert.True(t, errors.Is(err, ErrUnknownTool))
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "launch_rocket", unknown.Name)
}

func TestLookupReturnsCopies(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)

	ep, err := c.Lookup("defi_yield")
	require.NoError(t, err)
	ep.Params["riskTolerance"].Enum[0] = "reckless"
	delete(ep.Params, "token")

	again, err := c.Lookup("defi_yield")
	require.NoError(t, err)
	assert.Equal(t, []string{"low", "medium", "high"}, again.Params["riskTolerance"].Enum)
	assert.Contains(t, again.Params, "token")
}

func TestPriceAtomic(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"$0.001": "1000",
		"$0.05":  "50000",
		"$0.10":  "100000",
		"2":      "2000000",
	}
	for label, want := range cases {
		got, err := Endpoint{Price: label}.PriceAtomic(6)
		require.NoError(t, err, label)
		assert.Equal(t, want, got.String(), label)
	}

	_, err := Endpoint{Price: "$0.0000001"}.PriceAtomic(6)
	assert.Error(t, err)
	_, err = Endpoint{Price: "free"}.PriceAtomic(6)
	assert.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	valid := func() Endpoint {
		return Endpoint{Name: "x", Path: "/x", Method: "get", Price: "$0.001", Params: map[string]Param{
			"n": {Type: TypeInteger, Default: json.Number("3")},
		}}
	}

	c, err := New([]Endpoint{valid()})
	require.NoError(t, err)
	ep, err := c.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, "GET", ep.Method)
	assert.Equal(t, int64(3), ep.Params["n"].Default)

	broken := map[string]func(*Endpoint){
		"no name":       func(e *Endpoint) { e.Name = "" },
		"relative path": func(e *Endpoint) { e.Path = "x" },
		"bad method":    func(e *Endpoint) { e.Method = "DELETE" },
		"bad price":     func(e *Endpoint) { e.Price = "cheap" },
		"bad type":      func(e *Endpoint) { e.Params["n"] = Param{Type: "date"} },
		"bad default":   func(e *Endpoint) { e.Params["n"] = Param{Type: TypeInteger, Default: "many"} },
	}
	for name, mutate := range broken {
		ep := valid()
		mutate(&ep)
		_, err := New([]Endpoint{ep})
		assert.Error(t, err, name)
	}

	_, err = New([]Endpoint{valid(), valid()})
	assert.ErrorContains(t, err, "duplicate")
}

func TestParamCoerce(t *testing.T) {
	t.Parallel()

	cases := []struct {
		param Param
		in    any
		want  any
	}{
		{Param{Type: TypeString}, "USDC", "USDC"},
		{Param{Type: TypeNumber}, json.Number("0.50"), json.Number("0.5")},
		{Param{Type: TypeNumber}, float64(3), json.Number("3")},
		{Param{Type: TypeInteger}, json.Number("10"), int64(10)},
		{Param{Type: TypeInteger}, json.Number("5.0"), int64(5)},
		{Param{Type: TypeBoolean}, true, true},
		{Param{Type: TypeBoolean}, false, false},
		{Param{Type: TypeString, Enum: []string{"low", "high"}}, "low", "low"},
	}
	for _, tc := range cases {
		got, err := tc.param.Coerce(tc.in)
		require.NoError(t, err, "%v <- %v", tc.param.Type, tc.in)
		assert.Equal(t, tc.want, got)
	}

	failures := []struct {
		param Param
		in    any
	}{
		{Param{Type: TypeString}, json.Number("1")},
		{Param{Type: TypeString}, nil},
		{Param{Type: TypeNumber}, "ten"},
		{Param{Type: TypeNumber}, "1.25"},
		{Param{Type: TypeInteger}, "8453"},
		{Param{Type: TypeBoolean}, "false"},
		{Param{Type: TypeNumber}, true},
		{Param{Type: TypeInteger}, json.Number("1.5")},
		{Param{Type: TypeBoolean}, "yes"},
		{Param{Type: TypeBoolean}, json.Number("1")},
		{Param{Type: TypeString, Enum: []string{"low", "high"}}, "medium"},
	}
	for _, tc := range failures {
		_, err := tc.param.Coerce(tc.in)
		assert.Error(t, err, "%v <- %v", tc.param.Type, tc.in)
	}
}

func TestParamCoerceString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		param Param
		in    string
		want  any
	}{
		{Param{Type: TypeString}, "8453", "8453"},
		{Param{Type: TypeNumber}, "1.250", json.Number("1.25")},
		{Param{Type: TypeNumber}, "7.5", json.Number("7.5")},
		{Param{Type: TypeInteger}, "8453", int64(8453)},
		{Param{Type: TypeBoolean}, "TRUE", true},
		{Param{Type: TypeBoolean}, "false", false},
	}
	for _, tc := range cases {
		got, err := tc.param.CoerceString(tc.in)
		require.NoError(t, err, "%v <- %q", tc.param.Type, tc.in)
		assert.Equal(t, tc.want, got)
	}

	for _, tc := range []struct {
		param Param
		in    string
	}{
		{Param{Type: TypeNumber}, "ten"},
		{Param{Type: TypeInteger}, "1.5"},
		{Param{Type: TypeBoolean}, "yes"},
		{Param{Type: TypeString, Enum: []string{"low", "high"}}, "medium"},
	} {
		_, err := tc.param.CoerceString(tc.in)
		assert.Error(t, err, "%v <- %q", tc.param.Type, tc.in)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a", Format("a"))
	assert.Equal(t, "0.5", Format(json.Number("0.5")))
	assert.Equal(t, "42", Format(int64(42)))
	assert.Equal(t, "true", Format(true))
}
