package x402

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Scheme is the capability a payment scheme plugs into the executor: it turns an accepted
// requirement into a challenge and answers that challenge with a signed authorization.
type Scheme interface {
	// Scheme returns the scheme identifier, e.g. "exact".
	Scheme() string
	// Networks lists the network identifiers the scheme can pay on.
	Networks() []string
	// Supports reports whether network is one of Networks.
	Supports(network string) bool
	// ParseChallenge validates a requirement and fixes its nonce and expiry.
	ParseChallenge(req Requirement, now time.Time) (*PaymentChallenge, error)
	// BuildAuthorization signs a proof for challenge.
	BuildAuthorization(ctx context.Context, challenge *PaymentChallenge) (*PaymentAuthorization, error)
}

// SchemeRegistry dispatches on (scheme, network). It is built once and read-only afterwards.
type SchemeRegistry struct {
	schemes []Scheme
}

// NewSchemeRegistry registers schemes in priority order.
func NewSchemeRegistry(schemes ...Scheme) *SchemeRegistry {
	return &SchemeRegistry{schemes: append([]Scheme(nil), schemes...)}
}

// Lookup returns the first scheme that handles (scheme, network).
func (r *SchemeRegistry) Lookup(scheme, network string) (Scheme, bool) {
	for _, s := range r.schemes {
		if strings.EqualFold(s.Scheme(), scheme) && s.Supports(network) {
			return s, true
		}
	}
	return nil, false
}

// Networks returns every network any registered scheme can pay on, sorted.
func (r *SchemeRegistry) Networks() []string {
	seen := map[string]struct{}{}
	for _, s := range r.schemes {
		for _, n := range s.Networks() {
			seen[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
