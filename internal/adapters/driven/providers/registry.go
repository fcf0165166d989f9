// Package providers binds the fixed provider set to its grant-variant adapters.
package providers

import (
	"fmt"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

// Adapters has one field per supported provider so a missing binding is a
// construction error rather than a runtime surprise.
type Adapters struct {
	Fortnox     driven.OAuthAdapter
	Visma       driven.OAuthAdapter
	Briox       driven.OAuthAdapter
	Bokio       driven.OAuthAdapter
	BjornLunden driven.OAuthAdapter
}

func (a Adapters) byProvider() map[domain.ProviderType]driven.OAuthAdapter {
	return map[domain.ProviderType]driven.OAuthAdapter{
		domain.ProviderFortnox:     a.Fortnox,
		domain.ProviderVisma:       a.Visma,
		domain.ProviderBriox:       a.Briox,
		domain.ProviderBokio:       a.Bokio,
		domain.ProviderBjornLunden: a.BjornLunden,
	}
}

var _ driven.ProviderRegistry = (*Registry)(nil)

// Registry resolves providers to capabilities. It is immutable after construction.
type Registry struct {
	adapters map[domain.ProviderType]driven.OAuthAdapter
}

// NewRegistry validates that every provider is bound to an adapter of the
// provider's declared grant variant.
func NewRegistry(a Adapters) (*Registry, error) {
	bound := a.byProvider()
	for _, p := range domain.AllProviders() {
		adapter := bound[p]
		if adapter == nil {
			return nil, fmt.Errorf("no adapter bound for provider %s", p)
		}
		if adapter.Provider() != p {
			return nil, fmt.Errorf("adapter for %s reports provider %s", p, adapter.Provider())
		}
		if adapter.Variant() != p.Variant() {
			return nil, fmt.Errorf("adapter for %s is %s, want %s", p, adapter.Variant(), p.Variant())
		}
	}
	return &Registry{adapters: bound}, nil
}

// Lookup returns the adapter for an already parsed provider.
func (r *Registry) Lookup(p domain.ProviderType) (driven.OAuthAdapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, domain.Validationf("unknown provider %q", p)
	}
	return a, nil
}

// Resolve parses the raw identifier against the allow-list and returns its adapter.
func (r *Registry) Resolve(raw string) (driven.OAuthAdapter, error) {
	p, err := domain.ParseProviderType(raw)
	if err != nil {
		return nil, err
	}
	return r.Lookup(p)
}

// AuthURLBuilder returns the capability or an UnsupportedOperation error.
func (r *Registry) AuthURLBuilder(p domain.ProviderType) (driven.AuthURLBuilder, error) {
	return capability[driven.AuthURLBuilder](r, p, "authorization url")
}

// Exchanger returns the capability or an UnsupportedOperation error.
func (r *Registry) Exchanger(p domain.ProviderType) (driven.Exchanger, error) {
	return capability[driven.Exchanger](r, p, "exchange")
}

// Refresher returns the capability or an UnsupportedOperation error.
func (r *Registry) Refresher(p domain.ProviderType) (driven.Refresher, error) {
	return capability[driven.Refresher](r, p, "refresh")
}

// Revoker returns the capability or an UnsupportedOperation error.
func (r *Registry) Revoker(p domain.ProviderType) (driven.Revoker, error) {
	return capability[driven.Revoker](r, p, "revoke")
}

func capability[T any](r *Registry, p domain.ProviderType, op string) (T, error) {
	var zero T
	a, err := r.Lookup(p)
	if err != nil {
		return zero, err
	}
	c, ok := a.(T)
	if !ok {
		return zero, &domain.UnsupportedError{Provider: p, Operation: op}
	}
	return c, nil
}

// Describe reports the capability set of p.
func (r *Registry) Describe(p domain.ProviderType) domain.ProviderCapabilities {
	a := r.adapters[p]
	_, authURL := a.(driven.AuthURLBuilder)
	_, exchange := a.(driven.Exchanger)
	_, refresh := a.(driven.Refresher)
	_, revoke := a.(driven.Revoker)
	return domain.ProviderCapabilities{AuthURL: authURL, Exchange: exchange, Refresh: refresh, Revoke: revoke}
}
