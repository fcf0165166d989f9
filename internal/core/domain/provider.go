package domain

import "strings"

// ProviderType identifies an accounting backend
type ProviderType string

const (
	ProviderFortnox     ProviderType = "fortnox"
	ProviderVisma       ProviderType = "visma"
	ProviderBriox       ProviderType = "briox"
	ProviderBokio       ProviderType = "bokio"
	ProviderBjornLunden ProviderType = "bjornlunden"
)

// GrantVariant is the token acquisition flow a provider uses
type GrantVariant string

const (
	GrantAuthorizationCode GrantVariant = "authorization_code"
	GrantApplicationToken  GrantVariant = "application_token"
	GrantPrivateToken      GrantVariant = "private_token"
	GrantClientCredentials GrantVariant = "client_credentials"
)

// HasExpiry reports whether tokens of this variant carry an expiry that needs refreshing.
func (g GrantVariant) HasExpiry() bool {
	switch g {
	case GrantAuthorizationCode, GrantClientCredentials:
		return true
	}
	return false
}

// ResourceType is a category of accounting data synced independently
type ResourceType string

const (
	ResourceInvoices           ResourceType = "invoices"
	ResourceSupplierInvoices   ResourceType = "supplier_invoices"
	ResourceCustomers          ResourceType = "customers"
	ResourceSuppliers          ResourceType = "suppliers"
	ResourceAccounts           ResourceType = "accounts"
	ResourceJournals           ResourceType = "journals"
	ResourceCompanyInformation ResourceType = "company_information"
)

// AllResourceTypes returns every known resource type in canonical order
func AllResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceInvoices,
		ResourceSupplierInvoices,
		ResourceCustomers,
		ResourceSuppliers,
		ResourceAccounts,
		ResourceJournals,
		ResourceCompanyInformation,
	}
}

// ParseResourceType validates s against the known enum.
func ParseResourceType(s string) (ResourceType, error) {
	for _, rt := range AllResourceTypes() {
		if string(rt) == s {
			return rt, nil
		}
	}
	return "", Validationf("unknown resource type %q", s)
}

// ProviderInfo describes a provider's fixed capabilities
type ProviderInfo struct {
	Type      ProviderType   `json:"type"`
	Name      string         `json:"name"`
	Variant   GrantVariant   `json:"variant"`
	Resources []ResourceType `json:"resources"`
}

// ProviderCapabilities lists which token operations a provider's adapter offers
type ProviderCapabilities struct {
	AuthURL  bool `json:"authUrl"`
	Exchange bool `json:"exchange"`
	Refresh  bool `json:"refresh"`
	Revoke   bool `json:"revoke"`
}

// ProviderDescription is a catalog entry plus the wired capabilities.
// @Description Provider catalog entry with supported token operations
type ProviderDescription struct {
	ProviderInfo
	Capabilities ProviderCapabilities `json:"capabilities"`
}

// Supports reports whether the provider can sync the resource type.
func (p ProviderInfo) Supports(rt ResourceType) bool {
	for _, r := range p.Resources {
		if r == rt {
			return true
		}
	}
	return false
}

var providerCatalog = map[ProviderType]ProviderInfo{
	ProviderFortnox: {
		Type:      ProviderFortnox,
		Name:      "Fortnox",
		Variant:   GrantAuthorizationCode,
		Resources: AllResourceTypes(),
	},
	ProviderVisma: {
		Type:    ProviderVisma,
		Name:    "Visma eEkonomi",
		Variant: GrantAuthorizationCode,
		Resources: []ResourceType{
			ResourceInvoices, ResourceSupplierInvoices, ResourceCustomers,
			ResourceSuppliers, ResourceAccounts, ResourceJournals, ResourceCompanyInformation,
		},
	},
	ProviderBriox: {
		Type:    ProviderBriox,
		Name:    "Briox",
		Variant: GrantApplicationToken,
		Resources: []ResourceType{
			ResourceInvoices, ResourceSupplierInvoices, ResourceCustomers,
			ResourceSuppliers, ResourceAccounts, ResourceJournals,
		},
	},
	ProviderBokio: {
		Type:    ProviderBokio,
		Name:    "Bokio",
		Variant: GrantPrivateToken,
		Resources: []ResourceType{
			ResourceInvoices, ResourceCustomers, ResourceAccounts, ResourceJournals,
			ResourceCompanyInformation,
		},
	},
	ProviderBjornLunden: {
		Type:    ProviderBjornLunden,
		Name:    "Björn Lundén",
		Variant: GrantClientCredentials,
		Resources: []ResourceType{
			ResourceInvoices, ResourceSupplierInvoices, ResourceCustomers,
			ResourceSuppliers, ResourceAccounts, ResourceJournals, ResourceCompanyInformation,
		},
	},
}

// AllProviders returns the fixed provider set
func AllProviders() []ProviderType {
	return []ProviderType{
		ProviderFortnox,
		ProviderVisma,
		ProviderBriox,
		ProviderBokio,
		ProviderBjornLunden,
	}
}

// ParseProviderType checks s against the provider allow-list.
func ParseProviderType(s string) (ProviderType, error) {
	p := ProviderType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := providerCatalog[p]; !ok {
		return "", Validationf("unknown provider %q", s)
	}
	return p, nil
}

// Info returns the catalog entry. Callers must hold a parsed ProviderType.
func (p ProviderType) Info() ProviderInfo {
	return providerCatalog[p]
}

// Variant is shorthand for Info().Variant
func (p ProviderType) Variant() GrantVariant {
	return providerCatalog[p].Variant
}

// ResolveResourceTypes returns the effective resource set for a sync.
// An empty request selects every type the provider supports. Duplicates collapse
// and order follows the request.
func ResolveResourceTypes(p ProviderType, requested []string) ([]ResourceType, error) {
	info := p.Info()
	if len(requested) == 0 {
		out := make([]ResourceType, len(info.Resources))
		copy(out, info.Resources)
		return out, nil
	}

	seen := make(map[ResourceType]bool, len(requested))
	out := make([]ResourceType, 0, len(requested))
	for _, s := range requested {
		rt, err := ParseResourceType(s)
		if err != nil {
			return nil, err
		}
		if !info.Supports(rt) {
			return nil, Validationf("%s does not provide %s", p, rt)
		}
		if seen[rt] {
			continue
		}
		seen[rt] = true
		out = append(out, rt)
	}
	return out, nil
}
