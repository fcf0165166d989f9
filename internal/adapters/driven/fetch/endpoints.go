package fetch

import "github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"

// Resource describes where one resource type lives in a provider API.
type Resource struct {
	// Path is appended to the API base URL. {company} is replaced with the
	// consent's company id.
	Path string `yaml:"path"`

	// ListField names the JSON member holding the page's items. Dots walk
	// nested objects. Empty means the body itself is the array.
	ListField string `yaml:"list_field"`

	// IDField is the item member used as the record's external id.
	IDField string `yaml:"id_field"`

	// Single marks endpoints that return one object instead of a list.
	Single bool `yaml:"single"`
}

// API is the fetch configuration of one provider.
type API struct {
	BaseURL string `yaml:"base_url"`

	// CompanyHeader, when set, carries the consent's company id on every request.
	CompanyHeader string `yaml:"company_header"`

	// PageParam and LimitParam name the paging query parameters.
	PageParam  string `yaml:"page_param"`
	LimitParam string `yaml:"limit_param"`

	Resources map[domain.ResourceType]Resource `yaml:"resources"`
}

// DefaultAPIs returns the read endpoints used for each provider.
func DefaultAPIs() map[domain.ProviderType]API {
	return map[domain.ProviderType]API{
		domain.ProviderFortnox: {
			BaseURL:    "https://api.fortnox.se/3",
			PageParam:  "page",
			LimitParam: "limit",
			Resources: map[domain.ResourceType]Resource{
				domain.ResourceInvoices:           {Path: "/invoices", ListField: "Invoices", IDField: "DocumentNumber"},
				domain.ResourceSupplierInvoices:   {Path: "/supplierinvoices", ListField: "SupplierInvoices", IDField: "GivenNumber"},
				domain.ResourceCustomers:          {Path: "/customers", ListField: "Customers", IDField: "CustomerNumber"},
				domain.ResourceSuppliers:          {Path: "/suppliers", ListField: "Suppliers", IDField: "SupplierNumber"},
				domain.ResourceAccounts:           {Path: "/accounts", ListField: "Accounts", IDField: "Number"},
				domain.ResourceJournals:           {Path: "/vouchers", ListField: "Vouchers", IDField: "VoucherNumber"},
				domain.ResourceCompanyInformation: {Path: "/companyinformation", ListField: "CompanyInformation", IDField: "OrganizationNumber", Single: true},
			},
		},
		domain.ProviderVisma: {
			BaseURL:    "https://eaccountingapi.vismaonline.com/v2",
			PageParam:  "$page",
			LimitParam: "$pagesize",
			Resources: map[domain.ResourceType]Resource{
				domain.ResourceInvoices:           {Path: "/customerinvoices", ListField: "Data", IDField: "Id"},
				domain.ResourceSupplierInvoices:   {Path: "/supplierinvoices", ListField: "Data", IDField: "Id"},
				domain.ResourceCustomers:          {Path: "/customers", ListField: "Data", IDField: "Id"},
				domain.ResourceSuppliers:          {Path: "/suppliers", ListField: "Data", IDField: "Id"},
				domain.ResourceAccounts:           {Path: "/accounts", ListField: "Data", IDField: "Number"},
				domain.ResourceJournals:           {Path: "/vouchers", ListField: "Data", IDField: "Id"},
				domain.ResourceCompanyInformation: {Path: "/companysettings", IDField: "CorporateIdentityNumber", Single: true},
			},
		},
		domain.ProviderBriox: {
			BaseURL:    "https://api-se.briox.services/v2",
			PageParam:  "page",
			LimitParam: "limit",
			Resources: map[domain.ResourceType]Resource{
				domain.ResourceInvoices:         {Path: "/customerinvoice", ListField: "data.invoices", IDField: "id"},
				domain.ResourceSupplierInvoices: {Path: "/supplierinvoice", ListField: "data.invoices", IDField: "id"},
				domain.ResourceCustomers:        {Path: "/customer", ListField: "data.customers", IDField: "id"},
				domain.ResourceSuppliers:        {Path: "/supplier", ListField: "data.suppliers", IDField: "id"},
				domain.ResourceAccounts:         {Path: "/account", ListField: "data.accounts", IDField: "id"},
				domain.ResourceJournals:         {Path: "/journal", ListField: "data.journals", IDField: "id"},
			},
		},
		domain.ProviderBokio: {
			BaseURL:    "https://api.bokio.se/v1",
			PageParam:  "page",
			LimitParam: "pageSize",
			Resources: map[domain.ResourceType]Resource{
				domain.ResourceInvoices:           {Path: "/companies/{company}/invoices", ListField: "items", IDField: "id"},
				domain.ResourceCustomers:          {Path: "/companies/{company}/customers", ListField: "items", IDField: "id"},
				domain.ResourceAccounts:           {Path: "/companies/{company}/chart-of-accounts", ListField: "items", IDField: "account"},
				domain.ResourceJournals:           {Path: "/companies/{company}/journal-entries", ListField: "items", IDField: "id"},
				domain.ResourceCompanyInformation: {Path: "/companies/{company}", IDField: "id", Single: true},
			},
		},
		domain.ProviderBjornLunden: {
			BaseURL:       "https://apigateway.blinfo.se/bla-api/v1/sp",
			CompanyHeader: "User-Key",
			PageParam:     "page",
			LimitParam:    "pageSize",
			Resources: map[domain.ResourceType]Resource{
				domain.ResourceInvoices:           {Path: "/customerinvoice", IDField: "invoiceNumber"},
				domain.ResourceSupplierInvoices:   {Path: "/supplierinvoice", IDField: "invoiceNumber"},
				domain.ResourceCustomers:          {Path: "/customer", IDField: "id"},
				domain.ResourceSuppliers:          {Path: "/supplier", IDField: "id"},
				domain.ResourceAccounts:           {Path: "/account", IDField: "id"},
				domain.ResourceJournals:           {Path: "/journal", IDField: "journalId"},
				domain.ResourceCompanyInformation: {Path: "/details", IDField: "orgNumber", Single: true},
			},
		},
	}
}
