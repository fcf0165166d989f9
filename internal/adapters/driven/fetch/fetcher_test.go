package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var testToken = &domain.ConsentToken{ConsentID: "c1", AccessToken: "access-1"}

// pagedServer serves total Fortnox-style invoices in pages of the requested limit.
func pagedServer(t *testing.T, total int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/invoices", r.URL.Path)

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var items []string
		for i := (page - 1) * limit; i < page*limit && i < total; i++ {
			items = append(items, fmt.Sprintf(`{"DocumentNumber":"%d","Total":%d}`, i+1, 100*i))
		}
		fmt.Fprintf(w, `{"Invoices":[%s]}`, strings.Join(items, ","))
	}))
}

func TestHTTPFetcher_Pages(t *testing.T) {
	var calls int32
	srv := pagedServer(t, 12, &calls)
	defer srv.Close()

	f := NewHTTPFetcher(Config{PageSize: 5})
	res, err := f.Fetch(context.Background(), domain.ResourceInvoices, testToken, driven.ProviderConfig{
		Provider:  domain.ProviderFortnox,
		ConsentID: "c1",
		BaseURL:   srv.URL,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, res.RecordsSynced)
	require.Len(t, res.Records, 12)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "1", res.Records[0].ExternalID)
	assert.Equal(t, "c1", res.Records[0].ConsentID)
	assert.Equal(t, domain.ResourceInvoices, res.Records[0].ResourceType)
	assert.JSONEq(t, `{"DocumentNumber":"1","Total":0}`, string(res.Records[0].Data))
}

func TestHTTPFetcher_ExactPageBoundary(t *testing.T) {
	var calls int32
	srv := pagedServer(t, 10, &calls)
	defer srv.Close()

	f := NewHTTPFetcher(Config{PageSize: 5})
	res, err := f.Fetch(context.Background(), domain.ResourceInvoices, testToken, driven.ProviderConfig{
		Provider: domain.ProviderFortnox, BaseURL: srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, res.RecordsSynced)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "an empty third page ends paging")
}

func TestHTTPFetcher_CompanyPathAndHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/companies/company-9/customers":
			fmt.Fprint(w, `{"items":[{"id":"a"},{"id":"b"},{"name":"no id"}]}`)
		case r.URL.Path == "/customer":
			assert.Equal(t, "bl-1", r.Header.Get("User-Key"))
			fmt.Fprint(w, `[{"id":7}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Config{})

	res, err := f.Fetch(context.Background(), domain.ResourceCustomers, testToken, driven.ProviderConfig{
		Provider: domain.ProviderBokio, CompanyID: "company-9", BaseURL: srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordsSynced, "items without an id are skipped")

	res, err = f.Fetch(context.Background(), domain.ResourceCustomers, testToken, driven.ProviderConfig{
		Provider: domain.ProviderBjornLunden, CompanyID: "bl-1", BaseURL: srv.URL,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "7", res.Records[0].ExternalID)
}

func TestHTTPFetcher_SingleObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		fmt.Fprint(w, `{"CompanyInformation":{"OrganizationNumber":"556000-0000","CompanyName":"Acme AB"}}`)
	}))
	defer srv.Close()

	res, err := NewHTTPFetcher(Config{}).Fetch(context.Background(), domain.ResourceCompanyInformation, testToken,
		driven.ProviderConfig{Provider: domain.ProviderFortnox, BaseURL: srv.URL})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "556000-0000", res.Records[0].ExternalID)
}

func TestHTTPFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/customerinvoice" {
			fmt.Fprint(w, `{"data":{}}`)
			return
		}
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	f := NewHTTPFetcher(Config{})
	ctx := context.Background()

	_, err := f.Fetch(ctx, domain.ResourceInvoices, testToken, driven.ProviderConfig{Provider: domain.ProviderFortnox, BaseURL: srv.URL})
	assert.True(t, errors.Is(err, domain.ErrUpstreamProvider), "non-2xx: %v", err)

	_, err = f.Fetch(ctx, domain.ResourceInvoices, testToken, driven.ProviderConfig{Provider: domain.ProviderBriox, BaseURL: srv.URL})
	assert.True(t, errors.Is(err, domain.ErrUpstreamProvider), "missing list member: %v", err)

	_, err = f.Fetch(ctx, domain.ResourceSuppliers, testToken, driven.ProviderConfig{Provider: domain.ProviderBokio, CompanyID: "x"})
	var unsupported *domain.UnsupportedError
	assert.True(t, errors.As(err, &unsupported), "unmapped resource: %v", err)

	_, err = f.Fetch(ctx, domain.ResourceInvoices, testToken, driven.ProviderConfig{Provider: domain.ProviderBokio})
	assert.True(t, errors.Is(err, domain.ErrValidation), "missing company: %v", err)

	_, err = f.Fetch(ctx, domain.ResourceInvoices, testToken, driven.ProviderConfig{Provider: "unknown"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}
