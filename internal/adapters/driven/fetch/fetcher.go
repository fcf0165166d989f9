// Package fetch pulls resource lists from provider REST APIs and turns each
// item into a domain.Record carrying the raw JSON.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/adapters/driven/providers/tokenhttp"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/ports/driven"
)

var _ driven.ResourceFetcher = (*HTTPFetcher)(nil)

const (
	defaultPageSize = 100
	defaultMaxPages = 500
)

// Config configures an HTTPFetcher
type Config struct {
	APIs       map[domain.ProviderType]API
	HTTPClient *http.Client
	PageSize   int
	MaxPages   int
	Logger     *slog.Logger
}

// HTTPFetcher implements driven.ResourceFetcher over plain REST endpoints.
type HTTPFetcher struct {
	apis     map[domain.ProviderType]API
	client   *tokenhttp.Client
	pageSize int
	maxPages int
	logger   *slog.Logger
}

// NewHTTPFetcher creates a fetcher. Nil APIs fall back to DefaultAPIs.
func NewHTTPFetcher(cfg Config) *HTTPFetcher {
	if cfg.APIs == nil {
		cfg.APIs = DefaultAPIs()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPFetcher{
		apis:     cfg.APIs,
		client:   tokenhttp.New(cfg.HTTPClient),
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		logger:   cfg.Logger,
	}
}

// Fetch pages through the resource until a short page or MaxPages.
func (f *HTTPFetcher) Fetch(ctx context.Context, rt domain.ResourceType, token *domain.ConsentToken, cfg driven.ProviderConfig) (*driven.FetchResult, error) {
	api, ok := f.apis[cfg.Provider]
	if !ok {
		return nil, domain.Validationf("no fetch configuration for provider %q", cfg.Provider)
	}
	res, ok := api.Resources[rt]
	if !ok {
		return nil, &domain.UnsupportedError{Provider: cfg.Provider, Operation: "fetch " + string(rt)}
	}
	if strings.Contains(res.Path, "{company}") && cfg.CompanyID == "" {
		return nil, domain.Validationf("%s requires a company id", cfg.Provider)
	}

	base := api.BaseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	endpoint := strings.TrimRight(base, "/") + strings.ReplaceAll(res.Path, "{company}", url.PathEscape(cfg.CompanyID))

	header := http.Header{}
	if api.CompanyHeader != "" && cfg.CompanyID != "" {
		header.Set(api.CompanyHeader, cfg.CompanyID)
	}

	now := time.Now()
	result := &driven.FetchResult{}
	for page := 1; page <= f.maxPages; page++ {
		pageURL, err := f.pageURL(endpoint, api, res, page)
		if err != nil {
			return nil, err
		}
		body, err := f.client.Get(ctx, pageURL, token.AccessToken, header)
		if err != nil {
			return nil, err
		}

		items, err := extractItems(body, res)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUpstreamProvider, cfg.Provider, rt, err)
		}
		for _, item := range items {
			id, err := externalID(item, res.IDField)
			if err != nil {
				f.logger.Warn("skipping record without id",
					"provider", cfg.Provider, "resource_type", rt, "error", err)
				continue
			}
			result.Records = append(result.Records, &domain.Record{
				ConsentID:    cfg.ConsentID,
				ResourceType: rt,
				ExternalID:   id,
				Data:         item,
				SyncedAt:     now,
			})
		}

		if res.Single || len(items) < f.pageSize {
			break
		}
	}
	result.RecordsSynced = len(result.Records)
	return result, nil
}

func (f *HTTPFetcher) pageURL(endpoint string, api API, res Resource, page int) (string, error) {
	if res.Single || api.PageParam == "" {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set(api.PageParam, strconv.Itoa(page))
	if api.LimitParam != "" {
		q.Set(api.LimitParam, strconv.Itoa(f.pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// extractItems walks ListField and returns each item's raw JSON.
func extractItems(body []byte, res Resource) ([]json.RawMessage, error) {
	cur := json.RawMessage(body)
	if res.ListField != "" {
		for _, key := range strings.Split(res.ListField, ".") {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(cur, &obj); err != nil {
				return nil, fmt.Errorf("expected object at %q: %w", key, err)
			}
			next, ok := obj[key]
			if !ok {
				return nil, fmt.Errorf("response has no %q member", key)
			}
			cur = next
		}
	}

	if res.Single {
		return []json.RawMessage{cur}, nil
	}
	if bytes.Equal(bytes.TrimSpace(cur), []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(cur, &items); err != nil {
		return nil, fmt.Errorf("expected array: %w", err)
	}
	return items, nil
}

func externalID(item json.RawMessage, field string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal(item, &obj); err != nil {
		return "", fmt.Errorf("item is not an object: %w", err)
	}
	switch v := obj[field].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("missing %q", field)
}
