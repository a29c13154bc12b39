package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
	"golang.org/x/time/rate"
)

const defaultCatalogRPM = 60

// CatalogConfig configures a [CatalogProvider].
type CatalogConfig struct {
	Source            models.ContentSource
	RequestsPerMinute int
	Headers           map[string]string
	HTTPClient        *http.Client
}

// CatalogProvider talks to a JSON catalog API:
//
//	GET /search?q=&page=       -> SearchResult
//	GET /items/{id}            -> Item
//	GET /items/{id}/units      -> []Unit
//	GET /units/{id}/content    -> []Content
//
// Requests are throttled with a token bucket so a single scrape target is never burst.
type CatalogProvider struct {
	source     models.ContentSource
	baseURL    *url.URL
	headers    map[string]string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewCatalogProvider creates a catalog provider. The source must carry a parseable BaseURL.
func NewCatalogProvider(cfg CatalogConfig) (*CatalogProvider, error) {
	if err := cfg.Source.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimRight(cfg.Source.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: source %s has invalid base url %q", shared.ErrInvalidConfig, cfg.Source.ID, cfg.Source.BaseURL)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultCatalogRPM
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	src := cfg.Source.Clone()
	if len(src.Capabilities) == 0 {
		src.Capabilities = []models.Capability{models.CapSearch, models.CapDetails, models.CapUnits, models.CapContent, models.CapDownload}
	}

	return &CatalogProvider{
		source:     src,
		baseURL:    base,
		headers:    cfg.Headers,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		httpClient: client,
	}, nil
}

// Source returns the provider descriptor.
func (c *CatalogProvider) Source() models.ContentSource {
	return c.source.Clone()
}

// Search calls GET /search.
func (c *CatalogProvider) Search(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	q := url.Values{}
	q.Set("q", filter.Query)
	q.Set("page", strconv.Itoa(filter.NormalizedPage()))

	var result SearchResult
	if err := c.getJSON(ctx, "/search?"+q.Encode(), &result, nil); err != nil {
		return nil, err
	}

	for i := range result.Items {
		result.Items[i].SourceID = c.source.ID
	}
	if result.Items == nil {
		result.Items = []Item{}
	}
	return &result, nil
}

// GetDetails calls GET /items/{id}.
func (c *CatalogProvider) GetDetails(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.getJSON(ctx, "/items/"+url.PathEscape(itemID), &item, shared.ErrItemNotFound); err != nil {
		return nil, err
	}
	item.SourceID = c.source.ID
	if item.ID == "" {
		item.ID = itemID
	}
	return &item, nil
}

// ListUnits calls GET /items/{id}/units and returns the units newest first.
func (c *CatalogProvider) ListUnits(ctx context.Context, itemID string) ([]Unit, error) {
	var units []Unit
	if err := c.getJSON(ctx, "/items/"+url.PathEscape(itemID)+"/units", &units, shared.ErrItemNotFound); err != nil {
		return nil, err
	}
	for i := range units {
		if units[i].ItemID == "" {
			units[i].ItemID = itemID
		}
	}
	SortUnits(units)
	return units, nil
}

// GetUnitContent calls GET /units/{id}/content.
func (c *CatalogProvider) GetUnitContent(ctx context.Context, unitID string) ([]Content, error) {
	var content []Content
	if err := c.getJSON(ctx, "/units/"+url.PathEscape(unitID)+"/content", &content, shared.ErrUnitNotFound); err != nil {
		return nil, err
	}
	for i := range content {
		content[i].Index = i
	}
	return content, nil
}

// FetchContent downloads one content item. Relative URLs resolve against the catalog base URL.
func (c *CatalogProvider) FetchContent(ctx context.Context, content Content) (io.ReadCloser, error) {
	target, err := c.resolve(content.URL)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, target, content.Headers)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned status %d", shared.ErrAPIRequest, target, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *CatalogProvider) getJSON(ctx context.Context, endpoint string, result any, notFound error) error {
	target, err := c.resolve(endpoint)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && notFound != nil {
		return fmt.Errorf("%w: %s", notFound, endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%w: %s (status %d): %s", shared.ErrAPIRequest, c.source.ID, resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("%w: %s returned status %d", shared.ErrAPIRequest, c.source.ID, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *CatalogProvider) do(ctx context.Context, target string, headers map[string]string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *CatalogProvider) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: bad url %q", shared.ErrInvalidInput, ref)
	}
	if u.IsAbs() {
		return u.String(), nil
	}

	joined := strings.TrimRight(c.baseURL.String(), "/") + "/" + strings.TrimLeft(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		joined += "?" + u.RawQuery
	}
	return joined, nil
}
