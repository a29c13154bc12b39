package providers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
	"github.com/desertthunder/tsundoku/internal/shared"
)

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/api/search":
			if r.URL.Query().Get("page") == "1" {
				writeJSON(w, map[string]any{
					"items":       []map[string]any{{"id": "blame", "title": "Blame!"}},
					"hasNextPage": true,
				})
				return
			}
			writeJSON(w, map[string]any{"items": nil, "hasNextPage": false})
		case "/api/items/blame":
			writeJSON(w, map[string]any{"id": "blame", "title": "Blame!", "genres": []string{"sci-fi"}})
		case "/api/items/a%2Fb":
			writeJSON(w, map[string]any{"title": "Escaped"})
		case "/api/items/blame/units":
			writeJSON(w, []map[string]any{
				{"id": "c1", "number": 1},
				{"id": "c3", "number": 3},
				{"id": "c2", "number": 2},
			})
		case "/api/units/c1/content":
			writeJSON(w, []map[string]any{
				{"url": "pages/c1-0.jpg"},
				{"url": "pages/c1-1.jpg", "headers": map[string]string{"Referer": "https://catalog.example"}},
			})
		case "/api/pages/c1-1.jpg":
			if r.Header.Get("Referer") == "" || r.Header.Get("X-Client") != "tsundoku" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte("page-bytes"))
		case "/api/items/boom":
			w.WriteHeader(http.StatusInternalServerError)
			writeJSON(w, map[string]string{"error": "database on fire"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newCatalog(t *testing.T, baseURL string) *providers.CatalogProvider {
	t.Helper()
	p, err := providers.NewCatalogProvider(providers.CatalogConfig{
		Source:            models.ContentSource{ID: "catalog", Name: "Catalog", BaseURL: baseURL, Kind: models.MediaText},
		RequestsPerMinute: 60000,
		Headers:           map[string]string{"X-Client": "tsundoku"},
	})
	if err != nil {
		t.Fatalf("NewCatalogProvider failed: %v", err)
	}
	return p
}

func TestCatalogProvider(t *testing.T) {
	server := newCatalogServer(t)
	p := newCatalog(t, server.URL+"/api/")
	ctx := context.Background()

	t.Run("default capabilities", func(t *testing.T) {
		if src := p.Source(); !src.Has(models.CapDownload) || !src.Has(models.CapSearch) {
			t.Errorf("expected every capability by default, got %v", src.Capabilities)
		}
	})

	t.Run("Search paginates", func(t *testing.T) {
		res, err := p.Search(ctx, providers.SearchFilter{Query: "blame"})
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Items) != 1 || !res.HasNextPage || res.Items[0].SourceID != "catalog" {
			t.Errorf("unexpected first page %+v", res)
		}

		res, err = p.Search(ctx, providers.SearchFilter{Query: "blame", Page: 2})
		if err != nil {
			t.Fatal(err)
		}
		if res.Items == nil || len(res.Items) != 0 || res.HasNextPage {
			t.Errorf("expected empty, non-nil last page, got %+v", res)
		}
	})

	t.Run("GetDetails", func(t *testing.T) {
		item, err := p.GetDetails(ctx, "blame")
		if err != nil {
			t.Fatal(err)
		}
		if item.Title != "Blame!" || len(item.Genres) != 1 {
			t.Errorf("unexpected item %+v", item)
		}

		escaped, err := p.GetDetails(ctx, "a/b")
		if err != nil {
			t.Fatalf("expected slash in id to be escaped: %v", err)
		}
		if escaped.ID != "a/b" {
			t.Errorf("expected id to default to the requested one, got %q", escaped.ID)
		}

		if _, err := p.GetDetails(ctx, "missing"); !errors.Is(err, shared.ErrItemNotFound) {
			t.Errorf("expected ErrItemNotFound, got %v", err)
		}
		if _, err := p.GetDetails(ctx, "boom"); !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
	})

	t.Run("ListUnits sorts newest first", func(t *testing.T) {
		units, err := p.ListUnits(ctx, "blame")
		if err != nil {
			t.Fatal(err)
		}
		if len(units) != 3 || units[0].ID != "c3" || units[2].ID != "c1" || units[0].ItemID != "blame" {
			t.Errorf("unexpected units %+v", units)
		}
	})

	t.Run("content is indexed and fetchable", func(t *testing.T) {
		content, err := p.GetUnitContent(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if len(content) != 2 || content[1].Index != 1 {
			t.Fatalf("unexpected content %+v", content)
		}

		rc, err := p.FetchContent(ctx, content[1])
		if err != nil {
			t.Fatal(err)
		}
		defer rc.Close()
		body, _ := io.ReadAll(rc)
		if string(body) != "page-bytes" {
			t.Errorf("unexpected body %q", body)
		}

		if _, err := p.FetchContent(ctx, content[0]); !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected missing page to fail with ErrAPIRequest, got %v", err)
		}
		if _, err := p.GetUnitContent(ctx, "nope"); !errors.Is(err, shared.ErrUnitNotFound) {
			t.Errorf("expected ErrUnitNotFound, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := p.GetDetails(cctx, "blame"); err == nil {
			t.Error("expected an error for a cancelled context")
		}
	})
}

func TestNewCatalogProvider_InvalidBaseURL(t *testing.T) {
	for _, base := range []string{"", "relative/path", "://bad"} {
		_, err := providers.NewCatalogProvider(providers.CatalogConfig{
			Source: models.ContentSource{ID: "x", Name: "X", BaseURL: base},
		})
		if err == nil {
			t.Errorf("expected base url %q to be rejected", base)
		}
	}
}
