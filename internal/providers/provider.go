// package providers defines the content provider contract, the provider registry and the built-in providers.
package providers

import (
	"context"
	"io"
	"sort"

	"github.com/desertthunder/tsundoku/internal/models"
)

// SearchFilter narrows a catalog search. Page numbers start at 1.
type SearchFilter struct {
	Query string
	Page  int
}

// NormalizedPage returns the requested page, treating anything below 1 as the first page.
func (f SearchFilter) NormalizedPage() int {
	if f.Page < 1 {
		return 1
	}
	return f.Page
}

// SearchResult is one page of search hits.
//
// HasNextPage false means a request for the following page returns zero items.
type SearchResult struct {
	Items       []Item `json:"items"`
	HasNextPage bool   `json:"hasNextPage"`
}

// Item is a title in a provider's catalog.
type Item struct {
	ID          string           `json:"id"`
	SourceID    string           `json:"sourceId"`
	Title       string           `json:"title"`
	Kind        models.MediaKind `json:"kind,omitempty"`
	CoverURL    string           `json:"coverUrl,omitempty"`
	Description string           `json:"description,omitempty"`
	Status      string           `json:"status,omitempty"`
	Genres      []string         `json:"genres,omitempty"`
}

// Unit is one episode or chapter of an [Item].
type Unit struct {
	ID     string  `json:"id"`
	ItemID string  `json:"itemId"`
	Number float64 `json:"number"`
	Title  string  `json:"title,omitempty"`
}

// Content describes one page image or stream segment of a [Unit], in reading order.
type Content struct {
	Index    int               `json:"index"`
	URL      string            `json:"url"`
	MIMEType string            `json:"mimeType,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Provider is the contract every content source implements.
//
// ListUnits returns units sorted by number, newest first. GetDetails fails with [shared.ErrItemNotFound]
// when the id is unknown to the provider.
type Provider interface {
	Source() models.ContentSource
	Search(ctx context.Context, filter SearchFilter) (*SearchResult, error)
	GetDetails(ctx context.Context, itemID string) (*Item, error)
	ListUnits(ctx context.Context, itemID string) ([]Unit, error)
	GetUnitContent(ctx context.Context, unitID string) ([]Content, error)
}

// ContentFetcher is implemented by providers that can stream the bytes behind a [Content] descriptor.
type ContentFetcher interface {
	FetchContent(ctx context.Context, c Content) (io.ReadCloser, error)
}

// SortUnits orders units by number descending. Units with equal numbers keep their relative order.
func SortUnits(units []Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].Number > units[j].Number
	})
}

// FindUnit returns the unit with the given id.
func FindUnit(units []Unit, unitID string) (Unit, bool) {
	for _, u := range units {
		if u.ID == unitID {
			return u, true
		}
	}
	return Unit{}, false
}
