package providers

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// LocalSourceID is the id of the built-in [LocalProvider].
const LocalSourceID = "local"

// LocalPageSize is the number of items per search page.
const LocalPageSize = 20

var unitNumberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

var pageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".avif": true,
	".mp4": true, ".mkv": true, ".webm": true,
}

// LocalProvider serves a directory tree laid out as <root>/<item>/<unit>/<pages>.
//
// Item ids are directory names and unit ids are "<item>/<unit>". The first number in a unit directory name
// becomes the unit number, so "Chapter 10.5" sorts between 10 and 11.
type LocalProvider struct {
	root   string
	source models.ContentSource
}

// NewLocalProvider creates a provider over root. The directory does not need to exist yet.
func NewLocalProvider(root string) *LocalProvider {
	return &LocalProvider{
		root: root,
		source: models.ContentSource{
			ID:       LocalSourceID,
			Name:     "Local Library",
			BaseURL:  "file://" + filepath.ToSlash(root),
			Language: "und",
			Kind:     models.MediaText,
			Capabilities: []models.Capability{
				models.CapSearch, models.CapDetails, models.CapUnits, models.CapContent, models.CapDownload,
			},
		},
	}
}

// Source returns the provider descriptor.
func (l *LocalProvider) Source() models.ContentSource {
	return l.source.Clone()
}

// Search matches the normalized query against item titles. An empty query lists everything.
func (l *LocalProvider) Search(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names, err := l.dirs(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return &SearchResult{Items: []Item{}}, nil
		}
		return nil, err
	}

	query := shared.NormalizeTitle(filter.Query)
	matches := make([]Item, 0)
	for _, name := range names {
		item := l.item(name)
		if query == "" || strings.Contains(shared.NormalizeTitle(item.Title), query) {
			matches = append(matches, item)
		}
	}

	start := (filter.NormalizedPage() - 1) * LocalPageSize
	if start >= len(matches) {
		return &SearchResult{Items: []Item{}}, nil
	}
	end := min(start+LocalPageSize, len(matches))

	return &SearchResult{Items: matches[start:end], HasNextPage: end < len(matches)}, nil
}

// GetDetails returns the item for a directory under root.
func (l *LocalProvider) GetDetails(ctx context.Context, itemID string) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := l.path(itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrItemNotFound, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", shared.ErrItemNotFound, itemID)
	}

	item := l.item(itemID)
	return &item, nil
}

// ListUnits lists the unit directories of an item, newest first.
func (l *LocalProvider) ListUnits(ctx context.Context, itemID string) ([]Unit, error) {
	if _, err := l.GetDetails(ctx, itemID); err != nil {
		return nil, err
	}

	dir, _ := l.path(itemID)
	names, err := l.dirs(dir)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, len(names))
	for _, name := range names {
		units = append(units, Unit{
			ID:     path.Join(itemID, name),
			ItemID: itemID,
			Number: parseUnitNumber(name),
			Title:  name,
		})
	}

	SortUnits(units)
	return units, nil
}

// GetUnitContent lists the page files of a unit in page number order, so "2.jpg" comes before "10.jpg".
func (l *LocalProvider) GetUnitContent(ctx context.Context, unitID string) ([]Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := l.path(unitID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUnitNotFound, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", shared.ErrUnitNotFound, unitID)
		}
		return nil, fmt.Errorf("failed to read unit %s: %w", unitID, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && pageExtensions[ext] {
			names = append(names, e.Name())
		}
	}
	sortPages(names)

	content := make([]Content, 0, len(names))
	for i, name := range names {
		content = append(content, Content{
			Index:    i,
			URL:      path.Join(unitID, name),
			MIMEType: mime.TypeByExtension(filepath.Ext(name)),
		})
	}
	return content, nil
}

// FetchContent opens the file behind c.
func (l *LocalProvider) FetchContent(ctx context.Context, c Content) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := l.path(c.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.URL, err)
	}
	return f, nil
}

func (l *LocalProvider) item(name string) Item {
	return Item{
		ID:       name,
		SourceID: l.source.ID,
		Title:    strings.ReplaceAll(name, "_", " "),
		Kind:     l.source.Kind,
	}
}

// path maps a slash-separated id onto the filesystem, refusing anything that escapes root.
func (l *LocalProvider) path(id string) (string, error) {
	rel := filepath.FromSlash(id)
	if id == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid local id %q", id)
	}
	return filepath.Join(l.root, rel), nil
}

func (l *LocalProvider) dirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// sortPages orders page file names by their leading number, then by name.
func sortPages(names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, b := parseUnitNumber(names[i]), parseUnitNumber(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
}

func parseUnitNumber(name string) float64 {
	match := unitNumberPattern.FindString(name)
	if match == "" {
		return 0
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return n
}
