package providers

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// Manifest describes a catalog provider loaded from a TOML file:
//
//	id = "mangacat"
//	name = "MangaCat"
//	base_url = "https://api.mangacat.example"
//	language = "en"
//	kind = "text"
//	capabilities = ["search", "details", "units", "content", "download"]
//	requests_per_minute = 30
//
//	[headers]
//	User-Agent = "tsundoku"
type Manifest struct {
	Path string `toml:"-"`

	ID                string            `toml:"id"`
	Name              string            `toml:"name"`
	BaseURL           string            `toml:"base_url"`
	Language          string            `toml:"language"`
	Kind              string            `toml:"kind"`
	Capabilities      []string          `toml:"capabilities"`
	RequestsPerMinute int               `toml:"requests_per_minute"`
	Headers           map[string]string `toml:"headers"`
}

// Source converts the manifest into a [models.ContentSource].
func (m Manifest) Source() (models.ContentSource, error) {
	src := models.ContentSource{
		ID:       m.ID,
		Name:     m.Name,
		BaseURL:  m.BaseURL,
		Language: m.Language,
	}

	if m.Kind != "" {
		kind, err := models.ParseMediaKind(m.Kind)
		if err != nil {
			return models.ContentSource{}, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
		}
		src.Kind = kind
	}

	for _, c := range m.Capabilities {
		src.Capabilities = append(src.Capabilities, models.Capability(c))
	}

	if err := src.Validate(); err != nil {
		return models.ContentSource{}, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
	}
	return src, nil
}

// Provider builds the catalog provider described by the manifest.
func (m Manifest) Provider() (Provider, error) {
	src, err := m.Source()
	if err != nil {
		return nil, err
	}
	return NewCatalogProvider(CatalogConfig{
		Source:            src,
		RequestsPerMinute: m.RequestsPerMinute,
		Headers:           m.Headers,
	})
}

// LoadManifest decodes one manifest file.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// LoadManifests decodes every *.toml file in dir, in file name order.
//
// A missing directory yields no manifests. Files that fail to parse are skipped and reported in the returned error
// while the rest are still returned.
func LoadManifests(dir string) ([]Manifest, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
		return nil, nil
	}
	sort.Strings(paths)

	manifests := make([]Manifest, 0, len(paths))
	var failed []string
	for _, p := range paths {
		m, err := LoadManifest(p)
		if err != nil {
			failed = append(failed, err.Error())
			continue
		}
		manifests = append(manifests, m)
	}

	if len(failed) > 0 {
		return manifests, fmt.Errorf("%w: %d manifest(s) failed: %v", shared.ErrInvalidConfig, len(failed), failed)
	}
	return manifests, nil
}
