package models

import (
	"fmt"
	"strings"
)

// Capability names one operation a content source supports.
type Capability string

const (
	CapSearch   Capability = "search"
	CapDetails  Capability = "details"
	CapUnits    Capability = "units"
	CapContent  Capability = "content"
	CapDownload Capability = "download"
)

// ContentSource describes a registered content provider. It is immutable after registration.
type ContentSource struct {
	ID           string       `json:"id" toml:"id"`
	Name         string       `json:"name" toml:"name"`
	BaseURL      string       `json:"baseUrl" toml:"base_url"`
	Language     string       `json:"language" toml:"language"`
	Kind         MediaKind    `json:"kind" toml:"kind"`
	Capabilities []Capability `json:"capabilities" toml:"capabilities"`
}

// Has reports whether the source declares capability c.
func (s ContentSource) Has(c Capability) bool {
	for _, v := range s.Capabilities {
		if v == c {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate a registered source.
func (s ContentSource) Clone() ContentSource {
	s.Capabilities = append([]Capability(nil), s.Capabilities...)
	return s
}

// Validate checks the fields every source must carry.
func (s ContentSource) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("source id cannot be empty")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source %s: name cannot be empty", s.ID)
	}
	if s.Kind != "" && !s.Kind.Valid() {
		return fmt.Errorf("source %s: invalid media kind %q", s.ID, s.Kind)
	}
	return nil
}

// DownloadTask is one content unit waiting in the download queue. Tasks are not persisted.
type DownloadTask struct {
	SourceID   string  `json:"sourceId"`
	ItemID     string  `json:"itemId"`
	ItemTitle  string  `json:"itemTitle"`
	UnitID     string  `json:"unitId"`
	UnitNumber float64 `json:"unitNumber"`
	EntryID    string  `json:"entryId"`
}

// String renders the task for logs.
func (t DownloadTask) String() string {
	return fmt.Sprintf("%s #%g (%s/%s)", t.ItemTitle, t.UnitNumber, t.SourceID, t.UnitID)
}
