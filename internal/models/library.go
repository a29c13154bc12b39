package models

import (
	"fmt"
	"time"
)

// MediaKind distinguishes anime (video) from manga (text) entries.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaText  MediaKind = "text"
)

// MediaKinds lists every supported kind in push order.
var MediaKinds = []MediaKind{MediaVideo, MediaText}

// Valid reports whether k is a known media kind.
func (k MediaKind) Valid() bool {
	return k == MediaVideo || k == MediaText
}

// UnitLabel names one progress unit of this kind.
func (k MediaKind) UnitLabel() string {
	if k == MediaText {
		return "chapter"
	}
	return "episode"
}

// ParseMediaKind accepts "video"/"anime" and "text"/"manga".
func ParseMediaKind(s string) (MediaKind, error) {
	switch s {
	case "video", "anime":
		return MediaVideo, nil
	case "text", "manga":
		return MediaText, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", s)
	}
}

// Status is the local watching/reading state of an entry.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusDropped   Status = "dropped"
	StatusPlanned   Status = "planned"
)

// Statuses lists every local status value.
var Statuses = []Status{StatusActive, StatusCompleted, StatusPaused, StatusDropped, StatusPlanned}

// Valid reports whether s is one of [Statuses].
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// LibraryEntry is the canonical local record of progress on one tracked item.
//
// An entry without a RemoteID is never pushed to the tracker.
type LibraryEntry struct {
	ID                string     `json:"id"`
	Kind              MediaKind  `json:"mediaKind"`
	Title             string     `json:"title"`
	CanonicalTitle    string     `json:"canonicalTitle"`
	Progress          int        `json:"progress"`
	Season            *int       `json:"season,omitempty"`
	Total             *int       `json:"total,omitempty"`
	RemoteID          *int       `json:"remoteId,omitempty"`
	CoverURL          string     `json:"coverUrl,omitempty"`
	Status            Status     `json:"status"`
	LastSyncedAt      *time.Time `json:"lastSyncedAt,omitempty"`
	LastSyncAttemptAt *time.Time `json:"lastSyncAttemptAt,omitempty"`
	Dirty             bool       `json:"dirty"`

	SourceID        string    `json:"sourceId,omitempty"`
	ItemID          string    `json:"itemId,omitempty"`
	DownloadedUnits []string  `json:"downloadedUnits,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Linked reports whether the entry is linked to a remote tracker item.
func (e LibraryEntry) Linked() bool {
	return e.RemoteID != nil && *e.RemoteID > 0
}

// HasDownloaded reports whether unitID was downloaded for this entry.
func (e LibraryEntry) HasDownloaded(unitID string) bool {
	for _, id := range e.DownloadedUnits {
		if id == unitID {
			return true
		}
	}
	return false
}

// Validate checks the invariants of a stored entry.
func (e LibraryEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry id is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("entry %s: invalid media kind %q", e.ID, e.Kind)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("entry %s: invalid status %q", e.ID, e.Status)
	}
	if e.Progress < 0 {
		return fmt.Errorf("entry %s: progress must be >= 0", e.ID)
	}
	if e.Total != nil && *e.Total < 0 {
		return fmt.Errorf("entry %s: total must be >= 0", e.ID)
	}
	return nil
}

// EntryPatch carries the fields changed by a progress update. Nil fields are left untouched.
type EntryPatch struct {
	Kind     *MediaKind
	Title    *string
	Progress *int
	Season   *int
	Total    *int
	RemoteID *int
	CoverURL *string
	Status   *Status
	SourceID *string
	ItemID   *string
}

// Apply copies the non-nil fields of p onto e.
func (p EntryPatch) Apply(e *LibraryEntry) {
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Progress != nil {
		e.Progress = *p.Progress
	}
	if p.Season != nil {
		e.Season = Ptr(*p.Season)
	}
	if p.Total != nil {
		e.Total = Ptr(*p.Total)
	}
	if p.RemoteID != nil {
		e.RemoteID = Ptr(*p.RemoteID)
	}
	if p.CoverURL != nil {
		e.CoverURL = *p.CoverURL
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.SourceID != nil {
		e.SourceID = *p.SourceID
	}
	if p.ItemID != nil {
		e.ItemID = *p.ItemID
	}
}

// Ptr returns a pointer to v; handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
