// package services defines interface Tracker for the remote progress tracking service
//
// AniList (GraphQL)
package services

import (
	"context"

	"github.com/desertthunder/tsundoku/internal/models"
)

// Tracker is the remote tracking service. It is the only remote surface the sync engine depends on.
type Tracker interface {
	// Authenticated reports whether a credential is available. Without one, pushes and pulls are skipped.
	Authenticated() bool

	// ListProgress fetches the user's full progress collection for one media kind.
	ListProgress(ctx context.Context, kind models.MediaKind) ([]RemoteProgress, error)

	// GetProgress fetches the user's current progress and status for one remote item.
	GetProgress(ctx context.Context, remoteID int) (*RemoteProgress, error)

	// UpdateProgress writes progress and status for one remote item.
	UpdateProgress(ctx context.Context, remoteID, progress int, status RemoteStatus) error

	// Name returns the name of the service (e.g., "AniList")
	Name() string
}

// RemoteProgress is one item of the user's remote list.
type RemoteProgress struct {
	RemoteID     int
	Kind         models.MediaKind
	Title        string
	Progress     int
	Status       models.Status
	RemoteStatus RemoteStatus
	Total        *int
	CoverURL     string
}

// RemoteStatus is the tracker's list status vocabulary.
type RemoteStatus string

const (
	RemoteCurrent   RemoteStatus = "CURRENT"
	RemoteCompleted RemoteStatus = "COMPLETED"
	RemotePaused    RemoteStatus = "PAUSED"
	RemoteDropped   RemoteStatus = "DROPPED"
	RemotePlanning  RemoteStatus = "PLANNING"
	RemoteRepeating RemoteStatus = "REPEATING"
)

var toRemote = map[models.Status]RemoteStatus{
	models.StatusActive:    RemoteCurrent,
	models.StatusCompleted: RemoteCompleted,
	models.StatusPaused:    RemotePaused,
	models.StatusDropped:   RemoteDropped,
	models.StatusPlanned:   RemotePlanning,
}

var toLocal = map[RemoteStatus]models.Status{
	RemoteCurrent:   models.StatusActive,
	RemoteRepeating: models.StatusActive,
	RemoteCompleted: models.StatusCompleted,
	RemotePaused:    models.StatusPaused,
	RemoteDropped:   models.StatusDropped,
	RemotePlanning:  models.StatusPlanned,
}

// MapStatus translates a local status into the tracker vocabulary.
//
// Every value in [models.Statuses] has exactly one counterpart; anything else maps to [RemoteCurrent].
func MapStatus(s models.Status) RemoteStatus {
	if r, ok := toRemote[s]; ok {
		return r
	}
	return RemoteCurrent
}

// LocalStatus translates a tracker status back into the local vocabulary. Unknown values map to active.
func LocalStatus(r RemoteStatus) models.Status {
	if s, ok := toLocal[r]; ok {
		return s
	}
	return models.StatusActive
}
