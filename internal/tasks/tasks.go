package tasks

import (
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
)

// ProgressStore is the subset of the library repository the engine and downloader depend on.
type ProgressStore interface {
	Get(id string) (models.LibraryEntry, error)
	List(kind models.MediaKind) ([]models.LibraryEntry, error)
	GetUnsynced(kind models.MediaKind) ([]models.LibraryEntry, error)
	FindByRemoteID(kind models.MediaKind, remoteID int) (models.LibraryEntry, error)
	Import(entry models.LibraryEntry) (models.LibraryEntry, error)
	MarkSynced(id string) error
	RecordSyncAttempt(id string) error
	ApplyRemote(id string, progress int, status models.Status) error
	MarkDownloaded(id, unitID string) error
}

// MutationStore persists the queue and its dead-letter list.
type MutationStore interface {
	Append(m models.QueuedMutation) ([]models.QueuedMutation, error)
	List() ([]models.QueuedMutation, error)
	Len() (int, error)
	Remove(id string) error
	RecordAttempt(id string, cause error) error
	MoveToDeadLetter(id, reason string) error
	DeadLetters() ([]models.QueuedMutation, error)
	Requeue(id string) (models.QueuedMutation, error)
}

// Connectivity is the online signal. Subscribe delivers the new state on every transition.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// ProviderResolver looks up registered providers by source id.
type ProviderResolver interface {
	Get(id string) (providers.Provider, bool)
}

// PassRecorder persists a summary of a push, pull or drain pass.
//
// Recording is best effort; errors are logged and never fail the pass.
type PassRecorder interface {
	RecordPass(operation string, success, failed int, detail string) error
}

// Enqueuer accepts failed remote writes for later replay.
type Enqueuer interface {
	Enqueue(kind string, payload models.Payload) (models.QueuedMutation, error)
}

// alwaysOnline is used when no connectivity signal is configured.
type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

func (alwaysOnline) Subscribe() (<-chan bool, func()) { return make(chan bool), func() {} }

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}
