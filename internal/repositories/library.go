package repositories

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// LibraryRepository is the progress store.
//
// All entries live in one JSON array under [LibraryKey]. Each method loads the array, mutates it and persists it
// while holding mu, so concurrent callers never interleave their read-modify-write cycles.
type LibraryRepository struct {
	mu    sync.Mutex
	list  jsonList[models.LibraryEntry]
	now   func() time.Time
	newID func() string
}

// NewLibraryRepository creates a new LibraryRepository backed by storage
func NewLibraryRepository(storage Storage) *LibraryRepository {
	return &LibraryRepository{
		list:  jsonList[models.LibraryEntry]{storage: storage, key: LibraryKey},
		now:   time.Now,
		newID: shared.GenerateID,
	}
}

// SetClock replaces the time source used for sync stamps.
func (r *LibraryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// UpdateProgress upserts the entry with the given id and marks it dirty.
//
// An unknown (or empty) id creates a new entry, which requires patch.Kind. Sync timestamps are never touched here.
func (r *LibraryRepository) UpdateProgress(id string, patch models.EntryPatch) (models.LibraryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list.load()
	if err != nil {
		return models.LibraryEntry{}, err
	}

	idx := -1
	if id != "" {
		idx = indexOf(entries, id)
	}

	var entry models.LibraryEntry
	if idx >= 0 {
		entry = entries[idx]
	} else {
		if patch.Kind == nil {
			return models.LibraryEntry{}, fmt.Errorf("%w: media kind is required for a new entry", shared.ErrInvalidInput)
		}
		if id == "" {
			id = r.newID()
		}
		entry = models.LibraryEntry{ID: id, Status: models.StatusActive}
	}

	patch.Apply(&entry)
	entry.CanonicalTitle = shared.NormalizeTitle(entry.Title)
	entry.Dirty = true
	entry.UpdatedAt = r.now()

	if err := entry.Validate(); err != nil {
		return models.LibraryEntry{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	if idx >= 0 {
		entries[idx] = entry
	} else {
		entries = append(entries, entry)
	}

	if err := r.list.save(entries); err != nil {
		return models.LibraryEntry{}, err
	}
	return entry, nil
}

// Import stores an entry that already matches the remote tracker, so it is created clean.
func (r *LibraryRepository) Import(entry models.LibraryEntry) (models.LibraryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list.load()
	if err != nil {
		return models.LibraryEntry{}, err
	}

	if entry.ID == "" {
		entry.ID = r.newID()
	}
	if indexOf(entries, entry.ID) >= 0 {
		return models.LibraryEntry{}, fmt.Errorf("%w: entry %s already exists", shared.ErrInvalidInput, entry.ID)
	}

	now := r.now()
	entry.CanonicalTitle = shared.NormalizeTitle(entry.Title)
	entry.Dirty = false
	entry.LastSyncedAt = &now
	entry.UpdatedAt = now

	if err := entry.Validate(); err != nil {
		return models.LibraryEntry{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	if err := r.list.save(append(entries, entry)); err != nil {
		return models.LibraryEntry{}, err
	}
	return entry, nil
}

// Get retrieves an entry by ID
func (r *LibraryRepository) Get(id string) (models.LibraryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list.load()
	if err != nil {
		return models.LibraryEntry{}, err
	}

	idx := indexOf(entries, id)
	if idx < 0 {
		return models.LibraryEntry{}, fmt.Errorf("%w: %s", shared.ErrEntryNotFound, id)
	}
	return entries[idx], nil
}

// List returns every entry of kind, ordered by title. An empty kind lists all entries.
func (r *LibraryRepository) List(kind models.MediaKind) ([]models.LibraryEntry, error) {
	return r.filter(func(e models.LibraryEntry) bool {
		return kind == "" || e.Kind == kind
	})
}

// GetUnsynced returns all dirty entries of kind.
func (r *LibraryRepository) GetUnsynced(kind models.MediaKind) ([]models.LibraryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list.load()
	if err != nil {
		return nil, err
	}

	unsynced := make([]models.LibraryEntry, 0)
	for _, e := range entries {
		if e.Kind == kind && e.Dirty {
			unsynced = append(unsynced, e)
		}
	}
	return unsynced, nil
}

// FindByRemoteID returns the entry of kind linked to remoteID.
func (r *LibraryRepository) FindByRemoteID(kind models.MediaKind, remoteID int) (models.LibraryEntry, error) {
	matches, err := r.filter(func(e models.LibraryEntry) bool {
		return e.Kind == kind && e.Linked() && *e.RemoteID == remoteID
	})
	if err != nil {
		return models.LibraryEntry{}, err
	}
	if len(matches) == 0 {
		return models.LibraryEntry{}, fmt.Errorf("%w: remote id %d", shared.ErrEntryNotFound, remoteID)
	}
	return matches[0], nil
}

// MarkSynced clears the dirty flag and stamps LastSyncedAt.
func (r *LibraryRepository) MarkSynced(id string) error {
	return r.modify(id, func(e *models.LibraryEntry, now time.Time) {
		e.Dirty = false
		e.LastSyncedAt = &now
	})
}

// RecordSyncAttempt stamps LastSyncAttemptAt and leaves the dirty flag alone.
func (r *LibraryRepository) RecordSyncAttempt(id string) error {
	return r.modify(id, func(e *models.LibraryEntry, now time.Time) {
		e.LastSyncAttemptAt = &now
	})
}

// ApplyRemote overwrites progress and status with the tracker's values. The result is clean.
func (r *LibraryRepository) ApplyRemote(id string, progress int, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", shared.ErrInvalidInput, status)
	}
	return r.modify(id, func(e *models.LibraryEntry, now time.Time) {
		e.Progress = progress
		e.Status = status
		e.Dirty = false
		e.LastSyncedAt = &now
		e.UpdatedAt = now
	})
}

// MarkDownloaded records unitID in the entry's downloaded units. Repeated calls are no-ops.
func (r *LibraryRepository) MarkDownloaded(id, unitID string) error {
	return r.modify(id, func(e *models.LibraryEntry, now time.Time) {
		if e.HasDownloaded(unitID) {
			return
		}
		e.DownloadedUnits = append(e.DownloadedUnits, unitID)
		e.UpdatedAt = now
	})
}

// Delete removes an entry permanently.
func (r *LibraryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list.load()
	if err != nil {
		return err
	}

	idx := indexOf(entries, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", shared.ErrEntryNotFound, id)
	}
	return r.list.save(slices.Delete(entries, idx, idx+1))
}

func (r *LibraryRepository) modify(id string, fn func(*models.LibraryEntry, time.Time)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list.load()
	if err != nil {
		return err
	}

	idx := indexOf(entries, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", shared.ErrEntryNotFound, id)
	}

	fn(&entries[idx], r.now())
	return r.list.save(entries)
}

func (r *LibraryRepository) filter(keep func(models.LibraryEntry) bool) ([]models.LibraryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list.load()
	if err != nil {
		return nil, err
	}

	out := make([]models.LibraryEntry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CanonicalTitle < out[j].CanonicalTitle
	})
	return out, nil
}

func indexOf(entries []models.LibraryEntry, id string) int {
	return slices.IndexFunc(entries, func(e models.LibraryEntry) bool { return e.ID == id })
}
