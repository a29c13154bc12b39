package repositories

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// DefaultMaxQueued is the queue bound used when none is configured.
const DefaultMaxQueued = 500

// MutationRepository persists the mutation queue and its dead-letter list.
//
// The queue is bounded: appending past maxItems moves the oldest items to the dead-letter list.
type MutationRepository struct {
	mu       sync.Mutex
	queue    jsonList[models.QueuedMutation]
	dead     jsonList[models.QueuedMutation]
	maxItems int
	now      func() time.Time
}

// NewMutationRepository creates a new MutationRepository backed by storage.
// maxItems <= 0 selects [DefaultMaxQueued].
func NewMutationRepository(storage Storage, maxItems int) *MutationRepository {
	if maxItems <= 0 {
		maxItems = DefaultMaxQueued
	}
	return &MutationRepository{
		queue:    jsonList[models.QueuedMutation]{storage: storage, key: QueueKey},
		dead:     jsonList[models.QueuedMutation]{storage: storage, key: DeadLetterKey},
		maxItems: maxItems,
		now:      time.Now,
	}
}

// MaxItems returns the queue bound.
func (r *MutationRepository) MaxItems() int {
	return r.maxItems
}

// Append adds m to the tail of the queue and returns any items evicted to the dead-letter list.
func (r *MutationRepository) Append(m models.QueuedMutation) ([]models.QueuedMutation, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.queue.load()
	if err != nil {
		return nil, err
	}
	return r.appendLocked(items, m)
}

func (r *MutationRepository) appendLocked(items []models.QueuedMutation, m models.QueuedMutation) ([]models.QueuedMutation, error) {
	items = append(items, m)

	var evicted []models.QueuedMutation
	if over := len(items) - r.maxItems; over > 0 {
		evicted = slices.Clone(items[:over])
		items = items[over:]
		for i := range evicted {
			evicted[i].LastError = "evicted: queue full"
		}

		dead, err := r.dead.load()
		if err != nil {
			return nil, err
		}
		if err := r.dead.save(append(dead, evicted...)); err != nil {
			return nil, err
		}
	}

	if err := r.queue.save(items); err != nil {
		return nil, err
	}
	return evicted, nil
}

// List returns the queue in FIFO order.
func (r *MutationRepository) List() ([]models.QueuedMutation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.load()
}

// Len returns the number of queued items.
func (r *MutationRepository) Len() (int, error) {
	items, err := r.List()
	return len(items), err
}

// Remove deletes the queued item with the given id.
func (r *MutationRepository) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.queue.load()
	if err != nil {
		return err
	}

	idx := mutationIndex(items, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", shared.ErrMutationNotFound, id)
	}
	return r.queue.save(slices.Delete(items, idx, idx+1))
}

// RecordAttempt bumps the attempt counter of a queued item and stores the failure message.
func (r *MutationRepository) RecordAttempt(id string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.queue.load()
	if err != nil {
		return err
	}

	idx := mutationIndex(items, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", shared.ErrMutationNotFound, id)
	}

	now := r.now()
	items[idx].Attempts++
	items[idx].LastAttemptAt = &now
	if cause != nil {
		items[idx].LastError = cause.Error()
	}
	return r.queue.save(items)
}

// MoveToDeadLetter removes a queued item and appends it to the dead-letter list.
func (r *MutationRepository) MoveToDeadLetter(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.queue.load()
	if err != nil {
		return err
	}

	idx := mutationIndex(items, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", shared.ErrMutationNotFound, id)
	}

	m := items[idx]
	if reason != "" {
		m.LastError = reason
	}

	dead, err := r.dead.load()
	if err != nil {
		return err
	}
	if err := r.dead.save(append(dead, m)); err != nil {
		return err
	}
	return r.queue.save(slices.Delete(items, idx, idx+1))
}

// DeadLetters returns the dead-letter list, oldest first.
func (r *MutationRepository) DeadLetters() ([]models.QueuedMutation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dead.load()
}

// Requeue moves a dead-lettered item back to the tail of the queue with its failure history cleared.
func (r *MutationRepository) Requeue(id string) (models.QueuedMutation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dead, err := r.dead.load()
	if err != nil {
		return models.QueuedMutation{}, err
	}

	idx := mutationIndex(dead, id)
	if idx < 0 {
		return models.QueuedMutation{}, fmt.Errorf("%w: %s", shared.ErrMutationNotFound, id)
	}

	m := dead[idx]
	m.Attempts = 0
	m.LastError = ""
	m.LastAttemptAt = nil
	m.EnqueuedAt = r.now()

	if err := r.dead.save(slices.Delete(dead, idx, idx+1)); err != nil {
		return models.QueuedMutation{}, err
	}

	items, err := r.queue.load()
	if err != nil {
		return models.QueuedMutation{}, err
	}
	if _, err := r.appendLocked(items, m); err != nil {
		return models.QueuedMutation{}, err
	}
	return m, nil
}

// PurgeDeadLetters empties the dead-letter list and returns how many items were dropped.
func (r *MutationRepository) PurgeDeadLetters() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dead, err := r.dead.load()
	if err != nil {
		return 0, err
	}
	if err := r.dead.save(nil); err != nil {
		return 0, err
	}
	return len(dead), nil
}

func mutationIndex(items []models.QueuedMutation, id string) int {
	return slices.IndexFunc(items, func(m models.QueuedMutation) bool { return m.ID == id })
}
