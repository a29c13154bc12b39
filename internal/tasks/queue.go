package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/network"
	"github.com/desertthunder/tsundoku/internal/shared"
	"golang.org/x/sync/singleflight"
)

// Processor replays one queued mutation. A nil return removes the item from the queue.
//
// Errors wrapping [shared.ErrPermanent] move the item to the dead-letter list when the queue has
// [MutationQueue.SetDeadLetterPermanent] enabled; otherwise the item stays queued like any other failure.
type Processor func(ctx context.Context, payload models.Payload) error

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Processed    int  // Items replayed and removed
	Failed       int  // Items whose processor failed; left in place
	DeadLettered int  // Items moved to the dead-letter list
	Orphaned     int  // Items with no registered processor; left in place
	Remaining    int  // Queue length after the pass
	Stopped      bool // Pass stopped early on a connectivity failure or cancellation
	Offline      bool // Pass skipped because the device was offline
}

// MutationQueue persists failed remote writes and replays them in FIFO order once connectivity returns.
type MutationQueue struct {
	store      MutationStore
	conn       Connectivity
	logger     *log.Logger
	recorder   PassRecorder
	progress   chan<- ProgressUpdate
	newID      func() string
	now        func() time.Time
	isConnErr  func(error) bool
	group      singleflight.Group
	mu         sync.RWMutex
	processors map[string]Processor

	deadLetterPermanent bool
}

// NewMutationQueue creates a queue over store. A nil conn is treated as always online.
func NewMutationQueue(store MutationStore, conn Connectivity, logger *log.Logger) *MutationQueue {
	if conn == nil {
		conn = alwaysOnline{}
	}
	return &MutationQueue{
		store:      store,
		conn:       conn,
		logger:     shared.WithLogger(logger, "component", "queue"),
		newID:      shared.GenerateID,
		now:        time.Now,
		isConnErr:  network.IsConnectivityError,
		processors: make(map[string]Processor),
	}
}

// SetRecorder installs an optional audit recorder for drain passes.
func (q *MutationQueue) SetRecorder(r PassRecorder) {
	q.recorder = r
}

// SetProgress installs a channel receiving one non-blocking update per replayed item.
func (q *MutationQueue) SetProgress(ch chan<- ProgressUpdate) {
	q.progress = ch
}

// SetDeadLetterPermanent controls whether permanent processor failures move items to the dead-letter list.
// It is off by default.
func (q *MutationQueue) SetDeadLetterPermanent(on bool) {
	q.deadLetterPermanent = on
}

// RegisterProcessor installs fn as the replay function for kind, replacing any previous one.
func (q *MutationQueue) RegisterProcessor(kind string, fn Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[kind] = fn
}

func (q *MutationQueue) processor(kind string) (Processor, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	fn, ok := q.processors[kind]
	return fn, ok && fn != nil
}

// Enqueue appends a new mutation to the tail of the queue and persists it.
//
// Identical payloads are not deduplicated. When the queue is full the oldest items go to the dead-letter list.
func (q *MutationQueue) Enqueue(kind string, payload models.Payload) (models.QueuedMutation, error) {
	m := models.QueuedMutation{
		ID:         q.newID(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: q.now().UTC(),
	}

	evicted, err := q.store.Append(m)
	if err != nil {
		return models.QueuedMutation{}, fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}
	for _, e := range evicted {
		q.logger.Warn("queue full; oldest mutation moved to dead letters", "id", e.ID, "kind", e.Kind)
	}

	q.logger.Debug("mutation queued", "id", m.ID, "kind", kind)
	return m, nil
}

// Drain replays queued mutations in FIFO order.
//
// It does nothing while offline. Concurrent callers share one pass. Successful items are removed; failed
// items stay in place and a connectivity failure stops the pass. Items without a processor are kept.
// Permanent failures are dead-lettered only when enabled with [MutationQueue.SetDeadLetterPermanent].
func (q *MutationQueue) Drain(ctx context.Context) DrainResult {
	v, _, _ := q.group.Do("drain", func() (any, error) {
		return q.drain(ctx), nil
	})
	return v.(DrainResult)
}

func (q *MutationQueue) drain(ctx context.Context) DrainResult {
	var res DrainResult
	if !q.conn.Online() {
		q.logger.Debug("offline; drain skipped")
		res.Offline = true
		res.Remaining, _ = q.store.Len()
		return res
	}

	items, err := q.store.List()
	if err != nil {
		q.logger.Error("failed to load queue", "error", err)
		return res
	}
	if len(items) == 0 {
		return res
	}

	start := time.Now()
	q.logger.Info("draining queue", "items", len(items))

	for i, item := range items {
		if ctx.Err() != nil {
			res.Stopped = true
			break
		}

		fn, ok := q.processor(item.Kind)
		if !ok {
			q.logger.Warn("no processor registered; mutation kept", "id", item.ID, "kind", item.Kind)
			res.Orphaned++
			sendProgress(q.progress, drainUpdate(i+1, len(items), item, "kept (no processor)"))
			continue
		}

		err := fn(ctx, item.Payload)
		if err == nil {
			if err := q.store.Remove(item.ID); err != nil {
				q.logger.Error("failed to remove replayed mutation", "id", item.ID, "error", err)
			}
			res.Processed++
			sendProgress(q.progress, drainUpdate(i+1, len(items), item, "replayed"))
			continue
		}

		if q.deadLetterPermanent && errors.Is(err, shared.ErrPermanent) {
			q.logger.Warn("permanent failure; mutation moved to dead letters", "id", item.ID, "kind", item.Kind, "error", err)
			if err := q.store.MoveToDeadLetter(item.ID, err.Error()); err != nil {
				q.logger.Error("failed to dead-letter mutation", "id", item.ID, "error", err)
			}
			res.DeadLettered++
			sendProgress(q.progress, drainUpdate(i+1, len(items), item, "dead-lettered"))
			continue
		}

		res.Failed++
		sendProgress(q.progress, drainUpdate(i+1, len(items), item, "failed: "+err.Error()))
		if err := q.store.RecordAttempt(item.ID, err); err != nil {
			q.logger.Error("failed to record attempt", "id", item.ID, "error", err)
		}

		if q.isConnErr(err) || !q.conn.Online() {
			q.logger.Warn("connectivity lost; drain stopped", "id", item.ID, "error", err)
			res.Stopped = true
			break
		}
		q.logger.Warn("mutation replay failed", "id", item.ID, "kind", item.Kind, "error", err)
	}

	res.Remaining, _ = q.store.Len()
	q.logger.Info("drain finished",
		"processed", res.Processed, "failed", res.Failed, "dead", res.DeadLettered,
		"orphaned", res.Orphaned, "remaining", res.Remaining, "elapsed", elapsed(start))

	if q.recorder != nil {
		detail := fmt.Sprintf("dead=%d orphaned=%d remaining=%d", res.DeadLettered, res.Orphaned, res.Remaining)
		if err := q.recorder.RecordPass("drain", res.Processed, res.Failed+res.DeadLettered, detail); err != nil {
			q.logger.Warn("failed to record drain pass", "error", err)
		}
	}
	return res
}

// Run drains once if online at start and again on every offline to online transition until ctx is done.
func (q *MutationQueue) Run(ctx context.Context) {
	updates, cancel := q.conn.Subscribe()
	defer cancel()

	if q.conn.Online() {
		q.Drain(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-updates:
			if !ok {
				return
			}
			if online {
				q.logger.Info("back online; draining queue")
				q.Drain(ctx)
			}
		}
	}
}

// Pending returns the queued mutations in FIFO order.
func (q *MutationQueue) Pending() ([]models.QueuedMutation, error) {
	return q.store.List()
}

// Len returns the number of queued mutations.
func (q *MutationQueue) Len() (int, error) {
	return q.store.Len()
}

// DeadLetters returns the mutations that failed permanently or were evicted.
func (q *MutationQueue) DeadLetters() ([]models.QueuedMutation, error) {
	return q.store.DeadLetters()
}

// Requeue moves a dead-lettered mutation back to the tail of the queue.
func (q *MutationQueue) Requeue(id string) (models.QueuedMutation, error) {
	m, err := q.store.Requeue(id)
	if err != nil {
		return models.QueuedMutation{}, err
	}
	q.logger.Info("mutation requeued", "id", id, "kind", m.Kind)
	return m, nil
}
