package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/notify"
	"github.com/desertthunder/tsundoku/internal/services"
	"github.com/desertthunder/tsundoku/internal/shared"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultItemDelay   = 500 * time.Millisecond
	DefaultNotifyDelay = 1500 * time.Millisecond
)

// PushResult counts the outcome of a push pass.
type PushResult struct {
	Success int
	Failed  int
	Skipped int // Unlinked entries; never sent
}

// PullResult counts the outcome of a pull pass.
type PullResult struct {
	Updated   int // Local entries overwritten with remote progress
	Created   int // Remote-only items imported locally
	Unchanged int
	Failed    int
}

// EngineConfig holds the optional collaborators of a [SyncEngine].
type EngineConfig struct {
	ItemDelay time.Duration   // Delay between remote calls in a pass; defaults to [DefaultItemDelay]
	Notifier  notify.Notifier // Receives confirmations after successful pushes; wrap in [notify.Delayed] to defer them
	Recorder  PassRecorder
	Logger    *log.Logger
}

// SyncEngine pushes dirty local progress to the tracker and pulls remote progress back.
//
// Public operations never return errors: failures are logged, recorded on the entry, and queued for replay.
type SyncEngine struct {
	store    ProgressStore
	tracker  services.Tracker
	queue    Enqueuer
	notifier notify.Notifier
	recorder PassRecorder
	limiter  *rate.Limiter
	logger   *log.Logger
	progress chan<- ProgressUpdate
	group    singleflight.Group
	locks    entryLocks
}

// NewSyncEngine creates an engine. queue may be nil, in which case failed pushes are only recorded.
func NewSyncEngine(store ProgressStore, tracker services.Tracker, queue Enqueuer, cfg EngineConfig) *SyncEngine {
	delay := cfg.ItemDelay
	if delay <= 0 {
		delay = DefaultItemDelay
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop
	}
	return &SyncEngine{
		store:    store,
		tracker:  tracker,
		queue:    queue,
		notifier: notifier,
		recorder: cfg.Recorder,
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		logger:   shared.WithLogger(cfg.Logger, "component", "sync"),
	}
}

// SetProgress installs a channel receiving non-blocking progress updates for push and pull passes.
func (e *SyncEngine) SetProgress(ch chan<- ProgressUpdate) {
	e.progress = ch
}

func (e *SyncEngine) skip(entry models.LibraryEntry, op string) bool {
	if e.tracker == nil || !e.tracker.Authenticated() {
		e.logger.Debug("no tracker credential; skipped", "op", op, "entry", entry.ID)
		return true
	}
	if !entry.Linked() {
		e.logger.Debug("entry not linked to a remote item; skipped", "op", op, "entry", entry.ID)
		return true
	}
	return false
}

// PushEntry sends the entry's progress and mapped status to the tracker.
//
// It returns false without any remote call when there is no credential or the entry has no remote id.
// On failure the attempt is recorded and the update is queued for replay.
func (e *SyncEngine) PushEntry(ctx context.Context, entry models.LibraryEntry) bool {
	if e.skip(entry, "push") {
		return false
	}

	unlock := e.locks.lock(entry.ID)
	defer unlock()

	remoteID := *entry.RemoteID
	status := services.MapStatus(entry.Status)

	if err := e.tracker.UpdateProgress(ctx, remoteID, entry.Progress, status); err != nil {
		e.logger.Warn("push failed; queued for retry", "entry", entry.ID, "remote_id", remoteID, "error", err)
		if err := e.store.RecordSyncAttempt(entry.ID); err != nil {
			e.logger.Error("failed to record sync attempt", "entry", entry.ID, "error", err)
		}
		e.enqueue(entry, remoteID, status)
		return false
	}

	e.confirm(entry.ID, entry.Progress, status)
	e.notifier.Notify(
		fmt.Sprintf("%s synced", e.tracker.Name()),
		fmt.Sprintf("%s: %s %d", entry.Title, entry.Kind.UnitLabel(), entry.Progress),
		entry.CoverURL,
	)
	e.logger.Info("progress pushed", "entry", entry.ID, "title", entry.Title, "progress", entry.Progress, "status", status)
	return true
}

func (e *SyncEngine) enqueue(entry models.LibraryEntry, remoteID int, status services.RemoteStatus) {
	if e.queue == nil {
		return
	}
	payload := models.Payload{
		models.PayloadEntryID:  entry.ID,
		models.PayloadRemoteID: remoteID,
		models.PayloadProgress: entry.Progress,
		models.PayloadStatus:   string(status),
	}
	if _, err := e.queue.Enqueue(models.ProgressMutationKind(entry.Kind), payload); err != nil {
		e.logger.Error("failed to queue push", "entry", entry.ID, "error", err)
	}
}

// confirm clears the dirty flag unless the entry changed after the pushed values were read.
func (e *SyncEngine) confirm(id string, progress int, status services.RemoteStatus) bool {
	current, err := e.store.Get(id)
	if err != nil {
		if !errors.Is(err, shared.ErrEntryNotFound) {
			e.logger.Error("failed to reload entry", "entry", id, "error", err)
		}
		return false
	}
	if current.Progress != progress || services.MapStatus(current.Status) != status {
		e.logger.Debug("entry changed during push; left dirty", "entry", id)
		return false
	}
	if err := e.store.MarkSynced(id); err != nil {
		e.logger.Error("failed to mark entry synced", "entry", id, "error", err)
		return false
	}
	return true
}

// PushAll pushes every unsynced entry of both media kinds, one at a time, with a fixed delay between remote calls.
//
// Concurrent callers share one pass.
func (e *SyncEngine) PushAll(ctx context.Context) PushResult {
	v, _, _ := e.group.Do("push", func() (any, error) {
		return e.pushAll(ctx), nil
	})
	return v.(PushResult)
}

func (e *SyncEngine) pushAll(ctx context.Context) PushResult {
	var res PushResult
	if e.tracker == nil || !e.tracker.Authenticated() {
		e.logger.Debug("no tracker credential; push pass skipped")
		return res
	}

	var entries []models.LibraryEntry
	for _, kind := range models.MediaKinds {
		unsynced, err := e.store.GetUnsynced(kind)
		if err != nil {
			e.logger.Error("failed to load unsynced entries", "kind", kind, "error", err)
			continue
		}
		for _, entry := range unsynced {
			if !entry.Linked() {
				res.Skipped++
				continue
			}
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return res
	}

	start := time.Now()
	for i, entry := range entries {
		if err := e.limiter.Wait(ctx); err != nil {
			e.logger.Warn("push pass cancelled", "remaining", len(entries)-i, "error", err)
			break
		}

		ok := e.PushEntry(ctx, entry)
		if ok {
			res.Success++
		} else {
			res.Failed++
		}
		sendProgress(e.progress, pushUpdate(i+1, len(entries), entry, ok))
	}

	e.logger.Info("push pass finished", "success", res.Success, "failed", res.Failed, "skipped", res.Skipped, "elapsed", elapsed(start))
	e.record("push", res.Success, res.Failed, fmt.Sprintf("skipped=%d", res.Skipped))
	return res
}

// PullEntry fetches the remote progress of one entry and overwrites the local values when they differ.
//
// The remote side is authoritative; there is no merge.
func (e *SyncEngine) PullEntry(ctx context.Context, entry models.LibraryEntry) bool {
	if e.skip(entry, "pull") {
		return false
	}

	unlock := e.locks.lock(entry.ID)
	defer unlock()

	remote, err := e.tracker.GetProgress(ctx, *entry.RemoteID)
	if err != nil {
		e.logger.Warn("pull failed", "entry", entry.ID, "remote_id", *entry.RemoteID, "error", err)
		return false
	}

	if remote.Progress == entry.Progress {
		return true
	}
	if err := e.store.ApplyRemote(entry.ID, remote.Progress, remote.Status); err != nil {
		e.logger.Error("failed to apply remote progress", "entry", entry.ID, "error", err)
		return false
	}
	e.logger.Info("progress pulled", "entry", entry.ID, "from", entry.Progress, "to", remote.Progress)
	return true
}

// PullAll fetches the full remote collection of both media kinds.
//
// Linked local entries with different progress are overwritten and remote items not tracked locally are imported.
// Concurrent callers share one pass.
func (e *SyncEngine) PullAll(ctx context.Context) PullResult {
	v, _, _ := e.group.Do("pull", func() (any, error) {
		return e.pullAll(ctx), nil
	})
	return v.(PullResult)
}

func (e *SyncEngine) pullAll(ctx context.Context) PullResult {
	var res PullResult
	if e.tracker == nil || !e.tracker.Authenticated() {
		e.logger.Debug("no tracker credential; pull pass skipped")
		return res
	}

	start := time.Now()
	total := len(models.MediaKinds)
	for i, kind := range models.MediaKinds {
		if err := e.limiter.Wait(ctx); err != nil {
			e.logger.Warn("pull pass cancelled", "error", err)
			break
		}

		remote, err := e.tracker.ListProgress(ctx, kind)
		if err != nil {
			e.logger.Warn("failed to fetch remote collection", "kind", kind, "error", err)
			res.Failed++
			sendProgress(e.progress, pullFailedUpdate(i+1, total, kind, err))
			continue
		}
		sendProgress(e.progress, pullUpdate(i+1, total, kind, len(remote)))

		for _, r := range remote {
			e.applyPulled(kind, r, &res)
		}
	}

	e.logger.Info("pull pass finished",
		"updated", res.Updated, "created", res.Created, "unchanged", res.Unchanged, "failed", res.Failed,
		"elapsed", elapsed(start))
	e.record("pull", res.Updated+res.Created, res.Failed,
		fmt.Sprintf("updated=%d created=%d unchanged=%d", res.Updated, res.Created, res.Unchanged))
	return res
}

func (e *SyncEngine) applyPulled(kind models.MediaKind, r services.RemoteProgress, res *PullResult) {
	local, err := e.store.FindByRemoteID(kind, r.RemoteID)
	switch {
	case errors.Is(err, shared.ErrEntryNotFound):
		entry := models.LibraryEntry{
			Kind:     kind,
			Title:    r.Title,
			Progress: r.Progress,
			Status:   r.Status,
			Total:    r.Total,
			RemoteID: models.Ptr(r.RemoteID),
			CoverURL: r.CoverURL,
		}
		if _, err := e.store.Import(entry); err != nil {
			e.logger.Error("failed to import remote entry", "remote_id", r.RemoteID, "error", err)
			res.Failed++
			return
		}
		res.Created++
	case err != nil:
		e.logger.Error("failed to look up entry", "remote_id", r.RemoteID, "error", err)
		res.Failed++
	case local.Progress == r.Progress:
		res.Unchanged++
	default:
		unlock := e.locks.lock(local.ID)
		defer unlock()
		if err := e.store.ApplyRemote(local.ID, r.Progress, r.Status); err != nil {
			e.logger.Error("failed to apply remote progress", "entry", local.ID, "error", err)
			res.Failed++
			return
		}
		res.Updated++
	}
}

// RegisterProcessors installs the progress replay processors for every media kind on q.
func (e *SyncEngine) RegisterProcessors(q *MutationQueue) {
	for _, kind := range models.MediaKinds {
		q.RegisterProcessor(models.ProgressMutationKind(kind), e.replay)
	}
}

// replay resends a queued progress update.
//
// Updates superseded by a newer local value, or whose entry was synced since, are dropped without a remote call.
func (e *SyncEngine) replay(ctx context.Context, payload models.Payload) error {
	remoteID, ok := payload.Int(models.PayloadRemoteID)
	if !ok || remoteID <= 0 {
		return fmt.Errorf("%w: payload has no remote id", shared.ErrPermanent)
	}
	progress, ok := payload.Int(models.PayloadProgress)
	if !ok {
		return fmt.Errorf("%w: payload has no progress", shared.ErrPermanent)
	}
	raw, _ := payload.String(models.PayloadStatus)
	status := services.RemoteStatus(raw)
	if status == "" {
		status = services.RemoteCurrent
	}

	if e.tracker == nil || !e.tracker.Authenticated() {
		return shared.ErrNotAuthenticated
	}

	entryID, _ := payload.String(models.PayloadEntryID)
	if entryID != "" {
		unlock := e.locks.lock(entryID)
		defer unlock()

		if current, err := e.store.Get(entryID); err == nil {
			if !current.Dirty {
				e.logger.Debug("entry already synced; queued update dropped", "entry", entryID, "queued", progress)
				return nil
			}
			if current.Progress != progress || services.MapStatus(current.Status) != status {
				e.logger.Debug("queued update superseded; dropped", "entry", entryID, "queued", progress, "current", current.Progress)
				return nil
			}
		}
	}

	if err := e.tracker.UpdateProgress(ctx, remoteID, progress, status); err != nil {
		return err
	}
	if entryID != "" {
		e.confirm(entryID, progress, status)
	}
	e.logger.Info("queued update replayed", "entry", entryID, "remote_id", remoteID, "progress", progress)
	return nil
}

func (e *SyncEngine) record(op string, success, failed int, detail string) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordPass(op, success, failed, detail); err != nil {
		e.logger.Warn("failed to record pass", "op", op, "error", err)
	}
}

// entryLocks serializes push and pull of the same entry.
type entryLocks struct {
	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (l *entryLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*entryLock)
	}
	el, ok := l.locks[id]
	if !ok {
		el = &entryLock{}
		l.locks[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
