package tasks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/network"
	"github.com/desertthunder/tsundoku/internal/notify"
	"github.com/desertthunder/tsundoku/internal/repositories"
	"github.com/desertthunder/tsundoku/internal/services"
	"github.com/desertthunder/tsundoku/internal/shared"
	tu "github.com/desertthunder/tsundoku/internal/testing"
)

type engineFixture struct {
	lib      *repositories.LibraryRepository
	tracker  *tu.MockTracker
	queue    *MutationQueue
	notifier *tu.MockNotifier
	recorder *passRecorder
	engine   *SyncEngine
}

func newEngineFixture(t *testing.T, conn Connectivity) *engineFixture {
	t.Helper()
	f := &engineFixture{
		lib:      newLibrary(t),
		tracker:  tu.NewMockTracker(),
		notifier: &tu.MockNotifier{},
		recorder: &passRecorder{},
	}
	f.queue = NewMutationQueue(newMutations(t), conn, testLogger())
	f.engine = NewSyncEngine(f.lib, f.tracker, f.queue, EngineConfig{
		ItemDelay: time.Millisecond,
		Notifier:  f.notifier,
		Recorder:  f.recorder,
		Logger:    testLogger(),
	})
	f.engine.RegisterProcessors(f.queue)
	return f
}

func connRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func TestSyncEngine_PushEntry(t *testing.T) {
	t.Run("no credential is a soft skip", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.tracker.SetAuthenticated(false)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)

		if f.engine.PushEntry(context.Background(), entry) {
			t.Error("expected false without a credential")
		}
		if f.tracker.Calls() != 0 {
			t.Errorf("expected no remote call, got %d", f.tracker.Calls())
		}
		if n, _ := f.queue.Len(); n != 0 {
			t.Errorf("expected nothing queued, got %d", n)
		}
	})

	t.Run("unlinked entry is a soft skip", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		entry := addEntry(t, f.lib, models.MediaText, "Local Only", 3, 0)

		if f.engine.PushEntry(context.Background(), entry) {
			t.Error("expected false for an entry without a remote id")
		}
		if f.tracker.Calls() != 0 {
			t.Errorf("expected no remote call, got %d", f.tracker.Calls())
		}
		if n, _ := f.queue.Len(); n != 0 {
			t.Errorf("expected nothing queued, got %d", n)
		}
	})

	t.Run("success marks the entry synced", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)

		if !f.engine.PushEntry(context.Background(), entry) {
			t.Fatal("expected push to succeed")
		}

		updates := f.tracker.Updates()
		want := tu.TrackerUpdate{RemoteID: 154587, Progress: 5, Status: services.RemoteCurrent}
		if len(updates) != 1 || updates[0] != want {
			t.Errorf("expected update %+v, got %+v", want, updates)
		}

		stored := mustGet(t, f.lib, entry.ID)
		if stored.Dirty || stored.LastSyncedAt == nil {
			t.Errorf("expected clean entry with LastSyncedAt, got dirty=%v synced=%v", stored.Dirty, stored.LastSyncedAt)
		}
		if len(f.notifier.Sent()) != 1 {
			t.Errorf("expected one confirmation, got %d", len(f.notifier.Sent()))
		}
	})

	t.Run("failure records the attempt and queues the update", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.tracker.SetUpdateErr(fmt.Errorf("%w: status 503", shared.ErrServiceUnavailable))
		entry := addEntry(t, f.lib, models.MediaText, "Dandadan", 120, 132029)
		entry, _ = f.lib.UpdateProgress(entry.ID, models.EntryPatch{Status: models.Ptr(models.StatusPaused)})

		if f.engine.PushEntry(context.Background(), entry) {
			t.Fatal("expected push to fail")
		}

		stored := mustGet(t, f.lib, entry.ID)
		if !stored.Dirty || stored.LastSyncAttemptAt == nil || stored.LastSyncedAt != nil {
			t.Errorf("unexpected entry state %+v", stored)
		}

		pending, _ := f.queue.Pending()
		if len(pending) != 1 {
			t.Fatalf("expected one queued mutation, got %d", len(pending))
		}
		m := pending[0]
		if m.Kind != models.MutationTextProgress {
			t.Errorf("expected kind %s, got %s", models.MutationTextProgress, m.Kind)
		}
		id, _ := m.Payload.String(models.PayloadEntryID)
		remoteID, _ := m.Payload.Int(models.PayloadRemoteID)
		progress, _ := m.Payload.Int(models.PayloadProgress)
		status, _ := m.Payload.String(models.PayloadStatus)
		if id != entry.ID || remoteID != 132029 || progress != 120 || status != "PAUSED" {
			t.Errorf("unexpected payload %+v", m.Payload)
		}
		if len(f.notifier.Sent()) != 0 {
			t.Error("failed push should not notify")
		}
	})

	t.Run("maps every local status", func(t *testing.T) {
		tests := []struct {
			status models.Status
			want   services.RemoteStatus
		}{
			{models.StatusActive, services.RemoteCurrent},
			{models.StatusCompleted, services.RemoteCompleted},
			{models.StatusPaused, services.RemotePaused},
			{models.StatusDropped, services.RemoteDropped},
			{models.StatusPlanned, services.RemotePlanning},
		}
		for _, tt := range tests {
			t.Run(string(tt.status), func(t *testing.T) {
				f := newEngineFixture(t, nil)
				entry := addEntry(t, f.lib, models.MediaVideo, "Mushishi", 1, 457)
				entry, _ = f.lib.UpdateProgress(entry.ID, models.EntryPatch{Status: models.Ptr(tt.status)})

				f.engine.PushEntry(context.Background(), entry)
				updates := f.tracker.Updates()
				if len(updates) != 1 || updates[0].Status != tt.want {
					t.Errorf("expected %s, got %+v", tt.want, updates)
				}
			})
		}
	})

	t.Run("confirmation goes through the delayed notifier", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		var gotDelay time.Duration
		var fire func()
		delayed := notify.NewDelayed(f.notifier, DefaultNotifyDelay)
		delayed.AfterFunc = func(d time.Duration, fn func()) notify.Stopper {
			gotDelay, fire = d, fn
			return time.NewTimer(time.Hour)
		}
		engine := NewSyncEngine(f.lib, f.tracker, f.queue, EngineConfig{Notifier: delayed, Logger: testLogger()})
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 6, 154587)

		engine.PushEntry(context.Background(), entry)
		if gotDelay != 1500*time.Millisecond {
			t.Errorf("expected 1.5s delay, got %v", gotDelay)
		}
		if len(f.notifier.Sent()) != 0 {
			t.Error("notification should wait for the delay")
		}
		fire()
		if sent := f.notifier.Sent(); len(sent) != 1 || sent[0].Body != "Frieren: episode 6" {
			t.Errorf("unexpected notifications %+v", sent)
		}
	})

	t.Run("entry changed during push stays dirty", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)
		if _, err := f.lib.UpdateProgress(entry.ID, models.EntryPatch{Progress: models.Ptr(6)}); err != nil {
			t.Fatal(err)
		}

		if !f.engine.PushEntry(context.Background(), entry) {
			t.Fatal("expected the remote write to succeed")
		}
		if stored := mustGet(t, f.lib, entry.ID); !stored.Dirty {
			t.Error("newer local progress should keep the entry dirty")
		}
	})
}

func TestSyncEngine_PushAll(t *testing.T) {
	t.Run("pushes unsynced entries of both kinds", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 1)
		addEntry(t, f.lib, models.MediaText, "Dandadan", 120, 2)
		addEntry(t, f.lib, models.MediaText, "Unlinked", 3, 0)
		f.tracker.UpdateErrs = []error{nil, errors.New("boom")}

		progress := make(chan ProgressUpdate, 10)
		f.engine.SetProgress(progress)

		res := f.engine.PushAll(context.Background())
		if res != (PushResult{Success: 1, Failed: 1, Skipped: 1}) {
			t.Errorf("unexpected result %+v", res)
		}
		if len(progress) != 2 {
			t.Errorf("expected 2 progress updates, got %d", len(progress))
		}
		if passes := f.recorder.all(); len(passes) != 1 || passes[0] != (pass{"push", 1, 1}) {
			t.Errorf("unexpected passes %+v", passes)
		}

		unsynced, _ := f.lib.GetUnsynced(models.MediaText)
		if len(unsynced) != 2 {
			t.Errorf("expected failed and unlinked entries to stay dirty, got %d", len(unsynced))
		}
	})

	t.Run("no credential skips the pass", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.tracker.SetAuthenticated(false)
		addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 1)

		if res := f.engine.PushAll(context.Background()); res != (PushResult{}) {
			t.Errorf("expected empty result, got %+v", res)
		}
		if f.tracker.Calls() != 0 {
			t.Error("expected no remote calls")
		}
	})

	t.Run("waits between items", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		engine := NewSyncEngine(f.lib, f.tracker, f.queue, EngineConfig{ItemDelay: 30 * time.Millisecond, Logger: testLogger()})
		for i := range 3 {
			addEntry(t, f.lib, models.MediaVideo, fmt.Sprintf("Show %d", i), 1, i+1)
		}

		start := time.Now()
		engine.PushAll(context.Background())
		if took := time.Since(start); took < 60*time.Millisecond {
			t.Errorf("expected at least two delays between three items, took %v", took)
		}
	})

	t.Run("concurrent passes push each entry once", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		for i := range 5 {
			addEntry(t, f.lib, models.MediaVideo, fmt.Sprintf("Show %d", i), 1, i+1)
		}

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.engine.PushAll(context.Background())
			}()
		}
		wg.Wait()

		if n := len(f.tracker.Updates()); n != 5 {
			t.Errorf("expected 5 remote writes, got %d", n)
		}
	})

	t.Run("cancelled context stops the pass", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 1)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if res := f.engine.PushAll(ctx); res.Success != 0 {
			t.Errorf("expected no pushes, got %+v", res)
		}
	})
}

func TestSyncEngine_Pull(t *testing.T) {
	t.Run("PullEntry overwrites differing progress", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)
		f.tracker.Remote[154587] = services.RemoteProgress{RemoteID: 154587, Kind: models.MediaVideo, Progress: 9, Status: models.StatusCompleted}

		if !f.engine.PullEntry(context.Background(), entry) {
			t.Fatal("expected pull to succeed")
		}
		stored := mustGet(t, f.lib, entry.ID)
		if stored.Progress != 9 || stored.Status != models.StatusCompleted || stored.Dirty {
			t.Errorf("expected remote values to win, got %+v", stored)
		}
	})

	t.Run("PullEntry leaves equal progress alone", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)
		f.tracker.Remote[154587] = services.RemoteProgress{RemoteID: 154587, Kind: models.MediaVideo, Progress: 5, Status: models.StatusActive}

		if !f.engine.PullEntry(context.Background(), entry) {
			t.Fatal("expected pull to succeed")
		}
		if stored := mustGet(t, f.lib, entry.ID); !stored.Dirty {
			t.Error("unchanged entry should keep its dirty flag")
		}
	})

	t.Run("PullEntry soft skips and failures", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		unlinked := addEntry(t, f.lib, models.MediaVideo, "Local", 1, 0)
		if f.engine.PullEntry(context.Background(), unlinked) {
			t.Error("expected false for an unlinked entry")
		}

		linked := addEntry(t, f.lib, models.MediaVideo, "Missing", 1, 42)
		if f.engine.PullEntry(context.Background(), linked) {
			t.Error("expected false when the remote lookup fails")
		}
	})

	t.Run("PullAll updates, creates and counts unchanged", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		behind := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 1)
		addEntry(t, f.lib, models.MediaText, "Dandadan", 120, 2)

		f.tracker.Remote[1] = services.RemoteProgress{RemoteID: 1, Kind: models.MediaVideo, Title: "Frieren", Progress: 8, Status: models.StatusActive}
		f.tracker.Remote[2] = services.RemoteProgress{RemoteID: 2, Kind: models.MediaText, Title: "Dandadan", Progress: 120, Status: models.StatusActive}
		f.tracker.Remote[3] = services.RemoteProgress{RemoteID: 3, Kind: models.MediaText, Title: "Blame!", Progress: 10, Status: models.StatusCompleted, Total: models.Ptr(65)}

		res := f.engine.PullAll(context.Background())
		if res != (PullResult{Updated: 1, Created: 1, Unchanged: 1}) {
			t.Errorf("unexpected result %+v", res)
		}

		if stored := mustGet(t, f.lib, behind.ID); stored.Progress != 8 {
			t.Errorf("expected progress 8, got %d", stored.Progress)
		}
		created, err := f.lib.FindByRemoteID(models.MediaText, 3)
		if err != nil {
			t.Fatalf("expected remote-only item to be imported: %v", err)
		}
		if created.Dirty || created.Title != "Blame!" || created.Total == nil || *created.Total != 65 {
			t.Errorf("unexpected imported entry %+v", created)
		}
		if passes := f.recorder.all(); len(passes) != 1 || passes[0] != (pass{"pull", 2, 0}) {
			t.Errorf("unexpected passes %+v", passes)
		}
	})

	t.Run("PullAll counts failed collections", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.tracker.ListErr = connRefused()

		if res := f.engine.PullAll(context.Background()); res.Failed != len(models.MediaKinds) {
			t.Errorf("expected one failure per kind, got %+v", res)
		}
	})
}

func TestSyncEngine_Replay(t *testing.T) {
	t.Run("queued update is replayed once back online", func(t *testing.T) {
		monitor := network.NewMonitor(true)
		f := newEngineFixture(t, monitor)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)

		monitor.Set(false)
		f.tracker.SetUpdateErr(fmt.Errorf("request failed: %w", connRefused()))
		if f.engine.PushEntry(context.Background(), entry) {
			t.Fatal("expected offline push to fail")
		}
		if res := f.queue.Drain(context.Background()); !res.Offline {
			t.Fatalf("expected drain to be skipped offline, got %+v", res)
		}

		monitor.Set(true)
		f.tracker.SetUpdateErr(nil)
		res := f.queue.Drain(context.Background())
		if res.Processed != 1 || res.Remaining != 0 {
			t.Fatalf("unexpected drain result %+v", res)
		}

		stored := mustGet(t, f.lib, entry.ID)
		if stored.Dirty || stored.LastSyncedAt == nil {
			t.Errorf("expected replay to mark the entry synced, got %+v", stored)
		}
		if updates := f.tracker.Updates(); len(updates) != 1 || updates[0].Progress != 5 {
			t.Errorf("unexpected updates %+v", updates)
		}
	})

	t.Run("superseded update is dropped without a remote call", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)

		f.tracker.SetUpdateErr(errors.New("boom"))
		f.engine.PushEntry(context.Background(), entry)

		f.tracker.SetUpdateErr(nil)
		newer, _ := f.lib.UpdateProgress(entry.ID, models.EntryPatch{Progress: models.Ptr(6)})
		if !f.engine.PushEntry(context.Background(), newer) {
			t.Fatal("expected newer push to succeed")
		}

		res := f.queue.Drain(context.Background())
		if res.Processed != 1 {
			t.Fatalf("unexpected drain result %+v", res)
		}
		updates := f.tracker.Updates()
		if len(updates) != 1 || updates[0].Progress != 6 {
			t.Errorf("remote should keep the newer progress, got %+v", updates)
		}
	})

	t.Run("update confirmed by a later push is dropped", func(t *testing.T) {
		monitor := network.NewMonitor(true)
		f := newEngineFixture(t, monitor)
		entry := addEntry(t, f.lib, models.MediaVideo, "Frieren", 5, 154587)

		f.tracker.SetUpdateErr(fmt.Errorf("request failed: %w", connRefused()))
		if f.engine.PushEntry(context.Background(), entry) {
			t.Fatal("expected push to fail")
		}

		f.tracker.SetUpdateErr(nil)
		if res := f.engine.PushAll(context.Background()); res.Success != 1 {
			t.Fatalf("expected push pass to succeed, got %+v", res)
		}
		if stored := mustGet(t, f.lib, entry.ID); stored.Dirty {
			t.Fatal("expected entry to be clean after the push pass")
		}
		calls := f.tracker.Calls()

		res := f.queue.Drain(context.Background())
		if res.Processed != 1 || res.Remaining != 0 {
			t.Fatalf("unexpected drain result %+v", res)
		}
		if extra := f.tracker.Calls() - calls; extra != 0 {
			t.Errorf("expected no remote call for a synced entry, got %d", extra)
		}
		if updates := f.tracker.Updates(); len(updates) != 1 {
			t.Errorf("expected a single remote write, got %+v", updates)
		}
	})

	t.Run("malformed payload is dead-lettered", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.queue.SetDeadLetterPermanent(true)
		if _, err := f.queue.Enqueue(models.MutationVideoProgress, models.Payload{models.PayloadProgress: 3}); err != nil {
			t.Fatal(err)
		}

		res := f.queue.Drain(context.Background())
		if res.DeadLettered != 1 {
			t.Errorf("expected dead letter, got %+v", res)
		}
	})

	t.Run("no credential keeps the item queued", func(t *testing.T) {
		f := newEngineFixture(t, nil)
		f.tracker.SetAuthenticated(false)
		payload := models.Payload{models.PayloadRemoteID: 1, models.PayloadProgress: 3, models.PayloadStatus: "CURRENT"}
		if _, err := f.queue.Enqueue(models.MutationVideoProgress, payload); err != nil {
			t.Fatal(err)
		}

		res := f.queue.Drain(context.Background())
		if res.Failed != 1 || res.Remaining != 1 {
			t.Errorf("expected item to stay queued, got %+v", res)
		}
	})
}
