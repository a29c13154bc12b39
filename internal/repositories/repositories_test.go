package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStorage(t *testing.T) {
	backends := map[string]func(t *testing.T) Storage{
		"SQLite": func(t *testing.T) Storage {
			db := setupTestDB(t)
			t.Cleanup(func() { db.Close() })
			return NewSQLiteStorage(db)
		},
		"Memory": func(t *testing.T) Storage { return NewMemoryStorage() },
	}

	for name, newStorage := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t)

			v, err := s.Load("missing")
			if err != nil {
				t.Fatalf("Load() of missing key failed: %v", err)
			}
			if v != nil {
				t.Errorf("expected nil for missing key, got %q", v)
			}

			if err := s.Save("k", []byte(`[1]`)); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}
			if err := s.Save("k", []byte(`[1,2]`)); err != nil {
				t.Fatalf("second Save() failed: %v", err)
			}

			v, err = s.Load("k")
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if string(v) != `[1,2]` {
				t.Errorf("expected overwritten value, got %q", v)
			}
		})
	}
}

func TestLibraryRepository(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	newRepo := func(t *testing.T) *LibraryRepository {
		t.Helper()
		db := setupTestDB(t)
		t.Cleanup(func() { db.Close() })
		repo := NewLibraryRepository(NewSQLiteStorage(db))
		repo.SetClock(fixedClock(now))
		return repo
	}

	t.Run("UpdateProgress creates entry", func(t *testing.T) {
		repo := newRepo(t)

		entry, err := repo.UpdateProgress("", models.EntryPatch{
			Kind:     models.Ptr(models.MediaVideo),
			Title:    models.Ptr("Frieren: Beyond Journey's End"),
			Progress: models.Ptr(3),
		})
		if err != nil {
			t.Fatalf("failed to create entry: %v", err)
		}

		if entry.ID == "" {
			t.Error("entry ID should be generated")
		}
		if !entry.Dirty {
			t.Error("new entry should be dirty")
		}
		if entry.Status != models.StatusActive {
			t.Errorf("expected default status active, got %s", entry.Status)
		}
		if entry.CanonicalTitle != "frieren beyond journey s end" {
			t.Errorf("unexpected canonical title %q", entry.CanonicalTitle)
		}
		if entry.LastSyncedAt != nil || entry.LastSyncAttemptAt != nil {
			t.Error("UpdateProgress should not stamp sync timestamps")
		}

		got, err := repo.Get(entry.ID)
		if err != nil {
			t.Fatalf("failed to get entry: %v", err)
		}
		if got.Progress != 3 {
			t.Errorf("expected persisted progress 3, got %d", got.Progress)
		}
	})

	t.Run("UpdateProgress with caller id", func(t *testing.T) {
		repo := newRepo(t)

		entry, err := repo.UpdateProgress("local-1", models.EntryPatch{Kind: models.Ptr(models.MediaText), Title: models.Ptr("Dungeon Meshi")})
		if err != nil {
			t.Fatalf("failed to create entry: %v", err)
		}
		if entry.ID != "local-1" {
			t.Errorf("expected caller id to be kept, got %s", entry.ID)
		}
	})

	t.Run("UpdateProgress redirties synced entry", func(t *testing.T) {
		repo := newRepo(t)

		entry, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("Show")})
		if err := repo.MarkSynced(entry.ID); err != nil {
			t.Fatalf("failed to mark synced: %v", err)
		}

		updated, err := repo.UpdateProgress(entry.ID, models.EntryPatch{Progress: models.Ptr(4)})
		if err != nil {
			t.Fatalf("failed to update: %v", err)
		}
		if !updated.Dirty {
			t.Error("update should set dirty again")
		}
		if updated.LastSyncedAt == nil || !updated.LastSyncedAt.Equal(now) {
			t.Error("update should keep the previous LastSyncedAt")
		}
		if updated.Title != "Show" {
			t.Errorf("untouched field changed: %q", updated.Title)
		}
	})

	t.Run("GetUnsynced", func(t *testing.T) {
		repo := newRepo(t)

		a, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("A")})
		b, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("B")})
		repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaText), Title: models.Ptr("C")})

		if err := repo.MarkSynced(a.ID); err != nil {
			t.Fatalf("failed to mark synced: %v", err)
		}

		unsynced, err := repo.GetUnsynced(models.MediaVideo)
		if err != nil {
			t.Fatalf("failed to get unsynced: %v", err)
		}
		if len(unsynced) != 1 || unsynced[0].ID != b.ID {
			t.Errorf("expected only %s, got %+v", b.ID, unsynced)
		}

		text, _ := repo.GetUnsynced(models.MediaText)
		if len(text) != 1 {
			t.Errorf("expected 1 unsynced text entry, got %d", len(text))
		}
	})

	t.Run("MarkSynced", func(t *testing.T) {
		repo := newRepo(t)

		entry, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("A")})
		if err := repo.MarkSynced(entry.ID); err != nil {
			t.Fatalf("failed to mark synced: %v", err)
		}

		got, _ := repo.Get(entry.ID)
		if got.Dirty {
			t.Error("entry should be clean after MarkSynced")
		}
		if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(now) {
			t.Errorf("expected LastSyncedAt %v, got %v", now, got.LastSyncedAt)
		}
	})

	t.Run("RecordSyncAttempt keeps dirty", func(t *testing.T) {
		repo := newRepo(t)

		entry, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("A")})
		if err := repo.RecordSyncAttempt(entry.ID); err != nil {
			t.Fatalf("failed to record attempt: %v", err)
		}

		got, _ := repo.Get(entry.ID)
		if !got.Dirty {
			t.Error("RecordSyncAttempt must not clear dirty")
		}
		if got.LastSyncAttemptAt == nil {
			t.Error("LastSyncAttemptAt should be stamped")
		}
		if got.LastSyncedAt != nil {
			t.Error("LastSyncedAt should stay empty")
		}
	})

	t.Run("ApplyRemote", func(t *testing.T) {
		repo := newRepo(t)

		entry, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaText), Title: models.Ptr("A"), Progress: models.Ptr(2)})
		if err := repo.ApplyRemote(entry.ID, 9, models.StatusCompleted); err != nil {
			t.Fatalf("failed to apply remote: %v", err)
		}

		got, _ := repo.Get(entry.ID)
		if got.Progress != 9 || got.Status != models.StatusCompleted || got.Dirty {
			t.Errorf("remote state not applied: %+v", got)
		}
	})

	t.Run("FindByRemoteID", func(t *testing.T) {
		repo := newRepo(t)

		entry, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("A"), RemoteID: models.Ptr(42)})

		got, err := repo.FindByRemoteID(models.MediaVideo, 42)
		if err != nil {
			t.Fatalf("failed to find entry: %v", err)
		}
		if got.ID != entry.ID {
			t.Errorf("expected %s, got %s", entry.ID, got.ID)
		}

		if _, err := repo.FindByRemoteID(models.MediaText, 42); !errors.Is(err, shared.ErrEntryNotFound) {
			t.Errorf("expected ErrEntryNotFound for other kind, got %v", err)
		}
	})

	t.Run("MarkDownloaded", func(t *testing.T) {
		repo := newRepo(t)

		entry, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaText), Title: models.Ptr("A")})
		repo.MarkDownloaded(entry.ID, "ch-1")
		repo.MarkDownloaded(entry.ID, "ch-1")
		repo.MarkDownloaded(entry.ID, "ch-2")

		got, _ := repo.Get(entry.ID)
		if len(got.DownloadedUnits) != 2 {
			t.Errorf("expected 2 downloaded units, got %v", got.DownloadedUnits)
		}
	})

	t.Run("Import", func(t *testing.T) {
		repo := newRepo(t)

		entry, err := repo.Import(models.LibraryEntry{Kind: models.MediaVideo, Title: "Remote Show", Status: models.StatusPlanned, RemoteID: models.Ptr(7)})
		if err != nil {
			t.Fatalf("failed to import: %v", err)
		}
		if entry.Dirty || entry.LastSyncedAt == nil {
			t.Errorf("imported entry should be clean and synced: %+v", entry)
		}

		unsynced, _ := repo.GetUnsynced(models.MediaVideo)
		if len(unsynced) != 0 {
			t.Errorf("imported entry should not be pushed, got %d unsynced", len(unsynced))
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := newRepo(t)

		repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("Zeta")})
		repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("Alpha")})
		repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaText), Title: models.Ptr("Beta")})

		all, err := repo.List("")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(all) != 3 || all[0].Title != "Alpha" {
			t.Errorf("expected 3 entries sorted by title, got %+v", all)
		}

		video, _ := repo.List(models.MediaVideo)
		if len(video) != 2 {
			t.Errorf("expected 2 video entries, got %d", len(video))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)

		entry, _ := repo.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("A")})
		if err := repo.Delete(entry.ID); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if _, err := repo.Get(entry.ID); !errors.Is(err, shared.ErrEntryNotFound) {
			t.Errorf("expected ErrEntryNotFound after delete, got %v", err)
		}
	})

	t.Run("Persists across instances", func(t *testing.T) {
		storage := NewMemoryStorage()
		first := NewLibraryRepository(storage)
		entry, _ := first.UpdateProgress("", models.EntryPatch{Kind: models.Ptr(models.MediaVideo), Title: models.Ptr("A"), Progress: models.Ptr(5)})

		second := NewLibraryRepository(storage)
		got, err := second.Get(entry.ID)
		if err != nil {
			t.Fatalf("second instance could not read entry: %v", err)
		}
		if got.Progress != 5 {
			t.Errorf("expected progress 5, got %d", got.Progress)
		}
	})

	t.Run("Concurrent updates are not lost", func(t *testing.T) {
		repo := NewLibraryRepository(NewMemoryStorage())

		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				repo.UpdateProgress(fmt.Sprintf("e%d", i), models.EntryPatch{Kind: models.Ptr(models.MediaText), Title: models.Ptr("T")})
			}(i)
		}
		wg.Wait()

		all, _ := repo.List("")
		if len(all) != 20 {
			t.Errorf("expected 20 entries, got %d", len(all))
		}
	})
}

func TestMutationRepository(t *testing.T) {
	mutation := func(id string) models.QueuedMutation {
		return models.QueuedMutation{
			ID:         id,
			Kind:       models.MutationVideoProgress,
			Payload:    models.Payload{models.PayloadEntryID: "e-" + id},
			EnqueuedAt: time.Now(),
		}
	}

	ids := func(items []models.QueuedMutation) []string {
		out := make([]string, len(items))
		for i, m := range items {
			out[i] = m.ID
		}
		return out
	}

	t.Run("Append keeps FIFO order", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewMutationRepository(NewSQLiteStorage(db), 0)
		for _, id := range []string{"a", "b", "c"} {
			if _, err := repo.Append(mutation(id)); err != nil {
				t.Fatalf("failed to append %s: %v", id, err)
			}
		}

		items, err := repo.List()
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if got := fmt.Sprint(ids(items)); got != "[a b c]" {
			t.Errorf("expected [a b c], got %s", got)
		}
		if _, ok := items[0].Payload.String(models.PayloadEntryID); !ok {
			t.Error("payload should survive persistence")
		}
	})

	t.Run("Bound evicts oldest to dead letter", func(t *testing.T) {
		repo := NewMutationRepository(NewMemoryStorage(), 2)

		repo.Append(mutation("a"))
		repo.Append(mutation("b"))
		evicted, err := repo.Append(mutation("c"))
		if err != nil {
			t.Fatalf("failed to append: %v", err)
		}

		if len(evicted) != 1 || evicted[0].ID != "a" {
			t.Fatalf("expected a to be evicted, got %v", ids(evicted))
		}

		items, _ := repo.List()
		if got := fmt.Sprint(ids(items)); got != "[b c]" {
			t.Errorf("expected [b c], got %s", got)
		}

		dead, _ := repo.DeadLetters()
		if len(dead) != 1 || dead[0].LastError == "" {
			t.Errorf("expected evicted item in dead letters with a reason, got %+v", dead)
		}
	})

	t.Run("RecordAttempt", func(t *testing.T) {
		repo := NewMutationRepository(NewMemoryStorage(), 0)
		repo.Append(mutation("a"))

		if err := repo.RecordAttempt("a", errors.New("boom")); err != nil {
			t.Fatalf("failed to record attempt: %v", err)
		}

		items, _ := repo.List()
		if items[0].Attempts != 1 || items[0].LastError != "boom" || items[0].LastAttemptAt == nil {
			t.Errorf("attempt not recorded: %+v", items[0])
		}
	})

	t.Run("Remove", func(t *testing.T) {
		repo := NewMutationRepository(NewMemoryStorage(), 0)
		repo.Append(mutation("a"))
		repo.Append(mutation("b"))

		if err := repo.Remove("a"); err != nil {
			t.Fatalf("failed to remove: %v", err)
		}
		if n, _ := repo.Len(); n != 1 {
			t.Errorf("expected 1 item, got %d", n)
		}
	})

	t.Run("MoveToDeadLetter and Requeue", func(t *testing.T) {
		repo := NewMutationRepository(NewMemoryStorage(), 0)
		repo.Append(mutation("a"))
		repo.Append(mutation("b"))
		repo.RecordAttempt("a", errors.New("bad request"))

		if err := repo.MoveToDeadLetter("a", "permanent: bad request"); err != nil {
			t.Fatalf("failed to dead-letter: %v", err)
		}

		items, _ := repo.List()
		if got := fmt.Sprint(ids(items)); got != "[b]" {
			t.Errorf("expected [b], got %s", got)
		}

		requeued, err := repo.Requeue("a")
		if err != nil {
			t.Fatalf("failed to requeue: %v", err)
		}
		if requeued.Attempts != 0 || requeued.LastError != "" {
			t.Errorf("requeue should reset failure history: %+v", requeued)
		}

		items, _ = repo.List()
		if got := fmt.Sprint(ids(items)); got != "[b a]" {
			t.Errorf("expected requeued item at tail, got %s", got)
		}

		dead, _ := repo.DeadLetters()
		if len(dead) != 0 {
			t.Errorf("expected empty dead letters, got %d", len(dead))
		}
	})

	t.Run("PurgeDeadLetters", func(t *testing.T) {
		repo := NewMutationRepository(NewMemoryStorage(), 1)
		repo.Append(mutation("a"))
		repo.Append(mutation("b"))

		n, err := repo.PurgeDeadLetters()
		if err != nil {
			t.Fatalf("failed to purge: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 purged item, got %d", n)
		}
	})
}

func TestSyncLogRepository(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewSyncLogRepository(db)

	if err := repo.RecordPass("push", 3, 1, ""); err != nil {
		t.Fatalf("failed to record pass: %v", err)
	}
	if err := repo.RecordPass("pull", 5, 0, "created=2"); err != nil {
		t.Fatalf("failed to record pass: %v", err)
	}

	passes, err := repo.Recent(10)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if len(passes) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(passes))
	}

	for _, p := range passes {
		if p.Operation == "push" && (p.Success != 3 || p.Failed != 1) {
			t.Errorf("unexpected push counts: %+v", p)
		}
	}

	removed, err := repo.Prune(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 pruned rows, got %d", removed)
	}
}
