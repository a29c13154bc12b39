package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/notify"
	"github.com/desertthunder/tsundoku/internal/server"
	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/tasks"
	"github.com/desertthunder/tsundoku/internal/ui"
	"github.com/urfave/cli/v3"
)

// printProgress starts a goroutine writing progress messages until the returned channel is closed.
func (r *Runner) printProgress() (chan tasks.ProgressUpdate, <-chan struct{}) {
	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			switch update.Phase {
			case tasks.DownloadUnits:
				task, _ := update.Data.(models.DownloadTask)
				r.writePlain("\r   %s %s", ui.Styles.Bar(update.Step, update.Total, 20), task.ItemTitle)
				if update.Step == update.Total {
					r.writePlain("\n")
				}
			default:
				r.writePlain("   %s\n", update.Message)
			}
		}
	}()
	return progress, done
}

// SyncPush pushes every unsynced, linked entry.
func (r *Runner) SyncPush(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}
	if !r.tracker.Authenticated() {
		return fmt.Errorf("%w: run 'tsundoku auth login' first", shared.ErrNotAuthenticated)
	}

	r.writePlain("📤 Pushing local progress to %s...\n", r.tracker.Name())

	progress, done := r.printProgress()
	r.engine.SetProgress(progress)
	result := r.engine.PushAll(ctx)
	r.engine.SetProgress(nil)
	close(progress)
	<-done

	r.writePlainln("")
	r.writePlainHeader("Push Complete")
	r.writePlain("Synced: %d  Failed: %d  Not linked: %d\n", result.Success, result.Failed, result.Skipped)
	if result.Failed > 0 {
		r.writePlain("%s\n", ui.Styles.Warn("Failed updates were queued; run 'tsundoku queue drain' once online"))
	}
	return nil
}

// SyncPull overwrites local progress with the tracker's values and imports remote-only entries.
func (r *Runner) SyncPull(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}
	if !r.tracker.Authenticated() {
		return fmt.Errorf("%w: run 'tsundoku auth login' first", shared.ErrNotAuthenticated)
	}

	unsynced := 0
	for _, kind := range models.MediaKinds {
		dirty, err := r.library.GetUnsynced(kind)
		if err != nil {
			return err
		}
		unsynced += len(dirty)
	}
	if unsynced > 0 {
		r.writePlain("%s\n", ui.Styles.Warn(fmt.Sprintf("⚠ %d entries have unsynced changes; pulling overwrites them (run 'tsundoku sync push' first to keep them)", unsynced)))
	}

	r.writePlain("📥 Pulling progress from %s...\n", r.tracker.Name())

	progress, done := r.printProgress()
	r.engine.SetProgress(progress)
	result := r.engine.PullAll(ctx)
	r.engine.SetProgress(nil)
	close(progress)
	<-done

	r.writePlainln("")
	r.writePlainHeader("Pull Complete")
	r.writePlain("Updated: %d  Imported: %d  Unchanged: %d  Failed: %d\n", result.Updated, result.Created, result.Unchanged, result.Failed)
	return nil
}

// StatusReport is the snapshot printed by 'sync status' and served on GET /status.
type StatusReport struct {
	Tracker       string            `json:"tracker"`
	Authenticated bool              `json:"authenticated"`
	Online        bool              `json:"online"`
	Entries       int               `json:"entries"`
	Unsynced      int               `json:"unsynced"`
	Queued        int               `json:"queued"`
	DeadLetters   int               `json:"deadLetters"`
	RecentPasses  []models.SyncPass `json:"recentPasses,omitempty"`
}

func (r *Runner) statusReport() (*StatusReport, error) {
	report := &StatusReport{
		Tracker:       r.tracker.Name(),
		Authenticated: r.tracker.Authenticated(),
		Online:        r.monitor.Online(),
	}

	entries, err := r.library.List("")
	if err != nil {
		return nil, err
	}
	report.Entries = len(entries)
	for _, e := range entries {
		if e.Dirty {
			report.Unsynced++
		}
	}

	if report.Queued, err = r.queue.Len(); err != nil {
		return nil, err
	}
	dead, err := r.queue.DeadLetters()
	if err != nil {
		return nil, err
	}
	report.DeadLetters = len(dead)

	if r.synclog != nil {
		if report.RecentPasses, err = r.synclog.Recent(5); err != nil {
			r.logger.Warn("failed to read sync log", "error", err)
		}
	}
	return report, nil
}

// SyncStatus prints pending work and the latest passes.
func (r *Runner) SyncStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	r.monitor.Probe(probeCtx)
	cancel()

	report, err := r.statusReport()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, cmd.Bool("pretty"))
	}

	auth := ui.Styles.Warn("not logged in")
	if report.Authenticated {
		auth = ui.Styles.OK("logged in")
	}

	r.writePlain("%s\n", ui.Styles.Title("Sync Status"))
	r.writePlain("Tracker:      %s (%s)\n", report.Tracker, auth)
	r.writePlain("Network:      %s\n", ui.Styles.Online(report.Online))
	r.writePlain("Entries:      %d (%d unsynced)\n", report.Entries, report.Unsynced)
	r.writePlain("Queued:       %d\n", report.Queued)
	if report.DeadLetters > 0 {
		r.writePlain("Dead letters: %s\n", ui.Styles.Err(fmt.Sprint(report.DeadLetters)))
	} else {
		r.writePlain("Dead letters: 0\n")
	}

	if len(report.RecentPasses) > 0 {
		r.writePlainln("Recent passes:")
		r.writePlain("%s\n", ui.PassesTable(report.RecentPasses))
	}
	return nil
}

// SyncLog prints recorded passes, optionally pruning old ones first.
func (r *Runner) SyncLog(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}
	if r.synclog == nil {
		return fmt.Errorf("%w: sync log requires the database", shared.ErrServiceUnavailable)
	}

	if age := cmd.Duration("prune"); age > 0 {
		n, err := r.synclog.Prune(time.Now().Add(-age))
		if err != nil {
			return err
		}
		r.writePlain("Pruned %d passes older than %s\n", n, age)
	}

	passes, err := r.synclog.Recent(cmd.Int("limit"))
	if err != nil {
		return err
	}
	if len(passes) == 0 {
		return r.writePlain("No passes recorded\n")
	}
	return r.writePlain("%s\n", ui.PassesTable(passes))
}

// SyncDaemon runs until interrupted: connectivity probing, queue replay on reconnect, and periodic pushes.
func (r *Runner) SyncDaemon(ctx context.Context, cmd *cli.Command) error {
	var delayed *notify.Delayed
	if r.notifier == nil && r.config.Sync.Notify {
		delayed = notify.NewDelayed(notify.NewDesktopNotifier(notify.NewLogNotifier(r.logger)), r.config.Sync.NotifyDelay.Duration)
		r.notifier = delayed
	}

	if err := r.open(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cmd.Duration("interval")
	if interval <= 0 {
		interval = r.config.Sync.Interval.Duration
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		r.queue.Run(ctx)
	}()

	if cmd.Bool("pull") && r.tracker.Authenticated() {
		r.engine.PushAll(ctx)
		r.engine.PullAll(ctx)
	}

	scheduler := tasks.StartScheduler(ctx, r.engine, r.monitor, interval, r.logger)

	serverErr := make(chan error, 1)
	if addr := cmd.String("status-addr"); addr != "" {
		router := server.NewBasicRouter()
		router.Use(server.Recover(r.logger), server.Logging(r.logger))
		router.Handler(server.StatusHandler{Report: func(*http.Request) (any, error) {
			return r.statusReport()
		}})
		go func() {
			serverErr <- server.Serve(ctx, addr, router, r.logger)
		}()
	}

	r.writePlain("%s (interval %s, Ctrl+C to stop)\n", ui.Styles.OK("● Sync daemon running"), interval)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		stop()
	}

	scheduler.Stop()
	wg.Wait()
	if delayed != nil {
		if n := delayed.Stop(); n > 0 {
			r.logger.Debug("pending notifications dropped", "count", n)
		}
	}

	r.logger.Info("sync daemon stopped")
	return runErr
}
