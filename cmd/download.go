package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/tasks"
	"github.com/desertthunder/tsundoku/internal/ui"
	"github.com/urfave/cli/v3"
)

// Download queues units of one library entry and waits for them.
//
// By default every unit past the entry's progress that was not downloaded yet is selected.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	entry, err := r.findEntry(cmd.StringArg("id"))
	if err != nil {
		return err
	}
	if entry.SourceID == "" || entry.ItemID == "" {
		return fmt.Errorf("%w: %s has no content source; set one with 'library update --source --item'", shared.ErrInvalidArgument, entry.Title)
	}

	p, err := r.sources().Resolve(entry.SourceID)
	if err != nil {
		return err
	}

	units, err := p.ListUnits(ctx, entry.ItemID)
	if err != nil {
		return fmt.Errorf("failed to list units: %w", err)
	}

	selected := selectUnits(units, entry, unitSelection{
		IDs:  cmd.StringSlice("unit"),
		From: cmd.Float("from"),
		To:   cmd.Float("to"),
		All:  cmd.Bool("all"),
	})
	if len(selected) == 0 {
		return r.writePlain("Nothing to download for %s\n", entry.Title)
	}

	downloads := make([]models.DownloadTask, 0, len(selected))
	for _, u := range selected {
		downloads = append(downloads, models.DownloadTask{
			SourceID:   entry.SourceID,
			ItemID:     entry.ItemID,
			ItemTitle:  entry.Title,
			UnitID:     u.ID,
			UnitNumber: u.Number,
			EntryID:    entry.ID,
		})
	}

	dir := cmd.String("dir")
	if dir == "" {
		dir = r.config.Downloads.Dir
	}
	return r.runDownloads(ctx, downloads, dir)
}

type unitSelection struct {
	IDs      []string
	From, To float64
	All      bool
}

// selectUnits picks units in ascending order.
func selectUnits(units []providers.Unit, entry models.LibraryEntry, sel unitSelection) []providers.Unit {
	var out []providers.Unit
	for _, u := range units {
		switch {
		case len(sel.IDs) > 0:
			if !slices.Contains(sel.IDs, u.ID) {
				continue
			}
		case sel.From > 0 || sel.To > 0:
			if u.Number < sel.From || (sel.To > 0 && u.Number > sel.To) {
				continue
			}
		case !sel.All:
			if u.Number <= float64(entry.Progress) || entry.HasDownloaded(u.ID) {
				continue
			}
		}
		out = append(out, u)
	}

	slices.SortStableFunc(out, func(a, b providers.Unit) int {
		switch {
		case a.Number < b.Number:
			return -1
		case a.Number > b.Number:
			return 1
		default:
			return 0
		}
	})
	return out
}

// runDownloads feeds downloads to a [tasks.Downloader] and waits, cancelling in-flight work on Ctrl+C.
func (r *Runner) runDownloads(ctx context.Context, downloads []models.DownloadTask, dir string) error {
	if dir == "" {
		dir = "."
	}

	progress, done := r.printProgress()
	downloader := tasks.NewDownloader(r.sources(), tasks.DownloaderConfig{
		Sink:       tasks.DirSink{Root: dir},
		Marker:     r.library,
		OnProgress: tasks.ProgressTo(progress),
		Logger:     r.logger,
	})

	r.writePlain("⬇ Downloading %d units to %s\n", len(downloads), dir)
	downloader.EnqueueMany(downloads)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	idle := make(chan struct{})
	go func() {
		downloader.Wait()
		close(idle)
	}()

	interrupted := false
	select {
	case <-idle:
	case <-ctx.Done():
		interrupted = true
		dropped := len(downloader.Pending())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := downloader.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("in-flight download cancelled", "error", err)
		}
		cancel()
		<-idle
		r.logger.Info("downloads interrupted", "dropped", dropped)
	}

	close(progress)
	<-done

	failed := downloader.Failed()
	r.writePlainln("")
	r.writePlainHeader("Downloads Complete")
	r.writePlain("Queued: %d  Failed: %d\n", len(downloads), failed)
	if interrupted {
		return fmt.Errorf("downloads interrupted: %w", ctx.Err())
	}
	if failed > 0 {
		r.writePlain("%s\n", ui.Styles.Warn("Failed units were skipped; see the log for details"))
	}
	return nil
}
