package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/desertthunder/tsundoku/internal/formatter"
	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/tasks"
	"github.com/desertthunder/tsundoku/internal/ui"
	"github.com/urfave/cli/v3"
)

// LibraryList prints library entries, optionally filtered by kind or dirty state.
func (r *Runner) LibraryList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	kind, err := kindFlag(cmd)
	if err != nil {
		return err
	}

	entries, err := r.library.List(kind)
	if err != nil {
		return err
	}

	if cmd.Bool("unsynced") {
		dirty := entries[:0]
		for _, e := range entries {
			if e.Dirty {
				dirty = append(dirty, e)
			}
		}
		entries = dirty
	}

	if cmd.Bool("json") {
		return r.writeJSON(entries, cmd.Bool("pretty"))
	}

	if len(entries) == 0 {
		return r.writePlain("Library is empty\n")
	}
	r.writePlain("%s\n", ui.LibraryTable(entries))
	return r.writePlain("%s\n", ui.Styles.Help("* = local changes not yet synced"))
}

// LibraryUpdate creates or patches an entry, then pushes it unless --push=false.
//
// Without an id (or with an unknown one) a new entry is created, which requires --kind.
func (r *Runner) LibraryUpdate(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	id := ""
	if ref := cmd.StringArg("id"); ref != "" {
		entry, err := r.findEntry(ref)
		switch {
		case err == nil:
			id = entry.ID
		case errors.Is(err, shared.ErrEntryNotFound):
			id = ref
		default:
			return err
		}
	}

	patch, err := patchFromFlags(cmd)
	if err != nil {
		return err
	}

	entry, err := r.library.UpdateProgress(id, patch)
	if err != nil {
		return err
	}

	r.writePlain("%s %s (%s %d, %s)\n", ui.Styles.OK("✓ Saved"), entry.Title, entry.Kind.UnitLabel(), entry.Progress, entry.Status)

	if !cmd.Bool("push") {
		return nil
	}

	switch {
	case r.engine.PushEntry(ctx, entry):
		return r.writePlain("%s\n", ui.Styles.OK("✓ Synced with "+r.tracker.Name()))
	case !entry.Linked():
		return r.writePlain("%s\n", ui.Styles.Help("Not linked to a remote entry; use 'tsundoku library link' to sync it"))
	case !r.tracker.Authenticated():
		return r.writePlain("%s\n", ui.Styles.Warn("Not logged in; the change is kept locally"))
	default:
		return r.writePlain("%s\n", ui.Styles.Warn("Push failed; the change was queued for retry"))
	}
}

func patchFromFlags(cmd *cli.Command) (models.EntryPatch, error) {
	var patch models.EntryPatch
	changed := false

	if cmd.IsSet("kind") {
		kind, err := models.ParseMediaKind(cmd.String("kind"))
		if err != nil {
			return patch, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
		patch.Kind, changed = &kind, true
	}
	if cmd.IsSet("title") {
		patch.Title, changed = models.Ptr(cmd.String("title")), true
	}
	if cmd.IsSet("progress") {
		patch.Progress, changed = models.Ptr(cmd.Int("progress")), true
	}
	if cmd.IsSet("total") {
		patch.Total, changed = models.Ptr(cmd.Int("total")), true
	}
	if cmd.IsSet("season") {
		patch.Season, changed = models.Ptr(cmd.Int("season")), true
	}
	if cmd.IsSet("status") {
		status := models.Status(cmd.String("status"))
		if !status.Valid() {
			return patch, fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, status)
		}
		patch.Status, changed = &status, true
	}
	if cmd.IsSet("remote-id") {
		patch.RemoteID, changed = models.Ptr(cmd.Int("remote-id")), true
	}
	if cmd.IsSet("source") {
		patch.SourceID, changed = models.Ptr(cmd.String("source")), true
	}
	if cmd.IsSet("item") {
		patch.ItemID, changed = models.Ptr(cmd.String("item")), true
	}
	if cmd.IsSet("cover") {
		patch.CoverURL, changed = models.Ptr(cmd.String("cover")), true
	}

	if !changed {
		return patch, fmt.Errorf("%w: nothing to update", shared.ErrMissingArgument)
	}
	return patch, nil
}

// LibraryLink links an entry to a tracker media id. The entry is pushed on the next sync.
func (r *Runner) LibraryLink(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	entry, err := r.findEntry(cmd.StringArg("id"))
	if err != nil {
		return err
	}

	remoteID, err := strconv.Atoi(cmd.StringArg("remote-id"))
	if err != nil || remoteID <= 0 {
		return fmt.Errorf("%w: remote id must be a positive integer", shared.ErrInvalidArgument)
	}

	if _, err := r.library.UpdateProgress(entry.ID, models.EntryPatch{RemoteID: &remoteID}); err != nil {
		return err
	}

	r.writePlain("%s %s → %s media %d\n", ui.Styles.OK("✓ Linked"), entry.Title, r.tracker.Name(), remoteID)
	return r.writePlain("%s\n", ui.Styles.Help("Run 'tsundoku sync push' to send its progress"))
}

// LibraryRemove deletes an entry.
func (r *Runner) LibraryRemove(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	entry, err := r.findEntry(cmd.StringArg("id"))
	if err != nil {
		return err
	}

	if err := r.library.Delete(entry.ID); err != nil {
		return err
	}
	return r.writePlain("%s %s\n", ui.Styles.OK("✓ Removed"), entry.Title)
}

// LibraryExport writes the library in the requested format.
func (r *Runner) LibraryExport(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	kind, err := kindFlag(cmd)
	if err != nil {
		return err
	}

	entries, err := r.library.List(kind)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	var result *formatter.ExportResult
	if format == formatter.FormatMarkdown {
		if output == "" {
			output = "library"
		}
		result, err = formatter.WriteMarkdownExport(entries, output, cmd.Bool("covers"))
	} else {
		result, err = formatter.WriteExport(entries, format, output)
	}
	if err != nil {
		return err
	}

	r.logger.Info("library exported", "format", format, "entries", len(entries))
	r.writePlain("%s %d entries\n", ui.Styles.OK("✓ Exported"), len(entries))
	for _, f := range result.Files {
		r.writePlain("  %s\n", f)
	}
	return nil
}

// LibraryUpdates checks every provider-backed entry for units past its progress.
func (r *Runner) LibraryUpdates(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	entries, err := r.library.List("")
	if err != nil {
		return err
	}

	progress, done := r.printProgress()
	checker := tasks.NewUnitChecker(r.sources(), r.logger)
	report, err := checker.Check(ctx, progress, entries, tasks.UnitCheckOpts{
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlainln("")
	r.writePlainHeader("Update Check Complete")
	r.writePlain("Checked: %d  With new units: %d  Failed: %d\n\n", report.Checked, report.WithNew, report.Failed)

	for _, res := range report.Results {
		switch {
		case res.Error != nil:
			r.writePlain("%s %s: %v\n", ui.Styles.Err("✗"), res.Entry.Title, res.Error)
		case len(res.NewUnits) > 0:
			r.writePlain("%s %s: %d new (latest %s)\n", ui.Styles.OK("●"), res.Entry.Title, len(res.NewUnits), formatNumber(res.Latest))
		}
	}

	if !cmd.Bool("download") {
		return nil
	}

	downloads := report.Tasks()
	if len(downloads) == 0 {
		return r.writePlain("\nNothing to download\n")
	}
	return r.runDownloads(ctx, downloads, r.config.Downloads.Dir)
}

func kindFlag(cmd *cli.Command) (models.MediaKind, error) {
	if !cmd.IsSet("kind") {
		return "", nil
	}
	kind, err := models.ParseMediaKind(cmd.String("kind"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	return kind, nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
